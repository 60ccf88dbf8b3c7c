// Package chunker splits raw documents into token-bounded, context-preserving chunks.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/fingerprint"
	"github.com/hyperjump/kensaku/internal/models"
)

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// Chunker splits text into overlapping token windows using the exact tokenizer
// of the embedding model in use. Character-based approximations are not used:
// they silently violate the model's context window and degrade chunk quality.
type Chunker struct {
	enc          *tiktoken.Tiktoken
	chunkSize    int
	chunkOverlap int
	minTokens    int
	templates    []*regexp.Regexp
}

// New creates a chunker for the given embedding model. Template patterns are
// compiled case-insensitively; an invalid pattern is a configuration error.
func New(cfg config.ChunkingConfig, embeddingModel string) (*Chunker, error) {
	enc, err := tiktoken.EncodingForModel(embeddingModel)
	if err != nil {
		// Unknown model name: fall back to the encoding used by current
		// OpenAI embedding models.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
	}
	templates, err := CompileTemplatePatterns(cfg.TemplatePatterns)
	if err != nil {
		return nil, err
	}
	return &Chunker{
		enc:          enc,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		minTokens:    cfg.MinChunkTokens,
		templates:    templates,
	}, nil
}

// Derive returns a chunker sharing this chunker's tokenizer with the given
// overrides applied. Zero chunkSize or chunkOverlap keep the current values;
// a nil templatePatterns keeps the current patterns, while a non-nil slice
// (including an empty one) replaces them.
func (c *Chunker) Derive(chunkSize, chunkOverlap int, templatePatterns []string) (*Chunker, error) {
	d := *c
	if chunkSize > 0 {
		d.chunkSize = chunkSize
	}
	if chunkOverlap > 0 {
		d.chunkOverlap = chunkOverlap
	}
	if d.chunkOverlap >= d.chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", d.chunkOverlap, d.chunkSize)
	}
	if templatePatterns != nil {
		templates, err := CompileTemplatePatterns(templatePatterns)
		if err != nil {
			return nil, err
		}
		d.templates = templates
	}
	return &d, nil
}

// CompileTemplatePatterns compiles patterns for case-insensitive matching
// against section headers.
func CompileTemplatePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid template pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// CountTokens returns the token length of text under the embedding model's tokenizer.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// section is a heading-delimited span of the document. Content includes the
// heading line itself so that concatenating sections reconstructs the input.
type section struct {
	header  string
	content string
}

// Chunk splits documentText into ordered chunks. Empty input yields an empty
// sequence with no error; a document shorter than the chunk size yields a
// single chunk. Every character of the input appears in at least one chunk.
func (c *Chunker) Chunk(documentText, sourceID string) ([]*models.Chunk, error) {
	if strings.TrimSpace(documentText) == "" {
		return nil, nil
	}

	var candidates []*candidate
	for _, sec := range splitSections(documentText) {
		candidates = append(candidates, c.windowSection(sec)...)
	}
	candidates = c.mergeUndersized(candidates)

	chunks := make([]*models.Chunk, 0, len(candidates))
	for i, cand := range candidates {
		chunks = append(chunks, &models.Chunk{
			Content:       cand.text,
			ContentHash:   fingerprint.Hash(cand.text),
			SourceID:      sourceID,
			SectionHeader: cand.header,
			ChunkIndex:    i,
			TokenCount:    cand.tokens,
			IsTemplate:    c.isTemplate(cand.header),
		})
	}
	return chunks, nil
}

type candidate struct {
	text   string
	header string
	tokens int
}

// windowSection packs a section's tokens greedily into windows of chunkSize
// with chunkOverlap repeated at each boundary, so that concepts split across a
// boundary remain searchable from both chunks. An undersized trailing window
// is folded into the previous one by extending its range, which avoids
// duplicating the overlap region.
func (c *Chunker) windowSection(sec section) []*candidate {
	tokens := c.enc.Encode(sec.content, nil, nil)
	if len(tokens) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}

	type span struct{ start, end int }
	var spans []span
	for start := 0; start < len(tokens); start += step {
		end := start + c.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		spans = append(spans, span{start, end})
		if end >= len(tokens) {
			break
		}
	}
	if n := len(spans); n > 1 && spans[n-1].end-spans[n-1].start < c.minTokens {
		spans[n-2].end = spans[n-1].end
		spans = spans[:n-1]
	}

	out := make([]*candidate, 0, len(spans))
	for _, sp := range spans {
		window := tokens[sp.start:sp.end]
		out = append(out, &candidate{
			text:   c.enc.Decode(window),
			header: sec.header,
			tokens: len(window),
		})
	}
	return out
}

// mergeUndersized merges any chunk below the minimum token threshold into the
// next chunk in sequence; the final chunk, having no successor, merges into
// the previous one instead. A document that is itself a single undersized
// chunk is kept as-is. Merges across sections concatenate raw text (no overlap
// exists between sections), and the surviving chunk keeps its own header
// unless it has none.
func (c *Chunker) mergeUndersized(cands []*candidate) []*candidate {
	out := make([]*candidate, 0, len(cands))
	for i := 0; i < len(cands); i++ {
		cur := cands[i]
		if cur.tokens >= c.minTokens {
			out = append(out, cur)
			continue
		}
		if i+1 < len(cands) {
			next := cands[i+1]
			next.text = cur.text + next.text
			if next.header == "" {
				next.header = cur.header
			}
			next.tokens = c.CountTokens(next.text)
			continue
		}
		if len(out) > 0 {
			prev := out[len(out)-1]
			prev.text += cur.text
			prev.tokens = c.CountTokens(prev.text)
			continue
		}
		out = append(out, cur)
	}
	return out
}

// isTemplate evaluates the trimmed section header against the template
// patterns. Header-less chunks are never templates.
func (c *Chunker) isTemplate(header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	for _, re := range c.templates {
		if re.MatchString(header) {
			return true
		}
	}
	return false
}

// splitSections splits text on markdown ATX headings, retaining each heading
// as the section header. Text before the first heading forms a header-less
// section. Heading lines stay inside their section's content so the document
// round-trips through chunking without gaps.
func splitSections(text string) []section {
	lines := strings.SplitAfter(text, "\n")
	var sections []section
	var buf strings.Builder
	header := ""
	flush := func() {
		if buf.Len() > 0 {
			sections = append(sections, section{header: header, content: buf.String()})
			buf.Reset()
		}
	}
	for _, line := range lines {
		if m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\n")); m != nil {
			flush()
			header = strings.TrimSpace(m[2])
		}
		buf.WriteString(line)
	}
	flush()
	return sections
}
