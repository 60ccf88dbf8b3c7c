// Package cli provides CLI output utilities for Kensaku.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// OutputFormat is the format for retrieval result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a format string from a CLI flag.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteResults writes retrieval results to w in the given format.
func WriteResults(w io.Writer, response *models.RetrievalResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	default:
		writeResultsText(w, response)
		return nil
	}
}

func writeResultsText(w io.Writer, response *models.RetrievalResponse) {
	fmt.Fprintf(w, "\n%d result(s) for %q in %dms (model %s)\n\n",
		len(response.Results), response.Query, response.QueryTime, response.QueryEmbeddingModel)
	if len(response.Results) == 0 {
		fmt.Fprintln(w, "Nothing cleared the similarity floor. Try rephrasing the query or lowering --threshold.")
		return
	}
	for _, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Tokens: %d\n",
			result.Rank, result.SimilarityScore, result.Chunk.TokenCount)
		fmt.Fprintf(w, "Source: %s\n", result.Chunk.SourceID)
		if result.Chunk.SectionHeader != "" {
			fmt.Fprintf(w, "Section: %s\n", result.Chunk.SectionHeader)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(flatten(result.Chunk.Content), 240))
	}
}

// flatten collapses newlines and runs of whitespace for one-screen previews.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
