package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig marks a retrieval config that failed range validation.
var ErrInvalidConfig = errors.New("invalid retrieval config")

// Retrieval defaults. Zero values in a RetrievalConfig are replaced with these
// before validation so that callers can supply only the knobs they care about.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultMaxResults          = 5
	DefaultMMRLambda           = 0.5
)

var validate = validator.New()

// RetrievalConfig holds per-query retrieval tunables. It is a validated input
// object, not persisted state.
type RetrievalConfig struct {
	SimilarityThreshold float64  `json:"similarity_threshold" validate:"gte=0,lte=1"`
	MaxResults          int      `json:"max_results" validate:"gte=1,lte=20"`
	UseMMR              *bool    `json:"use_mmr,omitempty"`
	MMRLambda           float64  `json:"mmr_lambda" validate:"gte=0,lte=1"`
	ExcludeTemplates *bool `json:"exclude_templates,omitempty"`
	// TemplatePatterns are regexes matched case-insensitively against each
	// candidate's section header at query time, extending the ingestion-time
	// is_template flag. Only consulted while ExcludeTemplates is in effect.
	TemplatePatterns []string `json:"template_patterns,omitempty"`
}

// DefaultRetrievalConfig returns a config with all defaults applied.
func DefaultRetrievalConfig() *RetrievalConfig {
	cfg := &RetrievalConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with retrieval defaults. UseMMR and
// ExcludeTemplates are tri-state (nil = default true) so that an explicit
// false survives JSON decoding.
func (c *RetrievalConfig) ApplyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MMRLambda == 0 {
		c.MMRLambda = DefaultMMRLambda
	}
	if c.UseMMR == nil {
		t := true
		c.UseMMR = &t
	}
	if c.ExcludeTemplates == nil {
		t := true
		c.ExcludeTemplates = &t
	}
}

// Validate applies defaults and checks ranges. Malformed configs are rejected
// before any external call is made.
func (c *RetrievalConfig) Validate() error {
	c.ApplyDefaults()
	if err := validate.Struct(c); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		return fmt.Errorf("%w: field %s failed on %q", ErrInvalidConfig, errs[0].Field(), errs[0].Tag())
	}
	return nil
}

// MMREnabled reports whether MMR diversification is on (default true).
func (c *RetrievalConfig) MMREnabled() bool {
	return c.UseMMR == nil || *c.UseMMR
}

// TemplatesExcluded reports whether template chunks are filtered out (default true).
func (c *RetrievalConfig) TemplatesExcluded() bool {
	return c.ExcludeTemplates == nil || *c.ExcludeTemplates
}
