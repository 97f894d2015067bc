package translator

import (
	"context"
	"time"
)

// Config configures one provider backend.
type Config struct {
	APIKey  string        `mapstructure:"api_key" json:"api_key"`
	Model   string        `mapstructure:"model" json:"model"`
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// Request is one translation of one field into one language.
type Request struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
	// MaxLength is a character budget; zero means unlimited.
	MaxLength  int    `json:"max_length,omitempty"`
	Keywords   bool   `json:"keywords,omitempty"`
	Seed       *int64 `json:"seed,omitempty"`
	Refinement string `json:"refinement,omitempty"`
}

// Provider turns source text into translated text.
//
// Translate returns the cleaned model output. When MaxLength is set and the
// first answer is too long, one stricter request is made and its answer is
// returned as-is, even if still over budget: final truncation is the
// caller's job.
type Provider interface {
	Name() string
	Model() string
	Translate(ctx context.Context, req Request) (string, error)
}

const defaultTimeout = 120 * time.Second
