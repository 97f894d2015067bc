package internal

import "time"

// TranslationRequest is one field of one locale as handed to a provider.
type TranslationRequest struct {
	ID         string    `json:"id"`
	Field      string    `json:"field"`
	SourceText string    `json:"source_text"`
	Locale     string    `json:"locale"`
	MaxLength  int       `json:"max_length,omitempty"`
	Keywords   bool      `json:"keywords,omitempty"`
	Seed       *int64    `json:"seed,omitempty"`
	Refinement string    `json:"refinement,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TranslationResult is the outcome of one locale's pipeline: the values that
// were published, or the error that stopped it.
type TranslationResult struct {
	Locale  string            `json:"locale"`
	Fields  map[string]string `json:"fields,omitempty"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
}
