package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/valpere/storetran/internal/apierr"
	"github.com/valpere/storetran/internal/audit"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-1.5-flash"
)

// GeminiProvider talks to generateContent. The key travels in the
// x-goog-api-key header and the instruction is prepended to the user text.
type GeminiProvider struct {
	engine
	apiKey  string
	baseURL string
}

func NewGeminiProvider(cfg Config, sink audit.Sink) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	return &GeminiProvider{
		engine:  newEngine("gemini", cfg.Model, cfg.Timeout, sink),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (p *GeminiProvider) Translate(ctx context.Context, req Request) (string, error) {
	return p.run(ctx, p.complete, req)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Seed            *int64  `json:"seed,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func (p *GeminiProvider) complete(ctx context.Context, prompt, text string, seed *int64) (string, error) {
	if p.apiKey == "" {
		return "", &apierr.AuthError{Service: p.name, Err: errMissingKey}
	}

	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt + "\n\nText to translate: " + text}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0.7,
			MaxOutputTokens: 8000,
			Seed:            seed,
		},
	}

	endpoint := fmt.Sprintf("%s/v1/models/%s:generateContent", p.baseURL, url.PathEscape(p.model))
	headers := map[string]string{"x-goog-api-key": p.apiKey}

	var resp geminiResponse
	if err := p.postJSON(ctx, endpoint, headers, payload, &resp, geminiEnvelope); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", &apierr.FormatError{Service: p.name, Detail: "no candidates"}
	}
	c := resp.Candidates[0]
	if c.FinishReason == "MAX_TOKENS" {
		return "", &apierr.TokenLimitError{Service: p.name, Reason: c.FinishReason}
	}
	if len(c.Content.Parts) == 0 {
		return "", &apierr.FormatError{Service: p.name, Detail: "no content parts"}
	}
	return c.Content.Parts[0].Text, nil
}

// geminiEnvelope parses {"error": {"code": 400, "status": "...", "message": "..."}}.
func geminiEnvelope(body []byte) (string, string, string) {
	var env struct {
		Error struct {
			Code    json.RawMessage `json:"code"`
			Status  string          `json:"status"`
			Message string          `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil {
		return "", "", ""
	}
	return rawString(env.Error.Code), env.Error.Status, env.Error.Message
}
