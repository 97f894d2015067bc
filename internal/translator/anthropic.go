package translator

import (
	"context"
	"strconv"
	"strings"

	"github.com/valpere/storetran/internal/apierr"
	"github.com/valpere/storetran/internal/audit"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-latest"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider talks to the Messages API. The instruction goes in the
// system field; the seed, when set, travels as metadata.seed.
type AnthropicProvider struct {
	engine
	apiKey  string
	baseURL string
}

func NewAnthropicProvider(cfg Config, sink audit.Sink) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		engine:  newEngine("anthropic", cfg.Model, cfg.Timeout, sink),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (p *AnthropicProvider) Translate(ctx context.Context, req Request) (string, error) {
	return p.run(ctx, p.complete, req)
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (p *AnthropicProvider) complete(ctx context.Context, prompt, text string, seed *int64) (string, error) {
	if p.apiKey == "" {
		return "", &apierr.AuthError{Service: p.name, Err: errMissingKey}
	}

	payload := anthropicRequest{
		Model:     p.model,
		System:    prompt,
		MaxTokens: 1000,
		Messages:  []anthropicMessage{{Role: "user", Content: text}},
	}
	if seed != nil {
		payload.Metadata = map[string]string{"seed": strconv.FormatInt(*seed, 10)}
	}

	var resp anthropicResponse
	err := p.postJSON(ctx, p.baseURL+"/v1/messages", map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}, payload, &resp, openAIStyleEnvelope)
	if err != nil {
		return "", err
	}

	if resp.StopReason == "max_tokens" {
		return "", &apierr.TokenLimitError{Service: p.name, Reason: resp.StopReason}
	}
	if len(resp.Content) == 0 {
		return "", &apierr.FormatError{Service: p.name, Detail: "missing content"}
	}
	return resp.Content[0].Text, nil
}
