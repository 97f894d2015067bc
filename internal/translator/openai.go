package translator

import (
	"context"
	"fmt"
	"strings"

	"github.com/valpere/storetran/internal/apierr"
	"github.com/valpere/storetran/internal/audit"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIProvider talks to Chat Completions with bearer auth.
type OpenAIProvider struct {
	engine
	apiKey  string
	baseURL string
}

func NewOpenAIProvider(cfg Config, sink audit.Sink) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		engine:  newEngine("openai", cfg.Model, cfg.Timeout, sink),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (p *OpenAIProvider) Translate(ctx context.Context, req Request) (string, error) {
	return p.run(ctx, p.complete, req)
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// reasoningModel reports models that take max_completion_tokens and only
// accept the default temperature.
func reasoningModel(model string) bool {
	return strings.HasPrefix(model, "gpt-5")
}

func (p *OpenAIProvider) complete(ctx context.Context, prompt, text string, seed *int64) (string, error) {
	if p.apiKey == "" {
		return "", &apierr.AuthError{Service: p.name, Err: errMissingKey}
	}

	payload := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": prompt},
			{"role": "user", "content": text},
		},
	}
	if reasoningModel(p.model) {
		payload["max_completion_tokens"] = 1000
		payload["temperature"] = 1.0
	} else {
		payload["max_tokens"] = 1000
		payload["temperature"] = 0.7
	}
	if seed != nil {
		payload["seed"] = *seed
	}

	var resp openAIResponse
	err := p.postJSON(ctx, p.baseURL+"/v1/chat/completions", map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", p.apiKey),
	}, payload, &resp, openAIStyleEnvelope)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", &apierr.FormatError{Service: p.name, Detail: "empty choices"}
	}
	if resp.Choices[0].FinishReason == "length" {
		return "", &apierr.TokenLimitError{Service: p.name, Reason: "length"}
	}
	return resp.Choices[0].Message.Content, nil
}
