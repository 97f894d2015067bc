package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/valpere/storetran/internal/apierr"
	"github.com/valpere/storetran/internal/audit"
	"github.com/valpere/storetran/internal/postprocess"
)

// completeFunc performs one HTTP round trip: instruction + source text in,
// raw model text out. A nil seed means the field is omitted.
type completeFunc func(ctx context.Context, prompt, text string, seed *int64) (string, error)

// errorEnvelope extracts code, type and message from an error body.
type errorEnvelope func(body []byte) (code, typ, message string)

// engine holds what every backend shares: identity, HTTP client, audit sink
// and the seed and character-budget retry policy.
type engine struct {
	name   string
	model  string
	client *http.Client
	sink   audit.Sink
}

func newEngine(name, model string, timeout time.Duration, sink audit.Sink) engine {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return engine{
		name:   name,
		model:  model,
		client: &http.Client{Timeout: timeout},
		sink:   sink,
	}
}

func (e *engine) Name() string  { return e.name }
func (e *engine) Model() string { return e.model }

type attempt struct {
	prompt string
	seed   *int64
}

func (e *engine) run(ctx context.Context, complete completeFunc, req Request) (string, error) {
	e.sink.Request(audit.Request{
		Provider:       e.name,
		Model:          e.model,
		TargetLanguage: req.TargetLanguage,
		MaxLength:      req.MaxLength,
		Keywords:       req.Keywords,
		Seed:           req.Seed,
		Text:           req.Text,
	})

	// Once a seed is rejected it stays dropped for the stricter retry too.
	seedDropped := false
	call := func(a attempt) (string, error) {
		if seedDropped {
			a.seed = nil
		}
		raw, err := complete(ctx, a.prompt, req.Text, a.seed)
		if err != nil {
			return "", err
		}
		out := postprocess.Clean(raw)
		if req.Keywords {
			out = postprocess.Keywords(out)
		}
		return out, nil
	}
	seeded := func(a attempt) (string, error) {
		return RetryOnce(a, call,
			func(_ string, err error) bool {
				return a.seed != nil && !seedDropped && isSeedRejection(err)
			},
			func(a attempt, _ string, err error) attempt {
				e.sink.SeedRetry(e.name, err)
				seedDropped = true
				return a
			})
	}

	out, err := RetryOnce(attempt{prompt: BuildPrompt(req), seed: req.Seed}, seeded,
		func(out string, err error) bool {
			return err == nil && req.MaxLength > 0 && utf8.RuneCountInString(out) > req.MaxLength
		},
		func(a attempt, out string, _ error) attempt {
			e.sink.LimitRetry(e.name, utf8.RuneCountInString(out), req.MaxLength)
			a.prompt += StricterClause(req.MaxLength)
			return a
		})

	e.sink.Response(audit.Response{Provider: e.name, Text: out, Err: err})
	if err != nil {
		e.reportError(err, req)
		return "", err
	}
	return out, nil
}

// reportError records failures that produced no http_error event.
func (e *engine) reportError(err error, req Request) {
	var httpErr *apierr.HTTPError
	if errors.As(err, &httpErr) {
		return
	}
	kind := "unknown"
	var (
		transportErr *apierr.TransportError
		formatErr    *apierr.FormatError
		limitErr     *apierr.TokenLimitError
		authErr      *apierr.AuthError
	)
	switch {
	case errors.As(err, &transportErr):
		kind = "transport"
	case errors.As(err, &formatErr):
		kind = "format"
	case errors.As(err, &limitErr):
		kind = "token_limit"
	case errors.As(err, &authErr):
		kind = "auth"
	}
	e.sink.Error(e.name, err.Error(), map[string]any{
		"model":           e.model,
		"target_language": req.TargetLanguage,
		"kind":            kind,
	})
}

// postJSON sends payload to endpoint and decodes a 2xx body into out.
// Non-2xx responses become classified *apierr.HTTPError values.
func (e *engine) postJSON(ctx context.Context, endpoint string, headers map[string]string, payload, out any, envelope errorEnvelope) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", e.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &apierr.TransportError{Service: e.name, Op: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return &apierr.TransportError{Service: e.name, Op: "send request", Err: scrubURL(err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apierr.TransportError{Service: e.name, Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, typ, msg := envelope(respBody)
		if msg == "" {
			msg = string(bytes.TrimSpace(respBody))
		}
		httpErr := &apierr.HTTPError{
			Service:   e.name,
			Status:    resp.StatusCode,
			Code:      code,
			Type:      typ,
			Message:   msg,
			RequestID: requestID(resp.Header),
		}
		e.sink.HTTPError(audit.HTTPFailure{
			Provider:  e.name,
			Model:     e.model,
			Endpoint:  endpoint,
			Status:    resp.StatusCode,
			RequestID: httpErr.RequestID,
			Code:      code,
			Type:      typ,
			Headers:   resp.Header,
			Body:      msg,
			Duration:  time.Since(start),
		})
		return apierr.ClassifyStatus(httpErr)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &apierr.FormatError{Service: e.name, Detail: "decode response", Err: err}
	}
	return nil
}

func requestID(h http.Header) string {
	for _, k := range []string{"x-request-id", "request-id"} {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// openAIStyleEnvelope parses {"error": {"type", "code", "message"}}; Anthropic
// uses the same shape without "code".
func openAIStyleEnvelope(body []byte) (string, string, string) {
	var env struct {
		Error struct {
			Type    string          `json:"type"`
			Code    json.RawMessage `json:"code"`
			Message string          `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil {
		return "", "", ""
	}
	return rawString(env.Error.Code), env.Error.Type, env.Error.Message
}

// rawString renders a JSON string or number without quotes; null becomes "".
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// scrubURL masks credentials in the URL carried by a *url.Error so the
// message can be logged and stored.
func scrubURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = audit.RedactURL(ue.URL)
	}
	return err
}
