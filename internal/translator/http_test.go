package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/valpere/storetran/internal/apierr"
	"github.com/valpere/storetran/internal/audit"
)

func int64p(v int64) *int64 { return &v }

// recorder captures decoded request bodies in arrival order.
type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	hdrs   []http.Header
	urls   []string
}

func (r *recorder) record(req *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(req.Body).Decode(&body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
	r.hdrs = append(r.hdrs, req.Header.Clone())
	r.urls = append(r.urls, req.URL.String())
	return body
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func anthropicReply(w http.ResponseWriter, text string) {
	json.NewEncoder(w).Encode(map[string]any{
		"content":     []map[string]string{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
	})
}

func TestAnthropicProvider_WithinLimit_SingleRequest(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		rec.record(r)
		anthropicReply(w, "Fotoeditor")
	}))
	defer server.Close()

	p := NewAnthropicProvider(Config{APIKey: "sk-ant", BaseURL: server.URL, Model: "claude-test"}, nil)
	got, err := p.Translate(context.Background(), Request{
		Text: "Photo Editor", TargetLanguage: "German", MaxLength: 30, Seed: int64p(42),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Fotoeditor" {
		t.Errorf("expected 'Fotoeditor', got %q", got)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 request, got %d", rec.count())
	}
	if h := rec.hdrs[0]; h.Get("x-api-key") != "sk-ant" || h.Get("anthropic-version") != anthropicVersion {
		t.Errorf("unexpected headers: %v", h)
	}
	body := rec.bodies[0]
	if body["model"] != "claude-test" {
		t.Errorf("expected model 'claude-test', got %v", body["model"])
	}
	if !strings.Contains(body["system"].(string), "30 characters or fewer") {
		t.Errorf("system prompt missing limit: %v", body["system"])
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta["seed"] != "42" {
		t.Errorf("expected metadata.seed '42', got %v", meta["seed"])
	}
}

func TestAnthropicProvider_OverLimit_StricterRetry(t *testing.T) {
	first := strings.Repeat("x", 45)
	second := strings.Repeat("y", 28)
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		if rec.count() == 1 {
			anthropicReply(w, first)
			return
		}
		anthropicReply(w, second)
	}))
	defer server.Close()

	p := NewAnthropicProvider(Config{APIKey: "k", BaseURL: server.URL}, nil)
	got, err := p.Translate(context.Background(), Request{Text: "src", TargetLanguage: "French", MaxLength: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != second {
		t.Errorf("expected second response unmodified, got %q", got)
	}
	if rec.count() != 2 {
		t.Fatalf("expected 2 requests, got %d", rec.count())
	}
	if !strings.Contains(rec.bodies[1]["system"].(string), StricterClause(30)) {
		t.Error("retry prompt missing stricter clause")
	}
	if strings.Contains(rec.bodies[0]["system"].(string), "Prioritize brevity") {
		t.Error("first prompt must not carry the stricter clause")
	}
}

func TestAnthropicProvider_StillOverLimit_NoThirdRequest(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		anthropicReply(w, strings.Repeat("z", 40))
	}))
	defer server.Close()

	p := NewAnthropicProvider(Config{APIKey: "k", BaseURL: server.URL}, nil)
	got, err := p.Translate(context.Background(), Request{Text: "src", TargetLanguage: "French", MaxLength: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 40 {
		t.Errorf("expected over-budget text returned as-is, got %d chars", len(got))
	}
	if rec.count() != 2 {
		t.Errorf("expected exactly 2 requests, got %d", rec.count())
	}
}

func TestAnthropicProvider_TokenLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]string{{"type": "text", "text": "partial"}},
			"stop_reason": "max_tokens",
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider(Config{APIKey: "k", BaseURL: server.URL}, nil)
	_, err := p.Translate(context.Background(), Request{Text: "long", TargetLanguage: "German"})
	var tle *apierr.TokenLimitError
	if !errors.As(err, &tle) {
		t.Fatalf("expected TokenLimitError, got %v", err)
	}
}

func openAIReply(w http.ResponseWriter, text string) {
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": text}, "finish_reason": "stop"}},
	})
}

func TestOpenAIProvider_SeedRejected_RetriesWithoutSeed(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		if _, ok := body["seed"]; ok {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"unsupported_parameter","message":"Unsupported parameter: 'seed' is not supported with this model."}}`))
			return
		}
		openAIReply(w, "Bonjour")
	}))
	defer server.Close()

	var buf strings.Builder
	p := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: server.URL, Model: "o-test"}, audit.New(&buf))
	got, err := p.Translate(context.Background(), Request{Text: "Hello", TargetLanguage: "French", Seed: int64p(7)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Bonjour" {
		t.Errorf("expected 'Bonjour', got %q", got)
	}
	if rec.count() != 2 {
		t.Fatalf("expected 2 requests, got %d", rec.count())
	}
	if rec.bodies[0]["seed"] != float64(7) {
		t.Errorf("first request should carry seed 7, got %v", rec.bodies[0]["seed"])
	}
	if _, ok := rec.bodies[1]["seed"]; ok {
		t.Error("retry must omit seed")
	}
	if auth := rec.hdrs[0].Get("Authorization"); auth != "Bearer sk" {
		t.Errorf("unexpected Authorization %q", auth)
	}
	if !strings.Contains(buf.String(), "seed_retry") {
		t.Error("expected seed_retry audit event")
	}
	if strings.Contains(buf.String(), "Bearer sk") {
		t.Error("audit log leaked the bearer token")
	}
}

func TestOpenAIProvider_SeedRejectedTwice_NoThirdRequest(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"seed invalid"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: server.URL}, nil)
	_, err := p.Translate(context.Background(), Request{Text: "Hello", TargetLanguage: "French", Seed: int64p(7)})
	if status, ok := apierr.Status(err); !ok || status != http.StatusBadRequest {
		t.Fatalf("expected HTTP 400 error, got %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 requests, got %d", rec.count())
	}
}

func TestOpenAIProvider_NonSeedErrorNotRetried(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("x-request-id", "req_123")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"type":"server_error","message":"overloaded"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: server.URL}, nil)
	_, err := p.Translate(context.Background(), Request{Text: "Hello", TargetLanguage: "French", Seed: int64p(7)})
	var httpErr *apierr.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Message != "overloaded" || httpErr.RequestID != "req_123" || httpErr.Type != "server_error" {
		t.Errorf("unexpected error fields: %+v", httpErr)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 request, got %d", rec.count())
	}
}

func TestOpenAIProvider_ReasoningModelParams(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		openAIReply(w, "ok")
	}))
	defer server.Close()

	ctx := context.Background()
	NewOpenAIProvider(Config{APIKey: "sk", BaseURL: server.URL, Model: "gpt-5-mini"}, nil).
		Translate(ctx, Request{Text: "a", TargetLanguage: "German"})
	NewOpenAIProvider(Config{APIKey: "sk", BaseURL: server.URL, Model: "gpt-4o"}, nil).
		Translate(ctx, Request{Text: "a", TargetLanguage: "German"})

	if _, ok := rec.bodies[0]["max_completion_tokens"]; !ok || rec.bodies[0]["temperature"] != 1.0 {
		t.Errorf("gpt-5 request: %v", rec.bodies[0])
	}
	if _, ok := rec.bodies[1]["max_tokens"]; !ok || rec.bodies[1]["temperature"] != 0.7 {
		t.Errorf("gpt-4o request: %v", rec.bodies[1])
	}
	if _, ok := rec.bodies[1]["seed"]; ok {
		t.Error("seed must be omitted when not provided")
	}
}

func TestOpenAIProvider_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIKey: "bad", BaseURL: server.URL}, nil)
	_, err := p.Translate(context.Background(), Request{Text: "a", TargetLanguage: "German"})
	var authErr *apierr.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func geminiReply(w http.ResponseWriter, text, finish string) {
	json.NewEncoder(w).Encode(map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"parts": []map[string]string{{"text": text}}},
			"finishReason": finish,
		}},
	})
}

func TestGeminiProvider_SeedAcrossLocales(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		geminiReply(w, "ok", "STOP")
	}))
	defer server.Close()

	p := NewGeminiProvider(Config{APIKey: "g-key", BaseURL: server.URL, Model: "gemini-test"}, nil)
	for _, lang := range []string{"German", "French", "Japanese"} {
		if _, err := p.Translate(context.Background(), Request{Text: "Hello", TargetLanguage: lang, Seed: int64p(99)}); err != nil {
			t.Fatalf("%s: unexpected error: %v", lang, err)
		}
	}
	for i, body := range rec.bodies {
		gc := body["generationConfig"].(map[string]any)
		if gc["seed"] != float64(99) {
			t.Errorf("request %d: expected seed 99, got %v", i, gc["seed"])
		}
	}
	if !strings.HasSuffix(rec.urls[0], "/v1/models/gemini-test:generateContent") {
		t.Errorf("unexpected URL %s", rec.urls[0])
	}
	if got := rec.hdrs[0].Get("x-goog-api-key"); got != "g-key" {
		t.Errorf("expected key header, got %q", got)
	}
	contents := rec.bodies[0]["contents"].([]any)
	part := contents[0].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.HasSuffix(part, "Text to translate: Hello") {
		t.Errorf("unexpected prompt text %q", part)
	}
}

func TestGeminiProvider_NoSeed(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		geminiReply(w, "ok", "STOP")
	}))
	defer server.Close()

	p := NewGeminiProvider(Config{APIKey: "g", BaseURL: server.URL}, nil)
	if _, err := p.Translate(context.Background(), Request{Text: "a", TargetLanguage: "German"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gc := rec.bodies[0]["generationConfig"].(map[string]any)
	if _, ok := gc["seed"]; ok {
		t.Error("seed must be omitted")
	}
}

func TestGeminiProvider_MaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{"finishReason": "MAX_TOKENS"}},
		})
	}))
	defer server.Close()

	p := NewGeminiProvider(Config{APIKey: "g", BaseURL: server.URL}, nil)
	_, err := p.Translate(context.Background(), Request{Text: "a", TargetLanguage: "German"})
	var tle *apierr.TokenLimitError
	if !errors.As(err, &tle) {
		t.Fatalf("expected TokenLimitError, got %v", err)
	}
}

func TestGeminiProvider_ErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"bad request"}}`))
	}))
	defer server.Close()

	p := NewGeminiProvider(Config{APIKey: "g", BaseURL: server.URL}, nil)
	_, err := p.Translate(context.Background(), Request{Text: "a", TargetLanguage: "German"})
	var httpErr *apierr.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Code != "400" || httpErr.Type != "INVALID_ARGUMENT" || httpErr.Message != "bad request" {
		t.Errorf("unexpected fields: %+v", httpErr)
	}
}

func TestProvider_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: url}, nil)
	_, err := p.Translate(context.Background(), Request{Text: "a", TargetLanguage: "German"})
	var te *apierr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestGeminiProvider_TransportErrorHidesKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var buf bytes.Buffer
	p := NewGeminiProvider(Config{APIKey: "SUPERSECRETKEY", BaseURL: url}, audit.New(&buf))
	_, err := p.Translate(context.Background(), Request{Text: "a", TargetLanguage: "German"})
	var te *apierr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if strings.Contains(err.Error(), "SUPERSECRETKEY") {
		t.Errorf("error leaks key: %v", err)
	}
	if strings.Contains(buf.String(), "SUPERSECRETKEY") {
		t.Errorf("audit log leaks key: %s", buf.String())
	}
}

func TestScrubURL(t *testing.T) {
	err := scrubURL(&neturl.Error{Op: "Post", URL: "http://127.0.0.1:1/v1/x?key=SECRET", Err: errors.New("connection refused")})
	if strings.Contains(err.Error(), "SECRET") {
		t.Errorf("expected key masked, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected cause kept, got %v", err)
	}
}

func TestProvider_FormatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: server.URL}, nil)
	_, err := p.Translate(context.Background(), Request{Text: "a", TargetLanguage: "German"})
	var fe *apierr.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestProvider_FailureAudited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	var buf strings.Builder
	p := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: server.URL, Model: "o-test"}, audit.New(&buf))
	if _, err := p.Translate(context.Background(), Request{Text: "a", TargetLanguage: "German"}); err == nil {
		t.Fatal("expected error")
	}
	log := buf.String()
	if !strings.Contains(log, `"event":"error"`) || !strings.Contains(log, `"kind":"format"`) {
		t.Errorf("expected format error event, got %s", log)
	}
}

func TestProvider_HTTPFailureNotDoubleAudited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad"}}`))
	}))
	defer server.Close()

	var buf strings.Builder
	p := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: server.URL}, audit.New(&buf))
	if _, err := p.Translate(context.Background(), Request{Text: "a", TargetLanguage: "German"}); err == nil {
		t.Fatal("expected error")
	}
	log := buf.String()
	if !strings.Contains(log, `"event":"http_error"`) || strings.Contains(log, `"event":"error"`) {
		t.Errorf("expected only an http_error event, got %s", log)
	}
}

func TestProvider_KeywordsNormalized(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		openAIReply(w, "foto, editor, filter")
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: server.URL}, nil)
	got, err := p.Translate(context.Background(), Request{Text: "photo,editor,filter", TargetLanguage: "German", Keywords: true, MaxLength: 18})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "foto,editor,filter" {
		t.Errorf("expected normalized keywords, got %q", got)
	}
	if calls.Load() != 1 {
		t.Errorf("normalized list fits; expected 1 request, got %d", calls.Load())
	}
}

func TestNew(t *testing.T) {
	if _, err := New("anthropic", Config{}, nil); err == nil {
		t.Error("expected error for missing key")
	} else {
		var authErr *apierr.AuthError
		if !errors.As(err, &authErr) {
			t.Errorf("expected AuthError, got %T", err)
		}
	}
	if _, err := New("deepl", Config{APIKey: "k"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
	p, err := New("Gemini", Config{APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "gemini" || p.Model() != defaultGeminiModel {
		t.Errorf("unexpected provider %s/%s", p.Name(), p.Model())
	}
}
