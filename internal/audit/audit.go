// Package audit records every generative-provider call as JSON lines.
//
// Events carry the translated and source text but never credentials:
// header values for authorization-like keys and the "key" query parameter
// are redacted before they reach the sink.
package audit

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// maxExcerpt bounds response bodies copied into HTTP error events.
const maxExcerpt = 2000

// Request describes an outgoing translation call.
type Request struct {
	Provider       string
	Model          string
	TargetLanguage string
	MaxLength      int
	Keywords       bool
	Seed           *int64
	Text           string
}

// Response describes a provider answer, successful or not.
type Response struct {
	Provider string
	Text     string
	Err      error
}

// HTTPFailure describes a non-2xx provider response.
type HTTPFailure struct {
	Provider  string
	Model     string
	Endpoint  string
	Status    int
	RequestID string
	Code      string
	Type      string
	Headers   http.Header
	Body      string
	Duration  time.Duration
}

// Sink receives audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Request(Request)
	Response(Response)
	HTTPError(HTTPFailure)
	Error(provider, message string, details map[string]any)
	LimitRetry(provider string, length, maxLength int)
	SeedRetry(provider string, err error)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Request(Request) {}
func (Nop) Response(Response) {}
func (Nop) HTTPError(HTTPFailure) {}
func (Nop) Error(string, string, map[string]any) {}
func (Nop) LimitRetry(string, int, int) {}
func (Nop) SeedRetry(string, error) {}

// Logger is a Sink backed by a zerolog logger.
type Logger struct {
	log    zerolog.Logger
	closer io.Closer
	path   string
}

// New writes events to w. Concurrent writes are serialized.
func New(w io.Writer) *Logger {
	return &Logger{
		log: zerolog.New(zerolog.SyncWriter(w)).With().Timestamp().Logger(),
	}
}

// NewFile creates dir if needed and opens ai_requests_<timestamp>.log in it.
func NewFile(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("ai_requests_%s.log", time.Now().Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l := New(f)
	l.closer = f
	l.path = path
	l.log.Info().Str("event", "start").Msg("ai request log")
	return l, nil
}

// Path returns the log file path, empty for writer-backed loggers.
func (l *Logger) Path() string { return l.path }

func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) Request(r Request) {
	ev := l.log.Info().
		Str("event", "request").
		Str("provider", r.Provider).
		Str("model", r.Model).
		Str("target_language", r.TargetLanguage).
		Bool("keywords", r.Keywords).
		Int("chars", utf8.RuneCountInString(r.Text)).
		Str("text", r.Text)
	if r.MaxLength > 0 {
		ev = ev.Int("max_length", r.MaxLength)
	}
	if r.Seed != nil {
		ev = ev.Int64("seed", *r.Seed)
	}
	ev.Send()
}

func (l *Logger) Response(r Response) {
	if r.Err != nil {
		l.log.Warn().Str("event", "response").Str("provider", r.Provider).
			Bool("success", false).Err(r.Err).Send()
		return
	}
	l.log.Info().Str("event", "response").Str("provider", r.Provider).
		Bool("success", true).
		Int("chars", utf8.RuneCountInString(r.Text)).
		Str("text", r.Text).Send()
}

func (l *Logger) HTTPError(f HTTPFailure) {
	body := strings.TrimSpace(f.Body)
	if len(body) > maxExcerpt {
		cut := maxExcerpt
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "[...truncated...]"
	}
	l.log.Error().
		Str("event", "http_error").
		Str("provider", f.Provider).
		Str("model", f.Model).
		Str("endpoint", RedactURL(f.Endpoint)).
		Int("status", f.Status).
		Str("request_id", f.RequestID).
		Str("error_code", f.Code).
		Str("error_type", f.Type).
		Dur("duration", f.Duration).
		Interface("headers", RedactHeaders(f.Headers)).
		Str("response", body).
		Send()
}

func (l *Logger) Error(provider, message string, details map[string]any) {
	l.log.Error().Str("event", "error").Str("provider", provider).
		Fields(details).Msg(message)
}

func (l *Logger) LimitRetry(provider string, length, maxLength int) {
	l.log.Info().Str("event", "limit_retry").Str("provider", provider).
		Int("length", length).Int("max_length", maxLength).Send()
}

func (l *Logger) SeedRetry(provider string, err error) {
	l.log.Info().Str("event", "seed_retry").Str("provider", provider).Err(err).Send()
}

var sensitiveHeaders = []string{"authorization", "api-key", "x-api-key", "cookie", "x-goog-api-key"}

// RedactHeaders flattens h and masks credential-bearing values.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		lk := strings.ToLower(k)
		redact := false
		for _, s := range sensitiveHeaders {
			if strings.Contains(lk, s) {
				redact = true
				break
			}
		}
		if redact {
			out[k] = "<redacted>"
		} else {
			out[k] = strings.Join(v, ", ")
		}
	}
	return out
}

// RedactURL masks the "key" query parameter.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if !q.Has("key") {
		return raw
	}
	q.Set("key", "<redacted>")
	u.RawQuery = q.Encode()
	return u.String()
}
