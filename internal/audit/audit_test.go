package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_RequestResponse(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	seed := int64(42)

	l.Request(Request{Provider: "openai", Model: "gpt-4o", TargetLanguage: "German", MaxLength: 30, Seed: &seed, Text: "Photo Editor"})
	l.Response(Response{Provider: "openai", Text: "Fotoeditor"})
	l.Response(Response{Provider: "openai", Err: errors.New("boom")})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "request", lines[0]["event"])
	assert.EqualValues(t, 42, lines[0]["seed"])
	assert.EqualValues(t, 30, lines[0]["max_length"])
	assert.EqualValues(t, 12, lines[0]["chars"])
	assert.Equal(t, true, lines[1]["success"])
	assert.Equal(t, "Fotoeditor", lines[1]["text"])
	assert.Equal(t, false, lines[2]["success"])
	assert.Equal(t, "boom", lines[2]["error"])
}

func TestLogger_HTTPErrorRedacts(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	h := http.Header{}
	h.Set("X-Api-Key", "sk-secret")
	h.Set("Authorization", "Bearer sk-secret")
	h.Set("Content-Type", "application/json")

	l.HTTPError(HTTPFailure{
		Provider: "gemini",
		Endpoint: "https://example.test/v1/models/m:generateContent?key=sk-secret",
		Status:   400,
		Headers:  h,
		Body:     strings.Repeat("x", 3000),
	})

	raw := buf.String()
	assert.NotContains(t, raw, "sk-secret")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0]["response"], "[...truncated...]")
	headers := lines[0]["headers"].(map[string]any)
	assert.Equal(t, "application/json", headers["Content-Type"])
}

func TestLogger_HTTPErrorExcerptKeepsRunes(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.HTTPError(HTTPFailure{Provider: "anthropic", Status: 500, Body: strings.Repeat("日", 1000)})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	resp := lines[0]["response"].(string)
	assert.True(t, utf8.ValidString(resp))
	assert.NotContains(t, resp, "\ufffd")
	assert.Equal(t, strings.Repeat("日", 666)+"[...truncated...]", resp)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://a.test/x?key=%3Credacted%3E", RedactURL("https://a.test/x?key=abc"))
	assert.Equal(t, "https://a.test/x?cursor=1", RedactURL("https://a.test/x?cursor=1"))
}

func TestLogger_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.LimitRetry("anthropic", 45, 30)
		}()
	}
	wg.Wait()
	assert.Len(t, decodeLines(t, &buf), 20)
}

func TestNewFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFile(dir + "/logs")
	require.NoError(t, err)
	l.SeedRetry("openai", errors.New("seed not supported"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, l.Path(), "ai_requests_")
	assert.Contains(t, string(data), "seed_retry")
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	s.Request(Request{})
	s.Error("x", "y", nil)
}
