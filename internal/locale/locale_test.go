package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseList(t *testing.T) {
	got, err := ParseList("de-DE, fr-FR,,de-DE")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "de-DE", got[0].Code)
	assert.Equal(t, "French", got[1].Name)

	_, err = ParseList("xx-YY")
	assert.Error(t, err)
}

func TestDetectBase(t *testing.T) {
	code, ok := DetectBase([]string{"de-DE", "en-GB", "fr-FR"})
	require.True(t, ok)
	assert.Equal(t, "en-GB", code)

	code, ok = DetectBase([]string{"ja", "ko"})
	require.True(t, ok)
	assert.Equal(t, "ja", code)

	_, ok = DetectBase(nil)
	assert.False(t, ok)
}

func TestMissing(t *testing.T) {
	missing := Missing([]string{"en-US", "de-DE"}, "en-US")
	for _, l := range missing {
		assert.NotEqual(t, "en-US", l.Code)
		assert.NotEqual(t, "de-DE", l.Code)
	}
	assert.Len(t, missing, len(Supported())-2)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		candidates []string
		want       string
		wantOK     bool
	}{
		{"exact", "fi", []string{"fi", "sv"}, "fi", true},
		{"unique root", "fi", []string{"fi-FI", "sv"}, "fi-FI", true},
		{"ambiguous root", "en-US", []string{"en-GB", "en-AU"}, "", false},
		{"no match", "ja", []string{"ko"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(tt.code, tt.candidates)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoot(t *testing.T) {
	assert.Equal(t, "zh", Root("zh-Hans"))
	assert.Equal(t, "pt", Root("pt-BR"))
	assert.Equal(t, "fi", Root("fi-FI"))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "German", Resolve("de-DE").Name)
	assert.Equal(t, "x-custom", Resolve("x-custom").Name)
}
