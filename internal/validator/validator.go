// Package validator checks that a translated field is in the language of its
// target App Store locale.
package validator

import (
	"fmt"
	"strings"

	"github.com/valpere/storetran/internal/detector"
	"github.com/valpere/storetran/internal/locale"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter texts produce unreliable results and are accepted without validation.
const minValidationLength = 20

// aliases folds detector codes onto the language root of a store locale.
var aliases = map[string]string{
	"nb": "no",
	"nn": "no",
}

// Validator checks that a translation result is written in the expected target language.
// The underlying language detector is expensive to build; reuse the instance.
type Validator struct {
	det *detector.Detector
}

// New creates a Validator backed by the lingua-go language detector.
func New() *Validator {
	return &Validator{det: detector.New()}
}

// IsValid returns true when translatedText appears to be written in the
// language of target, which may be a bare language ("uk") or an App Store
// locale ("pt-BR", "zh-Hans").
//
// Short texts (fewer than minValidationLength runes) and texts whose language
// cannot be determined pass without error. When the detected language differs
// the returned error names both codes.
func (v *Validator) IsValid(translatedText, target string) (bool, error) {
	if target == "" {
		return true, nil
	}

	text := strings.TrimSpace(translatedText)
	if text == "" {
		return false, fmt.Errorf("translation is empty")
	}

	// Detector is unreliable for very short texts; skip validation.
	if len([]rune(text)) < minValidationLength {
		return true, nil
	}

	detected, ok := v.det.DetectISO(text)
	if !ok {
		// Ambiguous language, cannot validate.
		return true, nil
	}

	want := normalize(locale.Root(target))
	got := normalize(detected)
	if got != want {
		return false, fmt.Errorf("expected %s but detected %s", want, got)
	}

	return true, nil
}

func normalize(code string) string {
	code = strings.ToLower(code)
	if alias, ok := aliases[code]; ok {
		return alias
	}
	return code
}
