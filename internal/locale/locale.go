// Package locale holds the App Store locale table and helpers for matching
// locale codes returned by App Store Connect.
package locale

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Locale is an App Store locale code and its display name.
type Locale struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (l Locale) String() string {
	return fmt.Sprintf("%s (%s)", l.Name, l.Code)
}

var supported = map[string]string{
	"ar":      "Arabic",
	"ca":      "Catalan",
	"zh-Hans": "Chinese (Simplified)",
	"zh-Hant": "Chinese (Traditional)",
	"hr":      "Croatian",
	"cs":      "Czech",
	"da":      "Danish",
	"nl-NL":   "Dutch",
	"en-AU":   "English (Australia)",
	"en-CA":   "English (Canada)",
	"en-GB":   "English (U.K.)",
	"en-US":   "English (U.S.)",
	"fi":      "Finnish",
	"fr-FR":   "French",
	"fr-CA":   "French (Canada)",
	"de-DE":   "German",
	"el":      "Greek",
	"he":      "Hebrew",
	"hi":      "Hindi",
	"hu":      "Hungarian",
	"id":      "Indonesian",
	"it":      "Italian",
	"ja":      "Japanese",
	"ko":      "Korean",
	"ms":      "Malay",
	"no":      "Norwegian",
	"pl":      "Polish",
	"pt-BR":   "Portuguese (Brazil)",
	"pt-PT":   "Portuguese (Portugal)",
	"ro":      "Romanian",
	"ru":      "Russian",
	"sk":      "Slovak",
	"es-MX":   "Spanish (Mexico)",
	"es-ES":   "Spanish (Spain)",
	"sv":      "Swedish",
	"th":      "Thai",
	"tr":      "Turkish",
	"uk":      "Ukrainian",
	"vi":      "Vietnamese",
}

// preferredBase lists the locales tried, in order, as the translation source.
var preferredBase = []string{"en-US", "en-GB", "en-CA", "en-AU"}

// Supported returns every supported locale sorted by code.
func Supported() []Locale {
	out := make([]Locale, 0, len(supported))
	for code, name := range supported {
		out = append(out, Locale{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Lookup returns the supported locale for code.
func Lookup(code string) (Locale, bool) {
	name, ok := supported[code]
	if !ok {
		return Locale{}, false
	}
	return Locale{Code: code, Name: name}, true
}

// Resolve returns the table entry for code, or a locale named after the code
// itself when App Store Connect reports one the table does not know.
func Resolve(code string) Locale {
	if l, ok := Lookup(code); ok {
		return l
	}
	return Locale{Code: code, Name: code}
}

// ParseList parses a comma-separated list of locale codes. Unknown codes are
// an error; duplicates are dropped.
func ParseList(raw string) ([]Locale, error) {
	var out []Locale
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		code := strings.TrimSpace(part)
		if code == "" {
			continue
		}
		l, ok := Lookup(code)
		if !ok {
			return nil, fmt.Errorf("unsupported locale %q", code)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, l)
	}
	return out, nil
}

// Missing returns the supported locales absent from existing, excluding base.
func Missing(existing []string, base string) []Locale {
	have := make(map[string]struct{}, len(existing))
	for _, code := range existing {
		have[code] = struct{}{}
	}
	var out []Locale
	for _, l := range Supported() {
		if l.Code == base {
			continue
		}
		if _, ok := have[l.Code]; ok {
			continue
		}
		out = append(out, l)
	}
	return out
}

// DetectBase picks the source locale among the existing ones: English
// variants first, then the first locale listed.
func DetectBase(existing []string) (string, bool) {
	for _, pref := range preferredBase {
		for _, code := range existing {
			if code == pref {
				return code, true
			}
		}
	}
	for _, code := range existing {
		if code != "" {
			return code, true
		}
	}
	return "", false
}

// Root returns the lower-case language subtag of code ("fi-FI" -> "fi").
func Root(code string) string {
	if tag, err := language.Parse(code); err == nil {
		base, _ := tag.Base()
		return base.String()
	}
	root, _, _ := strings.Cut(code, "-")
	return strings.ToLower(root)
}

// Match finds code among candidates: an exact match wins, otherwise a single
// candidate sharing the language root. Ambiguous roots (en-US vs en-GB) do
// not match.
func Match(code string, candidates []string) (string, bool) {
	for _, c := range candidates {
		if c == code {
			return c, true
		}
	}
	root := Root(code)
	var found []string
	for _, c := range candidates {
		if c != "" && Root(c) == root {
			found = append(found, c)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return "", false
}
