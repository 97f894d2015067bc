// Package fields holds App Store character limits and the caller-side
// truncation applied before a value is published.
package fields

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Logical field names used as keys of the limit table.
const (
	Name                           = "name"
	Subtitle                       = "subtitle"
	Description                    = "description"
	Keywords                       = "keywords"
	PromotionalText                = "promotional_text"
	WhatsNew                       = "whats_new"
	IAPName                        = "iap_name"
	IAPDescription                 = "iap_description"
	SubscriptionName               = "subscription_name"
	SubscriptionDescription        = "subscription_description"
	SubscriptionGroupName          = "subscription_group_name"
	SubscriptionGroupCustomAppName = "subscription_group_custom_app_name"
)

// Limits maps a logical field name to its maximum length in characters.
type Limits map[string]int

// DefaultLimits returns the App Store limits.
func DefaultLimits() Limits {
	return Limits{
		Name:                           30,
		Subtitle:                       30,
		Description:                    4000,
		Keywords:                       100,
		PromotionalText:                170,
		WhatsNew:                       4000,
		IAPName:                        30,
		IAPDescription:                 45,
		SubscriptionName:               30,
		SubscriptionDescription:        45,
		SubscriptionGroupName:          30,
		SubscriptionGroupCustomAppName: 30,
	}
}

// Merge returns a copy of l with overrides applied. Non-positive overrides are ignored.
func (l Limits) Merge(overrides map[string]int) Limits {
	out := make(Limits, len(l)+len(overrides))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// Get returns the limit for field, or 0 when the field is unlimited.
func (l Limits) Get(field string) int {
	return l[field]
}

// Len counts characters the way App Store Connect does (code points).
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// Fit returns value shortened to at most max characters. Keyword lists keep
// whole keywords; other text is cut at a word boundary when one is close.
// A max of zero leaves the value untouched.
func Fit(value string, max int, keywords bool) string {
	if keywords {
		return TruncateKeywords(value, max)
	}
	return Truncate(value, max)
}

// TruncateKeywords formats a comma-separated list without spaces and drops
// trailing keywords until the list fits.
func TruncateKeywords(keywords string, max int) string {
	keywords = strings.TrimRight(strings.TrimSpace(keywords), ".")
	if keywords == "" {
		return keywords
	}

	var kept []string
	length := 0
	for _, kw := range strings.Split(keywords, ",") {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		next := length + Len(kw)
		if len(kept) > 0 {
			next++
		}
		if max > 0 && next > max {
			break
		}
		kept = append(kept, kw)
		length = next
	}
	return strings.Join(kept, ",")
}

// Truncate shortens text to max characters, preferring to cut at the last
// space in the second half of the budget.
func Truncate(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || Len(text) <= max {
		return text
	}

	runes := []rune(text)[:max]
	cut := len(runes)
	for i := len(runes) - 1; i >= max/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '-'
	})
}
