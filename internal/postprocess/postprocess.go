// Package postprocess strips generative-model artifacts from translated
// metadata before it is measured against a field limit or published.
//
// Providers call Clean on every raw response; the localization pipeline calls
// Keywords on keyword fields so the value matches the App Store list format.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean removes model artifacts in four passes and returns the trimmed text:
//  1. reasoning blocks (<thinking>, <think>, ...)
//  2. markdown code fences around the whole answer
//  3. leading echoes ("Here is the translation:", "Translation:")
//  4. a matching pair of outer quotes
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = removeCodeFence(text)
	text = removeEchoes(text)
	text = removeQuoteWrapping(text)
	return strings.TrimSpace(text)
}

// Keywords normalizes a keyword list to "a,b,c": no spaces around commas, no
// empty items, no trailing period. Localized list separators ("、", "，", "،")
// are folded to commas.
func Keywords(text string) string {
	text = keywordSeparatorRe.ReplaceAllString(Clean(text), ",")
	text = strings.TrimRight(text, ".。")

	parts := strings.Split(text, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

var keywordSeparatorRe = regexp.MustCompile(`[、，،;]|\n+`)

// Go's RE2 has no backreferences, so each tag pair is spelled out.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// An opening tag without its close: the model ran out of tokens mid-thought.
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

var codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n(.*?)\n?```$")

func removeCodeFence(text string) string {
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// Anchored at the start and ending with a colon so translated prose that
// merely contains these words is left alone.
var echoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^here(?:'s| is| are)(?: the| your)? (?:refined |polished |translated |localized )?(?:translation|text|keywords|version)\s*(?:\([^)]*\))?\s*:`),
	regexp.MustCompile(`(?i)^(?:the )?(?:refined |polished |localized )?(?:translation|translated text|translated keywords|keywords)\s*(?:\([^)]*\))?\s*:`),
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.!]? here(?:'s| is| are)(?: the| your)? (?:refined |polished |translated |localized )?(?:translation|text|keywords)\s*:`),
}

func removeEchoes(text string) string {
	for _, re := range echoPatterns {
		if loc := re.FindStringIndex(text); loc != nil {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// Supported pairs: "…" '…' «…» “…” ‘…’ „…“ 「…」
func removeQuoteWrapping(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') ||
		(first == '„' && last == '“') ||
		(first == '「' && last == '」') {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}
