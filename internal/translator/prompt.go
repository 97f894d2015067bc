package translator

import (
	"fmt"
	"strings"
)

// BuildPrompt returns the instruction sent with every first attempt.
func BuildPrompt(req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a professional translator specializing in App Store metadata translation. "+
		"Translate the following text to %s. "+
		"Maintain the marketing tone and style of the original text.", req.TargetLanguage)
	sb.WriteString(" Only respond with the translation, nothing else.")

	if req.Keywords {
		sb.WriteString(" For keywords, provide a comma-separated list with no spaces after commas and keep it concise.")
	}

	if req.MaxLength > 0 {
		fmt.Fprintf(&sb, " CRITICAL: Your translation MUST be EXACTLY %d characters or fewer "+
			"INCLUDING ALL SPACES, PUNCTUATION, AND SPECIAL CHARACTERS. Count every single "+
			"character including spaces between words. Do not add ellipsis (...) at the end. "+
			"Create a concise but meaningful translation that captures the essence of the "+
			"original message while staying within the character limit.", req.MaxLength)
	}

	if r := strings.TrimSpace(req.Refinement); r != "" {
		sb.WriteString(" ")
		sb.WriteString(r)
	}

	return sb.String()
}

// StricterClause is appended to the prompt for the single over-budget retry.
func StricterClause(maxLength int) string {
	return fmt.Sprintf(" The text MUST be under %d characters INCLUDING SPACES AND PUNCTUATION. "+
		"Count every character. Prioritize brevity.", maxLength)
}
