package intent

import "strings"

// trailingPunct is dropped from the end of a message, so "batal!" and "menu."
// match their keywords.
const trailingPunct = ".,!?;:…"

// Normalize trims, lower-cases, collapses internal whitespace and strips
// trailing punctuation. The result is for comparison only; values that become
// user-visible data keep their original form.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimSpace(strings.TrimRight(s, trailingPunct))
}
