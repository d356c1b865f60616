// Package stringutil provides common string utility functions.
package stringutil

// TruncateStringWithEllipsis truncates a string to a maximum length and adds a
// "..." suffix. Strings at or under the limit come back unchanged; limits too
// small to fit the suffix fall back to a hard cut.
func TruncateStringWithEllipsis(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
