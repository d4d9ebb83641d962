package utils

import "strings"

// TruncateForLog flattens s to a single line and cuts it to limit runes,
// appending an ellipsis when something was cut. Prompts and model replies
// span many lines, a flat preview keeps console logs readable.
func TruncateForLog(s string, limit int) string {
	if limit <= 0 {
		return ""
	}

	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRight(string(runes[:limit]), " ") + "..."
}
