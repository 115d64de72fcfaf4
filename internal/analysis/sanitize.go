package analysis

import "strings"

// SanitizeModelJSON strips the markdown code fences models frequently wrap
// around JSON output, then trims whitespace. Content inside the fence is
// returned untouched; input without fences passes through unchanged.
func SanitizeModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line, including a language tag like ```json.
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		// Drop everything from the closing fence on.
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}

	return s
}
