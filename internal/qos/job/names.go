package job

import "strings"

// EscapeRuleName converts a job id into a TBF rule name: alphanumeric and
// underscore pass through unchanged, everything else becomes an underscore.
func EscapeRuleName(jobID string) string {
	var b strings.Builder
	b.Grow(len(jobID))
	for _, r := range jobID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
