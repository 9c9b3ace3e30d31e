// Package security holds input sanitisation helpers.
package security

import "strings"

const maxFilenameLen = 128

// SanitizeFilename turns an arbitrary label into a file name component.
// Runs of characters other than ASCII letters, digits, '.', '_' and '-'
// become a single underscore; leading and trailing dots and underscores
// are trimmed so the result can never be "." or "..". An empty result is
// "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	replaced := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		if safeFilenameRune(r) {
			b.WriteRune(r)
			replaced = false
			continue
		}
		if !replaced {
			b.WriteByte('_')
			replaced = true
		}
	}
	if out := strings.Trim(b.String(), "._"); out != "" {
		return out
	}
	return "unknown"
}

func safeFilenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}
