package util

import "fmt"

// DefaultLogMaxLen is the default maximum length for truncated diagnostics (1KB)
const DefaultLogMaxLen = 1024

// TruncateLog truncates long strings for logging and failure diagnostics.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is a convenience wrapper for TruncateLog that accepts []byte
// and uses DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// MaskSecret keeps only the last four characters of a token or secret.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return "..." + s[len(s)-4:]
}
