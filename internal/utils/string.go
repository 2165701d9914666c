package utils

import (
	"regexp"
	"strings"
)

var (
	unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	repeatedScore   = regexp.MustCompile(`_+`)
)

// SanitizeFileName makes a string safe to use as a single path component:
// every character outside [A-Za-z0-9_.-] becomes an underscore, runs of
// underscores collapse, and leading/trailing underscores are trimmed.
func SanitizeFileName(name string) string {
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = repeatedScore.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// TruncateString cuts s to at most max bytes.
func TruncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// NormalizeMessageID strips the RFC 5322 angle brackets from a Message-ID.
func NormalizeMessageID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	messageID = strings.TrimPrefix(messageID, "<")
	messageID = strings.TrimSuffix(messageID, ">")
	return messageID
}
