// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxUsernameLen  = 36
	AnonymousName   = "Anonymous"
	MaxRoomIDLen    = 64
	MaxChatTextLen  = 1000
	DefaultChatSize = 200
)

// ConnID identifies one signaling connection for its whole lifetime.
type ConnID string

// NormalizeName trims a display name, falls back to AnonymousName and caps the length.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return AnonymousName
	}
	return truncateRunes(name, MaxUsernameLen)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
