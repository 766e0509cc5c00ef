package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// JoinCodeLength is the fixed length of a session join code.
const JoinCodeLength = 6

var (
	clientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	codeRegex     = regexp.MustCompile(`^[A-Z0-9]{6}$`)
)

// IsValidClientID checks the stable per-tab identifier a client sends on connect.
func IsValidClientID(clientID string) bool {
	if len(clientID) < 1 || len(clientID) > 64 {
		return false
	}
	return clientIDRegex.MatchString(clientID)
}

// NormalizeName trims a display name. Names are not required to be unique.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// IsValidName checks a display name after normalization.
func IsValidName(name string) bool {
	n := utf8.RuneCountInString(NormalizeName(name))
	return n >= 1 && n <= 100
}

// IsValidRole checks a websocket role.
func IsValidRole(role string) bool {
	return role == RoleStudent || role == RoleInstructor
}

// NormalizeCode upper-cases a join code typed by a student.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode checks a normalized join code.
func IsValidCode(code string) bool {
	return codeRegex.MatchString(code)
}
