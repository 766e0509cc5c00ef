package session

import (
	"github.com/google/uuid"

	"classpulse/pkg/types"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newJoinCode draws a six character join code from a random UUID.
func newJoinCode() string {
	id := uuid.New()
	code := make([]byte, types.JoinCodeLength)
	for i := range code {
		code[i] = codeAlphabet[int(id[i])%len(codeAlphabet)]
	}
	return string(code)
}
