package sessions

import (
	"crypto/rand"
	"fmt"
)

const (
	sessionCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	SessionCodeLength   = 6
)

// NewSessionCode returns a random short session code such as "K7Q2ZD".
func NewSessionCode() (string, error) {
	buf := make([]byte, SessionCodeLength)
	out := make([]byte, SessionCodeLength)
	for i := 0; i < SessionCodeLength; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %v", err)
		}
		for _, b := range buf {
			// Rejecting the tail of the byte range keeps every symbol
			// equally likely.
			if int(b) >= 256-256%len(sessionCodeAlphabet) {
				continue
			}
			out[i] = sessionCodeAlphabet[int(b)%len(sessionCodeAlphabet)]
			i++
			if i == SessionCodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// IsSessionCode reports whether s has the shape of a generated code.
func IsSessionCode(s string) bool {
	if len(s) != SessionCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
