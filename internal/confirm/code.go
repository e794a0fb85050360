package confirm

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// codeBytes random bytes give a 6 character upper-case hex code.
const codeBytes = 3

// GenerateCode returns a random human-typable code.
func GenerateCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate confirmation code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// CodesEqual compares a supplied code with the expected one in constant
// time, ignoring case and surrounding whitespace.
func CodesEqual(supplied, expected string) bool {
	if expected == "" {
		return false
	}
	s := strings.ToUpper(strings.TrimSpace(supplied))
	return subtle.ConstantTimeCompare([]byte(s), []byte(strings.ToUpper(expected))) == 1
}
