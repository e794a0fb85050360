package confirm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Fingerprint returns the hex SHA-256 of a canonical encoding of the action
// type and its ordered parameters. Each element is written as an 8 byte
// big-endian length followed by its bytes, so ("a","bc") and ("ab","c")
// never collide.
//
// Callers must pass the raw parameters, not sanitized display text.
func Fingerprint(actionType string, params []string) string {
	h := sha256.New()
	var n [8]byte

	write := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}

	write(actionType)
	binary.BigEndian.PutUint64(n[:], uint64(len(params)))
	h.Write(n[:])
	for _, p := range params {
		write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
