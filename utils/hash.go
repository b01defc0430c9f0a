package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// MakeHash returns a lowercase hex sha256 digest of the given key.
// Any input, including the empty string, yields a 64 character identifier.
func MakeHash(s string) string {
	hash := sha256.New()
	hash.Write([]byte(s))
	hashBytes := hash.Sum(nil)
	return hex.EncodeToString(hashBytes)
}
