package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// hashAPIKey derives the stored one-way hash for an agent API key. The raw
// key lives only in the registration response; every later request is
// checked hash-against-hash.
func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
