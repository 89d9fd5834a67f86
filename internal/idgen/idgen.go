// Package idgen generates the random 256-bit identifiers used throughout the
// system (uncommitted filesystem ids, container ids) and the short-id
// projection spec.md §3 defines for all of them.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// IDLength is the length, in hex characters, of a full id (a SHA-256-sized
// 256-bit value encoded as hex).
const IDLength = 64

// ShortIDLength is the length of the short id: the first 12 hex characters.
const ShortIDLength = 12

// GenerateID returns a fresh random 256-bit id, hex encoded. Used for
// uncommitted Filesystem ids and Container ids, neither of which is a
// content hash.
func GenerateID() string {
	b := make([]byte, IDLength/2)
	n, err := rand.Read(b)
	if err != nil {
		panic(fmt.Errorf("idgen: failed to read random bytes: %w", err))
	}
	if n != len(b) {
		panic(fmt.Errorf("idgen: expected %d random bytes, got %d", len(b), n))
	}
	return hex.EncodeToString(b)
}

// Short returns the first ShortIDLength characters of id.
func Short(id string) string {
	if len(id) <= ShortIDLength {
		return id
	}
	return id[:ShortIDLength]
}
