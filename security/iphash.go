package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// IPHasher produces salted, non-reversible hashes of client network
// identifiers. Raw IPs are never persisted or shipped to the incident
// store; the salt keeps the hashes from being trivially reversed against
// the IPv4 space while still allowing equality correlation across
// incidents from the same origin.
type IPHasher struct {
	salt []byte
}

// NewIPHasher creates a hasher with the given salt. The salt should come
// from configuration so hashes stay stable across instances and restarts.
func NewIPHasher(salt string) *IPHasher {
	return &IPHasher{salt: []byte(salt)}
}

// Hash returns the hex-encoded salted SHA-256 of the identifier. Empty
// input yields a fixed marker instead of a hash of the bare salt.
func (h *IPHasher) Hash(identifier string) string {
	if identifier == "" {
		return "unknown"
	}
	sum := sha256.Sum256(append(h.salt, []byte(identifier)...))
	return hex.EncodeToString(sum[:])
}

// HashPrefix returns a short prefix of the hash, suitable for log fields
// where a full digest is noise.
func (h *IPHasher) HashPrefix(identifier string) string {
	full := h.Hash(identifier)
	if len(full) <= 16 {
		return full
	}
	return full[:16]
}
