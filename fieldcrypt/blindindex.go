package fieldcrypt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// BlindIndex produces a deterministic, non-reversible, field-scoped hash
// of a value, usable for equality lookup over encrypted data without
// decrypting the stored set. Determinism intentionally sacrifices
// unlinkability within one field for queryability; the per-field key keeps
// indexes from linking across fields.
func (c *Cipher) BlindIndex(value, fieldName string) string {
	indexKey := c.blindIndexKey(fieldName)
	mac := hmac.New(sha256.New, indexKey)
	mac.Write([]byte(normalizeIndexValue(value)))
	return hex.EncodeToString(mac.Sum(nil))
}

// blindIndexKey derives the per-field index key from the master secret.
// Unlike encryption keys this must be salt-free: the index has to be
// computable at query time from the value alone.
func (c *Cipher) blindIndexKey(fieldName string) []byte {
	mac := hmac.New(sha256.New, c.master)
	mac.Write([]byte("blind-index|"))
	mac.Write([]byte(fieldName))
	return mac.Sum(nil)
}

// normalizeIndexValue canonicalizes a value before indexing so trivially
// different spellings of the same identifier collide as intended.
func normalizeIndexValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
