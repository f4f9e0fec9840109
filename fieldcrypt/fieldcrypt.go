// Package fieldcrypt provides authenticated encryption of individual
// sensitive field values with per-purpose key derivation, plus a blind
// index scheme for equality search over encrypted data.
//
// Every encryption draws a fresh random salt and IV; the AES-256 key is
// derived from the master secret and the salt with Argon2id, with the
// purpose label mixed into the derivation so different logical fields never
// share a key even under master-key reuse. Envelopes are self-describing
// ("egv1:" marker), so "is this value encrypted" is a prefix check, not a
// parse heuristic. Values without the marker are treated as legacy
// plaintext, a one-way migration path rather than a general fallback: a marked
// envelope that fails authentication is always a hard error.
package fieldcrypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/edgegate/edgegate/instrumentation"
)

const (
	// EnvelopeVersion is the current envelope format version.
	EnvelopeVersion = 1

	// envelopePrefix is the unambiguous marker identifying an encrypted
	// value at rest.
	envelopePrefix = "egv1:"

	// MinMasterSecretLen is the minimum accepted master secret length.
	MinMasterSecretLen = 32

	saltSize = 16
	ivSize   = 12
	tagSize  = 16
	keySize  = 32

	// Argon2id parameters: deliberately expensive derivation so bulk
	// offline attacks against extracted ciphertexts stay costly.
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

var (
	// ErrDecryptionFailed is returned when the authentication tag does not
	// verify. Tampering surfaces as this hard failure, never as silently
	// corrupted plaintext.
	ErrDecryptionFailed = errors.New("fieldcrypt: decryption failed")

	// ErrUnknownVersion is returned for envelopes with an unrecognized
	// format version.
	ErrUnknownVersion = errors.New("fieldcrypt: unknown envelope version")

	// ErrInvalidEnvelope is returned for a marked value that does not
	// parse as an envelope.
	ErrInvalidEnvelope = errors.New("fieldcrypt: invalid envelope")

	// ErrMasterSecretTooShort is returned at construction for an
	// undersized master secret.
	ErrMasterSecretTooShort = fmt.Errorf("fieldcrypt: master secret must be at least %d bytes", MinMasterSecretLen)
)

// Envelope is the at-rest representation of one encrypted field value.
type Envelope struct {
	Version    int    `json:"v"`
	Purpose    string `json:"p"`
	Salt       string `json:"s"`  // base64
	IV         string `json:"iv"` // base64
	AuthTag    string `json:"t"`  // base64
	Ciphertext string `json:"c"`  // base64
}

// Cipher encrypts and decrypts individual field values.
type Cipher struct {
	master  []byte
	cache   *keyCache
	metrics *instrumentation.Metrics
}

// New creates a Cipher from the master secret, enforcing the minimum
// length.
func New(masterSecret string) (*Cipher, error) {
	if len(masterSecret) < MinMasterSecretLen {
		return nil, ErrMasterSecretTooShort
	}
	return &Cipher{
		master: []byte(masterSecret),
		cache:  newKeyCache(defaultKeyCacheSize, defaultKeyTTL),
	}, nil
}

// SetMetrics wires operation counters and duration histograms. The
// recorded duration includes key derivation, so cache misses stand out.
func (c *Cipher) SetMetrics(m *instrumentation.Metrics) { c.metrics = m }

func (c *Cipher) recordOp(operation string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordEncryptionOperation(context.Background(), operation,
			float64(time.Since(start))/float64(time.Millisecond))
	}
}

// Encrypt encrypts plaintext under a key derived for purpose, returning
// the serialized envelope. Each call draws a fresh salt and IV, so
// encrypting the same value twice produces different envelopes.
func (c *Cipher) Encrypt(plaintext, purpose string) (string, error) {
	defer c.recordOp("encrypt", time.Now())

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	gcm, err := c.aead(purpose, salt)
	if err != nil {
		return "", err
	}

	// The purpose label is bound as additional authenticated data, so an
	// envelope cannot be replayed under a different purpose.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), []byte(purpose))
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	env := Envelope{
		Version:    EnvelopeVersion,
		Purpose:    purpose,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return envelopePrefix + base64.StdEncoding.EncodeToString(body), nil
}

// Decrypt reverses Encrypt. A value without the envelope marker is
// returned unchanged as legacy plaintext. A marked envelope that fails to
// parse, carries an unknown version, or fails tag verification is a hard
// error.
func (c *Cipher) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}
	defer c.recordOp("decrypt", time.Now())

	env, err := parseEnvelope(stored)
	if err != nil {
		return "", err
	}
	if env.Version != EnvelopeVersion {
		return "", fmt.Errorf("%w: %d", ErrUnknownVersion, env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return "", fmt.Errorf("%w: bad salt encoding", ErrInvalidEnvelope)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != ivSize {
		return "", fmt.Errorf("%w: bad iv", ErrInvalidEnvelope)
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return "", fmt.Errorf("%w: bad auth tag encoding", ErrInvalidEnvelope)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrInvalidEnvelope)
	}

	gcm, err := c.aead(env.Purpose, salt)
	if err != nil {
		return "", err
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, []byte(env.Purpose))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the envelope marker.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, envelopePrefix)
}

// parseEnvelope decodes the marked, serialized envelope form.
func parseEnvelope(stored string) (*Envelope, error) {
	body, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, envelopePrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: bad body encoding", ErrInvalidEnvelope)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &env, nil
}

// aead builds the AES-256-GCM instance for (purpose, salt), consulting the
// derived-key cache first.
func (c *Cipher) aead(purpose string, salt []byte) (cipher.AEAD, error) {
	key := c.cache.get(purpose, salt)
	if key == nil {
		key = c.deriveKey(purpose, salt)
		c.cache.put(purpose, salt, key)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey derives the per-purpose AES key. The purpose label is folded
// into the Argon2id salt so distinct purposes yield unrelated keys from
// the same master secret and stored salt.
func (c *Cipher) deriveKey(purpose string, salt []byte) []byte {
	h := sha256.New()
	h.Write([]byte(purpose))
	h.Write([]byte{0})
	h.Write(salt)
	boundSalt := h.Sum(nil)
	return argon2.IDKey(c.master, boundSalt, argonTime, argonMemory, argonThreads, keySize)
}
