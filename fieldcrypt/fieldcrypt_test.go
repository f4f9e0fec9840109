package fieldcrypt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/edgegate/edgegate/instrumentation"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New(testSecret)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNewRejectsShortSecret(t *testing.T) {
	if _, err := New("too-short"); !errors.Is(err, ErrMasterSecretTooShort) {
		t.Errorf("New(short) error = %v, want ErrMasterSecretTooShort", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	// Operation metrics record around both directions without affecting
	// the result.
	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	c.SetMetrics(inst.Metrics())

	tests := []struct {
		name      string
		plaintext string
		purpose   string
	}{
		{name: "card number", plaintext: "4532-xxxx-xxxx-1234", purpose: "card"},
		{name: "empty string", plaintext: "", purpose: "note"},
		{name: "unicode", plaintext: "straße Ümläut 密码", purpose: "address"},
		{name: "long value", plaintext: strings.Repeat("sensitive ", 500), purpose: "document"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := c.Encrypt(tt.plaintext, tt.purpose)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !IsEncrypted(stored) {
				t.Fatalf("envelope %q missing marker", stored[:20])
			}
			if strings.Contains(stored, tt.plaintext) && tt.plaintext != "" {
				t.Error("envelope leaks plaintext")
			}

			got, err := c.Decrypt(stored)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptProducesDistinctEnvelopes(t *testing.T) {
	c := newTestCipher(t)

	first, err := c.Encrypt("4532-xxxx-xxxx-1234", "card")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Encrypt("4532-xxxx-xxxx-1234", "card")
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Error("two encryptions of one value must differ (fresh salt and IV each time)")
	}
	for _, stored := range []string{first, second} {
		got, err := c.Decrypt(stored)
		if err != nil || got != "4532-xxxx-xxxx-1234" {
			t.Errorf("Decrypt() = %q, %v", got, err)
		}
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	c := newTestCipher(t)

	stored, err := c.Encrypt("secret-value", "field")
	if err != nil {
		t.Fatal(err)
	}

	env, err := parseEnvelope(stored)
	if err != nil {
		t.Fatal(err)
	}

	mutate := func(t *testing.T, change func(*Envelope)) string {
		t.Helper()
		mutated := *env
		change(&mutated)
		body, err := json.Marshal(mutated)
		if err != nil {
			t.Fatal(err)
		}
		return "egv1:" + base64.StdEncoding.EncodeToString(body)
	}

	flipByte := func(encoded string) string {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			t.Fatal(err)
		}
		raw[0] ^= 0xff
		return base64.StdEncoding.EncodeToString(raw)
	}

	tests := []struct {
		name   string
		stored string
	}{
		{
			name:   "ciphertext flipped",
			stored: mutate(t, func(e *Envelope) { e.Ciphertext = flipByte(e.Ciphertext) }),
		},
		{
			name:   "auth tag flipped",
			stored: mutate(t, func(e *Envelope) { e.AuthTag = flipByte(e.AuthTag) }),
		},
		{
			name:   "purpose swapped",
			stored: mutate(t, func(e *Envelope) { e.Purpose = "other" }),
		},
		{
			name:   "salt flipped",
			stored: mutate(t, func(e *Envelope) { e.Salt = flipByte(e.Salt) }),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decrypt(tt.stored)
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("Decrypt(tampered) = (%q, %v), want ErrDecryptionFailed", got, err)
			}
		})
	}
}

func TestDecryptUnknownVersion(t *testing.T) {
	c := newTestCipher(t)

	stored, err := c.Encrypt("value", "field")
	if err != nil {
		t.Fatal(err)
	}
	env, err := parseEnvelope(stored)
	if err != nil {
		t.Fatal(err)
	}
	env.Version = 99
	body, _ := json.Marshal(env)
	bumped := "egv1:" + base64.StdEncoding.EncodeToString(body)

	if _, err := c.Decrypt(bumped); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("Decrypt(version 99) error = %v, want ErrUnknownVersion", err)
	}
}

func TestDecryptLegacyPlaintext(t *testing.T) {
	c := newTestCipher(t)

	// Values without the envelope marker are pre-migration plaintext and
	// pass through unchanged.
	for _, legacy := range []string{"plain old value", "", "looks{almost:json}"} {
		got, err := c.Decrypt(legacy)
		if err != nil {
			t.Errorf("Decrypt(%q) error = %v, want nil", legacy, err)
		}
		if got != legacy {
			t.Errorf("Decrypt(%q) = %q, want unchanged", legacy, got)
		}
	}

	// A marked but corrupt value is NOT legacy: it must hard-fail.
	if _, err := c.Decrypt("egv1:!!!not-base64!!!"); err == nil {
		t.Error("marked corrupt value must fail, not fall back to plaintext")
	}
	if _, err := c.Decrypt("egv1:" + base64.StdEncoding.EncodeToString([]byte("{bad json"))); err == nil {
		t.Error("marked unparseable envelope must fail")
	}
}

func TestDerivedKeyCache(t *testing.T) {
	c := newTestCipher(t)

	stored, err := c.Encrypt("cached", "purpose")
	if err != nil {
		t.Fatal(err)
	}

	// Second decrypt hits the (purpose, salt) cache; result must be
	// identical either way.
	for i := 0; i < 2; i++ {
		got, err := c.Decrypt(stored)
		if err != nil || got != "cached" {
			t.Fatalf("Decrypt pass %d = (%q, %v)", i, got, err)
		}
	}
	if len(c.cache.entries) == 0 {
		t.Error("derived key was not cached")
	}
}

func TestBlindIndexDeterminism(t *testing.T) {
	c := newTestCipher(t)

	a := c.BlindIndex("user@example.com", "email")
	b := c.BlindIndex("user@example.com", "email")
	if a != b {
		t.Error("blind index must be deterministic for identical (value, field)")
	}

	if c.BlindIndex("user@example.com", "backup_email") == a {
		t.Error("same value under different fields must index differently")
	}
	if c.BlindIndex("other@example.com", "email") == a {
		t.Error("different values must index differently")
	}

	// Normalization: case and surrounding whitespace collapse.
	if c.BlindIndex("  User@Example.COM ", "email") != a {
		t.Error("normalized spellings of one value must collide")
	}

	if a == "user@example.com" || len(a) != 64 {
		t.Errorf("index %q does not look like hex SHA-256 output", a)
	}
}

func TestBlindIndexKeyIsolation(t *testing.T) {
	c1 := newTestCipher(t)
	c2, err := New("another-master-secret-of-32-bytes!!")
	if err != nil {
		t.Fatal(err)
	}
	if c1.BlindIndex("v", "f") == c2.BlindIndex("v", "f") {
		t.Error("different master secrets must produce unrelated indexes")
	}
}
