package recorder

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/willibrandon/calltrace/pkg/codec"
	"github.com/willibrandon/calltrace/pkg/trace"
	"golang.org/x/crypto/hkdf"
)

// ErrTampered is returned when an entry fails HMAC verification
var ErrTampered = errors.New("HMAC verification failed: data may have been tampered with")

// SecurityOptions configures security features for journal entries
type SecurityOptions struct {
	// Encryption settings
	EnableEncryption bool
	EncryptionKey    []byte // Should be 16, 24, or 32 bytes for AES-128, AES-192, or AES-256

	// Redaction settings
	EnableRedaction      bool
	RedactionPatterns    []string // Regex patterns to identify sensitive data
	RedactionReplacement string   // String to replace sensitive data with

	// Integrity verification settings
	EnableIntegrityCheck bool
	IntegrityKey         []byte // Key for HMAC

	// err is the first error raised by a setter
	err error
}

// Err returns the first error a setter ran into, such as an empty passphrase
// given to WithPassphrase. Sinks refuse options carrying an error.
func (o SecurityOptions) Err() error {
	return o.err
}

// DefaultSecurityOptions returns the default security options (no security features enabled)
func DefaultSecurityOptions() SecurityOptions {
	return SecurityOptions{
		RedactionPatterns:    []string{"password", "token", "secret", "key", "credential"},
		RedactionReplacement: "***REDACTED***",
	}
}

// WithEncryption enables encryption with the given key
func WithEncryption(key []byte) func(*SecurityOptions) {
	return func(opts *SecurityOptions) {
		opts.EnableEncryption = true
		opts.EncryptionKey = key
	}
}

// WithRedaction enables redaction with the given patterns and replacement
func WithRedaction(patterns []string, replacement string) func(*SecurityOptions) {
	return func(opts *SecurityOptions) {
		opts.EnableRedaction = true
		if len(patterns) > 0 {
			opts.RedactionPatterns = patterns
		}
		if replacement != "" {
			opts.RedactionReplacement = replacement
		}
	}
}

// WithIntegrityCheck enables integrity checks with the given key
func WithIntegrityCheck(key []byte) func(*SecurityOptions) {
	return func(opts *SecurityOptions) {
		opts.EnableIntegrityCheck = true
		opts.IntegrityKey = key
	}
}

// WithPassphrase derives both the encryption and the integrity key from a
// passphrase and enables encryption and integrity checks.
func WithPassphrase(passphrase, salt []byte) func(*SecurityOptions) {
	return func(opts *SecurityOptions) {
		enc, mac, err := DeriveKeys(passphrase, salt)
		if err != nil {
			if opts.err == nil {
				opts.err = err
			}
			return
		}
		opts.EnableEncryption = true
		opts.EncryptionKey = enc
		opts.EnableIntegrityCheck = true
		opts.IntegrityKey = mac
	}
}

// NewSecurityOptions applies setters on top of DefaultSecurityOptions
func NewSecurityOptions(setters ...func(*SecurityOptions)) SecurityOptions {
	opts := DefaultSecurityOptions()
	for _, set := range setters {
		set(&opts)
	}
	return opts
}

const (
	encryptionInfo = "calltrace journal encryption v1"
	integrityInfo  = "calltrace journal integrity v1"
)

// DeriveKeys expands a passphrase into a 32-byte AES key and a 32-byte HMAC
// key using HKDF-SHA256.
func DeriveKeys(passphrase, salt []byte) (encKey, macKey []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, errors.New("passphrase must not be empty")
	}
	encKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, passphrase, salt, []byte(encryptionInfo)), encKey); err != nil {
		return nil, nil, fmt.Errorf("derive encryption key: %w", err)
	}
	macKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, passphrase, salt, []byte(integrityInfo)), macKey); err != nil {
		return nil, nil, fmt.Errorf("derive integrity key: %w", err)
	}
	return encKey, macKey, nil
}

// EncryptData encrypts data using AES-GCM
func EncryptData(data []byte, key []byte) ([]byte, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, errors.New("encryption key must be 16, 24, or 32 bytes long")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// Nonce is prepended to the ciphertext
	return aesGCM.Seal(nonce, nonce, data, nil), nil
}

// DecryptData decrypts data using AES-GCM
func DecryptData(data []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	n := aesGCM.NonceSize()
	if len(data) < n {
		return nil, errors.New("encrypted data too short")
	}
	return aesGCM.Open(nil, data[:n], data[n:], nil)
}

// RedactData redacts "pattern=value" and "pattern: value" pairs in data
func RedactData(data []byte, patterns []string, replacement string) []byte {
	strData := string(data)
	for _, pattern := range patterns {
		r, err := regexp.Compile(`(?i)(["']?` + pattern + `["']?\s*[:=]\s*["']?)([^"'}\s]+)`)
		if err != nil {
			// Skip invalid patterns
			continue
		}
		strData = r.ReplaceAllString(strData, "${1}"+replacement)
	}
	return []byte(strData)
}

// RedactEntry returns a copy of e with every string primitive passed through
// RedactData. References and buffers are left alone so the entry stays
// replayable.
func RedactEntry(e trace.Entry, patterns []string, replacement string) (trace.Entry, bool) {
	out := trace.Entry{Direction: e.Direction, Name: e.Name, Record: e.Record.Clone()}
	changed := false
	for i := range out.Record.Args {
		changed = redactTag(&out.Record.Args[i], patterns, replacement) || changed
	}
	if out.Record.Ret != nil {
		changed = redactTag(out.Record.Ret, patterns, replacement) || changed
	}
	return out, changed
}

func redactTag(t *codec.Tag, patterns []string, replacement string) bool {
	if t.Type != codec.TagPrimitive {
		return false
	}
	v, changed := redactValue(t.Value, patterns, replacement)
	t.Value = v
	return changed
}

func redactValue(v any, patterns []string, replacement string) (any, bool) {
	switch x := v.(type) {
	case string:
		r := string(RedactData([]byte(x), patterns, replacement))
		return r, r != x
	case []any:
		changed := false
		for i := range x {
			var c bool
			x[i], c = redactValue(x[i], patterns, replacement)
			changed = changed || c
		}
		return x, changed
	case map[string]any:
		changed := false
		for k, e := range x {
			r, c := redactValue(e, patterns, replacement)
			x[k] = r
			changed = changed || c
		}
		return x, changed
	}
	return v, false
}

// CalculateHMAC generates an HMAC for the given data
func CalculateHMAC(data []byte, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC checks if the HMAC for the given data matches the expected value
func VerifyHMAC(data []byte, key []byte, expectedHMAC string) bool {
	return hmac.Equal([]byte(CalculateHMAC(data, key)), []byte(expectedHMAC))
}

// SecureEntry is a journal entry with security features applied. When
// encrypted, Entry only keeps the direction and sequence number and the
// full entry lives in Payload.
type SecureEntry struct {
	Entry      trace.Entry `json:"entry"`
	Payload    string      `json:"payload,omitempty"`
	Encrypted  bool        `json:"encrypted"`
	HMAC       string      `json:"hmac,omitempty"`
	IsRedacted bool        `json:"is_redacted"`
}

// signed is the byte string covered by the HMAC
func (se SecureEntry) signed() ([]byte, error) {
	if se.Entry.Record.Args == nil {
		se.Entry.Record.Args = []codec.Tag{}
	}
	return json.Marshal(struct {
		Entry   trace.Entry `json:"entry"`
		Payload string      `json:"payload"`
	}{se.Entry, se.Payload})
}

// SecureEntryFromEntry creates a SecureEntry from an entry with the given security options
func SecureEntryFromEntry(e trace.Entry, opts SecurityOptions) (SecureEntry, error) {
	se := SecureEntry{Entry: e}

	if opts.EnableRedaction {
		se.Entry, se.IsRedacted = RedactEntry(e, opts.RedactionPatterns, opts.RedactionReplacement)
	}

	if opts.EnableEncryption {
		plain, err := json.Marshal(se.Entry)
		if err != nil {
			return se, err
		}
		sealed, err := EncryptData(plain, opts.EncryptionKey)
		if err != nil {
			return se, err
		}
		se.Entry = trace.Entry{
			Direction: e.Direction,
			Record:    trace.CallRecord{Seq: e.Record.Seq},
		}
		se.Payload = base64.StdEncoding.EncodeToString(sealed)
		se.Encrypted = true
	}

	if opts.EnableIntegrityCheck {
		data, err := se.signed()
		if err != nil {
			return se, err
		}
		se.HMAC = CalculateHMAC(data, opts.IntegrityKey)
	}

	return se, nil
}

// Verify checks the HMAC of se. Entries without an HMAC pass.
func (se SecureEntry) Verify(opts SecurityOptions) error {
	if !opts.EnableIntegrityCheck || se.HMAC == "" {
		return nil
	}
	data, err := se.signed()
	if err != nil {
		return err
	}
	if !VerifyHMAC(data, opts.IntegrityKey, se.HMAC) {
		return ErrTampered
	}
	return nil
}

// GetOriginalEntry verifies and, if needed, decrypts the entry
func (se SecureEntry) GetOriginalEntry(opts SecurityOptions) (trace.Entry, error) {
	if err := se.Verify(opts); err != nil {
		return trace.Entry{}, err
	}
	if !se.Encrypted {
		return se.Entry, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(se.Payload)
	if err != nil {
		return trace.Entry{}, err
	}
	plain, err := DecryptData(sealed, opts.EncryptionKey)
	if err != nil {
		return trace.Entry{}, err
	}
	var e trace.Entry
	if err := json.Unmarshal(plain, &e); err != nil {
		return trace.Entry{}, err
	}
	return e, nil
}
