// Package secrets encrypts credential fields at rest.
//
// Blob layout is fixed and self-describing: salt(64) || iv(16) ||
// authTag(16) || ciphertext, hex-encoded. Already-persisted data
// depends on these exact offsets; do not change the length constants.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"avitolink/pkg/apperr"
)

const (
	saltLen = 64
	ivLen   = 16
	tagLen  = 16
	keyLen  = 32

	// scrypt cost parameters. These match the original persisted data;
	// the KDF is intentionally expensive.
	scryptN = 16384
	scryptR = 8
	scryptP = 1

	// MinKeyLen is the minimum master key length.
	MinKeyLen = 32

	// minBlobHexLen is the hex length of the smallest valid blob
	// (empty ciphertext): 2 * (saltLen + ivLen + tagLen).
	minBlobHexLen = 2 * (saltLen + ivLen + tagLen)
)

// devFallbackKey is only ever used via NewDevFallback. Kept identical
// across dev environments so local databases stay decryptable.
const devFallbackKey = "change-this-to-a-secure-32-char-key!!"

// Cipher performs authenticated symmetric encryption of credential
// fields. A fresh random salt per call is fed through scrypt together
// with the master key, so no two blobs share an AES key.
type Cipher struct {
	masterKey []byte
}

// New builds a Cipher. A missing or short master key is a configuration
// error; callers in production-equivalent modes must treat it as fatal.
func New(masterKey string) (*Cipher, error) {
	if len(masterKey) < MinKeyLen {
		return nil, apperr.Newf(apperr.Configuration, "master encryption key must be at least %d bytes", MinKeyLen)
	}
	return &Cipher{masterKey: []byte(masterKey)}, nil
}

// NewDevFallback returns a Cipher on a well-known insecure key.
// Dev-only escape hatch for running without ENCRYPTION_KEY set.
func NewDevFallback() *Cipher {
	return &Cipher{masterKey: []byte(devFallbackKey)}
}

// Encrypt seals plaintext into a hex blob. Empty input stays empty.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	// Seal appends the tag after the ciphertext; the persisted layout
	// wants it between iv and ciphertext, so split and reorder.
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	blob := make([]byte, 0, saltLen+ivLen+tagLen+len(ct))
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return hex.EncodeToString(blob), nil
}

// Decrypt opens a hex blob produced by Encrypt. Empty input stays
// empty. Any malformed blob or failed auth tag is an integrity error;
// it is never passed through as plaintext.
func (c *Cipher) Decrypt(blobHex string) (string, error) {
	if blobHex == "" {
		return "", nil
	}
	blob, err := hex.DecodeString(blobHex)
	if err != nil {
		return "", apperr.Wrap(apperr.Integrity, "ciphertext is not valid hex", err)
	}
	if len(blob) < saltLen+ivLen+tagLen {
		return "", apperr.Newf(apperr.Integrity, "ciphertext too short: %d bytes", len(blob))
	}

	salt := blob[:saltLen]
	iv := blob[saltLen : saltLen+ivLen]
	tag := blob[saltLen+ivLen : saltLen+ivLen+tagLen]
	ct := blob[saltLen+ivLen+tagLen:]

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	// Reassemble ciphertext || tag for Open.
	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.Integrity, "authentication failed", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether value looks like a persisted blob. This
// is a format heuristic (hex alphabet plus minimum length), not a
// cryptographic guarantee: a long hex-looking plaintext will be
// misclassified. Kept for compatibility with legacy data.
func (c *Cipher) IsEncrypted(value string) bool {
	if len(value) < minBlobHexLen {
		return false
	}
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// EncryptIfNeeded encrypts value unless it already looks encrypted.
func (c *Cipher) EncryptIfNeeded(value string) (string, error) {
	if value == "" || c.IsEncrypted(value) {
		return value, nil
	}
	return c.Encrypt(value)
}

// DecryptIfNeeded decrypts value when it looks encrypted, else returns
// it unchanged (legacy plaintext rows).
func (c *Cipher) DecryptIfNeeded(value string) (string, error) {
	if value == "" || !c.IsEncrypted(value) {
		return value, nil
	}
	return c.Decrypt(value)
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(c.masterKey, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, ivLen)
}
