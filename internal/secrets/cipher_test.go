package secrets

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"avitolink/pkg/apperr"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New(testKey)
	require.NoError(t, err)
	return c
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New("short")
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.Configuration))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plain := range []string{"s3cr3t", "a", strings.Repeat("x", 500), "пароль"} {
		blob, err := c.Encrypt(plain)
		require.NoError(t, err)
		require.NotEqual(t, plain, blob)
		require.GreaterOrEqual(t, len(blob), 192, "blob carries salt+iv+tag at minimum")
		require.True(t, c.IsEncrypted(blob))

		got, err := c.Decrypt(blob)
		require.NoError(t, err)
		require.Equal(t, plain, got)
	}
}

func TestEncryptEmptyIsEmpty(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Encrypt("")
	require.NoError(t, err)
	require.Equal(t, "", blob)

	plain, err := c.Decrypt("")
	require.NoError(t, err)
	require.Equal(t, "", plain)
}

func TestEncryptIsSaltedPerCall(t *testing.T) {
	c := newTestCipher(t)
	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestTamperDetection(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Encrypt("s3cr3t")
	require.NoError(t, err)

	raw, err := hex.DecodeString(blob)
	require.NoError(t, err)

	// Flip one byte in each region of the blob: salt, iv, tag, ciphertext.
	for _, pos := range []int{0, 64, 80, len(raw) - 1} {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[pos] ^= 0xff

		_, err := c.Decrypt(hex.EncodeToString(tampered))
		require.Error(t, err, "flipping byte %d must fail", pos)
		require.True(t, apperr.IsKind(err, apperr.Integrity))
	}
}

func TestDecryptRejectsMalformedBlobs(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.Decrypt("not-hex-at-all!")
	require.True(t, apperr.IsKind(err, apperr.Integrity))

	_, err = c.Decrypt("deadbeef") // decodes but far too short
	require.True(t, apperr.IsKind(err, apperr.Integrity))
}

func TestEncryptIfNeededIsIdempotent(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Encrypt("s3cr3t")
	require.NoError(t, err)

	again, err := c.EncryptIfNeeded(blob)
	require.NoError(t, err)
	require.Equal(t, blob, again, "already-encrypted value must pass through")

	fresh, err := c.EncryptIfNeeded("s3cr3t")
	require.NoError(t, err)
	require.True(t, c.IsEncrypted(fresh))
}

func TestDecryptIfNeededPassesPlaintextThrough(t *testing.T) {
	c := newTestCipher(t)

	got, err := c.DecryptIfNeeded("legacy-plaintext-secret")
	require.NoError(t, err)
	require.Equal(t, "legacy-plaintext-secret", got)

	blob, err := c.Encrypt("s3cr3t")
	require.NoError(t, err)
	got, err = c.DecryptIfNeeded(blob)
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", got)
}

func TestIsEncryptedHeuristic(t *testing.T) {
	c := newTestCipher(t)

	require.False(t, c.IsEncrypted(""))
	require.False(t, c.IsEncrypted("s3cr3t"))
	require.False(t, c.IsEncrypted(strings.Repeat("g", 200)), "non-hex alphabet")
	require.False(t, c.IsEncrypted(strings.Repeat("ab", 50)), "hex but below minimum length")
	// Documented compromise: a long hex plaintext is misclassified.
	require.True(t, c.IsEncrypted(strings.Repeat("ab", 96)))
}

func TestDifferentKeysCannotDecrypt(t *testing.T) {
	a := newTestCipher(t)
	b, err := New("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)

	blob, err := a.Encrypt("s3cr3t")
	require.NoError(t, err)

	_, err = b.Decrypt(blob)
	require.True(t, apperr.IsKind(err, apperr.Integrity))
}
