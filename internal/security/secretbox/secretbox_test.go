package secretbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestKey(t *testing.T) {
	t.Helper()
	UnsafeResetForTests()
	require.NoError(t, UnsafeSetMasterKeyForTests([]byte("0123456789abcdef0123456789abcdef")))
	t.Cleanup(UnsafeResetForTests)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	withTestKey(t)

	ct, err := Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotContains(t, ct, "JBSWY3DPEHPK3PXP")
	assert.Contains(t, ct, sep)

	pt, err := Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", pt)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	withTestKey(t)

	a, err := Encrypt("same input")
	require.NoError(t, err)
	b, err := Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per encryption")
}

func TestDecryptRejectsTampering(t *testing.T) {
	withTestKey(t)

	ct, err := Encrypt("secret")
	require.NoError(t, err)

	parts := strings.SplitN(ct, sep, 2)
	require.Len(t, parts, 2)
	tampered := parts[0] + sep + "A" + parts[1][1:]
	if tampered == ct {
		tampered = parts[0] + sep + "B" + parts[1][1:]
	}
	_, err = Decrypt(tampered)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	withTestKey(t)

	for _, bad := range []string{"", "no-separator", "x|y", "||"} {
		_, err := Decrypt(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestDeriveKeyPerPurpose(t *testing.T) {
	withTestKey(t)

	enc, err := DeriveKey("secret-at-rest")
	require.NoError(t, err)
	mac, err := DeriveKey("remember-me-token")
	require.NoError(t, err)

	assert.Len(t, enc, 32)
	assert.Len(t, mac, 32)
	assert.NotEqual(t, enc, mac, "purposes must not share keys")

	again, err := DeriveKey("secret-at-rest")
	require.NoError(t, err)
	assert.Equal(t, enc, again, "derivation is deterministic")
}

func TestNotReadyWithoutKey(t *testing.T) {
	UnsafeResetForTests()
	t.Cleanup(UnsafeResetForTests)
	t.Setenv("OTPGATE_MASTER_KEY", "")

	assert.False(t, Ready())
	_, err := Encrypt("x")
	assert.Error(t, err)
}
