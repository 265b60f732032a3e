package remember

import (
	"strconv"
	"testing"
	"time"

	"github.com/edline/otpgate/internal/domain/types"
	"github.com/edline/otpgate/internal/security/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func enrolled(t *testing.T) *types.Principal {
	t.Helper()
	_, b32, err := totp.GenerateSecret()
	require.NoError(t, err)
	return &types.Principal{ID: "u1", OTPSecret: b32}
}

func TestRoundTrip(t *testing.T) {
	tk := New(testKey, 0)
	p := enrolled(t)
	now := time.Now()

	tok, err := tk.Issue(p, now, "1.1.1.1")
	require.NoError(t, err)

	refreshed, ok := tk.Accept(tok, p, now.Add(time.Second), "1.1.1.1")
	assert.True(t, ok)
	assert.NotEmpty(t, refreshed)
}

func TestTamperedTokenRejected(t *testing.T) {
	tk := New(testKey, 0)
	p := enrolled(t)
	now := time.Now()

	tok, err := tk.Issue(p, now, "1.1.1.1")
	require.NoError(t, err)

	// flip one byte in the signature
	b := []byte(tok)
	b[len(b)-1] ^= 0x01
	_, ok := tk.Accept(string(b), p, now, "1.1.1.1")
	assert.False(t, ok)
}

func TestWrongKeyRejected(t *testing.T) {
	p := enrolled(t)
	now := time.Now()

	tok, err := New(testKey, 0).Issue(p, now, "1.1.1.1")
	require.NoError(t, err)

	other := New([]byte("ffffffffffffffffffffffffffffffff"), 0)
	_, ok := other.Accept(tok, p, now, "1.1.1.1")
	assert.False(t, ok)
}

func TestFingerprintMismatchRejected(t *testing.T) {
	tk := New(testKey, 0)
	p := enrolled(t)
	now := time.Now()

	tok, err := tk.Issue(p, now, "1.1.1.1")
	require.NoError(t, err)

	// re-enrollment rotates the secret; old tokens must die
	_, b32, err := totp.GenerateSecret()
	require.NoError(t, err)
	p.OTPSecret = b32

	_, ok := tk.Accept(tok, p, now, "1.1.1.1")
	assert.False(t, ok)
}

func TestExpiryFixedWindow(t *testing.T) {
	tk := New(testKey, time.Hour)
	p := enrolled(t)
	now := time.Now()

	tok, err := tk.Issue(p, now, "1.1.1.1")
	require.NoError(t, err)

	// refresh near the end of the window must NOT extend it
	refreshed, ok := tk.Accept(tok, p, now.Add(59*time.Minute), "1.1.1.1")
	require.True(t, ok)
	_, ok = tk.Accept(refreshed, p, now.Add(61*time.Minute), "1.1.1.1")
	assert.False(t, ok, "expiry carries over on refresh")

	_, ok = tk.Accept(tok, p, now.Add(61*time.Minute), "1.1.1.1")
	assert.False(t, ok)
}

func TestIPAccumulation(t *testing.T) {
	tk := New(testKey, 0)
	p := enrolled(t)
	now := time.Now()

	tok, err := tk.Issue(p, now, "1.1.1.1")
	require.NoError(t, err)

	tok2, ok := tk.Accept(tok, p, now, "2.2.2.2")
	require.True(t, ok)
	claims, err := tk.Parse(tok2, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2"}, claims.IPs)

	// repeated IP does not duplicate
	tok3, ok := tk.Accept(tok2, p, now, "2.2.2.2")
	require.True(t, ok)
	claims, err = tk.Parse(tok3, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2"}, claims.IPs)
}

func TestIPSetCapped(t *testing.T) {
	tk := New(testKey, 0)
	p := enrolled(t)
	now := time.Now()

	tok, err := tk.Issue(p, now, "10.0.0.0")
	require.NoError(t, err)
	for i := 1; i <= maxIPs+3; i++ {
		var ok bool
		tok, ok = tk.Accept(tok, p, now, "10.0.0."+strconv.Itoa(i))
		require.True(t, ok)
	}

	claims, err := tk.Parse(tok, now)
	require.NoError(t, err)
	assert.Len(t, claims.IPs, maxIPs)
	assert.NotContains(t, claims.IPs, "10.0.0.0", "oldest IP evicted first")
}

func TestIssueRequiresCommittedSecret(t *testing.T) {
	tk := New(testKey, 0)
	_, err := tk.Issue(&types.Principal{ID: "u1"}, time.Now(), "1.1.1.1")
	assert.Error(t, err)

	_, ok := tk.Accept("", enrolled(t), time.Now(), "1.1.1.1")
	assert.False(t, ok)
}
