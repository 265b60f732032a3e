// Package totp implements RFC 4226/6238 one-time codes: 6 digits,
// HMAC-SHA1, 30 second time step.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// Period is the TOTP time step.
const Period = 30 * time.Second

// Digits is the code length.
const Digits = 6

// GenerateSecret returns 20 random bytes plus their base32 encoding
// without padding (RFC 3548).
func GenerateSecret() (raw []byte, b32 string, err error) {
	raw = make([]byte, 20)
	_, err = rand.Read(raw)
	if err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return raw, enc, nil
}

// DecodeSecret decodes a base32 secret produced by GenerateSecret.
func DecodeSecret(b32 string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimSpace(b32)))
}

// OTPAuthURL builds the otpauth:// provisioning URL for QR display.
func OTPAuthURL(issuer, accountName, secretB32 string) string {
	// otpauth://totp/{issuer}:{account}?secret=...&issuer=...&algorithm=SHA1&digits=6&period=30
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountName))
	q := url.Values{}
	q.Set("secret", secretB32)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", "30")
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// Normalize strips all whitespace from a submitted code. Users paste
// codes with inner spaces ("123 456"); those must still verify.
func Normalize(code string) string {
	return strings.Join(strings.Fields(code), "")
}

// Verify checks code against secretRaw accepting any time step whose
// start falls within [now-driftBehind, now+driftAhead]. Drift is
// expressed in wall time, not step counts, so asymmetric windows work.
func Verify(secretRaw []byte, code string, driftBehind, driftAhead time.Duration, now time.Time) bool {
	code = Normalize(code)
	if len(code) != Digits {
		return false
	}
	start := now.Add(-driftBehind).Unix() / int64(Period/time.Second)
	end := now.Add(driftAhead).Unix() / int64(Period/time.Second)
	for c := start; c <= end; c++ {
		if hmac.Equal([]byte(at(secretRaw, c)), []byte(code)) {
			return true
		}
	}
	return false
}

// CodeAt returns the code for the time step containing t. Used for SMS
// delivery (the current code is sent to the channel) and by tests.
func CodeAt(secretRaw []byte, t time.Time) string {
	return at(secretRaw, t.Unix()/int64(Period/time.Second))
}

// at computes HOTP(K, C) per RFC 4226.
func at(secretRaw []byte, counter int64) string {
	var msg [8]byte
	for i := 7; i >= 0; i-- {
		msg[i] = byte(counter & 0xff)
		counter >>= 8
	}
	m := hmac.New(sha1.New, secretRaw)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 | int(sum[offset+1])<<16 | int(sum[offset+2])<<8 | int(sum[offset+3])
	otp := bin % int(math.Pow10(Digits))
	return fmt.Sprintf("%0*d", Digits, otp)
}
