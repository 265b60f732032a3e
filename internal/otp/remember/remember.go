// Package remember issues and validates the signed "remember this
// device" token.
//
// The token is a compact JWS (HS256) over {fp, ips, exp}: a SHA-256
// fingerprint of the committed secret, the set of client IPs seen while
// the token has been valid, and a fixed-window expiry. Binding to the
// fingerprint means resetting or re-enrolling MFA invalidates every
// outstanding token without server-side state.
package remember

import (
	"crypto/hmac"
	"errors"
	"time"

	"github.com/edline/otpgate/internal/domain/types"
	tokens "github.com/edline/otpgate/internal/security/token"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultWindow is how long a remembered device skips verification.
const DefaultWindow = 30 * 24 * time.Hour

// maxIPs caps the accumulated IP set; the original grows unbounded.
// Oldest entries are evicted first.
const maxIPs = 10

// Claims is the signed payload.
type Claims struct {
	Fingerprint string   `json:"fp"`
	IPs         []string `json:"ips"`
	jwt.RegisteredClaims
}

// Tokens mints and validates remember-me tokens with a dedicated MAC key.
type Tokens struct {
	key    []byte
	window time.Duration
}

// New creates a token factory. A zero window falls back to DefaultWindow.
func New(key []byte, window time.Duration) *Tokens {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tokens{key: key, window: window}
}

// Fingerprint derives the non-reversible identifier binding a token to a
// committed secret.
func Fingerprint(secretB32 string) string {
	return tokens.SHA256Hex(secretB32)
}

// Issue mints a token for the principal's committed secret with clientIP
// as the initial IP set.
func (t *Tokens) Issue(p *types.Principal, now time.Time, clientIP string) (string, error) {
	if !p.HasCommittedSecret() {
		return "", errors.New("remember: principal has no committed secret")
	}
	return t.sign(Claims{
		Fingerprint: Fingerprint(p.OTPSecret),
		IPs:         []string{clientIP},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.window)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
}

// Parse validates the signature and expiry and returns the claims.
func (t *Tokens) Parse(raw string, now time.Time) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// Accept validates raw against the principal's current committed secret.
// On success it returns a refreshed token with clientIP merged into the
// IP set; the expiry is carried over unchanged (fixed window, the old
// token stays valid until it expires on its own).
func (t *Tokens) Accept(raw string, p *types.Principal, now time.Time, clientIP string) (string, bool) {
	if raw == "" || !p.HasCommittedSecret() {
		return "", false
	}
	claims, err := t.Parse(raw, now)
	if err != nil {
		return "", false
	}
	want := Fingerprint(p.OTPSecret)
	if !hmac.Equal([]byte(claims.Fingerprint), []byte(want)) {
		return "", false
	}

	ips := appendIP(claims.IPs, clientIP)
	refreshed, err := t.sign(Claims{
		Fingerprint: claims.Fingerprint,
		IPs:         ips,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: claims.ExpiresAt,
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	if err != nil {
		return "", false
	}
	return refreshed, true
}

func (t *Tokens) sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(t.key)
}

func appendIP(ips []string, ip string) []string {
	for _, existing := range ips {
		if existing == ip {
			return ips
		}
	}
	ips = append(ips, ip)
	if len(ips) > maxIPs {
		ips = ips[len(ips)-maxIPs:]
	}
	return ips
}
