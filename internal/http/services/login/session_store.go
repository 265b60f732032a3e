package login

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edline/otpgate/internal/cache"
	"github.com/edline/otpgate/internal/otp/flow"
	tokens "github.com/edline/otpgate/internal/security/token"
)

const sessionKeyPrefix = "otp:session:"

// SessionStore keeps the login-attempt OTP state in the cache, keyed by
// an opaque session ID carried in a cookie. With the Redis driver the
// state survives instance restarts and is shared across replicas.
type SessionStore struct {
	cache cache.Client
	ttl   time.Duration
}

// NewSessionStore creates a store; ttl bounds how long a login attempt
// may stay pending.
func NewSessionStore(c cache.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionStore{cache: c, ttl: ttl}
}

// Create mints a fresh session with a new opaque ID.
func (s *SessionStore) Create(ctx context.Context) (string, *flow.Session, error) {
	sid, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return "", nil, fmt.Errorf("session: generate id: %w", err)
	}
	sess := &flow.Session{}
	if err := s.Save(ctx, sid, sess); err != nil {
		return "", nil, err
	}
	return sid, sess, nil
}

// Get loads the session for sid. Returns (nil, nil) when absent or
// expired; that is a fresh-login signal, not an error.
func (s *SessionStore) Get(ctx context.Context, sid string) (*flow.Session, error) {
	if sid == "" {
		return nil, nil
	}
	raw, err := s.cache.Get(ctx, sessionKeyPrefix+sid)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}
	var sess flow.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &sess, nil
}

// Save persists the session, refreshing its TTL.
func (s *SessionStore) Save(ctx context.Context, sid string, sess *flow.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := s.cache.Set(ctx, sessionKeyPrefix+sid, string(raw), s.ttl); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Delete drops the session.
func (s *SessionStore) Delete(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	return s.cache.Delete(ctx, sessionKeyPrefix+sid)
}

// TTL is the configured session lifetime (cookie Max-Age).
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}
