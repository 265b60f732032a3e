// Package login is the service layer between the OTP controllers and
// the core flow: it resolves principals, owns the cache-backed login
// session, and translates repository errors.
package login

import (
	"context"
	"errors"
	"time"

	"github.com/edline/otpgate/internal/domain/repository"
	"github.com/edline/otpgate/internal/domain/types"
	"github.com/edline/otpgate/internal/otp/flow"
	"github.com/edline/otpgate/internal/security/totp"
)

// Service-level sentinel errors, mapped to HTTP errors by the controller.
var (
	ErrPrincipalNotFound = errors.New("login: principal not found")
	ErrNoPendingSecret   = errors.New("login: no pending secret")
)

// OTPService drives the OTP step of a login attempt.
type OTPService struct {
	repo     repository.PrincipalRepository
	flow     *flow.Flow
	sessions *SessionStore
	issuer   string
}

// NewOTPService assembles the service.
func NewOTPService(repo repository.PrincipalRepository, f *flow.Flow, sessions *SessionStore, issuer string) *OTPService {
	return &OTPService{repo: repo, flow: f, sessions: sessions, issuer: issuer}
}

// Sessions exposes the session store (the controller manages cookies).
func (s *OTPService) Sessions() *SessionStore {
	return s.sessions
}

// InitiateInput carries everything the controller extracted from the
// request.
type InitiateInput struct {
	PrincipalID    string
	SessionID      string // empty on first contact
	RememberCookie string
	ClientIP       string
	Reenroll       bool
}

// InitiateOutput pairs the flow result with the session ID to set as a
// cookie.
type InitiateOutput struct {
	SessionID string
	Result    *flow.InitiateResult
}

// Initiate starts (or bypasses) the OTP step.
func (s *OTPService) Initiate(ctx context.Context, in InitiateInput) (*InitiateOutput, error) {
	p, err := s.principal(ctx, in.PrincipalID)
	if err != nil {
		return nil, err
	}

	sid := in.SessionID
	sess, err := s.sessions.Get(ctx, sid)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sid, sess, err = s.sessions.Create(ctx)
		if err != nil {
			return nil, err
		}
	}

	res, err := s.flow.Initiate(ctx, sess, p, in.RememberCookie, in.ClientIP, in.Reenroll, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, sid, sess); err != nil {
		return nil, err
	}
	return &InitiateOutput{SessionID: sid, Result: res}, nil
}

// SubmitInput carries a code submission.
type SubmitInput struct {
	PrincipalID    string
	SessionID      string
	Code           string
	RememberMe     bool
	RememberCookie string
	ClientIP       string
}

// Submit checks the code against the pending attempt.
func (s *OTPService) Submit(ctx context.Context, in SubmitInput) (*flow.SubmitResult, error) {
	p, err := s.principal(ctx, in.PrincipalID)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		// expired or never-started attempt
		sess = &flow.Session{}
	}

	res, err := s.flow.Submit(ctx, sess, p, in.Code, in.RememberMe, in.RememberCookie, in.ClientIP, time.Now())
	if err != nil {
		return nil, err
	}
	if in.SessionID != "" {
		if err := s.sessions.Save(ctx, in.SessionID, sess); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Cancel abandons the pending attempt. Idempotent: an unknown or
// expired session still succeeds.
func (s *OTPService) Cancel(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = &flow.Session{}
	}
	s.flow.Cancel(sess)
	if sessionID == "" {
		return nil
	}
	// keep the cancelled state visible to a racing submit
	return s.sessions.Save(ctx, sessionID, sess)
}

// PendingAuthURL returns the provisioning URL of the in-flight
// enrollment for QR rendering.
func (s *OTPService) PendingAuthURL(ctx context.Context, principalID, sessionID string) (string, error) {
	p, err := s.principal(ctx, principalID)
	if err != nil {
		return "", err
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil || sess.PendingSecret == "" {
		return "", ErrNoPendingSecret
	}
	return totp.OTPAuthURL(s.issuer, p.Email, sess.PendingSecret), nil
}

// Reset removes the target's MFA configuration on behalf of the actor.
func (s *OTPService) Reset(ctx context.Context, actorID, targetID string) error {
	actor, err := s.principal(ctx, actorID)
	if err != nil {
		return err
	}
	target, err := s.principal(ctx, targetID)
	if err != nil {
		return err
	}
	return s.flow.Reset(ctx, actor, target)
}

func (s *OTPService) principal(ctx context.Context, id string) (*types.Principal, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}
	return p, nil
}
