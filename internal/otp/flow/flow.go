// Package flow drives the multi-step OTP login: initiate, submit,
// cancel. It owns the enrollment/verification distinction, the drift
// policy, replay claims, backup-code fallback and remember-me bypass,
// and is transport-agnostic: the HTTP layer translates its results.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edline/otpgate/internal/dispatch"
	"github.com/edline/otpgate/internal/domain/types"
	"github.com/edline/otpgate/internal/metrics"
	"github.com/edline/otpgate/internal/observability/logger"
	"github.com/edline/otpgate/internal/otp/backup"
	"github.com/edline/otpgate/internal/otp/remember"
	"github.com/edline/otpgate/internal/otp/replay"
	"github.com/edline/otpgate/internal/security/totp"
)

// ErrPermissionDenied is returned by Reset when the actor may not reset
// MFA for the target.
var ErrPermissionDenied = errors.New("flow: permission denied")

// Config tunes the flow.
type Config struct {
	// Issuer appears in provisioning URLs ("otpauth://totp/Issuer:acct").
	Issuer string
	// BackupCodeCount is the batch size minted on enrollment. Zero means
	// the vault default.
	BackupCodeCount int
}

// Flow wires the OTP core together. All methods take the login-scoped
// *Session; the Flow itself is safe for concurrent use.
type Flow struct {
	repo       RepositoryPort
	vault      *backup.Vault
	guard      *replay.Guard
	remember   *remember.Tokens
	dispatcher dispatch.Dispatcher
	perms      PermissionChecker
	cfg        Config

	// testHookBeforeCommit runs between a successful code check and the
	// session-state commit. Lets tests interleave a cancel.
	testHookBeforeCommit func()
}

// RepositoryPort is the slice of the principal repository the flow
// needs. Satisfied by repository.PrincipalRepository.
type RepositoryPort interface {
	CommitSecret(ctx context.Context, id, secretB32, channelID string) error
	ClearSecret(ctx context.Context, id string) error
	ActivateChannel(ctx context.Context, id, channelID string) error
}

// New assembles a Flow. dispatcher may be dispatch.Noop; perms may be
// nil, in which case Reset denies everything except explicit checkers.
func New(repo RepositoryPort, vault *backup.Vault, guard *replay.Guard, rem *remember.Tokens, dispatcher dispatch.Dispatcher, perms PermissionChecker, cfg Config) *Flow {
	if dispatcher == nil {
		dispatcher = dispatch.Noop{}
	}
	return &Flow{
		repo:       repo,
		vault:      vault,
		guard:      guard,
		remember:   rem,
		dispatcher: dispatcher,
		perms:      perms,
		cfg:        cfg,
	}
}

// InitiateResult is what the caller renders after starting (or skipping)
// the OTP step.
type InitiateResult struct {
	State State

	// SecretB32 and OTPAuthURL are set only during enrollment, for
	// manual entry and QR display respectively.
	SecretB32  string
	OTPAuthURL string

	// OTPSent reports that a code was handed to the dispatcher.
	OTPSent bool

	// PendingChannelID is the SMS channel the code went to, when any.
	PendingChannelID string

	// RememberToken is the refreshed remember-me token when the device
	// bypassed verification. Empty otherwise.
	RememberToken string
}

// Initiate starts the OTP step for a login attempt.
//
// A valid remember-me cookie bound to the committed secret skips
// verification entirely. Principals without a committed secret (and
// enrolled principals asking to reenroll) get a fresh candidate secret;
// everyone else is asked for a code against their committed secret.
// Calling Initiate again on a pending session reuses the pending state
// rather than rotating the candidate secret, so a page reload does not
// invalidate the QR the user is mid-way through scanning.
func (f *Flow) Initiate(ctx context.Context, sess *Session, p *types.Principal, rememberCookie, clientIP string, reenroll bool, now time.Time) (*InitiateResult, error) {
	if p == nil {
		return nil, errors.New("flow: nil principal")
	}
	sess.PrincipalID = p.ID

	if p.HasCommittedSecret() && !reenroll {
		if refreshed, ok := f.remember.Accept(rememberCookie, p, now, clientIP); ok {
			metrics.RememberBypasses.Inc()
			sess.clearPending()
			sess.State = StateVerified
			return &InitiateResult{State: StateVerified, RememberToken: refreshed}, nil
		}
	}

	if !p.HasCommittedSecret() || reenroll {
		return f.initiateEnrollment(ctx, sess, p, now)
	}
	return f.initiateVerification(ctx, sess, p, now)
}

func (f *Flow) initiateEnrollment(ctx context.Context, sess *Session, p *types.Principal, now time.Time) (*InitiateResult, error) {
	// Reuse the in-flight candidate on reload; mint otherwise.
	if sess.PendingSecret == "" || sess.State != StatePendingEnrollment {
		_, b32, err := totp.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("flow: generate secret: %w", err)
		}
		sess.PendingSecret = b32
		sess.PendingChannelID = ""
		sess.Drift = DriftApp
	}
	sess.Pending = true
	sess.State = StatePendingEnrollment

	res := &InitiateResult{
		State:      StatePendingEnrollment,
		SecretB32:  sess.PendingSecret,
		OTPAuthURL: totp.OTPAuthURL(f.cfg.Issuer, p.Email, sess.PendingSecret),
	}
	if ch := p.SMSChannel(); ch != nil {
		sess.PendingChannelID = ch.ID
		sess.Drift = DriftSMS
		res.PendingChannelID = ch.ID
		res.OTPSent = f.sendCode(ctx, *ch, sess.PendingSecret, now)
	}
	return res, nil
}

func (f *Flow) initiateVerification(ctx context.Context, sess *Session, p *types.Principal, now time.Time) (*InitiateResult, error) {
	sess.Pending = true
	sess.PendingSecret = ""
	sess.PendingChannelID = ""
	sess.Drift = DriftApp
	sess.State = StatePendingVerification

	res := &InitiateResult{State: StatePendingVerification}
	if ch := p.SMSChannel(); ch != nil && p.OTPChannel == ch.ID {
		sess.Drift = DriftSMS
		res.OTPSent = f.sendCode(ctx, *ch, p.OTPSecret, now)
	}
	return res, nil
}

// sendCode hands the current code for secretB32 to the dispatcher in the
// background. Delivery failures never fail the login; they are logged
// and counted. Returns whether a send was attempted.
func (f *Flow) sendCode(ctx context.Context, ch types.CommunicationChannel, secretB32 string, now time.Time) bool {
	raw, err := totp.DecodeSecret(secretB32)
	if err != nil {
		logger.From(ctx).Error("undecodable otp secret, code not sent",
			logger.Component("flow"), logger.ChannelID(ch.ID), logger.Err(err))
		return false
	}
	code := totp.CodeAt(raw, now)
	log := logger.From(ctx)
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := f.dispatcher.SendOTPCode(bg, ch, code); err != nil {
			metrics.Dispatches.WithLabelValues("error").Inc()
			log.Warn("otp code dispatch failed",
				logger.Component("flow"), logger.ChannelID(ch.ID), logger.Err(err))
			return
		}
		metrics.Dispatches.WithLabelValues("ok").Inc()
	}()
	return true
}

// SubmitResult is the outcome of a code submission.
type SubmitResult struct {
	Outcome Outcome

	// Enrolled is true when this submission completed enrollment.
	Enrolled bool

	// BackupCodes holds the freshly minted plaintext codes after
	// enrollment. This is the only time they are visible.
	BackupCodes []string

	// RememberToken is set when the caller asked to remember the device
	// (or presented a still-valid token that got its IP set refreshed).
	RememberToken string
}

// Submit checks a submitted code against the pending login attempt.
//
// The committed secret always wins: if a code satisfies it, the attempt
// verifies without touching any pending enrollment. Backup codes are
// accepted only against a committed secret. A code that was already
// redeemed within its drift window fails exactly like a wrong code.
func (f *Flow) Submit(ctx context.Context, sess *Session, p *types.Principal, code string, rememberDevice bool, rememberCookie, clientIP string, now time.Time) (*SubmitResult, error) {
	if p == nil {
		return nil, errors.New("flow: nil principal")
	}
	if sess.State == StateCancelled || !sess.HasPending() {
		metrics.Verifications.WithLabelValues(string(OutcomeNothingPending)).Inc()
		return &SubmitResult{Outcome: OutcomeNothingPending}, nil
	}

	code = totp.Normalize(code)
	behind, ahead := sess.Drift.Window()

	verified := false
	enrolling := false
	if p.HasCommittedSecret() {
		verified = f.checkTOTP(ctx, p.ID, p.OTPSecret, code, behind, ahead, now)
		if !verified {
			ok, err := f.vault.Consume(ctx, p.ID, code)
			if err != nil {
				return nil, fmt.Errorf("flow: consume backup code: %w", err)
			}
			verified = ok
		}
	} else if sess.PendingSecret != "" {
		enrolling = true
		verified = f.checkTOTP(ctx, p.ID, sess.PendingSecret, code, behind, ahead, now)
	}

	if !verified {
		metrics.Verifications.WithLabelValues(string(OutcomeInvalidCode)).Inc()
		return &SubmitResult{Outcome: OutcomeInvalidCode}, nil
	}

	if f.testHookBeforeCommit != nil {
		f.testHookBeforeCommit()
	}
	// A concurrent cancel wins over an in-flight verification.
	if sess.State == StateCancelled {
		metrics.Verifications.WithLabelValues(string(OutcomeNothingPending)).Inc()
		return &SubmitResult{Outcome: OutcomeNothingPending}, nil
	}

	res := &SubmitResult{Outcome: OutcomeVerified}
	if enrolling {
		if err := f.commitEnrollment(ctx, sess, p, res); err != nil {
			return nil, err
		}
	}

	if rememberDevice || rememberCookie != "" {
		res.RememberToken = f.rememberToken(ctx, p, rememberDevice, rememberCookie, clientIP, now)
	}

	sess.clearPending()
	sess.State = StateVerified
	metrics.Verifications.WithLabelValues(string(OutcomeVerified)).Inc()
	return res, nil
}

// checkTOTP matches the code against the secret and, on a match, claims
// it in the replay guard. The claim TTL spans the whole drift window so
// the code cannot be replayed anywhere it would still verify.
func (f *Flow) checkTOTP(ctx context.Context, principalID, secretB32, code string, behind, ahead time.Duration, now time.Time) bool {
	raw, err := totp.DecodeSecret(secretB32)
	if err != nil {
		logger.From(ctx).Error("undecodable otp secret",
			logger.Component("flow"), logger.PrincipalID(principalID), logger.Err(err))
		return false
	}
	if !totp.Verify(raw, code, behind, ahead, now) {
		return false
	}
	return f.guard.TryAcceptOnce(ctx, principalID, code, behind+ahead)
}

// commitEnrollment promotes the pending secret: activates the delivery
// channel, persists the secret and mints a fresh batch of backup codes.
func (f *Flow) commitEnrollment(ctx context.Context, sess *Session, p *types.Principal, res *SubmitResult) error {
	if sess.PendingChannelID != "" {
		if err := f.repo.ActivateChannel(ctx, p.ID, sess.PendingChannelID); err != nil {
			return fmt.Errorf("flow: activate channel: %w", err)
		}
		if ch := p.Channel(sess.PendingChannelID); ch != nil {
			ch.State = types.ChannelActive
		}
	}
	if err := f.repo.CommitSecret(ctx, p.ID, sess.PendingSecret, sess.PendingChannelID); err != nil {
		return fmt.Errorf("flow: commit secret: %w", err)
	}
	p.OTPSecret = sess.PendingSecret
	p.OTPChannel = sess.PendingChannelID

	codes, err := f.vault.Generate(ctx, p.ID, f.cfg.BackupCodeCount)
	if err != nil {
		return fmt.Errorf("flow: generate backup codes: %w", err)
	}
	res.Enrolled = true
	res.BackupCodes = codes
	logger.From(ctx).Info("otp enrollment committed",
		logger.Component("flow"), logger.PrincipalID(p.ID), logger.ChannelID(sess.PendingChannelID))
	return nil
}

// rememberToken refreshes a presented token when it is still bound to
// the (possibly just-committed) secret, else mints a new one when the
// caller opted in.
func (f *Flow) rememberToken(ctx context.Context, p *types.Principal, requested bool, existing, clientIP string, now time.Time) string {
	if existing != "" {
		if refreshed, ok := f.remember.Accept(existing, p, now, clientIP); ok {
			return refreshed
		}
	}
	if !requested {
		return ""
	}
	tok, err := f.remember.Issue(p, now, clientIP)
	if err != nil {
		logger.From(ctx).Warn("remember token issue failed",
			logger.Component("flow"), logger.PrincipalID(p.ID), logger.Err(err))
		return ""
	}
	return tok
}

// Cancel abandons the pending OTP step. Idempotent: cancelling with
// nothing pending, or twice, behaves identically. A candidate secret is
// discarded and never becomes valid.
func (f *Flow) Cancel(sess *Session) {
	sess.clearPending()
	sess.State = StateCancelled
}

// AcceptRememberCookie validates a remember-me cookie outside the login
// flow (the HTTP layer refreshes cookies on authenticated requests).
func (f *Flow) AcceptRememberCookie(raw string, p *types.Principal, now time.Time, clientIP string) (string, bool) {
	return f.remember.Accept(raw, p, now, clientIP)
}

// Reset removes the target's MFA configuration: committed secret, OTP
// channel and backup codes. Outstanding remember-me tokens die with the
// secret their fingerprint was bound to. The actor needs either the
// reset-any permission or self-reset rights.
func (f *Flow) Reset(ctx context.Context, actor, target *types.Principal) error {
	if f.perms == nil || !f.perms.CanResetMFAFor(actor, target) {
		return ErrPermissionDenied
	}
	if err := f.repo.ClearSecret(ctx, target.ID); err != nil {
		return fmt.Errorf("flow: clear secret: %w", err)
	}
	target.OTPSecret = ""
	target.OTPChannel = ""
	logger.From(ctx).Info("mfa reset",
		logger.Component("flow"), logger.PrincipalID(target.ID), logger.String("actor_id", actor.ID))
	return nil
}
