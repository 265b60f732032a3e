package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edline/otpgate/internal/cache"
	"github.com/edline/otpgate/internal/domain/types"
	"github.com/edline/otpgate/internal/otp/backup"
	"github.com/edline/otpgate/internal/otp/remember"
	"github.com/edline/otpgate/internal/otp/replay"
	"github.com/edline/otpgate/internal/security/totp"
	"github.com/edline/otpgate/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentCode struct {
	channel types.CommunicationChannel
	code    string
}

// recordingDispatcher captures dispatched codes. Sends happen in a
// background goroutine, so capture is signalled through a channel.
type recordingDispatcher struct {
	mu    sync.Mutex
	sent  []sentCode
	first chan sentCode
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{first: make(chan sentCode, 8)}
}

func (d *recordingDispatcher) SendOTPCode(ctx context.Context, ch types.CommunicationChannel, code string) error {
	d.mu.Lock()
	d.sent = append(d.sent, sentCode{channel: ch, code: code})
	d.mu.Unlock()
	d.first <- sentCode{channel: ch, code: code}
	return nil
}

func (d *recordingDispatcher) waitForSend(t *testing.T) sentCode {
	t.Helper()
	select {
	case s := <-d.first:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no code dispatched")
		return sentCode{}
	}
}

type fixture struct {
	flow  *Flow
	store *memory.Store
	disp  *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	disp := newRecordingDispatcher()
	f := New(
		store,
		backup.New(store),
		replay.New(cache.NewMemory("test:")),
		remember.New([]byte("0123456789abcdef0123456789abcdef"), 0),
		disp,
		StaticPermissionChecker{ResetAnyMFA: map[string]bool{"admin": true}},
		Config{Issuer: "otpgate", BackupCodeCount: 4},
	)
	return &fixture{flow: f, store: store, disp: disp}
}

func enrolledPrincipal(t *testing.T) *types.Principal {
	t.Helper()
	_, b32, err := totp.GenerateSecret()
	require.NoError(t, err)
	return &types.Principal{ID: "u1", Email: "u1@example.edu", OTPSecret: b32}
}

func codeFor(t *testing.T, secretB32 string, at time.Time) string {
	t.Helper()
	raw, err := totp.DecodeSecret(secretB32)
	require.NoError(t, err)
	return totp.CodeAt(raw, at)
}

func TestInitiateEnrollmentWithoutChannel(t *testing.T) {
	fx := newFixture(t)
	p := &types.Principal{ID: "u1", Email: "u1@example.edu"}
	fx.store.Put(*p)
	sess := &Session{}

	res, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatePendingEnrollment, res.State)
	assert.NotEmpty(t, res.SecretB32)
	assert.Contains(t, res.OTPAuthURL, "otpauth://totp/")
	assert.Contains(t, res.OTPAuthURL, res.SecretB32)
	assert.False(t, res.OTPSent)
	assert.Equal(t, DriftApp, sess.Drift)
	assert.True(t, sess.HasPending())

	// A reload keeps the candidate the user may already be scanning.
	res2, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, res.SecretB32, res2.SecretB32)
}

func TestInitiateEnrollmentSendsSMSCode(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := &types.Principal{
		ID:    "u1",
		Email: "u1@example.edu",
		Channels: []types.CommunicationChannel{
			{ID: "ch1", Type: types.ChannelSMS, Path: "5551234567", State: types.ChannelUnconfirmed},
		},
	}
	fx.store.Put(*p)
	sess := &Session{}

	res, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)

	assert.Equal(t, StatePendingEnrollment, res.State)
	assert.True(t, res.OTPSent)
	assert.Equal(t, "ch1", res.PendingChannelID)
	assert.Equal(t, DriftSMS, sess.Drift)

	sent := fx.disp.waitForSend(t)
	assert.Equal(t, "ch1", sent.channel.ID)
	assert.Equal(t, codeFor(t, sess.PendingSecret, now), sent.code)
}

func TestInitiateVerificationForEnrolledPrincipal(t *testing.T) {
	fx := newFixture(t)
	p := enrolledPrincipal(t)
	fx.store.Put(*p)
	sess := &Session{}

	res, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatePendingVerification, res.State)
	assert.Empty(t, res.SecretB32, "no new secret for an enrolled principal")
	assert.False(t, res.OTPSent)
	assert.Equal(t, DriftApp, sess.Drift)
}

func TestInitiateVerificationSMSUsesWideDrift(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := enrolledPrincipal(t)
	p.OTPChannel = "ch1"
	p.Channels = []types.CommunicationChannel{
		{ID: "ch1", Type: types.ChannelSMS, Path: "5551234567", State: types.ChannelActive},
	}
	fx.store.Put(*p)
	sess := &Session{}

	res, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)

	assert.Equal(t, StatePendingVerification, res.State)
	assert.True(t, res.OTPSent)
	assert.Equal(t, DriftSMS, sess.Drift)

	sent := fx.disp.waitForSend(t)
	assert.Equal(t, codeFor(t, p.OTPSecret, now), sent.code)
}

func TestSubmitVerifiesWithinDriftWindow(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := enrolledPrincipal(t)
	fx.store.Put(*p)

	tests := []struct {
		name string
		at   time.Time
		want Outcome
	}{
		{"current step", now, OutcomeVerified},
		{"30s behind", now.Add(-30 * time.Second), OutcomeVerified},
		{"61s ahead", now.Add(61 * time.Second), OutcomeInvalidCode},
		{"5m behind", now.Add(-5 * time.Minute), OutcomeInvalidCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &Session{}
			_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
			require.NoError(t, err)

			res, err := fx.flow.Submit(context.Background(), sess, p, codeFor(t, p.OTPSecret, tt.at), false, "", "1.1.1.1", now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
		})
	}
}

func TestSubmitSMSDriftAcceptsLateCode(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := enrolledPrincipal(t)
	p.OTPChannel = "ch1"
	p.Channels = []types.CommunicationChannel{
		{ID: "ch1", Type: types.ChannelSMS, Path: "5551234567", State: types.ChannelActive},
	}
	fx.store.Put(*p)
	sess := &Session{}
	_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	fx.disp.waitForSend(t)

	// 290s old: inside the SMS window, far outside the app window.
	late := codeFor(t, p.OTPSecret, now.Add(-290*time.Second))
	res, err := fx.flow.Submit(context.Background(), sess, p, late, false, "", "1.1.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, res.Outcome)
}

func TestSubmitToleratesWhitespace(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := enrolledPrincipal(t)
	fx.store.Put(*p)
	sess := &Session{}
	_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)

	code := codeFor(t, p.OTPSecret, now)
	spaced := " " + code[:3] + " " + code[3:] + "\t"
	res, err := fx.flow.Submit(context.Background(), sess, p, spaced, false, "", "1.1.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, res.Outcome)
}

func TestSubmitRejectsReplayedCode(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := enrolledPrincipal(t)
	fx.store.Put(*p)
	code := codeFor(t, p.OTPSecret, now)

	sess := &Session{}
	_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	res, err := fx.flow.Submit(context.Background(), sess, p, code, false, "", "1.1.1.1", now)
	require.NoError(t, err)
	require.Equal(t, OutcomeVerified, res.Outcome)

	// Second login attempt, same still-in-window code.
	sess2 := &Session{}
	_, err = fx.flow.Initiate(context.Background(), sess2, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	res2, err := fx.flow.Submit(context.Background(), sess2, p, code, false, "", "1.1.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidCode, res2.Outcome, "replay must look like a wrong code")
}

func TestSubmitNothingPending(t *testing.T) {
	fx := newFixture(t)
	p := enrolledPrincipal(t)
	fx.store.Put(*p)

	res, err := fx.flow.Submit(context.Background(), &Session{}, p, "123456", false, "", "1.1.1.1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingPending, res.Outcome)
}

func TestSubmitCommitsEnrollment(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := &types.Principal{
		ID:    "u1",
		Email: "u1@example.edu",
		Channels: []types.CommunicationChannel{
			{ID: "ch1", Type: types.ChannelSMS, Path: "5551234567", State: types.ChannelUnconfirmed},
		},
	}
	fx.store.Put(*p)
	sess := &Session{}
	_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	fx.disp.waitForSend(t)
	candidate := sess.PendingSecret

	res, err := fx.flow.Submit(context.Background(), sess, p, codeFor(t, candidate, now), false, "", "1.1.1.1", now)
	require.NoError(t, err)

	assert.Equal(t, OutcomeVerified, res.Outcome)
	assert.True(t, res.Enrolled)
	assert.Len(t, res.BackupCodes, 4)
	assert.Equal(t, StateVerified, sess.State)
	assert.False(t, sess.HasPending())

	stored, err := fx.store.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, candidate, stored.OTPSecret)
	assert.Equal(t, "ch1", stored.OTPChannel)
	require.NotNil(t, stored.Channel("ch1"))
	assert.Equal(t, types.ChannelActive, stored.Channel("ch1").State)
	assert.Equal(t, 4, fx.store.UnusedBackupCodeCount("u1"))

	// The spec'd lifecycle: next initiate asks for verification.
	sess2 := &Session{}
	res2, err := fx.flow.Initiate(context.Background(), sess2, stored, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	assert.Equal(t, StatePendingVerification, res2.State)
}

func TestSubmitWrongCodeDoesNotCommit(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := &types.Principal{ID: "u1", Email: "u1@example.edu"}
	fx.store.Put(*p)
	sess := &Session{}
	_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)

	res, err := fx.flow.Submit(context.Background(), sess, p, "000000", false, "", "1.1.1.1", now)
	require.NoError(t, err)

	assert.Equal(t, OutcomeInvalidCode, res.Outcome)
	assert.Equal(t, StatePendingEnrollment, sess.State)
	assert.True(t, sess.HasPending(), "failed submit keeps the attempt pending")

	stored, err := fx.store.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stored.HasCommittedSecret())
}

func TestCommittedSecretTakesPrecedenceOverPending(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := enrolledPrincipal(t)
	fx.store.Put(*p)
	committed := p.OTPSecret

	// Re-enrollment leaves both a committed and a pending secret around.
	sess := &Session{}
	res, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", true, now)
	require.NoError(t, err)
	require.Equal(t, StatePendingEnrollment, res.State)
	require.NotEqual(t, committed, sess.PendingSecret)

	out, err := fx.flow.Submit(context.Background(), sess, p, codeFor(t, committed, now), false, "", "1.1.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, out.Outcome)
	assert.False(t, out.Enrolled)

	stored, err := fx.store.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, committed, stored.OTPSecret, "pending secret never committed")
}

func TestSubmitBackupCodeFallback(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	p := enrolledPrincipal(t)
	fx.store.Put(*p)
	codes, err := backup.New(fx.store).Generate(ctx, p.ID, 4)
	require.NoError(t, err)

	sess := &Session{}
	_, err = fx.flow.Initiate(ctx, sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	res, err := fx.flow.Submit(ctx, sess, p, codes[0], false, "", "1.1.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, res.Outcome)
	assert.Equal(t, 3, fx.store.UnusedBackupCodeCount(p.ID))

	// Same backup code again: single-use.
	sess2 := &Session{}
	_, err = fx.flow.Initiate(ctx, sess2, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	res2, err := fx.flow.Submit(ctx, sess2, p, codes[0], false, "", "1.1.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidCode, res2.Outcome)
}

func TestRememberCookieBypassesVerification(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := enrolledPrincipal(t)
	fx.store.Put(*p)

	// First login verifies and asks to be remembered.
	sess := &Session{}
	_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	res, err := fx.flow.Submit(context.Background(), sess, p, codeFor(t, p.OTPSecret, now), true, "", "1.1.1.1", now)
	require.NoError(t, err)
	require.Equal(t, OutcomeVerified, res.Outcome)
	require.NotEmpty(t, res.RememberToken)

	// Second login with the cookie skips the OTP step entirely.
	later := now.Add(time.Hour)
	sess2 := &Session{}
	res2, err := fx.flow.Initiate(context.Background(), sess2, p, res.RememberToken, "2.2.2.2", false, later)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res2.State)
	assert.NotEmpty(t, res2.RememberToken)
	assert.False(t, sess2.HasPending())
}

func TestRememberCookieIgnoredAfterReset(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	p := enrolledPrincipal(t)
	fx.store.Put(*p)

	sess := &Session{}
	_, err := fx.flow.Initiate(ctx, sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	res, err := fx.flow.Submit(ctx, sess, p, codeFor(t, p.OTPSecret, now), true, "", "1.1.1.1", now)
	require.NoError(t, err)
	require.NotEmpty(t, res.RememberToken)

	require.NoError(t, fx.flow.Reset(ctx, p, p))
	require.False(t, p.HasCommittedSecret())

	// Reset drops the secret the cookie fingerprint was bound to, so the
	// next login starts enrollment from scratch.
	sess2 := &Session{}
	res2, err := fx.flow.Initiate(ctx, sess2, p, res.RememberToken, "1.1.1.1", false, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatePendingEnrollment, res2.State)
}

func TestSubmitNoRememberTokenUnlessRequested(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := enrolledPrincipal(t)
	fx.store.Put(*p)
	sess := &Session{}
	_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)

	res, err := fx.flow.Submit(context.Background(), sess, p, codeFor(t, p.OTPSecret, now), false, "", "1.1.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, res.Outcome)
	assert.Empty(t, res.RememberToken)
}

func TestCancelIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	p := &types.Principal{ID: "u1", Email: "u1@example.edu"}
	fx.store.Put(*p)
	sess := &Session{}
	_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, time.Now())
	require.NoError(t, err)
	require.True(t, sess.HasPending())

	fx.flow.Cancel(sess)
	assert.Equal(t, StateCancelled, sess.State)
	assert.False(t, sess.HasPending())
	assert.Empty(t, sess.PendingSecret, "candidate secret discarded")

	fx.flow.Cancel(sess)
	assert.Equal(t, StateCancelled, sess.State)

	// Cancel with nothing ever pending also succeeds.
	fx.flow.Cancel(&Session{})
}

func TestCancelWinsOverInFlightSubmit(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	p := &types.Principal{ID: "u1", Email: "u1@example.edu"}
	fx.store.Put(*p)
	sess := &Session{}
	_, err := fx.flow.Initiate(context.Background(), sess, p, "", "1.1.1.1", false, now)
	require.NoError(t, err)
	code := codeFor(t, sess.PendingSecret, now)

	fx.flow.testHookBeforeCommit = func() { fx.flow.Cancel(sess) }
	res, err := fx.flow.Submit(context.Background(), sess, p, code, false, "", "1.1.1.1", now)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNothingPending, res.Outcome)
	stored, err := fx.store.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stored.HasCommittedSecret(), "cancelled enrollment must not commit")
}

func TestResetPermissions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	target := enrolledPrincipal(t)
	fx.store.Put(*target)
	admin := &types.Principal{ID: "admin"}
	stranger := &types.Principal{ID: "u2"}

	err := fx.flow.Reset(ctx, stranger, target)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	require.NoError(t, fx.flow.Reset(ctx, admin, target))
	stored, err := fx.store.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasCommittedSecret())
	assert.Empty(t, stored.OTPChannel)
}

func TestResetDeniedWhenMFARequired(t *testing.T) {
	fx := newFixture(t)
	p := enrolledPrincipal(t)
	fx.store.Put(*p)

	checker := StaticPermissionChecker{MFARequired: true}
	assert.False(t, checker.CanResetMFAFor(p, p))
	checker.MFARequired = false
	assert.True(t, checker.CanResetMFAFor(p, p))
}
