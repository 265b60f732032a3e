package flow

import "time"

// State of the OTP login attempt.
type State string

const (
	StateNoPendingOtp        State = "no_pending_otp"
	StatePendingEnrollment   State = "pending_enrollment"
	StatePendingVerification State = "pending_verification"
	StateVerified            State = "verified"
	StateCancelled           State = "cancelled"
)

// DriftPolicy selects the acceptance window. It is decided once at
// initiate time and carried through to submit.
type DriftPolicy string

const (
	// DriftApp is the authenticator-app policy.
	DriftApp DriftPolicy = "app"
	// DriftSMS compensates for delivery latency of SMS-delivered codes.
	DriftSMS DriftPolicy = "sms"
)

// Window returns the behind/ahead tolerance of the policy.
func (d DriftPolicy) Window() (behind, ahead time.Duration) {
	if d == DriftSMS {
		return 300 * time.Second, 300 * time.Second
	}
	return 30 * time.Second, 30 * time.Second
}

// Session is the ephemeral, login-attempt-scoped OTP state. It is owned
// by the caller (typically serialized into the session store between
// requests) and passed by pointer into every Flow call; the Flow never
// keeps ambient per-login state of its own.
type Session struct {
	PrincipalID string `json:"principal_id"`

	// Pending marks that this login attempt still owes an OTP check.
	Pending bool `json:"pending_otp,omitempty"`

	// PendingSecret is the not-yet-committed candidate secret (base32),
	// present only during enrollment.
	PendingSecret string `json:"pending_secret,omitempty"`

	// PendingChannelID is the SMS channel a code was delivered to during
	// enrollment, when one exists.
	PendingChannelID string `json:"pending_channel_id,omitempty"`

	// Drift is the policy chosen at initiate time.
	Drift DriftPolicy `json:"drift_policy,omitempty"`

	State State `json:"state,omitempty"`
}

// clearPending wipes every pending field. Shared by cancel and the
// verified commit path.
func (s *Session) clearPending() {
	s.Pending = false
	s.PendingSecret = ""
	s.PendingChannelID = ""
	s.Drift = ""
}

// HasPending reports whether anything is awaiting a code.
func (s *Session) HasPending() bool {
	return s.Pending || s.PendingSecret != ""
}

// Outcome of a submit call.
type Outcome string

const (
	// OutcomeVerified terminates the login attempt successfully.
	OutcomeVerified Outcome = "verified"
	// OutcomeInvalidCode covers both window misses and replays; the two
	// are indistinguishable to the user on purpose.
	OutcomeInvalidCode Outcome = "invalid_code"
	// OutcomeNothingPending means there was nothing to configure or
	// verify. Distinct from a failed code check.
	OutcomeNothingPending Outcome = "nothing_pending"
)
