// Package login holds the request/response shapes of the OTP endpoints.
package login

// SubmitRequest is the body of POST /v1/login/otp.
type SubmitRequest struct {
	VerificationCode string `json:"verification_code"`
	RememberMe       bool   `json:"remember_me"`
}

// StatusResponse is returned by GET and DELETE /v1/login/otp.
type StatusResponse struct {
	State string `json:"state"`

	// Enrollment-only: secret for manual entry plus the provisioning URL
	// rendered as a QR by GET /v1/login/otp/qr.
	SecretBase32 string `json:"secret_base32,omitempty"`
	OTPAuthURL   string `json:"otpauth_url,omitempty"`

	// OTPSent reports that a code was delivered to an SMS channel.
	OTPSent   bool   `json:"otp_sent,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// VerifyResponse is returned by a successful POST /v1/login/otp.
type VerifyResponse struct {
	State string `json:"state"`

	// BackupCodes appear exactly once, after enrollment.
	BackupCodes []string `json:"backup_codes,omitempty"`
}

// ResetResponse is returned by DELETE /v1/users/{userID}/mfa.
type ResetResponse struct {
	Reset bool `json:"reset"`
}
