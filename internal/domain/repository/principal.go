// Package repository defines the persistence contracts consumed by the
// OTP core. Implementations live under internal/store.
package repository

import (
	"context"

	"github.com/edline/otpgate/internal/domain/types"
)

// PrincipalRepository persists principals, their committed OTP secret and
// their backup codes.
type PrincipalRepository interface {
	// GetByID loads a principal. Returns ErrNotFound when absent.
	// The committed secret comes back decrypted (base32).
	GetByID(ctx context.Context, id string) (*types.Principal, error)

	// CommitSecret promotes a verified secret to the principal, records
	// the OTP delivery channel (empty for app-based) and drops any backup
	// codes minted for a previous secret.
	CommitSecret(ctx context.Context, id, secretB32, channelID string) error

	// ClearSecret removes the committed secret, the OTP channel and all
	// backup codes. Used by MFA reset.
	ClearSecret(ctx context.Context, id string) error

	// ActivateChannel marks a communication channel active. Idempotent:
	// activating an already-active channel is not an error.
	ActivateChannel(ctx context.Context, id, channelID string) error

	// SetBackupCodes replaces the principal's backup codes with the given
	// set. Codes must be hashed before the call.
	SetBackupCodes(ctx context.Context, id string, hashes []string) error

	// ConsumeBackupCode marks a backup code used. Returns true only when
	// the hash matched an unconsumed code; the mark is atomic so two
	// concurrent calls for the same code yield exactly one true.
	ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error)

	// DeleteBackupCodes removes all backup codes of the principal.
	DeleteBackupCodes(ctx context.Context, id string) error
}
