package flow

import "github.com/edline/otpgate/internal/domain/types"

// PermissionChecker decides whether an actor may reset MFA for a target.
// Richer role systems plug in behind this interface; the core never
// inspects roles itself.
type PermissionChecker interface {
	CanResetMFAFor(actor, target *types.Principal) bool
}

// StaticPermissionChecker is the default policy: self-reset is allowed
// unless MFA is required by policy, and listed admins may reset anyone.
type StaticPermissionChecker struct {
	MFARequired bool
	ResetAnyMFA map[string]bool // principal IDs holding the reset-any permission
}

func (c StaticPermissionChecker) CanResetMFAFor(actor, target *types.Principal) bool {
	if actor == nil || target == nil {
		return false
	}
	if c.ResetAnyMFA[actor.ID] {
		return true
	}
	if actor.ID == target.ID {
		return !c.MFARequired
	}
	return false
}
