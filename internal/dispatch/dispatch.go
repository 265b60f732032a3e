// Package dispatch delivers one-time codes to communication channels.
// Delivery is best-effort: callers treat failures as log-only.
package dispatch

import (
	"context"

	"github.com/edline/otpgate/internal/domain/types"
)

// Dispatcher sends a one-time code to a channel.
type Dispatcher interface {
	SendOTPCode(ctx context.Context, channel types.CommunicationChannel, code string) error
}

// Noop discards every message. Used in tests and when SMTP is not
// configured.
type Noop struct{}

func (Noop) SendOTPCode(ctx context.Context, channel types.CommunicationChannel, code string) error {
	return nil
}
