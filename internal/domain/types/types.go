// Package types holds the domain entities shared across layers.
package types

import "time"

// ChannelType classifies a communication channel.
type ChannelType string

const (
	ChannelSMS   ChannelType = "sms"
	ChannelEmail ChannelType = "email"
)

// ChannelState is the workflow state of a communication channel.
type ChannelState string

const (
	ChannelUnconfirmed ChannelState = "unconfirmed"
	ChannelActive      ChannelState = "active"
)

// CommunicationChannel is a delivery address owned by a principal.
// SMS paths may be bare numbers or carrier email-gateway addresses
// ("5551234567@txt.example.net").
type CommunicationChannel struct {
	ID    string
	Type  ChannelType
	Path  string
	State ChannelState
}

// Principal is the authenticating identity.
//
// OTPSecret is the committed secret (base32, empty when the principal has
// not completed enrollment). It is only ever set after a successful first
// verification; stores keep it encrypted at rest.
type Principal struct {
	ID         string
	Email      string
	OTPSecret  string
	OTPChannel string // ID of the channel codes are delivered to, empty for app-based
	Channels   []CommunicationChannel

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCommittedSecret reports whether enrollment has completed.
func (p *Principal) HasCommittedSecret() bool {
	return p != nil && p.OTPSecret != ""
}

// SMSChannel returns the channel codes should be sent to: the configured
// OTP channel if it is SMS, else the first SMS channel. Nil when none.
func (p *Principal) SMSChannel() *CommunicationChannel {
	if p == nil {
		return nil
	}
	if p.OTPChannel != "" {
		if ch := p.Channel(p.OTPChannel); ch != nil && ch.Type == ChannelSMS {
			return ch
		}
	}
	for i := range p.Channels {
		if p.Channels[i].Type == ChannelSMS {
			return &p.Channels[i]
		}
	}
	return nil
}

// Channel looks up a channel by ID. Nil when absent.
func (p *Principal) Channel(id string) *CommunicationChannel {
	for i := range p.Channels {
		if p.Channels[i].ID == id {
			return &p.Channels[i]
		}
	}
	return nil
}

// BackupCode is a pre-generated single-use fallback credential. Only the
// hash is persisted.
type BackupCode struct {
	PrincipalID string
	CodeHash    string
	UsedAt      *time.Time
	CreatedAt   time.Time
}
