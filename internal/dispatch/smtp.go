package dispatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/edline/otpgate/internal/domain/types"
	"github.com/edline/otpgate/internal/observability/logger"
	mail "github.com/go-mail/mail"
)

// SMTPSender delivers codes through an SMTP relay. SMS channels are
// reached via carrier email gateways; bare numbers get the configured
// default gateway domain appended.
type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	GatewayDomain      string // appended to bare SMS numbers, e.g. "txt.example.net"
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// NewSMTPSender creates an SMTPSender with the given relay parameters.
func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{
		Host:    host,
		Port:    port,
		From:    from,
		User:    user,
		Pass:    pass,
		TLSMode: "auto",
	}
}

// SendOTPCode sends the code to the channel's address.
func (s *SMTPSender) SendOTPCode(ctx context.Context, channel types.CommunicationChannel, code string) error {
	log := logger.From(ctx).With(
		logger.Component("SMTPSender"),
		logger.ChannelID(channel.ID),
	)

	to := channel.Path
	if channel.Type == types.ChannelSMS && !strings.Contains(to, "@") {
		if s.GatewayDomain == "" {
			return fmt.Errorf("dispatch: sms channel %s has no gateway address", channel.ID)
		}
		to = to + "@" + s.GatewayDomain
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "Verification code")
	m.SetBody("text/plain", code)

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	}
	if s.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{ServerName: s.Host, InsecureSkipVerify: true}
	}

	if err := d.DialAndSend(m); err != nil {
		log.Warn("otp code dispatch failed", logger.Err(err))
		return err
	}
	log.Info("otp code dispatched")
	return nil
}
