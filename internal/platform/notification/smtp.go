package notification

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"
	"github.com/rs/zerolog"
)

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// SMTPSender delivers mail over STARTTLS.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *mail.Dialer
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &SMTPSender{cfg: cfg, dialer: d}
}

// buildMessage is split out so the headers can be checked without a server.
func (s *SMTPSender) buildMessage(to, subject, body string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if s.cfg.Host == "" || s.cfg.From == "" {
		return fmt.Errorf("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.buildMessage(to, subject, body)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}

// LogSender writes mail to the log instead of sending it. Used when SMTP is
// not configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Msg("email not sent: smtp not configured")
	return nil
}
