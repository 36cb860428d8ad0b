// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers verification codes.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/wneessen/go-mail"

	"codeberg.org/oliverandrich/feedtools/internal/config"
	"codeberg.org/oliverandrich/feedtools/internal/i18n"
)

// Purpose selects the email template for a code.
type Purpose string

const (
	PurposeRegister Purpose = "register"
	PurposeLogin    Purpose = "login"
)

// Sender delivers one verification code to one address.
type Sender interface {
	SendVerificationCode(ctx context.Context, to, code string, purpose Purpose, ttl time.Duration) error
}

// New returns an SMTP sender, or a LogSender when no SMTP host is set.
func New(cfg *config.SMTPConfig) (Sender, error) {
	if cfg.Host == "" {
		slog.Warn("smtp_not_configured", "hint", "verification codes are written to the log")
		return LogSender{}, nil
	}
	return NewSMTPSender(cfg)
}

// Compose renders the localised subject and body for a code.
func Compose(ctx context.Context, code string, purpose Purpose, ttl time.Duration) (subject, body string) {
	subjectID := "otp_subject_register"
	if purpose == PurposeLogin {
		subjectID = "otp_subject_login"
	}
	subject = i18n.T(ctx, subjectID)
	body = i18n.TData(ctx, "otp_body", map[string]any{
		"Code":    code,
		"Minutes": int(math.Ceil(ttl.Minutes())),
	})
	return subject, body
}

// SMTPSender sends codes through an SMTP relay.
type SMTPSender struct {
	cfg *config.SMTPConfig
}

// NewSMTPSender validates cfg and creates an SMTP sender.
func NewSMTPSender(cfg *config.SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("SMTP from address is required")
	}
	return &SMTPSender{cfg: cfg}, nil
}

// SendVerificationCode mails code to the given address.
func (s *SMTPSender) SendVerificationCode(ctx context.Context, to, code string, purpose Purpose, ttl time.Duration) error {
	msg, err := s.BuildMessage(ctx, to, code, purpose, ttl)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}

// BuildMessage assembles the message without sending it.
func (s *SMTPSender) BuildMessage(ctx context.Context, to, code string, purpose Purpose, ttl time.Duration) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("setting from address: %w", err)
	}

	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	subject, body := Compose(ctx, code, purpose, ttl)
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	return msg, nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
	}

	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// implicit TLS on 465, STARTTLS elsewhere
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	return opts
}

// LogSender writes codes to the log instead of sending them. Used in
// development when SMTP is not configured.
type LogSender struct{}

// SendVerificationCode logs the rendered message.
func (LogSender) SendVerificationCode(ctx context.Context, to, code string, purpose Purpose, ttl time.Duration) error {
	subject, body := Compose(ctx, code, purpose, ttl)
	slog.InfoContext(ctx, "verification_code_logged",
		"to", to,
		"purpose", string(purpose),
		"subject", subject,
		"body", body,
	)
	return nil
}
