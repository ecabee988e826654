// Package mailer sends transactional email. The SMTP implementation is the
// only production backend; tests swap in a recording fake.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jive-live/jive-server/pkg/logger"
)

// Sender delivers a single plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config holds SMTP connection settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from" validate:"omitempty,email"`
}

// SMTP sends mail through a plain SMTP relay with AUTH PLAIN.
type SMTP struct {
	cfg Config
	log *logger.Logger
}

var _ Sender = (*SMTP)(nil)

// NewSMTP builds an SMTP sender.
func NewSMTP(cfg Config, log *logger.Logger) *SMTP {
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	return &SMTP{cfg: cfg, log: log}
}

func (s *SMTP) Send(_ context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("recipient is required")
	}

	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	s.log.WithField("to", to).Debug("mail sent")
	return nil
}
