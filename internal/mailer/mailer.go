package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Config holds configuration for the SMTP mailer.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`

	// To is the notification destination: the address that receives one
	// email per resolved purchase.
	To string `mapstructure:"to"`
}

// Message is a rendered mail ready for dispatch.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer dispatches rendered messages. Implementations must not retry;
// a failed send is terminal for the current unit of work.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends mail through a single SMTP relay using PLAIN auth.
type SMTPMailer struct {
	cfg  Config
	addr string
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{
		cfg:  cfg,
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
}

// Send dispatches one message. net/smtp has no context support, so the
// deadline is enforced by the caller treating a slow send as failed.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.cfg.Host == "" {
		return fmt.Errorf("mailer not configured")
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	raw := Encode(m.cfg.From, msg)
	if err := smtp.SendMail(m.addr, auth, m.cfg.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// Encode builds the RFC 822 wire form of a message.
func Encode(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}
