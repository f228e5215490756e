package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig carries SMTP transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPDispatcher sends messages through a plain SMTP relay.
type SMTPDispatcher struct {
	cfg  SMTPConfig
	auth smtp.Auth
}

// NewSMTPDispatcher constructs a dispatcher; auth is enabled only when
// credentials are configured.
func NewSMTPDispatcher(cfg SMTPConfig) (*SMTPDispatcher, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("email: SMTP host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("email: invalid SMTP port: %d", cfg.Port)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("email: from address is required")
	}
	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPDispatcher{cfg: cfg, auth: auth}, nil
}

func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return fmt.Errorf("email: recipient is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", d.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
	if err := smtp.SendMail(addr, d.auth, d.cfg.From, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("email: send to %s: %w", msg.To, err)
	}
	return nil
}
