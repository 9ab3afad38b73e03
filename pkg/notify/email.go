package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/pario-ai/cloudcost/pkg/config"
)

// EmailChannel sends HTML alert emails over SMTP, upgrading to TLS when the
// server offers STARTTLS.
type EmailChannel struct {
	cfg config.EmailConfig
}

// NewEmailChannel returns an email channel for cfg.
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

// Name identifies the channel in logs and metrics.
func (e *EmailChannel) Name() string { return "email" }

// Enabled is false unless the channel is switched on and has a sender, at
// least one recipient and an SMTP host.
func (e *EmailChannel) Enabled() bool {
	return e.cfg.Enabled && e.cfg.Sender != "" && len(e.cfg.Recipients) > 0 && e.cfg.SMTPHost != ""
}

// Send delivers n to every configured recipient.
func (e *EmailChannel) Send(ctx context.Context, n Notice) error {
	body, err := n.HTML()
	if err != nil {
		return err
	}
	msg := e.message(n.Subject(), body)

	addr := net.JoinHostPort(e.cfg.SMTPHost, strconv.Itoa(e.cfg.SMTPPort))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.SMTPHost}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if e.cfg.Username != "" && e.cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(e.cfg.Sender); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range e.cfg.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

func (e *EmailChannel) message(subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + e.cfg.Sender + "\r\n")
	b.WriteString("To: " + strings.Join(e.cfg.Recipients, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
