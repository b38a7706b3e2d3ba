// Package mail is the outbound mail transport. The pipeline treats it as
// a single send call; everything here is plumbing around SMTP delivery of
// the plain-text provisioning message.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Credentials configure the SMTP transport.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether the credentials are complete enough to send.
// An unconfigured transport is a job-fatal precondition at intake, not a
// per-row failure.
func (c Credentials) Configured() bool {
	return c.Host != "" && c.From != ""
}

func (c Credentials) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SMTPSender delivers provisioning emails over SMTP. It implements
// importer.MailSender.
type SMTPSender struct {
	creds Credentials
	send  func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender returns a sender for the given credentials.
func NewSMTPSender(creds Credentials) *SMTPSender {
	return &SMTPSender{creds: creds, send: smtp.SendMail}
}

// SendInvite sends the credential-setup email for one account.
func (s *SMTPSender) SendInvite(ctx context.Context, to, name, setupURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.creds.Username != "" {
		auth = smtp.PlainAuth("", s.creds.Username, s.creds.Password, s.creds.Host)
	}

	msg := buildInvite(s.creds.From, to, name, setupURL)
	if err := s.send(s.creds.addr(), auth, s.creds.From, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// buildInvite assembles the plain-text provisioning message.
func buildInvite(from, to, name, setupURL string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: Your account is ready\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Hello %s,\r\n\r\n", name)
	b.WriteString("An account has been created for you. Use the link below to choose\r\n")
	b.WriteString("your password. The link is valid for a limited time.\r\n\r\n")
	b.WriteString(setupURL + "\r\n")
	return []byte(b.String())
}
