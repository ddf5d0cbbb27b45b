package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Sender delivers a composed notification.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers plain-text mail through an SMTP relay.
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
	send sendFunc
}

// NewSMTPSender builds a sender for addr (host:port). Credentials are optional.
func NewSMTPSender(addr, from, username, password string) (*SMTPSender, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse smtp addr: %w", err)
	}
	if from == "" {
		return nil, errors.New("mail from address is required")
	}
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPSender{
		addr: addr,
		from: from,
		auth: auth,
		send: smtp.SendMail,
	}, nil
}

// Send writes e to the relay. net/smtp has no context support, so ctx is only
// checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.To == "" {
		return errors.New("recipient is required")
	}
	msg, err := buildMessage(s.from, e, time.Now())
	if err != nil {
		return err
	}
	if err := s.send(s.addr, s.auth, s.from, []string{e.To}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func buildMessage(from string, e Email, now time.Time) ([]byte, error) {
	for _, h := range []string{from, e.To, e.Subject} {
		if strings.ContainsAny(h, "\r\n") {
			return nil, errors.New("header value contains a line break")
		}
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", e.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", e.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(e.Body, "\n", "\r\n"))
	return buf.Bytes(), nil
}
