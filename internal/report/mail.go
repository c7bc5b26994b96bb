package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	mail "gopkg.in/mail.v2"
)

var (
	ErrMailNotConfigured = errors.New("email configuration missing")
	ErrNoRecipient       = errors.New("recipient email is required")
)

// Attachment is a file attached to a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is an outbound email.
type Message struct {
	To          string
	Subject     string
	Body        string
	HTML        bool
	Attachments []Attachment
}

// EmailSender delivers messages.
type EmailSender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Configured reports whether credentials and a sender address are set.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Username != "" && c.Password != "" && c.From != ""
}

// SMTPSender sends mail through an SMTP relay using STARTTLS.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if !s.cfg.Configured() {
		return ErrMailNotConfigured
	}
	if msg.To == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.HTML {
		m.SetBody("text/html", msg.Body)
	} else {
		m.SetBody("text/plain", msg.Body)
	}
	for _, a := range msg.Attachments {
		data := a.Data
		settings := []mail.FileSetting{
			mail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, mail.SetHeader(map[string][]string{
				"Content-Type": {a.ContentType},
			}))
		}
		m.Attach(a.Filename, settings...)
	}

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.Timeout = s.cfg.Timeout
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("sending email to %s: %w", msg.To, err)
	}
	return nil
}

// MockEmailSender records messages instead of sending them.
type MockEmailSender struct {
	mu         sync.Mutex
	messages   []Message
	ShouldFail bool
	FailError  string
}

func (m *MockEmailSender) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockEmailSender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}
