// Package mail dispatches rendered clinical documents by email. The SMTP
// transport sits behind a Sender interface so tests can inject a mock.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gomail "github.com/wneessen/go-mail"
)

// ErrDelivery wraps any transport failure: authentication, network, invalid
// address. The underlying cause is preserved for diagnostics.
var ErrDelivery = errors.New("document delivery failed")

// Fixed message content for every dispatched document.
const (
	deliverySubject = "Documento clínico generado"
	deliveryBody    = "Adjunto encontrará el resumen generado por la consulta médica."
)

// Attachment is the rendered document to deliver.
type Attachment struct {
	Filename string
	Data     []byte
}

// Sender sends a single email with one attachment.
type Sender interface {
	Send(ctx context.Context, to, subject, body string, att Attachment) error
}

// ---------------------------------------------------------------------------
// SMTP sender
// ---------------------------------------------------------------------------

// SMTPConfig holds the transport credentials, injected from configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail over authenticated SMTP.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates an SMTPSender for the given transport config.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send performs a single delivery attempt; no retry.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string, att Attachment) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)
	if err := msg.AttachReader(att.Filename, bytes.NewReader(att.Data)); err != nil {
		return fmt.Errorf("attach document: %w", err)
	}

	client, err := gomail.NewClient(s.cfg.Host,
		gomail.WithPort(s.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.Username),
		gomail.WithPassword(s.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher hands a rendered document to the delivery transport and
// normalizes the outcome. One attempt per call; the document is not
// consumed by delivery and stays available for download.
type Dispatcher struct {
	sender Sender
}

// NewDispatcher creates a Dispatcher over the given sender.
func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender}
}

// Deliver sends the document to recipient with the fixed subject and body.
func (d *Dispatcher) Deliver(ctx context.Context, att Attachment, recipient string) error {
	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("%w: recipient address is empty", ErrDelivery)
	}
	if d.sender == nil {
		return fmt.Errorf("%w: delivery is not configured", ErrDelivery)
	}
	if err := d.sender.Send(ctx, recipient, deliverySubject, deliveryBody, att); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mock sender (test double)
// ---------------------------------------------------------------------------

// SendCall records a single call to Send.
type SendCall struct {
	To      string
	Subject string
	Body    string
	Att     Attachment
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu         sync.Mutex
	calls      []SendCall
	ShouldFail bool
	FailError  string
}

// Send records the call and optionally returns an error.
func (m *MockSender) Send(_ context.Context, to, subject, body string, att Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SendCall{To: to, Subject: subject, Body: body, Att: att})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockSender) Calls() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendCall, len(m.calls))
	copy(out, m.calls)
	return out
}
