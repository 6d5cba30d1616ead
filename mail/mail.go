// Package mail sends email. Outbound delivery uses SMTP; without a
// configured server messages are only logged.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"
)

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	Subject     string
	From        string
	To          []string
	Text        string
	HTML        string
	Attachments []Attachment
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
}

// New returns an SMTP mailer, or a logging mailer when cfg.Host is empty.
func New(cfg SMTPConfig, logger *slog.Logger) Mailer {
	if cfg.Host == "" {
		return &Log{logger: logger}
	}
	return &SMTP{cfg: cfg}
}

// Log records messages instead of sending them.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(_ context.Context, msg Message) error {
	names := make([]string, len(msg.Attachments))
	for i, a := range msg.Attachments {
		names[i] = a.Filename
	}
	l.logger.Info("mail not sent: no mail server configured",
		"subject", msg.Subject, "to", msg.To, "attachments", names)
	return nil
}

type SMTP struct {
	cfg SMTPConfig
}

func (s *SMTP) client() (*gomail.Client, error) {
	policy := gomail.NoTLS
	if s.cfg.UseTLS {
		policy = gomail.TLSMandatory
	}
	opts := []gomail.Option{gomail.WithTLSPolicy(policy)}
	if s.cfg.Port != 0 {
		opts = append(opts, gomail.WithPort(s.cfg.Port))
	}
	if s.cfg.Username != "" || s.cfg.Password != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	return gomail.NewClient(s.cfg.Host, opts...)
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	m, err := newMsg(msg)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail to %s: %w", s.cfg.Host, err)
	}
	return nil
}

func newMsg(msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("mail to: %w", err)
	}
	m.Subject(msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	}

	for _, a := range msg.Attachments {
		err := m.AttachReader(a.Filename, bytes.NewReader(a.Data),
			gomail.WithFileContentType(gomail.ContentType(a.ContentType)))
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}
	return m, nil
}

// Compose renders msg as a MIME message.
func Compose(msg Message) ([]byte, error) {
	m, err := newMsg(msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
