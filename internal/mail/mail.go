// Package mail sends notification emails.
package mail

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"
)

// Config holds SMTP settings. An empty Host selects the log transport.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
	Timeout  time.Duration
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPTransport delivers HTML email through an SMTP relay.
type SMTPTransport struct {
	client sender
	from   string
}

// NewSMTPTransport builds a client for cfg. The connection is opened per send.
func NewSMTPTransport(cfg Config) (*SMTPTransport, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp host and from address are required")
	}
	opts := []gomail.Option{
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Port > 0 {
		opts = append(opts, gomail.WithPort(cfg.Port))
	}
	if cfg.TLS {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	if cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.Timeout))
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, err
	}
	return &SMTPTransport{client: client, from: cfg.From}, nil
}

// Send returns the Message-ID of the delivered email.
func (t *SMTPTransport) Send(ctx context.Context, to, subject, html string) (string, error) {
	msg := gomail.NewMsg()
	if err := msg.From(t.from); err != nil {
		return "", err
	}
	if err := msg.To(to); err != nil {
		return "", err
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, html)
	msg.SetMessageID()
	msg.SetDate()

	if err := t.client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", err
	}
	return msg.GetMessageID(), nil
}

// LogTransport writes emails to the log instead of sending them.
type LogTransport struct {
	logger zerolog.Logger
}

func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, to, subject, html string) (string, error) {
	id := "log-" + uuid.NewString()
	t.logger.Info().
		Str("message_id", id).
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(html)).
		Msg("email not sent, smtp disabled")
	return id, nil
}
