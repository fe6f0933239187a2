package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/applyflow/internal/vault"
	"github.com/wneessen/go-mail"
	"golang.org/x/text/unicode/norm"
)

// ErrVerification is returned when the mail server rejects the credential.
var ErrVerification = errors.New("smtp credential verification failed")

// Config configures the SMTP connection.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
	// TLS is one of "mandatory", "opportunistic" or "none".
	TLS string
}

// Attachment is a file sent with a Mail.
type Attachment struct {
	Name string
	Data []byte
}

// Mail is one outgoing message sent on behalf of the sender.
type Mail struct {
	From        string
	Secret      vault.Secret
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// SMTP sends mail and verifies credentials against a single SMTP relay.
type SMTP struct {
	cfg    Config
	logger *slog.Logger
}

// NewSMTP creates an SMTP mailer.
func NewSMTP(cfg Config, logger *slog.Logger) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTP{cfg: cfg, logger: logger}
}

// Verify dials the server and authenticates as sender without sending anything.
func (s *SMTP) Verify(ctx context.Context, sender string, secret vault.Secret) error {
	client, err := s.client(sender, secret)
	if err != nil {
		return err
	}

	if err := client.DialWithContext(ctx); err != nil {
		s.logger.Warn("SMTP credential verification failed",
			slog.String("sender", sender),
			slog.String("host", s.cfg.Host),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: invalid app password or SMTP error for %s: %v", ErrVerification, sender, err)
	}
	_ = client.Close()

	s.logger.Info("SMTP credential verified",
		slog.String("sender", sender),
	)
	return nil
}

// Send delivers m.
func (s *SMTP) Send(ctx context.Context, m Mail) error {
	to := NormalizeAddress(m.To)
	if to == "" {
		return errors.New("target address is required")
	}

	msg := mail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid target address: %w", err)
	}

	subject := m.Subject
	if subject == "" {
		subject = "Job Application"
	}
	body := m.Body
	if body == "" {
		body = "Please find my resume attached."
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	for _, a := range m.Attachments {
		if err := msg.AttachReader(a.Name, bytes.NewReader(a.Data)); err != nil {
			return fmt.Errorf("failed to attach %s: %w", a.Name, err)
		}
	}

	client, err := s.client(m.From, m.Secret)
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	s.logger.Info("Email sent",
		slog.String("from", m.From),
		slog.String("to", to),
		slog.Int("attachments", len(m.Attachments)),
	)
	return nil
}

func (s *SMTP) client(user string, secret vault.Secret) (*mail.Client, error) {
	client, err := mail.NewClient(s.cfg.Host,
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(user),
		mail.WithPassword(secret.Reveal()),
		mail.WithTLSPolicy(tlsPolicy(s.cfg.TLS)),
		mail.WithTimeout(s.cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return client, nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch strings.ToLower(s) {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}

// NormalizeAddress folds compatibility characters (styled letters pasted
// from rich text) to their plain form and trims whitespace.
func NormalizeAddress(addr string) string {
	return strings.TrimSpace(norm.NFKC.String(addr))
}
