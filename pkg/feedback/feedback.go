// Package feedback delivers reader feedback to the maintainers, by email when
// SMTP is configured and to the log otherwise.
package feedback

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wneessen/go-mail"

	"talehopper/pkg/schema"
)

const Subject = "New Feedback from Choose Your Adventure"

type Sender interface {
	Send(ctx context.Context, fb schema.Feedback) error
}

// Body renders the plain text email for fb.
func Body(fb schema.Feedback, received time.Time) string {
	var b strings.Builder
	b.WriteString("New feedback received\n\n")
	fmt.Fprintf(&b, "Message:\n%s\n\n", fb.Message)
	fmt.Fprintf(&b, "User Email: %s\n", cmp.Or(fb.Email, "Not provided"))
	fmt.Fprintf(&b, "Received: %s\n", received.UTC().Format(time.RFC1123))
	return b.String()
}

// LogSender writes feedback to the log. It is used when email delivery is not
// configured.
type LogSender struct {
	Logger *log.Logger
}

func (s LogSender) Send(_ context.Context, fb schema.Feedback) error {
	logger := cmp.Or(s.Logger, log.Default())
	logger.Info("feedback received", "email", cmp.Or(fb.Email, "-"), "message", fb.Message)
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.To != "" && c.From != ""
}

// MailSender emails feedback through an SMTP relay.
type MailSender struct {
	cfg    SMTPConfig
	logger *log.Logger
	now    func() time.Time
}

func NewMailSender(cfg SMTPConfig, logger *log.Logger) *MailSender {
	return &MailSender{cfg: cfg, logger: cmp.Or(logger, log.Default()), now: time.Now}
}

// Message builds the email for fb. Replies go to the reader when an address
// was given.
func (s *MailSender) Message(fb schema.Feedback) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(s.cfg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	if fb.Email != "" {
		if err := msg.ReplyTo(fb.Email); err != nil {
			s.logger.Warn("ignoring invalid reply-to address", "email", fb.Email, "error", err)
		}
	}
	msg.Subject(Subject)
	msg.SetBodyString(mail.TypeTextPlain, Body(fb, s.now()))
	return msg, nil
}

func (s *MailSender) Send(ctx context.Context, fb schema.Feedback) error {
	msg, err := s.Message(fb)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(cmp.Or(s.cfg.Port, 587)),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send feedback email: %w", err)
	}
	s.logger.Info("feedback email sent", "to", s.cfg.To)
	return nil
}

// NewSender returns a MailSender when cfg is complete and a LogSender
// otherwise.
func NewSender(cfg SMTPConfig, logger *log.Logger) Sender {
	if cfg.Enabled() {
		return NewMailSender(cfg, logger)
	}
	cmp.Or(logger, log.Default()).Warn("SMTP not configured, feedback will only be logged")
	return LogSender{Logger: logger}
}
