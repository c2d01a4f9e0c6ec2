package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"trades-finder/internal/observability"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPMailer delivers plain-text mail through an SMTP relay.
type SMTPMailer struct {
	from   string
	client sender
}

func NewSMTPMailer(cfg Config) (*SMTPMailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("mail from address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("init smtp client: %w", err)
	}

	return &SMTPMailer{from: strings.TrimSpace(cfg.From), client: client}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg, err := m.message(to, subject, body)
	if err != nil {
		return err
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (m *SMTPMailer) message(to, subject, body string) (*gomail.Msg, error) {
	if strings.ContainsAny(subject, "\r\n") {
		return nil, fmt.Errorf("build mail: subject contains a line break")
	}

	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("build mail sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("build mail recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(gomail.TypeTextPlain, body)

	return msg, nil
}

// LogMailer records that a message would have been sent. The body is left
// out because it carries single-use links.
type LogMailer struct {
	logger *observability.Logger
}

func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, to, subject, _ string) error {
	m.logger.Info("mail_not_sent", map[string]any{"to": to, "subject": subject})
	return nil
}
