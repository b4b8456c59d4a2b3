package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sweetcrumb/accounts/config"
	"github.com/sweetcrumb/accounts/types"
	mail "github.com/wneessen/go-mail"
)

// SMTPMailer delivers mail through an SMTP relay.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPMailer constructs an SMTPMailer from config.
func NewSMTPMailer(cfg config.MailConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mail host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail from address is required")
	}
	port := cfg.Port
	if port == 0 {
		port = mail.DefaultPortTLS
	}
	return &SMTPMailer{
		host:     cfg.Host,
		port:     port,
		username: cfg.User,
		password: cfg.Password,
		from:     cfg.From,
	}, nil
}

// Send dials the relay and delivers m.
func (s *SMTPMailer) Send(ctx context.Context, m types.Mail) error {
	msg, err := s.buildMessage(m)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		// WithTLSPortPolicy resets the port, so it must come first.
		mail.WithTLSPortPolicy(mail.TLSMandatory),
		mail.WithPort(s.port),
	}
	if s.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.username),
			mail.WithPassword(s.password),
		)
	}

	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *SMTPMailer) buildMessage(m types.Mail) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	return msg, nil
}
