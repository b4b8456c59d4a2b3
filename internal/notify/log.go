package notify

import (
	"context"
	"log/slog"

	"github.com/sweetcrumb/accounts/types"
)

// LogMailer writes mail to the log instead of delivering it. It stands in
// for a mail server during local development.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	if log == nil {
		log = slog.Default()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, mail types.Mail) error {
	m.log.InfoContext(ctx, "mail",
		"to", mail.To,
		"subject", mail.Subject,
		"body", mail.Body,
	)
	return nil
}
