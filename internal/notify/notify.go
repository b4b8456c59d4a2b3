// Package notify delivers outbound account mail: directly over SMTP,
// through the message queue for a separate worker, or to the log in
// development.
package notify

import (
	"context"

	"github.com/sweetcrumb/accounts/types"
)

// Sender delivers a single mail.
type Sender interface {
	Send(ctx context.Context, mail types.Mail) error
}
