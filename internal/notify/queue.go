package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetcrumb/accounts/internal/mq"
	"github.com/sweetcrumb/accounts/types"
)

const attrKind = "kind"

const kindMail = "mail"

// Publisher is the publishing half of the message queue.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Subscriber is the consuming half of the message queue.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// QueueMailer enqueues mail for delivery by a Worker. Send returns once
// the broker has accepted the message.
type QueueMailer struct {
	publisher Publisher
	channel   string
}

func NewQueueMailer(publisher Publisher, channel string) (*QueueMailer, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("mail queue channel is required")
	}
	return &QueueMailer{publisher: publisher, channel: channel}, nil
}

func (q *QueueMailer) Send(ctx context.Context, m types.Mail) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := q.publisher.Publish(ctx, q.channel, data, map[string]string{attrKind: kindMail}); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

// Worker consumes queued mail and hands it to a Sender.
type Worker struct {
	subscriber Subscriber
	channel    string
	sender     Sender
	log        *slog.Logger
}

func NewWorker(subscriber Subscriber, channel string, sender Sender, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		subscriber: subscriber,
		channel:    channel,
		sender:     sender,
		log:        log,
	}
}

// Run blocks consuming the mail channel until ctx is done or the
// subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "mail worker started", "channel", w.channel)
	return w.subscriber.Subscribe(ctx, w.channel, w.Handle)
}

// Handle delivers one queued mail. Undecodable payloads are dropped;
// delivery failures are returned so the broker redelivers.
func (w *Worker) Handle(ctx context.Context, msg mq.Message) error {
	var m types.Mail
	if err := json.Unmarshal(msg.Data, &m); err != nil || strings.TrimSpace(m.To) == "" {
		w.log.ErrorContext(ctx, "dropping malformed mail message", "message_id", msg.ID)
		return nil
	}
	if err := w.sender.Send(ctx, m); err != nil {
		w.log.ErrorContext(ctx, "mail delivery failed", "message_id", msg.ID, "error", err)
		return err
	}
	w.log.InfoContext(ctx, "mail delivered", "message_id", msg.ID, "subject", m.Subject)
	return nil
}
