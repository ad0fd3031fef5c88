// Package notify hands buyer notifications to the delivery pipeline. Sending
// is fire-and-forget for callers: they log a failure and move on.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

// Notification types.
const (
	OrderCreated   = "order_created"
	OrderPaid      = "order_paid"
	PaymentFailed  = "payment_failed"
	OrderCancelled = "order_cancelled"
	OrderShipped   = "order_shipped"
	OrderDelivered = "order_delivered"
	OrderRefunded  = "order_refunded"
)

// Message is the queued notification document.
type Message struct {
	Type      string         `json:"type"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier sends one notification.
type Notifier interface {
	Notify(ctx context.Context, recipient, typ string, payload map[string]any) error
}

// QueueNotifier publishes notifications to SQS for the worker to deliver.
type QueueNotifier struct {
	pub     *aws.Publisher
	nowFunc func() time.Time
}

func NewQueueNotifier(pub *aws.Publisher) *QueueNotifier {
	return &QueueNotifier{pub: pub, nowFunc: time.Now}
}

func (q *QueueNotifier) Notify(ctx context.Context, recipient, typ string, payload map[string]any) error {
	body, err := json.Marshal(Message{Type: typ, Recipient: recipient, Payload: payload, CreatedAt: q.nowFunc()})
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	return q.pub.Publish(ctx, string(body), map[string]string{
		"type":      typ,
		"recipient": recipient,
	})
}

// Sink delivers a dequeued message (email, push, SMS live outside this repo).
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogSink writes messages to the log.
type LogSink struct {
	lg *zap.Logger
}

func NewLogSink(lg *zap.Logger) *LogSink { return &LogSink{lg: lg} }

func (s *LogSink) Deliver(_ context.Context, msg Message) error {
	s.lg.Info("deliver notification",
		zap.String("type", msg.Type),
		zap.String("recipient", msg.Recipient),
		zap.Any("payload", msg.Payload),
	)
	return nil
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) error { return nil }
