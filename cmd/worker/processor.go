package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/notify"
)

// Sweeper archives expired carts.
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Restocker returns the stock of cancelled orders whose restock failed.
type Restocker interface {
	ReconcileRestock(ctx context.Context, limit int) (int, error)
}

// Processor delivers queued notifications and runs the scheduled sweeps.
type Processor struct {
	sink       notify.Sink
	sweeper    Sweeper
	restocker  Restocker
	sweepLimit int
	lg         *zap.Logger
}

func NewProcessor(sink notify.Sink, sweeper Sweeper, restocker Restocker, sweepLimit int, lg *zap.Logger) *Processor {
	return &Processor{sink: sink, sweeper: sweeper, restocker: restocker, sweepLimit: sweepLimit, lg: lg}
}

// Handle delivers an SQS batch. Failed records are reported back so only
// they are redelivered; a body that is not a notification is dropped since
// a retry cannot fix it.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		lg := p.lg.With(zap.String("message_id", rec.MessageId))

		var msg notify.Message
		if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil || msg.Type == "" {
			lg.Error("drop malformed notification", zap.String("body", rec.Body), zap.Error(err))
			continue
		}
		if err := p.sink.Deliver(ctx, msg); err != nil {
			lg.Warn("deliver notification", zap.String("type", msg.Type), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

// Sweep archives carts that expired without activity and retries the
// restock of cancelled orders. A failed cart sweep does not hold back the
// restock; the first error is returned.
func (p *Processor) Sweep(ctx context.Context) error {
	var first error
	n, err := p.sweeper.SweepExpired(ctx, p.sweepLimit)
	if err != nil {
		first = errors.Wrap(err, "sweep expired carts")
	} else {
		p.lg.Info("swept expired carts", zap.Int("archived", n))
	}

	n, err = p.restocker.ReconcileRestock(ctx, p.sweepLimit)
	if err != nil {
		p.lg.Error("restock cancelled orders", zap.Int("restocked", n), zap.Error(err))
		if first == nil {
			first = errors.Wrap(err, "restock cancelled orders")
		}
		return first
	}
	if n > 0 {
		p.lg.Info("restocked cancelled orders", zap.Int("restocked", n))
	}
	return first
}

// Invoke routes a raw Lambda payload: SQS batches carry Records, anything
// else (an EventBridge schedule) triggers the sweep.
func (p *Processor) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	var head struct {
		Records []json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(payload, &head); err == nil && len(head.Records) > 0 {
		var ev events.SQSEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, errors.Wrap(err, "decode SQS event")
		}
		return p.Handle(ctx, ev)
	}
	return nil, p.Sweep(ctx)
}
