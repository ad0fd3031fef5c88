package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/notify"
)

type recordingSink struct {
	got  []notify.Message
	fail map[string]bool
}

func (s *recordingSink) Deliver(_ context.Context, msg notify.Message) error {
	if s.fail[msg.Recipient] {
		return errors.New("smtp down")
	}
	s.got = append(s.got, msg)
	return nil
}

type countingSweeper struct {
	calls    int
	limit    int
	restocks int
	err      error
}

func (s *countingSweeper) SweepExpired(_ context.Context, limit int) (int, error) {
	s.calls++
	s.limit = limit
	return 2, s.err
}

func (s *countingSweeper) ReconcileRestock(_ context.Context, limit int) (int, error) {
	s.restocks++
	s.limit = limit
	return 1, nil
}

func body(t *testing.T, m notify.Message) string {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestHandle_DeliversAndReportsFailures(t *testing.T) {
	sink := &recordingSink{fail: map[string]bool{"bob@example.com": true}}
	p := NewProcessor(sink, &countingSweeper{}, &countingSweeper{}, 10, zap.NewNop())

	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: body(t, notify.Message{Type: notify.OrderCreated, Recipient: "ada@example.com"})},
		{MessageId: "m2", Body: body(t, notify.Message{Type: notify.OrderPaid, Recipient: "bob@example.com"})},
		{MessageId: "m3", Body: "not json"},
	}}

	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(sink.got) != 1 || sink.got[0].Recipient != "ada@example.com" {
		t.Fatalf("delivered %+v", sink.got)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("expected only m2 to be retried, got %+v", resp.BatchItemFailures)
	}
}

func TestInvoke_RoutesScheduleToSweep(t *testing.T) {
	sweeper := &countingSweeper{}
	p := NewProcessor(&recordingSink{}, sweeper, sweeper, 25, zap.NewNop())

	schedule := json.RawMessage(`{"source":"aws.events","detail-type":"Scheduled Event","detail":{}}`)
	if _, err := p.Invoke(context.Background(), schedule); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if sweeper.calls != 1 || sweeper.restocks != 1 || sweeper.limit != 25 {
		t.Fatalf("sweeper calls=%d restocks=%d limit=%d", sweeper.calls, sweeper.restocks, sweeper.limit)
	}
}

func TestSweep_RestocksEvenWhenCartSweepFails(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("throttled")}
	p := NewProcessor(&recordingSink{}, sweeper, sweeper, 25, zap.NewNop())

	if err := p.Sweep(context.Background()); err == nil {
		t.Fatal("expected the cart sweep error")
	}
	if sweeper.restocks != 1 {
		t.Fatalf("restocks=%d, want 1", sweeper.restocks)
	}
}

func TestInvoke_RoutesSQSBatch(t *testing.T) {
	sink := &recordingSink{}
	sweeper := &countingSweeper{}
	p := NewProcessor(sink, sweeper, sweeper, 25, zap.NewNop())

	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: body(t, notify.Message{Type: notify.OrderShipped, Recipient: "ada@example.com"})},
	}}
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Invoke(context.Background(), raw)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if _, ok := out.(events.SQSEventResponse); !ok {
		t.Fatalf("expected an SQS batch response, got %T", out)
	}
	if len(sink.got) != 1 || sweeper.calls != 0 || sweeper.restocks != 0 {
		t.Fatalf("delivered=%d sweeps=%d restocks=%d", len(sink.got), sweeper.calls, sweeper.restocks)
	}
}
