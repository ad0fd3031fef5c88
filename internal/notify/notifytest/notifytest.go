// Package notifytest provides an in-memory notifier for unit tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/imrishuroy/go-storefront-checkout/internal/notify"
)

// Recorder keeps notifications in memory. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	// Err, when set, is returned from every Notify after recording.
	Err error
}

var _ notify.Notifier = (*Recorder)(nil)

func (r *Recorder) Notify(_ context.Context, recipient, typ string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, notify.Message{Type: typ, Recipient: recipient, Payload: payload})
	return r.Err
}

// Types lists the recorded notification types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Type)
	}
	return out
}

// Messages returns a copy of everything recorded.
func (r *Recorder) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}
