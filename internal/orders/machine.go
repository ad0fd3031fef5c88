package orders

import (
	"fmt"
	"slices"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  {StatusRefunded},
	StatusCancelled:  nil,
	StatusRefunded:   nil,
}

// InvalidTransitionError is returned for any move outside the table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Code() string { return apperr.ECONFLICT }

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Cancellable reports whether the status still allows cancellation.
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition returns a copy moved to status to with exactly one history
// entry appended. The receiver is never changed.
func (o Order) Transition(to Status, actor, note string, at time.Time) (Order, error) {
	if !CanTransition(o.Status, to) {
		return o, &InvalidTransitionError{From: o.Status, To: to}
	}
	return o.record(to, actor, note, at), nil
}

// record appends the history entry without checking the table. Only the
// digital fulfilment jump uses it directly.
func (o Order) record(to Status, actor, note string, at time.Time) Order {
	next := o
	next.StatusHistory = append(slices.Clone(o.StatusHistory), HistoryEntry{Status: to, Actor: actor, At: at, Note: note})
	next.Status = to
	next.UpdatedAt = at
	return next
}
