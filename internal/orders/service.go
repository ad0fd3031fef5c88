package orders

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/identity"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/notify"
)

var (
	ErrForbidden        = apperr.Errorf(apperr.EFORBIDDEN, "orders", "Not allowed to act on this order")
	ErrPaidCancellation = apperr.Errorf(apperr.EFORBIDDEN, "orders.cancel", "Paid orders can only be cancelled by staff")
	ErrRefundAmount     = apperr.Errorf(apperr.EINVALID, "orders.refund", "Refund amount exceeds the amount paid")
)

const saveAttempts = 3

// Stock is the part of the inventory ledger cancellation compensates with.
type Stock interface {
	Release(ctx context.Context, productID string, qty int64) (*inventory.Level, error)
	UndoSale(ctx context.Context, productID string, qty int64) error
}

// Granter issues digital download entitlements.
type Granter interface {
	Grant(ctx context.Context, userID, productID, orderID string, downloadLimit, expiryDays int) error
}

// Deps are the collaborators of Service.
type Deps struct {
	Directory identity.Directory
	Stock     Stock
	Grants    Granter
	Notifier  notify.Notifier
	Metrics   aws.Metrics
}

// Service drives orders through the status machine. Every change is a
// version-guarded save, so a replayed callback or a racing admin action
// cannot apply twice.
type Service struct {
	store   *Store
	deps    Deps
	lg      *zap.Logger
	nowFunc func() time.Time

	releaseAttempts int
	releaseBackoff  time.Duration
	// restockTimeout bounds a restock, which runs detached from the caller.
	restockTimeout time.Duration
}

func NewService(store *Store, deps Deps, lg *zap.Logger) *Service {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = aws.NopMetrics{}
	}
	return &Service{
		store:           store,
		deps:            deps,
		lg:              lg,
		nowFunc:         time.Now,
		releaseAttempts: 3,
		releaseBackoff:  50 * time.Millisecond,
		restockTimeout:  10 * time.Second,
	}
}

// Get returns an order regardless of caller. Handlers use View.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.store.Get(ctx, orderID)
}

// View returns the order if actor placed it or is staff. Soft-deleted
// orders are hidden from buyers.
func (s *Service) View(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	admin, err := s.isAdmin(ctx, actor)
	if err != nil {
		return nil, err
	}
	if admin {
		return o, nil
	}
	if !o.PlacedBy(actor) || o.Deleted {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) FindOpenByCart(ctx context.Context, cartID string) (*Order, error) {
	return s.store.FindOpenByCart(ctx, cartID)
}

// MarkAsPaid records a successful payment. It only acts while the order is
// pending and its payment is pending or failed; any other call is a no-op
// that returns the current order, so gateway retries are harmless.
func (s *Service) MarkAsPaid(ctx context.Context, orderID, txID, gateway, raw string) (*Order, error) {
	actor := Actor{System: gateway}.String()
	o, changed, err := s.apply(ctx, orderID, func(o Order, now time.Time) (Order, bool, error) {
		if o.Status != StatusPending || (o.Payment.Status != PaymentPending && o.Payment.Status != PaymentFailed) {
			return o, false, nil
		}
		o.Payment.Status = PaymentCompleted
		o.Payment.Gateway = gateway
		o.Payment.TransactionID = txID
		o.Payment.RawResponse = raw
		o.Payment.Amount = o.Totals.Total
		o.Payment.PaidAt = &now
		o.Payment.FailureReason = ""

		if o.AllDigital() {
			// nothing ships, so fulfilment completes with the payment
			next := o.record(StatusDelivered, actor, "digital order fulfilled on payment", now)
			next.Shipment = &Shipment{DeliveredAt: &now}
			return next, true, nil
		}
		next, err := o.Transition(StatusProcessing, actor, "payment confirmed", now)
		return next, true, err
	})
	if err != nil || !changed {
		return o, err
	}

	s.grantDownloads(ctx, *o)
	s.notify(ctx, *o, notify.OrderPaid)
	s.deps.Metrics.Count(ctx, "OrdersPaid", 1, map[string]string{"Gateway": gateway})
	return o, nil
}

// MarkPaymentFailed records a declined payment. The order stays pending so
// the buyer can retry; a completed payment is never downgraded.
func (s *Service) MarkPaymentFailed(ctx context.Context, orderID, txID, gateway, reason, raw string) (*Order, error) {
	o, changed, err := s.apply(ctx, orderID, func(o Order, now time.Time) (Order, bool, error) {
		if o.Status != StatusPending || o.Payment.Status == PaymentCompleted || o.Payment.Status == PaymentRefunded {
			return o, false, nil
		}
		o.Payment.Status = PaymentFailed
		o.Payment.Gateway = gateway
		o.Payment.TransactionID = txID
		o.Payment.RawResponse = raw
		o.Payment.FailureReason = reason
		o.UpdatedAt = now
		return o, true, nil
	})
	if err != nil || !changed {
		return o, err
	}
	s.notify(ctx, *o, notify.PaymentFailed)
	return o, nil
}

// Cancel moves the order to cancelled and gives back its stock. Buyers may
// cancel their own unpaid orders; staff may cancel anything cancellable.
func (s *Service) Cancel(ctx context.Context, orderID string, actor Actor, reason string) (*Order, error) {
	admin, err := s.isAdmin(ctx, actor)
	if err != nil {
		return nil, err
	}
	o, _, err := s.apply(ctx, orderID, func(o Order, now time.Time) (Order, bool, error) {
		if !admin {
			if !o.PlacedBy(actor) {
				return o, false, ErrForbidden
			}
			if o.Payment.Status == PaymentCompleted {
				return o, false, ErrPaidCancellation
			}
		}
		next, err := o.Transition(StatusCancelled, actor.String(), reason, now)
		if err != nil {
			return o, false, err
		}
		next.Cancellation = &Cancellation{Actor: actor.String(), Reason: reason, At: now}
		next.RestockPending = next.needsRestock()
		next.Cancellation.InventoryReleased = !next.RestockPending
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}

	o = s.finishRestock(ctx, *o)

	s.notify(ctx, *o, notify.OrderCancelled)
	s.deps.Metrics.Count(ctx, "OrdersCancelled", 1, nil)
	return o, nil
}

// Ship marks a processing order as handed to the carrier. Staff only.
func (s *Service) Ship(ctx context.Context, orderID string, actor Actor, carrier, tracking string) (*Order, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	o, _, err := s.apply(ctx, orderID, func(o Order, now time.Time) (Order, bool, error) {
		next, err := o.Transition(StatusShipped, actor.String(), carrier, now)
		if err != nil {
			return o, false, err
		}
		sh := Shipment{Carrier: carrier, TrackingNumber: tracking, ShippedAt: &now}
		next.Shipment = &sh
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, *o, notify.OrderShipped)
	return o, nil
}

// Deliver confirms receipt of a shipped order. Staff only.
func (s *Service) Deliver(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	o, _, err := s.apply(ctx, orderID, func(o Order, now time.Time) (Order, bool, error) {
		next, err := o.Transition(StatusDelivered, actor.String(), "", now)
		if err != nil {
			return o, false, err
		}
		sh := Shipment{}
		if o.Shipment != nil {
			sh = *o.Shipment
		}
		sh.DeliveredAt = &now
		next.Shipment = &sh
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, *o, notify.OrderDelivered)
	return o, nil
}

// Refund closes a delivered order. amount 0 refunds everything paid. Stock
// is not returned.
func (s *Service) Refund(ctx context.Context, orderID string, actor Actor, amount int64, reason string) (*Order, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	o, _, err := s.apply(ctx, orderID, func(o Order, now time.Time) (Order, bool, error) {
		paid, amt := o.Payment.Amount, amount
		if amt < 0 || amt > paid {
			return o, false, ErrRefundAmount
		}
		if amt == 0 {
			amt = paid
		}
		next, err := o.Transition(StatusRefunded, actor.String(), reason, now)
		if err != nil {
			return o, false, err
		}
		next.Payment.Status = PaymentRefunded
		next.Refund = &Refund{Actor: actor.String(), Amount: amt, Reason: reason, At: now}
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, *o, notify.OrderRefunded)
	s.deps.Metrics.Count(ctx, "OrdersRefunded", 1, nil)
	return o, nil
}

// UpdateStatus is the generic staff entry point. Moves with side effects go
// through their dedicated operation.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, actor Actor, to Status, note string) (*Order, error) {
	switch to {
	case StatusCancelled:
		return s.Cancel(ctx, orderID, actor, note)
	case StatusRefunded:
		return s.Refund(ctx, orderID, actor, 0, note)
	case StatusShipped:
		return s.Ship(ctx, orderID, actor, "", "")
	case StatusDelivered:
		return s.Deliver(ctx, orderID, actor)
	}
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	o, _, err := s.apply(ctx, orderID, func(o Order, now time.Time) (Order, bool, error) {
		next, err := o.Transition(to, actor.String(), note, now)
		return next, err == nil, err
	})
	return o, err
}

// SoftDelete hides an order. Orders are never removed from the table.
func (s *Service) SoftDelete(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	o, _, err := s.apply(ctx, orderID, func(o Order, now time.Time) (Order, bool, error) {
		if o.Deleted {
			return o, false, nil
		}
		o.Deleted = true
		o.DeletedAt = &now
		o.DeletedBy = actor.String()
		return o, true, nil
	})
	return o, err
}

// apply loads the order, runs fn and saves the result if fn reports a
// change. A version conflict re-reads and re-runs fn; fn must therefore be
// free of side effects.
func (s *Service) apply(ctx context.Context, orderID string, fn func(Order, time.Time) (Order, bool, error)) (*Order, bool, error) {
	for attempt := 1; ; attempt++ {
		o, err := s.store.Get(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		next, changed, err := fn(*o, s.nowFunc())
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return o, false, nil
		}
		saved, err := s.store.Save(ctx, next)
		if err == nil {
			return &saved, true, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) || attempt >= saveAttempts {
			return nil, false, err
		}
	}
}

// ReleasePending retries the stock return of a cancelled order whose
// restock did not finish. Lines already returned are skipped. Any other
// order is returned unchanged.
func (s *Service) ReleasePending(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusCancelled || !o.RestockPending {
		return o, nil
	}
	return s.finishRestock(ctx, *o), nil
}

// ReconcileRestock runs ReleasePending for up to limit cancelled orders that
// still owe stock. Returns how many were fully restocked.
func (s *Service) ReconcileRestock(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ScanRestockPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, o := range pending {
		saved, err := s.ReleasePending(ctx, o.OrderID)
		if err != nil {
			return done, errors.Wrapf(err, "restock order %s", o.OrderID)
		}
		if !saved.RestockPending {
			done++
		}
	}
	return done, nil
}

// finishRestock gives back the stock of every line not yet restocked and
// records the lines that went back. It runs detached from ctx: the order is
// already cancelled and the caller leaving must not strand its stock.
// Returns the latest known copy of the order.
func (s *Service) finishRestock(ctx context.Context, o Order) *Order {
	if !o.RestockPending {
		return &o
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.restockTimeout)
	defer cancel()

	returned := s.restock(ctx, o)
	if len(returned) == 0 {
		return &o
	}
	saved, _, err := s.apply(ctx, o.OrderID, func(cur Order, _ time.Time) (Order, bool, error) {
		if !cur.RestockPending {
			return cur, false, nil
		}
		items := append([]Item(nil), cur.Items...)
		for _, i := range returned {
			items[i].Restocked = true
		}
		cur.Items = items
		cur.RestockPending = cur.needsRestock()
		if cur.Cancellation != nil {
			c := *cur.Cancellation
			c.InventoryReleased = !cur.RestockPending
			cur.Cancellation = &c
		}
		return cur, true, nil
	})
	if err != nil {
		s.lg.Error("record inventory release",
			zap.String("order_id", o.OrderID),
			zap.Ints("lines", returned),
			zap.Bool("reconcile", true),
			zap.Error(err),
		)
		return &o
	}
	return saved
}

// restock releases every reserved line and reverses the sales counter of the
// rest, skipping lines already restocked. Returns the indexes of the lines
// that are now settled; a reserved line whose release failed is left out.
func (s *Service) restock(ctx context.Context, o Order) []int {
	var returned []int
	for i, it := range o.Items {
		if it.Restocked {
			continue
		}
		qty := int64(it.Quantity)
		if !it.InventoryReserved {
			if err := s.deps.Stock.UndoSale(ctx, it.ProductID, qty); err != nil {
				s.lg.Warn("undo sale", zap.String("order_id", o.OrderID), zap.String("product_id", it.ProductID), zap.Error(err))
			}
			returned = append(returned, i)
			continue
		}
		if err := s.release(ctx, it.ProductID, qty); err != nil {
			s.lg.Error("release inventory",
				zap.String("order_id", o.OrderID),
				zap.String("product_id", it.ProductID),
				zap.Int64("quantity", qty),
				zap.Bool("reconcile", true),
				zap.Error(err),
			)
			continue
		}
		returned = append(returned, i)
	}
	return returned
}

func (s *Service) release(ctx context.Context, productID string, qty int64) error {
	var err error
	for attempt := 1; attempt <= s.releaseAttempts; attempt++ {
		if _, err = s.deps.Stock.Release(ctx, productID, qty); err == nil {
			return nil
		}
		if errors.Is(err, inventory.ErrNotTracked) || errors.Is(err, catalog.ErrProductNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.releaseBackoff):
		}
	}
	return err
}

func (s *Service) grantDownloads(ctx context.Context, o Order) {
	if s.deps.Grants == nil {
		return
	}
	for _, it := range o.Items {
		if it.ProductType != catalog.TypeDigital {
			continue
		}
		var limit, days int
		if it.Download != nil {
			limit, days = it.Download.Limit, it.Download.ExpiresInDays
		}
		if err := s.deps.Grants.Grant(ctx, o.Buyer(), it.ProductID, o.OrderID, limit, days); err != nil {
			s.lg.Error("grant download",
				zap.String("order_id", o.OrderID),
				zap.String("product_id", it.ProductID),
				zap.Bool("reconcile", true),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) notify(ctx context.Context, o Order, typ string) {
	err := s.deps.Notifier.Notify(ctx, o.Recipient(), typ, map[string]any{
		"order_id":     o.OrderID,
		"order_number": o.OrderNumber,
		"status":       string(o.Status),
		"total":        o.Totals.Total,
	})
	if err != nil {
		s.lg.Warn("send notification", zap.String("order_id", o.OrderID), zap.String("type", typ), zap.Error(err))
	}
}

func (s *Service) isAdmin(ctx context.Context, actor Actor) (bool, error) {
	if actor.UserID == "" || s.deps.Directory == nil {
		return false, nil
	}
	u, err := s.deps.Directory.Lookup(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.IsAdmin(), nil
}

func (s *Service) requireAdmin(ctx context.Context, actor Actor) error {
	admin, err := s.isAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !admin {
		return ErrForbidden
	}
	return nil
}
