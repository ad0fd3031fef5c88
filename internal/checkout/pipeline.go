// Package checkout turns an active cart into a pending order. The steps run
// strictly in order and every resource taken before a failure is given back
// before the error is returned; order creation comes last because it is the
// one step that cannot be compensated.
package checkout

import (
	"context"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/carts"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/coupons"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/notify"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

// Request is one checkout attempt.
type Request struct {
	CartID        string
	Owner         carts.Owner
	Contact       orders.Contact
	Address       *orders.Address
	PaymentMethod string
}

// Stock is the part of the inventory ledger checkout uses.
type Stock interface {
	Reserve(ctx context.Context, productID string, qty int64) (*inventory.Level, error)
	Release(ctx context.Context, productID string, qty int64) (*inventory.Level, error)
	RecordSale(ctx context.Context, productID string, qty int64) error
}

// CouponLedger consumes one usage slot of a coupon.
type CouponLedger interface {
	Consume(ctx context.Context, code, userID, orderID string, amount int64) error
}

// Deps are the collaborators of Pipeline.
type Deps struct {
	// DB commits the order and the cart conversion in one transaction.
	DB        aws.DynamoDBAPI
	Carts     *carts.Service
	CartStore *carts.Store
	Orders    *orders.Store
	Catalog   catalog.Lookup
	Stock     Stock
	Coupons   coupons.Validator
	Ledger    CouponLedger
	Notifier  notify.Notifier
	Metrics   aws.Metrics
}

// Options tune a Pipeline.
type Options struct {
	// LookupConcurrency bounds parallel product reads. Default 8.
	LookupConcurrency int
	// CompensationTimeout bounds the release of reservations after a failure.
	// Compensation ignores cancellation of the request context. Default 10s.
	CompensationTimeout time.Duration
	// CommitTimeout bounds the order transaction and the read that settles an
	// ambiguous outcome. It is detached from the request context. Default 10s.
	CommitTimeout time.Duration
}

// Pipeline runs checkouts.
type Pipeline struct {
	deps    Deps
	opts    Options
	lg      *zap.Logger
	nowFunc func() time.Time
	newID   func() string
}

func NewPipeline(deps Deps, opts Options, lg *zap.Logger) *Pipeline {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = aws.NopMetrics{}
	}
	if opts.LookupConcurrency <= 0 {
		opts.LookupConcurrency = 8
	}
	if opts.CompensationTimeout <= 0 {
		opts.CompensationTimeout = 10 * time.Second
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 10 * time.Second
	}
	return &Pipeline{
		deps:    deps,
		opts:    opts,
		lg:      lg,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// reservation is a unit of stock taken by this attempt.
type reservation struct {
	productID string
	qty       int64
}

// Checkout validates the cart, reserves stock, consumes the coupon and
// commits the order together with the cart conversion. The stored cart is
// never written by a failed attempt.
func (p *Pipeline) Checkout(ctx context.Context, req Request) (*orders.Order, error) {
	now := p.nowFunc()
	lg := p.lg.With(zap.String("cart_id", req.CartID))

	cart, products, err := p.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	priced := reprice(*cart, products, p.deps.Carts.Policy(), now)
	if priced.NeedsShipping() {
		if priced.Shipping == nil {
			return nil, ErrShippingRequired
		}
		if req.Address == nil {
			return nil, ErrAddressRequired
		}
	}

	held, err := p.reserve(ctx, priced, products)
	if err != nil {
		return nil, err
	}

	orderID := p.newID()
	if priced.Coupon != nil {
		d, err := p.deps.Coupons.Validate(ctx, carts.CouponRequest(priced, priced.Coupon.Code))
		if err != nil {
			p.release(ctx, lg, orderID, held)
			return nil, err
		}
		snap := carts.Snapshot(*d)
		priced.Coupon = &snap
		priced = priced.Recompute(p.deps.Carts.Policy().Pricing)
	}

	o := buildOrder(orderID, priced, products, held, req, now)

	consumed := false
	if o.Coupon != nil {
		if err := p.deps.Ledger.Consume(ctx, o.Coupon.Code, o.Buyer(), o.OrderID, o.Coupon.Amount); err != nil {
			lg.Error("consume coupon",
				zap.String("order_id", o.OrderID),
				zap.String("coupon", o.Coupon.Code),
				zap.Bool("reconcile", true),
				zap.Error(err),
			)
		} else {
			consumed = true
		}
	}

	if err := p.commit(ctx, lg, o, now); err != nil {
		if errors.Is(err, ErrOutcomeUnknown) {
			// the order may exist; its reservations stay until someone checks
			lg.Error("order outcome unknown, reservations kept",
				zap.String("order_id", o.OrderID),
				zap.Int("reservations", len(held)),
				zap.Bool("reconcile", true),
				zap.Error(err),
			)
			return nil, err
		}
		p.release(ctx, lg, o.OrderID, held)
		if consumed {
			lg.Error("coupon consumed by failed checkout",
				zap.String("order_id", o.OrderID),
				zap.String("coupon", o.Coupon.Code),
				zap.Bool("reconcile", true),
			)
		}
		return nil, err
	}
	o.Version = 1

	p.recordSales(ctx, lg, o)
	if err := p.deps.Notifier.Notify(ctx, o.Recipient(), notify.OrderCreated, map[string]any{
		"order_id":     o.OrderID,
		"order_number": o.OrderNumber,
		"total":        o.Totals.Total,
	}); err != nil {
		lg.Warn("send notification", zap.String("order_id", o.OrderID), zap.Error(err))
	}
	p.deps.Metrics.Count(ctx, "OrdersCreated", 1, nil)
	p.deps.Metrics.Count(ctx, "OrderValue", float64(o.Totals.Total), nil)

	lg.Info("order created",
		zap.String("order_id", o.OrderID),
		zap.String("order_number", o.OrderNumber),
		zap.Int64("total", o.Totals.Total),
	)
	return &o, nil
}

// validate loads the cart and every line's product. Unavailable lines are
// reported together.
func (p *Pipeline) validate(ctx context.Context, req Request) (*carts.Cart, []*catalog.Product, error) {
	if req.Contact.Email == "" && req.Owner.UserID == "" {
		return nil, nil, ErrContactRequired
	}
	cart, err := p.deps.Carts.Get(ctx, req.CartID, req.Owner)
	if err != nil {
		return nil, nil, err
	}
	if !cart.Active() {
		return nil, nil, carts.ErrCartNotActive
	}
	if len(cart.Items) == 0 {
		return nil, nil, ErrEmptyCart
	}

	products := make([]*catalog.Product, len(cart.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.LookupConcurrency)
	for i, it := range cart.Items {
		g.Go(func() error {
			prod, err := p.deps.Catalog.Get(gctx, it.ProductID)
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "load product %s", it.ProductID)
			}
			products[i] = prod
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var problems []LineProblem
	for i, it := range cart.Items {
		prod := products[i]
		switch {
		case prod == nil:
			problems = append(problems, LineProblem{ProductID: it.ProductID, Reason: ReasonNotFound})
		case !prod.Published:
			problems = append(problems, LineProblem{ProductID: it.ProductID, Reason: ReasonUnpublished})
		case !prod.Active:
			problems = append(problems, LineProblem{ProductID: it.ProductID, Reason: ReasonInactive})
		}
	}
	if len(problems) > 0 {
		return nil, nil, &CartValidationError{Problems: problems}
	}
	return cart, products, nil
}

// reserve takes stock for every tracked line in cart order. On failure the
// reservations already taken are released in reverse before returning.
func (p *Pipeline) reserve(ctx context.Context, cart carts.Cart, products []*catalog.Product) ([]reservation, error) {
	var held []reservation
	for i, it := range cart.Items {
		if !products[i].Tracked() {
			continue
		}
		qty := int64(it.Quantity)
		if _, err := p.deps.Stock.Reserve(ctx, it.ProductID, qty); err != nil {
			p.release(ctx, p.lg.With(zap.String("cart_id", cart.CartID)), "", held)
			return nil, err
		}
		held = append(held, reservation{productID: it.ProductID, qty: qty})
	}
	return held, nil
}

// release gives back held reservations, newest first. A failure cannot be
// retried by the buyer, so it is logged for reconciliation.
func (p *Pipeline) release(ctx context.Context, lg *zap.Logger, orderID string, held []reservation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CompensationTimeout)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		r := held[i]
		if _, err := p.deps.Stock.Release(ctx, r.productID, r.qty); err != nil {
			lg.Error("release reservation",
				zap.String("order_id", orderID),
				zap.String("product_id", r.productID),
				zap.Int64("quantity", r.qty),
				zap.Bool("reconcile", true),
				zap.Error(err),
			)
		}
	}
}

// commit writes the order and converts the cart atomically. A cart that was
// converted or changed state meanwhile surfaces as carts.ErrCartNotActive.
//
// The transaction runs detached from the request context and carries the
// order id as its client request token, so SDK retries cannot apply it
// twice. An error that is not a cancellation does not prove nothing was
// written; a consistent read of the order settles it. nil means the order
// exists, ErrOutcomeUnknown means the read failed too.
func (p *Pipeline) commit(ctx context.Context, lg *zap.Logger, o orders.Order, now time.Time) error {
	orderWrite, err := p.deps.Orders.CreateWrite(o)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CommitTimeout)
	defer cancel()

	_, err = p.deps.DB.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		ClientRequestToken: aws.String(o.OrderID),
		TransactItems: []types.TransactWriteItem{
			orderWrite,
			p.deps.CartStore.ConvertWrite(o.CartID, o.OrderID, now),
		},
	})
	if err == nil {
		return nil
	}
	if reasons, ok := aws.IsTransactionCanceled(err); ok {
		if len(reasons) > 1 && reasons[1] == "ConditionalCheckFailed" {
			return carts.ErrCartNotActive
		}
		if len(reasons) > 0 && reasons[0] == "ConditionalCheckFailed" {
			return orders.ErrOrderExists
		}
		return errors.Wrap(err, "commit order")
	}

	// the commit may have used up its deadline; the read gets its own
	readCtx, readCancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CommitTimeout)
	defer readCancel()
	_, getErr := p.deps.Orders.Get(readCtx, o.OrderID)
	switch {
	case getErr == nil:
		lg.Warn("commit reported an error after the order was written",
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
		return nil
	case errors.Is(getErr, orders.ErrOrderNotFound):
		return errors.Wrap(err, "commit order")
	default:
		return errors.Wrapf(ErrOutcomeUnknown, "read back order: %v", getErr)
	}
}

// recordSales bumps the sales counter of lines the ledger did not reserve.
func (p *Pipeline) recordSales(ctx context.Context, lg *zap.Logger, o orders.Order) {
	for _, it := range o.Items {
		if it.InventoryReserved {
			continue
		}
		if err := p.deps.Stock.RecordSale(ctx, it.ProductID, int64(it.Quantity)); err != nil {
			lg.Warn("record sale", zap.String("order_id", o.OrderID), zap.String("product_id", it.ProductID), zap.Error(err))
		}
	}
}
