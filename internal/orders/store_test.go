package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws/dynamotest"
)

func newTestStore() (*Store, *dynamotest.Fake) {
	mock := dynamotest.New(map[string]string{"orders": "order_id"})
	return NewStore(mock, "orders"), mock
}

func TestCreate_Success(t *testing.T) {
	store, mock := newTestStore()

	order := Order{
		OrderID:     "order-1",
		OrderNumber: "ORD-260101-AAAAAAAA",
		UserID:      "cust-1",
		CartID:      "cart-1",
		Status:      StatusPending,
		Payment:     Payment{Method: "card", Status: PaymentPending},
	}
	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if mock.Len("orders") != 1 {
		t.Fatalf("order item not stored")
	}

	got, err := store.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}
}

func TestCreate_ExistingOrder_Fails(t *testing.T) {
	store, _ := newTestStore()
	order := Order{OrderID: "order-2", Status: StatusPending}

	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := store.Create(context.Background(), order)
	if !errors.Is(err, ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}
}

func TestSave_VersionCondition_SuccessAndFail(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	if err := store.Create(ctx, Order{OrderID: "order-10", Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := store.Get(ctx, "order-10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stale := *first

	// success: version 1 -> 2
	first.Status = StatusProcessing
	saved, err := store.Save(ctx, *first)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}

	// failure: the stale copy still carries version 1
	stale.Status = StatusCancelled
	_, err = store.Save(ctx, stale)
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}

	got, _ := store.Get(ctx, "order-10")
	if got.Status != StatusProcessing {
		t.Fatalf("stale save leaked: status=%s", got.Status)
	}
}

func TestGet_NotFound(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestFindOpenByCart(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	now := time.Now()

	for _, o := range []Order{
		{OrderID: "cancelled", CartID: "cart-1", Status: StatusCancelled, CreatedAt: now},
		{OrderID: "deleted", CartID: "cart-1", Status: StatusPending, Deleted: true, CreatedAt: now},
		{OrderID: "other", CartID: "cart-2", Status: StatusPending, CreatedAt: now},
	} {
		if err := store.Create(ctx, o); err != nil {
			t.Fatalf("create %s: %v", o.OrderID, err)
		}
	}

	got, err := store.FindOpenByCart(ctx, "cart-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no open order, got %s", got.OrderID)
	}

	if err := store.Create(ctx, Order{OrderID: "open", CartID: "cart-1", Status: StatusProcessing}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err = store.FindOpenByCart(ctx, "cart-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.OrderID != "open" {
		t.Fatalf("expected open order, got %+v", got)
	}
}
