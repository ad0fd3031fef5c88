// Package inventory is the only writer of tracked stock quantities. Every
// change is a single conditional UpdateItem; there are no locks.
package inventory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
)

const (
	reserveExpr = "SET #q = #q - :qty, total_sales = total_sales + :qty, updated_at = :ua"
	reserveCond = "attribute_exists(product_id) AND track_quantity = :true AND (allow_backorder = :true OR #q >= :qty)"
	releaseExpr = "SET #q = #q + :qty, total_sales = total_sales - :qty, updated_at = :ua"
	trackedCond = "attribute_exists(product_id) AND track_quantity = :true"
	saleExpr    = "SET total_sales = if_not_exists(total_sales, :zero) + :qty, updated_at = :ua"
	existsCond  = "attribute_exists(product_id)"
	statusExpr  = "SET stock_status = :st"
	statusCond  = "#q = :observed"
)

var quantityName = map[string]string{"#q": "quantity"}

var (
	// ErrInsufficientStock matches every *InsufficientStockError.
	ErrInsufficientStock = apperr.Errorf(apperr.ECONFLICT, "inventory.reserve", "Insufficient stock")
	ErrNotTracked        = apperr.Errorf(apperr.EINVALID, "inventory", "Product inventory is not tracked")
	ErrInvalidQuantity   = apperr.Errorf(apperr.EINVALID, "inventory", "Quantity must be greater than 0")
)

// InsufficientStockError reports a lost reservation race or an oversized request.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Code() string { return apperr.ECONFLICT }

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Level is the inventory state observed right after a ledger write.
type Level struct {
	ProductID   string
	Quantity    int64
	StockStatus string
	TotalSales  int64
}

// Ledger applies atomic conditional stock changes to the products table.
type Ledger struct {
	client    aws.DynamoDBAPI
	tableName string
	lg        *zap.Logger
	nowFunc   func() time.Time
}

func NewLedger(client aws.DynamoDBAPI, tableName string, lg *zap.Logger) *Ledger {
	return &Ledger{
		client:    client,
		tableName: tableName,
		lg:        lg,
		nowFunc:   time.Now,
	}
}

// Reserve decrements the quantity by qty if enough stock is on hand or the
// product allows backorder. A failed precondition is reported as
// *InsufficientStockError and must not be retried by the caller.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int64) (*Level, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	out, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &l.tableName,
		Key:                      catalog.Key(productID),
		UpdateExpression:         aws.String(reserveExpr),
		ConditionExpression:      aws.String(reserveCond),
		ExpressionAttributeNames: quantityName,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":qty":  num(qty),
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":ua":   l.timestamp(),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return nil, l.explainReserveFailure(ctx, productID, qty)
		}
		return nil, errors.Wrap(err, "reserve stock")
	}
	return l.settle(ctx, out.Attributes)
}

// Release returns qty units to a tracked product. Used only to compensate
// reservations.
func (l *Ledger) Release(ctx context.Context, productID string, qty int64) (*Level, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	out, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &l.tableName,
		Key:                      catalog.Key(productID),
		UpdateExpression:         aws.String(releaseExpr),
		ConditionExpression:      aws.String(trackedCond),
		ExpressionAttributeNames: quantityName,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":qty":  num(qty),
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":ua":   l.timestamp(),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return nil, l.explainTrackedFailure(ctx, productID)
		}
		return nil, errors.Wrap(err, "release stock")
	}
	return l.settle(ctx, out.Attributes)
}

// RecordSale bumps the sales counter of a product whose stock is not tracked.
func (l *Ledger) RecordSale(ctx context.Context, productID string, qty int64) error {
	return l.addSales(ctx, productID, qty)
}

// UndoSale reverses RecordSale.
func (l *Ledger) UndoSale(ctx context.Context, productID string, qty int64) error {
	return l.addSales(ctx, productID, -qty)
}

func (l *Ledger) addSales(ctx context.Context, productID string, delta int64) error {
	_, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &l.tableName,
		Key:                 catalog.Key(productID),
		UpdateExpression:    aws.String(saleExpr),
		ConditionExpression: aws.String(existsCond),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":qty":  num(delta),
			":zero": num(0),
			":ua":   l.timestamp(),
		},
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return catalog.ErrProductNotFound
		}
		return errors.Wrap(err, "record sale")
	}
	return nil
}

// settle recomputes the stock status from the quantity this writer observed.
// The status write is conditioned on that quantity still being current; if a
// later ledger write moved it, that writer owns the status.
func (l *Ledger) settle(ctx context.Context, attrs map[string]types.AttributeValue) (*Level, error) {
	var p catalog.Product
	if err := attributevalue.UnmarshalMap(attrs, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal product")
	}
	status := catalog.StockStatus(p.Quantity, p.LowStockThreshold, p.AllowBackorder)
	level := &Level{ProductID: p.ProductID, Quantity: p.Quantity, StockStatus: status, TotalSales: p.TotalSales}
	if status == p.StockStatus {
		return level, nil
	}

	_, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &l.tableName,
		Key:                      catalog.Key(p.ProductID),
		UpdateExpression:         aws.String(statusExpr),
		ConditionExpression:      aws.String(statusCond),
		ExpressionAttributeNames: quantityName,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st":       &types.AttributeValueMemberS{Value: status},
			":observed": num(p.Quantity),
		},
	})
	if err != nil && !aws.IsConditionalCheckFailed(err) {
		// quantity is already correct; a stale status only affects display
		l.lg.Warn("refresh stock status", zap.String("product_id", p.ProductID), zap.Error(err))
	}
	return level, nil
}

func (l *Ledger) explainReserveFailure(ctx context.Context, productID string, qty int64) error {
	p, err := l.current(ctx, productID)
	if err != nil {
		return err
	}
	if !p.TrackQuantity {
		return ErrNotTracked
	}
	return &InsufficientStockError{ProductID: productID, Requested: qty, Available: max(p.Quantity, 0)}
}

func (l *Ledger) explainTrackedFailure(ctx context.Context, productID string) error {
	if _, err := l.current(ctx, productID); err != nil {
		return err
	}
	return ErrNotTracked
}

func (l *Ledger) current(ctx context.Context, productID string) (*catalog.Product, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.tableName,
		Key:            catalog.Key(productID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if len(out.Item) == 0 {
		return nil, catalog.ErrProductNotFound
	}
	var p catalog.Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal product")
	}
	return &p, nil
}

func (l *Ledger) timestamp() types.AttributeValue {
	av, _ := attributevalue.Marshal(l.nowFunc())
	return av
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}
