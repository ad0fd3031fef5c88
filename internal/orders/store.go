package orders

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

var (
	ErrOrderNotFound = apperr.Errorf(apperr.ENOTFOUND, "orders", "Order not found")
	// ErrConcurrentUpdate means the version moved between read and save.
	ErrConcurrentUpdate = apperr.Errorf(apperr.ECONFLICT, "orders.save", "Order was modified concurrently")
	ErrOrderExists      = apperr.Errorf(apperr.ECONFLICT, "orders.create", "Order already exists")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWrite returns the transaction item that inserts a new order at
// version 1. The put fails if the order id is taken.
func (s *Store) CreateWrite(o Order) (types.TransactWriteItem, error) {
	now := s.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Version = 1

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return types.TransactWriteItem{}, errors.Wrap(err, "marshal order")
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(order_id)"),
	}}, nil
}

// Create inserts a single order outside a transaction.
func (s *Store) Create(ctx context.Context, o Order) error {
	w, err := s.CreateWrite(o)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           w.Put.TableName,
		Item:                w.Put.Item,
		ConditionExpression: w.Put.ConditionExpression,
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return ErrOrderExists
		}
		return errors.Wrap(err, "put order")
	}
	return nil
}

// Get fetches an order by order_id. Returns ErrOrderNotFound if missing.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(orderID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if len(out.Item) == 0 {
		return nil, ErrOrderNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, errors.Wrap(err, "unmarshal order")
	}
	return &o, nil
}

// Save writes o if the stored version is still o.Version, and returns the
// saved copy with the version bumped. Returns ErrConcurrentUpdate otherwise.
func (s *Store) Save(ctx context.Context, o Order) (Order, error) {
	expected := o.Version
	o.Version++
	o.UpdatedAt = s.nowFunc()

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return Order{}, errors.Wrap(err, "marshal order")
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return Order{}, ErrConcurrentUpdate
		}
		return Order{}, errors.Wrap(err, "save order")
	}
	return o, nil
}

// FindOpenByCart returns a non-cancelled, non-deleted order created from
// cartID, or nil. Used to stop duplicate checkouts.
func (s *Store) FindOpenByCart(ctx context.Context, cartID string) (*Order, error) {
	var start map[string]types.AttributeValue
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                &s.tableName,
			FilterExpression:         aws.String("cart_id = :cart AND #s <> :cancelled AND deleted <> :true"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":cart":      &types.AttributeValueMemberS{Value: cartID},
				":cancelled": &types.AttributeValueMemberS{Value: string(StatusCancelled)},
				":true":      &types.AttributeValueMemberBOOL{Value: true},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, errors.Wrap(err, "scan orders")
		}
		if len(page.Items) > 0 {
			var o Order
			if err := attributevalue.UnmarshalMap(page.Items[0], &o); err != nil {
				return nil, errors.Wrap(err, "unmarshal order")
			}
			return &o, nil
		}
		if len(page.LastEvaluatedKey) == 0 {
			return nil, nil
		}
		start = page.LastEvaluatedKey
	}
}

// ScanRestockPending returns up to limit cancelled orders that still owe
// stock back to the inventory ledger.
func (s *Store) ScanRestockPending(ctx context.Context, limit int) ([]Order, error) {
	var (
		out   []Order
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                &s.tableName,
			FilterExpression:         aws.String("restock_pending = :true AND #s = :cancelled"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":true":      &types.AttributeValueMemberBOOL{Value: true},
				":cancelled": &types.AttributeValueMemberS{Value: string(StatusCancelled)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, errors.Wrap(err, "scan orders")
		}
		for _, item := range page.Items {
			var o Order
			if err := attributevalue.UnmarshalMap(item, &o); err != nil {
				return nil, errors.Wrap(err, "unmarshal order")
			}
			out = append(out, o)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}

func key(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}
