package catalog

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

var ErrProductNotFound = apperr.Errorf(apperr.ENOTFOUND, "catalog.get", "Product not found")

// Lookup is the read side of the catalog used by carts and checkout.
type Lookup interface {
	Get(ctx context.Context, productID string) (*Product, error)
}

// Store encapsulates operations on the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new products Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get fetches a product by id. Returns ErrProductNotFound if missing.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            Key(productID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if len(out.Item) == 0 {
		return nil, ErrProductNotFound
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal product")
	}
	return &p, nil
}

// Put writes a product, deriving its stock status. Used for catalog
// seeding and admin edits; stock changes after creation go through the
// inventory ledger.
func (s *Store) Put(ctx context.Context, p Product) error {
	now := s.nowFunc()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.StockStatus = StockStatus(p.Quantity, p.LowStockThreshold, p.AllowBackorder)

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return errors.Wrap(err, "marshal product")
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return errors.Wrap(err, "put product")
	}
	return nil
}

// Key builds the products table key.
func Key(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}
