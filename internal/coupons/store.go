package coupons

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

// Store reads and writes coupon definitions.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Get fetches a coupon by code. Codes are case-insensitive and stored upper case.
func (s *Store) Get(ctx context.Context, code string) (*Coupon, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(code),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get coupon")
	}
	if len(out.Item) == 0 {
		return nil, ErrCouponNotFound
	}
	var c Coupon
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, errors.Wrap(err, "unmarshal coupon")
	}
	return &c, nil
}

// Put writes a coupon definition. The ledger fields of an existing coupon
// are overwritten, so this is meant for seeding and admin creation.
func (s *Store) Put(ctx context.Context, c Coupon) error {
	now := s.nowFunc()
	c.Code = Normalize(c.Code)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.UsageHistory == nil {
		c.UsageHistory = []UsageEntry{}
	}

	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return errors.Wrap(err, "marshal coupon")
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return errors.Wrap(err, "put coupon")
	}
	return nil
}

// Normalize canonicalises a user-entered code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func key(code string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"code": &types.AttributeValueMemberS{Value: Normalize(code)},
	}
}
