// Package entitlements records which digital products a user may download.
package entitlements

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

// Entitlement is one user's grant for one digital product.
type Entitlement struct {
	EntitlementID      string     `dynamodbav:"entitlement_id"` // PK: user_id#product_id
	UserID             string     `dynamodbav:"user_id"`
	ProductID          string     `dynamodbav:"product_id"`
	OrderID            string     `dynamodbav:"order_id"`
	DownloadsRemaining int        `dynamodbav:"downloads_remaining,omitempty"` // 0 = unlimited
	ExpiresAt          *time.Time `dynamodbav:"expires_at,omitempty"`
	GrantedAt          time.Time  `dynamodbav:"granted_at"`
}

// ID builds the entitlement key.
func ID(userID, productID string) string {
	return userID + "#" + productID
}

// Store writes grants and answers ownership queries.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Grant creates the entitlement unless the user already has one for the
// product. A present grant is not an error, so a replayed payment callback
// grants once.
func (s *Store) Grant(ctx context.Context, userID, productID, orderID string, downloadLimit, expiryDays int) error {
	now := s.nowFunc()
	e := Entitlement{
		EntitlementID:      ID(userID, productID),
		UserID:             userID,
		ProductID:          productID,
		OrderID:            orderID,
		DownloadsRemaining: downloadLimit,
		GrantedAt:          now,
	}
	if expiryDays > 0 {
		exp := now.AddDate(0, 0, expiryDays)
		e.ExpiresAt = &exp
	}

	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return errors.Wrap(err, "marshal entitlement")
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(entitlement_id)"),
	})
	if err != nil && !aws.IsConditionalCheckFailed(err) {
		return errors.Wrap(err, "put entitlement")
	}
	return nil
}

// Has reports whether userID owns productID.
func (s *Store) Has(ctx context.Context, userID, productID string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"entitlement_id": &types.AttributeValueMemberS{Value: ID(userID, productID)},
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "get entitlement")
	}
	return len(out.Item) > 0, nil
}

// Get returns the grant, or nil when absent.
func (s *Store) Get(ctx context.Context, userID, productID string) (*Entitlement, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"entitlement_id": &types.AttributeValueMemberS{Value: ID(userID, productID)},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "get entitlement")
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var e Entitlement
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, errors.Wrap(err, "unmarshal entitlement")
	}
	return &e, nil
}
