// Package identity answers "who is this user and what may they do". Users
// are managed elsewhere; this package only reads them.
package identity

import (
	"context"
	"slices"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

const RoleAdmin = "admin"

var ErrUserNotFound = apperr.Errorf(apperr.EFORBIDDEN, "identity.lookup", "Unknown user")

// User is the read model of the users table.
type User struct {
	UserID string   `dynamodbav:"user_id"`
	Email  string   `dynamodbav:"email,omitempty"`
	Name   string   `dynamodbav:"name,omitempty"`
	Roles  []string `dynamodbav:"roles,omitempty"`
	Active bool     `dynamodbav:"active"`
}

// IsAdmin reports whether the user may act on other buyers' orders.
func (u User) IsAdmin() bool {
	return u.Active && slices.Contains(u.Roles, RoleAdmin)
}

// Directory looks up users.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*User, error)
}

// Store is a Directory over the users table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

func (s *Store) Lookup(ctx context.Context, userID string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	if len(out.Item) == 0 {
		return nil, ErrUserNotFound
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, errors.Wrap(err, "unmarshal user")
	}
	return &u, nil
}

// Put writes a user. Used for seeding.
func (s *Store) Put(ctx context.Context, u User) error {
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return errors.Wrap(err, "marshal user")
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return errors.Wrap(err, "put user")
	}
	return nil
}
