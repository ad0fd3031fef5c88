package carts

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

const (
	// saveCond lets a write through only while the stored cart is still open.
	saveCond    = "attribute_not_exists(cart_id) OR (#s = :active AND attribute_not_exists(order_id))"
	openCond    = "#s = :active AND attribute_not_exists(order_id)"
	expiredCond = "#s = :active AND expires_at < :now"
	archiveExpr = "SET #s = :archived, archive_reason = :reason, updated_at = :ts"
	convertExpr = "SET #s = :archived, archive_reason = :reason, order_id = :oid, updated_at = :ts"
	mergeExpr   = "SET #s = :archived, archive_reason = :reason, merged_into = :into, updated_at = :ts"
)

var statusName = map[string]string{"#s": "status"}

// Store persists carts. Saves are last-write-wins among open carts, but a
// cart that was archived or converted is never overwritten.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

func (s *Store) Get(ctx context.Context, cartID string) (*Cart, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(cartID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if len(out.Item) == 0 {
		return nil, ErrCartNotFound
	}
	var c Cart
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, errors.Wrap(err, "unmarshal cart")
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
	return &c, nil
}

// Save writes the whole cart. Returns ErrCartNotActive if the stored cart
// was archived in the meantime.
func (s *Store) Save(ctx context.Context, c Cart) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return errors.Wrap(err, "marshal cart")
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      aws.String(saveCond),
		ExpressionAttributeNames: statusName,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": str(string(StatusActive)),
		},
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return ErrCartNotActive
		}
		return errors.Wrap(err, "put cart")
	}
	return nil
}

// ArchiveExpired archives the cart if it is still active and past expiry.
// Reports false when another writer got there first or the cart was renewed.
func (s *Store) ArchiveExpired(ctx context.Context, cartID string, now time.Time) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      key(cartID),
		UpdateExpression:         aws.String(archiveExpr),
		ConditionExpression:      aws.String(expiredCond),
		ExpressionAttributeNames: statusName,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active":   str(string(StatusActive)),
			":archived": str(string(StatusArchived)),
			":reason":   str(ReasonExpired),
			":now":      epoch(now),
			":ts":       timestamp(now),
		},
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "archive expired cart")
	}
	return true, nil
}

// ConvertWrite is the transaction item that archives an open cart as
// converted into orderID. The checkout commits it together with the order.
func (s *Store) ConvertWrite(cartID, orderID string, now time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                &s.tableName,
		Key:                      key(cartID),
		UpdateExpression:         aws.String(convertExpr),
		ConditionExpression:      aws.String(openCond),
		ExpressionAttributeNames: statusName,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active":   str(string(StatusActive)),
			":archived": str(string(StatusArchived)),
			":reason":   str(ReasonConverted),
			":oid":      str(orderID),
			":ts":       timestamp(now),
		},
	}}
}

// SaveMerged writes the destination cart and archives the source in one
// transaction, so a guest cart is never merged twice.
func (s *Store) SaveMerged(ctx context.Context, dst Cart, srcID string, now time.Time) error {
	item, err := attributevalue.MarshalMap(dst)
	if err != nil {
		return errors.Wrap(err, "marshal cart")
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                &s.tableName,
				Item:                     item,
				ConditionExpression:      aws.String(saveCond),
				ExpressionAttributeNames: statusName,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":active": str(string(StatusActive)),
				},
			}},
			{Update: &types.Update{
				TableName:                &s.tableName,
				Key:                      key(srcID),
				UpdateExpression:         aws.String(mergeExpr),
				ConditionExpression:      aws.String(openCond),
				ExpressionAttributeNames: statusName,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":active":   str(string(StatusActive)),
					":archived": str(string(StatusArchived)),
					":reason":   str(ReasonMerged),
					":into":     str(dst.CartID),
					":ts":       timestamp(now),
				},
			}},
		},
	})
	if err != nil {
		if _, ok := aws.IsTransactionCanceled(err); ok {
			return ErrCartNotActive
		}
		return errors.Wrap(err, "merge carts")
	}
	return nil
}

// ScanExpired returns up to limit active carts whose expiry is before now.
func (s *Store) ScanExpired(ctx context.Context, now time.Time, limit int) ([]Cart, error) {
	var (
		out   []Cart
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                &s.tableName,
			FilterExpression:         aws.String(expiredCond),
			ExpressionAttributeNames: statusName,
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":active": str(string(StatusActive)),
				":now":    epoch(now),
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, errors.Wrap(err, "scan carts")
		}
		for _, item := range page.Items {
			var c Cart
			if err := attributevalue.UnmarshalMap(item, &c); err != nil {
				return nil, errors.Wrap(err, "unmarshal cart")
			}
			out = append(out, c)
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

func key(cartID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"cart_id": str(cartID)}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func epoch(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

func timestamp(t time.Time) types.AttributeValue {
	av, _ := attributevalue.Marshal(t)
	return av
}
