// Package idempotency guards non-idempotent requests behind a client supplied
// key. The first request claims the key; retries with the same key replay the
// stored response instead of running again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

// A key can be claimed when it is new, when the previous attempt failed, or
// when the previous entry outlived its TTL but was not reaped yet.
const claimCond = "attribute_not_exists(idempotency_key) OR #s = :failed OR expires_at < :now"

var (
	ErrInProgress = apperr.Errorf(apperr.ECONFLICT, "idempotency", "A request with this idempotency key is still in progress")
	ErrKeyReused  = apperr.Errorf(apperr.EUNPROCESSABLE, "idempotency", "Idempotency key was already used for a different request")
	ErrMissingKey = apperr.Errorf(apperr.EINVALID, "idempotency", "Idempotency-Key header is required")
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Key scopes a client key so the same value sent to two endpoints or by two
// buyers never collides.
func Key(scope, clientKey string) string {
	return scope + "#" + clientKey
}

// Fingerprint hashes the parts that identify a request.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Begin claims key for a request with the given fingerprint.
// Returns (nil, nil) when the caller now owns the key and must run the request.
// Returns the stored record when a completed request can be replayed.
// Returns ErrInProgress while another attempt holds the key and ErrKeyReused
// when the key belongs to a different request.
func (s *Store) Begin(ctx context.Context, key, fingerprint string) (*Record, error) {
	now := s.nowFunc()
	rec := Record{
		IdempotencyKey: key,
		Fingerprint:    fingerprint,
		Status:         StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      aws.String(claimCond),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err == nil {
		return nil, nil
	}
	if !aws.IsConditionalCheckFailed(err) {
		return nil, errors.Wrap(err, "put item")
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// reaped between the put and the read; the caller may simply retry
		return nil, ErrInProgress
	}
	if existing.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}
	if existing.Status == StatusInProgress {
		return nil, ErrInProgress
	}
	return existing, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get item")
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal item")
	}
	return &rec, nil
}

// MarkDone stores the response of a finished request so retries replay it.
func (s *Store) MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyAttr(key),
		UpdateExpression:    aws.String("SET #s = :done, order_id = :oid, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ConditionExpression: aws.String("#s = :inprogress"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":       &types.AttributeValueMemberS{Value: StatusDone},
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":oid":        &types.AttributeValueMemberS{Value: orderID},
			":rb":         &types.AttributeValueMemberS{Value: responseBody},
			":rs":         &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
			":ua":         s.timestamp(),
		},
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return errors.Errorf("idempotency key %s is not in progress", key)
		}
		return errors.Wrap(err, "update item (mark done)")
	}
	return nil
}

// MarkFailed releases the key after a request that left nothing behind, so
// the client may retry with the same key.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              keyAttr(key),
		UpdateExpression: aws.String("SET #s = :failed, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     s.timestamp(),
		},
	})
	if err != nil {
		return errors.Wrap(err, "update item (mark failed)")
	}
	return nil
}

func (s *Store) timestamp() types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)}
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}
