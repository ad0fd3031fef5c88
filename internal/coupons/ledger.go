package coupons

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

const (
	consumeCond = "usage_count = :seen AND (attribute_not_exists(#lim) OR #lim > :seen)"
	consumeExpr = "SET usage_count = usage_count + :one, total_discount = total_discount + :amount, " +
		"usage_history = list_append(if_not_exists(usage_history, :empty), :entry), updated_at = :now"
)

// ErrUsageConflict means the count moved between read and write, or the cap
// was reached in between. The caller decides whether that is fatal.
var ErrUsageConflict = apperr.Errorf(apperr.ECONFLICT, "coupons.consume", "Coupon usage changed concurrently")

// Ledger consumes coupon usage slots with an optimistic count check.
type Ledger struct {
	store   *Store
	nowFunc func() time.Time
}

func NewLedger(store *Store) *Ledger {
	return &Ledger{store: store, nowFunc: time.Now}
}

// Consume takes exactly one usage slot for orderID. It never retries.
func (l *Ledger) Consume(ctx context.Context, code, userID, orderID string, amount int64) error {
	c, err := l.store.Get(ctx, code)
	if err != nil {
		return err
	}
	if c.Exhausted() {
		return ErrUsageConflict
	}

	now := l.nowFunc()
	entry, err := attributevalue.Marshal([]UsageEntry{{UserID: userID, OrderID: orderID, Amount: amount, At: now}})
	if err != nil {
		return errors.Wrap(err, "marshal usage entry")
	}
	ts, err := attributevalue.Marshal(now)
	if err != nil {
		return errors.Wrap(err, "marshal timestamp")
	}

	_, err = l.store.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &l.store.tableName,
		Key:                      key(code),
		UpdateExpression:         aws.String(consumeExpr),
		ConditionExpression:      aws.String(consumeCond),
		ExpressionAttributeNames: map[string]string{"#lim": "usage_limit"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":seen":   num(c.UsageCount),
			":one":    num(1),
			":amount": num(amount),
			":empty":  &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":entry":  entry,
			":now":    ts,
		},
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return ErrUsageConflict
		}
		return errors.Wrap(err, "consume coupon")
	}
	return nil
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}
