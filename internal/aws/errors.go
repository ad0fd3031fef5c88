package aws

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/go-faster/errors"
)

// IsConditionalCheckFailed reports whether a single-item write was rejected
// by its ConditionExpression.
func IsConditionalCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var api smithy.APIError
	return errors.As(err, &api) && api.ErrorCode() == "ConditionalCheckFailedException"
}

// IsTransactionCanceled reports whether a TransactWriteItems call was
// cancelled. The returned reason codes line up with the transact items.
func IsTransactionCanceled(err error) ([]string, bool) {
	if err == nil {
		return nil, false
	}
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, false
	}
	codes := make([]string, 0, len(tce.CancellationReasons))
	for _, r := range tce.CancellationReasons {
		if r.Code != nil {
			codes = append(codes, *r.Code)
		} else {
			codes = append(codes, "")
		}
	}
	return codes, true
}
