package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/go-faster/errors"
)

// TableSpec names a table and its string partition key.
type TableSpec struct {
	Name string
	Key  string
}

// EnsureTables creates on-demand tables that do not exist yet. It is meant
// for local development and integration tests; production tables are
// provisioned outside the service.
func EnsureTables(ctx context.Context, client DynamoDBAPI, specs ...TableSpec) error {
	for _, spec := range specs {
		_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: String(spec.Name),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: String(spec.Key), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: String(spec.Key), KeyType: types.KeyTypeHash},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		if err == nil {
			continue
		}
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			continue
		}
		var api smithy.APIError
		if errors.As(err, &api) && api.ErrorCode() == "ResourceInUseException" {
			continue
		}
		return errors.Wrapf(err, "create table %s", spec.Name)
	}
	return nil
}
