package aws

import (
	"context"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-faster/errors"
)

const defaultRegion = "us-east-1"

// Settings selects the region and an optional endpoint override (LocalStack,
// DynamoDB Local) for every client.
type Settings struct {
	Region   string
	Endpoint string
}

func LoadAWSConfig(ctx context.Context, s Settings) (sdkaws.Config, error) {
	region := s.Region
	if region == "" {
		region = defaultRegion
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return cfg, errors.Wrap(err, "load AWS config")
	}

	return cfg, nil
}
