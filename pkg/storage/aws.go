package storage

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// awsEndpoint overrides the service endpoint, e.g. for LocalStack.
func awsEndpoint() *string {
	endpoint := os.Getenv("AWS_ENDPOINT")
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}

func newAwsConfig(ctx context.Context, region string) (aws.Config, error) {
	opts := make([]func(*config.LoadOptions) error, 0, 1)
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

func newS3Client(cfg aws.Config) *awss3.Client {
	return awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = true
		if endpoint := awsEndpoint(); endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

func newDynamoDBClient(cfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint := awsEndpoint(); endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}
