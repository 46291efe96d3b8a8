// Package awsclients builds the shared AWS SDK clients. The base config
// is loaded once and reused so every client shares one credential chain
// and HTTP pool.
package awsclients

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

var (
	loadOnce  sync.Once
	shared    aws.Config
	loadError error
)

// Load returns the shared AWS config, loading it on first use. region
// may be empty to defer to the environment.
func Load(ctx context.Context, region string) (aws.Config, error) {
	loadOnce.Do(func() {
		opts := []func(*awsconfig.LoadOptions) error{}
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		shared, loadError = awsconfig.LoadDefaultConfig(ctx, opts...)
		if loadError != nil {
			loadError = fmt.Errorf("load AWS config: %w", loadError)
		}
	})
	return shared, loadError
}

// NewDynamoDB returns a DynamoDB client over the shared config.
func NewDynamoDB(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := Load(ctx, region)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// NewS3 returns an S3 client over the shared config.
func NewS3(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := Load(ctx, region)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

// NewSQS returns an SQS client over the shared config.
func NewSQS(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := Load(ctx, region)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

// NewSecretsManager returns a Secrets Manager client over the shared config.
func NewSecretsManager(ctx context.Context, region string) (*secretsmanager.Client, error) {
	cfg, err := Load(ctx, region)
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(cfg), nil
}
