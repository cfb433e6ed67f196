// Package aws wraps the AWS SDK clients the service uses: SQS for
// reconciliation jobs, SNS for domain events, Secrets Manager for credentials,
// CloudWatch for metrics and logs, and S3 for catalog snapshots.
package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"
)

// Options controls how the shared SDK config is built.
type Options struct {
	Region string
	// Endpoint, when set, points every client at a single edge URL such as
	// LocalStack.
	Endpoint string
}

// LoadAWSConfig loads the default credential chain and applies the region and
// endpoint overrides.
func LoadAWSConfig(ctx context.Context, opts Options, logger *zap.Logger) (sdkaws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}

	if opts.Endpoint != "" {
		cfg.BaseEndpoint = sdkaws.String(opts.Endpoint)
		logger.Info("AWS custom endpoint configured",
			zap.String("endpoint", opts.Endpoint),
			zap.String("region", cfg.Region),
		)
	}
	return cfg, nil
}
