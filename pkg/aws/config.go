package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Settings selects the region and an optional endpoint override (LocalStack).
// Static keys, when given, replace the default credential chain.
type Settings struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// LoadConfig loads the default AWS credential chain. When Endpoint is set,
// every client built from the returned config targets that URL instead of AWS.
func LoadConfig(ctx context.Context, s Settings) (sdkaws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	if s.AccessKeyID != "" || s.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}

	if s.Endpoint != "" {
		cfg.BaseEndpoint = sdkaws.String(s.Endpoint)
	}
	return cfg, nil
}
