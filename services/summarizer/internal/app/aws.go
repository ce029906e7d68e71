package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// AWSSettings selects the region and optional static credentials for
// Bedrock. Empty keys fall back to the default credential chain.
type AWSSettings struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewBedrockClient loads an AWS config and returns a Bedrock runtime client
// used both for Converse completions and ApplyGuardrail detection.
func NewBedrockClient(ctx context.Context, s AWSSettings) (*bedrockruntime.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region := strings.TrimSpace(s.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if s.AccessKeyID != "" && s.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		o.RetryMaxAttempts = 2
		o.RetryMode = aws.RetryModeStandard
	}), nil
}
