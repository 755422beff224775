package awsconfig

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Options selects the credentials and region used for EC2 lookups.
type Options struct {
	Region     string
	Profile    string
	RoleARN    string
	ExternalID string
	MaxRetries int
}

type service struct{}

// Service is the interface for AWS configuration service.
type Service interface {
	GetAWSCfg(ctx context.Context, opts Options) (aws.Config, error)
}
