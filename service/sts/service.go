// Package awssts provides a service for interacting with AWS STS.
package awssts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// NewService creates a new STS service.
func NewService(awsconfig aws.Config) Service {
	return NewServiceWithClient(sts.NewFromConfig(awsconfig))
}

// NewServiceWithClient creates an STS service around an existing client.
func NewServiceWithClient(client STSClientAPI) Service {
	return &service{client: client}
}

func (s *service) GetCallerIdentity(ctx context.Context) (*Identity, error) {
	out, err := s.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get caller identity: %w", err)
	}

	return &Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}
