// Package imds reads the EC2 instance metadata service of the local host.
package imds

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2imds "github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// probeTimeout bounds metadata calls so hosts outside EC2 fail fast.
const probeTimeout = 2 * time.Second

// NewService creates a new instance metadata service.
func NewService(cfg aws.Config) Service {
	return NewServiceWithClient(ec2imds.NewFromConfig(cfg))
}

// NewServiceWithClient creates an instance metadata service around an existing client.
func NewServiceWithClient(client IMDSClientAPI) Service {
	return &service{client: client}
}

func (s *service) GetRegion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := s.client.GetRegion(ctx, &ec2imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("failed to read region from instance metadata: %w", err)
	}
	return out.Region, nil
}

func (s *service) GetIdentity(ctx context.Context) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := s.client.GetInstanceIdentityDocument(ctx, &ec2imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to read instance identity document: %w", err)
	}
	doc := out.InstanceIdentityDocument
	return &Identity{
		InstanceID:       doc.InstanceID,
		AccountID:        doc.AccountID,
		Region:           doc.Region,
		AvailabilityZone: doc.AvailabilityZone,
		InstanceType:     doc.InstanceType,
		ImageID:          doc.ImageID,
		PrivateIP:        doc.PrivateIP,
	}, nil
}
