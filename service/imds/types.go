package imds

import (
	"context"

	ec2imds "github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// IMDSClientAPI defines the instance metadata client methods used by this service.
type IMDSClientAPI interface {
	GetRegion(ctx context.Context, params *ec2imds.GetRegionInput, optFns ...func(*ec2imds.Options)) (*ec2imds.GetRegionOutput, error)
	GetInstanceIdentityDocument(ctx context.Context, params *ec2imds.GetInstanceIdentityDocumentInput, optFns ...func(*ec2imds.Options)) (*ec2imds.GetInstanceIdentityDocumentOutput, error)
}

// Identity is the subset of the instance identity document the ENC uses.
type Identity struct {
	InstanceID       string
	AccountID        string
	Region           string
	AvailabilityZone string
	InstanceType     string
	ImageID          string
	PrivateIP        string
}

type service struct {
	client IMDSClientAPI
}

// Service describes the instance this process runs on.
type Service interface {
	GetRegion(ctx context.Context) (string, error)
	GetIdentity(ctx context.Context) (*Identity, error)
}
