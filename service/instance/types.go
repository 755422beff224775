package instance

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/cavaliercoder/puppet-enc-ec2/model"
)

var (
	// ErrNodeNotFound means no live instance matched the certname.
	ErrNodeNotFound = errors.New("node not found")
	// ErrAmbiguousNode means more than one live instance matched the certname.
	ErrAmbiguousNode = errors.New("certname matches more than one instance")
)

// liveStates excludes terminated and shutting-down instances; their private
// DNS names and IPs get recycled.
var liveStates = []string{"pending", "running", "stopping", "stopped"}

// EC2ClientAPI defines the EC2 client methods used by this service.
type EC2ClientAPI interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Service looks up instances in a single region.
type Service interface {
	FindByCertname(ctx context.Context, certname string, strategies []string) (*model.Instance, error)
	List(ctx context.Context) ([]model.Instance, error)
	Region() string
}

type service struct {
	client EC2ClientAPI
	region string
}
