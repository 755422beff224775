package imds

import (
	"context"
	"errors"
	"testing"

	ec2imds "github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockIMDS struct {
	region string
	doc    ec2imds.InstanceIdentityDocument
	err    error
}

func (m *mockIMDS) GetRegion(context.Context, *ec2imds.GetRegionInput, ...func(*ec2imds.Options)) (*ec2imds.GetRegionOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &ec2imds.GetRegionOutput{Region: m.region}, nil
}

func (m *mockIMDS) GetInstanceIdentityDocument(context.Context, *ec2imds.GetInstanceIdentityDocumentInput, ...func(*ec2imds.Options)) (*ec2imds.GetInstanceIdentityDocumentOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &ec2imds.GetInstanceIdentityDocumentOutput{InstanceIdentityDocument: m.doc}, nil
}

func TestGetRegion(t *testing.T) {
	svc := NewServiceWithClient(&mockIMDS{region: "ap-southeast-2"})
	region, err := svc.GetRegion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast-2", region)
}

func TestGetIdentity(t *testing.T) {
	svc := NewServiceWithClient(&mockIMDS{doc: ec2imds.InstanceIdentityDocument{
		InstanceID:       "i-0123456789abcdef0",
		AccountID:        "123456789012",
		Region:           "us-west-2",
		AvailabilityZone: "us-west-2a",
		InstanceType:     "t3.micro",
		ImageID:          "ami-12345678",
		PrivateIP:        "10.0.0.12",
	}})

	id, err := svc.GetIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "i-0123456789abcdef0", id.InstanceID)
	assert.Equal(t, "us-west-2a", id.AvailabilityZone)
	assert.Equal(t, "10.0.0.12", id.PrivateIP)
}

func TestOffEC2(t *testing.T) {
	svc := NewServiceWithClient(&mockIMDS{err: errors.New("connect: no route to host")})
	_, err := svc.GetRegion(context.Background())
	require.Error(t, err)
	_, err = svc.GetIdentity(context.Background())
	require.Error(t, err)
}
