package model

import "time"

// Instance is the EC2 metadata of a single node, flattened from the
// DescribeInstances response.
type Instance struct {
	InstanceID         string            `json:"instance_id"`
	AccountID          string            `json:"account_id"`
	Region             string            `json:"region"`
	AvailabilityZone   string            `json:"availability_zone"`
	InstanceType       string            `json:"instance_type"`
	ImageID            string            `json:"image_id"`
	VpcID              string            `json:"vpc_id,omitempty"`
	SubnetID           string            `json:"subnet_id,omitempty"`
	PrivateIP          string            `json:"private_ip,omitempty"`
	PublicIP           string            `json:"public_ip,omitempty"`
	PrivateDNSName     string            `json:"private_dns_name,omitempty"`
	PublicDNSName      string            `json:"public_dns_name,omitempty"`
	IAMInstanceProfile string            `json:"iam_instance_profile,omitempty"`
	SecurityGroups     []string          `json:"security_groups,omitempty"`
	Architecture       string            `json:"architecture,omitempty"`
	Platform           string            `json:"platform,omitempty"`
	State              string            `json:"state"`
	LaunchTime         time.Time         `json:"launch_time"`
	Tags               map[string]string `json:"tags,omitempty"`
}

// Name returns the value of the Name tag, if any.
func (i Instance) Name() string {
	return i.Tags["Name"]
}
