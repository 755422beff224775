// Package instance finds the EC2 instance behind a Puppet certname.
package instance

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/settings"
)

var (
	instanceIDRE = regexp.MustCompile(`^i-[0-9a-f]{8,17}$`)
	ipHostRE     = regexp.MustCompile(`^ip-(\d{1,3})-(\d{1,3})-(\d{1,3})-(\d{1,3})$`)
)

// NewService creates a new instance lookup service for the region in cfg.
func NewService(cfg aws.Config) Service {
	return NewServiceWithClient(ec2.NewFromConfig(cfg), cfg.Region)
}

// NewServiceWithClient creates an instance lookup service around an existing client.
func NewServiceWithClient(client EC2ClientAPI, region string) Service {
	return &service{client: client, region: region}
}

func (s *service) Region() string {
	return s.region
}

// FindByCertname tries each strategy in order. The first strategy that
// returns any instance decides the result.
func (s *service) FindByCertname(ctx context.Context, certname string, strategies []string) (*model.Instance, error) {
	certname = strings.ToLower(strings.TrimSpace(certname))
	if certname == "" {
		return nil, fmt.Errorf("empty certname")
	}

	for _, strategy := range strategies {
		filter, ok := filterFor(strategy, certname)
		if !ok {
			continue
		}
		found, err := s.describe(ctx, []types.Filter{filter})
		if err != nil {
			return nil, fmt.Errorf("%s lookup for %s in %s: %w", strategy, certname, s.region, err)
		}
		if key, ok := strings.CutPrefix(strategy, settings.StrategyTagPrefix); ok {
			found = matchTag(found, key, certname)
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return &found[0], nil
		default:
			ids := make([]string, 0, len(found))
			for _, i := range found {
				ids = append(ids, i.InstanceID)
			}
			return nil, fmt.Errorf("%w: %s matched %s by %s", ErrAmbiguousNode, certname, strings.Join(ids, ", "), strategy)
		}
	}

	return nil, fmt.Errorf("%w: %s in %s", ErrNodeNotFound, certname, s.region)
}

func (s *service) List(ctx context.Context) ([]model.Instance, error) {
	found, err := s.describe(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances in %s: %w", s.region, err)
	}
	return found, nil
}

func (s *service) describe(ctx context.Context, filters []types.Filter) ([]model.Instance, error) {
	filters = append(filters, types.Filter{
		Name:   aws.String("instance-state-name"),
		Values: liveStates,
	})

	var out []model.Instance
	paginator := ec2.NewDescribeInstancesPaginator(s.client, &ec2.DescribeInstancesInput{Filters: filters})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				out = append(out, toModel(inst, aws.ToString(res.OwnerId), s.region))
			}
		}
	}
	return out, nil
}

// filterFor returns the DescribeInstances filter for a strategy, or false
// when the strategy cannot apply to this certname.
func filterFor(strategy, certname string) (types.Filter, bool) {
	short := shortName(certname)

	switch strategy {
	case settings.StrategyInstanceID:
		if !instanceIDRE.MatchString(short) {
			return types.Filter{}, false
		}
		return types.Filter{Name: aws.String("instance-id"), Values: []string{short}}, true
	case settings.StrategyPrivateDNSName:
		return types.Filter{Name: aws.String("private-dns-name"), Values: []string{certname}}, true
	case settings.StrategyDNSName:
		return types.Filter{Name: aws.String("dns-name"), Values: []string{certname}}, true
	case settings.StrategyPrivateIP:
		ip := certnameIP(certname)
		if ip == "" {
			return types.Filter{}, false
		}
		return types.Filter{Name: aws.String("private-ip-address"), Values: []string{ip}}, true
	}

	// Tag filters are case sensitive, so fetch every instance carrying the
	// key and compare values in matchTag.
	if key, ok := strings.CutPrefix(strategy, settings.StrategyTagPrefix); ok && key != "" {
		return types.Filter{Name: aws.String("tag-key"), Values: []string{key}}, true
	}
	return types.Filter{}, false
}

// matchTag keeps the instances whose tag key equals the certname or its
// short name, ignoring case.
func matchTag(instances []model.Instance, key, certname string) []model.Instance {
	short := shortName(certname)
	var out []model.Instance
	for _, inst := range instances {
		v := strings.TrimSpace(inst.Tags[key])
		if v != "" && (strings.EqualFold(v, certname) || strings.EqualFold(v, short)) {
			out = append(out, inst)
		}
	}
	return out
}

func shortName(certname string) string {
	if net.ParseIP(certname) != nil {
		return certname
	}
	short, _, _ := strings.Cut(certname, ".")
	return short
}

// certnameIP extracts an IPv4 address from a literal address or from the
// ip-a-b-c-d host names EC2 assigns by default.
func certnameIP(certname string) string {
	if ip := net.ParseIP(certname); ip != nil && ip.To4() != nil {
		return ip.String()
	}
	m := ipHostRE.FindStringSubmatch(shortName(certname))
	if m == nil {
		return ""
	}
	ip := net.ParseIP(strings.Join(m[1:], "."))
	if ip == nil {
		return ""
	}
	return ip.String()
}

func toModel(inst types.Instance, ownerID, region string) model.Instance {
	out := model.Instance{
		InstanceID:     aws.ToString(inst.InstanceId),
		AccountID:      ownerID,
		Region:         region,
		InstanceType:   string(inst.InstanceType),
		ImageID:        aws.ToString(inst.ImageId),
		VpcID:          aws.ToString(inst.VpcId),
		SubnetID:       aws.ToString(inst.SubnetId),
		PrivateIP:      aws.ToString(inst.PrivateIpAddress),
		PublicIP:       aws.ToString(inst.PublicIpAddress),
		PrivateDNSName: aws.ToString(inst.PrivateDnsName),
		PublicDNSName:  aws.ToString(inst.PublicDnsName),
		Architecture:   string(inst.Architecture),
		Platform:       aws.ToString(inst.PlatformDetails),
		LaunchTime:     aws.ToTime(inst.LaunchTime),
		Tags:           map[string]string{},
	}
	if inst.Placement != nil {
		out.AvailabilityZone = aws.ToString(inst.Placement.AvailabilityZone)
	}
	if inst.IamInstanceProfile != nil {
		out.IAMInstanceProfile = aws.ToString(inst.IamInstanceProfile.Arn)
	}
	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	for _, sg := range inst.SecurityGroups {
		out.SecurityGroups = append(out.SecurityGroups, aws.ToString(sg.GroupName))
	}
	for _, tag := range inst.Tags {
		out.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}
