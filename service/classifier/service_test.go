package classifier

import (
	"testing"
	"time"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webInstance() model.Instance {
	return model.Instance{
		InstanceID:         "i-0123456789abcdef0",
		AccountID:          "123456789012",
		Region:             "us-east-1",
		AvailabilityZone:   "us-east-1b",
		InstanceType:       "m5.large",
		ImageID:            "ami-0abc",
		VpcID:              "vpc-prod",
		SubnetID:           "subnet-1",
		PrivateIP:          "10.1.2.3",
		PrivateDNSName:     "ip-10-1-2-3.ec2.internal",
		IAMInstanceProfile: "arn:aws:iam::123456789012:instance-profile/web",
		SecurityGroups:     []string{"default", "web-public"},
		Architecture:       "x86_64",
		State:              "running",
		LaunchTime:         time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Tags: map[string]string{
			"Name":                 "web01",
			"Tier":                 "web",
			"puppet:role":          "webserver",
			"puppet:classes":       "ntp, sshd",
			"puppet:param:AppTier": "frontend",
		},
	}
}

func TestClassifyDefaultsOnly(t *testing.T) {
	s := settings.Default()
	s.Classes = []string{"base"}
	s.Parameters = map[string]any{"datacenter": "aws"}
	f := false
	s.IncludeEC2Parameters = &f

	inst := webInstance()
	inst.Tags = nil
	c, err := NewService(s).Classify(inst)
	require.NoError(t, err)

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, map[string]map[string]any{"base": {}}, c.Classes)
	assert.Equal(t, map[string]any{"datacenter": "aws"}, c.Parameters)
}

func TestClassifyTags(t *testing.T) {
	s := settings.Default()
	c, err := NewService(s).Classify(webInstance())
	require.NoError(t, err)

	assert.Contains(t, c.Classes, "role::webserver")
	assert.Contains(t, c.Classes, "ntp")
	assert.Contains(t, c.Classes, "sshd")
	assert.Equal(t, "frontend", c.Parameters["app_tier"])
	assert.Equal(t, "i-0123456789abcdef0", c.Parameters["ec2_instance_id"])
	assert.Equal(t, "us-east-1b", c.Parameters["ec2_availability_zone"])
	assert.Equal(t, "2024-03-01T10:00:00Z", c.Parameters["ec2_launch_time"])
	assert.Equal(t, []string{"default", "web-public"}, c.Parameters["ec2_security_groups"])
	assert.Equal(t, "web01", c.Parameters["ec2_tags"].(map[string]string)["Name"])
	assert.NotContains(t, c.Parameters, "ec2_public_ip")
}

func TestClassifyConflictingParamTagsAreStable(t *testing.T) {
	inst := webInstance()
	inst.Tags = map[string]string{
		"puppet:param:DBHost":  "camel",
		"puppet:param:db_host": "snake",
		"puppet:param:Db_Host": "mixed",
	}
	svc := NewService(settings.Default())

	for i := 0; i < 20; i++ {
		c, err := svc.Classify(inst)
		require.NoError(t, err)
		assert.Equal(t, "snake", c.Parameters["db_host"])
	}
}

func TestClassifyPrecedence(t *testing.T) {
	s := settings.Default()
	s.Environment = "production"
	s.Parameters = map[string]any{"app_tier": "default", "ec2_region": "pinned"}
	s.Rules = []settings.Rule{
		{
			Name:        "prod vpc",
			Match:       map[string]string{"vpc_id": "vpc-prod", "tag:Tier": "web"},
			Environment: "webprod",
			Classes:     map[string]map[string]any{"nginx": {"workers": 4}},
			Parameters:  map[string]any{"app_tier": "rule"},
		},
		{
			Name:    "later rule merges class params",
			Match:   map[string]string{"instance_type": "m5.*"},
			Classes: map[string]map[string]any{"nginx": {"keepalive": true}},
		},
		{
			Name:    "no match",
			Match:   map[string]string{"region": "eu-*"},
			Classes: map[string]map[string]any{"eu_only": nil},
		},
	}

	inst := webInstance()
	inst.Tags["puppet:environment"] = "canary"
	c, err := NewService(s).Classify(inst)
	require.NoError(t, err)

	assert.Equal(t, "canary", c.Environment, "tag beats rule")
	assert.Equal(t, "frontend", c.Parameters["app_tier"], "tag beats rule and default")
	assert.Equal(t, "pinned", c.Parameters["ec2_region"], "facts never overwrite set parameters")
	assert.Equal(t, map[string]any{"workers": 4, "keepalive": true}, c.Classes["nginx"])
	assert.NotContains(t, c.Classes, "eu_only")
}

func TestRuleMatchKeys(t *testing.T) {
	inst := webInstance()
	tests := []struct {
		name  string
		match map[string]string
		want  bool
	}{
		{"empty rule matches everything", nil, true},
		{"security group any", map[string]string{"security_group": "web-*"}, true},
		{"security group none", map[string]string{"security_group": "db-*"}, false},
		{"missing tag", map[string]string{"tag:Team": "*"}, false},
		{"present tag glob", map[string]string{"tag:Name": "web??"}, true},
		{"iam profile", map[string]string{"iam_instance_profile": "*/web"}, true},
		{"all must match", map[string]string{"region": "us-*", "architecture": "arm64"}, false},
		{"account", map[string]string{"account_id": "123456789012"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ruleMatches(settings.Rule{Match: tc.match}, inst)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyInvalidEnvironmentTag(t *testing.T) {
	inst := webInstance()
	inst.Tags["puppet:environment"] = "Feature-Branch"

	_, err := NewService(settings.Default()).Classify(inst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "i-0123456789abcdef0")
}

func TestClassifyCustomTagPrefix(t *testing.T) {
	s := settings.Default()
	s.TagPrefix = "enc/"
	inst := webInstance()
	inst.Tags["enc/role"] = "db"

	c, err := NewService(s).Classify(inst)
	require.NoError(t, err)
	assert.Contains(t, c.Classes, "role::db")
	assert.NotContains(t, c.Classes, "role::webserver")
}
