// Package classifier turns EC2 instance metadata into a Puppet node
// classification.
package classifier

import (
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/settings"
	"github.com/iancoleman/strcase"
)

// Service classifies instances according to the loaded settings.
type Service interface {
	Classify(inst model.Instance) (model.Classification, error)
	Defaults() (model.Classification, error)
}

type service struct {
	settings *settings.Settings
}

// NewService creates a classifier for the given settings.
func NewService(s *settings.Settings) Service {
	return &service{settings: s}
}

// Defaults returns the classification given to nodes no rule or tag
// describes.
func (s *service) Defaults() (model.Classification, error) {
	c := model.NewClassification()
	c.Environment = s.settings.Environment
	for _, class := range s.settings.Classes {
		c.AddClass(class, nil)
	}
	for k, v := range s.settings.Parameters {
		c.Parameters[k] = v
	}
	return c, settings.ValidateEnvironment(c.Environment)
}

// Classify layers, lowest precedence first: defaults, matching rules in file
// order, puppet tags on the instance, then ec2_* facts for parameters not
// already set.
func (s *service) Classify(inst model.Instance) (model.Classification, error) {
	c, err := s.Defaults()
	if err != nil {
		return c, err
	}

	for _, rule := range s.settings.Rules {
		if !ruleMatches(rule, inst) {
			continue
		}
		if rule.Environment != "" {
			c.Environment = rule.Environment
		}
		for class, params := range rule.Classes {
			c.AddClass(class, params)
		}
		for k, v := range rule.Parameters {
			c.Parameters[k] = v
		}
	}

	applyTags(&c, inst.Tags, s.settings.TagPrefix)

	if s.settings.EC2Parameters() {
		for k, v := range ec2Parameters(inst, s.settings.EC2Tags()) {
			if _, ok := c.Parameters[k]; !ok {
				c.Parameters[k] = v
			}
		}
	}

	if err := settings.ValidateEnvironment(c.Environment); err != nil {
		return c, fmt.Errorf("instance %s: %w", inst.InstanceID, err)
	}
	return c, nil
}

func applyTags(c *model.Classification, tags map[string]string, prefix string) {
	if prefix == "" {
		return
	}
	// Sorted so that tags mapping to the same parameter resolve the same
	// way on every run.
	for _, key := range slices.Sorted(maps.Keys(tags)) {
		value := tags[key]
		name, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch {
		case name == "environment":
			if value != "" {
				c.Environment = value
			}
		case name == "classes":
			for _, class := range splitList(value) {
				c.AddClass(class, nil)
			}
		case name == "role":
			if value != "" {
				c.AddClass("role::"+value, nil)
			}
		case strings.HasPrefix(name, "param:"):
			param := strcase.ToSnake(strings.TrimPrefix(name, "param:"))
			if param != "" {
				c.Parameters[param] = value
			}
		}
	}
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func ec2Parameters(inst model.Instance, withTags bool) map[string]any {
	params := map[string]any{
		"ec2_instance_id":       inst.InstanceID,
		"ec2_instance_type":     inst.InstanceType,
		"ec2_image_id":          inst.ImageID,
		"ec2_region":            inst.Region,
		"ec2_availability_zone": inst.AvailabilityZone,
		"ec2_account_id":        inst.AccountID,
		"ec2_state":             inst.State,
	}
	optional := map[string]string{
		"ec2_vpc_id":               inst.VpcID,
		"ec2_subnet_id":            inst.SubnetID,
		"ec2_private_ip":           inst.PrivateIP,
		"ec2_public_ip":            inst.PublicIP,
		"ec2_private_dns_name":     inst.PrivateDNSName,
		"ec2_public_dns_name":      inst.PublicDNSName,
		"ec2_iam_instance_profile": inst.IAMInstanceProfile,
		"ec2_architecture":         inst.Architecture,
		"ec2_platform":             inst.Platform,
	}
	for k, v := range optional {
		if v != "" {
			params[k] = v
		}
	}
	if len(inst.SecurityGroups) > 0 {
		params["ec2_security_groups"] = append([]string(nil), inst.SecurityGroups...)
	}
	if !inst.LaunchTime.IsZero() {
		params["ec2_launch_time"] = inst.LaunchTime.UTC().Format(time.RFC3339)
	}
	if withTags && len(inst.Tags) > 0 {
		tags := make(map[string]string, len(inst.Tags))
		for k, v := range inst.Tags {
			tags[k] = v
		}
		params["ec2_tags"] = tags
	}
	return params
}

func ruleMatches(rule settings.Rule, inst model.Instance) bool {
	for key, pattern := range rule.Match {
		if !matchKey(key, pattern, inst) {
			return false
		}
	}
	return true
}

func matchKey(key, pattern string, inst model.Instance) bool {
	if tag, ok := strings.CutPrefix(key, "tag:"); ok {
		value, present := inst.Tags[tag]
		return present && glob(pattern, value)
	}
	if key == "security_group" {
		for _, sg := range inst.SecurityGroups {
			if glob(pattern, sg) {
				return true
			}
		}
		return false
	}
	return glob(pattern, attribute(key, inst))
}

func attribute(key string, inst model.Instance) string {
	switch key {
	case "instance_type":
		return inst.InstanceType
	case "image_id":
		return inst.ImageID
	case "vpc_id":
		return inst.VpcID
	case "subnet_id":
		return inst.SubnetID
	case "availability_zone":
		return inst.AvailabilityZone
	case "region":
		return inst.Region
	case "account_id":
		return inst.AccountID
	case "iam_instance_profile":
		return inst.IAMInstanceProfile
	case "private_dns_name":
		return inst.PrivateDNSName
	case "architecture":
		return inst.Architecture
	case "platform":
		return inst.Platform
	}
	return ""
}

// glob matches with path.Match; patterns are checked by settings.Validate.
func glob(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
