package settings

import "time"

// DefaultPath is where Puppet Server installs keep ENC configuration.
const DefaultPath = "/etc/puppetlabs/puppet/enc-ec2.yaml"

// Lookup strategies, tried in the order given by MatchBy.
const (
	StrategyInstanceID     = "instance-id"
	StrategyPrivateDNSName = "private-dns-name"
	StrategyDNSName        = "dns-name"
	StrategyPrivateIP      = "private-ip-address"
	StrategyTagPrefix      = "tag:"
)

// Unknown node policies.
const (
	UnknownNodeFail    = "fail"
	UnknownNodeDefault = "default"
)

// Settings is the ENC configuration file.
type Settings struct {
	Profile              string         `yaml:"profile"`
	Region               string         `yaml:"region"`
	Regions              []string       `yaml:"regions"`
	RoleARN              string         `yaml:"role_arn"`
	ExternalID           string         `yaml:"external_id"`
	MaxRetries           int            `yaml:"max_retries"`
	MaxParallel          int            `yaml:"max_parallel"`
	TagPrefix            string         `yaml:"tag_prefix"`
	MatchBy              []string       `yaml:"match_by"`
	Environment          string         `yaml:"environment"`
	Classes              []string       `yaml:"classes"`
	Parameters           map[string]any `yaml:"parameters"`
	IncludeEC2Parameters *bool          `yaml:"include_ec2_parameters"`
	IncludeEC2Tags       *bool          `yaml:"include_ec2_tags"`
	UnknownNode          string         `yaml:"unknown_node"`
	Rules                []Rule         `yaml:"rules"`
	Cache                CacheSettings  `yaml:"cache"`
	Metrics              MetricsConfig  `yaml:"metrics"`
	Log                  LogSettings    `yaml:"log"`
}

// Rule assigns classes and parameters to every instance whose metadata
// matches all of the Match globs.
type Rule struct {
	Name        string                    `yaml:"name"`
	Match       map[string]string         `yaml:"match"`
	Environment string                    `yaml:"environment"`
	Classes     map[string]map[string]any `yaml:"classes"`
	Parameters  map[string]any            `yaml:"parameters"`
}

// CacheSettings controls the local classification cache.
type CacheSettings struct {
	Disabled bool          `yaml:"disabled"`
	Path     string        `yaml:"path"`
	TTL      time.Duration `yaml:"ttl"`
	StaleTTL time.Duration `yaml:"stale_ttl"`
}

// MetricsConfig controls the node_exporter textfile output.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// LogSettings controls diagnostic logging on stderr.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EC2Parameters reports whether ec2_* parameters are emitted.
func (s *Settings) EC2Parameters() bool {
	return s.IncludeEC2Parameters == nil || *s.IncludeEC2Parameters
}

// EC2Tags reports whether the ec2_tags parameter is emitted.
func (s *Settings) EC2Tags() bool {
	return s.IncludeEC2Tags == nil || *s.IncludeEC2Tags
}
