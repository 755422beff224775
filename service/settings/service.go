// Package settings loads and validates the ENC configuration file.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var environmentRE = regexp.MustCompile(`^[a-z0-9_]+$`)

// MatchKeys are the instance attributes a rule may match on, besides tag:<Key>.
var MatchKeys = []string{
	"instance_type",
	"image_id",
	"vpc_id",
	"subnet_id",
	"availability_zone",
	"region",
	"account_id",
	"iam_instance_profile",
	"private_dns_name",
	"architecture",
	"platform",
	"security_group",
}

// Default returns the settings used when no configuration file exists.
func Default() *Settings {
	return &Settings{
		MaxRetries:  5,
		MaxParallel: 4,
		TagPrefix:   "puppet:",
		MatchBy:     []string{StrategyInstanceID, StrategyPrivateDNSName, StrategyTagPrefix + "Name"},
		Environment: "production",
		Parameters:  map[string]any{},
		UnknownNode: UnknownNodeFail,
		Cache: CacheSettings{
			Path:     "~/.puppet-enc-ec2/cache.db",
			StaleTTL: 24 * time.Hour,
		},
		Log: LogSettings{Level: "warn", Format: "text"},
	}
}

// Load reads the configuration file at p on top of the defaults. A missing
// file is only an error when the caller asked for it explicitly.
func Load(p string, explicit bool) (*Settings, error) {
	s := Default()
	if p == "" {
		p = DefaultPath
	}

	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", p, err)
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", p, err)
	}
	if s.Parameters == nil {
		s.Parameters = map[string]any{}
	}
	return s, nil
}

// ApplyFlags overrides file values with flags given on the command line.
func (s *Settings) ApplyFlags(flags model.Flags) {
	if flags.Profile != "" {
		s.Profile = flags.Profile
	}
	if flags.Region != "" {
		s.Region = flags.Region
	}
	if len(flags.Regions) > 0 {
		s.Regions = flags.Regions
	}
	if flags.RoleARN != "" {
		s.RoleARN = flags.RoleARN
	}
	if flags.ExternalID != "" {
		s.ExternalID = flags.ExternalID
	}
	if flags.DBPath != "" {
		s.Cache.Path = flags.DBPath
	}
	if flags.NoCache {
		s.Cache.Disabled = true
	}
	if flags.LogLevel != "" && (flags.IsSet("log-level") || s.Log.Level == "") {
		s.Log.Level = flags.LogLevel
	}
	if flags.LogFormat != "" && (flags.IsSet("log-format") || s.Log.Format == "") {
		s.Log.Format = flags.LogFormat
	}
}

// Validate reports every problem in the settings at once.
func (s *Settings) Validate() error {
	var merr *multierror.Error

	if s.MaxRetries < 0 {
		merr = multierror.Append(merr, fmt.Errorf("max_retries must be >= 0, got %d", s.MaxRetries))
	}
	if s.MaxParallel < 1 {
		merr = multierror.Append(merr, fmt.Errorf("max_parallel must be >= 1, got %d", s.MaxParallel))
	}
	if len(s.MatchBy) == 0 {
		merr = multierror.Append(merr, errors.New("match_by must name at least one strategy"))
	}
	for _, st := range s.MatchBy {
		if err := validateStrategy(st); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := ValidateEnvironment(s.Environment); err != nil {
		merr = multierror.Append(merr, err)
	}
	switch s.UnknownNode {
	case UnknownNodeFail, UnknownNodeDefault:
	default:
		merr = multierror.Append(merr, fmt.Errorf("unknown_node must be %q or %q, got %q", UnknownNodeFail, UnknownNodeDefault, s.UnknownNode))
	}
	if s.Cache.TTL < 0 || s.Cache.StaleTTL < 0 {
		merr = multierror.Append(merr, errors.New("cache ttl values must not be negative"))
	}

	for i, r := range s.Rules {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if r.Environment != "" {
			if err := ValidateEnvironment(r.Environment); err != nil {
				merr = multierror.Append(merr, fmt.Errorf("rule %s: %w", label, err))
			}
		}
		for key, pattern := range r.Match {
			if !isMatchKey(key) {
				merr = multierror.Append(merr, fmt.Errorf("rule %s: unknown match key %q", label, key))
			}
			if _, err := path.Match(pattern, ""); err != nil {
				merr = multierror.Append(merr, fmt.Errorf("rule %s: bad pattern %q for %s: %w", label, pattern, key, err))
			}
		}
	}

	return merr.ErrorOrNil()
}

// ValidateEnvironment checks a Puppet environment name.
func ValidateEnvironment(env string) error {
	if env == "" {
		return nil
	}
	if !environmentRE.MatchString(env) {
		return fmt.Errorf("invalid environment name %q", env)
	}
	return nil
}

func validateStrategy(st string) error {
	switch st {
	case StrategyInstanceID, StrategyPrivateDNSName, StrategyDNSName, StrategyPrivateIP:
		return nil
	}
	if strings.HasPrefix(st, StrategyTagPrefix) && len(st) > len(StrategyTagPrefix) {
		return nil
	}
	return fmt.Errorf("unknown match_by strategy %q", st)
}

func isMatchKey(key string) bool {
	if strings.HasPrefix(key, "tag:") && len(key) > len("tag:") {
		return true
	}
	for _, k := range MatchKeys {
		if k == key {
			return true
		}
	}
	return false
}
