package flag

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/settings"
	"github.com/spf13/pflag"
)

// NewService creates a new flag service.
func NewService() Service {
	return &service{}
}

type values struct {
	configPath *string
	profile    *string
	region     *string
	regions    *string
	roleARN    *string
	externalID *string
	output     *string
	self       *bool
	timeout    *time.Duration
	dbPath     *string
	noCache    *bool
	logLevel   *string
	logFormat  *string
	version    *bool
}

func register(fs *pflag.FlagSet, defaultOutput string) *values {
	return &values{
		configPath: fs.StringP("config-path", "c", settings.DefaultPath, "Path to the ENC config file"),
		profile:    fs.StringP("profile", "p", "", "AWS profile to use"),
		region:     fs.StringP("region", "r", "", "AWS region to search"),
		regions:    fs.String("regions", "", "Comma-separated AWS regions to search"),
		roleARN:    fs.String("role-arn", "", "IAM role to assume before calling EC2"),
		externalID: fs.String("external-id", "", "External ID for --role-arn"),
		output:     fs.StringP("output", "o", defaultOutput, "Output format (yaml, json, or table)"),
		self:       fs.Bool("self", false, "Classify the instance this command runs on"),
		timeout:    fs.Duration("timeout", 30*time.Second, "Deadline for AWS calls"),
		dbPath:     fs.String("db-path", "", "Cache database path (default ~/.puppet-enc-ec2/cache.db)"),
		noCache:    fs.Bool("no-cache", false, "Skip the local classification cache"),
		logLevel:   fs.String("log-level", "", "Log level (debug, info, warn, error)"),
		logFormat:  fs.String("log-format", "", "Log format (text or json)"),
		version:    fs.BoolP("version", "v", false, "Show version information"),
	}
}

func (v *values) flags(fs *pflag.FlagSet) (model.Flags, error) {
	var parsedRegions []string
	if *v.regions != "" {
		for _, r := range strings.Split(*v.regions, ",") {
			r = strings.TrimSpace(r)
			if r != "" {
				parsedRegions = append(parsedRegions, r)
			}
		}
	}

	output := strings.ToLower(strings.TrimSpace(*v.output))
	switch output {
	case "yaml", "json", "table":
	default:
		return model.Flags{}, fmt.Errorf("unsupported output format %q", *v.output)
	}
	if *v.timeout <= 0 {
		return model.Flags{}, fmt.Errorf("--timeout must be positive")
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = true
	})

	return model.Flags{
		ConfigPath:  *v.configPath,
		Profile:     *v.profile,
		Region:      *v.region,
		Regions:     parsedRegions,
		RoleARN:     *v.roleARN,
		ExternalID:  *v.externalID,
		Output:      output,
		Self:        *v.self,
		Timeout:     *v.timeout,
		DBPath:      *v.dbPath,
		NoCache:     *v.noCache,
		LogLevel:    *v.logLevel,
		LogFormat:   *v.logFormat,
		Version:     *v.version,
		Certname:    strings.TrimSpace(fs.Arg(0)),
		ExplicitSet: explicit,
	}, nil
}

// GetParsedFlags parses the ENC command line: `puppet-enc-ec2 [flags] <certname>`.
func (s *service) GetParsedFlags() (model.Flags, error) {
	v := register(pflag.CommandLine, "yaml")
	if err := pflag.CommandLine.Parse(os.Args[1:]); err != nil {
		return model.Flags{}, err
	}

	flags, err := v.flags(pflag.CommandLine)
	if err != nil {
		return model.Flags{}, err
	}
	if pflag.NArg() > 1 {
		return model.Flags{}, fmt.Errorf("expected one certname, got %d arguments", pflag.NArg())
	}
	if !flags.Version && !flags.Self && flags.Certname == "" {
		return model.Flags{}, fmt.Errorf("usage: puppet-enc-ec2 [flags] <certname>")
	}
	return flags, nil
}

// ParseCommandFlags parses the flags of a subcommand. Tables are the default
// output since subcommands are run by people, not Puppet.
func (s *service) ParseCommandFlags(command string, args []string) (model.Flags, error) {
	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	v := register(fs, "table")
	if err := fs.Parse(args); err != nil {
		return model.Flags{}, err
	}
	flags, err := v.flags(fs)
	if err != nil {
		return model.Flags{}, err
	}
	flags.Args = fs.Args()
	return flags, nil
}
