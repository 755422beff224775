// Package main is the entry point for the puppet-enc-ec2 node classifier.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/cavaliercoder/puppet-enc-ec2/model"
	awsconfig "github.com/cavaliercoder/puppet-enc-ec2/service/aws_config"
	"github.com/cavaliercoder/puppet-enc-ec2/service/classifier"
	"github.com/cavaliercoder/puppet-enc-ec2/service/flag"
	"github.com/cavaliercoder/puppet-enc-ec2/service/imds"
	"github.com/cavaliercoder/puppet-enc-ec2/service/instance"
	"github.com/cavaliercoder/puppet-enc-ec2/service/metrics"
	"github.com/cavaliercoder/puppet-enc-ec2/service/orchestrator"
	"github.com/cavaliercoder/puppet-enc-ec2/service/output"
	"github.com/cavaliercoder/puppet-enc-ec2/service/settings"
	"github.com/cavaliercoder/puppet-enc-ec2/service/storage"
	"github.com/cavaliercoder/puppet-enc-ec2/shared/logger"
	"github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "manifest", "list", "whoami", "cache":
			return runCommand(os.Args[1], os.Args[2:])
		}
	}

	flagService := flag.NewService()
	flags, err := flagService.GetParsedFlags()
	if err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	if flags.Version {
		printVersion(os.Stdout, versionInfo())
		return nil
	}

	return runClassify(flags)
}

func versionInfo() model.VersionInfo {
	return model.VersionInfo{Version: version, Commit: commit, Date: date}
}

func printVersion(w io.Writer, info model.VersionInfo) {
	fmt.Fprintf(w, "puppet-enc-ec2 version %s\n", info.Version)
	fmt.Fprintf(w, "commit: %s\n", info.Commit)
	fmt.Fprintf(w, "built at: %s\n", info.Date)
}

// runClassify is the ENC entry point Puppet Server execs with a certname.
func runClassify(flags model.Flags) error {
	env, err := newEnvironment(flags)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	certname := flags.Certname
	imdsService := imds.NewService(env.awsCfg)
	if flags.Self {
		identity, err := imdsService.GetIdentity(ctx)
		if err != nil {
			return fmt.Errorf("--self requires instance metadata: %w", err)
		}
		certname = identity.InstanceID
		env.settings.MatchBy = []string{settings.StrategyInstanceID}
		if len(env.settings.Regions) == 0 && env.settings.Region == "" {
			env.settings.Region = identity.Region
		}
	}

	finder, err := env.finder(ctx, imdsService.GetRegion)
	if err != nil {
		return err
	}

	var metricsService metrics.Service
	if env.settings.Metrics.Textfile != "" {
		var counter metrics.LookupCounter
		if env.storage != nil {
			counter = env.storage
		}
		metricsService = metrics.NewService(env.settings.Metrics.Textfile, counter)
	}

	orchestratorService := orchestrator.NewService(
		finder,
		classifier.NewService(env.settings),
		env.storage,
		metricsService,
		env.settings,
		env.logger,
	)

	result, err := orchestratorService.Classify(ctx, certname)
	if err != nil {
		return err
	}
	return output.NewService(flags.Output).RenderClassification(result)
}

// environment carries what every AWS-facing command needs.
type environment struct {
	settings *settings.Settings
	logger   *logrus.Logger
	awsCfg   aws.Config
	storage  storage.Service
}

func newEnvironment(flags model.Flags) (*environment, error) {
	cfg, err := settings.Load(flags.ConfigPath, flags.IsSet("config-path"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyFlags(flags)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", flags.ConfigPath, err)
	}

	log, err := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format, logrus.Fields{"version": version})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()
	awsCfg, err := awsconfig.NewService().GetAWSCfg(ctx, awsconfig.Options{
		Region:     cfg.Region,
		Profile:    cfg.Profile,
		RoleARN:    cfg.RoleARN,
		ExternalID: cfg.ExternalID,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	env := &environment{settings: cfg, logger: log, awsCfg: awsCfg}
	if !cfg.Cache.Disabled {
		store, err := storage.NewService(cfg.Cache.Path)
		if err != nil {
			// A broken cache must not stop catalogs compiling.
			log.WithError(err).Warn("cache unavailable, continuing without it")
		} else {
			env.storage = store
		}
	}
	return env, nil
}

func (e *environment) Close() {
	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			e.logger.WithError(err).Warn("failed to close cache")
		}
	}
}

func (e *environment) finder(ctx context.Context, metadataRegion func(context.Context) (string, error)) (*instance.Finder, error) {
	regions, err := resolveRegions(ctx, e.settings, e.awsCfg.Region, metadataRegion)
	if err != nil {
		return nil, err
	}
	e.logger.WithField("regions", regions).Debug("searching regions")

	services := make([]instance.Service, 0, len(regions))
	for _, r := range regions {
		regionCfg := e.awsCfg.Copy()
		regionCfg.Region = r
		services = append(services, instance.NewService(regionCfg))
	}
	return instance.NewFinder(services, e.settings.MaxParallel, e.logger), nil
}

// resolveRegions picks the regions to search: configured regions, then the
// configured region, then the SDK's region, then instance metadata.
func resolveRegions(ctx context.Context, cfg *settings.Settings, sdkRegion string, metadataRegion func(context.Context) (string, error)) ([]string, error) {
	if regions := instance.DedupeRegions(cfg.Regions); len(regions) > 0 {
		return regions, nil
	}
	for _, r := range []string{cfg.Region, sdkRegion} {
		if r != "" {
			return []string{r}, nil
		}
	}
	if metadataRegion != nil {
		r, err := metadataRegion(ctx)
		if err == nil && r != "" {
			return []string{r}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("no region configured and instance metadata unavailable: %w", err)
		}
	}
	return nil, errors.New("no region configured: set --region, --regions or region in the config file")
}
