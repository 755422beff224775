package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/classifier"
	"github.com/cavaliercoder/puppet-enc-ec2/service/flag"
	"github.com/cavaliercoder/puppet-enc-ec2/service/imds"
	"github.com/cavaliercoder/puppet-enc-ec2/service/orchestrator"
	"github.com/cavaliercoder/puppet-enc-ec2/service/output"
	"github.com/cavaliercoder/puppet-enc-ec2/service/release"
	"github.com/cavaliercoder/puppet-enc-ec2/service/settings"
	"github.com/cavaliercoder/puppet-enc-ec2/service/storage"
	awssts "github.com/cavaliercoder/puppet-enc-ec2/service/sts"
	"github.com/cavaliercoder/puppet-enc-ec2/shared/spinner"
	"github.com/spf13/pflag"
)

func runCommand(cmd string, args []string) error {
	switch cmd {
	case "version":
		printVersion(os.Stdout, versionInfo())
		return nil
	case "manifest":
		return runManifestCommand(args, os.Stdout)
	case "list":
		return runListCommand(args)
	case "whoami":
		return runWhoamiCommand(args)
	case "cache":
		return runCacheCommand(args)
	default:
		return fmt.Errorf("unsupported command: %s", cmd)
	}
}

func runManifestCommand(args []string, w io.Writer) error {
	fs := pflag.NewFlagSet("manifest", pflag.ContinueOnError)
	versionFile := fs.String("version-file", release.DefaultVersionFile, "File holding the __version__ assignment")
	readme := fs.String("readme", release.DefaultReadme, "Long description file")
	format := fs.StringP("output", "o", "yaml", "Output format (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	manifest, err := release.NewService().BuildManifest(release.ManifestOptions{
		VersionFile: *versionFile,
		Readme:      *readme,
	})
	if err != nil {
		return err
	}
	return output.NewServiceWithWriter(*format, w).RenderValue(manifest)
}

func runListCommand(args []string) error {
	flags, err := flag.NewService().ParseCommandFlags("list", args)
	if err != nil {
		return err
	}
	flags.NoCache = true

	env, err := newEnvironment(flags)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	finder, err := env.finder(ctx, imds.NewService(env.awsCfg).GetRegion)
	if err != nil {
		return err
	}

	outputService := output.NewService(flags.Output)
	spinner.StartSpinner(fmt.Sprintf("Listing instances in %d region(s)...", len(finder.Regions())))
	results, err := orchestrator.NewService(finder, classifier.NewService(env.settings), nil, nil, env.settings, env.logger).ClassifyAll(ctx)
	outputService.StopSpinner()
	if err != nil {
		return err
	}
	return outputService.RenderNodes(results)
}

func runWhoamiCommand(args []string) error {
	flags, err := flag.NewService().ParseCommandFlags("whoami", args)
	if err != nil {
		return err
	}
	flags.NoCache = true

	env, err := newEnvironment(flags)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	identity, err := awssts.NewService(env.awsCfg).GetCallerIdentity(ctx)
	if err != nil {
		return fmt.Errorf("failed to get caller identity: %w", err)
	}
	return output.NewService(flags.Output).RenderValue(identity)
}

func runCacheCommand(args []string) error {
	fs := pflag.NewFlagSet("cache", pflag.ContinueOnError)
	configPath := fs.StringP("config-path", "c", settings.DefaultPath, "Path to the ENC config file")
	dbPath := fs.String("db-path", "", "Cache database path")
	limit := fs.Int("limit", 20, "Number of rows to list")
	olderThan := fs.Int("older-than", 30, "Purge entries older than N days")
	format := fs.StringP("output", "o", "table", "Output format (table, json, or yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: puppet-enc-ec2 cache <list|show|history|purge|vacuum|reindex> [--db-path ...]")
	}

	cfg, err := settings.Load(*configPath, fs.Changed("config-path"))
	if err != nil {
		return err
	}
	cfg.ApplyFlags(model.Flags{DBPath: *dbPath})

	store, err := storage.NewService(cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	return cacheCommand(context.Background(), store, output.NewService(*format), os.Stdout, rest, *limit, *olderThan)
}

func cacheCommand(ctx context.Context, store storage.Service, out output.Service, w io.Writer, rest []string, limit, olderThan int) error {
	switch sub := rest[0]; sub {
	case "list":
		entries, err := store.ListClassifications(ctx, limit)
		if err != nil {
			return err
		}
		return out.RenderCache(entries)
	case "show":
		if len(rest) < 2 {
			return fmt.Errorf("usage: puppet-enc-ec2 cache show <certname>")
		}
		entry, err := store.GetClassification(ctx, strings.ToLower(rest[1]))
		if err != nil {
			return err
		}
		return out.RenderCache([]storage.CachedClassification{*entry})
	case "history":
		certname := ""
		if len(rest) > 1 {
			certname = strings.ToLower(rest[1])
		}
		records, err := store.RecentLookups(ctx, certname, limit)
		if err != nil {
			return err
		}
		return out.RenderHistory(records)
	case "purge":
		count, err := store.PurgeOlderThan(ctx, olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Purged %d entries\n", count)
		return nil
	case "vacuum":
		return store.Vacuum(ctx)
	case "reindex":
		return store.Reindex(ctx)
	default:
		return fmt.Errorf("unsupported cache command: %s", sub)
	}
}
