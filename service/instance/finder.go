package instance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Finder searches several regions at once.
type Finder struct {
	services    []Service
	maxParallel int
	logger      logrus.FieldLogger
}

// NewFinder creates a finder over one lookup service per region.
func NewFinder(services []Service, maxParallel int, logger logrus.FieldLogger) *Finder {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Finder{services: services, maxParallel: maxParallel, logger: logger}
}

// Regions returns the regions the finder searches.
func (f *Finder) Regions() []string {
	out := make([]string, 0, len(f.services))
	for _, s := range f.services {
		out = append(out, s.Region())
	}
	return out
}

type regionResult struct {
	region   string
	instance *model.Instance
	err      error
}

// Find looks the certname up in every region. A single match anywhere wins.
// When nothing matched and a region failed, the region error is returned so
// that callers can tell an outage apart from an unknown node.
func (f *Finder) Find(ctx context.Context, certname string, strategies []string) (*model.Instance, error) {
	if len(f.services) == 0 {
		return nil, errors.New("no regions configured")
	}

	results := make([]regionResult, len(f.services))
	g := new(errgroup.Group)
	g.SetLimit(f.maxParallel)
	for i, svc := range f.services {
		g.Go(func() error {
			inst, err := svc.FindByCertname(ctx, certname, strategies)
			results[i] = regionResult{region: svc.Region(), instance: inst, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		matches []*model.Instance
		failed  []error
	)
	for _, r := range results {
		switch {
		case r.err == nil:
			matches = append(matches, r.instance)
		case errors.Is(r.err, ErrAmbiguousNode):
			return nil, r.err
		case errors.Is(r.err, ErrNodeNotFound):
		default:
			f.logger.WithError(r.err).WithField("region", r.region).Warn("region lookup failed")
			failed = append(failed, r.err)
		}
	}

	switch {
	case len(matches) == 1:
		return matches[0], nil
	case len(matches) > 1:
		found := make([]string, 0, len(matches))
		for _, m := range matches {
			found = append(found, m.InstanceID+"@"+m.Region)
		}
		return nil, fmt.Errorf("%w: %s matched %s", ErrAmbiguousNode, certname, strings.Join(found, ", "))
	case len(failed) > 0:
		return nil, errors.Join(failed...)
	default:
		return nil, fmt.Errorf("%w: %s in %s", ErrNodeNotFound, certname, strings.Join(f.Regions(), ", "))
	}
}

// List returns every live instance across all regions, ordered by region and
// instance id.
func (f *Finder) List(ctx context.Context) ([]model.Instance, error) {
	perRegion := make([][]model.Instance, len(f.services))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxParallel)
	for i, svc := range f.services {
		g.Go(func() error {
			var err error
			perRegion[i], err = svc.List(groupCtx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.Instance
	for _, list := range perRegion {
		out = append(out, list...)
	}
	slices.SortFunc(out, func(a, b model.Instance) int {
		if c := strings.Compare(a.Region, b.Region); c != 0 {
			return c
		}
		return strings.Compare(a.InstanceID, b.InstanceID)
	})
	return out, nil
}

// DedupeRegions trims and de-duplicates region names, keeping order.
func DedupeRegions(input []string) []string {
	out := make([]string, 0, len(input))
	for _, r := range input {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}
