// Package orchestrator coordinates instance lookup, classification and the
// local cache for a single ENC run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/classifier"
	"github.com/cavaliercoder/puppet-enc-ec2/service/instance"
	"github.com/cavaliercoder/puppet-enc-ec2/service/metrics"
	"github.com/cavaliercoder/puppet-enc-ec2/service/settings"
	"github.com/cavaliercoder/puppet-enc-ec2/service/storage"
	"github.com/sirupsen/logrus"
)

// bookkeepingTimeout bounds cache, history and metrics writes. They run on a
// context detached from the lookup deadline so that a timed out lookup is
// still recorded.
const bookkeepingTimeout = 5 * time.Second

// NewService creates a new orchestrator service. storageService and
// metricsService may be nil when the cache or metrics are disabled.
func NewService(
	finder Finder,
	classifierService classifier.Service,
	storageService storage.Service,
	metricsService metrics.Service,
	cfg *settings.Settings,
	logger logrus.FieldLogger,
) Service {
	return &service{
		finder:     finder,
		classifier: classifierService,
		storage:    storageService,
		metrics:    metricsService,
		settings:   cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Classify produces the node definition for certname. A fresh cache entry is
// served without calling AWS. When AWS is unreachable a cache entry within
// the stale window is served instead of failing the catalog.
func (s *service) Classify(ctx context.Context, certname string) (model.LookupResult, error) {
	start := s.now()
	certname = strings.ToLower(strings.TrimSpace(certname))
	result := model.LookupResult{Certname: certname, Source: model.SourceFailed}
	if certname == "" {
		return result, errors.New("certname is required")
	}
	log := s.logger.WithField("certname", certname)

	err := s.classify(ctx, log, start, &result)
	result.Duration = s.now().Sub(start)
	if err != nil {
		result.Source = model.SourceFailed
		err = fmt.Errorf("failed to classify %s: %w", certname, err)
	}
	log.WithFields(logrus.Fields{"source": result.Source, "duration": result.Duration}).Info("classification finished")

	bctx, cancel := detached(ctx)
	defer cancel()
	s.record(bctx, log, result, err)
	if s.metrics != nil {
		run := metrics.Run{Certname: certname, Source: result.Source, Duration: result.Duration, Err: err, At: start}
		if mErr := s.metrics.Write(bctx, run); mErr != nil {
			log.WithError(mErr).Warn("failed to write metrics")
		}
	}
	return result, err
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

func (s *service) classify(ctx context.Context, log logrus.FieldLogger, start time.Time, result *model.LookupResult) error {
	cached := s.cached(ctx, log, result.Certname)
	if cached != nil && s.settings.Cache.TTL > 0 && cached.Age(start) < s.settings.Cache.TTL {
		log.WithField("age", cached.Age(start)).Debug("serving cached classification")
		s.fromCache(result, cached, model.SourceCache)
		return nil
	}

	inst, err := s.finder.Find(ctx, result.Certname, s.settings.MatchBy)
	if err == nil {
		result.Instance = inst
		result.Classification, err = s.classifier.Classify(*inst)
		if err != nil {
			// A bad tag or rule must surface, not be masked by the cache.
			log.WithError(err).WithField("instance_id", inst.InstanceID).Error("classifier rejected instance")
			return err
		}
		result.Source = model.SourceLive
		s.save(ctx, log, *result)
		return nil
	}

	switch {
	case errors.Is(err, instance.ErrNodeNotFound):
		if s.storage != nil && cached != nil {
			dctx, cancel := detached(ctx)
			dErr := s.storage.DeleteClassification(dctx, result.Certname)
			cancel()
			if dErr != nil {
				log.WithError(dErr).Warn("failed to drop cached classification")
			}
		}
		if s.settings.UnknownNode != settings.UnknownNodeDefault {
			return err
		}
		log.Warn("no instance matched, using default classification")
		result.Classification, err = s.classifier.Defaults()
		if err != nil {
			return err
		}
		result.Source = model.SourceDefault
		return nil
	case errors.Is(err, instance.ErrAmbiguousNode):
		return err
	case cached != nil && s.settings.Cache.StaleTTL > 0 && cached.Age(start) < s.settings.Cache.StaleTTL:
		log.WithError(err).WithFields(logrus.Fields{
			"error_code": apiErrorCode(err),
			"age":        cached.Age(start),
		}).Warn("live lookup failed, serving stale classification")
		s.fromCache(result, cached, model.SourceStale)
		return nil
	default:
		return err
	}
}

func (s *service) cached(ctx context.Context, log logrus.FieldLogger, certname string) *storage.CachedClassification {
	if s.storage == nil {
		return nil
	}
	entry, err := s.storage.GetClassification(ctx, certname)
	if err != nil {
		if !errors.Is(err, storage.ErrCacheMiss) {
			log.WithError(err).Warn("failed to read cache")
		}
		return nil
	}
	return entry
}

func (s *service) fromCache(result *model.LookupResult, entry *storage.CachedClassification, source string) {
	result.Classification = entry.Classification
	result.Source = source
	if entry.InstanceID != "" {
		result.Instance = &model.Instance{
			InstanceID: entry.InstanceID,
			Region:     entry.Region,
			AccountID:  entry.AccountID,
		}
	}
}

func (s *service) save(ctx context.Context, log logrus.FieldLogger, result model.LookupResult) {
	if s.storage == nil || result.Instance == nil {
		return
	}
	entry := storage.CachedClassification{
		Certname:       result.Certname,
		InstanceID:     result.Instance.InstanceID,
		Region:         result.Instance.Region,
		AccountID:      result.Instance.AccountID,
		Classification: result.Classification,
		ClassifiedAt:   s.now(),
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.storage.SaveClassification(ctx, entry); err != nil {
		log.WithError(err).Warn("failed to cache classification")
	}
}

func (s *service) record(ctx context.Context, log logrus.FieldLogger, result model.LookupResult, err error) {
	if s.storage == nil {
		return
	}
	rec := storage.LookupRecord{
		Certname: result.Certname,
		Source:   result.Source,
		Duration: result.Duration,
	}
	if result.Instance != nil {
		rec.InstanceID = result.Instance.InstanceID
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if rErr := s.storage.RecordLookup(ctx, rec); rErr != nil {
		log.WithError(rErr).Warn("failed to record lookup")
	}
}

// ClassifyAll classifies every live instance without touching the cache.
// Instances the classifier rejects are logged and skipped.
func (s *service) ClassifyAll(ctx context.Context) ([]model.LookupResult, error) {
	instances, err := s.finder.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	results := make([]model.LookupResult, 0, len(instances))
	for i := range instances {
		inst := instances[i]
		c, err := s.classifier.Classify(inst)
		if err != nil {
			s.logger.WithError(err).WithField("instance_id", inst.InstanceID).Warn("skipping instance")
			continue
		}
		results = append(results, model.LookupResult{
			Certname:       certnameFor(inst),
			Instance:       &inst,
			Classification: c,
			Source:         model.SourceLive,
		})
	}
	return results, nil
}

// certnameFor guesses the certname Puppet would use for inst.
func certnameFor(inst model.Instance) string {
	switch {
	case inst.Name() != "":
		return strings.ToLower(inst.Name())
	case inst.PrivateDNSName != "":
		return inst.PrivateDNSName
	default:
		return inst.InstanceID
	}
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
