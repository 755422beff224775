package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/classifier"
	"github.com/cavaliercoder/puppet-enc-ec2/service/instance"
	"github.com/cavaliercoder/puppet-enc-ec2/service/metrics"
	"github.com/cavaliercoder/puppet-enc-ec2/service/settings"
	"github.com/cavaliercoder/puppet-enc-ec2/service/storage"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type mockFinder struct {
	instance  *model.Instance
	instances []model.Instance
	err       error
	calls     int
}

func (m *mockFinder) Find(_ context.Context, _ string, _ []string) (*model.Instance, error) {
	m.calls++
	return m.instance, m.err
}

func (m *mockFinder) List(_ context.Context) ([]model.Instance, error) {
	return m.instances, m.err
}

type mockStorage struct {
	storage.Service
	entries map[string]storage.CachedClassification
	lookups []storage.LookupRecord
	deleted []string
	saveErr error
}

func newMockStorage() *mockStorage {
	return &mockStorage{entries: map[string]storage.CachedClassification{}}
}

func (m *mockStorage) SaveClassification(ctx context.Context, entry storage.CachedClassification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries[entry.Certname] = entry
	return nil
}

func (m *mockStorage) GetClassification(_ context.Context, certname string) (*storage.CachedClassification, error) {
	entry, ok := m.entries[certname]
	if !ok {
		return nil, storage.ErrCacheMiss
	}
	return &entry, nil
}

func (m *mockStorage) DeleteClassification(ctx context.Context, certname string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(m.entries, certname)
	m.deleted = append(m.deleted, certname)
	return nil
}

func (m *mockStorage) RecordLookup(ctx context.Context, rec storage.LookupRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lookups = append(m.lookups, rec)
	return nil
}

type mockMetrics struct {
	runs []metrics.Run
}

func (m *mockMetrics) Write(ctx context.Context, run metrics.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.runs = append(m.runs, run)
	return nil
}

// slowFinder stands in for an AWS endpoint that never answers.
type slowFinder struct{}

func (slowFinder) Find(ctx context.Context, _ string, _ []string) (*model.Instance, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowFinder) List(ctx context.Context) ([]model.Instance, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func webInstance() *model.Instance {
	return &model.Instance{
		InstanceID:   "i-0123456789abcdef0",
		AccountID:    "123456789012",
		Region:       "us-east-1",
		InstanceType: "t3.small",
		State:        "running",
		Tags:         map[string]string{"Name": "Web01", "puppet:role": "web"},
	}
}

func cachedEntry(age time.Duration) storage.CachedClassification {
	c := model.NewClassification()
	c.Environment = "staging"
	c.AddClass("role::cached", nil)
	return storage.CachedClassification{
		Certname:       "web01.example.com",
		InstanceID:     "i-0123456789abcdef0",
		Region:         "us-east-1",
		Classification: c,
		ClassifiedAt:   testNow.Add(-age),
	}
}

type fixture struct {
	svc     *service
	finder  *mockFinder
	storage *mockStorage
	metrics *mockMetrics
	hook    *logtest.Hook
	cfg     *settings.Settings
}

func newFixture(t *testing.T, finder *mockFinder) *fixture {
	t.Helper()
	cfg := settings.Default()
	cfg.Cache.TTL = 5 * time.Minute
	cfg.Cache.StaleTTL = time.Hour
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	store := newMockStorage()
	m := &mockMetrics{}
	svc := NewService(finder, classifier.NewService(cfg), store, m, cfg, logger).(*service)
	svc.now = func() time.Time { return testNow }
	return &fixture{svc: svc, finder: finder, storage: store, metrics: m, hook: hook, cfg: cfg}
}

func TestClassifyLive(t *testing.T) {
	f := newFixture(t, &mockFinder{instance: webInstance()})

	result, err := f.svc.Classify(context.Background(), " Web01.Example.com ")
	require.NoError(t, err)

	assert.Equal(t, "web01.example.com", result.Certname)
	assert.Equal(t, model.SourceLive, result.Source)
	assert.Equal(t, "production", result.Classification.Environment)
	assert.Contains(t, result.Classification.Classes, "role::web")

	cached, ok := f.storage.entries["web01.example.com"]
	require.True(t, ok)
	assert.Equal(t, "i-0123456789abcdef0", cached.InstanceID)
	assert.Equal(t, testNow, cached.ClassifiedAt)

	require.Len(t, f.storage.lookups, 1)
	assert.Equal(t, model.SourceLive, f.storage.lookups[0].Source)
	assert.Empty(t, f.storage.lookups[0].Error)

	require.Len(t, f.metrics.runs, 1)
	assert.NoError(t, f.metrics.runs[0].Err)
	assert.Equal(t, model.SourceLive, f.metrics.runs[0].Source)
}

func TestClassifyFreshCacheSkipsAWS(t *testing.T) {
	f := newFixture(t, &mockFinder{instance: webInstance()})
	f.storage.entries["web01.example.com"] = cachedEntry(time.Minute)

	result, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.NoError(t, err)

	assert.Equal(t, model.SourceCache, result.Source)
	assert.Equal(t, "staging", result.Classification.Environment)
	assert.Equal(t, 0, f.finder.calls)
	require.NotNil(t, result.Instance)
	assert.Equal(t, "i-0123456789abcdef0", result.Instance.InstanceID)
}

func TestClassifyExpiredCacheGoesLive(t *testing.T) {
	f := newFixture(t, &mockFinder{instance: webInstance()})
	f.storage.entries["web01.example.com"] = cachedEntry(10 * time.Minute)

	result, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.NoError(t, err)

	assert.Equal(t, model.SourceLive, result.Source)
	assert.Equal(t, 1, f.finder.calls)
	assert.Equal(t, testNow, f.storage.entries["web01.example.com"].ClassifiedAt)
}

func TestClassifyZeroTTLAlwaysLive(t *testing.T) {
	f := newFixture(t, &mockFinder{instance: webInstance()})
	f.cfg.Cache.TTL = 0
	f.storage.entries["web01.example.com"] = cachedEntry(time.Second)

	result, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SourceLive, result.Source)
}

func TestClassifyStaleOnOutage(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "RequestLimitExceeded", Message: "slow down"}
	f := newFixture(t, &mockFinder{err: fmt.Errorf("describe instances: %w", apiErr)})
	f.storage.entries["web01.example.com"] = cachedEntry(30 * time.Minute)

	result, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.NoError(t, err)

	assert.Equal(t, model.SourceStale, result.Source)
	assert.Equal(t, "staging", result.Classification.Environment)

	var warned *logrus.Entry
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = e
		}
	}
	require.NotNil(t, warned)
	assert.Equal(t, "RequestLimitExceeded", warned.Data["error_code"])
	assert.Equal(t, model.SourceStale, f.storage.lookups[0].Source)
}

func TestClassifyStaleWindowExceeded(t *testing.T) {
	f := newFixture(t, &mockFinder{err: errors.New("connection refused")})
	f.storage.entries["web01.example.com"] = cachedEntry(2 * time.Hour)

	result, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.Error(t, err)

	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, model.SourceFailed, result.Source)
	require.Len(t, f.storage.lookups, 1)
	assert.Equal(t, model.SourceFailed, f.storage.lookups[0].Source)
	assert.Contains(t, f.storage.lookups[0].Error, "connection refused")
	assert.Error(t, f.metrics.runs[0].Err)
}

func TestClassifyNotFoundFails(t *testing.T) {
	f := newFixture(t, &mockFinder{err: fmt.Errorf("%w: web01", instance.ErrNodeNotFound)})
	f.storage.entries["web01.example.com"] = cachedEntry(30 * time.Minute)

	_, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.Error(t, err)

	assert.ErrorIs(t, err, instance.ErrNodeNotFound)
	assert.Equal(t, []string{"web01.example.com"}, f.storage.deleted)
	assert.NotContains(t, f.storage.entries, "web01.example.com")
}

func TestClassifyNotFoundDefault(t *testing.T) {
	f := newFixture(t, &mockFinder{err: instance.ErrNodeNotFound})
	f.cfg.UnknownNode = settings.UnknownNodeDefault
	f.cfg.Classes = []string{"base"}

	result, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.NoError(t, err)

	assert.Equal(t, model.SourceDefault, result.Source)
	assert.Contains(t, result.Classification.Classes, "base")
	assert.Nil(t, result.Instance)
	assert.Empty(t, f.storage.entries)
}

func TestClassifyAmbiguousNeverStale(t *testing.T) {
	f := newFixture(t, &mockFinder{err: instance.ErrAmbiguousNode})
	f.storage.entries["web01.example.com"] = cachedEntry(30 * time.Minute)

	result, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, instance.ErrAmbiguousNode)
	assert.Equal(t, model.SourceFailed, result.Source)
}

func TestClassifyCacheSaveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, &mockFinder{instance: webInstance()})
	f.storage.saveErr = errors.New("disk full")

	result, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SourceLive, result.Source)

	var messages []string
	for _, e := range f.hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "failed to cache classification")
}

func TestClassifyWithoutStorage(t *testing.T) {
	cfg := settings.Default()
	logger, _ := logtest.NewNullLogger()
	svc := NewService(&mockFinder{instance: webInstance()}, classifier.NewService(cfg), nil, nil, cfg, logger)

	result, err := svc.Classify(context.Background(), "web01.example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SourceLive, result.Source)
}

func TestClassifyEmptyCertname(t *testing.T) {
	f := newFixture(t, &mockFinder{})

	_, err := f.svc.Classify(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, 0, f.finder.calls)
}

func TestClassifyAll(t *testing.T) {
	bad := model.Instance{InstanceID: "i-bad", Tags: map[string]string{"puppet:environment": "Not-Valid"}}
	unnamed := model.Instance{InstanceID: "i-unnamed", PrivateDNSName: "ip-10-0-0-1.ec2.internal"}
	f := newFixture(t, &mockFinder{instances: []model.Instance{*webInstance(), bad, unnamed}})

	results, err := f.svc.ClassifyAll(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "web01", results[0].Certname)
	assert.Equal(t, "ip-10-0-0-1.ec2.internal", results[1].Certname)
	assert.Empty(t, f.storage.lookups)
	assert.Equal(t, "skipping instance", f.hook.LastEntry().Message)
}

func TestClassifyAllListError(t *testing.T) {
	f := newFixture(t, &mockFinder{err: errors.New("access denied")})

	_, err := f.svc.ClassifyAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list instances")
}

func TestClassifyRecordsAfterDeadline(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.finder = slowFinder{}
	f.storage.entries["web01.example.com"] = cachedEntry(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := f.svc.Classify(ctx, "web01.example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SourceStale, result.Source)

	require.Len(t, f.storage.lookups, 1)
	assert.Equal(t, model.SourceStale, f.storage.lookups[0].Source)
	require.Len(t, f.metrics.runs, 1)
	assert.Equal(t, model.SourceStale, f.metrics.runs[0].Source)
}

func TestClassifyDeadlineWithSQLiteAndTextfile(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewService(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	entry := cachedEntry(30 * time.Minute)
	require.NoError(t, store.SaveClassification(context.Background(), entry))

	cfg := settings.Default()
	cfg.Cache.StaleTTL = time.Hour
	textfile := filepath.Join(dir, "enc.prom")
	logger, _ := logtest.NewNullLogger()
	svc := NewService(slowFinder{}, classifier.NewService(cfg), store, metrics.NewService(textfile, store), cfg, logger).(*service)
	svc.now = func() time.Time { return testNow }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := svc.Classify(ctx, "web01.example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SourceStale, result.Source)

	history, err := store.RecentLookups(context.Background(), "web01.example.com", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.SourceStale, history[0].Source)

	b, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `puppet_enc_ec2_last_run_source{source="stale"} 1`)
}

func TestClassifyClassifierRejectionNeverStale(t *testing.T) {
	inst := webInstance()
	inst.Tags["puppet:environment"] = "Bad-Env"
	f := newFixture(t, &mockFinder{instance: inst})
	f.storage.entries["web01.example.com"] = cachedEntry(30 * time.Minute)

	result, err := f.svc.Classify(context.Background(), "web01.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid environment name")
	assert.Equal(t, model.SourceFailed, result.Source)
	assert.Contains(t, f.storage.entries, "web01.example.com", "cache is left alone")

	var messages []string
	for _, e := range f.hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "classifier rejected instance")
	assert.NotContains(t, messages, "live lookup failed, serving stale classification")
	require.Len(t, f.storage.lookups, 1)
	assert.Equal(t, "i-0123456789abcdef0", f.storage.lookups[0].InstanceID)
}
