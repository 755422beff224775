package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
)

// ErrCacheMiss is returned when no classification is cached for a certname.
var ErrCacheMiss = errors.New("classification not cached")

// Service defines the classification cache and lookup history.
type Service interface {
	SaveClassification(ctx context.Context, entry CachedClassification) error
	GetClassification(ctx context.Context, certname string) (*CachedClassification, error)
	DeleteClassification(ctx context.Context, certname string) error
	ListClassifications(ctx context.Context, limit int) ([]CachedClassification, error)
	RecordLookup(ctx context.Context, rec LookupRecord) error
	RecentLookups(ctx context.Context, certname string, limit int) ([]LookupRecord, error)
	LookupCounts(ctx context.Context, since time.Time) (map[string]int, error)
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	Vacuum(ctx context.Context) error
	Reindex(ctx context.Context) error
	Close() error
}

// CachedClassification is the last successful live classification of a node.
type CachedClassification struct {
	Certname       string               `json:"certname" yaml:"certname"`
	InstanceID     string               `json:"instance_id" yaml:"instance_id"`
	Region         string               `json:"region" yaml:"region"`
	AccountID      string               `json:"account_id" yaml:"account_id"`
	Classification model.Classification `json:"classification" yaml:"classification"`
	ClassifiedAt   time.Time            `json:"classified_at" yaml:"classified_at"`
}

// Age returns how long ago the entry was classified.
func (c CachedClassification) Age(now time.Time) time.Duration {
	return now.Sub(c.ClassifiedAt)
}

// LookupRecord is one ENC invocation.
type LookupRecord struct {
	LookupUUID string        `json:"lookup_uuid" yaml:"lookup_uuid"`
	Certname   string        `json:"certname" yaml:"certname"`
	InstanceID string        `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	Source     string        `json:"source" yaml:"source"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at" yaml:"created_at"`
}
