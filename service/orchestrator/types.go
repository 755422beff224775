package orchestrator

import (
	"context"
	"time"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/classifier"
	"github.com/cavaliercoder/puppet-enc-ec2/service/metrics"
	"github.com/cavaliercoder/puppet-enc-ec2/service/settings"
	"github.com/cavaliercoder/puppet-enc-ec2/service/storage"
	"github.com/sirupsen/logrus"
)

// Finder locates instances across the configured regions.
type Finder interface {
	Find(ctx context.Context, certname string, strategies []string) (*model.Instance, error)
	List(ctx context.Context) ([]model.Instance, error)
}

type service struct {
	finder     Finder
	classifier classifier.Service
	storage    storage.Service
	metrics    metrics.Service
	settings   *settings.Settings
	logger     logrus.FieldLogger
	now        func() time.Time
}

// Service classifies nodes for Puppet.
type Service interface {
	Classify(ctx context.Context, certname string) (model.LookupResult, error)
	ClassifyAll(ctx context.Context) ([]model.LookupResult, error)
}
