package metrics

import (
	"context"
	"time"
)

const namespace = "puppet_enc_ec2"

// Window is the period covered by the per-source lookup gauge.
const Window = 24 * time.Hour

// Run describes one finished ENC invocation.
type Run struct {
	Certname string
	Source   string
	Duration time.Duration
	Err      error
	At       time.Time
}

// LookupCounter reports lookups per source since a point in time.
type LookupCounter interface {
	LookupCounts(ctx context.Context, since time.Time) (map[string]int, error)
}

// Service writes run metrics for the node_exporter textfile collector.
type Service interface {
	Write(ctx context.Context, run Run) error
}

type service struct {
	path    string
	counter LookupCounter
}
