package model

import "time"

// Lookup sources recorded for each classification.
const (
	SourceLive    = "live"
	SourceCache   = "cache"
	SourceStale   = "stale"
	SourceDefault = "default"
	SourceFailed  = "failed"
)

// Classification is the document handed back to Puppet. Field names and
// shapes match what the exec node terminus expects.
type Classification struct {
	Environment string                    `json:"environment,omitempty" yaml:"environment,omitempty"`
	Classes     map[string]map[string]any `json:"classes" yaml:"classes"`
	Parameters  map[string]any            `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// NewClassification returns an empty classification with its maps allocated.
func NewClassification() Classification {
	return Classification{
		Classes:    map[string]map[string]any{},
		Parameters: map[string]any{},
	}
}

// AddClass adds a class, merging params into any already present.
func (c *Classification) AddClass(name string, params map[string]any) {
	existing, ok := c.Classes[name]
	if !ok || existing == nil {
		existing = map[string]any{}
	}
	for k, v := range params {
		existing[k] = v
	}
	c.Classes[name] = existing
}

// LookupResult is the outcome of classifying one certname.
type LookupResult struct {
	Certname       string
	Instance       *Instance
	Classification Classification
	Source         string
	Duration       time.Duration
}
