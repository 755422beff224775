package output

import (
	"io"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/storage"
	nodetable "github.com/cavaliercoder/puppet-enc-ec2/shared/node_table"
	"github.com/cavaliercoder/puppet-enc-ec2/shared/spinner"
)

// Format represents the output format type
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// Renderer defines the interface for drawing tables
type Renderer interface {
	DrawClassificationTable(w io.Writer, result model.LookupResult)
	DrawNodesTable(w io.Writer, results []model.LookupResult)
	DrawCacheTable(w io.Writer, entries []storage.CachedClassification)
	DrawHistoryTable(w io.Writer, records []storage.LookupRecord)
	StopSpinner()
}

type realRenderer struct{}

func (r *realRenderer) DrawClassificationTable(w io.Writer, result model.LookupResult) {
	nodetable.DrawClassificationTable(w, result)
}

func (r *realRenderer) DrawNodesTable(w io.Writer, results []model.LookupResult) {
	nodetable.DrawNodesTable(w, results)
}

func (r *realRenderer) DrawCacheTable(w io.Writer, entries []storage.CachedClassification) {
	nodetable.DrawCacheTable(w, entries)
}

func (r *realRenderer) DrawHistoryTable(w io.Writer, records []storage.LookupRecord) {
	nodetable.DrawHistoryTable(w, records)
}

func (r *realRenderer) StopSpinner() {
	spinner.StopSpinner()
}

// service is the internal implementation
type service struct {
	format   Format
	out      io.Writer
	renderer Renderer
}

// Service defines the interface for output operations
type Service interface {
	RenderClassification(result model.LookupResult) error
	RenderNodes(results []model.LookupResult) error
	RenderCache(entries []storage.CachedClassification) error
	RenderHistory(records []storage.LookupRecord) error
	RenderValue(v any) error
	StopSpinner()
}
