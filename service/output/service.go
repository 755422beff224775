// Package output renders classifications for Puppet and for people.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/storage"
	"gopkg.in/yaml.v3"
)

// NewService creates a new output service writing to stdout.
func NewService(format string) Service {
	return NewServiceWithWriter(format, os.Stdout)
}

// NewServiceWithWriter creates a new output service writing to w.
func NewServiceWithWriter(format string, w io.Writer) Service {
	f := FormatYAML
	switch format {
	case "json":
		f = FormatJSON
	case "table":
		f = FormatTable
	}

	return &service{
		format:   f,
		out:      w,
		renderer: &realRenderer{},
	}
}

// RenderClassification writes the ENC document. In yaml format this is
// exactly what the Puppet exec terminus parses.
func (s *service) RenderClassification(result model.LookupResult) error {
	if s.format == FormatTable {
		s.renderer.DrawClassificationTable(s.out, result)
		return nil
	}
	return s.encode(result.Classification)
}

type nodeDocument struct {
	Certname       string               `json:"certname" yaml:"certname"`
	InstanceID     string               `json:"instance_id" yaml:"instance_id"`
	Region         string               `json:"region" yaml:"region"`
	Classification model.Classification `json:"classification" yaml:"classification"`
}

func (s *service) RenderNodes(results []model.LookupResult) error {
	if s.format == FormatTable {
		s.renderer.DrawNodesTable(s.out, results)
		return nil
	}

	nodes := make([]nodeDocument, 0, len(results))
	for _, r := range results {
		n := nodeDocument{Certname: r.Certname, Classification: r.Classification}
		if r.Instance != nil {
			n.InstanceID = r.Instance.InstanceID
			n.Region = r.Instance.Region
		}
		nodes = append(nodes, n)
	}
	return s.encode(nodes)
}

func (s *service) RenderCache(entries []storage.CachedClassification) error {
	if s.format == FormatTable {
		s.renderer.DrawCacheTable(s.out, entries)
		return nil
	}
	return s.encode(entries)
}

func (s *service) RenderHistory(records []storage.LookupRecord) error {
	if s.format == FormatTable {
		s.renderer.DrawHistoryTable(s.out, records)
		return nil
	}
	return s.encode(records)
}

// RenderValue writes v as json, or as yaml for every other format.
func (s *service) RenderValue(v any) error {
	if s.format == FormatTable {
		return s.encodeAs(FormatYAML, v)
	}
	return s.encode(v)
}

func (s *service) StopSpinner() {
	s.renderer.StopSpinner()
}

func (s *service) encode(v any) error {
	return s.encodeAs(s.format, v)
}

func (s *service) encodeAs(f Format, v any) error {
	if f == FormatJSON {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	}

	if _, err := io.WriteString(s.out, "---\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(s.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}
