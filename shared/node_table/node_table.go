// Package nodetable renders classifications and cache contents as tables.
package nodetable

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/cavaliercoder/puppet-enc-ec2/service/storage"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const timeFormat = "2006-01-02 15:04:05"

// DrawClassificationTable prints one node's classes and parameters.
func DrawClassificationTable(w io.Writer, result model.LookupResult) {
	fmt.Fprintf(w, "\n%s", text.Bold.Sprint(result.Certname))
	if result.Instance != nil {
		fmt.Fprintf(w, "  %s (%s, %s)", result.Instance.InstanceID, result.Instance.InstanceType, result.Instance.AvailabilityZone)
	}
	fmt.Fprintf(w, "\n   environment: %s  source: %s\n", text.FgCyan.Sprint(result.Classification.Environment), sourceColor(result.Source))

	t := newTable(w)
	t.AppendHeader(table.Row{"Class", "Parameters"})
	for _, class := range sortedKeys(result.Classification.Classes) {
		t.AppendRow(table.Row{class, formatParams(result.Classification.Classes[class])})
	}
	t.Render()

	p := newTable(w)
	p.AppendHeader(table.Row{"Parameter", "Value"})
	for _, k := range sortedKeys(result.Classification.Parameters) {
		p.AppendRow(table.Row{k, fmt.Sprint(result.Classification.Parameters[k])})
	}
	p.Render()
}

// DrawNodesTable prints a summary row per node.
func DrawNodesTable(w io.Writer, results []model.LookupResult) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Certname", "Instance", "Region", "Type", "State", "Environment", "Classes"})
	for _, r := range results {
		row := table.Row{r.Certname, "-", "-", "-", "-", r.Classification.Environment, strings.Join(sortedKeys(r.Classification.Classes), ", ")}
		if r.Instance != nil {
			row[1] = r.Instance.InstanceID
			row[2] = r.Instance.Region
			row[3] = r.Instance.InstanceType
			row[4] = r.Instance.State
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(results)})
	t.Render()
}

// DrawCacheTable prints cached classifications.
func DrawCacheTable(w io.Writer, entries []storage.CachedClassification) {
	now := time.Now()
	t := newTable(w)
	t.AppendHeader(table.Row{"Certname", "Instance", "Region", "Environment", "Classes", "Age"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Certname,
			e.InstanceID,
			e.Region,
			e.Classification.Environment,
			len(e.Classification.Classes),
			e.Age(now).Truncate(time.Second).String(),
		})
	}
	t.Render()
}

// DrawHistoryTable prints lookup history, newest first.
func DrawHistoryTable(w io.Writer, records []storage.LookupRecord) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Time", "Certname", "Instance", "Source", "Duration", "Error"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.CreatedAt.Local().Format(timeFormat),
			r.Certname,
			r.InstanceID,
			sourceColor(r.Source),
			r.Duration.String(),
			r.Error,
		})
	}
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func sourceColor(source string) string {
	switch source {
	case model.SourceLive:
		return text.FgGreen.Sprint(source)
	case model.SourceCache:
		return text.FgCyan.Sprint(source)
	case model.SourceStale, model.SourceDefault:
		return text.FgYellow.Sprint(source)
	case model.SourceFailed:
		return text.FgRed.Sprint(source)
	}
	return source
}

func formatParams(params map[string]any) string {
	if len(params) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
