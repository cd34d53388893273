// Package metrics writes per-project gauges in the Prometheus text format to
// a file picked up by node_exporter's textfile collector.
package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/obsidianstack/projectlens/pkg/types"
)

const namespace = "projectlens_"

type gauge struct {
	name  string
	help  string
	value func(r *types.Report) (float64, bool)
}

func always(f func(r *types.Report) float64) func(r *types.Report) (float64, bool) {
	return func(r *types.Report) (float64, bool) { return f(r), true }
}

// analysed reports whether r carries analysis results.
func analysed(f func(r *types.Report) float64) func(r *types.Report) (float64, bool) {
	return func(r *types.Report) (float64, bool) {
		if r.Error != "" {
			return 0, false
		}
		return f(r), true
	}
}

var gauges = []gauge{
	{"up", "1 if the last cycle analysed the project, 0 if it failed.", always(func(r *types.Report) float64 {
		if r.Error != "" {
			return 0
		}
		return 1
	})},
	{"completion_rate_percent", "Completed tickets as a percentage of all tickets.", analysed(func(r *types.Report) float64 { return r.CompletionRate })},
	{"risk_level", "Rule-based risk level: 0 low, 1 medium, 2 high.", analysed(func(r *types.Report) float64 { return riskValue(r.RiskLevel) })},
	{"tickets", "Tickets attached to the project.", analysed(func(r *types.Report) float64 { return float64(r.TotalTickets) })},
	{"active_tickets", "Tickets not yet completed or closed.", analysed(func(r *types.Report) float64 { return float64(r.ActiveTickets) })},
	{"stalled_tickets", "New tickets with no hours logged.", analysed(func(r *types.Report) float64 { return float64(r.StalledTickets) })},
	{"unassigned_tickets", "Tickets with no actual-hours figure.", analysed(func(r *types.Report) float64 { return float64(r.UnassignedTickets) })},
	{"hours_actual", "Actual hours logged against the project.", analysed(func(r *types.Report) float64 { return r.HoursActual })},
	{"hours_estimated", "Estimated hours for the project.", func(r *types.Report) (float64, bool) {
		if r.Error != "" || r.HoursEstimated == nil {
			return 0, false
		}
		return *r.HoursEstimated, true
	}},
	{"team_size", "Members referenced by the project.", analysed(func(r *types.Report) float64 { return float64(r.TeamSize) })},
	{"health_score", "Composite health score 0-100.", analysed(func(r *types.Report) float64 { return r.Health.Score })},
	{"last_analysis_timestamp_seconds", "Unix time of the last analysis cycle.", always(func(r *types.Report) float64 {
		return float64(r.GeneratedAt.Unix())
	})},
}

func riskValue(level string) float64 {
	switch level {
	case types.RiskHigh:
		return 2
	case types.RiskMedium:
		return 1
	default:
		return 0
	}
}

// Exporter keeps the latest report per project and renders them on Flush.
// It is safe for concurrent use.
type Exporter struct {
	path string

	mu      sync.Mutex
	reports map[int]types.Report
}

// New returns an Exporter writing to path.
func New(path string) *Exporter {
	return &Exporter{path: path, reports: make(map[int]types.Report)}
}

// Record stores r as the latest report for its project.
func (e *Exporter) Record(r *types.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports[r.ProjectID] = *r
}

// Retain forgets every project not in ids so removed projects stop being
// exported.
func (e *Exporter) Retain(ids []int) {
	keep := make(map[int]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.reports {
		if !keep[id] {
			delete(e.reports, id)
		}
	}
}

// Families builds one gauge family per metric, each with one sample per
// project, ordered by project id.
func (e *Exporter) Families() []*dto.MetricFamily {
	e.mu.Lock()
	reports := make([]types.Report, 0, len(e.reports))
	for _, r := range e.reports {
		reports = append(reports, r)
	}
	e.mu.Unlock()
	sort.Slice(reports, func(i, j int) bool { return reports[i].ProjectID < reports[j].ProjectID })

	out := make([]*dto.MetricFamily, 0, len(gauges))
	for _, g := range gauges {
		mf := &dto.MetricFamily{
			Name: proto.String(namespace + g.name),
			Help: proto.String(g.help),
			Type: dto.MetricType_GAUGE.Enum(),
		}
		for i := range reports {
			v, ok := g.value(&reports[i])
			if !ok {
				continue
			}
			mf.Metric = append(mf.Metric, &dto.Metric{
				Label: []*dto.LabelPair{
					{Name: proto.String("project_id"), Value: proto.String(strconv.Itoa(reports[i].ProjectID))},
					{Name: proto.String("project_name"), Value: proto.String(reports[i].ProjectName)},
				},
				Gauge: &dto.Gauge{Value: proto.Float64(v)},
			})
		}
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	return out
}

// Flush renders every family and atomically replaces the textfile.
func (e *Exporter) Flush() error {
	var buf bytes.Buffer
	for _, mf := range e.Families() {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}

	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("metrics: create dir: %w", err)
	}
	// node_exporter ignores files not ending in .prom, so the temp file is
	// never scraped half-written.
	tmp, err := os.CreateTemp(dir, ".projectlens-*.tmp")
	if err != nil {
		return fmt.Errorf("metrics: create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("metrics: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("metrics: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("metrics: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("metrics: rename: %w", err)
	}
	return nil
}
