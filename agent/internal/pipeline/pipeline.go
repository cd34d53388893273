// Package pipeline runs the agent's analysis cycle: resolve the project list,
// collect each project's bundle, analyse it, optionally ask the insight
// service for an assessment, and hand the resulting report to the shipper
// and the metrics exporter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/obsidianstack/projectlens/agent/internal/analysis"
	"github.com/obsidianstack/projectlens/agent/internal/compute"
	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
	"github.com/obsidianstack/projectlens/agent/internal/insight"
	"github.com/obsidianstack/projectlens/agent/internal/shipper"
	"github.com/obsidianstack/projectlens/pkg/types"
)

// Collector fetches project bundles.
type Collector interface {
	ListProjects(ctx context.Context, conditions string) ([]cwclient.Project, error)
	Collect(ctx context.Context, projectID int) (*analysis.Bundle, error)
}

// Shipper accepts finished reports.
type Shipper interface {
	Ship(r *types.Report)
}

// Exporter publishes the latest report per project.
type Exporter interface {
	Record(r *types.Report)
	Retain(ids []int)
	Flush() error
}

// Options wires a Pipeline. Collector is required; everything else may be
// left nil.
type Options struct {
	Collector Collector
	Insight   insight.Service
	Shipper   Shipper
	Metrics   Exporter
	Engine    *compute.Engine

	Projects         []int
	Conditions       string
	Interval         time.Duration
	MaxActiveTickets int
	BundleDir        string
}

// Summary describes one completed cycle.
type Summary struct {
	RunID    string
	Projects int
	Analyzed int
	Failed   int
}

// Pipeline is safe for concurrent use; SetProjects and SetInsight may be
// called while Run is active.
type Pipeline struct {
	collector Collector
	shipper   Shipper
	metrics   Exporter
	engine    *compute.Engine
	maxActive int
	bundleDir string
	now       func() time.Time

	mu         sync.Mutex
	projects   []int
	conditions string
	interval   time.Duration
	insight    insight.Service
}

// New returns a Pipeline for opts.
func New(opts Options) (*Pipeline, error) {
	if opts.Collector == nil {
		return nil, fmt.Errorf("pipeline: collector is required")
	}
	p := &Pipeline{
		collector:  opts.Collector,
		shipper:    opts.Shipper,
		metrics:    opts.Metrics,
		engine:     opts.Engine,
		maxActive:  opts.MaxActiveTickets,
		bundleDir:  opts.BundleDir,
		now:        time.Now,
		projects:   append([]int(nil), opts.Projects...),
		conditions: opts.Conditions,
		interval:   opts.Interval,
		insight:    opts.Insight,
	}
	if p.engine == nil {
		p.engine = compute.NewEngine()
	}
	if p.insight == nil {
		p.insight = insight.Disabled{}
	}
	if p.maxActive <= 0 {
		p.maxActive = analysis.DefaultMaxActiveTickets
	}
	if p.conditions == "" {
		p.conditions = cwclient.ActiveProjects
	}
	if p.interval <= 0 {
		p.interval = time.Hour
	}
	return p, nil
}

// SetProjects replaces the project selection used from the next cycle on.
func (p *Pipeline) SetProjects(ids []int, conditions string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.projects = append([]int(nil), ids...)
	if conditions != "" {
		p.conditions = conditions
	}
}

// SetInsight swaps the insight service. nil disables it.
func (p *Pipeline) SetInsight(svc insight.Service) {
	if svc == nil {
		svc = insight.Disabled{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insight = svc
}

// SetInterval changes the wait between cycles, effective after the current wait.
func (p *Pipeline) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

func (p *Pipeline) settings() (ids []int, conditions string, svc insight.Service, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.projects...), p.conditions, p.insight, p.interval
}

// Run executes a cycle immediately and then every interval until ctx is
// cancelled. Cycle errors are logged, never fatal.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("pipeline: cycle failed", "err", err)
		}
		_, _, _, interval := p.settings()
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// RunOnce analyses every selected project once. A project that fails is
// reported as failed and the cycle continues; only failing to resolve the
// project list or cancellation end the cycle early.
func (p *Pipeline) RunOnce(ctx context.Context) (Summary, error) {
	ids, conditions, svc, _ := p.settings()
	sum := Summary{RunID: types.NewRunID()}

	if len(ids) == 0 {
		projects, err := p.collector.ListProjects(ctx, conditions)
		if err != nil {
			return sum, fmt.Errorf("pipeline: list projects: %w", err)
		}
		for _, pr := range projects {
			ids = append(ids, pr.ID)
		}
	}
	sum.Projects = len(ids)
	p.engine.Retain(ids)
	if p.metrics != nil {
		p.metrics.Retain(ids)
	}

	slog.Info("pipeline: cycle started", "run_id", sum.RunID, "projects", len(ids))
	start := p.now()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		report, err := p.project(ctx, sum.RunID, id, svc)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Failed++
			slog.Error("pipeline: project failed", "project_id", id, "err", err)
		} else {
			sum.Analyzed++
		}
		p.publish(report)
	}

	if p.metrics != nil {
		if err := p.metrics.Flush(); err != nil {
			slog.Error("pipeline: metrics flush failed", "err", err)
		}
	}
	slog.Info("pipeline: cycle complete",
		"run_id", sum.RunID,
		"analyzed", sum.Analyzed,
		"failed", sum.Failed,
		"duration", p.now().Sub(start))
	return sum, nil
}

// project runs one project through the cycle. It always returns a report;
// on failure the report carries the error.
func (p *Pipeline) project(ctx context.Context, runID string, id int, svc insight.Service) (*types.Report, error) {
	b, err := p.collector.Collect(ctx, id)
	if err != nil {
		return p.failed(runID, id, err), err
	}
	if p.bundleDir != "" {
		if err := p.saveBundle(b); err != nil {
			slog.Warn("pipeline: bundle not saved", "project_id", id, "err", err)
		}
	}
	report, err := p.Analyze(ctx, runID, b, svc)
	if err != nil {
		return p.failed(runID, id, err), err
	}
	return report, nil
}

// Analyze turns a bundle into a report: aggregate, trend, timeline, prompt
// and insight. Insight failures are logged and leave Report.Insight nil.
func (p *Pipeline) Analyze(ctx context.Context, runID string, b *analysis.Bundle, svc insight.Service) (*types.Report, error) {
	now := p.now()
	res, err := analysis.Analyze(b)
	if err != nil {
		return nil, err
	}
	trend := p.engine.Process(&compute.Observation{ProjectID: b.Project.ID, Result: res}, now)

	cycle := shipper.Cycle{RunID: runID, Result: res, Trend: trend, At: now}

	tl, err := analysis.AnalyzeProjectTimeline(b, now)
	if err != nil {
		slog.Warn("pipeline: timeline unavailable", "project_id", b.Project.ID, "err", err)
		return shipper.BuildReport(cycle), nil
	}
	cycle.Timeline = tl

	if svc == nil {
		svc = insight.Disabled{}
	}
	prompt, err := analysis.BuildPrompt(tl, p.maxActive)
	if err != nil {
		return nil, err
	}
	doc, err := svc.Analyze(ctx, b.Project.ID, prompt)
	switch {
	case err == nil:
		cycle.Insight = doc
	case errors.Is(err, insight.ErrDisabled):
	default:
		slog.Warn("pipeline: insight failed", "project_id", b.Project.ID, "err", err)
	}
	return shipper.BuildReport(cycle), nil
}

func (p *Pipeline) failed(runID string, id int, err error) *types.Report {
	now := p.now()
	trend := p.engine.Process(&compute.Observation{ProjectID: id, Err: err}, now)
	return shipper.FailedReport(runID, id, trend, err, now)
}

func (p *Pipeline) publish(r *types.Report) {
	if p.shipper != nil {
		p.shipper.Ship(r)
	}
	if p.metrics != nil {
		p.metrics.Record(r)
	}
}

// saveBundle writes b to bundle_<id>_<YYYYMMDD>.json in the bundle dir.
func (p *Pipeline) saveBundle(b *analysis.Bundle) error {
	if err := os.MkdirAll(p.bundleDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("bundle_%d_%s.json", b.Project.ID, p.now().Format("20060102"))
	tmp, err := os.CreateTemp(p.bundleDir, ".bundle-*.tmp")
	if err != nil {
		return err
	}
	if err := analysis.WriteBundle(tmp, b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(p.bundleDir, name))
}
