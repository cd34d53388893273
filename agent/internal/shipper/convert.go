package shipper

import (
	"time"

	"github.com/obsidianstack/projectlens/agent/internal/analysis"
	"github.com/obsidianstack/projectlens/agent/internal/compute"
	"github.com/obsidianstack/projectlens/agent/internal/insight"
	"github.com/obsidianstack/projectlens/pkg/types"
)

// Cycle is everything one analysis cycle produced for a project.
type Cycle struct {
	RunID    string
	Result   *analysis.Result
	Timeline *analysis.Timeline
	Trend    *compute.Trend
	Insight  *insight.Document // nil when disabled or failed
	At       time.Time
}

// BuildReport flattens a successful cycle into the wire report.
func BuildReport(c Cycle) *types.Report {
	pm := c.Result.ProjectMetrics
	ta := c.Result.TicketAnalysis

	r := &types.Report{
		RunID:             c.RunID,
		ProjectID:         pm.ID,
		ProjectName:       pm.Name,
		Company:           pm.Company,
		Status:            pm.Status,
		Manager:           pm.Manager,
		GeneratedAt:       c.At.UTC(),
		RiskLevel:         c.Result.RiskIndicators.RiskLevel.String(),
		RiskFactors:       append([]string{}, c.Result.RiskIndicators.RiskFactors...),
		CompletionRate:    ta.CompletionMetrics.CompletionRate,
		TotalTickets:      ta.TotalTickets,
		CompletedTickets:  ta.CompletionMetrics.Completed,
		StalledTickets:    len(ta.StalledTickets),
		UnassignedTickets: len(ta.UnassignedTickets),
		HoursActual:       pm.Hours.Actual,
		TeamSize:          c.Result.ResourceMetrics.TeamSize,
	}
	if pm.Hours.HasEstimates {
		est := pm.Hours.Estimated
		r.HoursEstimated = &est
	}
	if c.Timeline != nil {
		r.ActiveTickets = c.Timeline.ActiveTickets
		r.Progress = analysis.Progress(c.Timeline.ActualHours, c.Timeline.EstimatedHours)
	}
	if c.Trend != nil {
		r.Health = toHealth(c.Trend)
	}
	if d := c.Insight; d != nil {
		r.Insight = &types.Insight{
			HealthScore:        d.HealthScore,
			RiskLevel:          d.RiskLevel,
			Summary:            d.Summary,
			Risks:              d.Risks,
			Recommendations:    d.Recommendations,
			TimelinePrediction: d.TimelinePrediction,
			Model:              d.Model,
		}
	}
	return r
}

// FailedReport records a project whose cycle could not complete.
func FailedReport(runID string, projectID int, trend *compute.Trend, err error, at time.Time) *types.Report {
	r := &types.Report{
		RunID:       runID,
		ProjectID:   projectID,
		GeneratedAt: at.UTC(),
		Error:       err.Error(),
		Health:      types.Health{State: types.StateUnknown},
	}
	if trend != nil {
		r.Health = toHealth(trend)
	}
	return r
}

func toHealth(t *compute.Trend) types.Health {
	return types.Health{
		Score:           t.Score,
		State:           t.State,
		UptimePct:       t.UptimePct,
		HoursPerDay:     t.HoursPerDay,
		CompletionDelta: t.CompletionDelta,
	}
}
