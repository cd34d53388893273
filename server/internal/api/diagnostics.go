package api

import (
	"fmt"
	"slices"
	"strings"

	"github.com/obsidianstack/projectlens/pkg/types"
)

// Hint levels, most severe first.
const (
	LevelCritical = "critical"
	LevelWarning  = "warning"
	LevelInfo     = "info"
	LevelOK       = "ok"
)

// DiagnosticHint is one human-readable observation about a project. The
// dashboard shows Title on the project card and Detail on hover.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from a report, ordered critical first,
// then warnings, then info.
func computeDiagnostics(r *types.Report) []DiagnosticHint {
	if r.Error != "" {
		return []DiagnosticHint{{
			Key:   "analysis_failed",
			Level: LevelCritical,
			Title: "Analysis failed",
			Detail: fmt.Sprintf(
				"The agent could not analyse this project on its last cycle: %q. "+
					"Check the agent logs and the project-management API credentials. "+
					"The figures shown are from the last successful report, if any.",
				r.Error,
			),
		}}
	}

	var hints []DiagnosticHint

	switch r.RiskLevel {
	case types.RiskHigh:
		hints = append(hints, DiagnosticHint{
			Key:    "risk_high",
			Level:  LevelCritical,
			Title:  "High risk",
			Detail: riskDetail("high", r.RiskFactors),
		})
	case types.RiskMedium:
		hints = append(hints, DiagnosticHint{
			Key:    "risk_medium",
			Level:  LevelWarning,
			Title:  "Medium risk",
			Detail: riskDetail("medium", r.RiskFactors),
		})
	}

	if r.HoursEstimated != nil && *r.HoursEstimated > 0 && r.HoursActual > *r.HoursEstimated {
		v := (r.HoursActual / *r.HoursEstimated - 1) * 100
		level := LevelWarning
		if v >= 20 {
			level = LevelCritical
		}
		hints = append(hints, DiagnosticHint{
			Key:   "hours_overrun",
			Level: level,
			Title: fmt.Sprintf("%.0f%% over budget", v),
			Detail: fmt.Sprintf(
				"%.1f hours have been logged against an estimate of %.1f. "+
					"Review the remaining scope with the project manager.",
				r.HoursActual, *r.HoursEstimated,
			),
			Value: &v,
		})
	}

	if r.StalledTickets > 0 {
		v := float64(r.StalledTickets)
		hints = append(hints, DiagnosticHint{
			Key:   "stalled_tickets",
			Level: LevelWarning,
			Title: fmt.Sprintf("%d stalled", r.StalledTickets),
			Detail: fmt.Sprintf(
				"%d of %d tickets are still New with no hours logged.",
				r.StalledTickets, r.TotalTickets,
			),
			Value: &v,
		})
	}

	if r.Health.CompletionDelta < 0 {
		v := r.Health.CompletionDelta
		hints = append(hints, DiagnosticHint{
			Key:    "completion_regressed",
			Level:  LevelWarning,
			Title:  "Completion dropped",
			Detail: fmt.Sprintf("The completion rate fell %.1f points since the previous cycle, usually because tickets were added or reopened.", -v),
			Value:  &v,
		})
	}

	if r.Health.UptimePct > 0 && r.Health.UptimePct < 100 {
		v := r.Health.UptimePct
		level := LevelInfo
		switch {
		case v < 70:
			level = LevelCritical
		case v < 90:
			level = LevelWarning
		}
		hints = append(hints, DiagnosticHint{
			Key:   "collection_uptime",
			Level: level,
			Title: fmt.Sprintf("%.0f%% collected", v),
			Detail: fmt.Sprintf(
				"The agent collected this project on %.0f%% of its recent cycles. "+
					"Gaps usually mean rate limiting or API errors.",
				v,
			),
			Value: &v,
		})
	}

	if r.UnassignedTickets > 0 {
		v := float64(r.UnassignedTickets)
		hints = append(hints, DiagnosticHint{
			Key:    "unassigned_tickets",
			Level:  LevelInfo,
			Title:  fmt.Sprintf("%d unassigned", r.UnassignedTickets),
			Detail: fmt.Sprintf("%d tickets have no owner.", r.UnassignedTickets),
			Value:  &v,
		})
	}

	if r.Insight != nil && r.Insight.RiskLevel != "" && !strings.EqualFold(r.Insight.RiskLevel, r.RiskLevel) {
		hints = append(hints, DiagnosticHint{
			Key:   "insight_disagrees",
			Level: LevelInfo,
			Title: "Insight disagrees",
			Detail: fmt.Sprintf(
				"The rule-based risk is %s but the insight service rated it %s: %s",
				r.RiskLevel, strings.ToUpper(r.Insight.RiskLevel), r.Insight.Summary,
			),
		})
	}

	if r.Health.State == types.StateUnknown || r.Health.State == "" {
		hints = append(hints, DiagnosticHint{
			Key:    "warming_up",
			Level:  LevelInfo,
			Title:  "Warming up",
			Detail: "The trend score needs at least two cycles of history. It will appear after the next analysis.",
		})
	}

	if len(hints) == 0 {
		score := r.Health.Score
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  LevelOK,
			Title:  "On track",
			Detail: fmt.Sprintf("No risk factors, overruns or stalled tickets. Trend score %.0f/100.", score),
			Value:  &score,
		})
	}

	slices.SortStableFunc(hints, func(a, b DiagnosticHint) int {
		return levelRank(a.Level) - levelRank(b.Level)
	})
	return hints
}

func riskDetail(level string, factors []string) string {
	if len(factors) == 0 {
		return fmt.Sprintf("The rule-based analysis rated this project %s risk.", level)
	}
	return fmt.Sprintf("The rule-based analysis rated this project %s risk: %s.", level, strings.Join(factors, "; "))
}

func levelRank(level string) int {
	switch level {
	case LevelCritical:
		return 0
	case LevelWarning:
		return 1
	case LevelInfo:
		return 2
	default:
		return 3
	}
}
