package api

import (
	"time"

	"github.com/obsidianstack/projectlens/pkg/types"
)

// Portfolio state thresholds. Mirrors the trend score thresholds the agent
// uses in agent/internal/compute.
const (
	thresholdHealthy  = 85.0
	thresholdDegraded = 60.0
)

// BuildSnapshot assembles the payload served by GET /api/v1/snapshot and
// pushed to WebSocket clients.
func BuildSnapshot(reports []*types.Report, alertCount int, now time.Time) types.Snapshot {
	projects := make([]types.Report, 0, len(reports))
	for _, r := range reports {
		projects = append(projects, *r)
	}
	return types.Snapshot{
		Projects:    projects,
		Portfolio:   BuildPortfolio(reports, alertCount),
		GeneratedAt: now.UTC(),
	}
}

// BuildPortfolio rolls the live reports up into counts and an average trend
// score. Failed reports and reports without a trend state are counted but
// excluded from the average.
func BuildPortfolio(reports []*types.Report, alertCount int) types.Portfolio {
	p := types.Portfolio{ProjectCount: len(reports), AlertCount: alertCount, State: types.StateUnknown}

	var total float64
	var scored int
	for _, r := range reports {
		if r.Error != "" {
			p.FailedCount++
			p.UnknownCount++
			continue
		}
		switch r.RiskLevel {
		case types.RiskLow:
			p.LowRisk++
		case types.RiskMedium:
			p.MediumRisk++
		case types.RiskHigh:
			p.HighRisk++
		}
		switch r.Health.State {
		case types.StateHealthy:
			p.HealthyCount++
		case types.StateDegraded:
			p.DegradedCount++
		case types.StateCritical:
			p.CriticalCount++
		default:
			p.UnknownCount++
			continue
		}
		total += r.Health.Score
		scored++
	}

	if scored > 0 {
		p.AverageScore = total / float64(scored)
		p.State = stateFromScore(p.AverageScore)
	}
	return p
}

func stateFromScore(score float64) string {
	switch {
	case score >= thresholdHealthy:
		return types.StateHealthy
	case score >= thresholdDegraded:
		return types.StateDegraded
	default:
		return types.StateCritical
	}
}
