package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Health states derived from the trend score.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Risk levels assigned by the rule-based analysis.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// ErrInvalidReport is returned by Report.Validate.
var ErrInvalidReport = errors.New("types: invalid report")

// Report is the per-project result of one analysis cycle.
type Report struct {
	RunID       string    `json:"run_id"`
	ProjectID   int       `json:"project_id"`
	ProjectName string    `json:"project_name"`
	Company     string    `json:"company,omitempty"`
	Status      string    `json:"status,omitempty"`
	Manager     string    `json:"manager,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`

	RiskLevel   string   `json:"risk_level"`
	RiskFactors []string `json:"risk_factors"`

	CompletionRate    float64  `json:"completion_rate"`
	TotalTickets      int      `json:"total_tickets"`
	ActiveTickets     int      `json:"active_tickets"`
	CompletedTickets  int      `json:"completed_tickets"`
	StalledTickets    int      `json:"stalled_tickets"`
	UnassignedTickets int      `json:"unassigned_tickets"`
	HoursActual       float64  `json:"hours_actual"`
	HoursEstimated    *float64 `json:"hours_estimated,omitempty"`
	Progress          int      `json:"progress"`
	TeamSize          int      `json:"team_size"`

	Health  Health   `json:"health"`
	Insight *Insight `json:"insight,omitempty"`

	// Error is set when the cycle failed for this project. Analysis fields
	// are then zero and Health.State is unknown.
	Error string `json:"error,omitempty"`
}

// Health is the locally computed trend view of a project.
type Health struct {
	Score           float64 `json:"score"`
	State           string  `json:"state"`
	UptimePct       float64 `json:"uptime_pct"`
	HoursPerDay     float64 `json:"hours_per_day"`
	CompletionDelta float64 `json:"completion_delta"`
}

// Insight is the optional assessment returned by the insight service.
type Insight struct {
	HealthScore        int      `json:"health_score"`
	RiskLevel          string   `json:"risk_level"`
	Summary            string   `json:"summary"`
	Risks              []string `json:"risks,omitempty"`
	Recommendations    []string `json:"recommendations,omitempty"`
	TimelinePrediction string   `json:"timeline_prediction,omitempty"`
	Model              string   `json:"model,omitempty"`
}

// NewRunID returns a fresh identifier for one agent cycle.
func NewRunID() string {
	return uuid.NewString()
}

// Validate checks the fields the server relies on.
func (r *Report) Validate() error {
	if r.ProjectID <= 0 {
		return fmt.Errorf("%w: project_id must be positive", ErrInvalidReport)
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		return fmt.Errorf("%w: run_id: %v", ErrInvalidReport, err)
	}
	if r.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: generated_at is required", ErrInvalidReport)
	}
	if r.Error != "" {
		return nil
	}
	switch r.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("%w: unknown risk_level %q", ErrInvalidReport, r.RiskLevel)
	}
	if r.CompletionRate < 0 || r.CompletionRate > 100 {
		return fmt.Errorf("%w: completion_rate %.2f outside 0-100", ErrInvalidReport, r.CompletionRate)
	}
	return nil
}

// Snapshot is the portfolio view served by the API and pushed over WebSocket.
type Snapshot struct {
	Projects    []Report  `json:"projects"`
	Portfolio   Portfolio `json:"portfolio"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Portfolio aggregates counts across live reports.
type Portfolio struct {
	ProjectCount  int     `json:"project_count"`
	AverageScore  float64 `json:"average_score"`
	State         string  `json:"state"`
	LowRisk       int     `json:"low_risk"`
	MediumRisk    int     `json:"medium_risk"`
	HighRisk      int     `json:"high_risk"`
	FailedCount   int     `json:"failed_count"`
	HealthyCount  int     `json:"healthy_count"`
	DegradedCount int     `json:"degraded_count"`
	CriticalCount int     `json:"critical_count"`
	UnknownCount  int     `json:"unknown_count"`
	AlertCount    int     `json:"alert_count"`
}

// Batch is the request body of POST /api/v1/reports.
type Batch struct {
	Reports []Report `json:"reports"`
}

// BatchResponse reports how many reports the server kept and why any were
// refused.
type BatchResponse struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// Rejection names a report the server refused.
type Rejection struct {
	ProjectID int    `json:"project_id"`
	Error     string `json:"error"`
}
