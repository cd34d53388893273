package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDisabled is returned by Disabled.
	ErrDisabled = errors.New("insight: service disabled")

	// ErrInvalidDocument marks a response that does not satisfy Document.Validate.
	ErrInvalidDocument = errors.New("insight: invalid document")

	// ErrNotCached is returned by cache lookups that find nothing.
	ErrNotCached = errors.New("insight: not cached")
)

// Risk levels an insight document may carry.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Document is the structured assessment returned by an insight service.
type Document struct {
	ProjectID          int       `json:"project_id"`
	HealthScore        int       `json:"health_score"`
	RiskLevel          string    `json:"risk_level"`
	Summary            string    `json:"summary"`
	Risks              []string  `json:"risks"`
	Recommendations    []string  `json:"recommendations"`
	TimelinePrediction string    `json:"timeline_prediction,omitempty"`
	Model              string    `json:"model,omitempty"`
	AnalyzedAt         time.Time `json:"analyzed_at"`
}

// Validate checks score range, risk level and that a summary is present.
func (d *Document) Validate() error {
	if d.HealthScore < 0 || d.HealthScore > 100 {
		return fmt.Errorf("%w: health_score %d outside 0-100", ErrInvalidDocument, d.HealthScore)
	}
	switch d.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
	default:
		return fmt.Errorf("%w: unknown risk_level %q", ErrInvalidDocument, d.RiskLevel)
	}
	if strings.TrimSpace(d.Summary) == "" {
		return fmt.Errorf("%w: empty summary", ErrInvalidDocument)
	}
	return nil
}

// Service turns a rendered prompt into a Document.
type Service interface {
	Analyze(ctx context.Context, projectID int, prompt string) (*Document, error)
}

// Disabled is the Service used when no provider is configured.
type Disabled struct{}

func (Disabled) Analyze(context.Context, int, string) (*Document, error) {
	return nil, ErrDisabled
}
