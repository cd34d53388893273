package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RiskLevel orders project risk. Levels only ever rise during an analysis.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

// Rule thresholds.
const (
	stalledThreshold        = 5
	unassignedThreshold     = 5
	completionRateThreshold = 20.0 // percent
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	}
	return fmt.Sprintf("RiskLevel(%d)", int(l))
}

// ParseRiskLevel accepts LOW, MEDIUM or HIGH in any case.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	}
	return RiskLow, fmt.Errorf("analysis: unknown risk level %q", s)
}

func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

type RiskIndicators struct {
	RiskLevel   RiskLevel `json:"risk_level"`
	RiskFactors []string  `json:"risk_factors"`
}

// raise lifts the level to at least l.
func (r *RiskIndicators) raise(l RiskLevel, factor string) {
	r.RiskFactors = append(r.RiskFactors, factor)
	if l > r.RiskLevel {
		r.RiskLevel = l
	}
}

// AnalyzeRisks evaluates the risk rules in a fixed order, each at most once:
//
//	missing or zero project estimate  -> at least MEDIUM
//	more than 5 stalled tickets       -> HIGH
//	more than 5 unassigned tickets    -> HIGH
//	completion rate below 20%         -> at least MEDIUM
//
// The final level is the highest any fired rule asked for.
func AnalyzeRisks(b *Bundle) (RiskIndicators, error) {
	ta, err := AnalyzeTickets(b)
	if err != nil {
		return RiskIndicators{}, err
	}

	out := RiskIndicators{RiskLevel: RiskLow, RiskFactors: []string{}}

	if deref(b.Project.EstimatedHours) == 0 {
		out.raise(RiskMedium, "Missing project hour estimates")
	}
	if n := len(ta.StalledTickets); n > stalledThreshold {
		out.raise(RiskHigh, fmt.Sprintf("High number of stalled tickets (%d)", n))
	}
	if n := len(ta.UnassignedTickets); n > unassignedThreshold {
		out.raise(RiskHigh, fmt.Sprintf("High number of unassigned tickets (%d)", n))
	}
	if rate := ta.CompletionMetrics.CompletionRate; rate < completionRateThreshold {
		out.raise(RiskMedium, fmt.Sprintf("Low completion rate (%.1f%%)", rate))
	}
	return out, nil
}
