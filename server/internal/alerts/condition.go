package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/obsidianstack/projectlens/pkg/types"
)

// Condition is a parsed rule expression of the form "field op value".
//
// Supported expressions:
//
//	completion_rate < 20
//	health_score < 60
//	insight_score < 50
//	stalled_tickets > 5
//	unassigned_tickets >= 3
//	active_tickets > 40
//	hours_overrun_pct > 100
//	progress >= 90
//	uptime_pct < 80
//	completion_delta < 0
//	risk_level == HIGH
//	state == critical
//	failed == true
type Condition struct {
	Field string
	Op    string
	Value string

	threshold float64
	numeric   bool
}

var numericFields = map[string]func(r *types.Report) (float64, bool){
	"completion_rate":    func(r *types.Report) (float64, bool) { return r.CompletionRate, true },
	"total_tickets":      func(r *types.Report) (float64, bool) { return float64(r.TotalTickets), true },
	"active_tickets":     func(r *types.Report) (float64, bool) { return float64(r.ActiveTickets), true },
	"stalled_tickets":    func(r *types.Report) (float64, bool) { return float64(r.StalledTickets), true },
	"unassigned_tickets": func(r *types.Report) (float64, bool) { return float64(r.UnassignedTickets), true },
	"hours_actual":       func(r *types.Report) (float64, bool) { return r.HoursActual, true },
	"progress":           func(r *types.Report) (float64, bool) { return float64(r.Progress), true },
	"team_size":          func(r *types.Report) (float64, bool) { return float64(r.TeamSize), true },
	"health_score":       func(r *types.Report) (float64, bool) { return r.Health.Score, true },
	"uptime_pct":         func(r *types.Report) (float64, bool) { return r.Health.UptimePct, true },
	"hours_per_day":      func(r *types.Report) (float64, bool) { return r.Health.HoursPerDay, true },
	"completion_delta":   func(r *types.Report) (float64, bool) { return r.Health.CompletionDelta, true },
	"hours_overrun_pct": func(r *types.Report) (float64, bool) {
		if r.HoursEstimated == nil || *r.HoursEstimated == 0 {
			return 0, false
		}
		return r.HoursActual / *r.HoursEstimated * 100, true
	},
	"insight_score": func(r *types.Report) (float64, bool) {
		if r.Insight == nil {
			return 0, false
		}
		return float64(r.Insight.HealthScore), true
	},
}

// Fields that still carry a value when the report records a failed cycle.
var failureFields = map[string]bool{
	"state":      true,
	"failed":     true,
	"uptime_pct": true,
}

// ParseCondition parses and checks a rule expression.
func ParseCondition(s string) (Condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("alerts: condition %q: want \"field op value\"", s)
	}
	c := Condition{Field: parts[0], Op: parts[1], Value: parts[2]}

	if _, ok := numericFields[c.Field]; ok {
		switch c.Op {
		case ">", ">=", "<", "<=", "==", "!=":
		default:
			return Condition{}, fmt.Errorf("alerts: condition %q: unknown operator %q", s, c.Op)
		}
		v, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return Condition{}, fmt.Errorf("alerts: condition %q: %w", s, err)
		}
		c.threshold = v
		c.numeric = true
		return c, nil
	}

	switch c.Field {
	case "risk_level", "insight_risk", "state", "failed":
	default:
		return Condition{}, fmt.Errorf("alerts: condition %q: unknown field %q", s, c.Field)
	}
	if c.Op != "==" && c.Op != "!=" {
		return Condition{}, fmt.Errorf("alerts: condition %q: field %s supports only == and !=", s, c.Field)
	}
	if c.Field == "failed" {
		if _, err := strconv.ParseBool(c.Value); err != nil {
			return Condition{}, fmt.Errorf("alerts: condition %q: %w", s, err)
		}
	}
	return c, nil
}

// Applies reports whether the condition can be judged for r. Analysis
// fields are meaningless on a failed report and a missing optional value
// (no estimate, no insight) cannot be judged either.
func (c Condition) Applies(r *types.Report) bool {
	if r.Error != "" && !failureFields[c.Field] {
		return false
	}
	switch c.Field {
	case "insight_risk":
		return r.Insight != nil
	}
	if c.numeric {
		_, ok := numericFields[c.Field](r)
		return ok
	}
	return true
}

// Eval returns whether the condition holds for r and the value it compared.
// String comparisons report a zero value. Call Applies first.
func (c Condition) Eval(r *types.Report) (bool, float64) {
	if c.numeric {
		v, ok := numericFields[c.Field](r)
		if !ok {
			return false, 0
		}
		return compareFloat(v, c.Op, c.threshold), v
	}

	var got string
	switch c.Field {
	case "risk_level":
		got = r.RiskLevel
	case "insight_risk":
		if r.Insight != nil {
			got = r.Insight.RiskLevel
		}
	case "state":
		got = r.Health.State
	case "failed":
		want, _ := strconv.ParseBool(c.Value)
		eq := (r.Error != "") == want
		return eq == (c.Op == "=="), 0
	}
	eq := strings.EqualFold(got, c.Value)
	return eq == (c.Op == "=="), 0
}

func (c Condition) String() string {
	return c.Field + " " + c.Op + " " + c.Value
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
