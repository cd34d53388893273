package compute

// Weight constants for the health score formula.
// They must sum to 1.0.
const (
	weightCompletion = 0.40
	weightStalled    = 0.25
	weightUnassigned = 0.20
	weightUptime     = 0.15
)

// State constants returned by the score calculator.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Thresholds that map a score to a health state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

// Input holds the normalised values fed into the health score formula.
// All percentage fields are in the range 0–100.
type Input struct {
	// TicketCount is the number of tickets analysed. A project without
	// tickets cannot be scored.
	TicketCount int

	// CompletionRate is the share of tickets in Completed status.
	CompletionRate float64

	// StalledPct is the share of tickets that are New with no hours logged.
	StalledPct float64

	// UnassignedPct is the share of tickets with no actual-hours figure.
	UnassignedPct float64

	// UptimePct is the percentage of recent cycles in which the project's
	// data could be collected and analysed.
	UptimePct float64
}

// Output is the result of the health score calculation.
type Output struct {
	// Score is the composite health score in the range 0–100.
	Score float64

	// State is the health state derived from Score.
	State string

	// The four factor values (each 0–1) used to compute Score.
	CompletionFactor float64
	StalledFactor    float64
	UnassignedFactor float64
	UptimeFactor     float64
}

// Compute calculates the project health score from the given inputs.
//
//	score = (
//	    completion_rate/100       * 0.40  +
//	    (1 - stalled_pct/100)     * 0.25  +
//	    (1 - unassigned_pct/100)  * 0.20  +
//	    uptime_pct/100            * 0.15
//	) * 100
//
// With no tickets or zero uptime the state is "unknown".
func Compute(in Input) Output {
	if in.TicketCount == 0 || in.UptimePct == 0 {
		return Output{State: StateUnknown}
	}

	completionFactor := clamp01(in.CompletionRate / 100)
	stalledFactor := 1 - clamp01(in.StalledPct/100)
	unassignedFactor := 1 - clamp01(in.UnassignedPct/100)
	uptimeFactor := clamp01(in.UptimePct / 100)

	score := (completionFactor*weightCompletion +
		stalledFactor*weightStalled +
		unassignedFactor*weightUnassigned +
		uptimeFactor*weightUptime) * 100

	return Output{
		Score:            score,
		State:            stateFromScore(score),
		CompletionFactor: completionFactor,
		StalledFactor:    stalledFactor,
		UnassignedFactor: unassignedFactor,
		UptimeFactor:     uptimeFactor,
	}
}

// stateFromScore maps a numeric score to a named health state.
func stateFromScore(score float64) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// pct returns part/total as a percentage, 0 when total is 0.
func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
