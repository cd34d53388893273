package compute

import (
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/projectlens/agent/internal/analysis"
)

// uptimeWindow is the number of recent cycle outcomes tracked for uptime %.
const uptimeWindow = 20

// Observation is the outcome of one analysis cycle for one project.
type Observation struct {
	ProjectID int
	Result    *analysis.Result // nil when Err is set
	Err       error
}

// Trend is the derived health view for one project, ready to be attached to
// the shipped report.
type Trend struct {
	ProjectID int
	Timestamp time.Time
	State     string
	Score     float64
	UptimePct float64

	// HoursPerDay is the actual-hours burn rate since the previous successful
	// cycle. Zero on the first observation.
	HoursPerDay float64

	// CompletionDelta is the change in completion rate, in percentage
	// points, since the previous successful cycle. May be negative.
	CompletionDelta float64

	ErrorMessage string // non-empty when the cycle failed
}

// Engine maintains per-project state across cycles and derives trends from
// the deltas between consecutive analysis results.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[int]*projectState
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[int]*projectState)}
}

// Process ingests an Observation and returns the derived trend.
//
// now is passed explicitly so callers (and tests) control the clock without
// sleeping. Use time.Now() in production.
func (e *Engine) Process(obs *Observation, now time.Time) *Trend {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(obs.ProjectID)
	success := obs.Err == nil && obs.Result != nil
	st.recordCycle(success)

	out := &Trend{
		ProjectID: obs.ProjectID,
		Timestamp: now,
		UptimePct: st.uptimePct(),
	}

	if !success {
		out.State = StateUnknown
		if obs.Err != nil {
			out.ErrorMessage = obs.Err.Error()
		}
		slog.Warn("compute: cycle failed, marking unknown",
			"project_id", obs.ProjectID, "err", obs.Err)
		return out
	}

	ta := obs.Result.TicketAnalysis
	score := Compute(Input{
		TicketCount:    ta.TotalTickets,
		CompletionRate: ta.CompletionMetrics.CompletionRate,
		StalledPct:     pct(len(ta.StalledTickets), ta.TotalTickets),
		UnassignedPct:  pct(len(ta.UnassignedTickets), ta.TotalTickets),
		UptimePct:      out.UptimePct,
	})
	out.State = score.State
	out.Score = score.Score

	if st.hasBaseline {
		days := now.Sub(st.prevTime).Hours() / 24
		if days > 0 {
			hours := deltaOf(obs.Result.ProjectMetrics.Hours.Actual, st.prev.ProjectMetrics.Hours.Actual)
			out.HoursPerDay = hours / days
		}
		out.CompletionDelta = ta.CompletionMetrics.CompletionRate -
			st.prev.TicketAnalysis.CompletionMetrics.CompletionRate
	}

	st.updateBaseline(obs.Result, now)
	return out
}

// Retain drops state for every project not in ids.
func (e *Engine) Retain(ids []int) {
	keep := make(map[int]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.states {
		if !keep[id] {
			delete(e.states, id)
		}
	}
}

// projectState holds the last successful result and uptime history.
type projectState struct {
	prev        *analysis.Result
	prevTime    time.Time
	hasBaseline bool
	history     []bool // outcomes, newest last
}

func (e *Engine) stateFor(id int) *projectState {
	if st, ok := e.states[id]; ok {
		return st
	}
	st := &projectState{}
	e.states[id] = st
	return st
}

func (st *projectState) updateBaseline(res *analysis.Result, now time.Time) {
	st.prev = res
	st.prevTime = now
	st.hasBaseline = true
}

func (st *projectState) recordCycle(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *projectState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}

// deltaOf returns the positive delta between current and previous.
// Hours corrected downwards upstream count as zero.
func deltaOf(current, previous float64) float64 {
	d := current - previous
	if d < 0 {
		return 0
	}
	return d
}
