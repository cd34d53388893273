package compute

import (
	"math"
	"testing"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// --- Compute() table-driven tests ---

func TestCompute_States(t *testing.T) {
	tests := []struct {
		name      string
		in        Input
		wantState string
		wantScore float64 // approximate; use -1 to skip
	}{
		{
			name:      "everything completed, always collected",
			in:        Input{TicketCount: 10, CompletionRate: 100, UptimePct: 100},
			wantState: StateHealthy,
			wantScore: 100,
		},
		{
			name: "healthy with a quarter still open",
			// 0.75*0.40 + 1*0.25 + 1*0.20 + 1*0.15 = 0.30+0.25+0.20+0.15 = 0.90
			in:        Input{TicketCount: 4, CompletionRate: 75, UptimePct: 100},
			wantState: StateHealthy,
			wantScore: 90,
		},
		{
			name: "degraded, half done with some stalled work",
			// 0.5*0.40 + 0.9*0.25 + 0.8*0.20 + 1*0.15 = 0.20+0.225+0.16+0.15 = 0.735
			in:        Input{TicketCount: 10, CompletionRate: 50, StalledPct: 10, UnassignedPct: 20, UptimePct: 100},
			wantState: StateDegraded,
			wantScore: 73.5,
		},
		{
			name: "critical, little progress and flaky collection",
			// 0.1*0.40 + 0.6*0.25 + 0.5*0.20 + 0.5*0.15 = 0.04+0.15+0.10+0.075 = 0.365
			in:        Input{TicketCount: 10, CompletionRate: 10, StalledPct: 40, UnassignedPct: 50, UptimePct: 50},
			wantState: StateCritical,
			wantScore: 36.5,
		},
		{
			name:      "unknown, no tickets",
			in:        Input{TicketCount: 0, UptimePct: 100},
			wantState: StateUnknown,
			wantScore: -1,
		},
		{
			name:      "unknown, never collected",
			in:        Input{TicketCount: 5, CompletionRate: 100, UptimePct: 0},
			wantState: StateUnknown,
			wantScore: -1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := Compute(tc.in)

			if out.State != tc.wantState {
				t.Errorf("State = %q, want %q (score=%.2f)", out.State, tc.wantState, out.Score)
			}
			if tc.wantScore >= 0 && !almostEqual(out.Score, tc.wantScore, 0.01) {
				t.Errorf("Score = %.4f, want %.4f", out.Score, tc.wantScore)
			}
		})
	}
}

func TestCompute_FactorClamping(t *testing.T) {
	t.Run("stalled_pct > 100 clamped", func(t *testing.T) {
		out := Compute(Input{TicketCount: 1, StalledPct: 150, UptimePct: 100})
		if out.StalledFactor != 0 {
			t.Errorf("StalledFactor with stalled_pct=150 = %.4f, want 0", out.StalledFactor)
		}
		if out.Score < 0 {
			t.Errorf("Score should not be negative, got %.4f", out.Score)
		}
	})

	t.Run("completion_rate > 100 clamped to 1.0 factor", func(t *testing.T) {
		out := Compute(Input{TicketCount: 1, CompletionRate: 200, UptimePct: 100})
		if out.CompletionFactor != 1.0 {
			t.Errorf("CompletionFactor with completion=200 = %.4f, want 1.0", out.CompletionFactor)
		}
	})

	t.Run("uptime_pct > 100 clamped to 1.0 factor", func(t *testing.T) {
		out := Compute(Input{TicketCount: 1, UptimePct: 120})
		if out.UptimeFactor != 1.0 {
			t.Errorf("UptimeFactor with uptime=120 = %.4f, want 1.0", out.UptimeFactor)
		}
	})
}

func TestCompute_ScoreInRange(t *testing.T) {
	cases := []Input{
		{TicketCount: 1, CompletionRate: 100, UptimePct: 100},
		{TicketCount: 1, StalledPct: 100, UnassignedPct: 100, UptimePct: 1},
		{TicketCount: 3, CompletionRate: 50, StalledPct: 50, UnassignedPct: 50, UptimePct: 50},
		{TicketCount: 7, CompletionRate: 99.9, StalledPct: 0.1, UptimePct: 99.9},
	}
	for _, in := range cases {
		out := Compute(in)
		if out.Score < 0 || out.Score > 100 {
			t.Errorf("Score %.4f out of [0,100] for input %+v", out.Score, in)
		}
	}
}

func TestCompute_FactorsSumToScore(t *testing.T) {
	in := Input{
		TicketCount:    12,
		CompletionRate: 41.7,
		StalledPct:     16.7,
		UnassignedPct:  8.3,
		UptimePct:      95,
	}
	out := Compute(in)
	reconstructed := (out.CompletionFactor*weightCompletion +
		out.StalledFactor*weightStalled +
		out.UnassignedFactor*weightUnassigned +
		out.UptimeFactor*weightUptime) * 100

	if !almostEqual(out.Score, reconstructed, 0.0001) {
		t.Errorf("Score %.6f != reconstructed %.6f from factors", out.Score, reconstructed)
	}
}

func TestWeightsSumToOne(t *testing.T) {
	sum := weightCompletion + weightStalled + weightUnassigned + weightUptime
	if !almostEqual(sum, 1, 1e-9) {
		t.Errorf("weights sum to %.4f, want 1", sum)
	}
}

// --- clamp01 ---

func TestClamp01(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {1.5, 1},
	}
	for _, tc := range tests {
		if got := clamp01(tc.in); got != tc.want {
			t.Errorf("clamp01(%.2f) = %.2f, want %.2f", tc.in, got, tc.want)
		}
	}
}

// --- stateFromScore ---

func TestStateFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, StateHealthy},
		{85, StateHealthy},
		{84.99, StateDegraded},
		{60, StateDegraded},
		{59.99, StateCritical},
		{0, StateCritical},
	}
	for _, tc := range tests {
		got := stateFromScore(tc.score)
		if got != tc.want {
			t.Errorf("stateFromScore(%.2f) = %q, want %q", tc.score, got, tc.want)
		}
	}
}
