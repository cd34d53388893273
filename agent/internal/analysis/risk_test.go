package analysis

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
)

func TestAnalyzeRisks(t *testing.T) {
	completed := func(n, from int) []cwclient.Ticket {
		var out []cwclient.Ticket
		for i := 0; i < n; i++ {
			out = append(out, ticket(from+i, StatusCompleted, hours(2)))
		}
		return out
	}
	withNew := func(n, from int, actual *float64) []cwclient.Ticket {
		var out []cwclient.Ticket
		for i := 0; i < n; i++ {
			out = append(out, ticket(from+i, StatusNew, actual))
		}
		return out
	}
	noEstimate := baseProject()
	noEstimate.EstimatedHours = nil

	tests := []struct {
		name    string
		project cwclient.Project
		tickets []cwclient.Ticket
		want    RiskIndicators
	}{
		{
			name:    "healthy",
			project: baseProject(),
			tickets: completed(4, 1),
			want:    RiskIndicators{RiskLevel: RiskLow, RiskFactors: []string{}},
		},
		{
			name:    "no tickets fires completion rule",
			project: baseProject(),
			want: RiskIndicators{RiskLevel: RiskMedium, RiskFactors: []string{
				"Low completion rate (0.0%)",
			}},
		},
		{
			name:    "missing estimate and stalled tickets is HIGH",
			project: noEstimate,
			tickets: append(completed(4, 1), withNew(6, 10, hours(0))...),
			want: RiskIndicators{RiskLevel: RiskHigh, RiskFactors: []string{
				"Missing project hour estimates",
				"High number of stalled tickets (6)",
			}},
		},
		{
			name:    "low completion after HIGH keeps HIGH",
			project: baseProject(),
			tickets: append(completed(1, 1), withNew(6, 10, nil)...),
			want: RiskIndicators{RiskLevel: RiskHigh, RiskFactors: []string{
				"High number of stalled tickets (6)",
				"High number of unassigned tickets (6)",
				"Low completion rate (14.3%)",
			}},
		},
		{
			name:    "five stalled is not enough",
			project: baseProject(),
			tickets: append(completed(5, 1), withNew(5, 10, hours(0))...),
			want:    RiskIndicators{RiskLevel: RiskLow, RiskFactors: []string{}},
		},
	}

	for _, tc := range tests {
		got, err := AnalyzeRisks(bundleOf(tc.project, tc.tickets...))
		if err != nil {
			t.Fatalf("%s: AnalyzeRisks: %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestAnalyzeRisks_LevelNeverDecreases(t *testing.T) {
	// Adding tickets that fire more rules can only keep or raise the level.
	p := baseProject()
	p.EstimatedHours = hours(0)
	var tickets []cwclient.Ticket
	prev := RiskLow
	for i := 1; i <= 12; i++ {
		tickets = append(tickets, ticket(i, StatusNew, nil))
		got, err := AnalyzeRisks(bundleOf(p, tickets...))
		if err != nil {
			t.Fatal(err)
		}
		if got.RiskLevel < prev {
			t.Fatalf("after %d stalled tickets level dropped from %v to %v", i, prev, got.RiskLevel)
		}
		prev = got.RiskLevel
	}
	if prev != RiskHigh {
		t.Errorf("final level: got %v, want HIGH", prev)
	}
}

func TestRiskLevel_JSON(t *testing.T) {
	data, err := json.Marshal(RiskIndicators{RiskLevel: RiskHigh, RiskFactors: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"risk_level":"HIGH","risk_factors":["x"]}` {
		t.Errorf("marshal: got %s", data)
	}

	var back RiskIndicators
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.RiskLevel != RiskHigh {
		t.Errorf("unmarshal: got %v, want HIGH", back.RiskLevel)
	}
	if err := json.Unmarshal([]byte(`{"risk_level":"SEVERE"}`), &back); err == nil {
		t.Error("unmarshal SEVERE: expected error")
	}
}
