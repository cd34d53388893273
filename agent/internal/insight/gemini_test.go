package insight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var fixedNow = time.Date(2024, 6, 3, 14, 30, 0, 0, time.FixedZone("CEST", 2*3600))

func stubGemini(reply string, err error) (*GeminiService, *[]string) {
	var prompts []string
	return &GeminiService{
		model: "test-model",
		generate: func(_ context.Context, prompt string) (string, error) {
			prompts = append(prompts, prompt)
			return reply, err
		},
		now: func() time.Time { return fixedNow },
	}, &prompts
}

const goodReply = `{
  "health_score": 62,
  "risk_level": "medium",
  "summary": "Delivery is slipping on two tickets.",
  "risks": ["Unassigned tickets"],
  "recommendations": ["Assign owners"],
  "timeline_prediction": "Two weeks late."
}`

func TestGeminiAnalyze(t *testing.T) {
	svc, prompts := stubGemini(goodReply, nil)

	doc, err := svc.Analyze(context.Background(), 42, "the prompt")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := &Document{
		ProjectID:          42,
		HealthScore:        62,
		RiskLevel:          RiskMedium,
		Summary:            "Delivery is slipping on two tickets.",
		Risks:              []string{"Unassigned tickets"},
		Recommendations:    []string{"Assign owners"},
		TimelinePrediction: "Two weeks late.",
		Model:              "test-model",
		AnalyzedAt:         fixedNow.UTC(),
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
	if len(*prompts) != 1 || (*prompts)[0] != "the prompt" {
		t.Errorf("prompts sent: %q", *prompts)
	}
}

func TestGeminiAnalyze_Errors(t *testing.T) {
	boom := errors.New("quota exceeded")
	tests := []struct {
		name  string
		reply string
		err   error
		want  error
	}{
		{"generate fails", "", boom, boom},
		{"no json", "I cannot help with that.", nil, ErrInvalidDocument},
		{"broken json", `{"health_score": }`, nil, ErrInvalidDocument},
		{"score out of range", `{"health_score": 140, "risk_level": "LOW", "summary": "x"}`, nil, ErrInvalidDocument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := stubGemini(tc.reply, tc.err)
			doc, err := svc.Analyze(context.Background(), 1, "p")
			if !errors.Is(err, tc.want) {
				t.Errorf("err: got %v, want %v", err, tc.want)
			}
			if doc != nil {
				t.Errorf("doc: got %+v, want nil", doc)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{"fence without language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding prose", `Result: {"a":{"b":2}} done`, `{"a":{"b":2}}`},
		{"nothing", "no object here", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSON(tc.in); got != tc.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewGeminiService_RequiresKey(t *testing.T) {
	if _, err := NewGeminiService(context.Background(), "", ""); err == nil {
		t.Error("expected error for empty api key")
	}
}
