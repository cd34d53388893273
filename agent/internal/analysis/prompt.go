package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Prompt limits.
const (
	DefaultMaxActiveTickets = 20
	recentUpdates           = 5
	updateTextLimit         = 100 // runes
)

const promptTemplate = `Analyze the following project data and provide insights:

Project: {{.ProjectName}} (ID: {{.ProjectID}})
Company: {{.Company}}
Status: {{.Status}}
Manager: {{.Manager}}

Progress:
- Estimated Hours: {{.EstimatedHours}}
- Actual Hours: {{.ActualHours}}
- Completion: {{.Completion}}%

Tickets:
- Total: {{.TicketCount}}
- Active: {{.ActiveTickets}}
- Team Size: {{.TeamSize}}

Recent Updates:
{{- range .Updates}}
- {{.Date}}: {{.Text}}
{{- else}}
- none
{{- end}}

Active Tickets:
{{- range .Active}}
- {{.Summary}} ({{.Status}}, {{.Progress}}% complete)
{{- else}}
- none
{{- end}}

Please analyze:
1. Overall project health and progress
2. Any risks or blockers
3. Resource allocation and team performance
4. Recommendations for improvement
5. Timeline predictions
`

var promptTmpl = template.Must(template.New("insight").Parse(promptTemplate))

type promptUpdate struct {
	Date string
	Text string
}

type promptData struct {
	ProjectName    string
	ProjectID      int
	Company        string
	Status         string
	Manager        string
	EstimatedHours string
	ActualHours    string
	Completion     int
	TicketCount    int
	ActiveTickets  int
	TeamSize       int
	Updates        []promptUpdate
	Active         []TicketSummary
}

// BuildPrompt renders tl into the text handed to the insight service. It
// lists the five most recent project updates, each cut to 100 characters,
// and at most maxActive active tickets (DefaultMaxActiveTickets when
// maxActive <= 0).
func BuildPrompt(tl *Timeline, maxActive int) (string, error) {
	if tl == nil {
		return "", fmt.Errorf("%w: nil timeline", ErrMalformedInput)
	}
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveTickets
	}

	data := promptData{
		ProjectName:    tl.ProjectName,
		ProjectID:      tl.ProjectID,
		Company:        orDefault(tl.Company, "Unknown"),
		Status:         tl.Status,
		Manager:        orDefault(tl.Manager, "Unknown"),
		EstimatedHours: formatHours(tl.EstimatedHours),
		ActualHours:    formatHours(tl.ActualHours),
		Completion:     completion(tl.ActualHours, tl.EstimatedHours),
		TicketCount:    tl.TicketCount,
		ActiveTickets:  tl.ActiveTickets,
		TeamSize:       len(tl.TeamMembers),
	}

	// ProjectUpdates is newest first.
	for i, u := range tl.ProjectUpdates {
		if i == recentUpdates {
			break
		}
		data.Updates = append(data.Updates, promptUpdate{
			Date: u.Date.UTC().Format(time.RFC3339),
			Text: truncate(oneLine(u.Text), updateTextLimit),
		})
	}
	for _, s := range tl.TicketSummaries {
		if len(data.Active) == maxActive {
			break
		}
		if s.Active() {
			data.Active = append(data.Active, s)
		}
	}

	var sb strings.Builder
	if err := promptTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("analysis: render prompt: %w", err)
	}
	return sb.String(), nil
}

// completion is the uncapped whole-percent completion used in the prompt.
func completion(actual, estimated float64) int {
	if estimated == 0 {
		estimated = 1
	}
	return int(math.RoundToEven(actual / estimated * 100))
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
