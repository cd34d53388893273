package analysis

import (
	"fmt"
	"time"

	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
)

// Ticket status names the analyses key on.
const (
	StatusNew        = "New"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
	StatusClosed     = "Closed"
)

// noCompany is reported when a project has no company reference.
const noCompany = "No Company Listed"

// Result is the full output of Analyze. It is derived fresh on every call.
type Result struct {
	ProjectMetrics  ProjectMetrics  `json:"project_metrics"`
	TicketAnalysis  TicketAnalysis  `json:"ticket_analysis"`
	ResourceMetrics ResourceMetrics `json:"resource_metrics"`
	RiskIndicators  RiskIndicators  `json:"risk_indicators"`
}

// ProjectMetrics passes through the headline project attributes.
type ProjectMetrics struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Company   string     `json:"company"`
	Hours     Hours      `json:"hours"`
	Status    string     `json:"status"`
	StartDate *time.Time `json:"start_date,omitempty"`
	Manager   string     `json:"manager,omitempty"`
}

type Hours struct {
	Actual       float64 `json:"actual"`
	Estimated    float64 `json:"estimated"`
	HasEstimates bool    `json:"has_estimates"`
}

// TicketAnalysis is the single-pass summary over every ticket in the bundle.
type TicketAnalysis struct {
	TotalTickets         int               `json:"total_tickets"`
	StatusDistribution   map[string]int    `json:"status_distribution"`
	PriorityDistribution map[string]int    `json:"priority_distribution"`
	CompletionMetrics    CompletionMetrics `json:"completion_metrics"`

	// StalledTickets are New tickets with zero or no actual hours.
	StalledTickets []TicketRef `json:"stalled_tickets"`

	// UnassignedTickets are tickets with no actual hours field at all. The
	// name follows the upstream reporting convention; it says nothing about
	// the assignee.
	UnassignedTickets []TicketRef `json:"unassigned_tickets"`
}

type CompletionMetrics struct {
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	New        int `json:"new"`

	// CompletionRate is completed/total as a percentage, 0 with no tickets.
	CompletionRate float64 `json:"completion_rate"`
}

type TicketRef struct {
	ID      int    `json:"id"`
	Summary string `json:"summary"`
}

type ResourceMetrics struct {
	// TeamSize counts bundle members, not distinct assignees.
	TeamSize         int                   `json:"team_size"`
	MemberAllocation map[string]Allocation `json:"member_allocation"`
}

type Allocation struct {
	AssignedTickets  int     `json:"assigned_tickets"`
	CompletedTickets int     `json:"completed_tickets"`
	HoursLogged      float64 `json:"hours_logged"`
}

// Analyze runs every sub-analysis over b. Any missing required field fails
// the whole call with ErrMalformedInput.
func Analyze(b *Bundle) (*Result, error) {
	pm, err := AnalyzeProject(b)
	if err != nil {
		return nil, err
	}
	ta, err := AnalyzeTickets(b)
	if err != nil {
		return nil, err
	}
	rm, err := AnalyzeResources(b)
	if err != nil {
		return nil, err
	}
	ri, err := AnalyzeRisks(b)
	if err != nil {
		return nil, err
	}
	return &Result{
		ProjectMetrics:  pm,
		TicketAnalysis:  ta,
		ResourceMetrics: rm,
		RiskIndicators:  ri,
	}, nil
}

// AnalyzeProject requires the project's status and actual hours.
func AnalyzeProject(b *Bundle) (ProjectMetrics, error) {
	p := &b.Project
	status, err := refName("project", p.ID, "status", p.Status)
	if err != nil {
		return ProjectMetrics{}, err
	}
	if p.ActualHours == nil {
		return ProjectMetrics{}, missing("project", p.ID, "actualHours")
	}

	company := noCompany
	if p.Company != nil && p.Company.Name != "" {
		company = p.Company.Name
	}
	var manager string
	if p.Manager != nil {
		manager = p.Manager.Identifier
	}
	estimated := deref(p.EstimatedHours)

	return ProjectMetrics{
		ID:      p.ID,
		Name:    p.Name,
		Company: company,
		Hours: Hours{
			Actual:       *p.ActualHours,
			Estimated:    estimated,
			HasEstimates: estimated > 0,
		},
		Status:    status,
		StartDate: p.ScheduledStart,
		Manager:   manager,
	}, nil
}

// AnalyzeTickets requires every ticket's status and priority.
func AnalyzeTickets(b *Bundle) (TicketAnalysis, error) {
	out := TicketAnalysis{
		TotalTickets:         len(b.Tickets),
		StatusDistribution:   make(map[string]int),
		PriorityDistribution: make(map[string]int),
		StalledTickets:       []TicketRef{},
		UnassignedTickets:    []TicketRef{},
	}

	for i := range b.Tickets {
		t := &b.Tickets[i]
		status, err := refName("ticket", t.ID, "status", t.Status)
		if err != nil {
			return TicketAnalysis{}, err
		}
		priority, err := refName("ticket", t.ID, "priority", t.Priority)
		if err != nil {
			return TicketAnalysis{}, err
		}
		out.StatusDistribution[status]++
		out.PriorityDistribution[priority]++

		switch status {
		case StatusCompleted:
			out.CompletionMetrics.Completed++
		case StatusInProgress:
			out.CompletionMetrics.InProgress++
		case StatusNew:
			out.CompletionMetrics.New++
		}

		if isUnassigned(t) {
			out.UnassignedTickets = append(out.UnassignedTickets, TicketRef{ID: t.ID, Summary: t.Summary})
		}
		if isStalled(t, status) {
			out.StalledTickets = append(out.StalledTickets, TicketRef{ID: t.ID, Summary: t.Summary})
		}
	}

	out.CompletionMetrics.CompletionRate = completionRate(out.CompletionMetrics.Completed, out.TotalTickets)
	return out, nil
}

// AnalyzeResources builds per-assignee allocation from the ticket list.
func AnalyzeResources(b *Bundle) (ResourceMetrics, error) {
	alloc := make(map[string]Allocation)
	for i := range b.Tickets {
		t := &b.Tickets[i]
		if t.AssignedTo == nil || t.AssignedTo.Identifier == "" {
			continue
		}
		status, err := refName("ticket", t.ID, "status", t.Status)
		if err != nil {
			return ResourceMetrics{}, err
		}
		a := alloc[t.AssignedTo.Identifier]
		a.AssignedTickets++
		if status == StatusCompleted {
			a.CompletedTickets++
		}
		if t.ActualHours != nil {
			a.HoursLogged += *t.ActualHours
		}
		alloc[t.AssignedTo.Identifier] = a
	}
	return ResourceMetrics{
		TeamSize:         len(b.Members),
		MemberAllocation: alloc,
	}, nil
}

func isUnassigned(t *cwclient.Ticket) bool {
	return t.ActualHours == nil
}

func isStalled(t *cwclient.Ticket, status string) bool {
	return status == StatusNew && deref(t.ActualHours) == 0
}

func completionRate(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

func refName(kind string, id int, field string, r *cwclient.Ref) (string, error) {
	if r == nil || r.Name == "" {
		return "", missing(kind, id, field)
	}
	return r.Name, nil
}

func missing(kind string, id int, field string) error {
	return fmt.Errorf("%w: %s %d: missing %s", ErrMalformedInput, kind, id, field)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
