package analysis

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
)

var (
	statusChangeMarkers = []string{"status changed to", "moved to"}
	keyUpdateMarkers    = []string{"completed", "blocked", "updated", "fixed", "implemented"}
)

const (
	unknownAuthor = "Unknown"
	unknownStatus = "Unknown"
)

// NoteEvent is a dated note surfaced by the timeline analyses.
type NoteEvent struct {
	Date time.Time `json:"date"`
	Text string    `json:"text"`
	By   string    `json:"by"`
}

// TicketProgress is the per-ticket timeline.
type TicketProgress struct {
	TicketID       int          `json:"ticket_id"`
	Summary        string       `json:"summary"`
	CurrentStatus  string       `json:"current_status"`
	AssignedTo     string       `json:"assigned_to,omitempty"`
	DateEntered    *time.Time   `json:"date_entered,omitempty"`
	EstimatedHours float64      `json:"estimated_hours"`
	ActualHours    float64      `json:"actual_hours"`
	StatusChanges  []NoteEvent  `json:"status_changes"`
	KeyUpdates     []NoteEvent  `json:"key_updates"`
	TimeAnalysis   TimeAnalysis `json:"time_analysis"`
}

type TimeAnalysis struct {
	// TotalHours is the ticket's own actual hours. Entry hours are not summed.
	TotalHours   float64  `json:"total_hours"`
	Contributors []string `json:"contributors"`
	Notes        []string `json:"notes"`
}

// Timeline is the project-wide timeline built from every ticket detail.
type Timeline struct {
	ProjectID       int             `json:"project_id"`
	ProjectName     string          `json:"project_name"`
	Status          string          `json:"status"`
	Manager         string          `json:"manager"`
	Company         string          `json:"company,omitempty"`
	EstimatedHours  float64         `json:"estimated_hours"`
	ActualHours     float64         `json:"actual_hours"`
	TicketCount     int             `json:"ticket_count"`
	ActiveTickets   int             `json:"active_tickets"`
	TicketSummaries []TicketSummary `json:"ticket_summaries"`
	ProjectUpdates  []NoteEvent     `json:"project_updates"`
	TeamMembers     []string        `json:"team_members"`
	AnalysisDate    time.Time       `json:"analysis_date"`
}

type TicketSummary struct {
	ID         int    `json:"id"`
	Summary    string `json:"summary"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	KeyUpdates int    `json:"key_updates"`
}

// Active reports whether the ticket still has work outstanding.
func (s TicketSummary) Active() bool {
	return isActive(s.Status)
}

// AnalyzeTicketProgress classifies one ticket's notes and summarises its time
// entries. Notes are scanned newest first; a note without a date or text is
// skipped.
func AnalyzeTicketProgress(b *Bundle, ticketID int) (*TicketProgress, error) {
	d, ok := b.TicketDetails[ticketID]
	if !ok {
		return nil, missing("ticket", ticketID, "detail")
	}
	t := &d.Ticket

	out := &TicketProgress{
		TicketID:       ticketID,
		Summary:        t.Summary,
		CurrentStatus:  unknownStatus,
		DateEntered:    t.DateEntered,
		EstimatedHours: deref(t.EstimatedHours),
		ActualHours:    deref(t.ActualHours),
		StatusChanges:  []NoteEvent{},
		KeyUpdates:     []NoteEvent{},
	}
	if t.Status != nil && t.Status.Name != "" {
		out.CurrentStatus = t.Status.Name
	}
	if t.AssignedTo != nil {
		out.AssignedTo = t.AssignedTo.Identifier
	}

	for _, n := range sortedNotes(d.Notes) {
		if n.Text == "" {
			continue
		}
		text := strings.ToLower(n.Text)
		ev := noteEvent(n)
		if containsAny(text, statusChangeMarkers) {
			out.StatusChanges = append(out.StatusChanges, ev)
		}
		if containsAny(text, keyUpdateMarkers) {
			out.KeyUpdates = append(out.KeyUpdates, ev)
		}
	}

	out.TimeAnalysis = timeAnalysis(t, d.TimeEntries)
	return out, nil
}

// AnalyzeProjectTimeline aggregates every ticket detail into a project view.
// now is stamped as the analysis date.
func AnalyzeProjectTimeline(b *Bundle, now time.Time) (*Timeline, error) {
	p := &b.Project
	status, err := refName("project", p.ID, "status", p.Status)
	if err != nil {
		return nil, err
	}
	if p.Manager == nil || p.Manager.Identifier == "" {
		return nil, missing("project", p.ID, "manager")
	}
	if p.ActualHours == nil {
		return nil, missing("project", p.ID, "actualHours")
	}

	ids := make([]int, 0, len(b.TicketDetails))
	for id := range b.TicketDetails {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := &Timeline{
		ProjectID:       p.ID,
		ProjectName:     p.Name,
		Status:          status,
		Manager:         p.Manager.Identifier,
		EstimatedHours:  deref(p.EstimatedHours),
		ActualHours:     *p.ActualHours,
		TicketCount:     len(b.Tickets),
		TicketSummaries: make([]TicketSummary, 0, len(ids)),
		ProjectUpdates:  []NoteEvent{},
		TeamMembers:     make([]string, 0, len(b.Members)),
		AnalysisDate:    now,
	}
	if p.Company != nil {
		out.Company = p.Company.Name
	}

	for _, id := range ids {
		tp, err := AnalyzeTicketProgress(b, id)
		if err != nil {
			return nil, err
		}
		s := TicketSummary{
			ID:         id,
			Summary:    tp.Summary,
			Status:     tp.CurrentStatus,
			Progress:   Progress(tp.ActualHours, tp.EstimatedHours),
			KeyUpdates: len(tp.KeyUpdates),
		}
		if s.Active() {
			out.ActiveTickets++
		}
		out.TicketSummaries = append(out.TicketSummaries, s)
	}

	for _, n := range sortedNotes(b.ProjectNotes) {
		out.ProjectUpdates = append(out.ProjectUpdates, noteEvent(n))
	}

	for _, m := range b.Members {
		if m.Identifier != "" {
			out.TeamMembers = append(out.TeamMembers, m.Identifier)
		} else {
			out.TeamMembers = append(out.TeamMembers, strconv.Itoa(m.ID))
		}
	}
	return out, nil
}

// Progress is actual/estimated as a whole percentage capped at 100. A zero
// estimate is treated as one hour.
func Progress(actual, estimated float64) int {
	if estimated == 0 {
		estimated = 1
	}
	return int(min(100, math.RoundToEven(actual/estimated*100)))
}

func isActive(status string) bool {
	return status != StatusClosed && status != StatusCompleted
}

// sortedNotes returns the dated notes newest first. Undated notes are dropped.
func sortedNotes(notes []cwclient.Note) []cwclient.Note {
	out := make([]cwclient.Note, 0, len(notes))
	for _, n := range notes {
		if n.DateCreated != nil {
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b cwclient.Note) int {
		return b.DateCreated.Compare(*a.DateCreated)
	})
	return out
}

func noteEvent(n cwclient.Note) NoteEvent {
	by := n.CreatedBy
	if by == "" {
		by = unknownAuthor
	}
	return NoteEvent{Date: *n.DateCreated, Text: n.Text, By: by}
}

func timeAnalysis(t *cwclient.Ticket, entries []cwclient.TimeEntry) TimeAnalysis {
	out := TimeAnalysis{
		TotalHours:   deref(t.ActualHours),
		Contributors: []string{},
		Notes:        []string{},
	}
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.Notes != "" {
			out.Notes = append(out.Notes, e.Notes)
		}
		if e.Member == nil || e.Member.Identifier == "" {
			continue
		}
		if _, ok := seen[e.Member.Identifier]; ok {
			continue
		}
		seen[e.Member.Identifier] = struct{}{}
		out.Contributors = append(out.Contributors, e.Member.Identifier)
	}
	sort.Strings(out.Contributors)
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
