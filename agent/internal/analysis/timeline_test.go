package analysis

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
)

func TestProgress(t *testing.T) {
	tests := []struct {
		actual, estimated float64
		want              int
	}{
		{50, 10, 100},
		{5, 10, 50},
		{0, 0, 0},
		{0.5, 0, 50},
		{3, 0, 100},
		{1, 3, 33},
		{1, 8, 12}, // 12.5 rounds half to even
		{3, 8, 38}, // 37.5 rounds half to even
	}
	for _, tc := range tests {
		if got := Progress(tc.actual, tc.estimated); got != tc.want {
			t.Errorf("Progress(%v, %v) = %d, want %d", tc.actual, tc.estimated, got, tc.want)
		}
	}
}

func TestAnalyzeTicketProgress(t *testing.T) {
	tk := ticket(7, StatusInProgress, hours(9))
	tk.EstimatedHours = hours(12)
	tk.AssignedTo = member("jdoe")

	b := bundleOf(baseProject(), tk)
	b.TicketDetails[7] = TicketDetail{
		Ticket: tk,
		Notes: []cwclient.Note{
			{ID: 1, TicketID: 7, DateCreated: day(1), Text: "Initial triage", CreatedBy: "mgrace"},
			{ID: 2, TicketID: 7, DateCreated: day(3), Text: "Status changed to In Progress", CreatedBy: "jdoe"},
			{ID: 3, TicketID: 7, DateCreated: day(5), Text: "Mailbox sync FIXED and moved to QA"},
			{ID: 4, TicketID: 7, Text: "undated, blocked"},
			{ID: 5, TicketID: 7, DateCreated: day(6)},
			{ID: 6, TicketID: 7, DateCreated: day(4), Text: "Blocked on licence purchase", CreatedBy: "jdoe"},
		},
		TimeEntries: []cwclient.TimeEntry{
			{ID: 11, TimeStart: day(1), HoursWorked: 2, Member: member("jdoe"), Notes: "Set up connector"},
			{ID: 12, TimeStart: day(2), HoursWorked: 3, Member: member("asmith")},
			{ID: 13, TimeStart: day(3), HoursWorked: 1, Member: member("jdoe"), Notes: "Call with vendor"},
		},
	}

	got, err := AnalyzeTicketProgress(b, 7)
	if err != nil {
		t.Fatalf("AnalyzeTicketProgress: %v", err)
	}

	want := &TicketProgress{
		TicketID:       7,
		Summary:        "Ticket 7",
		CurrentStatus:  StatusInProgress,
		AssignedTo:     "jdoe",
		DateEntered:    day(0),
		EstimatedHours: 12,
		ActualHours:    9,
		StatusChanges: []NoteEvent{
			{Date: *day(5), Text: "Mailbox sync FIXED and moved to QA", By: "Unknown"},
			{Date: *day(3), Text: "Status changed to In Progress", By: "jdoe"},
		},
		KeyUpdates: []NoteEvent{
			{Date: *day(5), Text: "Mailbox sync FIXED and moved to QA", By: "Unknown"},
			{Date: *day(4), Text: "Blocked on licence purchase", By: "jdoe"},
		},
		TimeAnalysis: TimeAnalysis{
			TotalHours:   9, // the ticket's own figure, not the 6 logged in entries
			Contributors: []string{"asmith", "jdoe"},
			Notes:        []string{"Set up connector", "Call with vendor"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AnalyzeTicketProgress mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeTicketProgress_UnknownTicket(t *testing.T) {
	_, err := AnalyzeTicketProgress(bundleOf(baseProject()), 404)
	if !errors.Is(err, ErrMalformedInput) {
		t.Errorf("got %v, want ErrMalformedInput", err)
	}
}

func TestAnalyzeProjectTimeline(t *testing.T) {
	t1 := ticket(3, StatusCompleted, hours(50))
	t1.EstimatedHours = hours(10)
	t2 := ticket(1, StatusInProgress, hours(4))
	t2.EstimatedHours = hours(8)
	t3 := ticket(2, StatusClosed, nil)
	t4 := ticket(4, StatusNew, hours(0))

	b := bundleOf(baseProject(), t1, t2, t3, t4)
	b.TicketDetails[1] = TicketDetail{
		Ticket: t2,
		Notes: []cwclient.Note{
			{ID: 1, TicketID: 1, DateCreated: day(2), Text: "Implemented tenant mapping"},
		},
	}
	b.ProjectNotes = []cwclient.Note{
		{ID: 20, ProjectID: 100, DateCreated: day(2), Text: "Kickoff held", CreatedBy: "mgrace"},
		{ID: 21, ProjectID: 100, Text: "No date on this one"},
		{ID: 22, ProjectID: 100, DateCreated: day(9), Text: "Pilot group migrated"},
	}
	b.Members = append(b.Members, cwclient.Member{ID: 77})

	now := time.Date(2024, 4, 20, 12, 0, 0, 0, time.UTC)
	got, err := AnalyzeProjectTimeline(b, now)
	if err != nil {
		t.Fatalf("AnalyzeProjectTimeline: %v", err)
	}

	want := &Timeline{
		ProjectID:      100,
		ProjectName:    "Office 365 migration",
		Status:         "In Progress",
		Manager:        "mgrace",
		Company:        "Contoso Ltd",
		EstimatedHours: 80,
		ActualHours:    42.5,
		TicketCount:    4,
		ActiveTickets:  2,
		TicketSummaries: []TicketSummary{
			{ID: 1, Summary: "Ticket 1", Status: StatusInProgress, Progress: 50, KeyUpdates: 1},
			{ID: 2, Summary: "Ticket 2", Status: StatusClosed, Progress: 0},
			{ID: 3, Summary: "Ticket 3", Status: StatusCompleted, Progress: 100},
			{ID: 4, Summary: "Ticket 4", Status: StatusNew, Progress: 0},
		},
		ProjectUpdates: []NoteEvent{
			{Date: *day(9), Text: "Pilot group migrated", By: "Unknown"},
			{Date: *day(2), Text: "Kickoff held", By: "mgrace"},
		},
		TeamMembers:  []string{"mgrace", "jdoe", "77"},
		AnalysisDate: now,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AnalyzeProjectTimeline mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeProjectTimeline_RequiresManager(t *testing.T) {
	p := baseProject()
	p.Manager = nil
	_, err := AnalyzeProjectTimeline(bundleOf(p), time.Now())
	if !errors.Is(err, ErrMalformedInput) {
		t.Errorf("got %v, want ErrMalformedInput", err)
	}
}
