package analysis

import (
	"fmt"
	"time"

	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
)

func hours(v float64) *float64 { return &v }

func ref(name string) *cwclient.Ref { return &cwclient.Ref{Name: name} }

func member(identifier string) *cwclient.Ref { return &cwclient.Ref{Identifier: identifier} }

var day0 = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func day(n int) *time.Time {
	t := day0.AddDate(0, 0, n)
	return &t
}

func ticket(id int, status string, actual *float64) cwclient.Ticket {
	return cwclient.Ticket{
		ID:          id,
		Summary:     fmt.Sprintf("Ticket %d", id),
		Status:      ref(status),
		Priority:    ref("Priority 3 - Normal"),
		Project:     &cwclient.Ref{ID: 100},
		DateEntered: day(0),
		ActualHours: actual,
	}
}

func baseProject() cwclient.Project {
	return cwclient.Project{
		ID:             100,
		Name:           "Office 365 migration",
		Status:         ref("In Progress"),
		Manager:        member("mgrace"),
		Company:        ref("Contoso Ltd"),
		EstimatedHours: hours(80),
		ActualHours:    hours(42.5),
		ScheduledStart: day(0),
		BillingMethod:  cwclient.BillingActualRates,
	}
}

// bundleOf wraps tickets in a bundle with a detail entry per ticket.
func bundleOf(p cwclient.Project, tickets ...cwclient.Ticket) *Bundle {
	details := make(map[int]TicketDetail, len(tickets))
	for _, t := range tickets {
		details[t.ID] = TicketDetail{Ticket: t}
	}
	return &Bundle{
		Project:       p,
		Tickets:       tickets,
		TicketDetails: details,
		Members: []cwclient.Member{
			{ID: 1, Identifier: "mgrace"},
			{ID: 2, Identifier: "jdoe"},
		},
	}
}

// scenarioBundle has 10 tickets: 3 Completed, 2 New with zero hours, and a
// project without an hour estimate.
func scenarioBundle() *Bundle {
	p := baseProject()
	p.EstimatedHours = hours(0)

	var tickets []cwclient.Ticket
	for i := 1; i <= 3; i++ {
		tickets = append(tickets, ticket(i, StatusCompleted, hours(6)))
	}
	for i := 4; i <= 5; i++ {
		tickets = append(tickets, ticket(i, StatusNew, hours(0)))
	}
	for i := 6; i <= 8; i++ {
		tickets = append(tickets, ticket(i, StatusInProgress, hours(2)))
	}
	for i := 9; i <= 10; i++ {
		tickets = append(tickets, ticket(i, "Waiting on Client", hours(1)))
	}
	return bundleOf(p, tickets...)
}
