package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
)

// ErrMalformedInput is returned when a bundle lacks a field the analysis
// requires or violates a bundle invariant.
var ErrMalformedInput = errors.New("analysis: malformed input")

// Bundle is the snapshot of one project's records that every analysis in this
// package reads. Treat a built Bundle as immutable: analyses never modify it,
// and callers must not either.
type Bundle struct {
	Project            cwclient.Project     `json:"project"`
	ProjectNotes       []cwclient.Note      `json:"project_notes"`
	Tickets            []cwclient.Ticket    `json:"tickets"`
	TicketDetails      map[int]TicketDetail `json:"ticket_details"`
	ProjectTimeEntries []cwclient.TimeEntry `json:"project_time_entries"`
	Members            []cwclient.Member    `json:"members"`
}

// TicketDetail holds one ticket with its notes and time entries.
type TicketDetail struct {
	Ticket      cwclient.Ticket      `json:"ticket"`
	Notes       []cwclient.Note      `json:"notes"`
	TimeEntries []cwclient.TimeEntry `json:"time_entries"`
}

// NewBundle assembles and validates a Bundle. Every detail key must name a
// ticket in tickets, and every record must pass its own Validate.
func NewBundle(
	project cwclient.Project,
	projectNotes []cwclient.Note,
	tickets []cwclient.Ticket,
	details map[int]TicketDetail,
	timeEntries []cwclient.TimeEntry,
	members []cwclient.Member,
) (*Bundle, error) {
	b := &Bundle{
		Project:            project,
		ProjectNotes:       projectNotes,
		Tickets:            tickets,
		TicketDetails:      details,
		ProjectTimeEntries: timeEntries,
		Members:            members,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the bundle invariants.
func (b *Bundle) Validate() error {
	if err := b.Project.Validate(); err != nil {
		return malformed(err)
	}

	ids := make(map[int]struct{}, len(b.Tickets))
	for i := range b.Tickets {
		if err := b.Tickets[i].Validate(); err != nil {
			return malformed(err)
		}
		ids[b.Tickets[i].ID] = struct{}{}
	}

	for id, d := range b.TicketDetails {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("%w: ticket detail %d has no matching ticket", ErrMalformedInput, id)
		}
		if d.Ticket.ID != 0 && d.Ticket.ID != id {
			return fmt.Errorf("%w: ticket detail %d holds ticket %d", ErrMalformedInput, id, d.Ticket.ID)
		}
		for i := range d.Notes {
			if err := d.Notes[i].Validate(); err != nil {
				return malformed(err)
			}
		}
		for i := range d.TimeEntries {
			if err := d.TimeEntries[i].Validate(); err != nil {
				return malformed(err)
			}
		}
	}

	for i := range b.ProjectNotes {
		if err := b.ProjectNotes[i].Validate(); err != nil {
			return malformed(err)
		}
	}
	for i := range b.ProjectTimeEntries {
		if err := b.ProjectTimeEntries[i].Validate(); err != nil {
			return malformed(err)
		}
	}
	for i := range b.Members {
		if err := b.Members[i].Validate(); err != nil {
			return malformed(err)
		}
	}
	return nil
}

// ReadBundle decodes a JSON bundle, as written by WriteBundle, and validates it.
func ReadBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: decode bundle: %v", ErrMalformedInput, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// WriteBundle encodes b as indented JSON.
func WriteBundle(w io.Writer, b *Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("analysis: encode bundle: %w", err)
	}
	return nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedInput, err)
}
