// Package collect assembles an analysis.Bundle for one project by walking the
// fetch layer: project, notes, tickets (with per-ticket detail fetched
// concurrently), project time entries and the members involved.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/projectlens/agent/internal/analysis"
	"github.com/obsidianstack/projectlens/agent/internal/cwclient"
)

// DefaultConcurrency bounds in-flight ticket detail fetches. The shared
// limiter still paces the requests themselves.
const DefaultConcurrency = 4

// memberChunk is the number of identifiers per members lookup.
const memberChunk = 50

// Source is the subset of *cwclient.Client the collector needs.
type Source interface {
	Projects(ctx context.Context, overrides cwclient.Params) ([]cwclient.Project, error)
	Project(ctx context.Context, id int, overrides cwclient.Params) (*cwclient.Project, error)
	ProjectNotes(ctx context.Context, projectID int, overrides cwclient.Params) ([]cwclient.Note, error)
	ProjectTickets(ctx context.Context, projectID int, overrides cwclient.Params) ([]cwclient.Ticket, error)
	Ticket(ctx context.Context, id int, overrides cwclient.Params) (*cwclient.Ticket, error)
	TicketNotes(ctx context.Context, ticketID int, overrides cwclient.Params) ([]cwclient.Note, error)
	TicketTimeEntries(ctx context.Context, ticketID int, overrides cwclient.Params) ([]cwclient.TimeEntry, error)
	ChargedTimeEntries(ctx context.Context, chargeType cwclient.ChargeType, id int, overrides cwclient.Params) ([]cwclient.TimeEntry, error)
	MembersByIdentifier(ctx context.Context, identifiers []string) ([]cwclient.Member, error)
}

// Collector builds bundles. It holds no per-project state and is safe for
// concurrent use.
type Collector struct {
	src         Source
	concurrency int
	pageSize    int
}

// New returns a Collector reading from src. concurrency <= 0 selects
// DefaultConcurrency.
func New(src Source, concurrency int) *Collector {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Collector{src: src, concurrency: concurrency, pageSize: cwclient.DefaultPageSize}
}

// ListProjects returns every project matching conditions, all pages.
// An empty conditions string lists active projects.
func (c *Collector) ListProjects(ctx context.Context, conditions string) ([]cwclient.Project, error) {
	if conditions == "" {
		conditions = cwclient.ActiveProjects
	}
	return cwclient.CollectPages(ctx, c.pageSize, func(ctx context.Context, page cwclient.Params) ([]cwclient.Project, error) {
		page["conditions"] = conditions
		return c.src.Projects(ctx, page)
	})
}

// Collect fetches everything the analyses need for projectID. Any fetch
// failure aborts the whole bundle.
func (c *Collector) Collect(ctx context.Context, projectID int) (*analysis.Bundle, error) {
	start := time.Now()

	project, err := c.src.Project(ctx, projectID, nil)
	if err != nil {
		return nil, fmt.Errorf("collect: project %d: %w", projectID, err)
	}

	notes, err := cwclient.CollectPages(ctx, c.pageSize, func(ctx context.Context, page cwclient.Params) ([]cwclient.Note, error) {
		return c.src.ProjectNotes(ctx, projectID, page)
	})
	if err != nil {
		return nil, fmt.Errorf("collect: project %d notes: %w", projectID, err)
	}
	for i := range notes {
		if notes[i].ProjectID == 0 && notes[i].TicketID == 0 {
			notes[i].ProjectID = projectID
		}
	}

	tickets, err := cwclient.CollectPages(ctx, c.pageSize, func(ctx context.Context, page cwclient.Params) ([]cwclient.Ticket, error) {
		return c.src.ProjectTickets(ctx, projectID, page)
	})
	if err != nil {
		return nil, fmt.Errorf("collect: project %d tickets: %w", projectID, err)
	}

	details, err := c.ticketDetails(ctx, tickets)
	if err != nil {
		return nil, fmt.Errorf("collect: project %d: %w", projectID, err)
	}

	entries, err := cwclient.CollectPages(ctx, c.pageSize, func(ctx context.Context, page cwclient.Params) ([]cwclient.TimeEntry, error) {
		return c.src.ChargedTimeEntries(ctx, cwclient.ChargeProject, projectID, page)
	})
	if err != nil {
		return nil, fmt.Errorf("collect: project %d time entries: %w", projectID, err)
	}

	members, err := c.members(ctx, involved(project, notes, tickets, details, entries))
	if err != nil {
		return nil, fmt.Errorf("collect: project %d members: %w", projectID, err)
	}

	b, err := analysis.NewBundle(*project, notes, tickets, details, entries, members)
	if err != nil {
		return nil, fmt.Errorf("collect: project %d: %w", projectID, err)
	}

	slog.Info("collect: bundle assembled",
		"project_id", projectID,
		"tickets", len(tickets),
		"notes", len(notes),
		"time_entries", len(entries),
		"members", len(members),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return b, nil
}

// ticketDetails fetches {ticket, notes, time entries} for every ticket with
// at most c.concurrency tickets in flight.
func (c *Collector) ticketDetails(ctx context.Context, tickets []cwclient.Ticket) (map[int]analysis.TicketDetail, error) {
	results := make([]analysis.TicketDetail, len(tickets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range tickets {
		id := tickets[i].ID
		g.Go(func() error {
			d, err := c.ticketDetail(gctx, id)
			if err != nil {
				return fmt.Errorf("ticket %d: %w", id, err)
			}
			results[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[int]analysis.TicketDetail, len(results))
	for _, d := range results {
		out[d.Ticket.ID] = d
	}
	return out, nil
}

func (c *Collector) ticketDetail(ctx context.Context, id int) (analysis.TicketDetail, error) {
	t, err := c.src.Ticket(ctx, id, nil)
	if err != nil {
		return analysis.TicketDetail{}, err
	}
	notes, err := cwclient.CollectPages(ctx, c.pageSize, func(ctx context.Context, page cwclient.Params) ([]cwclient.Note, error) {
		return c.src.TicketNotes(ctx, id, page)
	})
	if err != nil {
		return analysis.TicketDetail{}, fmt.Errorf("notes: %w", err)
	}
	for i := range notes {
		if notes[i].TicketID == 0 && notes[i].ProjectID == 0 {
			notes[i].TicketID = id
		}
	}
	entries, err := cwclient.CollectPages(ctx, c.pageSize, func(ctx context.Context, page cwclient.Params) ([]cwclient.TimeEntry, error) {
		return c.src.TicketTimeEntries(ctx, id, page)
	})
	if err != nil {
		return analysis.TicketDetail{}, fmt.Errorf("time entries: %w", err)
	}
	// The item endpoint is authoritative, but keep the id we asked for.
	t.ID = id
	return analysis.TicketDetail{Ticket: *t, Notes: notes, TimeEntries: entries}, nil
}

// members looks up identifiers in chunks. Tokens that are not valid member
// identifiers (free-text authors) are skipped.
func (c *Collector) members(ctx context.Context, identifiers []string) ([]cwclient.Member, error) {
	valid := identifiers[:0:0]
	for _, id := range identifiers {
		if cwclient.MemberIdentifier.MatchString(id) {
			valid = append(valid, id)
		} else {
			slog.Debug("collect: skipping non-member author", "identifier", id)
		}
	}

	var out []cwclient.Member
	for start := 0; start < len(valid); start += memberChunk {
		end := min(start+memberChunk, len(valid))
		ms, err := c.src.MembersByIdentifier(ctx, valid[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	return out, nil
}

// involved returns the sorted distinct identifiers referenced by the manager,
// ticket assignees, time entries and note authors.
func involved(p *cwclient.Project, notes []cwclient.Note, tickets []cwclient.Ticket,
	details map[int]analysis.TicketDetail, entries []cwclient.TimeEntry) []string {
	set := make(map[string]struct{})
	add := func(id string) {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	addRef := func(r *cwclient.Ref) {
		if r != nil {
			add(r.Identifier)
		}
	}

	addRef(p.Manager)
	for _, n := range notes {
		add(n.CreatedBy)
	}
	for _, t := range tickets {
		addRef(t.AssignedTo)
	}
	for _, e := range entries {
		addRef(e.Member)
	}
	for _, d := range details {
		addRef(d.Ticket.AssignedTo)
		for _, n := range d.Notes {
			add(n.CreatedBy)
		}
		for _, e := range d.TimeEntries {
			addRef(e.Member)
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
