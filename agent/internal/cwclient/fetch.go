package cwclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Field projections requested per resource.
var (
	ProjectFields = []string{
		"id", "name", "status/name", "manager/identifier",
		"company/name", "estimatedHours", "actualHours",
		"scheduledStart", "scheduledFinish", "billingMethod",
	}
	TicketFields = []string{
		"id", "summary", "status/name", "priority/name", "project/id",
		"project/name", "assignedTo/identifier", "dateEntered",
		"estimatedHours", "actualHours",
	}
	TimeEntryFields = []string{
		"id", "timeStart", "timeEnd", "hoursWorked", "notes",
		"member/identifier", "member/name", "chargeToId", "chargeToType",
	}
	NoteFields = []string{
		"id", "text", "dateCreated", "createdBy",
		"detailDescriptionFlag", "internalAnalysisFlag", "resolutionFlag",
	}
	MemberFields = []string{
		"id", "identifier", "firstName", "lastName", "primaryEmail", "inactiveFlag",
	}
)

// ChargeType is the kind of record a time entry is charged to.
type ChargeType string

const (
	ChargeProject       ChargeType = "Project"
	ChargeProjectTicket ChargeType = "ProjectTicket"
)

// ActiveProjects is the default filter for project listings.
const ActiveProjects = "status/name='Active'"

// Client exposes typed accessors over the remote API. List accessors return
// one page in server order; use CollectPages to walk all pages.
type Client struct {
	exec *Executor
}

// NewClient returns a Client that sends through exec.
func NewClient(exec *Executor) *Client {
	return &Client{exec: exec}
}

func (c *Client) Projects(ctx context.Context, overrides Params) ([]Project, error) {
	return getList[Project](ctx, c, "project/projects", Params{
		"fields":  ProjectFields,
		"orderBy": "name asc",
	}, overrides)
}

func (c *Client) Project(ctx context.Context, id int, overrides Params) (*Project, error) {
	if err := positiveID("project", id); err != nil {
		return nil, err
	}
	return getItem[Project](ctx, c, "project/projects/"+strconv.Itoa(id), Params{
		"fields": ProjectFields,
	}, overrides)
}

func (c *Client) ProjectNotes(ctx context.Context, projectID int, overrides Params) ([]Note, error) {
	if err := positiveID("project", projectID); err != nil {
		return nil, err
	}
	return getList[Note](ctx, c, fmt.Sprintf("project/projects/%d/notes", projectID), Params{
		"fields":  NoteFields,
		"orderBy": "dateCreated desc",
	}, overrides)
}

// ProjectTickets lists the tickets of one project. The membership filter is
// sent as the conditions string project/id=<N>.
func (c *Client) ProjectTickets(ctx context.Context, projectID int, overrides Params) ([]Ticket, error) {
	if err := positiveID("project", projectID); err != nil {
		return nil, err
	}
	return getList[Ticket](ctx, c, "project/tickets", Params{
		"conditions": "project/id=" + strconv.Itoa(projectID),
		"fields":     TicketFields,
		"orderBy":    "dateEntered desc",
	}, overrides)
}

func (c *Client) TimeEntries(ctx context.Context, overrides Params) ([]TimeEntry, error) {
	return getList[TimeEntry](ctx, c, "time/entries", Params{
		"fields":  TimeEntryFields,
		"orderBy": "timeStart desc",
	}, overrides)
}

// ChargedTimeEntries lists time entries charged to one project or ticket.
func (c *Client) ChargedTimeEntries(ctx context.Context, chargeType ChargeType, id int, overrides Params) ([]TimeEntry, error) {
	if err := positiveID(string(chargeType), id); err != nil {
		return nil, err
	}
	cond := fmt.Sprintf(`chargeToId=%d AND chargeToType="%s"`, id, chargeType)
	return c.TimeEntries(ctx, merge(Params{"conditions": cond}, overrides))
}

// Members lists active members.
func (c *Client) Members(ctx context.Context, overrides Params) ([]Member, error) {
	return getList[Member](ctx, c, "system/members", Params{
		"conditions": "inactiveFlag=false",
		"fields":     MemberFields,
		"orderBy":    "firstName asc",
	}, overrides)
}

// MembersByIdentifier looks up members by identifier token, active or not.
// An empty list returns no members without a request.
func (c *Client) MembersByIdentifier(ctx context.Context, identifiers []string) ([]Member, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}
	for _, id := range identifiers {
		if !MemberIdentifier.MatchString(id) {
			return nil, invalidArgument("member identifier %q", id)
		}
	}
	return getList[Member](ctx, c, "system/members", Params{
		"conditions": "identifier IN (" + strings.Join(identifiers, ",") + ")",
		"fields":     MemberFields,
		"orderBy":    "firstName asc",
		"pageSize":   max(len(identifiers), DefaultPageSize),
	}, nil)
}

func (c *Client) Tickets(ctx context.Context, overrides Params) ([]Ticket, error) {
	return getList[Ticket](ctx, c, "project/tickets", Params{
		"fields":  TicketFields,
		"orderBy": "dateEntered desc",
	}, overrides)
}

func (c *Client) Ticket(ctx context.Context, id int, overrides Params) (*Ticket, error) {
	if err := positiveID("ticket", id); err != nil {
		return nil, err
	}
	return getItem[Ticket](ctx, c, "project/tickets/"+strconv.Itoa(id), Params{
		"fields": TicketFields,
	}, overrides)
}

func (c *Client) TicketNotes(ctx context.Context, ticketID int, overrides Params) ([]Note, error) {
	if err := positiveID("ticket", ticketID); err != nil {
		return nil, err
	}
	return getList[Note](ctx, c, fmt.Sprintf("project/tickets/%d/allNotes", ticketID), Params{
		"fields":  NoteFields,
		"orderBy": "dateCreated desc",
	}, overrides)
}

func (c *Client) TicketTimeEntries(ctx context.Context, ticketID int, overrides Params) ([]TimeEntry, error) {
	if err := positiveID("ticket", ticketID); err != nil {
		return nil, err
	}
	return getList[TimeEntry](ctx, c, fmt.Sprintf("project/tickets/%d/timeentries", ticketID), Params{
		"fields":  TimeEntryFields,
		"orderBy": "timeStart desc",
	}, overrides)
}

// VerifyCredentials makes one cheap authenticated request.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	_, err := c.exec.Execute(ctx, http.MethodGet, "system/info", nil, nil)
	return err
}

// CollectPages calls fetch for pages 1, 2, ... until a page holds fewer than
// pageSize records. fetch receives the page number as an override to merge.
func CollectPages[T any](ctx context.Context, pageSize int, fetch func(ctx context.Context, page Params) ([]T, error)) ([]T, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []T
	for page := 1; ; page++ {
		items, err := fetch(ctx, Params{"page": page, "pageSize": pageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < pageSize {
			return all, nil
		}
	}
}

func getList[T any](ctx context.Context, c *Client, endpoint string, defaults, overrides Params) ([]T, error) {
	var out []T
	if err := c.get(ctx, endpoint, defaults, overrides, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func getItem[T any](ctx context.Context, c *Client, endpoint string, defaults, overrides Params) (*T, error) {
	out := new(T)
	if err := c.get(ctx, endpoint, defaults, overrides, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, defaults, overrides Params, dst any) error {
	resp, err := c.exec.Execute(ctx, http.MethodGet, endpoint, nil, BuildParams(defaults, overrides))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, dst); err != nil {
		return &RequestError{
			Kind:       ErrRequestFailed,
			Method:     http.MethodGet,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Attempts:   resp.Attempts,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

// merge returns a new Params with b's entries layered over a's.
func merge(a, b Params) Params {
	out := make(Params, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func positiveID(kind string, id int) error {
	if id <= 0 {
		return invalidArgument("%s id must be positive, got %d", kind, id)
	}
	return nil
}
