package cwclient

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"time"
)

// ErrInvalidRecord is returned by the Validate methods.
var ErrInvalidRecord = errors.New("cwclient: invalid record")

// BillingMethod is a project's billing arrangement.
type BillingMethod string

const (
	BillingActualRates BillingMethod = "ActualRates"
	BillingFixedFee    BillingMethod = "FixedFee"
	BillingNotToExceed BillingMethod = "NotToExceed"
)

// Valid reports whether b is one of the known methods. Empty is not valid.
func (b BillingMethod) Valid() bool {
	switch b {
	case BillingActualRates, BillingFixedFee, BillingNotToExceed:
		return true
	}
	return false
}

// Ref is the API's reference shape for nested records (status, manager,
// company, member, ...). Only the projected attributes are populated.
type Ref struct {
	ID         int    `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// Project is a project record.
type Project struct {
	ID              int           `json:"id"`
	Name            string        `json:"name"`
	Status          *Ref          `json:"status,omitempty"`
	Manager         *Ref          `json:"manager,omitempty"`
	Company         *Ref          `json:"company,omitempty"`
	EstimatedHours  *float64      `json:"estimatedHours,omitempty"`
	ActualHours     *float64      `json:"actualHours,omitempty"`
	ScheduledStart  *time.Time    `json:"scheduledStart,omitempty"`
	ScheduledFinish *time.Time    `json:"scheduledFinish,omitempty"`
	BillingMethod   BillingMethod `json:"billingMethod,omitempty"`
}

// Validate checks the record-level invariants.
func (p *Project) Validate() error {
	if err := nonNegative("estimatedHours", p.EstimatedHours); err != nil {
		return fmt.Errorf("project %d: %w", p.ID, err)
	}
	if err := nonNegative("actualHours", p.ActualHours); err != nil {
		return fmt.Errorf("project %d: %w", p.ID, err)
	}
	if p.ScheduledStart != nil && p.ScheduledFinish != nil && p.ScheduledFinish.Before(*p.ScheduledStart) {
		return fmt.Errorf("%w: project %d: scheduledFinish %s before scheduledStart %s",
			ErrInvalidRecord, p.ID, p.ScheduledFinish.Format(time.RFC3339), p.ScheduledStart.Format(time.RFC3339))
	}
	if p.BillingMethod != "" && !p.BillingMethod.Valid() {
		return fmt.Errorf("%w: project %d: unknown billingMethod %q", ErrInvalidRecord, p.ID, p.BillingMethod)
	}
	return nil
}

// Ticket is a project ticket.
type Ticket struct {
	ID             int        `json:"id"`
	Summary        string     `json:"summary"`
	Status         *Ref       `json:"status,omitempty"`
	Priority       *Ref       `json:"priority,omitempty"`
	Project        *Ref       `json:"project,omitempty"`
	AssignedTo     *Ref       `json:"assignedTo,omitempty"`
	DateEntered    *time.Time `json:"dateEntered,omitempty"`
	EstimatedHours *float64   `json:"estimatedHours,omitempty"`
	ActualHours    *float64   `json:"actualHours,omitempty"`
}

func (t *Ticket) Validate() error {
	if err := nonNegative("estimatedHours", t.EstimatedHours); err != nil {
		return fmt.Errorf("ticket %d: %w", t.ID, err)
	}
	if err := nonNegative("actualHours", t.ActualHours); err != nil {
		return fmt.Errorf("ticket %d: %w", t.ID, err)
	}
	return nil
}

// Note is a ticket or project note. Exactly one of TicketID and ProjectID is set.
type Note struct {
	ID                    int        `json:"id"`
	Text                  string     `json:"text"`
	DateCreated           *time.Time `json:"dateCreated,omitempty"`
	CreatedBy             string     `json:"createdBy,omitempty"`
	TicketID              int        `json:"ticketId,omitempty"`
	ProjectID             int        `json:"projectId,omitempty"`
	DetailDescriptionFlag bool       `json:"detailDescriptionFlag,omitempty"`
	InternalAnalysisFlag  bool       `json:"internalAnalysisFlag,omitempty"`
	ResolutionFlag        bool       `json:"resolutionFlag,omitempty"`
}

func (n *Note) Validate() error {
	if (n.TicketID > 0) == (n.ProjectID > 0) {
		return fmt.Errorf("%w: note %d: exactly one of ticketId and projectId must be set", ErrInvalidRecord, n.ID)
	}
	return nil
}

// TimeEntry is a block of logged work.
type TimeEntry struct {
	ID           int        `json:"id"`
	TimeStart    *time.Time `json:"timeStart,omitempty"`
	TimeEnd      *time.Time `json:"timeEnd,omitempty"`
	HoursWorked  float64    `json:"hoursWorked"`
	Notes        string     `json:"notes,omitempty"`
	Member       *Ref       `json:"member,omitempty"`
	ChargeToID   int        `json:"chargeToId,omitempty"`
	ChargeToType string     `json:"chargeToType,omitempty"`
}

func (e *TimeEntry) Validate() error {
	if e.TimeStart == nil {
		return fmt.Errorf("%w: time entry %d: timeStart is required", ErrInvalidRecord, e.ID)
	}
	if e.TimeEnd != nil && e.TimeEnd.Before(*e.TimeStart) {
		return fmt.Errorf("%w: time entry %d: timeEnd before timeStart", ErrInvalidRecord, e.ID)
	}
	if e.HoursWorked <= 0 || e.HoursWorked >= 24 {
		return fmt.Errorf("%w: time entry %d: hoursWorked %v outside (0, 24)", ErrInvalidRecord, e.ID, e.HoursWorked)
	}
	return nil
}

// MemberIdentifier matches a valid member identifier token.
var MemberIdentifier = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Member is a system member (staff user).
type Member struct {
	ID           int    `json:"id"`
	Identifier   string `json:"identifier"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	PrimaryEmail string `json:"primaryEmail,omitempty"`
	InactiveFlag bool   `json:"inactiveFlag"`
}

func (m *Member) Validate() error {
	if !MemberIdentifier.MatchString(m.Identifier) {
		return fmt.Errorf("%w: member %d: bad identifier %q", ErrInvalidRecord, m.ID, m.Identifier)
	}
	if m.PrimaryEmail != "" {
		if _, err := mail.ParseAddress(m.PrimaryEmail); err != nil {
			return fmt.Errorf("%w: member %q: bad email: %v", ErrInvalidRecord, m.Identifier, err)
		}
	}
	return nil
}

func nonNegative(field string, v *float64) error {
	if v != nil && *v < 0 {
		return fmt.Errorf("%w: %s is negative (%v)", ErrInvalidRecord, field, *v)
	}
	return nil
}
