// Package savings owns the savings-cycle lifecycle: resolving the single active
// cycle per client and closing cycles once funded or expired.
package savings

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bensco/susu/internal/clients"
)

// Status enumerates cycle lifecycle stages. Transitions are monotonic:
// active -> closed -> paid_out.
type Status string

const (
	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
	StatusPaidOut Status = "paid_out"
)

// DefaultCycleLength is the number of days a cycle runs when neither policy
// nor client overrides it.
const DefaultCycleLength = 31

// ErrActiveCycleExists is reported by stores when inserting a second active
// cycle for a client. It signals a lost creation race.
var ErrActiveCycleExists = errors.New("savings: client already has an active cycle")

// Cycle is a bounded savings period for one client.
type Cycle struct {
	ID                 uuid.UUID       `json:"id"`
	ClientID           uuid.UUID       `json:"client_id"`
	CollectorID        *uuid.UUID      `json:"collector_id,omitempty"`
	Status             Status          `json:"status"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            *time.Time      `json:"end_date,omitempty"`
	CycleLength        int             `json:"cycle_length"`
	TotalSaved         decimal.Decimal `json:"total_saved"`
	CommissionDeducted bool            `json:"commission_deducted"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ExpectedEndDate is the date on which the cycle expires by time alone.
func (c Cycle) ExpectedEndDate() time.Time {
	return Day(c.StartDate).AddDate(0, 0, c.CycleLength)
}

// ClosureTrigger names the condition that closed a cycle.
type ClosureTrigger string

const (
	TriggerNone          ClosureTrigger = ""
	TriggerContributions ClosureTrigger = "contributions"
	TriggerElapsed       ClosureTrigger = "elapsed"
)

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysElapsed counts whole calendar days from start to today.
func DaysElapsed(start, today time.Time) int {
	return int(Day(today).Sub(Day(start)).Hours() / 24)
}

// EvaluateClosure decides whether an active cycle must close. Funded cycles
// win over expired ones when both hold.
func EvaluateClosure(c Cycle, contributedDays int, today time.Time) ClosureTrigger {
	if c.Status != StatusActive {
		return TriggerNone
	}
	if contributedDays >= c.CycleLength {
		return TriggerContributions
	}
	return ElapsedTrigger(c, today)
}

// ElapsedTrigger applies only the time-driven closure condition.
func ElapsedTrigger(c Cycle, today time.Time) ClosureTrigger {
	if c.Status != StatusActive {
		return TriggerNone
	}
	if DaysElapsed(c.StartDate, today) >= c.CycleLength {
		return TriggerElapsed
	}
	return TriggerNone
}

// LengthFor picks the cycle length for a client.
func LengthFor(client clients.Client, fallback int) int {
	if client.CycleLength != nil && *client.CycleLength > 0 {
		return *client.CycleLength
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultCycleLength
}

// NewCycle builds the snapshot of a freshly opened cycle.
func NewCycle(client clients.Client, length int, today time.Time) Cycle {
	c := Cycle{
		ID:          uuid.New(),
		ClientID:    client.ID,
		Status:      StatusActive,
		StartDate:   Day(today),
		CycleLength: length,
		TotalSaved:  decimal.Zero,
	}
	if client.CollectorID != uuid.Nil {
		collector := client.CollectorID
		c.CollectorID = &collector
	}
	return c
}
