// Package payouts runs the approval pipeline that disburses closed savings cycles.
package payouts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bensco/susu/internal/shared"
)

// Status enumerates payout states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusPaid     Status = "paid"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusPaid
}

// Action is a transition request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionPay     Action = "pay"
)

var transitions = map[Status]map[Action]Status{
	StatusPending:  {ActionApprove: StatusApproved, ActionReject: StatusRejected},
	StatusApproved: {ActionPay: StatusPaid},
}

// Next returns the state reached by applying action to current.
func Next(current Status, action Action) (Status, error) {
	if next, ok := transitions[current][action]; ok {
		return next, nil
	}
	return "", fmt.Errorf("%w: cannot %s a %s payout", shared.ErrStateConflict, action, current)
}

// Payout is a disbursement request tied to exactly one closed cycle.
type Payout struct {
	ID              uuid.UUID       `json:"id"`
	ClientID        uuid.UUID       `json:"client_id"`
	CycleID         uuid.UUID       `json:"cycle_id"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	Commission      decimal.Decimal `json:"commission"`
	NetPayout       decimal.Decimal `json:"net_payout"`
	Status          Status          `json:"status"`
	RequestedBy     uuid.UUID       `json:"requested_by"`
	ApprovedBy      *uuid.UUID      `json:"approved_by,omitempty"`
	RequestedAt     time.Time       `json:"requested_at"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	Version         int             `json:"version"`
}

// Apply returns a copy of p moved through action by actor at the given instant.
// p itself is never modified.
func Apply(p Payout, action Action, actor uuid.UUID, reason string, at time.Time) (Payout, error) {
	next, err := Next(p.Status, action)
	if err != nil {
		return Payout{}, err
	}
	out := p
	out.Status = next
	by := actor
	switch action {
	case ActionApprove:
		out.ApprovedBy = &by
		out.ApprovedAt = &at
	case ActionReject:
		r := strings.TrimSpace(reason)
		out.ApprovedBy = &by
		out.RejectedAt = &at
		out.RejectionReason = &r
	case ActionPay:
		out.PaidAt = &at
	}
	return out, nil
}

// RequestInput carries the amounts of a payout request.
type RequestInput struct {
	CycleID    uuid.UUID
	TotalPaid  decimal.Decimal
	Commission decimal.Decimal
	NetPayout  decimal.Decimal
}

// Validate checks the amounts balance.
func (in RequestInput) Validate() error {
	switch {
	case in.CycleID == uuid.Nil:
		return fmt.Errorf("%w: cycle id required", shared.ErrValidation)
	case !in.TotalPaid.IsPositive():
		return fmt.Errorf("%w: total_paid must be positive", shared.ErrValidation)
	case in.Commission.IsNegative():
		return fmt.Errorf("%w: commission cannot be negative", shared.ErrValidation)
	case in.NetPayout.IsNegative():
		return fmt.Errorf("%w: net_payout cannot be negative", shared.ErrValidation)
	}
	for _, amount := range []struct {
		field string
		value decimal.Decimal
	}{{"total_paid", in.TotalPaid}, {"commission", in.Commission}, {"net_payout", in.NetPayout}} {
		if err := shared.CheckAmountScale(amount.field, amount.value); err != nil {
			return err
		}
	}
	if !in.NetPayout.Add(in.Commission).Equal(in.TotalPaid) {
		return fmt.Errorf("%w: net_payout plus commission must equal total_paid", shared.ErrValidation)
	}
	return nil
}

// ListFilter narrows ListPayouts.
type ListFilter struct {
	Status   Status
	ClientID *uuid.UUID
	Limit    int
}
