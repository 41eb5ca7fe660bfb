// Package contributions is the append-only ledger of client payments toward
// savings cycles.
package contributions

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bensco/susu/internal/clients"
	"github.com/bensco/susu/internal/shared"
)

// Contribution is an immutable ledger entry.
type Contribution struct {
	ID          uuid.UUID       `json:"id"`
	ClientID    uuid.UUID       `json:"client_id"`
	CollectorID *uuid.UUID      `json:"collector_id,omitempty"`
	CycleID     uuid.UUID       `json:"savings_cycle_id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	DaysCovered int             `json:"days_covered"`
	IsBulk      bool            `json:"is_bulk"`
	IsOverride  bool            `json:"is_override"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RecordInput carries one contribution request.
type RecordInput struct {
	ClientID     uuid.UUID
	CollectorID  *uuid.UUID
	Amount       decimal.Decimal
	Date         time.Time
	Override     bool
	ExplicitDays *int
	Note         string
}

// Validate checks the request shape without touching storage.
func (in RecordInput) Validate() error {
	if in.ClientID == uuid.Nil {
		return fmt.Errorf("%w: client id required", shared.ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if err := shared.CheckAmountScale("amount", in.Amount); err != nil {
		return err
	}
	if in.ExplicitDays != nil {
		if !in.Override {
			return fmt.Errorf("%w: days_covered is only accepted with override", shared.ErrValidation)
		}
		if err := checkDays(*in.ExplicitDays); err != nil {
			return err
		}
	}
	if len(strings.TrimSpace(in.Note)) > 500 {
		return fmt.Errorf("%w: note too long", shared.ErrValidation)
	}
	return nil
}

// RecordResult is a persisted contribution and whether it closed its cycle.
type RecordResult struct {
	Contribution Contribution `json:"contribution"`
	CycleClosed  bool         `json:"cycle_closed"`
}

// Coverage is the number of scheduled days a payment satisfies.
type Coverage struct {
	Days   int
	IsBulk bool
}

// MaxDaysCovered bounds a single contribution to ten years of daily payments.
const MaxDaysCovered = 3660

func checkDays(days int) error {
	if days < 1 {
		return fmt.Errorf("%w: days_covered must be at least 1", shared.ErrValidation)
	}
	if days > MaxDaysCovered {
		return fmt.Errorf("%w: days_covered cannot exceed %d", shared.ErrValidation, MaxDaysCovered)
	}
	return nil
}

// ComputeCoverage maps an amount onto the client's daily schedule. An override
// trusts the caller's day count and skips the schedule entirely.
func ComputeCoverage(client clients.Client, amount decimal.Decimal, override bool, explicitDays *int) (Coverage, error) {
	if override {
		days := 1
		if explicitDays != nil {
			if err := checkDays(*explicitDays); err != nil {
				return Coverage{}, err
			}
			days = *explicitDays
		}
		return Coverage{Days: days, IsBulk: days > 1}, nil
	}
	if client.HasDailySchedule() && amount.GreaterThanOrEqual(*client.DailyAmount) {
		whole := amount.Div(*client.DailyAmount).Floor()
		if whole.GreaterThan(decimal.NewFromInt(MaxDaysCovered)) {
			return Coverage{}, fmt.Errorf("%w: amount covers more than %d days", shared.ErrValidation, MaxDaysCovered)
		}
		days := int(whole.IntPart())
		return Coverage{Days: days, IsBulk: days > 1}, nil
	}
	return Coverage{Days: 1}, nil
}
