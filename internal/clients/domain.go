// Package clients exposes read-only access to the external client registry.
package clients

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client identifies a saver served by a collector.
type Client struct {
	ID              uuid.UUID        `json:"id"`
	Code            string           `json:"code"`
	Name            string           `json:"name"`
	CollectorID     uuid.UUID        `json:"collector_id"`
	DailyAmount     *decimal.Decimal `json:"daily_amount,omitempty"`
	IsFixedSchedule bool             `json:"is_fixed_schedule"`
	StartDate       time.Time        `json:"start_date"`
	// CycleLength overrides the policy default when set.
	CycleLength *int `json:"cycle_length,omitempty"`
}

// HasDailySchedule reports whether contributions can be mapped to day counts.
func (c Client) HasDailySchedule() bool {
	return c.IsFixedSchedule && c.DailyAmount != nil && c.DailyAmount.IsPositive()
}
