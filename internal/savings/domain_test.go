package savings

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/bensco/susu/internal/clients"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDaysElapsed(t *testing.T) {
	start := date(2024, time.January, 1)
	assert.Equal(t, 0, DaysElapsed(start, start))
	assert.Equal(t, 0, DaysElapsed(start, start.Add(23*time.Hour)))
	assert.Equal(t, 31, DaysElapsed(start, date(2024, time.February, 1)))
	assert.Equal(t, 40, DaysElapsed(start, date(2024, time.February, 10)))
}

func TestEvaluateClosure(t *testing.T) {
	start := date(2024, time.January, 1)
	active := Cycle{ID: uuid.New(), Status: StatusActive, StartDate: start, CycleLength: 31}

	cases := []struct {
		name  string
		cycle Cycle
		days  int
		today time.Time
		want  ClosureTrigger
	}{
		{name: "fresh cycle stays open", cycle: active, days: 3, today: date(2024, time.January, 4), want: TriggerNone},
		{name: "funded", cycle: active, days: 31, today: date(2024, time.January, 20), want: TriggerContributions},
		{name: "over funded", cycle: active, days: 45, today: date(2024, time.January, 20), want: TriggerContributions},
		{name: "three days after forty elapsed", cycle: active, days: 3, today: date(2024, time.February, 10), want: TriggerElapsed},
		{name: "exactly cycle length elapsed", cycle: active, days: 0, today: date(2024, time.February, 1), want: TriggerElapsed},
		{name: "one day short", cycle: active, days: 30, today: date(2024, time.January, 31), want: TriggerNone},
		{name: "both hold prefers contributions", cycle: active, days: 31, today: date(2024, time.March, 1), want: TriggerContributions},
		{name: "closed cycle is a no-op", cycle: Cycle{Status: StatusClosed, StartDate: start, CycleLength: 31}, days: 99, today: date(2024, time.March, 1), want: TriggerNone},
		{name: "paid out cycle is a no-op", cycle: Cycle{Status: StatusPaidOut, StartDate: start, CycleLength: 31}, days: 99, today: date(2024, time.March, 1), want: TriggerNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluateClosure(tc.cycle, tc.days, tc.today))
		})
	}
}

func TestElapsedTriggerIgnoresContributions(t *testing.T) {
	c := Cycle{Status: StatusActive, StartDate: date(2024, time.January, 1), CycleLength: 31}
	assert.Equal(t, TriggerNone, ElapsedTrigger(c, date(2024, time.January, 15)))
	assert.Equal(t, TriggerElapsed, ElapsedTrigger(c, date(2024, time.February, 1)))
}

func TestLengthFor(t *testing.T) {
	override := 14
	assert.Equal(t, 14, LengthFor(clients.Client{CycleLength: &override}, 31))
	assert.Equal(t, 28, LengthFor(clients.Client{}, 28))
	assert.Equal(t, DefaultCycleLength, LengthFor(clients.Client{}, 0))
}

func TestNewCycle(t *testing.T) {
	collector := uuid.New()
	client := clients.Client{ID: uuid.New(), CollectorID: collector}
	c := NewCycle(client, 31, time.Date(2024, time.May, 3, 17, 45, 0, 0, time.UTC))

	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, date(2024, time.May, 3), c.StartDate)
	assert.Nil(t, c.EndDate)
	assert.True(t, c.TotalSaved.IsZero())
	if assert.NotNil(t, c.CollectorID) {
		assert.Equal(t, collector, *c.CollectorID)
	}
	assert.Equal(t, date(2024, time.June, 3), c.ExpectedEndDate())
}
