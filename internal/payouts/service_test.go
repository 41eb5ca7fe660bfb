package payouts_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bensco/susu/internal/payouts"
	"github.com/bensco/susu/internal/savings"
	"github.com/bensco/susu/internal/shared"
	"github.com/bensco/susu/internal/testing/memstore"
)

var (
	admin     = shared.Actor{ID: uuid.New(), Role: shared.RoleAdmin}
	collector = shared.Actor{ID: uuid.New(), Role: shared.RoleCollector}
	now       = time.Date(2024, time.June, 3, 14, 0, 0, 0, time.UTC)
)

type fixture struct {
	db       *memstore.DB
	workflow *payouts.Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memstore.New()
	manager := savings.NewManager(db.Savings(), savings.Config{}, nil)
	manager.WithNow(func() time.Time { return now })
	w := payouts.NewWorkflow(db.Payouts(), manager, nil)
	w.WithNow(func() time.Time { return now })
	return &fixture{db: db, workflow: w}
}

func (f *fixture) cycle(status savings.Status) savings.Cycle {
	start := savings.Day(now.AddDate(0, 0, -31))
	c := savings.Cycle{
		ClientID:    uuid.New(),
		Status:      status,
		StartDate:   start,
		CycleLength: 31,
		TotalSaved:  decimal.NewFromInt(155),
	}
	if status != savings.StatusActive {
		end := savings.Day(now)
		c.EndDate = &end
	}
	return f.db.PutCycle(c)
}

func request(cycleID uuid.UUID) payouts.RequestInput {
	return payouts.RequestInput{
		CycleID:    cycleID,
		TotalPaid:  decimal.NewFromInt(155),
		Commission: decimal.NewFromInt(5),
		NetPayout:  decimal.NewFromInt(150),
	}
}

func (f *fixture) pending(t *testing.T) payouts.Payout {
	t.Helper()
	p, err := f.workflow.RequestPayout(context.Background(), request(f.cycle(savings.StatusClosed).ID), collector)
	require.NoError(t, err)
	return p
}

func TestRequestPayout(t *testing.T) {
	f := newFixture(t)
	cycle := f.cycle(savings.StatusClosed)

	p, err := f.workflow.RequestPayout(context.Background(), request(cycle.ID), collector)
	require.NoError(t, err)
	assert.Equal(t, payouts.StatusPending, p.Status)
	assert.Equal(t, cycle.ClientID, p.ClientID)
	assert.Equal(t, collector.ID, p.RequestedBy)
	assert.Equal(t, now, p.RequestedAt)
	assert.Nil(t, p.ApprovedBy)

	history, err := f.workflow.History(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, shared.ApprovalSubmit, history[0].Action)
	assert.Equal(t, payouts.ApprovalModule, history[0].Module)
}

func TestRequestPayoutRequiresClosedCycle(t *testing.T) {
	f := newFixture(t)
	for _, status := range []savings.Status{savings.StatusActive, savings.StatusPaidOut} {
		cycle := f.cycle(status)
		_, err := f.workflow.RequestPayout(context.Background(), request(cycle.ID), collector)
		assert.ErrorIs(t, err, shared.ErrStateConflict, string(status))
		assert.Zero(t, f.db.PayoutCount(cycle.ID))
	}

	_, err := f.workflow.RequestPayout(context.Background(), request(uuid.New()), collector)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRequestPayoutOncePerCycle(t *testing.T) {
	f := newFixture(t)
	cycle := f.cycle(savings.StatusClosed)
	ctx := context.Background()

	_, err := f.workflow.RequestPayout(ctx, request(cycle.ID), collector)
	require.NoError(t, err)
	_, err = f.workflow.RequestPayout(ctx, request(cycle.ID), admin)
	assert.ErrorIs(t, err, shared.ErrDuplicate)
	assert.Equal(t, 1, f.db.PayoutCount(cycle.ID))
}

// Transactions in memstore run one at a time, so the losing writers reach the
// one-payout-per-cycle check in sequence rather than truly in parallel.
func TestRequestPayoutConcurrentOncePerCycle(t *testing.T) {
	f := newFixture(t)
	cycle := f.cycle(savings.StatusClosed)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.workflow.RequestPayout(context.Background(), request(cycle.ID), collector)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, shared.ErrDuplicate)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.db.PayoutCount(cycle.ID))
}

func TestRequestPayoutValidatesAmounts(t *testing.T) {
	f := newFixture(t)
	in := request(f.cycle(savings.StatusClosed).ID)
	in.Commission = decimal.NewFromInt(10)

	_, err := f.workflow.RequestPayout(context.Background(), in, collector)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Zero(t, f.db.TxCount())
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	p := f.pending(t)

	approved, err := f.workflow.Approve(context.Background(), p.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, payouts.StatusApproved, approved.Status)
	assert.Equal(t, admin.ID, *approved.ApprovedBy)
	assert.Equal(t, now, *approved.ApprovedAt)
	assert.Equal(t, p.Version+1, approved.Version)
}

func TestApproveByCollectorIsDenied(t *testing.T) {
	f := newFixture(t)
	p := f.pending(t)

	_, err := f.workflow.Approve(context.Background(), p.ID, collector)
	require.ErrorIs(t, err, shared.ErrPermission)

	stored, _ := f.db.Payout(p.ID)
	assert.Equal(t, p, stored)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	p := f.pending(t)

	for _, reason := range []string{"", "   "} {
		_, err := f.workflow.Reject(context.Background(), p.ID, admin, reason)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	stored, _ := f.db.Payout(p.ID)
	assert.Equal(t, payouts.StatusPending, stored.Status)
	assert.Equal(t, p, stored)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	p := f.pending(t)

	rejected, err := f.workflow.Reject(context.Background(), p.ID, admin, "client absent")
	require.NoError(t, err)
	assert.Equal(t, payouts.StatusRejected, rejected.Status)
	assert.Equal(t, "client absent", *rejected.RejectionReason)
	assert.Equal(t, now, *rejected.RejectedAt)

	_, err = f.workflow.Approve(context.Background(), p.ID, admin)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestMarkPaidOnPendingConflicts(t *testing.T) {
	f := newFixture(t)
	p := f.pending(t)

	_, err := f.workflow.MarkPaid(context.Background(), p.ID, admin)
	require.ErrorIs(t, err, shared.ErrStateConflict)
	stored, _ := f.db.Payout(p.ID)
	assert.Equal(t, p, stored)
}

func TestStateIsCheckedBeforeRole(t *testing.T) {
	f := newFixture(t)
	p := f.pending(t)

	_, err := f.workflow.MarkPaid(context.Background(), p.ID, collector)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestMarkPaidSettlesCycle(t *testing.T) {
	f := newFixture(t)
	p := f.pending(t)
	ctx := context.Background()

	_, err := f.workflow.Approve(ctx, p.ID, admin)
	require.NoError(t, err)
	_, err = f.workflow.MarkPaid(ctx, p.ID, collector)
	require.ErrorIs(t, err, shared.ErrPermission)

	paid, err := f.workflow.MarkPaid(ctx, p.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, payouts.StatusPaid, paid.Status)
	assert.Equal(t, now, *paid.PaidAt)

	cycle, _ := f.db.Cycle(p.CycleID)
	assert.Equal(t, savings.StatusPaidOut, cycle.Status)
	assert.True(t, cycle.CommissionDeducted)

	history, err := f.workflow.History(ctx, p.ID)
	require.NoError(t, err)
	actions := make([]shared.ApprovalAction, 0, len(history))
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []shared.ApprovalAction{shared.ApprovalSubmit, shared.ApprovalApprove, shared.ApprovalPay}, actions)

	_, err = f.workflow.MarkPaid(ctx, p.ID, admin)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

// The loser sees the winner's status here. The version check itself is
// exercised by TestStaleVersionUpdateConflicts.
func TestConcurrentApproveAndRejectOneWins(t *testing.T) {
	f := newFixture(t)
	p := f.pending(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.workflow.Approve(context.Background(), p.ID, admin)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.workflow.Reject(context.Background(), p.ID, admin, "changed mind")
	}()
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, shared.ErrStateConflict)
	}
	assert.Equal(t, 1, wins)

	stored, _ := f.db.Payout(p.ID)
	if errs[0] == nil {
		assert.Equal(t, payouts.StatusApproved, stored.Status)
	} else {
		assert.Equal(t, payouts.StatusRejected, stored.Status)
	}
}

func TestStaleVersionUpdateConflicts(t *testing.T) {
	f := newFixture(t)
	p := f.pending(t)
	ctx := context.Background()

	_, err := f.workflow.Approve(ctx, p.ID, admin)
	require.NoError(t, err)

	stale := p
	stale.Status = payouts.StatusRejected
	_, err = f.db.Payouts().Update(ctx, stale)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestTransitionUnknownPayout(t *testing.T) {
	f := newFixture(t)
	_, err := f.workflow.Approve(context.Background(), uuid.New(), admin)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.workflow.History(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListPayouts(t *testing.T) {
	f := newFixture(t)
	first := f.pending(t)
	f.pending(t)
	ctx := context.Background()
	_, err := f.workflow.Approve(ctx, first.ID, admin)
	require.NoError(t, err)

	all, err := f.workflow.ListPayouts(ctx, payouts.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approved, err := f.workflow.ListPayouts(ctx, payouts.ListFilter{Status: payouts.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, first.ID, approved[0].ID)

	_, err = f.workflow.ListPayouts(ctx, payouts.ListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}
