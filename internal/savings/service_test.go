package savings_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bensco/susu/internal/clients"
	"github.com/bensco/susu/internal/contributions"
	"github.com/bensco/susu/internal/savings"
	"github.com/bensco/susu/internal/shared"
	"github.com/bensco/susu/internal/testing/memstore"
)

var today = time.Date(2024, time.March, 10, 9, 30, 0, 0, time.UTC)

type closureCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *closureCounter) CycleClosed(trigger string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[trigger]++
}

func newManager(t *testing.T, repo savings.Repository, cfg savings.Config) *savings.Manager {
	t.Helper()
	m := savings.NewManager(repo, cfg, nil)
	m.WithNow(func() time.Time { return today })
	return m
}

func seedActive(db *memstore.DB, clientID uuid.UUID, start time.Time, length int) savings.Cycle {
	return db.PutCycle(savings.Cycle{
		ID:          uuid.New(),
		ClientID:    clientID,
		Status:      savings.StatusActive,
		StartDate:   savings.Day(start),
		CycleLength: length,
		TotalSaved:  decimal.Zero,
	})
}

func TestResolveActiveCycleOpensOnce(t *testing.T) {
	db := memstore.New()
	client := db.AddClient(clients.Client{Name: "Ama"})
	m := newManager(t, db.Savings(), savings.Config{})
	ctx := context.Background()

	first, err := m.ResolveActiveCycle(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, savings.StatusActive, first.Status)
	assert.Equal(t, savings.Day(today), first.StartDate)
	assert.Equal(t, savings.DefaultCycleLength, first.CycleLength)
	assert.Nil(t, first.EndDate)

	second, err := m.ResolveActiveCycle(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, db.ActiveCycles(client.ID))
}

func TestResolveActiveCycleHonoursClientLength(t *testing.T) {
	db := memstore.New()
	length := 14
	client := db.AddClient(clients.Client{Name: "Kofi", CycleLength: &length})
	m := newManager(t, db.Savings(), savings.Config{DefaultLength: 31})

	cycle, err := m.ResolveActiveCycle(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, 14, cycle.CycleLength)
}

// memstore serializes transactions, so no two workers ever race on insert.
// TestResolveActiveCycleRetriesLostCreationRace covers the unique-conflict path.
func TestResolveActiveCycleConcurrent(t *testing.T) {
	db := memstore.New()
	client := db.AddClient(clients.Client{Name: "Esi"})
	m := newManager(t, db.Savings(), savings.Config{})

	const workers = 16
	ids := make([]uuid.UUID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.ResolveActiveCycle(context.Background(), client)
			assert.NoError(t, err)
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, db.ActiveCycles(client.ID))
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

type lostRaceRepo struct {
	*memstore.SavingsRepository
	lost bool
}

type lostRaceStore struct {
	savings.Store
	repo *lostRaceRepo
}

func (s lostRaceStore) InsertCycle(ctx context.Context, c savings.Cycle) (savings.Cycle, error) {
	if !s.repo.lost {
		s.repo.lost = true
		return savings.Cycle{}, savings.ErrActiveCycleExists
	}
	return s.Store.InsertCycle(ctx, c)
}

func (r *lostRaceRepo) WithTx(ctx context.Context, fn func(context.Context, savings.Store) error) error {
	return r.SavingsRepository.WithTx(ctx, func(ctx context.Context, store savings.Store) error {
		return fn(ctx, lostRaceStore{Store: store, repo: r})
	})
}

func TestResolveActiveCycleRetriesLostCreationRace(t *testing.T) {
	db := memstore.New()
	client := db.AddClient(clients.Client{Name: "Yaw"})
	m := newManager(t, &lostRaceRepo{SavingsRepository: db.Savings()}, savings.Config{})

	cycle, err := m.ResolveActiveCycle(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, savings.StatusActive, cycle.Status)
	assert.Equal(t, 2, db.TxCount())
	assert.Equal(t, 1, db.ActiveCycles(client.ID))
}

func TestResolveActiveCycleRetriesSerializationFailure(t *testing.T) {
	db := memstore.New()
	client := db.AddClient(clients.Client{Name: "Akua"})
	m := newManager(t, db.Savings(), savings.Config{})
	db.FailTx(memstore.SerializationFailure(), memstore.SerializationFailure())

	_, err := m.ResolveActiveCycle(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, 3, db.TxCount())
}

func TestResolveActiveCycleExhaustsRetries(t *testing.T) {
	db := memstore.New()
	client := db.AddClient(clients.Client{Name: "Kwame"})
	m := newManager(t, db.Savings(), savings.Config{MaxAttempts: 3})
	db.FailTx(memstore.SerializationFailure(), memstore.SerializationFailure(), memstore.SerializationFailure())

	_, err := m.ResolveActiveCycle(context.Background(), client)
	require.ErrorIs(t, err, shared.ErrConcurrency)
	assert.Equal(t, 3, db.TxCount())
	assert.Zero(t, db.ActiveCycles(client.ID))
}

func TestResolveActiveCycleRejectsMissingClient(t *testing.T) {
	m := newManager(t, memstore.New().Savings(), savings.Config{})
	_, err := m.ResolveActiveCycle(context.Background(), clients.Client{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestEvaluateClosureElapsed(t *testing.T) {
	db := memstore.New()
	clientID := uuid.New()
	cycle := seedActive(db, clientID, today.AddDate(0, 0, -40), 31)
	observer := &closureCounter{}
	m := newManager(t, db.Savings(), savings.Config{})
	m.WithObserver(observer)
	ctx := context.Background()

	closed, err := m.EvaluateClosure(ctx, cycle.ID)
	require.NoError(t, err)
	assert.True(t, closed)

	stored, ok := db.Cycle(cycle.ID)
	require.True(t, ok)
	assert.Equal(t, savings.StatusClosed, stored.Status)
	require.NotNil(t, stored.EndDate)
	assert.Equal(t, savings.Day(today), *stored.EndDate)

	again, err := m.EvaluateClosure(ctx, cycle.ID)
	require.NoError(t, err)
	assert.False(t, again)
	unchanged, _ := db.Cycle(cycle.ID)
	assert.Equal(t, stored, unchanged)
	assert.Equal(t, map[string]int{"elapsed": 1}, observer.counts)
}

func TestEvaluateClosureFunded(t *testing.T) {
	db := memstore.New()
	clientID := uuid.New()
	cycle := seedActive(db, clientID, today.AddDate(0, 0, -1), 4)
	ctx := context.Background()
	_, err := db.Ledger().InsertContribution(ctx, contributions.Contribution{
		ID: uuid.New(), ClientID: clientID, CycleID: cycle.ID, Amount: decimal.NewFromInt(20), Date: today, DaysCovered: 4, IsBulk: true,
	})
	require.NoError(t, err)
	observer := &closureCounter{}
	m := newManager(t, db.Savings(), savings.Config{})
	m.WithObserver(observer)

	closed, err := m.EvaluateClosure(ctx, cycle.ID)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, map[string]int{"contributions": 1}, observer.counts)
}

func TestEvaluateClosureLeavesOpenCycle(t *testing.T) {
	db := memstore.New()
	cycle := seedActive(db, uuid.New(), today.AddDate(0, 0, -2), 31)
	m := newManager(t, db.Savings(), savings.Config{})

	closed, err := m.EvaluateClosure(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.False(t, closed)
	stored, _ := db.Cycle(cycle.ID)
	assert.Equal(t, savings.StatusActive, stored.Status)
}

func TestEvaluateClosureUnknownCycle(t *testing.T) {
	m := newManager(t, memstore.New().Savings(), savings.Config{})
	_, err := m.EvaluateClosure(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSweepExpiredCycles(t *testing.T) {
	db := memstore.New()
	expired := seedActive(db, uuid.New(), today.AddDate(0, 0, -40), 31)
	boundary := seedActive(db, uuid.New(), today.AddDate(0, 0, -31), 31)
	fresh := seedActive(db, uuid.New(), today.AddDate(0, 0, -3), 31)
	end := savings.Day(today.AddDate(0, 0, -1))
	alreadyClosed := db.PutCycle(savings.Cycle{
		ClientID: uuid.New(), Status: savings.StatusClosed, StartDate: savings.Day(today.AddDate(0, 0, -60)),
		EndDate: &end, CycleLength: 31,
	})
	observer := &closureCounter{}
	m := newManager(t, db.Savings(), savings.Config{SweepConcurrency: 2})
	m.WithObserver(observer)
	ctx := context.Background()

	count, err := m.SweepExpiredCycles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, id := range []uuid.UUID{expired.ID, boundary.ID} {
		c, _ := db.Cycle(id)
		assert.Equal(t, savings.StatusClosed, c.Status)
	}
	c, _ := db.Cycle(fresh.ID)
	assert.Equal(t, savings.StatusActive, c.Status)
	c, _ = db.Cycle(alreadyClosed.ID)
	assert.Equal(t, end, *c.EndDate)
	assert.Equal(t, map[string]int{"elapsed": 2}, observer.counts)

	count, err = m.SweepExpiredCycles(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSweepUsesElapsedConditionOnly(t *testing.T) {
	db := memstore.New()
	clientID := uuid.New()
	funded := seedActive(db, clientID, today.AddDate(0, 0, -2), 31)
	_, err := db.Ledger().InsertContribution(context.Background(), contributions.Contribution{
		ID: uuid.New(), ClientID: clientID, CycleID: funded.ID, Amount: decimal.NewFromInt(155), Date: today, DaysCovered: 31, IsBulk: true,
	})
	require.NoError(t, err)
	m := newManager(t, db.Savings(), savings.Config{})

	count, err := m.SweepExpiredCycles(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	c, _ := db.Cycle(funded.ID)
	assert.Equal(t, savings.StatusActive, c.Status)
}
