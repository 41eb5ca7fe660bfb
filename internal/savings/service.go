package savings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bensco/susu/internal/clients"
	"github.com/bensco/susu/internal/platform/db"
	"github.com/bensco/susu/internal/shared"
)

// Config tunes the Manager.
type Config struct {
	DefaultLength    int
	MaxAttempts      int
	SweepConcurrency int
}

// ClosureObserver is notified whenever a cycle closes.
type ClosureObserver interface {
	CycleClosed(trigger string)
}

// Manager orchestrates the cycle lifecycle.
type Manager struct {
	repo     Repository
	cfg      Config
	logger   *slog.Logger
	observer ClosureObserver
	now      func() time.Time
}

// NewManager constructs a Manager. Zero config fields take built-in defaults.
func NewManager(repo Repository, cfg Config, logger *slog.Logger) *Manager {
	if cfg.DefaultLength <= 0 {
		cfg.DefaultLength = DefaultCycleLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (m *Manager) WithNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// WithObserver registers a closure observer such as a metrics recorder.
func (m *Manager) WithObserver(o ClosureObserver) {
	m.observer = o
}

// Today returns the current calendar day according to the manager's clock.
func (m *Manager) Today() time.Time {
	return Day(m.now())
}

// Retry runs fn until it succeeds, fails with a non-contention error, or the
// attempt budget is spent. Exhaustion is reported as shared.ErrConcurrency.
func (m *Manager) Retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil || !IsContention(lastErr) {
			return lastErr
		}
		m.logger.Debug("retrying contended operation",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr))
	}
	return fmt.Errorf("%w: %s gave up after %d attempts: %v", shared.ErrConcurrency, op, m.cfg.MaxAttempts, lastErr)
}

// IsContention reports whether err stems from losing a race that a fresh
// attempt may win.
func IsContention(err error) bool {
	return errors.Is(err, ErrActiveCycleExists) || db.IsRetryable(err)
}

// ResolveActiveCycle returns the client's active cycle, opening one when none exists.
func (m *Manager) ResolveActiveCycle(ctx context.Context, client clients.Client) (Cycle, error) {
	var cycle Cycle
	err := m.Retry(ctx, "resolve active cycle", func() error {
		return m.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
			var err error
			cycle, err = m.ResolveActiveCycleTx(ctx, store, client)
			return err
		})
	})
	if err != nil {
		return Cycle{}, err
	}
	return cycle, nil
}

// ResolveActiveCycleTx resolves the active cycle inside the caller's
// transaction. The returned cycle row stays locked until that transaction ends.
// A lost creation race surfaces as ErrActiveCycleExists; the caller must retry
// in a fresh transaction.
func (m *Manager) ResolveActiveCycleTx(ctx context.Context, store Store, client clients.Client) (Cycle, error) {
	if client.ID == uuid.Nil {
		return Cycle{}, fmt.Errorf("%w: client id required", shared.ErrValidation)
	}
	cycle, err := store.ActiveCycleForUpdate(ctx, client.ID)
	if err == nil {
		return cycle, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Cycle{}, err
	}
	created, err := store.InsertCycle(ctx, NewCycle(client, LengthFor(client, m.cfg.DefaultLength), m.Today()))
	if err != nil {
		return Cycle{}, err
	}
	m.logger.Info("savings cycle opened",
		slog.String("cycle_id", created.ID.String()),
		slog.String("client_id", client.ID.String()),
		slog.Int("cycle_length", created.CycleLength))
	return created, nil
}

// EvaluateClosure re-checks a cycle and closes it when funded or expired.
// It returns true only when this call performed the closure.
func (m *Manager) EvaluateClosure(ctx context.Context, cycleID uuid.UUID) (bool, error) {
	var (
		cycle   Cycle
		trigger ClosureTrigger
	)
	err := m.Retry(ctx, "evaluate closure", func() error {
		return m.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
			var err error
			cycle, err = store.GetCycleForUpdate(ctx, cycleID)
			if err != nil {
				return err
			}
			trigger, err = m.EvaluateClosureTx(ctx, store, cycle)
			return err
		})
	})
	if err != nil {
		return false, err
	}
	m.NotifyClosed(cycle, trigger)
	return trigger != TriggerNone, nil
}

// EvaluateClosureTx is EvaluateClosure inside the caller's transaction. It
// returns TriggerNone when the cycle stays open. Callers report the closure
// through NotifyClosed once their transaction has committed.
func (m *Manager) EvaluateClosureTx(ctx context.Context, store Store, cycle Cycle) (ClosureTrigger, error) {
	if cycle.Status != StatusActive {
		return TriggerNone, nil
	}
	days, err := store.ContributedDays(ctx, cycle.ID)
	if err != nil {
		return TriggerNone, err
	}
	today := m.Today()
	trigger := EvaluateClosure(cycle, days, today)
	if trigger == TriggerNone {
		return TriggerNone, nil
	}
	ok, err := store.CloseCycle(ctx, cycle.ID, today)
	if err != nil || !ok {
		return TriggerNone, err
	}
	return trigger, nil
}

// NotifyClosed logs and counts a committed closure. TriggerNone is ignored.
func (m *Manager) NotifyClosed(cycle Cycle, trigger ClosureTrigger) {
	if trigger == TriggerNone {
		return
	}
	if m.observer != nil {
		m.observer.CycleClosed(string(trigger))
	}
	m.logger.Info("savings cycle closed",
		slog.String("cycle_id", cycle.ID.String()),
		slog.String("client_id", cycle.ClientID.String()),
		slog.String("trigger", string(trigger)))
}

// SweepExpiredCycles closes every active cycle whose calendar length has run
// out, regardless of contributions. Safe alongside live traffic.
func (m *Manager) SweepExpiredCycles(ctx context.Context) (int, error) {
	today := m.Today()
	candidates, err := m.repo.ListExpiredActive(ctx, today)
	if err != nil {
		return 0, err
	}
	var closed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.SweepConcurrency)
	for _, candidate := range candidates {
		id := candidate.ID
		g.Go(func() error {
			ok, err := m.closeIfElapsed(gctx, id, today)
			if err != nil {
				return fmt.Errorf("savings: sweep cycle %s: %w", id, err)
			}
			if ok {
				closed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	count := int(closed.Load())
	m.logger.Info("expired cycle sweep finished",
		slog.Int("candidates", len(candidates)),
		slog.Int("closed", count))
	return count, err
}

func (m *Manager) closeIfElapsed(ctx context.Context, id uuid.UUID, today time.Time) (bool, error) {
	var (
		cycle  Cycle
		closed bool
	)
	err := m.Retry(ctx, "sweep close", func() error {
		closed = false
		return m.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
			var err error
			cycle, err = store.GetCycleForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if ElapsedTrigger(cycle, today) == TriggerNone {
				return nil
			}
			closed, err = store.CloseCycle(ctx, id, today)
			return err
		})
	})
	if err != nil {
		return false, err
	}
	if closed {
		m.NotifyClosed(cycle, TriggerElapsed)
	}
	return closed, nil
}

// GetCycle returns a single cycle.
func (m *Manager) GetCycle(ctx context.Context, id uuid.UUID) (Cycle, error) {
	return m.repo.GetCycle(ctx, id)
}

// ListClientCycles returns a client's cycles, newest first.
func (m *Manager) ListClientCycles(ctx context.Context, clientID uuid.UUID) ([]Cycle, error) {
	return m.repo.ListByClient(ctx, clientID)
}
