package contributions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bensco/susu/internal/clients"
	"github.com/bensco/susu/internal/savings"
	"github.com/bensco/susu/internal/shared"
)

// ClientLookup resolves client attributes from the registry.
type ClientLookup interface {
	Get(ctx context.Context, id uuid.UUID) (clients.Client, error)
}

// Ledger records contributions and drives cycle closure after every append.
type Ledger struct {
	repo    Repository
	clients ClientLookup
	cycles  *savings.Manager
	logger  *slog.Logger
}

// NewLedger wires the ledger dependencies.
func NewLedger(repo Repository, clientLookup ClientLookup, cycles *savings.Manager, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, clients: clientLookup, cycles: cycles, logger: logger}
}

type closure struct {
	cycle   savings.Cycle
	trigger savings.ClosureTrigger
}

// RecordContribution appends one contribution. Cycle resolution, the append and
// the closure check commit together or not at all.
func (l *Ledger) RecordContribution(ctx context.Context, in RecordInput) (RecordResult, error) {
	if err := in.Validate(); err != nil {
		return RecordResult{}, err
	}
	client, err := l.lookupClient(ctx, in.ClientID)
	if err != nil {
		return RecordResult{}, err
	}
	var (
		result RecordResult
		closed closure
	)
	err = l.cycles.Retry(ctx, "record contribution", func() error {
		return l.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			var err error
			result, closed, err = l.apply(ctx, tx, client, in)
			return err
		})
	})
	if err != nil {
		return RecordResult{}, err
	}
	l.cycles.NotifyClosed(closed.cycle, closed.trigger)
	l.logger.Info("contribution recorded",
		slog.String("contribution_id", result.Contribution.ID.String()),
		slog.String("client_id", client.ID.String()),
		slog.String("cycle_id", result.Contribution.CycleID.String()),
		slog.Int("days_covered", result.Contribution.DaysCovered))
	return result, nil
}

// RecordContributionsBatch applies entries in order inside one transaction.
// Every entry is validated before anything is written; a single failure
// commits nothing.
func (l *Ledger) RecordContributionsBatch(ctx context.Context, entries []RecordInput) ([]RecordResult, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", shared.ErrValidation)
	}
	resolved := make([]clients.Client, len(entries))
	cache := make(map[uuid.UUID]clients.Client)
	var problems []error
	for i, in := range entries {
		if err := in.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		client, ok := cache[in.ClientID]
		if !ok {
			var err error
			client, err = l.lookupClient(ctx, in.ClientID)
			if err != nil {
				if !errors.Is(err, shared.ErrValidation) {
					return nil, err
				}
				problems = append(problems, fmt.Errorf("entry %d: %w", i, err))
				continue
			}
			cache[in.ClientID] = client
		}
		resolved[i] = client
	}
	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}

	var (
		results  []RecordResult
		closures []closure
	)
	err := l.cycles.Retry(ctx, "record contribution batch", func() error {
		results = make([]RecordResult, 0, len(entries))
		closures = closures[:0]
		return l.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			for i, in := range entries {
				result, closed, err := l.apply(ctx, tx, resolved[i], in)
				if err != nil {
					return fmt.Errorf("entry %d: %w", i, err)
				}
				results = append(results, result)
				closures = append(closures, closed)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, c := range closures {
		l.cycles.NotifyClosed(c.cycle, c.trigger)
	}
	l.logger.Info("contribution batch recorded", slog.Int("entries", len(results)))
	return results, nil
}

// ListClientContributions returns a client's contributions, newest first.
func (l *Ledger) ListClientContributions(ctx context.Context, clientID uuid.UUID) ([]Contribution, error) {
	if _, err := l.clients.Get(ctx, clientID); err != nil {
		return nil, err
	}
	return l.repo.ListByClient(ctx, clientID)
}

// ListCycleContributions returns the contributions linked to a cycle in ledger order.
func (l *Ledger) ListCycleContributions(ctx context.Context, cycleID uuid.UUID) ([]Contribution, error) {
	if _, err := l.cycles.GetCycle(ctx, cycleID); err != nil {
		return nil, err
	}
	return l.repo.ListByCycle(ctx, cycleID)
}

func (l *Ledger) apply(ctx context.Context, tx TxStore, client clients.Client, in RecordInput) (RecordResult, closure, error) {
	cycles := tx.Cycles()
	cycle, err := l.cycles.ResolveActiveCycleTx(ctx, cycles, client)
	if err != nil {
		return RecordResult{}, closure{}, err
	}
	coverage, err := ComputeCoverage(client, in.Amount, in.Override, in.ExplicitDays)
	if err != nil {
		return RecordResult{}, closure{}, err
	}
	date := l.cycles.Today()
	if !in.Date.IsZero() {
		date = savings.Day(in.Date)
	}
	collector := in.CollectorID
	if collector == nil && client.CollectorID != uuid.Nil {
		id := client.CollectorID
		collector = &id
	}
	created, err := tx.InsertContribution(ctx, Contribution{
		ID:          uuid.New(),
		ClientID:    client.ID,
		CollectorID: collector,
		CycleID:     cycle.ID,
		Amount:      in.Amount,
		Date:        date,
		DaysCovered: coverage.Days,
		IsBulk:      coverage.IsBulk,
		IsOverride:  in.Override,
		Note:        in.Note,
	})
	if err != nil {
		return RecordResult{}, closure{}, err
	}
	if err := cycles.AddToTotal(ctx, cycle.ID, in.Amount); err != nil {
		return RecordResult{}, closure{}, err
	}
	trigger, err := l.cycles.EvaluateClosureTx(ctx, cycles, cycle)
	if err != nil {
		return RecordResult{}, closure{}, err
	}
	return RecordResult{Contribution: created, CycleClosed: trigger != savings.TriggerNone},
		closure{cycle: cycle, trigger: trigger}, nil
}

func (l *Ledger) lookupClient(ctx context.Context, id uuid.UUID) (clients.Client, error) {
	client, err := l.clients.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return clients.Client{}, fmt.Errorf("%w: unknown client %s", shared.ErrValidation, id)
		}
		return clients.Client{}, err
	}
	return client, nil
}
