// Package memstore is an in-memory stand-in for the PostgreSQL repositories.
// Transactions are serialised and roll back on error, which is enough to
// exercise the services' atomicity and retry paths without a database.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/bensco/susu/internal/clients"
	"github.com/bensco/susu/internal/contributions"
	"github.com/bensco/susu/internal/payouts"
	"github.com/bensco/susu/internal/savings"
	"github.com/bensco/susu/internal/shared"
	"github.com/bensco/susu/internal/users"
)

// SerializationFailure mimics PostgreSQL aborting a contended transaction.
func SerializationFailure() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
}

type state struct {
	clients       map[uuid.UUID]clients.Client
	users         map[uuid.UUID]users.User
	cycles        map[uuid.UUID]savings.Cycle
	contributions []contributions.Contribution
	payouts       map[uuid.UUID]payouts.Payout
	approvals     []shared.ApprovalLog
}

func (s state) clone() state {
	out := state{
		clients:       make(map[uuid.UUID]clients.Client, len(s.clients)),
		users:         make(map[uuid.UUID]users.User, len(s.users)),
		cycles:        make(map[uuid.UUID]savings.Cycle, len(s.cycles)),
		contributions: append([]contributions.Contribution(nil), s.contributions...),
		payouts:       make(map[uuid.UUID]payouts.Payout, len(s.payouts)),
		approvals:     append([]shared.ApprovalLog(nil), s.approvals...),
	}
	for k, v := range s.clients {
		out.clients[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.cycles {
		out.cycles[k] = v
	}
	for k, v := range s.payouts {
		out.payouts[k] = v
	}
	return out
}

// DB holds every table in memory.
type DB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	state        state
	txFaults     []error
	insertFaults map[int]error
	inserts      int
	txCount      int
	approvalSeq  int64
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		state: state{
			clients: map[uuid.UUID]clients.Client{},
			users:   map[uuid.UUID]users.User{},
			cycles:  map[uuid.UUID]savings.Cycle{},
			payouts: map[uuid.UUID]payouts.Payout{},
		},
		insertFaults: map[int]error{},
	}
}

// FailTx makes the next len(errs) transactions fail with the given errors
// before running their body.
func (d *DB) FailTx(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txFaults = append(d.txFaults, errs...)
}

// FailContributionInsert makes the n-th contribution insert from now fail with err.
func (d *DB) FailContributionInsert(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insertFaults[d.inserts+n] = err
}

// TxCount reports how many transactions were started, failed ones included.
func (d *DB) TxCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txCount
}

// tx runs fn as a fully serialized transaction. Concurrent callers never
// interleave, so contention paths need FailTx or a wrapping store to reach.
func (d *DB) tx(fn func() error) error {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	d.mu.Lock()
	d.txCount++
	if len(d.txFaults) > 0 {
		err := d.txFaults[0]
		d.txFaults = d.txFaults[1:]
		d.mu.Unlock()
		return err
	}
	snapshot := d.state.clone()
	d.mu.Unlock()

	if err := fn(); err != nil {
		d.mu.Lock()
		d.state = snapshot
		d.mu.Unlock()
		return err
	}
	return nil
}

// AddClient seeds a client.
func (d *DB) AddClient(c clients.Client) clients.Client {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.clients[c.ID] = c
	return c
}

// AddUser seeds a user.
func (d *DB) AddUser(u users.User) users.User {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.users[u.ID] = u
	return u
}

// PutCycle stores a cycle as-is, replacing any cycle with the same id.
func (d *DB) PutCycle(c savings.Cycle) savings.Cycle {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.cycles[c.ID] = c
	return c
}

// Cycle returns the stored cycle.
func (d *DB) Cycle(id uuid.UUID) (savings.Cycle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.state.cycles[id]
	return c, ok
}

// ActiveCycles counts active cycles of a client.
func (d *DB) ActiveCycles(clientID uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.state.cycles {
		if c.ClientID == clientID && c.Status == savings.StatusActive {
			n++
		}
	}
	return n
}

// Contributions returns every stored contribution in insertion order.
func (d *DB) Contributions() []contributions.Contribution {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]contributions.Contribution(nil), d.state.contributions...)
}

// Payout returns the stored payout.
func (d *DB) Payout(id uuid.UUID) (payouts.Payout, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.state.payouts[id]
	return p, ok
}

// PayoutCount returns how many payouts reference the cycle.
func (d *DB) PayoutCount(cycleID uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.state.payouts {
		if p.CycleID == cycleID {
			n++
		}
	}
	return n
}

// Clients exposes the client directory.
func (d *DB) Clients() ClientDirectory { return ClientDirectory{db: d} }

// Users exposes the user store.
func (d *DB) Users() UserStore { return UserStore{db: d} }

// Savings exposes the cycle repository.
func (d *DB) Savings() *SavingsRepository {
	return &SavingsRepository{cycleStore: cycleStore{db: d}}
}

// Ledger exposes the contribution repository.
func (d *DB) Ledger() *ContributionRepository {
	return &ContributionRepository{contributionStore: contributionStore{db: d}}
}

// Payouts exposes the payout repository.
func (d *DB) Payouts() *PayoutRepository {
	return &PayoutRepository{payoutStore: payoutStore{db: d}}
}

// ClientDirectory implements client lookups.
type ClientDirectory struct{ db *DB }

func (c ClientDirectory) Get(_ context.Context, id uuid.UUID) (clients.Client, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	client, ok := c.db.state.clients[id]
	if !ok {
		return clients.Client{}, fmt.Errorf("%w: client %s", shared.ErrNotFound, id)
	}
	return client, nil
}

// UserStore implements users.RepositoryPort.
type UserStore struct{ db *DB }

func (u UserStore) GetUser(_ context.Context, id uuid.UUID) (users.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	user, ok := u.db.state.users[id]
	if !ok {
		return users.User{}, fmt.Errorf("%w: user %s", shared.ErrNotFound, id)
	}
	return user, nil
}

// SavingsRepository implements savings.Repository.
type SavingsRepository struct{ cycleStore }

func (r *SavingsRepository) WithTx(ctx context.Context, fn func(context.Context, savings.Store) error) error {
	return r.db.tx(func() error { return fn(ctx, r.cycleStore) })
}

type cycleStore struct{ db *DB }

func (s cycleStore) ActiveCycleForUpdate(_ context.Context, clientID uuid.UUID) (savings.Cycle, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.state.cycles {
		if c.ClientID == clientID && c.Status == savings.StatusActive {
			return c, nil
		}
	}
	return savings.Cycle{}, fmt.Errorf("%w: no active cycle for client %s", shared.ErrNotFound, clientID)
}

func (s cycleStore) InsertCycle(_ context.Context, c savings.Cycle) (savings.Cycle, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.state.cycles {
		if existing.ClientID == c.ClientID && existing.Status == savings.StatusActive {
			return savings.Cycle{}, savings.ErrActiveCycleExists
		}
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.db.state.cycles[c.ID] = c
	return c, nil
}

func (s cycleStore) GetCycle(_ context.Context, id uuid.UUID) (savings.Cycle, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.state.cycles[id]
	if !ok {
		return savings.Cycle{}, fmt.Errorf("%w: cycle %s", shared.ErrNotFound, id)
	}
	return c, nil
}

func (s cycleStore) GetCycleForUpdate(ctx context.Context, id uuid.UUID) (savings.Cycle, error) {
	return s.GetCycle(ctx, id)
}

func (s cycleStore) ContributedDays(_ context.Context, cycleID uuid.UUID) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	total := 0
	for _, c := range s.db.state.contributions {
		if c.CycleID == cycleID {
			total += c.DaysCovered
		}
	}
	return total, nil
}

func (s cycleStore) AddToTotal(_ context.Context, cycleID uuid.UUID, amount decimal.Decimal) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.state.cycles[cycleID]
	if !ok {
		return fmt.Errorf("%w: cycle %s", shared.ErrNotFound, cycleID)
	}
	c.TotalSaved = c.TotalSaved.Add(amount)
	s.db.state.cycles[cycleID] = c
	return nil
}

func (s cycleStore) CloseCycle(_ context.Context, id uuid.UUID, endDate time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.state.cycles[id]
	if !ok || c.Status != savings.StatusActive {
		return false, nil
	}
	end := savings.Day(endDate)
	c.Status = savings.StatusClosed
	c.EndDate = &end
	s.db.state.cycles[id] = c
	return true, nil
}

func (s cycleStore) MarkPaidOut(_ context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.state.cycles[id]
	if !ok || c.Status != savings.StatusClosed {
		return fmt.Errorf("%w: cycle %s is not closed", shared.ErrStateConflict, id)
	}
	c.Status = savings.StatusPaidOut
	c.CommissionDeducted = true
	s.db.state.cycles[id] = c
	return nil
}

func (s cycleStore) ListExpiredActive(_ context.Context, today time.Time) ([]savings.Cycle, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []savings.Cycle
	for _, c := range s.db.state.cycles {
		if c.Status == savings.StatusActive && !c.ExpectedEndDate().After(savings.Day(today)) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s cycleStore) ListByClient(_ context.Context, clientID uuid.UUID) ([]savings.Cycle, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []savings.Cycle
	for _, c := range s.db.state.cycles {
		if c.ClientID == clientID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ContributionRepository implements contributions.Repository.
type ContributionRepository struct{ contributionStore }

func (r *ContributionRepository) WithTx(ctx context.Context, fn func(context.Context, contributions.TxStore) error) error {
	return r.db.tx(func() error { return fn(ctx, r.contributionStore) })
}

type contributionStore struct{ db *DB }

func (s contributionStore) Cycles() savings.Store { return cycleStore(s) }

func (s contributionStore) InsertContribution(_ context.Context, c contributions.Contribution) (contributions.Contribution, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.inserts++
	if err, ok := s.db.insertFaults[s.db.inserts]; ok {
		delete(s.db.insertFaults, s.db.inserts)
		return contributions.Contribution{}, err
	}
	if _, ok := s.db.state.cycles[c.CycleID]; !ok {
		return contributions.Contribution{}, errors.New("memstore: contribution references unknown cycle")
	}
	c.CreatedAt = time.Now().UTC()
	s.db.state.contributions = append(s.db.state.contributions, c)
	return c, nil
}

func (s contributionStore) ListByClient(_ context.Context, clientID uuid.UUID) ([]contributions.Contribution, error) {
	return s.filter(func(c contributions.Contribution) bool { return c.ClientID == clientID }), nil
}

func (s contributionStore) ListByCycle(_ context.Context, cycleID uuid.UUID) ([]contributions.Contribution, error) {
	return s.filter(func(c contributions.Contribution) bool { return c.CycleID == cycleID }), nil
}

func (s contributionStore) filter(keep func(contributions.Contribution) bool) []contributions.Contribution {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []contributions.Contribution
	for _, c := range s.db.state.contributions {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// PayoutRepository implements payouts.Repository.
type PayoutRepository struct{ payoutStore }

func (r *PayoutRepository) WithTx(ctx context.Context, fn func(context.Context, payouts.TxStore) error) error {
	return r.db.tx(func() error { return fn(ctx, r.payoutStore) })
}

type payoutStore struct{ db *DB }

func (s payoutStore) Cycles() savings.Store { return cycleStore(s) }

func (s payoutStore) Insert(_ context.Context, p payouts.Payout) (payouts.Payout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.state.payouts {
		if existing.CycleID == p.CycleID {
			return payouts.Payout{}, fmt.Errorf("%w: cycle %s already has a payout", shared.ErrDuplicate, p.CycleID)
		}
	}
	p.Version = 1
	s.db.state.payouts[p.ID] = p
	return p, nil
}

func (s payoutStore) Get(_ context.Context, id uuid.UUID) (payouts.Payout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.state.payouts[id]
	if !ok {
		return payouts.Payout{}, fmt.Errorf("%w: payout %s", shared.ErrNotFound, id)
	}
	return p, nil
}

func (s payoutStore) Update(_ context.Context, p payouts.Payout) (payouts.Payout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	current, ok := s.db.state.payouts[p.ID]
	if !ok || current.Version != p.Version {
		return payouts.Payout{}, fmt.Errorf("%w: payout %s changed concurrently", shared.ErrStateConflict, p.ID)
	}
	p.Version++
	s.db.state.payouts[p.ID] = p
	return p, nil
}

func (s payoutStore) List(_ context.Context, filter payouts.ListFilter) ([]payouts.Payout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []payouts.Payout
	for _, p := range s.db.state.payouts {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.ClientID != nil && p.ClientID != *filter.ClientID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s payoutStore) RecordApproval(_ context.Context, log shared.ApprovalLog) error {
	log.Module = payouts.ApprovalModule
	if err := log.Validate(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.approvalSeq++
	log.ID = s.db.approvalSeq
	s.db.state.approvals = append(s.db.state.approvals, log)
	return nil
}

func (s payoutStore) History(_ context.Context, id uuid.UUID) ([]shared.ApprovalLog, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range s.db.state.approvals {
		if l.RefID == id {
			out = append(out, l)
		}
	}
	return out, nil
}
