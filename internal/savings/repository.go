package savings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bensco/susu/internal/platform/db"
	"github.com/bensco/susu/internal/shared"
)

const activeCycleConstraint = "uq_savings_cycles_one_active"

// Store is the transaction-scoped view over savings cycles.
type Store interface {
	ActiveCycleForUpdate(ctx context.Context, clientID uuid.UUID) (Cycle, error)
	InsertCycle(ctx context.Context, c Cycle) (Cycle, error)
	GetCycle(ctx context.Context, id uuid.UUID) (Cycle, error)
	GetCycleForUpdate(ctx context.Context, id uuid.UUID) (Cycle, error)
	ContributedDays(ctx context.Context, cycleID uuid.UUID) (int, error)
	AddToTotal(ctx context.Context, cycleID uuid.UUID, amount decimal.Decimal) error
	CloseCycle(ctx context.Context, id uuid.UUID, endDate time.Time) (bool, error)
	MarkPaidOut(ctx context.Context, id uuid.UUID) error
	ListExpiredActive(ctx context.Context, today time.Time) ([]Cycle, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]Cycle, error)
}

// Repository adds transaction demarcation to Store.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// PostgresRepository persists cycles in PostgreSQL.
type PostgresRepository struct {
	*store
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{store: &store{q: pool}, pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewStore(tx))
	})
}

// NewStore binds a Store to a pool or an open transaction.
func NewStore(q db.DBTX) Store {
	return &store{q: q}
}

type store struct {
	q db.DBTX
}

const cycleColumns = `id, client_id, collector_id, status, start_date, end_date, cycle_length, total_saved, commission_deducted, created_at, updated_at`

func (s *store) ActiveCycleForUpdate(ctx context.Context, clientID uuid.UUID) (Cycle, error) {
	row := s.q.QueryRow(ctx, `SELECT `+cycleColumns+` FROM savings_cycles
WHERE client_id = $1 AND status = 'active' FOR UPDATE`, clientID)
	c, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, fmt.Errorf("%w: no active cycle for client %s", shared.ErrNotFound, clientID)
		}
		return Cycle{}, fmt.Errorf("savings: active cycle: %w", err)
	}
	return c, nil
}

func (s *store) InsertCycle(ctx context.Context, c Cycle) (Cycle, error) {
	var collector pgtype.UUID
	if c.CollectorID != nil {
		collector = pgtype.UUID{Bytes: *c.CollectorID, Valid: true}
	}
	row := s.q.QueryRow(ctx, `INSERT INTO savings_cycles
(id, client_id, collector_id, status, start_date, cycle_length, total_saved, commission_deducted, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, false, NOW(), NOW())
RETURNING `+cycleColumns, c.ID, c.ClientID, collector, string(c.Status), c.StartDate, c.CycleLength, c.TotalSaved)
	created, err := scanCycle(row)
	if err != nil {
		if db.IsUniqueViolation(err, activeCycleConstraint) {
			return Cycle{}, ErrActiveCycleExists
		}
		return Cycle{}, fmt.Errorf("savings: insert cycle: %w", err)
	}
	return created, nil
}

func (s *store) GetCycle(ctx context.Context, id uuid.UUID) (Cycle, error) {
	return s.getCycle(ctx, `SELECT `+cycleColumns+` FROM savings_cycles WHERE id = $1`, id)
}

func (s *store) GetCycleForUpdate(ctx context.Context, id uuid.UUID) (Cycle, error) {
	return s.getCycle(ctx, `SELECT `+cycleColumns+` FROM savings_cycles WHERE id = $1 FOR UPDATE`, id)
}

func (s *store) getCycle(ctx context.Context, query string, id uuid.UUID) (Cycle, error) {
	c, err := scanCycle(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, fmt.Errorf("%w: cycle %s", shared.ErrNotFound, id)
		}
		return Cycle{}, fmt.Errorf("savings: get cycle: %w", err)
	}
	return c, nil
}

func (s *store) ContributedDays(ctx context.Context, cycleID uuid.UUID) (int, error) {
	var total int64
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(days_covered), 0) FROM contributions WHERE savings_cycle_id = $1`, cycleID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("savings: contributed days: %w", err)
	}
	return int(total), nil
}

func (s *store) AddToTotal(ctx context.Context, cycleID uuid.UUID, amount decimal.Decimal) error {
	tag, err := s.q.Exec(ctx, `UPDATE savings_cycles SET total_saved = total_saved + $2, updated_at = NOW() WHERE id = $1`, cycleID, amount)
	if err != nil {
		return fmt.Errorf("savings: add to total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: cycle %s", shared.ErrNotFound, cycleID)
	}
	return nil
}

func (s *store) CloseCycle(ctx context.Context, id uuid.UUID, endDate time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `UPDATE savings_cycles SET status = 'closed', end_date = $2, updated_at = NOW()
WHERE id = $1 AND status = 'active'`, id, Day(endDate))
	if err != nil {
		return false, fmt.Errorf("savings: close cycle: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *store) MarkPaidOut(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `UPDATE savings_cycles SET status = 'paid_out', commission_deducted = true, updated_at = NOW()
WHERE id = $1 AND status = 'closed'`, id)
	if err != nil {
		return fmt.Errorf("savings: mark paid out: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: cycle %s is not closed", shared.ErrStateConflict, id)
	}
	return nil
}

func (s *store) ListExpiredActive(ctx context.Context, today time.Time) ([]Cycle, error) {
	return s.list(ctx, `SELECT `+cycleColumns+` FROM savings_cycles
WHERE status = 'active' AND start_date + cycle_length <= $1::date ORDER BY start_date, id`, Day(today))
}

func (s *store) ListByClient(ctx context.Context, clientID uuid.UUID) ([]Cycle, error) {
	return s.list(ctx, `SELECT `+cycleColumns+` FROM savings_cycles WHERE client_id = $1 ORDER BY start_date DESC, created_at DESC`, clientID)
}

func (s *store) list(ctx context.Context, query string, args ...any) ([]Cycle, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("savings: list cycles: %w", err)
	}
	defer rows.Close()
	var out []Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCycle(row pgx.Row) (Cycle, error) {
	var (
		c         Cycle
		collector pgtype.UUID
		status    string
		endDate   pgtype.Date
		length    int32
	)
	if err := row.Scan(&c.ID, &c.ClientID, &collector, &status, &c.StartDate, &endDate, &length,
		&c.TotalSaved, &c.CommissionDeducted, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Cycle{}, err
	}
	c.Status = Status(status)
	c.CycleLength = int(length)
	if collector.Valid {
		id := uuid.UUID(collector.Bytes)
		c.CollectorID = &id
	}
	if endDate.Valid {
		d := endDate.Time
		c.EndDate = &d
	}
	return c, nil
}
