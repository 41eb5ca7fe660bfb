package contributions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bensco/susu/internal/platform/db"
	"github.com/bensco/susu/internal/savings"
)

// Store covers ledger reads and the single append path.
type Store interface {
	InsertContribution(ctx context.Context, c Contribution) (Contribution, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]Contribution, error)
	ListByCycle(ctx context.Context, cycleID uuid.UUID) ([]Contribution, error)
}

// TxStore is a Store bound to an open transaction that also exposes the
// cycle store sharing that transaction.
type TxStore interface {
	Store
	Cycles() savings.Store
}

// Repository adds transaction demarcation to Store.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// PostgresRepository persists contributions in PostgreSQL.
type PostgresRepository struct {
	*store
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{store: &store{q: pool}, pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &store{q: tx})
	})
}

type store struct {
	q db.DBTX
}

func (s *store) Cycles() savings.Store {
	return savings.NewStore(s.q)
}

const contributionColumns = `id, client_id, collector_id, savings_cycle_id, amount, date, days_covered, is_bulk, is_override, note, created_at`

func (s *store) InsertContribution(ctx context.Context, c Contribution) (Contribution, error) {
	var collector pgtype.UUID
	if c.CollectorID != nil {
		collector = pgtype.UUID{Bytes: *c.CollectorID, Valid: true}
	}
	var note pgtype.Text
	if c.Note != "" {
		note = pgtype.Text{String: c.Note, Valid: true}
	}
	row := s.q.QueryRow(ctx, `INSERT INTO contributions
(id, client_id, collector_id, savings_cycle_id, amount, date, days_covered, is_bulk, is_override, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
RETURNING `+contributionColumns,
		c.ID, c.ClientID, collector, c.CycleID, c.Amount, c.Date, c.DaysCovered, c.IsBulk, c.IsOverride, note)
	created, err := scanContribution(row)
	if err != nil {
		return Contribution{}, fmt.Errorf("contributions: insert: %w", err)
	}
	return created, nil
}

func (s *store) ListByClient(ctx context.Context, clientID uuid.UUID) ([]Contribution, error) {
	return s.list(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE client_id = $1 ORDER BY date DESC, created_at DESC`, clientID)
}

func (s *store) ListByCycle(ctx context.Context, cycleID uuid.UUID) ([]Contribution, error) {
	return s.list(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE savings_cycle_id = $1 ORDER BY date, created_at`, cycleID)
}

func (s *store) list(ctx context.Context, query string, args ...any) ([]Contribution, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("contributions: list: %w", err)
	}
	defer rows.Close()
	var out []Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("contributions: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContribution(row pgx.Row) (Contribution, error) {
	var (
		c         Contribution
		collector pgtype.UUID
		note      pgtype.Text
		days      int32
	)
	if err := row.Scan(&c.ID, &c.ClientID, &collector, &c.CycleID, &c.Amount, &c.Date, &days,
		&c.IsBulk, &c.IsOverride, &note, &c.CreatedAt); err != nil {
		return Contribution{}, err
	}
	c.DaysCovered = int(days)
	c.Note = note.String
	if collector.Valid {
		id := uuid.UUID(collector.Bytes)
		c.CollectorID = &id
	}
	return c, nil
}
