package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bensco/susu/internal/platform/db"
	"github.com/bensco/susu/internal/savings"
	"github.com/bensco/susu/internal/shared"
)

// ApprovalModule tags payout entries in the approvals log.
const ApprovalModule = "payouts"

const payoutCycleConstraint = "uq_payouts_cycle"

// Store is the payout persistence contract.
type Store interface {
	Insert(ctx context.Context, p Payout) (Payout, error)
	Get(ctx context.Context, id uuid.UUID) (Payout, error)
	// Update writes p only if the stored version still equals p.Version.
	Update(ctx context.Context, p Payout) (Payout, error)
	List(ctx context.Context, filter ListFilter) ([]Payout, error)
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
	History(ctx context.Context, id uuid.UUID) ([]shared.ApprovalLog, error)
}

// TxStore is a Store bound to an open transaction.
type TxStore interface {
	Store
	Cycles() savings.Store
}

// Repository adds transaction demarcation to Store.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// PostgresRepository persists payouts in PostgreSQL.
type PostgresRepository struct {
	*store
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{store: newStore(pool), pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newStore(tx))
	})
}

type store struct {
	q         db.DBTX
	approvals *shared.ApprovalRecorder
}

func newStore(q db.DBTX) *store {
	return &store{q: q, approvals: shared.NewApprovalRecorder()}
}

func (s *store) Cycles() savings.Store {
	return savings.NewStore(s.q)
}

const payoutColumns = `id, client_id, cycle_id, total_paid, commission, net_payout, status, requested_by, approved_by,
requested_at, approved_at, rejected_at, paid_at, rejection_reason, version`

func (s *store) Insert(ctx context.Context, p Payout) (Payout, error) {
	row := s.q.QueryRow(ctx, `INSERT INTO payouts
(id, client_id, cycle_id, total_paid, commission, net_payout, status, requested_by, requested_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
RETURNING `+payoutColumns,
		p.ID, p.ClientID, p.CycleID, p.TotalPaid, p.Commission, p.NetPayout, string(p.Status), p.RequestedBy, p.RequestedAt)
	created, err := scanPayout(row)
	if err != nil {
		if db.IsUniqueViolation(err, payoutCycleConstraint) {
			return Payout{}, fmt.Errorf("%w: cycle %s already has a payout", shared.ErrDuplicate, p.CycleID)
		}
		return Payout{}, fmt.Errorf("payouts: insert: %w", err)
	}
	return created, nil
}

func (s *store) Get(ctx context.Context, id uuid.UUID) (Payout, error) {
	p, err := scanPayout(s.q.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payout{}, fmt.Errorf("%w: payout %s", shared.ErrNotFound, id)
		}
		return Payout{}, fmt.Errorf("payouts: get: %w", err)
	}
	return p, nil
}

func (s *store) Update(ctx context.Context, p Payout) (Payout, error) {
	row := s.q.QueryRow(ctx, `UPDATE payouts SET status = $3, approved_by = $4, approved_at = $5, rejected_at = $6,
paid_at = $7, rejection_reason = $8, version = version + 1
WHERE id = $1 AND version = $2
RETURNING `+payoutColumns,
		p.ID, p.Version, string(p.Status), p.ApprovedBy, p.ApprovedAt, p.RejectedAt, p.PaidAt, p.RejectionReason)
	updated, err := scanPayout(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payout{}, fmt.Errorf("%w: payout %s changed concurrently", shared.ErrStateConflict, p.ID)
		}
		return Payout{}, fmt.Errorf("payouts: update: %w", err)
	}
	return updated, nil
}

func (s *store) List(ctx context.Context, filter ListFilter) ([]Payout, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ClientID != nil {
		args = append(args, *filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	query := `SELECT ` + payoutColumns + ` FROM payouts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY requested_at DESC, id LIMIT $%d`, len(args))

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payouts: list: %w", err)
	}
	defer rows.Close()
	var out []Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("payouts: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *store) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	log.Module = ApprovalModule
	return s.approvals.Record(ctx, s.q, log)
}

func (s *store) History(ctx context.Context, id uuid.UUID) ([]shared.ApprovalLog, error) {
	logs, err := s.approvals.List(ctx, s.q, ApprovalModule, id)
	if err != nil {
		return nil, fmt.Errorf("payouts: history: %w", err)
	}
	return logs, nil
}

func scanPayout(row pgx.Row) (Payout, error) {
	var (
		p          Payout
		status     string
		approvedBy pgtype.UUID
		approvedAt pgtype.Timestamptz
		rejectedAt pgtype.Timestamptz
		paidAt     pgtype.Timestamptz
		reason     pgtype.Text
		version    int32
	)
	if err := row.Scan(&p.ID, &p.ClientID, &p.CycleID, &p.TotalPaid, &p.Commission, &p.NetPayout, &status,
		&p.RequestedBy, &approvedBy, &p.RequestedAt, &approvedAt, &rejectedAt, &paidAt, &reason, &version); err != nil {
		return Payout{}, err
	}
	p.Status = Status(status)
	p.Version = int(version)
	if approvedBy.Valid {
		id := uuid.UUID(approvedBy.Bytes)
		p.ApprovedBy = &id
	}
	p.ApprovedAt = optionalTime(approvedAt)
	p.RejectedAt = optionalTime(rejectedAt)
	p.PaidAt = optionalTime(paidAt)
	if reason.Valid {
		r := reason.String
		p.RejectionReason = &r
	}
	return p, nil
}

func optionalTime(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
