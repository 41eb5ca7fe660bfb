package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bensco/susu/internal/shared"
)

// Repository reads clients from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectClient = `SELECT id, unique_code, name, collector_id, amount_daily, is_fixed, start_date, cycle_length FROM clients`

// Get loads a client by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Client, error) {
	row := r.pool.QueryRow(ctx, selectClient+` WHERE id = $1`, id)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, fmt.Errorf("%w: client %s", shared.ErrNotFound, id)
		}
		return Client{}, fmt.Errorf("clients: get: %w", err)
	}
	return c, nil
}

func scanClient(row pgx.Row) (Client, error) {
	var (
		c      Client
		code   pgtype.Text
		daily  decimal.NullDecimal
		length pgtype.Int4
	)
	if err := row.Scan(&c.ID, &code, &c.Name, &c.CollectorID, &daily, &c.IsFixedSchedule, &c.StartDate, &length); err != nil {
		return Client{}, err
	}
	c.Code = code.String
	if daily.Valid {
		amount := daily.Decimal
		c.DailyAmount = &amount
	}
	if length.Valid {
		n := int(length.Int32)
		c.CycleLength = &n
	}
	return c, nil
}
