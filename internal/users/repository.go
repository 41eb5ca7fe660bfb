package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bensco/susu/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUser loads a single user.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	var (
		u    User
		code pgtype.Text
		role string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, username, unique_code, role, is_active, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &code, &role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: user %s", shared.ErrNotFound, id)
		}
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	u.UniqueCode = code.String
	u.Role = shared.Role(role)
	return u, nil
}
