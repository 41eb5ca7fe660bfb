package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/bensco/susu/internal/shared"
)

// User is an admin or collector account as known to the savings core.
type User struct {
	ID         uuid.UUID   `json:"id"`
	Username   string      `json:"username"`
	UniqueCode string      `json:"unique_code"`
	Role       shared.Role `json:"role"`
	IsActive   bool        `json:"is_active"`
	CreatedAt  time.Time   `json:"created_at"`
}
