package users

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bensco/susu/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
}

// Service resolves callers into actors.
type Service struct {
	repo    RepositoryPort
	lookups singleflight.Group
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ResolveActor maps a user id onto an actor with its role. Inactive accounts
// and unrecognised roles are refused. Concurrent lookups of the same id share
// one repository call.
func (s *Service) ResolveActor(ctx context.Context, id uuid.UUID) (shared.Actor, error) {
	u, err := s.getUser(ctx, id)
	if err != nil {
		return shared.Actor{}, err
	}
	if !u.IsActive {
		return shared.Actor{}, fmt.Errorf("%w: user %s is inactive", shared.ErrPermission, id)
	}
	if !u.Role.Valid() {
		return shared.Actor{}, fmt.Errorf("%w: user %s has unknown role %q", shared.ErrPermission, id, u.Role)
	}
	return shared.Actor{ID: u.ID, Role: u.Role}, nil
}

func (s *Service) getUser(ctx context.Context, id uuid.UUID) (User, error) {
	resultChan := s.lookups.DoChan(id.String(), func() (interface{}, error) {
		return s.repo.GetUser(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return User{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return User{}, res.Err
		}
		return res.Val.(User), nil
	}
}
