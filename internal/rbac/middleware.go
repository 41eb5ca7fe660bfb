// Package rbac resolves the calling actor for HTTP handlers and guards routes by role.
package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bensco/susu/internal/platform/httpx"
	"github.com/bensco/susu/internal/shared"
)

// HeaderUserID carries the caller identity supplied by the upstream gateway.
const HeaderUserID = "X-User-ID"

// ActorResolver maps a user id onto an actor with its role.
type ActorResolver interface {
	ResolveActor(ctx context.Context, id uuid.UUID) (shared.Actor, error)
}

// Middleware wires actor resolution and role checks for HTTP handlers.
type Middleware struct {
	Resolver ActorResolver
	Logger   *slog.Logger
}

// RequireActor resolves the caller and stores it in the request context.
func (m Middleware) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if raw == "" {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		actor, err := m.Resolver.ResolveActor(r.Context(), id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if !errors.Is(err, shared.ErrPermission) && m.Logger != nil {
				m.Logger.Error("rbac resolve actor", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireRole ensures the resolved actor holds one of the given roles.
func (m Middleware) RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	allowed := make(map[shared.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if _, ok := allowed[actor.Role]; !ok && len(allowed) > 0 {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "role "+string(actor.Role)+" is not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CurrentActor returns the actor resolved by RequireActor.
func CurrentActor(r *http.Request) (shared.Actor, error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return shared.Actor{}, httpx.ErrUnauthorized
	}
	return actor, nil
}
