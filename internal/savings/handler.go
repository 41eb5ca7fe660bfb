package savings

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bensco/susu/internal/clients"
	"github.com/bensco/susu/internal/platform/httpx"
	"github.com/bensco/susu/internal/shared"
)

// ClientLookup resolves client attributes from the registry.
type ClientLookup interface {
	Get(ctx context.Context, id uuid.UUID) (clients.Client, error)
}

// SweepEnqueuer schedules an asynchronous expired-cycle sweep.
type SweepEnqueuer interface {
	EnqueueCycleSweep(ctx context.Context) (string, error)
}

// Handler exposes cycle operations over JSON.
type Handler struct {
	logger  *slog.Logger
	manager *Manager
	clients ClientLookup
	sweeps  SweepEnqueuer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, manager *Manager, clientLookup ClientLookup, sweeps SweepEnqueuer) *Handler {
	return &Handler{logger: logger, manager: manager, clients: clientLookup, sweeps: sweeps}
}

// MountRoutes registers cycle routes. adminOnly guards the sweep trigger.
func (h *Handler) MountRoutes(r chi.Router, adminOnly func(http.Handler) http.Handler) {
	r.Get("/clients/{id}/cycles", h.listByClient)
	r.Post("/clients/{id}/cycles/active", h.resolveActive)
	r.Get("/cycles/{id}", h.get)
	r.Post("/cycles/{id}/evaluate", h.evaluate)
	r.With(adminOnly).Post("/cycles/sweep", h.sweep)
}

func (h *Handler) listByClient(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if _, err := h.clients.Get(r.Context(), id); err != nil {
		h.fail(w, "list cycles", err)
		return
	}
	cycles, err := h.manager.ListClientCycles(r.Context(), id)
	if err != nil {
		h.fail(w, "list cycles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

func (h *Handler) resolveActive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	client, err := h.clients.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "resolve active cycle", err)
		return
	}
	cycle, err := h.manager.ResolveActiveCycle(r.Context(), client)
	if err != nil {
		h.fail(w, "resolve active cycle", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cycle)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cycle, err := h.manager.GetCycle(r.Context(), id)
	if err != nil {
		h.fail(w, "get cycle", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cycle)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	closed, err := h.manager.EvaluateClosure(r.Context(), id)
	if err != nil {
		h.fail(w, "evaluate closure", err)
		return
	}
	cycle, err := h.manager.GetCycle(r.Context(), id)
	if err != nil {
		h.fail(w, "evaluate closure", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"closed": closed, "cycle": cycle})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeps == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "sweep queue not configured")
		return
	}
	taskID, err := h.sweeps.EnqueueCycleSweep(r.Context())
	if err != nil {
		h.fail(w, "enqueue sweep", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil && !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
