package payouts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bensco/susu/internal/platform/httpx"
	"github.com/bensco/susu/internal/rbac"
	"github.com/bensco/susu/internal/shared"
)

// Handler exposes the payout workflow over JSON.
type Handler struct {
	logger   *slog.Logger
	workflow *Workflow
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, workflow *Workflow) *Handler {
	return &Handler{logger: logger, workflow: workflow}
}

// MountRoutes registers payout routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/payouts", func(r chi.Router) {
		r.Post("/", h.request)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/history", h.history)
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/reject", h.reject)
		r.Post("/{id}/paid", h.markPaid)
	})
}

type requestPayload struct {
	CycleID    string          `json:"cycle_id" validate:"required,uuid"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	Commission decimal.Decimal `json:"commission"`
	NetPayout  decimal.Decimal `json:"net_payout"`
}

type rejectPayload struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	actor, err := rbac.CurrentActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req requestPayload
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payout, err := h.workflow.RequestPayout(r.Context(), RequestInput{
		CycleID:    uuid.MustParse(req.CycleID),
		TotalPaid:  req.TotalPaid,
		Commission: req.Commission,
		NetPayout:  req.NetPayout,
	}, actor)
	if err != nil {
		h.fail(w, "request payout", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payout)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	if raw := q.Get("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.RespondError(w, httpx.ErrBadRequest)
			return
		}
		filter.ClientID = &id
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, httpx.ErrBadRequest)
			return
		}
		filter.Limit = limit
	}
	items, err := h.workflow.ListPayouts(r.Context(), filter)
	if err != nil {
		h.fail(w, "list payouts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payouts": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payout, err := h.workflow.GetPayout(r.Context(), id)
	if err != nil {
		h.fail(w, "get payout", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payout)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	logs, err := h.workflow.History(r.Context(), id)
	if err != nil {
		h.fail(w, "payout history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": logs})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve payout", func(id uuid.UUID, actor shared.Actor) (Payout, error) {
		return h.workflow.Approve(r.Context(), id, actor)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectPayload
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.transition(w, r, "reject payout", func(id uuid.UUID, actor shared.Actor) (Payout, error) {
		return h.workflow.Reject(r.Context(), id, actor, req.Reason)
	})
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "mark payout paid", func(id uuid.UUID, actor shared.Actor) (Payout, error) {
		return h.workflow.MarkPaid(r.Context(), id, actor)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(uuid.UUID, shared.Actor) (Payout, error)) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := rbac.CurrentActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payout, err := fn(id, actor)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payout)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil && !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
