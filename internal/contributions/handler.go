package contributions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bensco/susu/internal/platform/httpx"
	"github.com/bensco/susu/internal/rbac"
	"github.com/bensco/susu/internal/shared"
)

const idempotencyModule = "contributions"

// IdempotencyGuard deduplicates retried writes carrying an Idempotency-Key.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes the ledger over JSON.
type Handler struct {
	logger *slog.Logger
	ledger *Ledger
	guard  IdempotencyGuard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger}
}

// WithIdempotency enables Idempotency-Key handling on the write endpoints.
func (h *Handler) WithIdempotency(guard IdempotencyGuard) *Handler {
	h.guard = guard
	return h
}

// MountRoutes registers contribution routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/contributions", h.record)
	r.Post("/contributions/batch", h.recordBatch)
	r.Get("/clients/{id}/contributions", h.listByClient)
	r.Get("/cycles/{id}/contributions", h.listByCycle)
}

type recordRequest struct {
	ClientID    string          `json:"client_id" validate:"required,uuid"`
	CollectorID string          `json:"collector_id" validate:"omitempty,uuid"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	IsOverride  bool            `json:"is_override"`
	DaysCovered *int            `json:"days_covered" validate:"omitempty,min=1,max=3660"`
	Note        string          `json:"note" validate:"max=500"`
}

type batchRequest struct {
	Entries []recordRequest `json:"entries" validate:"required,min=1,max=500,dive"`
}

// toInput pins collectors to their own id; admins may record on behalf of
// any collector.
func (req recordRequest) toInput(actor shared.Actor) (RecordInput, error) {
	in := RecordInput{
		ClientID:     uuid.MustParse(req.ClientID),
		Amount:       req.Amount,
		Override:     req.IsOverride,
		ExplicitDays: req.DaysCovered,
		Note:         req.Note,
	}
	if req.CollectorID != "" {
		id := uuid.MustParse(req.CollectorID)
		if actor.Role == shared.RoleCollector && id != actor.ID {
			return RecordInput{}, fmt.Errorf("%w: collectors record contributions under their own id", shared.ErrPermission)
		}
		in.CollectorID = &id
	} else if actor.Role == shared.RoleCollector {
		id := actor.ID
		in.CollectorID = &id
	}
	if req.Date != "" {
		in.Date, _ = time.Parse(time.DateOnly, req.Date)
	}
	return in, nil
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	actor, err := rbac.CurrentActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.toInput(actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	release, err := h.claim(r)
	if err != nil {
		h.fail(w, "record contribution", err)
		return
	}
	result, err := h.ledger.RecordContribution(r.Context(), in)
	if err != nil {
		release()
		h.fail(w, "record contribution", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) recordBatch(w http.ResponseWriter, r *http.Request) {
	actor, err := rbac.CurrentActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inputs := make([]RecordInput, len(req.Entries))
	for i, entry := range req.Entries {
		in, err := entry.toInput(actor)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		inputs[i] = in
	}
	release, err := h.claim(r)
	if err != nil {
		h.fail(w, "record contribution batch", err)
		return
	}
	results, err := h.ledger.RecordContributionsBatch(r.Context(), inputs)
	if err != nil {
		release()
		h.fail(w, "record contribution batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"results": results})
}

func (h *Handler) listByClient(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.ledger.ListClientContributions(r.Context(), id)
	if err != nil {
		h.fail(w, "list client contributions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"contributions": items})
}

func (h *Handler) listByCycle(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.ledger.ListCycleContributions(r.Context(), id)
	if err != nil {
		h.fail(w, "list cycle contributions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"contributions": items})
}

// claim reserves the request's idempotency key. The returned func frees it
// again so a failed write can be retried with the same key.
func (h *Handler) claim(r *http.Request) (func(), error) {
	key := strings.TrimSpace(r.Header.Get(shared.HeaderIdempotencyKey))
	if h.guard == nil || key == "" {
		return func() {}, nil
	}
	if err := h.guard.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
		return nil, err
	}
	return func() {
		if err := h.guard.Delete(context.WithoutCancel(r.Context()), key, idempotencyModule); err != nil && h.logger != nil {
			h.logger.Warn("release idempotency key", slog.Any("error", err))
		}
	}, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil && !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
