package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bensco/susu/internal/contributions"
	"github.com/bensco/susu/internal/observability"
	"github.com/bensco/susu/internal/payouts"
	"github.com/bensco/susu/internal/rbac"
	"github.com/bensco/susu/internal/savings"
	"github.com/bensco/susu/internal/shared"
	"github.com/bensco/susu/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	RBACMiddleware      rbac.Middleware
	SavingsHandler      *savings.Handler
	ContributionHandler *contributions.Handler
	PayoutHandler       *payouts.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with the susu API mounted.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireActor)
		if params.SavingsHandler != nil {
			params.SavingsHandler.MountRoutes(r, params.RBACMiddleware.RequireRole(shared.RoleAdmin))
		}
		if params.ContributionHandler != nil {
			params.ContributionHandler.MountRoutes(r)
		}
		if params.PayoutHandler != nil {
			params.PayoutHandler.MountRoutes(r)
		}
	})

	return r
}
