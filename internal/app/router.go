package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-retail/atlas-pos/internal/audit"
	"github.com/atlas-retail/atlas-pos/internal/debt"
	"github.com/atlas-retail/atlas-pos/internal/inventory"
	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/observability"
	"github.com/atlas-retail/atlas-pos/internal/returns"
	"github.com/atlas-retail/atlas-pos/internal/sales"
	"github.com/atlas-retail/atlas-pos/internal/shared"
	"github.com/atlas-retail/atlas-pos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Verifier         *shared.TokenVerifier
	LedgerHandler    *ledger.Handler
	InventoryHandler *inventory.Handler
	SalesHandler     *sales.Handler
	CustomerDebts    *debt.Handler
	SupplierDebts    *debt.Handler
	ReturnsHandler   *returns.Handler
	AuditHandler     *audit.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Atlas defaults. Health and
// metrics stay public; everything else sits behind bearer auth.
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

	r.Group(func(r chi.Router) {
		r.Use(params.Verifier.Middleware)
		r.Route("/cashbook", params.LedgerHandler.MountRoutes)
		r.Route("/stock", params.InventoryHandler.MountRoutes)
		r.Route("/sales", params.SalesHandler.MountRoutes)
		r.Route("/debts", func(r chi.Router) {
			r.Route("/customers", params.CustomerDebts.MountRoutes)
			r.Route("/suppliers", params.SupplierDebts.MountRoutes)
		})
		r.Route("/returns", params.ReturnsHandler.MountRoutes)
		r.Route("/audit", params.AuditHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
