/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     zerolog request log (method, path, status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend
  6. Owner:      X-Owner-ID header into the request context (/api only)

ROUTE GROUPS:
  /healthz              Liveness
  /api/transactions/*   Transaction mutations
  /api/accounts/*       Accounts
  /api/budgets/*        Budgets
  /api/categories/*     Categories
  /api/summary          Totals
  /api/reconcile/*      Drift audit
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  The owner header is trusted as-is. An authenticating proxy must set it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/logging"
)

// OwnerHeader names the request header carrying the acting owner.
const OwnerHeader = "X-Owner-ID"

type RouterOptions struct {
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", OwnerHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(ownerContext)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.CreateTransaction)
			r.Patch("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Patch("/{id}", h.UpdateAccount)
			r.Delete("/{id}", h.DeleteAccount)
		})

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", h.ListBudgets)
			r.Post("/", h.CreateBudget)
			r.Patch("/{id}", h.UpdateBudget)
			r.Delete("/{id}", h.DeleteBudget)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Patch("/{id}", h.UpdateCategory)
			r.Delete("/{id}", h.DeleteCategory)
		})

		r.Get("/summary", h.GetSummary)

		r.Route("/reconcile", func(r chi.Router) {
			r.Post("/", h.Reconcile)
			r.Get("/runs", h.ListReconciliationRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request and puts a request-scoped
// logger into the context.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := base.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.WithContext(r.Context(), log)))

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// ownerContext requires the owner header and stores the owner in the
// request context for the ledger.
func ownerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "Missing " + OwnerHeader + " header",
				Code:  "validation_failed",
				Field: "owner",
			})
			return
		}
		ctx := ledger.WithOwner(r.Context(), ledger.OwnerID(owner))
		log := logging.FromContext(ctx).With().Str("owner", owner).Logger()
		ctx = logging.WithContext(ctx, log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
