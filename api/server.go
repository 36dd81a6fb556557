/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. zerolog:    Structured request logging
  4. CORS:       Cross-origin requests for the dashboards
  5. Actor:      Mutating routes require an X-Actor-ID header

ACTOR IDENTITY:
  Authentication and sessions are the external auth service's problem;
  this engine only needs to know WHO performed each mutation for the
  journal's performed_by column. The dashboard gateway forwards the
  authenticated user id in X-Actor-ID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// actorHeader carries the authenticated caller identity.
const actorHeader = "X-Actor-ID"

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", actorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Member-facing wallet and withdrawal routes
		r.Route("/members/{id}", func(r chi.Router) {
			r.Get("/wallet", h.GetWallet)
			r.Get("/journal", h.GetJournal)
			r.With(requireActor).Post("/withdrawals", h.CreateWithdrawal)
		})

		// Compensation engine credit path
		r.With(requireActor).Post("/wallets/{id}/credit", h.CreditWallet)

		// Admin withdrawal routes
		r.Route("/withdrawals", func(r chi.Router) {
			r.Get("/", h.ListWithdrawals)
			r.Group(func(r chi.Router) {
				r.Use(requireActor)
				r.Post("/{id}/approve", h.ApproveWithdrawal)
				r.Post("/{id}/reject", h.RejectWithdrawal)
				r.Post("/bulk-approve", h.BulkApprove)
				r.Post("/bulk-reject", h.BulkReject)
			})
		})

		// Franchise stock routes
		r.Route("/products/{id}/stock", func(r chi.Router) {
			r.Get("/", h.GetStockLevel)
			r.Get("/history", h.GetStockHistory)
			r.Group(func(r chi.Router) {
				r.Use(requireActor)
				r.Post("/add", h.AddStock)
				r.Post("/remove", h.RemoveStock)
			})
		})

		// Settlement routes
		r.With(requireActor).Post("/admin/settlement/run", h.TriggerSettlement)
		r.Get("/settlement/runs", h.ListSettlementRuns)
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// requireActor rejects mutating calls without a caller identity.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(actorHeader) == "" {
			writeError(w, http.StatusUnauthorized, "missing_actor",
				"mutating calls must carry the caller identity in "+actorHeader)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorFrom extracts the caller identity attached by the gateway.
func actorFrom(r *http.Request) string {
	return r.Header.Get(actorHeader)
}

// requestLogger logs one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
