/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in error logs
  2. Logger:     zap request logging (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for UI clients

ROUTE GROUPS:
  /finance-storage/transactions/*      Batch engine
  /finance-storage/ledger-rollovers/*  Rollover workflow
  /finance-storage/ledgers|funds|budgets  Setup
  /health                              Liveness

SECURITY NOTE:
  No authentication middleware. The platform gateway in front of the
  service authenticates callers and sets X-Okapi-User-Id.

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
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", userIDHeader},
		ExposedHeaders: []string{"Location"},
	}))

	r.Get("/health", h.Health)

	r.Route("/finance-storage", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/batch-all-or-nothing", h.ProcessBatch)
			r.Get("/{id}", h.GetTransaction)
		})

		r.Route("/ledger-rollovers", func(r chi.Router) {
			r.Post("/", h.CreateRollover)
			r.Delete("/{id}", h.DeleteRollover)
			r.Get("/{id}/progress", h.GetRolloverProgress)
			r.Get("/{id}/errors", h.GetRolloverErrors)
			r.Get("/{id}/budgets", h.GetRolloverBudgets)
		})

		r.Post("/ledgers", h.CreateLedger)
		r.Post("/funds", h.CreateFund)
		r.Post("/budgets", h.CreateBudget)
	})

	return r
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("requestId", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
