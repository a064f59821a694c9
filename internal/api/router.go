/**
 * @description
 * This file sets up the HTTP router for the escrow-service. It defines the API
 * endpoints, associates them with their handlers, and applies middleware:
 * standard logging/recovery/timeout, CORS, JWT identity auth for the
 * caller-proven operations, and the internal API key for operator endpoints.
 *
 * Query endpoints (remittance lookup, fee rate, accumulated fees, agent
 * status) are unauthenticated reads by design.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EscrowRoutes creates and returns a new router for the escrow service.
func EscrowRoutes(h *EscrowHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Internal-Api-Key"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Unauthenticated queries
	r.Get("/remittances/{id}", h.GetRemittanceHandler)
	r.Get("/fee", h.GetFeeHandler)
	r.Get("/fees", h.GetAccumulatedFeesHandler)
	r.Get("/agents/{address}", h.AgentStatusHandler)

	// Operator endpoints behind the internal API key
	r.Group(func(r chi.Router) {
		r.Use(RequireInternalAPIKey(internalAPIKey))

		r.Post("/initialize", h.InitializeHandler)
		r.Get("/custody", h.CustodySnapshotHandler)
	})

	// Operations that need a proven caller identity
	r.Group(func(r chi.Router) {
		r.Use(IdentityAuthMiddleware(jwksURL))

		r.Post("/agents", h.RegisterAgentHandler)
		r.Delete("/agents/{address}", h.RemoveAgentHandler)
		r.Put("/fee", h.UpdateFeeHandler)
		r.Put("/daily-limit", h.UpdateDailyLimitHandler)
		r.Post("/remittances", h.CreateRemittanceHandler)
		r.Post("/remittances/{id}/confirm", h.ConfirmPayoutHandler)
		r.Post("/remittances/{id}/cancel", h.CancelRemittanceHandler)
		r.Post("/fees/withdraw", h.WithdrawFeesHandler)
	})

	return r
}
