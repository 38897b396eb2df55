/**
 * @description
 * This file sets up the HTTP router for the wallet-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/prometheus/client_golang: Metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WalletRoutes creates and returns a new router for the wallet service.
// User-facing wallet and order routes require a bearer JWT; the order
// lifecycle routes are service-to-service and require the internal API key.
func WalletRoutes(h *WalletHandlers, jwtSecret, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestDurationMiddleware)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Group routes that require end-user authentication.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwtSecret))

		// Wallet endpoints
		r.Get("/accounts/{accountID}/balance", h.GetBalanceHandler)
		r.Get("/accounts/{accountID}/transactions", h.ListTransactionsHandler)
		r.Post("/accounts/{accountID}/deposit", h.DepositHandler)
		r.Post("/accounts/{accountID}/withdraw", h.WithdrawHandler)

		// Order endpoints
		r.Get("/orders/preview-split", h.PreviewSplitHandler)
		r.Post("/orders", h.CreateOrderHandler)
		r.Get("/orders", h.ListOrdersHandler)
		r.Get("/orders/{orderID}", h.GetOrderHandler)
	})

	// Group routes reserved for trusted internal services driving the
	// order lifecycle.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/internal/orders/{orderID}/confirm-payment", h.ConfirmPaymentHandler)
		r.Post("/internal/orders/{orderID}/in-progress", h.MarkInProgressHandler)
		r.Post("/internal/orders/{orderID}/complete", h.CompleteOrderHandler)
		r.Post("/internal/orders/{orderID}/cancel", h.CancelOrderHandler)
		r.Post("/internal/accounts/{accountID}/deactivate", h.DeactivateAccountHandler)
	})

	return r
}
