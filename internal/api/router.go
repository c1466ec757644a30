/**
 * @description
 * This file sets up the HTTP router for the billing-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// BillingRoutes creates and returns a new router for the billing service.
func BillingRoutes(h *BillingHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Gateway webhooks authenticate by payload, not bearer token.
	r.Post("/webhooks/{provider}", h.GatewayWebhookHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwksURL))

		// Commission ledger
		r.Post("/commissions/record", h.RecordCommissionHandler)
		r.Get("/commissions/job/{jobID}", h.JobCommissionsHandler)
		r.Get("/commissions/professional/{professionalID}", h.ProfessionalCommissionsHandler)
		r.Get("/commissions/professional/{professionalID}/summary", h.MonthlySummaryHandler)

		// Balances
		r.Get("/balances/{professionalID}", h.BalanceHandler)
		r.Post("/balances/{professionalID}/recalculate", h.RecalculateBalanceHandler)
		r.Put("/balances/{professionalID}/autopay", h.SetAutopayHandler)

		// Invoices
		r.Post("/invoices/generate", h.GenerateInvoiceHandler)
		r.Get("/invoices/{invoiceID}", h.InvoiceHandler)
		r.Get("/invoices/professional/{professionalID}/open", h.OpenInvoicesHandler)

		// Payments
		r.Post("/payments/process", h.ProcessPaymentHandler)
		r.Get("/payments/{paymentID}", h.PaymentHandler)
		r.Post("/payments/{paymentID}/refund", h.RefundPaymentHandler)

		// Payouts and offsets
		r.Post("/payouts/create", h.CreatePayoutHandler)
		r.Post("/settlements/offset", h.OffsetHandler)
	})

	// Service-to-service endpoints triggered by the scheduler.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/settlements/monthly", h.MonthlySettlementHandler)
		r.Post("/settlements/autopay/run", h.AutopaySweepHandler)
	})

	return r
}
