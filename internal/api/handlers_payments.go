/**
 * @description
 * HTTP handlers for payment processing, refunds and gateway webhooks. Each
 * gateway posts its own payload shape; the webhook handlers normalize them to
 * the (external id, status, reason) triple the payment service consumes.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/app"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
)

// ProcessPaymentHandler handles POST /payments/process.
func (h *BillingHandlers) ProcessPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ProcessPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if req.InvoiceID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "invoice_id is required.")
		return
	}

	payment, err := h.payments.ProcessPayment(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvoiceNotFound):
			h.writeError(w, http.StatusNotFound, "Invoice not found.")
		case errors.Is(err, app.ErrInvoiceAlreadyPaid):
			h.writeError(w, http.StatusConflict, "Invoice is already paid.")
		case errors.Is(err, app.ErrInvoiceNotPayable):
			h.writeError(w, http.StatusUnprocessableEntity, "Invoice is not in a payable status.")
		case errors.Is(err, app.ErrAmountMismatch):
			h.writeError(w, http.StatusUnprocessableEntity, "Payment amount must equal the invoice total.")
		default:
			log.Printf("level=error component=api endpoint=process_payment invoice_id=%s err=%v", req.InvoiceID, err)
			// The payment row, when present, carries the failure detail.
			if payment != nil {
				h.writeJSON(w, http.StatusBadGateway, payment)
				return
			}
			h.writeError(w, http.StatusInternalServerError, "Could not process payment.")
		}
		return
	}

	status := http.StatusCreated
	if payment.Status == domain.PaymentStatusFailed {
		status = http.StatusPaymentRequired
	}
	h.writeJSON(w, status, payment)
}

// PaymentHandler handles GET /payments/{paymentID}.
func (h *BillingHandlers) PaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.parseUUIDParam(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			h.writeError(w, http.StatusNotFound, "Payment not found.")
			return
		}
		log.Printf("level=error component=api endpoint=get_payment payment_id=%s err=%v", paymentID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve payment.")
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// RefundPaymentHandler handles POST /payments/{paymentID}/refund.
func (h *BillingHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.parseUUIDParam(w, r, "paymentID")
	if !ok {
		return
	}

	var req domain.RefundPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	refund, err := h.payments.RefundPayment(r.Context(), paymentID, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPaymentNotFound):
			h.writeError(w, http.StatusNotFound, "Payment not found.")
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Refund amount must be positive.")
		case errors.Is(err, app.ErrPaymentNotRefundable):
			h.writeError(w, http.StatusUnprocessableEntity, "Only completed payments can be refunded.")
		case errors.Is(err, app.ErrRefundExceedsPayment):
			h.writeError(w, http.StatusUnprocessableEntity, "Refund exceeds the remaining payment amount.")
		default:
			log.Printf("level=error component=api endpoint=refund_payment payment_id=%s err=%v", paymentID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not process refund.")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, refund)
}

// tranzilaWebhook is the notification payload Tranzila posts on async outcomes.
type tranzilaWebhook struct {
	TransactionID string `json:"transaction_id"`
	ResponseCode  string `json:"response_code"`
	ErrorMessage  string `json:"error_message"`
}

// cardcomWebhook is the notification payload Cardcom posts on async outcomes.
type cardcomWebhook struct {
	InternalDealNum string `json:"InternalDealNumber"`
	ResponseCode    int    `json:"ResponseCode"`
	Description     string `json:"Description"`
}

// payplusWebhook is the notification payload PayPlus posts on async outcomes.
type payplusWebhook struct {
	TransactionUID string `json:"transaction_uid"`
	StatusCode     string `json:"status_code"`
	StatusMessage  string `json:"status_description"`
}

// GatewayWebhookHandler handles POST /webhooks/{provider}. Replayed
// notifications are acknowledged without effect.
func (h *BillingHandlers) GatewayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var notification app.WebhookNotification
	switch provider {
	case "tranzila":
		var body tranzilaWebhook
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid webhook payload.")
			return
		}
		notification = app.WebhookNotification{
			Provider:   provider,
			ExternalID: body.TransactionID,
			Status:     webhookStatus(body.ResponseCode == "000"),
			Reason:     body.ErrorMessage,
		}
	case "cardcom":
		var body cardcomWebhook
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid webhook payload.")
			return
		}
		notification = app.WebhookNotification{
			Provider:   provider,
			ExternalID: body.InternalDealNum,
			Status:     webhookStatus(body.ResponseCode == 0),
			Reason:     body.Description,
		}
	case "payplus":
		var body payplusWebhook
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid webhook payload.")
			return
		}
		notification = app.WebhookNotification{
			Provider:   provider,
			ExternalID: body.TransactionUID,
			Status:     webhookStatus(body.StatusCode == "000"),
			Reason:     body.StatusMessage,
		}
	default:
		h.writeError(w, http.StatusNotFound, "Unknown gateway provider.")
		return
	}

	if err := h.payments.ProcessWebhook(r.Context(), notification); err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			// Acknowledge: the provider will not have anything better on retry.
			log.Printf("level=warn component=api endpoint=webhook provider=%s external_id=%s msg=\"no matching payment\"",
				provider, notification.ExternalID)
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Printf("level=error component=api endpoint=webhook provider=%s external_id=%s err=%v", provider, notification.ExternalID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not process webhook.")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func webhookStatus(approved bool) string {
	if approved {
		return domain.PaymentStatusCompleted
	}
	return domain.PaymentStatusFailed
}
