/**
 * @description
 * HTTP handlers for the settlement surface: invoice generation and retrieval,
 * the monthly settlement batch, payouts, balance offsets and the autopay sweep.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/app"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
)

// GenerateInvoiceHandler handles POST /invoices/generate.
func (h *BillingHandlers) GenerateInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if req.ProfessionalID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "professional_id is required.")
		return
	}

	invoice, err := h.settlements.GenerateInvoice(r.Context(), req.ProfessionalID, req.Month, req.Year)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateInvoice):
			h.writeError(w, http.StatusConflict, "Invoice already exists for this period.")
		case errors.Is(err, app.ErrNothingToInvoice):
			h.writeError(w, http.StatusUnprocessableEntity, "No uninvoiced commissions for this period.")
		default:
			log.Printf("level=error component=api endpoint=generate_invoice professional_id=%s err=%v", req.ProfessionalID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not generate invoice.")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, invoice)
}

// InvoiceHandler handles GET /invoices/{invoiceID}.
func (h *BillingHandlers) InvoiceHandler(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.parseUUIDParam(w, r, "invoiceID")
	if !ok {
		return
	}

	invoice, err := h.settlements.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			h.writeError(w, http.StatusNotFound, "Invoice not found.")
			return
		}
		log.Printf("level=error component=api endpoint=get_invoice invoice_id=%s err=%v", invoiceID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve invoice.")
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

// OpenInvoicesHandler handles GET /invoices/professional/{professionalID}/open.
func (h *BillingHandlers) OpenInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := h.parseUUIDParam(w, r, "professionalID")
	if !ok {
		return
	}

	invoices, err := h.settlements.GetOpenInvoices(r.Context(), professionalID)
	if err != nil {
		log.Printf("level=error component=api endpoint=open_invoices professional_id=%s err=%v", professionalID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve invoices.")
		return
	}
	h.writeJSON(w, http.StatusOK, invoices)
}

// MonthlySettlementHandler handles POST /settlements/monthly (internal).
func (h *BillingHandlers) MonthlySettlementHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.MonthlySettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	report, err := h.settlements.RunMonthlySettlement(r.Context(), req.Month, req.Year)
	if err != nil && report == nil {
		log.Printf("level=error component=api endpoint=monthly_settlement month=%d year=%d err=%v", req.Month, req.Year, err)
		h.writeError(w, http.StatusInternalServerError, "Settlement run failed.")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// CreatePayoutHandler handles POST /payouts/create.
func (h *BillingHandlers) CreatePayoutHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if req.ProfessionalID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "professional_id is required.")
		return
	}

	payout, err := h.settlements.CreatePayout(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Payout amount must be positive.")
		case errors.Is(err, store.ErrInsufficientBalance):
			h.writeError(w, http.StatusUnprocessableEntity, "Pending revenue shares are smaller than the payout.")
		default:
			log.Printf("level=error component=api endpoint=create_payout professional_id=%s err=%v", req.ProfessionalID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not create payout.")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, payout)
}

// OffsetHandler handles POST /settlements/offset.
func (h *BillingHandlers) OffsetHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.OffsetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if req.ProfessionalAID == uuid.Nil || req.ProfessionalBID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "Both professional ids are required.")
		return
	}

	record, err := h.settlements.ProcessBalanceOffset(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Offset amount must be positive.")
		case errors.Is(err, app.ErrSelfOffset):
			h.writeError(w, http.StatusBadRequest, "Cannot offset a professional against themselves.")
		case errors.Is(err, store.ErrInsufficientBalance):
			h.writeError(w, http.StatusUnprocessableEntity, "One side has insufficient balance for the offset.")
		default:
			log.Printf("level=error component=api endpoint=offset err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Could not apply offset.")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

// AutopaySweepHandler handles POST /settlements/autopay/run (internal).
func (h *BillingHandlers) AutopaySweepHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.autopay.RunSweep(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=autopay_sweep err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Autopay sweep failed.")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}
