/**
 * @description
 * This file contains the HTTP handlers for the commission and balance endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application services, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/app"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
)

// BillingHandlers holds the application services that handlers will use.
type BillingHandlers struct {
	commissions *app.Service
	settlements *app.SettlementService
	payments    *app.PaymentService
	autopay     *app.AutopayService
}

// NewBillingHandlers creates a new instance of BillingHandlers.
func NewBillingHandlers(commissions *app.Service, settlements *app.SettlementService, payments *app.PaymentService, autopay *app.AutopayService) *BillingHandlers {
	return &BillingHandlers{
		commissions: commissions,
		settlements: settlements,
		payments:    payments,
		autopay:     autopay,
	}
}

// RecordCommissionHandler handles POST /commissions/record.
func (h *BillingHandlers) RecordCommissionHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordCommissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if req.ProfessionalID == uuid.Nil || req.JobID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "professional_id and job_id are required.")
		return
	}

	facts, err := h.commissions.RecordCommission(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateCommission):
			h.writeError(w, http.StatusConflict, "Commission already recorded for this job.")
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Job value must be positive.")
		case errors.Is(err, app.ErrInvalidRate):
			h.writeError(w, http.StatusBadRequest, "Commission rate must be within [0,1].")
		default:
			log.Printf("level=error component=api endpoint=record_commission job_id=%s err=%v", req.JobID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not record commission.")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, facts)
}

// JobCommissionsHandler handles GET /commissions/job/{jobID}.
func (h *BillingHandlers) JobCommissionsHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseUUIDParam(w, r, "jobID")
	if !ok {
		return
	}

	facts, err := h.commissions.GetCommissionsByJob(r.Context(), jobID)
	if err != nil {
		log.Printf("level=error component=api endpoint=job_commissions job_id=%s err=%v", jobID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve commissions.")
		return
	}
	h.writeJSON(w, http.StatusOK, facts)
}

// ProfessionalCommissionsHandler handles GET /commissions/professional/{professionalID}.
func (h *BillingHandlers) ProfessionalCommissionsHandler(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := h.parseUUIDParam(w, r, "professionalID")
	if !ok {
		return
	}

	facts, err := h.commissions.GetCommissionsByProfessional(r.Context(), professionalID)
	if err != nil {
		log.Printf("level=error component=api endpoint=professional_commissions professional_id=%s err=%v", professionalID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve commissions.")
		return
	}
	h.writeJSON(w, http.StatusOK, facts)
}

// MonthlySummaryHandler handles GET /commissions/professional/{professionalID}/summary.
func (h *BillingHandlers) MonthlySummaryHandler(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := h.parseUUIDParam(w, r, "professionalID")
	if !ok {
		return
	}
	month, year, ok := h.parsePeriodQuery(w, r)
	if !ok {
		return
	}

	summary, err := h.commissions.GetMonthlySummary(r.Context(), professionalID, month, year)
	if err != nil {
		log.Printf("level=error component=api endpoint=monthly_summary professional_id=%s err=%v", professionalID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve summary.")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// BalanceHandler handles GET /balances/{professionalID}.
func (h *BillingHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := h.parseUUIDParam(w, r, "professionalID")
	if !ok {
		return
	}

	balance, err := h.commissions.GetBalance(r.Context(), professionalID)
	if err != nil {
		if errors.Is(err, store.ErrBalanceNotFound) {
			h.writeError(w, http.StatusNotFound, "No balance recorded for this professional.")
			return
		}
		log.Printf("level=error component=api endpoint=get_balance professional_id=%s err=%v", professionalID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve balance.")
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// RecalculateBalanceHandler handles POST /balances/{professionalID}/recalculate.
func (h *BillingHandlers) RecalculateBalanceHandler(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := h.parseUUIDParam(w, r, "professionalID")
	if !ok {
		return
	}

	balance, err := h.commissions.RecalculateBalance(r.Context(), professionalID)
	if err != nil {
		log.Printf("level=error component=api endpoint=recalculate_balance professional_id=%s err=%v", professionalID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not recalculate balance.")
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

type autopayRequest struct {
	Enabled         bool    `json:"enabled"`
	PaymentMethodID *string `json:"payment_method_id,omitempty"`
}

// SetAutopayHandler handles PUT /balances/{professionalID}/autopay.
func (h *BillingHandlers) SetAutopayHandler(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := h.parseUUIDParam(w, r, "professionalID")
	if !ok {
		return
	}

	var req autopayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	if err := h.commissions.SetAutopay(r.Context(), professionalID, req.Enabled, req.PaymentMethodID); err != nil {
		if req.Enabled && req.PaymentMethodID == nil {
			h.writeError(w, http.StatusBadRequest, "Autopay requires a stored payment method.")
			return
		}
		log.Printf("level=error component=api endpoint=set_autopay professional_id=%s err=%v", professionalID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not update autopay settings.")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"autopay_enabled": req.Enabled})
}

// parseUUIDParam extracts and validates a UUID path parameter.
func (h *BillingHandlers) parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+name+" format.")
		return uuid.Nil, false
	}
	return id, true
}

// parsePeriodQuery extracts month/year query parameters, defaulting to the
// current month.
func (h *BillingHandlers) parsePeriodQuery(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	now := time.Now().UTC()
	month, year := int(now.Month()), now.Year()

	if raw := r.URL.Query().Get("month"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 || m > 12 {
			h.writeError(w, http.StatusBadRequest, "Invalid month.")
			return 0, 0, false
		}
		month = m
	}
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil || y < 2000 || y > 2200 {
			h.writeError(w, http.StatusBadRequest, "Invalid year.")
			return 0, 0, false
		}
		year = y
	}
	return month, year, true
}

// writeJSON is a helper for writing JSON responses.
func (h *BillingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BillingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
