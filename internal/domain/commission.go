/**
 * @description
 * This file defines the commission-side domain models for the billing-service.
 * A CommissionFact is the immutable record of money owed by or to one party for
 * one completed job; everything downstream (balances, invoices, payouts) is
 * derived from these facts.
 *
 * @notes
 * - Amounts are stored as `int64` in agorot (1 ILS = 100 agorot) to avoid
 *   floating-point inaccuracies with financial data.
 * - A fact's amount and recipient are fixed at creation. Only `status` and
 *   `invoice_id` may change afterwards (audit immutability).
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Commission types describe why the commission is owed.
const (
	CommissionTypeCustomerJob = "customer_job"
	CommissionTypeReferralJob = "referral_job"
)

// Recipient types identify who is owed the money.
const (
	RecipientTypePlatform = "platform"
	RecipientTypeReferrer = "referrer"
)

// CommissionFact status lifecycle: recorded -> invoiced -> paid.
const (
	FactStatusRecorded = "recorded"
	FactStatusInvoiced = "invoiced"
	FactStatusPaid     = "paid"
)

// CommissionFact is the immutable ledger record of a single commission obligation.
// This struct maps directly to the `commission_facts` table.
type CommissionFact struct {
	ID                  uuid.UUID  `json:"id"`
	JobID               uuid.UUID  `json:"job_id"`
	PayerProfessionalID uuid.UUID  `json:"payer_professional_id"`
	JobValue            int64      `json:"job_value"` // in agorot
	CommissionType      string     `json:"commission_type"`
	Rate                float64    `json:"rate"`
	Amount              int64      `json:"amount"` // in agorot
	RecipientID         *uuid.UUID `json:"recipient_id,omitempty"`
	RecipientType       string     `json:"recipient_type"`
	ChainLevel          int        `json:"chain_level"` // 0 = direct referrer
	Status              string     `json:"status"`
	InvoiceID           *uuid.UUID `json:"invoice_id,omitempty"`
	Description         string     `json:"description"`
	RecordedAt          time.Time  `json:"recorded_at"`
}

// RecordCommissionRequest is the DTO for the POST /commissions/record endpoint.
type RecordCommissionRequest struct {
	ProfessionalID    uuid.UUID  `json:"professional_id"`
	JobID             uuid.UUID  `json:"job_id"`
	JobValue          int64      `json:"job_value"` // in agorot
	CommissionType    string     `json:"commission_type"`
	CommissionRate    *float64   `json:"commission_rate,omitempty"`
	Category          string     `json:"category,omitempty"`
	ReferrerID        *uuid.UUID `json:"referrer_id,omitempty"`
	ReferrerShareRate *float64   `json:"referrer_share_rate,omitempty"`
}

// MonthlyCommissionSummary aggregates a professional's facts for one billing period.
type MonthlyCommissionSummary struct {
	ProfessionalID uuid.UUID `json:"professional_id"`
	Month          int       `json:"month"`
	Year           int       `json:"year"`
	FactCount      int       `json:"fact_count"`
	TotalAmount    int64     `json:"total_amount"`
}
