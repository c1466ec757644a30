/**
 * @description
 * This file defines the balance/settlement-side domain models: the authoritative
 * per-professional Balance, monthly Invoices, gateway Payments, Payouts, manual
 * OffsetRecords and Refund audit rows.
 *
 * @notes
 * - Balance.NetBalance is always derived (PendingRevenueShares - OutstandingCommissions);
 *   it is persisted alongside the two source fields but never set independently.
 * - Invoices/Payments/Payouts/Offsets are never deleted; cancellation is a status
 *   transition.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invoice status lifecycle: draft -> sent -> paid | overdue | cancelled.
const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusSent      = "sent"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverdue   = "overdue"
	InvoiceStatusCancelled = "cancelled"
)

// Payment status lifecycle: processing -> completed | failed, completed -> refunded.
const (
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

// Payout delivery methods.
const (
	PayoutMethodBankTransfer        = "bank_transfer"
	PayoutMethodCreditToNextInvoice = "credit_to_next_invoice"
	PayoutMethodManualCheck         = "manual_check"
)

// Payout statuses.
const (
	PayoutStatusPending   = "pending"
	PayoutStatusQueued    = "queued"
	PayoutStatusApplied   = "applied"
	PayoutStatusCompleted = "completed"
)

// Balance is the current net position of one professional, one row per professional.
type Balance struct {
	ProfessionalID         uuid.UUID  `json:"professional_id"`
	OutstandingCommissions int64      `json:"outstanding_commissions"` // >= 0, owed TO platform
	PendingRevenueShares   int64      `json:"pending_revenue_shares"`  // >= 0, owed TO professional
	NetBalance             int64      `json:"net_balance"`             // pending - outstanding
	AutopayEnabled         bool       `json:"autopay_enabled"`
	AutopayPaymentMethodID *string    `json:"autopay_payment_method_id,omitempty"`
	AutopayFailureCount    int        `json:"autopay_failure_count"`
	AutopayNextAttemptAt   *time.Time `json:"autopay_next_attempt_at,omitempty"`
	LastUpdated            time.Time  `json:"last_updated"`
}

// Invoice converts a professional's outstanding commissions for one billing
// period into a payable document. At most one non-cancelled invoice may exist
// per (professional, month, year).
type Invoice struct {
	ID             uuid.UUID   `json:"id"`
	ProfessionalID uuid.UUID   `json:"professional_id"`
	Month          int         `json:"month"`
	Year           int         `json:"year"`
	IssueDate      time.Time   `json:"issue_date"`
	DueDate        time.Time   `json:"due_date"`
	Status         string      `json:"status"`
	Subtotal       int64       `json:"subtotal"`     // in agorot
	VATAmount      int64       `json:"vat_amount"`   // in agorot
	TotalAmount    int64       `json:"total_amount"` // subtotal + vat
	LineItemIDs    []uuid.UUID `json:"line_item_ids"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Payment is one attempt to settle an Invoice through a gateway provider.
type Payment struct {
	ID                   uuid.UUID `json:"id"`
	InvoiceID            uuid.UUID `json:"invoice_id"`
	Amount               int64     `json:"amount"` // must equal invoice total
	Method               string    `json:"method"` // e.g. 'credit_card', 'direct_debit'
	GatewayProvider      string    `json:"gateway_provider"`
	GatewayTransactionID *string   `json:"gateway_transaction_id,omitempty"`
	Status               string    `json:"status"`
	FailureReason        *string   `json:"failure_reason,omitempty"`
	RefundedAmount       int64     `json:"refunded_amount"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Refund is the audit record of money returned against a completed Payment.
// Refunds never re-increase outstanding_commissions; re-owing commission after a
// refund is a manual finance decision.
type Refund struct {
	ID        uuid.UUID `json:"id"`
	PaymentID uuid.UUID `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Payout is an outbound transfer of positive balance to a professional.
type Payout struct {
	ID             uuid.UUID `json:"id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Amount         int64     `json:"amount"`
	Method         string    `json:"method"`
	Status         string    `json:"status"`
	BankDetails    *string   `json:"bank_details,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// OffsetRecord is the audit record of a manual netting between two professionals:
// A's pending revenue shares and B's outstanding commissions both decrease by
// the offset amount (conservation of total system debt).
type OffsetRecord struct {
	ID              uuid.UUID `json:"id"`
	ProfessionalAID uuid.UUID `json:"professional_a_id"`
	ProfessionalBID uuid.UUID `json:"professional_b_id"`
	OffsetAmount    int64     `json:"offset_amount"`
	CreatedAt       time.Time `json:"created_at"`
}

// WebhookEvent is the dedupe row persisted per external gateway transaction id.
// A replayed webhook with the same (provider, external_id) is a no-op.
type WebhookEvent struct {
	ID         uuid.UUID `json:"id"`
	Provider   string    `json:"provider"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
}

// ProcessPaymentRequest is the DTO for POST /payments/process.
type ProcessPaymentRequest struct {
	InvoiceID            uuid.UUID `json:"invoice_id"`
	Amount               int64     `json:"amount"`
	PaymentMethod        string    `json:"payment_method"`
	GatewayProvider      string    `json:"gateway_provider"`
	PaymentMethodTokenID string    `json:"payment_method_token_id"` // gateway-side stored instrument
}

// CreatePayoutRequest is the DTO for POST /payouts/create.
type CreatePayoutRequest struct {
	ProfessionalID uuid.UUID `json:"professional_id"`
	Amount         int64     `json:"amount"`
	PayoutMethod   string    `json:"payout_method"`
	BankDetails    *string   `json:"bank_details,omitempty"`
}

// OffsetRequest is the DTO for POST /settlements/offset.
type OffsetRequest struct {
	ProfessionalAID uuid.UUID `json:"professional_a_id"`
	ProfessionalBID uuid.UUID `json:"professional_b_id"`
	OffsetAmount    int64     `json:"offset_amount"`
}

// GenerateInvoiceRequest is the DTO for POST /invoices/generate.
type GenerateInvoiceRequest struct {
	ProfessionalID uuid.UUID `json:"professional_id"`
	Month          int       `json:"month"`
	Year           int       `json:"year"`
}

// MonthlySettlementRequest is the DTO for POST /settlements/monthly.
type MonthlySettlementRequest struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// RefundPaymentRequest is the DTO for POST /payments/{id}/refund.
type RefundPaymentRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// SettlementError captures one professional's failure inside a batch run
// without aborting the run for everyone else.
type SettlementError struct {
	ProfessionalID uuid.UUID `json:"professional_id"`
	Reason         string    `json:"reason"`
}

// SettlementReport summarizes one monthly settlement run.
type SettlementReport struct {
	Month    int               `json:"month"`
	Year     int               `json:"year"`
	Invoices []Invoice         `json:"invoices"`
	Skipped  int               `json:"skipped"`
	Errors   []SettlementError `json:"errors"`
}
