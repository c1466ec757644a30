/**
 * @description
 * Event payloads exchanged with collaborating services over RabbitMQ.
 * The Lead/Proposal service publishes `job.completed.*` events at job-close
 * time; the billing-service publishes billing outcomes that the Notification
 * service consumes fire-and-forget.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobCompletedEvent is consumed from the Lead/Proposal service when an accepted
// proposal closes. It carries everything needed to record commission for the job.
type JobCompletedEvent struct {
	JobID          uuid.UUID  `json:"job_id"`
	ProfessionalID uuid.UUID  `json:"professional_id"`
	JobValue       int64      `json:"job_value"` // in agorot
	Category       string     `json:"category"`
	CommissionType string     `json:"commission_type"`
	ReferrerID     *uuid.UUID `json:"referrer_id,omitempty"`
	ClosedAt       time.Time  `json:"closed_at"`
}

// CommissionRecordedEvent is published after commission facts are persisted.
type CommissionRecordedEvent struct {
	JobID               uuid.UUID `json:"job_id"`
	PayerProfessionalID uuid.UUID `json:"payer_professional_id"`
	FactCount           int       `json:"fact_count"`
	TotalAmount         int64     `json:"total_amount"`
	Timestamp           time.Time `json:"timestamp"`
}

// InvoiceIssuedEvent is published when a settlement run emits an invoice.
type InvoiceIssuedEvent struct {
	InvoiceID      uuid.UUID `json:"invoice_id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Month          int       `json:"month"`
	Year           int       `json:"year"`
	TotalAmount    int64     `json:"total_amount"`
	DueDate        time.Time `json:"due_date"`
	Timestamp      time.Time `json:"timestamp"`
}

// PaymentOutcomeEvent is published for both completed and failed payments.
type PaymentOutcomeEvent struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	InvoiceID      uuid.UUID `json:"invoice_id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Amount         int64     `json:"amount"`
	Status         string    `json:"status"`
	FailureReason  *string   `json:"failure_reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PayoutCreatedEvent is published when a payout is created for a professional.
type PayoutCreatedEvent struct {
	PayoutID       uuid.UUID `json:"payout_id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Amount         int64     `json:"amount"`
	Method         string    `json:"method"`
	Timestamp      time.Time `json:"timestamp"`
}
