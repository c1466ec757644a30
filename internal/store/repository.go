/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * the billing-service needs. The application layer depends only on this
 * interface, which keeps the ledger logic independent of PostgreSQL and easy to
 * stub in tests.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/domain"
)

var (
	ErrFactNotFound           = errors.New("commission fact not found")
	ErrBalanceNotFound        = errors.New("balance not found")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrDuplicateCommission    = errors.New("commission already recorded for job")
	ErrDuplicateInvoice       = errors.New("invoice already exists for period")
	ErrInvalidStateTransition = errors.New("invalid status transition")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrRefundConflict         = errors.New("refund exceeds the refundable payment amount")
	ErrWebhookReplayed        = errors.New("webhook already processed")
)

// BalanceTotals is the recomputed pair returned by RecalculateBalance.
type BalanceTotals struct {
	OutstandingCommissions int64
	PendingRevenueShares   int64
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Commission ledger (immutable facts; only status and invoice_id mutate)
	CreateCommissionFacts(ctx context.Context, facts []domain.CommissionFact) error
	FindFactsByJobID(ctx context.Context, jobID uuid.UUID) ([]domain.CommissionFact, error)
	FindFactsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]domain.CommissionFact, error)
	FindUnpaidFacts(ctx context.Context, professionalID uuid.UUID) ([]domain.CommissionFact, error)
	FindUninvoicedPlatformFacts(ctx context.Context, professionalID uuid.UUID) ([]domain.CommissionFact, error)
	FindMonthlyFacts(ctx context.Context, professionalID uuid.UUID, month, year int) ([]domain.CommissionFact, error)
	FindFactsByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]domain.CommissionFact, error)
	MarkFactsInvoiced(ctx context.Context, factIDs []uuid.UUID, invoiceID uuid.UUID) error
	MarkFactsPaid(ctx context.Context, factIDs []uuid.UUID, paymentID uuid.UUID) error

	// Balance ledger rows. Mutations update both source columns and net_balance
	// in one statement; callers serialize per professional (see app.BalanceLedger).
	GetBalance(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error)
	EnsureBalance(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error)
	AddCommissionDebt(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error)
	AddRevenueShare(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error)
	ReduceOutstanding(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error)
	ReducePending(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error)
	ApplyOffset(ctx context.Context, record *domain.OffsetRecord) error
	RecalculateBalance(ctx context.Context, professionalID uuid.UUID) (BalanceTotals, error)
	SaveRecalculatedBalance(ctx context.Context, professionalID uuid.UUID, totals BalanceTotals) (*domain.Balance, error)
	ListDebtorBalances(ctx context.Context) ([]domain.Balance, error)

	// Autopay state on the balance row.
	SetAutopay(ctx context.Context, professionalID uuid.UUID, enabled bool, paymentMethodID *string) error
	UpdateAutopayFailureState(ctx context.Context, professionalID uuid.UUID, failureCount int, nextAttempt *time.Time, enabled bool) error
	ListAutopayCandidates(ctx context.Context, now time.Time) ([]domain.Balance, error)

	// Invoices
	CreateInvoiceWithFacts(ctx context.Context, invoice *domain.Invoice, factIDs []uuid.UUID) error
	FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error)
	FindInvoiceForPeriod(ctx context.Context, professionalID uuid.UUID, month, year int) (*domain.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status string) error
	FindOpenInvoices(ctx context.Context, professionalID uuid.UUID) ([]domain.Invoice, error)

	// Payments and refunds
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	UpdatePaymentResult(ctx context.Context, paymentID uuid.UUID, gatewayTransactionID *string, status string, failureReason *string) error
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	FindPaymentByGatewayTransactionID(ctx context.Context, provider, externalID string) (*domain.Payment, error)
	CreateRefund(ctx context.Context, refund *domain.Refund) error

	// Payouts
	CreatePayout(ctx context.Context, payout *domain.Payout) error

	// Webhook replay protection
	RecordWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
}
