/**
 * @description
 * Monthly settlement orchestration: turning recorded commission facts into
 * invoices, creating payouts for positive balances, and netting balances
 * between professionals. The monthly run fans out over a bounded worker pool
 * and isolates failures per professional, so one bad account never aborts the
 * whole batch.
 *
 * @dependencies
 * - context, fmt, log, sync, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
	"github.com/proflink/billing-service/pkg/rabbitmq"
)

const (
	// DefaultVATRateBP is the Israeli VAT rate in basis points.
	DefaultVATRateBP = 1700

	// DefaultSettlementWorkers bounds concurrent per-professional settlement work.
	DefaultSettlementWorkers = 8

	// invoiceDueDays is how long after issue an invoice is payable before overdue.
	invoiceDueDays = 14
)

// SettlementService orchestrates invoicing, payouts and offsets.
type SettlementService struct {
	repo          store.Repository
	balances      *BalanceLedger
	eventProducer rabbitmq.Publisher
	vatRateBP     int64
	workers       int
}

// NewSettlementService creates a settlement service. Non-positive vatRateBP or
// workers fall back to the defaults.
func NewSettlementService(repo store.Repository, balances *BalanceLedger, producer rabbitmq.Publisher, vatRateBP int64, workers int) *SettlementService {
	if vatRateBP <= 0 {
		vatRateBP = DefaultVATRateBP
	}
	if workers <= 0 {
		workers = DefaultSettlementWorkers
	}
	return &SettlementService{
		repo:          repo,
		balances:      balances,
		eventProducer: producer,
		vatRateBP:     vatRateBP,
		workers:       workers,
	}
}

// vatOn computes VAT on a subtotal, rounding half up to the nearest agora.
func (s *SettlementService) vatOn(subtotal int64) int64 {
	return (subtotal*s.vatRateBP + 5000) / 10000
}

// GenerateInvoice creates the invoice for one professional and billing period.
// It sweeps every uninvoiced platform-recipient fact recorded up to the end of
// the period, so facts missed by an earlier failed run are picked up. A second
// call for the same period returns store.ErrDuplicateInvoice.
func (s *SettlementService) GenerateInvoice(ctx context.Context, professionalID uuid.UUID, month, year int) (*domain.Invoice, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month %d", month)
	}

	if _, err := s.repo.FindInvoiceForPeriod(ctx, professionalID, month, year); err == nil {
		return nil, store.ErrDuplicateInvoice
	} else if !errors.Is(err, store.ErrInvoiceNotFound) {
		return nil, fmt.Errorf("failed to check existing invoice: %w", err)
	}

	facts, err := s.repo.FindUninvoicedPlatformFacts(ctx, professionalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load uninvoiced facts: %w", err)
	}

	periodEnd := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	var subtotal int64
	factIDs := make([]uuid.UUID, 0, len(facts))
	for _, f := range facts {
		if !f.RecordedAt.Before(periodEnd) {
			continue
		}
		subtotal += f.Amount
		factIDs = append(factIDs, f.ID)
	}
	if len(factIDs) == 0 {
		return nil, ErrNothingToInvoice
	}

	now := time.Now().UTC()
	vat := s.vatOn(subtotal)
	invoice := &domain.Invoice{
		ID:             uuid.New(),
		ProfessionalID: professionalID,
		Month:          month,
		Year:           year,
		IssueDate:      now,
		DueDate:        now.AddDate(0, 0, invoiceDueDays),
		Status:         domain.InvoiceStatusDraft,
		Subtotal:       subtotal,
		VATAmount:      vat,
		TotalAmount:    subtotal + vat,
		LineItemIDs:    factIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.CreateInvoiceWithFacts(ctx, invoice, factIDs); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateInvoiceStatus(ctx, invoice.ID, domain.InvoiceStatusSent); err != nil {
		log.Printf("level=error component=settlement_service msg=\"invoice created but not marked sent\" invoice_id=%s err=%v", invoice.ID, err)
	} else {
		invoice.Status = domain.InvoiceStatusSent
	}

	event := domain.InvoiceIssuedEvent{
		InvoiceID:      invoice.ID,
		ProfessionalID: professionalID,
		Month:          month,
		Year:           year,
		TotalAmount:    invoice.TotalAmount,
		DueDate:        invoice.DueDate,
		Timestamp:      now,
	}
	if err := s.eventProducer.PublishInvoiceIssued(ctx, event); err != nil {
		log.Printf("level=warn component=settlement_service msg=\"failed to publish invoice issued event\" invoice_id=%s err=%v", invoice.ID, err)
	}

	return invoice, nil
}

// GetInvoice returns one invoice with its line items.
func (s *SettlementService) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	return s.repo.FindInvoiceByID(ctx, invoiceID)
}

// GetOpenInvoices returns a professional's sent and overdue invoices.
func (s *SettlementService) GetOpenInvoices(ctx context.Context, professionalID uuid.UUID) ([]domain.Invoice, error) {
	return s.repo.FindOpenInvoices(ctx, professionalID)
}

// RunMonthlySettlement invoices every professional with outstanding
// commissions for the given period. Professionals already invoiced for the
// period, or with nothing to invoice, are counted as skipped; individual
// failures land in the report without stopping the run.
func (s *SettlementService) RunMonthlySettlement(ctx context.Context, month, year int) (*domain.SettlementReport, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month %d", month)
	}

	debtors, err := s.repo.ListDebtorBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list debtor balances: %w", err)
	}

	log.Printf("level=info component=settlement_service msg=\"monthly settlement started\" month=%d year=%d professionals=%d workers=%d",
		month, year, len(debtors), s.workers)

	report := &domain.SettlementReport{Month: month, Year: year}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)

	for _, debtor := range debtors {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(professionalID uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()

			invoice, err := s.GenerateInvoice(ctx, professionalID, month, year)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Invoices = append(report.Invoices, *invoice)
			case errors.Is(err, store.ErrDuplicateInvoice), errors.Is(err, ErrNothingToInvoice):
				report.Skipped++
			default:
				log.Printf("level=error component=settlement_service msg=\"settlement failed for professional\" professional_id=%s err=%v", professionalID, err)
				report.Errors = append(report.Errors, domain.SettlementError{
					ProfessionalID: professionalID,
					Reason:         err.Error(),
				})
			}
		}(debtor.ProfessionalID)
	}
	wg.Wait()

	log.Printf("level=info component=settlement_service msg=\"monthly settlement finished\" month=%d year=%d invoiced=%d skipped=%d errors=%d",
		month, year, len(report.Invoices), report.Skipped, len(report.Errors))

	return report, ctx.Err()
}

// CreatePayout pays out part of a professional's positive balance. The pending
// side is debited first; creating the payout record afterwards. A
// credit_to_next_invoice payout additionally reduces the professional's own
// outstanding commissions and is applied immediately.
func (s *SettlementService) CreatePayout(ctx context.Context, req domain.CreatePayoutRequest) (*domain.Payout, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	status := domain.PayoutStatusQueued
	switch req.PayoutMethod {
	case domain.PayoutMethodBankTransfer, domain.PayoutMethodManualCheck:
	case domain.PayoutMethodCreditToNextInvoice:
		status = domain.PayoutStatusApplied
	default:
		return nil, fmt.Errorf("unknown payout method %q", req.PayoutMethod)
	}

	if _, err := s.balances.ApplyPayout(ctx, req.ProfessionalID, req.Amount); err != nil {
		return nil, err
	}

	if req.PayoutMethod == domain.PayoutMethodCreditToNextInvoice {
		// Credit at most what is outstanding; the rest of the payout stays a
		// plain pending-side debit.
		credit := req.Amount
		if balance, err := s.balances.Get(ctx, req.ProfessionalID); err == nil && balance.OutstandingCommissions < credit {
			credit = balance.OutstandingCommissions
		}
		if credit > 0 {
			if _, err := s.balances.ApplyPayment(ctx, req.ProfessionalID, credit); err != nil {
				log.Printf("level=error component=settlement_service msg=\"payout credit not applied to outstanding\" professional_id=%s err=%v",
					req.ProfessionalID, err)
			}
		}
	}

	now := time.Now().UTC()
	payout := &domain.Payout{
		ID:             uuid.New(),
		ProfessionalID: req.ProfessionalID,
		Amount:         req.Amount,
		Method:         req.PayoutMethod,
		Status:         status,
		BankDetails:    req.BankDetails,
		CreatedAt:      now,
	}
	if err := s.repo.CreatePayout(ctx, payout); err != nil {
		// The balance was already debited; put the money back.
		if _, restoreErr := s.balances.AddRevenueShare(ctx, req.ProfessionalID, req.Amount); restoreErr != nil {
			log.Printf("level=error component=settlement_service msg=\"payout record failed and balance not restored\" professional_id=%s err=%v",
				req.ProfessionalID, restoreErr)
		}
		return nil, fmt.Errorf("failed to create payout record: %w", err)
	}

	event := domain.PayoutCreatedEvent{
		PayoutID:       payout.ID,
		ProfessionalID: payout.ProfessionalID,
		Amount:         payout.Amount,
		Method:         payout.Method,
		Timestamp:      now,
	}
	if err := s.eventProducer.PublishPayoutCreated(ctx, event); err != nil {
		log.Printf("level=warn component=settlement_service msg=\"failed to publish payout created event\" payout_id=%s err=%v", payout.ID, err)
	}

	return payout, nil
}

// ProcessBalanceOffset nets professional A's pending revenue shares against
// professional B's outstanding commissions.
func (s *SettlementService) ProcessBalanceOffset(ctx context.Context, req domain.OffsetRequest) (*domain.OffsetRecord, error) {
	record := &domain.OffsetRecord{
		ID:              uuid.New(),
		ProfessionalAID: req.ProfessionalAID,
		ProfessionalBID: req.ProfessionalBID,
		OffsetAmount:    req.OffsetAmount,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.balances.ApplyOffset(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
