/**
 * @description
 * Autopay sweep: professionals who opted in get their oldest open invoice
 * charged automatically against their stored payment method. Failed charges
 * back off before retrying; after the attempt budget is exhausted autopay is
 * disabled and the professional must pay manually.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
)

const (
	// DefaultAutopayMaxAttempts is how many failed charges disable autopay.
	DefaultAutopayMaxAttempts = 3

	// DefaultAutopayBackoff is the wait between failed autopay attempts.
	DefaultAutopayBackoff = 24 * time.Hour

	autopayRunLockTTL = 10 * time.Minute
)

// AutopaySweepResult summarizes one sweep run.
type AutopaySweepResult struct {
	Candidates int `json:"candidates"`
	Charged    int `json:"charged"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// AutopayService runs scheduled autopay sweeps.
type AutopayService struct {
	repo        store.Repository
	payments    *PaymentService
	guard       *RedisBillingGuard
	provider    string
	maxAttempts int
	backoff     time.Duration
}

// NewAutopayService creates an autopay service. An empty provider and
// non-positive maxAttempts or backoff fall back to the defaults.
func NewAutopayService(repo store.Repository, payments *PaymentService, guard *RedisBillingGuard, provider string, maxAttempts int, backoff time.Duration) *AutopayService {
	if provider == "" {
		provider = "tranzila"
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultAutopayMaxAttempts
	}
	if backoff <= 0 {
		backoff = DefaultAutopayBackoff
	}
	return &AutopayService{
		repo:        repo,
		payments:    payments,
		guard:       guard,
		provider:    provider,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// RunSweep charges every eligible autopay candidate once. A Redis run lock
// keeps two instances from sweeping concurrently; losing the lock is a clean
// no-op result.
func (s *AutopayService) RunSweep(ctx context.Context) (*AutopaySweepResult, error) {
	acquired, release, err := s.guard.AcquireRunLock(ctx, "autopay_sweep", autopayRunLockTTL)
	if err != nil {
		return nil, err
	}
	defer release()
	if !acquired {
		log.Printf("level=info component=autopay_service msg=\"sweep already running elsewhere; skipping\"")
		return &AutopaySweepResult{}, nil
	}

	now := time.Now().UTC()
	candidates, err := s.repo.ListAutopayCandidates(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &AutopaySweepResult{Candidates: len(candidates)}
	for _, balance := range candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		switch err := s.chargeOldestInvoice(ctx, balance); {
		case err == nil:
			result.Charged++
		case errors.Is(err, ErrNothingToInvoice), errors.Is(err, ErrInvoiceAlreadyPaid):
			result.Skipped++
		default:
			result.Failed++
		}
	}

	log.Printf("level=info component=autopay_service msg=\"sweep finished\" candidates=%d charged=%d failed=%d skipped=%d",
		result.Candidates, result.Charged, result.Failed, result.Skipped)
	return result, nil
}

// chargeOldestInvoice charges a candidate's oldest open invoice and updates
// their autopay failure state from the outcome.
func (s *AutopayService) chargeOldestInvoice(ctx context.Context, balance domain.Balance) error {
	if balance.AutopayPaymentMethodID == nil || *balance.AutopayPaymentMethodID == "" {
		return ErrAutopayDisabled
	}

	invoices, err := s.repo.FindOpenInvoices(ctx, balance.ProfessionalID)
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		return ErrNothingToInvoice
	}
	invoice := invoices[0]

	// Re-check: a manual payment may have settled the invoice after listing.
	current, err := s.repo.FindInvoiceByID(ctx, invoice.ID)
	if err != nil {
		return err
	}
	if current.Status == domain.InvoiceStatusPaid {
		return ErrInvoiceAlreadyPaid
	}

	payment, err := s.payments.ProcessPayment(ctx, domain.ProcessPaymentRequest{
		InvoiceID:            invoice.ID,
		Amount:               invoice.TotalAmount,
		PaymentMethod:        "autopay",
		GatewayProvider:      s.provider,
		PaymentMethodTokenID: *balance.AutopayPaymentMethodID,
	})
	if errors.Is(err, ErrInvoiceAlreadyPaid) {
		return ErrInvoiceAlreadyPaid
	}

	if err != nil || payment == nil || payment.Status != domain.PaymentStatusCompleted {
		return s.recordAttemptFailure(ctx, balance, invoice.ID, err)
	}

	// Success: reset the failure state for future sweeps.
	if err := s.repo.UpdateAutopayFailureState(ctx, balance.ProfessionalID, 0, nil, true); err != nil {
		log.Printf("level=warn component=autopay_service msg=\"failure state not reset after success\" professional_id=%s err=%v",
			balance.ProfessionalID, err)
	}
	return nil
}

func (s *AutopayService) recordAttemptFailure(ctx context.Context, balance domain.Balance, invoiceID uuid.UUID, cause error) error {
	attempts := balance.AutopayFailureCount + 1
	enabled := attempts < s.maxAttempts
	var nextAttempt *time.Time
	if enabled {
		t := time.Now().UTC().Add(s.backoff)
		nextAttempt = &t
	}

	if !enabled {
		log.Printf("level=warn component=autopay_service msg=\"autopay disabled after repeated failures\" professional_id=%s attempts=%d invoice_id=%s",
			balance.ProfessionalID, attempts, invoiceID)
	}
	if err := s.repo.UpdateAutopayFailureState(ctx, balance.ProfessionalID, attempts, nextAttempt, enabled); err != nil {
		log.Printf("level=error component=autopay_service msg=\"failure state not recorded\" professional_id=%s err=%v",
			balance.ProfessionalID, err)
	}

	if cause == nil {
		cause = errors.New("charge declined")
	}
	return cause
}
