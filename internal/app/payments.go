/**
 * @description
 * Payment processing against gateway providers. A payment walks
 * processing -> completed | failed; only a completed payment settles its
 * invoice (invoice -> paid, facts -> paid, outstanding reduced). Gateway
 * webhooks confirm asynchronous outcomes and are idempotent under replay.
 *
 * @notes
 * - The gateway call happens with no balance lock held; it may take up to 30
 *   seconds and must never serialize other professionals' ledger work.
 * - A failed charge records the failure reason and touches nothing else, so
 *   the professional can retry.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/gateway, pkg/rabbitmq: Gateway clients and event publication.
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
	"github.com/proflink/billing-service/pkg/gateway"
	"github.com/proflink/billing-service/pkg/rabbitmq"
)

// gatewayCallTimeout bounds one charge or refund round trip.
const gatewayCallTimeout = 30 * time.Second

// PaymentService charges invoices through gateway providers.
type PaymentService struct {
	repo          store.Repository
	balances      *BalanceLedger
	gateways      *gateway.Registry
	guard         *RedisBillingGuard
	eventProducer rabbitmq.Publisher

	refundMu    sync.Mutex
	refundLocks map[uuid.UUID]*sync.Mutex
}

// NewPaymentService creates a payment service instance.
func NewPaymentService(repo store.Repository, balances *BalanceLedger, gateways *gateway.Registry, guard *RedisBillingGuard, producer rabbitmq.Publisher) *PaymentService {
	return &PaymentService{
		repo:          repo,
		balances:      balances,
		gateways:      gateways,
		guard:         guard,
		eventProducer: producer,
		refundLocks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// refundLockFor serializes refunds of one payment so two concurrent partial
// refunds cannot both pass the remaining-amount check.
func (s *PaymentService) refundLockFor(paymentID uuid.UUID) *sync.Mutex {
	s.refundMu.Lock()
	defer s.refundMu.Unlock()
	m, ok := s.refundLocks[paymentID]
	if !ok {
		m = &sync.Mutex{}
		s.refundLocks[paymentID] = m
	}
	return m
}

// ProcessPayment charges an invoice through the requested gateway provider.
// The paid amount must equal the invoice total exactly. A gateway decline
// returns the failed payment with a nil error; transport failures return an
// error after the payment is marked failed.
func (s *PaymentService) ProcessPayment(ctx context.Context, req domain.ProcessPaymentRequest) (*domain.Payment, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	switch invoice.Status {
	case domain.InvoiceStatusPaid:
		return nil, ErrInvoiceAlreadyPaid
	case domain.InvoiceStatusSent, domain.InvoiceStatusOverdue:
	default:
		return nil, ErrInvoiceNotPayable
	}
	if req.Amount != invoice.TotalAmount {
		return nil, ErrAmountMismatch
	}

	provider, err := s.gateways.Get(req.GatewayProvider)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:              uuid.New(),
		InvoiceID:       invoice.ID,
		Amount:          req.Amount,
		Method:          req.PaymentMethod,
		GatewayProvider: provider.Name(),
		Status:          domain.PaymentStatusProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	chargeCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()
	result, err := provider.Charge(chargeCtx, gateway.ChargeRequest{
		ReferenceID:     payment.ID.String(),
		Amount:          payment.Amount,
		Currency:        "ILS",
		PaymentMethod:   req.PaymentMethod,
		PaymentMethodID: req.PaymentMethodTokenID,
		Description:     fmt.Sprintf("Invoice %d/%d", invoice.Month, invoice.Year),
	})
	if err != nil {
		reason := fmt.Sprintf("gateway error: %v", err)
		s.recordFailure(ctx, payment, invoice, reason)
		return payment, fmt.Errorf("gateway charge failed: %w", err)
	}

	if !result.Approved {
		payment.GatewayTransactionID = strPtr(result.TransactionID)
		s.recordFailure(ctx, payment, invoice, result.FailureReason)
		return payment, nil
	}

	payment.GatewayTransactionID = strPtr(result.TransactionID)
	if err := s.settleCompletedPayment(ctx, payment, invoice); err != nil {
		return payment, err
	}
	return payment, nil
}

// settleCompletedPayment marks the payment completed and settles its invoice:
// invoice -> paid, line-item facts -> paid, and the payer's outstanding
// commissions reduced by the invoice subtotal (VAT is owed to the tax
// authority, not part of the commission debt).
func (s *PaymentService) settleCompletedPayment(ctx context.Context, payment *domain.Payment, invoice *domain.Invoice) error {
	if err := s.repo.UpdatePaymentResult(ctx, payment.ID, payment.GatewayTransactionID, domain.PaymentStatusCompleted, nil); err != nil {
		return fmt.Errorf("charge succeeded but payment not recorded: %w", err)
	}
	payment.Status = domain.PaymentStatusCompleted

	if err := s.repo.UpdateInvoiceStatus(ctx, invoice.ID, domain.InvoiceStatusPaid); err != nil {
		log.Printf("level=error component=payment_service msg=\"invoice not marked paid\" invoice_id=%s err=%v", invoice.ID, err)
	}
	if err := s.repo.MarkFactsPaid(ctx, invoice.LineItemIDs, payment.ID); err != nil {
		log.Printf("level=error component=payment_service msg=\"facts not marked paid\" invoice_id=%s err=%v", invoice.ID, err)
	}
	if _, err := s.balances.ApplyPayment(ctx, invoice.ProfessionalID, invoice.Subtotal); err != nil {
		log.Printf("level=error component=payment_service msg=\"outstanding not reduced; balance drifted\" invoice_id=%s err=%v", invoice.ID, err)
	}

	s.publishOutcome(ctx, payment, invoice, nil)
	return nil
}

// recordFailure marks the payment failed with a reason. The invoice and the
// professional's balance are untouched; the charge can be retried.
func (s *PaymentService) recordFailure(ctx context.Context, payment *domain.Payment, invoice *domain.Invoice, reason string) error {
	if err := s.repo.UpdatePaymentResult(ctx, payment.ID, payment.GatewayTransactionID, domain.PaymentStatusFailed, &reason); err != nil {
		log.Printf("level=error component=payment_service msg=\"failed payment not recorded\" payment_id=%s err=%v", payment.ID, err)
		return err
	}
	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = &reason

	s.publishOutcome(ctx, payment, invoice, &reason)
	return nil
}

func (s *PaymentService) publishOutcome(ctx context.Context, payment *domain.Payment, invoice *domain.Invoice, failureReason *string) {
	event := domain.PaymentOutcomeEvent{
		PaymentID:      payment.ID,
		InvoiceID:      invoice.ID,
		ProfessionalID: invoice.ProfessionalID,
		Amount:         payment.Amount,
		Status:         payment.Status,
		FailureReason:  failureReason,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.eventProducer.PublishPaymentOutcome(ctx, event); err != nil {
		log.Printf("level=warn component=payment_service msg=\"failed to publish payment outcome event\" payment_id=%s err=%v", payment.ID, err)
	}
}

// GetPayment returns one payment by id.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return s.repo.FindPaymentByID(ctx, paymentID)
}

// RefundPayment refunds part or all of a completed payment through its
// original gateway. Refunds never re-increase outstanding commissions;
// re-owing commission after a refund is a manual finance decision.
func (s *PaymentService) RefundPayment(ctx context.Context, paymentID uuid.UUID, req domain.RefundPaymentRequest) (*domain.Refund, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	m := s.refundLockFor(paymentID)
	m.Lock()
	defer m.Unlock()

	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, ErrPaymentNotRefundable
	}
	if req.Amount > payment.Amount-payment.RefundedAmount {
		return nil, ErrRefundExceedsPayment
	}
	if payment.GatewayTransactionID == nil {
		return nil, fmt.Errorf("payment has no gateway transaction id")
	}

	provider, err := s.gateways.Get(payment.GatewayProvider)
	if err != nil {
		return nil, err
	}

	refundCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()
	result, err := provider.Refund(refundCtx, *payment.GatewayTransactionID, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("gateway refund failed: %w", err)
	}
	if !result.Approved {
		return nil, fmt.Errorf("gateway rejected refund: %s", result.Reason)
	}

	refund := &domain.Refund{
		ID:        uuid.New(),
		PaymentID: payment.ID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateRefund(ctx, refund); err != nil {
		if errors.Is(err, store.ErrRefundConflict) {
			return nil, ErrRefundExceedsPayment
		}
		return nil, fmt.Errorf("refund executed but not recorded: %w", err)
	}
	return refund, nil
}

// WebhookNotification is the normalized payload handlers extract from a
// provider-specific webhook body.
type WebhookNotification struct {
	Provider   string
	ExternalID string
	Status     string // "completed" or "failed"
	Reason     string
}

// ProcessWebhook applies an asynchronous gateway outcome to its payment.
// Replays of the same (provider, external id) are no-ops once the outcome has
// been applied: the Redis marker, written only after the outcome commits,
// catches most of them and the payment status check catches the rest. A
// replayed event whose payment is still processing means an earlier delivery
// died before the transition committed, so the retry applies the outcome
// instead of dropping it.
func (s *PaymentService) ProcessWebhook(ctx context.Context, n WebhookNotification) error {
	if n.ExternalID == "" {
		return fmt.Errorf("webhook has no external transaction id")
	}

	handled, err := s.guard.WebhookHandled(ctx, n.Provider, n.ExternalID)
	if err != nil {
		log.Printf("level=warn component=payment_service msg=\"webhook dedupe fast path unavailable\" provider=%s err=%v", n.Provider, err)
	} else if handled {
		return nil
	}

	err = s.repo.RecordWebhookEvent(ctx, &domain.WebhookEvent{
		ID:         uuid.New(),
		Provider:   n.Provider,
		ExternalID: n.ExternalID,
		Status:     n.Status,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, store.ErrWebhookReplayed) {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}

	payment, err := s.repo.FindPaymentByGatewayTransactionID(ctx, n.Provider, n.ExternalID)
	if err != nil {
		return err
	}
	if payment.Status != domain.PaymentStatusProcessing {
		// Already resolved, either synchronously or by an earlier delivery.
		s.markWebhookHandled(ctx, n.Provider, n.ExternalID)
		return nil
	}

	invoice, err := s.repo.FindInvoiceByID(ctx, payment.InvoiceID)
	if err != nil {
		return err
	}

	switch n.Status {
	case domain.PaymentStatusCompleted:
		if err := s.settleCompletedPayment(ctx, payment, invoice); err != nil {
			return err
		}
	case domain.PaymentStatusFailed:
		reason := n.Reason
		if reason == "" {
			reason = "declined by gateway"
		}
		if err := s.recordFailure(ctx, payment, invoice, reason); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown webhook status %q", n.Status)
	}

	s.markWebhookHandled(ctx, n.Provider, n.ExternalID)
	return nil
}

// markWebhookHandled is best effort; the payment status check above stays
// authoritative when the marker is lost.
func (s *PaymentService) markWebhookHandled(ctx context.Context, provider, externalID string) {
	if _, err := s.guard.MarkWebhookSeen(ctx, provider, externalID); err != nil {
		log.Printf("level=warn component=payment_service msg=\"webhook marker not written\" provider=%s err=%v", provider, err)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
