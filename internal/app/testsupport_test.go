package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
	"github.com/proflink/billing-service/pkg/gateway"
)

// memRepo is an in-memory store.Repository with the same duplicate, guard and
// clamping semantics as the Postgres implementation.
type memRepo struct {
	store.Repository

	mu       sync.Mutex
	facts    map[uuid.UUID]*domain.CommissionFact
	balances map[uuid.UUID]*domain.Balance
	invoices map[uuid.UUID]*domain.Invoice
	payments map[uuid.UUID]*domain.Payment
	refunds  []*domain.Refund
	payouts  []*domain.Payout
	offsets  []*domain.OffsetRecord
	webhooks map[string]bool

	createPayoutErr  error
	updatePaymentErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		facts:    make(map[uuid.UUID]*domain.CommissionFact),
		balances: make(map[uuid.UUID]*domain.Balance),
		invoices: make(map[uuid.UUID]*domain.Invoice),
		payments: make(map[uuid.UUID]*domain.Payment),
		webhooks: make(map[string]bool),
	}
}

func (r *memRepo) CreateCommissionFacts(ctx context.Context, facts []domain.CommissionFact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.facts {
		for _, f := range facts {
			if existing.JobID == f.JobID {
				return store.ErrDuplicateCommission
			}
		}
	}
	for i := range facts {
		f := facts[i]
		r.facts[f.ID] = &f
	}
	return nil
}

func (r *memRepo) FindFactsByJobID(ctx context.Context, jobID uuid.UUID) ([]domain.CommissionFact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CommissionFact
	for _, f := range r.facts {
		if f.JobID == jobID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainLevel < out[j].ChainLevel })
	return out, nil
}

func (r *memRepo) FindFactsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]domain.CommissionFact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CommissionFact
	for _, f := range r.facts {
		if f.PayerProfessionalID == professionalID || (f.RecipientID != nil && *f.RecipientID == professionalID) {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *memRepo) FindUninvoicedPlatformFacts(ctx context.Context, professionalID uuid.UUID) ([]domain.CommissionFact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CommissionFact
	for _, f := range r.facts {
		if f.PayerProfessionalID == professionalID && f.RecipientType == domain.RecipientTypePlatform && f.Status == domain.FactStatusRecorded {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *memRepo) FindMonthlyFacts(ctx context.Context, professionalID uuid.UUID, month, year int) ([]domain.CommissionFact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CommissionFact
	for _, f := range r.facts {
		if f.PayerProfessionalID == professionalID && int(f.RecordedAt.Month()) == month && f.RecordedAt.Year() == year {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *memRepo) MarkFactsPaid(ctx context.Context, factIDs []uuid.UUID, paymentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range factIDs {
		f, ok := r.facts[id]
		if !ok || f.Status != domain.FactStatusInvoiced {
			return store.ErrInvalidStateTransition
		}
	}
	for _, id := range factIDs {
		r.facts[id].Status = domain.FactStatusPaid
	}
	return nil
}

func (r *memRepo) factStatus(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.facts[id]; ok {
		return f.Status
	}
	return ""
}

func (r *memRepo) GetBalance(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[professionalID]
	if !ok {
		return nil, store.ErrBalanceNotFound
	}
	copied := *b
	return &copied, nil
}

func (r *memRepo) EnsureBalance(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *r.ensureLocked(professionalID)
	return &copied, nil
}

func (r *memRepo) ensureLocked(professionalID uuid.UUID) *domain.Balance {
	b, ok := r.balances[professionalID]
	if !ok {
		b = &domain.Balance{ProfessionalID: professionalID, LastUpdated: time.Now().UTC()}
		r.balances[professionalID] = b
	}
	return b
}

func (r *memRepo) AddCommissionDebt(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensureLocked(professionalID)
	b.OutstandingCommissions += amount
	b.NetBalance = b.PendingRevenueShares - b.OutstandingCommissions
	copied := *b
	return &copied, nil
}

func (r *memRepo) AddRevenueShare(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensureLocked(professionalID)
	b.PendingRevenueShares += amount
	b.NetBalance = b.PendingRevenueShares - b.OutstandingCommissions
	copied := *b
	return &copied, nil
}

func (r *memRepo) ReduceOutstanding(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[professionalID]
	if !ok {
		return nil, store.ErrBalanceNotFound
	}
	b.OutstandingCommissions -= amount
	if b.OutstandingCommissions < 0 {
		b.OutstandingCommissions = 0
	}
	b.NetBalance = b.PendingRevenueShares - b.OutstandingCommissions
	copied := *b
	return &copied, nil
}

func (r *memRepo) ReducePending(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[professionalID]
	if !ok || b.PendingRevenueShares < amount {
		return nil, store.ErrInsufficientBalance
	}
	b.PendingRevenueShares -= amount
	b.NetBalance = b.PendingRevenueShares - b.OutstandingCommissions
	copied := *b
	return &copied, nil
}

func (r *memRepo) ApplyOffset(ctx context.Context, record *domain.OffsetRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.ensureLocked(record.ProfessionalAID)
	b := r.ensureLocked(record.ProfessionalBID)
	if a.PendingRevenueShares < record.OffsetAmount || b.OutstandingCommissions < record.OffsetAmount {
		return store.ErrInsufficientBalance
	}
	a.PendingRevenueShares -= record.OffsetAmount
	a.NetBalance = a.PendingRevenueShares - a.OutstandingCommissions
	b.OutstandingCommissions -= record.OffsetAmount
	b.NetBalance = b.PendingRevenueShares - b.OutstandingCommissions
	r.offsets = append(r.offsets, record)
	return nil
}

func (r *memRepo) RecalculateBalance(ctx context.Context, professionalID uuid.UUID) (store.BalanceTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var totals store.BalanceTotals
	for _, f := range r.facts {
		if f.PayerProfessionalID == professionalID && f.RecipientType == domain.RecipientTypePlatform && f.Status != domain.FactStatusPaid {
			totals.OutstandingCommissions += f.Amount
		}
		if f.RecipientID != nil && *f.RecipientID == professionalID && f.Status != domain.FactStatusPaid {
			totals.PendingRevenueShares += f.Amount
		}
	}
	return totals, nil
}

func (r *memRepo) SaveRecalculatedBalance(ctx context.Context, professionalID uuid.UUID, totals store.BalanceTotals) (*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensureLocked(professionalID)
	b.OutstandingCommissions = totals.OutstandingCommissions
	b.PendingRevenueShares = totals.PendingRevenueShares
	b.NetBalance = b.PendingRevenueShares - b.OutstandingCommissions
	copied := *b
	return &copied, nil
}

func (r *memRepo) ListDebtorBalances(ctx context.Context) ([]domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Balance
	for _, b := range r.balances {
		if b.OutstandingCommissions > 0 {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *memRepo) SetAutopay(ctx context.Context, professionalID uuid.UUID, enabled bool, paymentMethodID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensureLocked(professionalID)
	b.AutopayEnabled = enabled
	b.AutopayPaymentMethodID = paymentMethodID
	return nil
}

func (r *memRepo) UpdateAutopayFailureState(ctx context.Context, professionalID uuid.UUID, failureCount int, nextAttempt *time.Time, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.ensureLocked(professionalID)
	b.AutopayFailureCount = failureCount
	b.AutopayNextAttemptAt = nextAttempt
	b.AutopayEnabled = enabled
	return nil
}

func (r *memRepo) ListAutopayCandidates(ctx context.Context, now time.Time) ([]domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Balance
	for _, b := range r.balances {
		if !b.AutopayEnabled || b.OutstandingCommissions <= 0 {
			continue
		}
		if b.AutopayNextAttemptAt != nil && b.AutopayNextAttemptAt.After(now) {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (r *memRepo) CreateInvoiceWithFacts(ctx context.Context, invoice *domain.Invoice, factIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.invoices {
		if existing.ProfessionalID == invoice.ProfessionalID && existing.Month == invoice.Month &&
			existing.Year == invoice.Year && existing.Status != domain.InvoiceStatusCancelled {
			return store.ErrDuplicateInvoice
		}
	}
	for _, id := range factIDs {
		f, ok := r.facts[id]
		if !ok || f.Status != domain.FactStatusRecorded {
			return store.ErrInvalidStateTransition
		}
	}
	for _, id := range factIDs {
		r.facts[id].Status = domain.FactStatusInvoiced
		invoiceID := invoice.ID
		r.facts[id].InvoiceID = &invoiceID
	}
	copied := *invoice
	r.invoices[invoice.ID] = &copied
	return nil
}

func (r *memRepo) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return nil, store.ErrInvoiceNotFound
	}
	copied := *inv
	return &copied, nil
}

func (r *memRepo) FindInvoiceForPeriod(ctx context.Context, professionalID uuid.UUID, month, year int) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.ProfessionalID == professionalID && inv.Month == month && inv.Year == year && inv.Status != domain.InvoiceStatusCancelled {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, store.ErrInvoiceNotFound
}

func (r *memRepo) UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return store.ErrInvoiceNotFound
	}
	inv.Status = status
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memRepo) FindOpenInvoices(ctx context.Context, professionalID uuid.UUID) ([]domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range r.invoices {
		if inv.ProfessionalID == professionalID && (inv.Status == domain.InvoiceStatusSent || inv.Status == domain.InvoiceStatusOverdue) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueDate.Before(out[j].IssueDate) })
	return out, nil
}

func (r *memRepo) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *payment
	r.payments[payment.ID] = &copied
	return nil
}

func (r *memRepo) UpdatePaymentResult(ctx context.Context, paymentID uuid.UUID, gatewayTransactionID *string, status string, failureReason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updatePaymentErr != nil {
		return r.updatePaymentErr
	}
	p, ok := r.payments[paymentID]
	if !ok {
		return store.ErrPaymentNotFound
	}
	p.GatewayTransactionID = gatewayTransactionID
	p.Status = status
	p.FailureReason = failureReason
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memRepo) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *memRepo) FindPaymentByGatewayTransactionID(ctx context.Context, provider, externalID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.GatewayProvider == provider && p.GatewayTransactionID != nil && *p.GatewayTransactionID == externalID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (r *memRepo) CreateRefund(ctx context.Context, refund *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[refund.PaymentID]
	if !ok {
		return store.ErrPaymentNotFound
	}
	if p.Status != domain.PaymentStatusCompleted || p.RefundedAmount+refund.Amount > p.Amount {
		return store.ErrRefundConflict
	}
	r.refunds = append(r.refunds, refund)
	p.RefundedAmount += refund.Amount
	if p.RefundedAmount == p.Amount {
		p.Status = domain.PaymentStatusRefunded
	}
	return nil
}

func (r *memRepo) CreatePayout(ctx context.Context, payout *domain.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createPayoutErr != nil {
		return r.createPayoutErr
	}
	r.payouts = append(r.payouts, payout)
	return nil
}

func (r *memRepo) RecordWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "|" + event.ExternalID
	if r.webhooks[key] {
		return store.ErrWebhookReplayed
	}
	r.webhooks[key] = true
	return nil
}

// nopPublisher records published events and never fails.
type nopPublisher struct {
	mu       sync.Mutex
	recorded []domain.CommissionRecordedEvent
	invoices []domain.InvoiceIssuedEvent
	outcomes []domain.PaymentOutcomeEvent
	payouts  []domain.PayoutCreatedEvent
}

func (p *nopPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *nopPublisher) PublishCommissionRecorded(ctx context.Context, event domain.CommissionRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded = append(p.recorded, event)
	return nil
}

func (p *nopPublisher) PublishInvoiceIssued(ctx context.Context, event domain.InvoiceIssuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoices = append(p.invoices, event)
	return nil
}

func (p *nopPublisher) PublishPaymentOutcome(ctx context.Context, event domain.PaymentOutcomeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, event)
	return nil
}

func (p *nopPublisher) PublishPayoutCreated(ctx context.Context, event domain.PayoutCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payouts = append(p.payouts, event)
	return nil
}

func (p *nopPublisher) Close() {}

// scriptedProvider is a gateway.Provider returning canned outcomes.
type scriptedProvider struct {
	name        string
	approve     bool
	reason      string
	chargeErr   error
	refundOK    bool
	chargeCalls int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	p.chargeCalls++
	if p.chargeErr != nil {
		return nil, p.chargeErr
	}
	return &gateway.ChargeResult{
		TransactionID: "txn-" + req.ReferenceID,
		Approved:      p.approve,
		FailureReason: p.reason,
	}, nil
}

func (p *scriptedProvider) Refund(ctx context.Context, transactionID string, amount int64) (*gateway.RefundResult, error) {
	return &gateway.RefundResult{Approved: p.refundOK, Reason: p.reason}, nil
}

// staticDirectory resolves referrer links from a fixed map.
type staticDirectory map[uuid.UUID]*ReferrerLink

func (d staticDirectory) ReferrerOf(ctx context.Context, professionalID uuid.UUID) (*ReferrerLink, error) {
	if link, ok := d[professionalID]; ok {
		return link, nil
	}
	return &ReferrerLink{}, nil
}

func ptrString(value string) *string {
	return &value
}
