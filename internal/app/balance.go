/**
 * @description
 * BalanceLedger serializes all mutations of a professional's balance row. Every
 * write path (commission recording, payment application, payouts, offsets) goes
 * through this type, which holds a per-professional mutex for the duration of
 * the read-modify-write. The SQL layer additionally updates both source columns
 * and net_balance in one statement, so even a bypassing writer cannot leave
 * net_balance inconsistent with its sources.
 *
 * @notes
 * - Locks here are per process. The service runs as the single writer of the
 *   balances table; the single-statement SQL keeps a safe path to row-level
 *   serialization if that ever changes.
 * - Gateway calls must never happen while a balance lock is held.
 */

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
)

// BalanceLedger owns all balance mutations.
type BalanceLedger struct {
	repo store.Repository

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewBalanceLedger creates a BalanceLedger over the repository.
func NewBalanceLedger(repo store.Repository) *BalanceLedger {
	return &BalanceLedger{
		repo:  repo,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one professional's balance, creating it on
// first use. Entries are never evicted; one mutex per professional ever seen by
// this process is an acceptable footprint.
func (l *BalanceLedger) lockFor(professionalID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[professionalID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[professionalID] = m
	}
	return m
}

// Get returns the current balance. A professional with no recorded billing
// activity has no balance row; the store.ErrBalanceNotFound passes through
// untouched. Rows are created by the write paths only.
func (l *BalanceLedger) Get(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error) {
	return l.repo.GetBalance(ctx, professionalID)
}

// Ensure creates the zeroed balance row if it does not exist yet. Write paths
// that need a row before their first mutation (autopay enrollment) call this.
func (l *BalanceLedger) Ensure(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error) {
	m := l.lockFor(professionalID)
	m.Lock()
	defer m.Unlock()
	return l.repo.EnsureBalance(ctx, professionalID)
}

// AddCommissionDebt increases what the professional owes the platform.
func (l *BalanceLedger) AddCommissionDebt(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m := l.lockFor(professionalID)
	m.Lock()
	defer m.Unlock()
	return l.repo.AddCommissionDebt(ctx, professionalID, amount)
}

// AddRevenueShare increases what the platform owes the professional.
func (l *BalanceLedger) AddRevenueShare(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m := l.lockFor(professionalID)
	m.Lock()
	defer m.Unlock()
	return l.repo.AddRevenueShare(ctx, professionalID, amount)
}

// overpaymentTolerance is how far a payment may exceed the professional's
// outstanding commissions. Zero: payments are matched to invoice totals before
// they reach the ledger, so any excess here indicates drift.
const overpaymentTolerance = 0

// ApplyPayment reduces outstanding commissions by a settled payment amount.
// Fails with ErrOverpayment when the amount exceeds what is outstanding.
func (l *BalanceLedger) ApplyPayment(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m := l.lockFor(professionalID)
	m.Lock()
	defer m.Unlock()

	current, err := l.repo.GetBalance(ctx, professionalID)
	if err == store.ErrBalanceNotFound {
		current, err = l.repo.EnsureBalance(ctx, professionalID)
	}
	if err != nil {
		return nil, err
	}
	if amount > current.OutstandingCommissions+overpaymentTolerance {
		return nil, ErrOverpayment
	}
	return l.repo.ReduceOutstanding(ctx, professionalID, amount)
}

// ApplyPayout reduces pending revenue shares by a paid-out amount. Fails with
// store.ErrInsufficientBalance when the professional's pending side is smaller
// than the payout.
func (l *BalanceLedger) ApplyPayout(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m := l.lockFor(professionalID)
	m.Lock()
	defer m.Unlock()
	return l.repo.ReducePending(ctx, professionalID, amount)
}

// ApplyOffset nets professional A's pending revenue shares against professional
// B's outstanding commissions. Both balances are locked for the duration, in
// lexicographic id order so two concurrent offsets touching the same pair
// cannot deadlock.
func (l *BalanceLedger) ApplyOffset(ctx context.Context, record *domain.OffsetRecord) error {
	if record.OffsetAmount <= 0 {
		return ErrInvalidAmount
	}
	if record.ProfessionalAID == record.ProfessionalBID {
		return ErrSelfOffset
	}

	first, second := record.ProfessionalAID, record.ProfessionalBID
	if second.String() < first.String() {
		first, second = second, first
	}
	firstLock, secondLock := l.lockFor(first), l.lockFor(second)
	firstLock.Lock()
	defer firstLock.Unlock()
	secondLock.Lock()
	defer secondLock.Unlock()

	if _, err := l.repo.EnsureBalance(ctx, record.ProfessionalAID); err != nil {
		return fmt.Errorf("failed to ensure balance for %s: %w", record.ProfessionalAID, err)
	}
	if _, err := l.repo.EnsureBalance(ctx, record.ProfessionalBID); err != nil {
		return fmt.Errorf("failed to ensure balance for %s: %w", record.ProfessionalBID, err)
	}

	return l.repo.ApplyOffset(ctx, record)
}

// Recalculate recomputes both sides of a balance from recorded facts, payments,
// payouts and offsets, and persists the result. Used to repair drift.
func (l *BalanceLedger) Recalculate(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error) {
	m := l.lockFor(professionalID)
	m.Lock()
	defer m.Unlock()

	if _, err := l.repo.EnsureBalance(ctx, professionalID); err != nil {
		return nil, err
	}
	totals, err := l.repo.RecalculateBalance(ctx, professionalID)
	if err != nil {
		return nil, fmt.Errorf("failed to recalculate balance: %w", err)
	}
	return l.repo.SaveRecalculatedBalance(ctx, professionalID, totals)
}
