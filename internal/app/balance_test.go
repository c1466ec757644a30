package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
)

func TestBalanceLedgerNetBalanceStaysDerivedUnderConcurrentMutations(t *testing.T) {
	repo := newMemRepo()
	ledger := NewBalanceLedger(repo)
	ctx := context.Background()
	professionalID := uuid.New()

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				switch (offset + i) % 3 {
				case 0:
					ledger.AddCommissionDebt(ctx, professionalID, 100)
				case 1:
					ledger.AddRevenueShare(ctx, professionalID, 70)
				case 2:
					ledger.ApplyPayment(ctx, professionalID, 30)
				}
			}
		}(w)
	}
	wg.Wait()

	balance, err := ledger.Get(ctx, professionalID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if balance.OutstandingCommissions < 0 {
		t.Fatalf("outstanding went negative: %d", balance.OutstandingCommissions)
	}
	if balance.PendingRevenueShares < 0 {
		t.Fatalf("pending went negative: %d", balance.PendingRevenueShares)
	}
	if got, want := balance.NetBalance, balance.PendingRevenueShares-balance.OutstandingCommissions; got != want {
		t.Fatalf("net balance drifted: got %d, want %d", got, want)
	}
}

func TestBalanceLedgerGetUnknownProfessionalIsNotFound(t *testing.T) {
	repo := newMemRepo()
	ledger := NewBalanceLedger(repo)

	if _, err := ledger.Get(context.Background(), uuid.New()); !errors.Is(err, store.ErrBalanceNotFound) {
		t.Fatalf("expected ErrBalanceNotFound, got %v", err)
	}

	// A read must never create a row; only write paths do that.
	repo.mu.Lock()
	rows := len(repo.balances)
	repo.mu.Unlock()
	if rows != 0 {
		t.Fatalf("pure read created %d balance row(s)", rows)
	}
}

func TestBalanceLedgerRejectsNonPositiveAmounts(t *testing.T) {
	ledger := NewBalanceLedger(newMemRepo())
	ctx := context.Background()
	professionalID := uuid.New()

	if _, err := ledger.AddCommissionDebt(ctx, professionalID, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero debt, got %v", err)
	}
	if _, err := ledger.AddRevenueShare(ctx, professionalID, -50); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative share, got %v", err)
	}
	if _, err := ledger.ApplyPayout(ctx, professionalID, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero payout, got %v", err)
	}
}

func TestBalanceLedgerApplyPaymentRejectsOverpayment(t *testing.T) {
	repo := newMemRepo()
	ledger := NewBalanceLedger(repo)
	ctx := context.Background()
	professionalID := uuid.New()

	if _, err := ledger.AddCommissionDebt(ctx, professionalID, 4000); err != nil {
		t.Fatalf("AddCommissionDebt returned error: %v", err)
	}

	if _, err := ledger.ApplyPayment(ctx, professionalID, 4001); !errors.Is(err, ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}

	balance, err := ledger.ApplyPayment(ctx, professionalID, 4000)
	if err != nil {
		t.Fatalf("ApplyPayment returned error: %v", err)
	}
	if balance.OutstandingCommissions != 0 {
		t.Fatalf("expected outstanding cleared, got %d", balance.OutstandingCommissions)
	}
}

func TestBalanceLedgerPayoutRequiresSufficientPending(t *testing.T) {
	repo := newMemRepo()
	ledger := NewBalanceLedger(repo)
	ctx := context.Background()
	professionalID := uuid.New()

	if _, err := ledger.AddRevenueShare(ctx, professionalID, 5000); err != nil {
		t.Fatalf("AddRevenueShare returned error: %v", err)
	}

	if _, err := ledger.ApplyPayout(ctx, professionalID, 6000); !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	balance, err := ledger.Get(ctx, professionalID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if balance.PendingRevenueShares != 5000 {
		t.Fatalf("failed payout must not touch pending, got %d", balance.PendingRevenueShares)
	}
}

func TestBalanceLedgerOffsetMovesBothSides(t *testing.T) {
	repo := newMemRepo()
	ledger := NewBalanceLedger(repo)
	ctx := context.Background()
	earner := uuid.New()
	debtor := uuid.New()

	if _, err := ledger.AddRevenueShare(ctx, earner, 10000); err != nil {
		t.Fatalf("AddRevenueShare returned error: %v", err)
	}
	if _, err := ledger.AddCommissionDebt(ctx, debtor, 8000); err != nil {
		t.Fatalf("AddCommissionDebt returned error: %v", err)
	}

	record := &domain.OffsetRecord{
		ID:              uuid.New(),
		ProfessionalAID: earner,
		ProfessionalBID: debtor,
		OffsetAmount:    3000,
		CreatedAt:       time.Now().UTC(),
	}
	if err := ledger.ApplyOffset(ctx, record); err != nil {
		t.Fatalf("ApplyOffset returned error: %v", err)
	}

	earnerBalance, _ := ledger.Get(ctx, earner)
	debtorBalance, _ := ledger.Get(ctx, debtor)
	if earnerBalance.PendingRevenueShares != 7000 {
		t.Fatalf("expected earner pending 7000, got %d", earnerBalance.PendingRevenueShares)
	}
	if debtorBalance.OutstandingCommissions != 5000 {
		t.Fatalf("expected debtor outstanding 5000, got %d", debtorBalance.OutstandingCommissions)
	}
}

func TestBalanceLedgerOffsetRejectsSelfAndInsufficientFunds(t *testing.T) {
	repo := newMemRepo()
	ledger := NewBalanceLedger(repo)
	ctx := context.Background()
	earner := uuid.New()
	debtor := uuid.New()

	self := &domain.OffsetRecord{ID: uuid.New(), ProfessionalAID: earner, ProfessionalBID: earner, OffsetAmount: 100}
	if err := ledger.ApplyOffset(ctx, self); !errors.Is(err, ErrSelfOffset) {
		t.Fatalf("expected ErrSelfOffset, got %v", err)
	}

	ledger.AddRevenueShare(ctx, earner, 1000)
	ledger.AddCommissionDebt(ctx, debtor, 500)

	tooLarge := &domain.OffsetRecord{ID: uuid.New(), ProfessionalAID: earner, ProfessionalBID: debtor, OffsetAmount: 800}
	if err := ledger.ApplyOffset(ctx, tooLarge); !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	earnerBalance, _ := ledger.Get(ctx, earner)
	debtorBalance, _ := ledger.Get(ctx, debtor)
	if earnerBalance.PendingRevenueShares != 1000 || debtorBalance.OutstandingCommissions != 500 {
		t.Fatalf("failed offset must leave both balances untouched, got pending=%d outstanding=%d",
			earnerBalance.PendingRevenueShares, debtorBalance.OutstandingCommissions)
	}
}

func TestBalanceLedgerConcurrentOpposingOffsetsDoNotDeadlock(t *testing.T) {
	repo := newMemRepo()
	ledger := NewBalanceLedger(repo)
	ctx := context.Background()
	a := uuid.New()
	b := uuid.New()

	ledger.AddRevenueShare(ctx, a, 100000)
	ledger.AddCommissionDebt(ctx, a, 100000)
	ledger.AddRevenueShare(ctx, b, 100000)
	ledger.AddCommissionDebt(ctx, b, 100000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				ledger.ApplyOffset(ctx, &domain.OffsetRecord{ID: uuid.New(), ProfessionalAID: a, ProfessionalBID: b, OffsetAmount: 10})
			}()
			go func() {
				defer wg.Done()
				ledger.ApplyOffset(ctx, &domain.OffsetRecord{ID: uuid.New(), ProfessionalAID: b, ProfessionalBID: a, OffsetAmount: 10})
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("opposing offsets deadlocked")
	}
}
