/**
 * @description
 * This file contains the core business logic for commission recording. The
 * `Service` struct turns a completed job into immutable commission facts:
 * it resolves the referral chain, runs the calculator, persists the full fact
 * set atomically, applies balance deltas and publishes the recorded event.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/commission, internal/domain, internal/store: Calculation, models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/commission"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
	"github.com/proflink/billing-service/pkg/rabbitmq"
)

// Service provides the commission-side business logic.
type Service struct {
	repo          store.Repository
	calc          *commission.Calculator
	chains        *ChainResolver
	balances      *BalanceLedger
	eventProducer rabbitmq.Publisher
}

// NewService creates a new commission service instance.
func NewService(repo store.Repository, calc *commission.Calculator, chains *ChainResolver, balances *BalanceLedger, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		calc:          calc,
		chains:        chains,
		balances:      balances,
		eventProducer: producer,
	}
}

// Balances exposes the balance ledger for handlers that only need reads.
func (s *Service) Balances() *BalanceLedger {
	return s.balances
}

// RecordCommission records all commission facts for one completed job.
// The whole fact set is persisted atomically; recording the same job twice
// returns store.ErrDuplicateCommission and changes nothing.
func (s *Service) RecordCommission(ctx context.Context, req domain.RecordCommissionRequest) ([]domain.CommissionFact, error) {
	if req.JobValue <= 0 {
		return nil, ErrInvalidAmount
	}

	referralJob := req.CommissionType == domain.CommissionTypeReferralJob || req.ReferrerID != nil
	commissionType := domain.CommissionTypeCustomerJob
	if referralJob {
		commissionType = domain.CommissionTypeReferralJob
	}

	// 1. Resolve the referral chain. Anomalies truncate, they never abort.
	var chain []ChainMember
	if referralJob {
		var anomaly *ChainResolutionError
		chain, anomaly = s.chains.Resolve(ctx, req.ProfessionalID, req.ReferrerID)
		if anomaly != nil {
			log.Printf("level=warn component=commission_service msg=\"referral chain truncated\" job_id=%s professional_id=%s reason=%q",
				req.JobID, req.ProfessionalID, anomaly.Reason)
		}
	}

	// 2. Compute the breakdown.
	var rate float64
	if req.CommissionRate != nil {
		rate = *req.CommissionRate
	} else if referralJob && req.ReferrerShareRate != nil {
		rate = *req.ReferrerShareRate
	}
	var referrerTier string
	if len(chain) > 0 {
		referrerTier = chain[0].Tier
	}
	now := time.Now().UTC()
	bd, err := s.calc.Compute(commission.Input{
		JobValue:     req.JobValue,
		Rate:         rate,
		Category:     req.Category,
		ReferralJob:  referralJob,
		ReferrerTier: referrerTier,
		ChainLength:  len(chain),
		Month:        now.Month(),
	})
	if err != nil {
		if errors.Is(err, commission.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRate, err)
		}
		return nil, fmt.Errorf("commission calculation failed: %w", err)
	}

	// 3. Turn breakdown lines into facts.
	facts := make([]domain.CommissionFact, 0, len(bd.Lines))
	for _, line := range bd.Lines {
		fact := domain.CommissionFact{
			ID:                  uuid.New(),
			JobID:               req.JobID,
			PayerProfessionalID: req.ProfessionalID,
			JobValue:            req.JobValue,
			CommissionType:      commissionType,
			Rate:                line.Percentage / 100,
			Amount:              line.Amount,
			RecipientType:       line.RecipientRole,
			ChainLevel:          line.Level,
			Status:              domain.FactStatusRecorded,
			Description:         line.Description,
			RecordedAt:          now,
		}
		if line.RecipientRole == commission.RoleReferrer {
			recipient := chain[line.Level].ProfessionalID
			fact.RecipientID = &recipient
		}
		facts = append(facts, fact)
	}

	// 4. Persist the fact set all-or-nothing.
	if err := s.repo.CreateCommissionFacts(ctx, facts); err != nil {
		return nil, err
	}

	// 5. Apply balance deltas. The facts are already durable; a delta failure
	// here is logged as drift to be repaired by recalculation, never unwound.
	var platformTotal, factTotal int64
	for _, f := range facts {
		factTotal += f.Amount
		switch f.RecipientType {
		case domain.RecipientTypePlatform:
			platformTotal += f.Amount
		case domain.RecipientTypeReferrer:
			if _, err := s.balances.AddRevenueShare(ctx, *f.RecipientID, f.Amount); err != nil {
				log.Printf("level=error component=commission_service msg=\"revenue share credit failed; balance drifted\" job_id=%s recipient_id=%s err=%v",
					req.JobID, *f.RecipientID, err)
			}
		}
	}
	if platformTotal > 0 {
		if _, err := s.balances.AddCommissionDebt(ctx, req.ProfessionalID, platformTotal); err != nil {
			log.Printf("level=error component=commission_service msg=\"commission debt failed; balance drifted\" job_id=%s professional_id=%s err=%v",
				req.JobID, req.ProfessionalID, err)
		}
	}

	// 6. Publish the recorded event for downstream services.
	event := domain.CommissionRecordedEvent{
		JobID:               req.JobID,
		PayerProfessionalID: req.ProfessionalID,
		FactCount:           len(facts),
		TotalAmount:         factTotal,
		Timestamp:           now,
	}
	if err := s.eventProducer.PublishCommissionRecorded(ctx, event); err != nil {
		log.Printf("level=warn component=commission_service msg=\"failed to publish commission recorded event\" job_id=%s err=%v", req.JobID, err)
	}

	return facts, nil
}

// GetCommissionsByJob returns every fact recorded for one job.
func (s *Service) GetCommissionsByJob(ctx context.Context, jobID uuid.UUID) ([]domain.CommissionFact, error) {
	return s.repo.FindFactsByJobID(ctx, jobID)
}

// GetCommissionsByProfessional returns facts where the professional is payer or recipient.
func (s *Service) GetCommissionsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]domain.CommissionFact, error) {
	return s.repo.FindFactsByProfessional(ctx, professionalID)
}

// GetMonthlySummary aggregates one professional's facts for a billing period.
func (s *Service) GetMonthlySummary(ctx context.Context, professionalID uuid.UUID, month, year int) (*domain.MonthlyCommissionSummary, error) {
	facts, err := s.repo.FindMonthlyFacts(ctx, professionalID, month, year)
	if err != nil {
		return nil, err
	}
	summary := &domain.MonthlyCommissionSummary{
		ProfessionalID: professionalID,
		Month:          month,
		Year:           year,
		FactCount:      len(facts),
	}
	for _, f := range facts {
		summary.TotalAmount += f.Amount
	}
	return summary, nil
}

// GetBalance returns a professional's current balance. Professionals with no
// billing history have none; callers see store.ErrBalanceNotFound.
func (s *Service) GetBalance(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error) {
	return s.balances.Get(ctx, professionalID)
}

// RecalculateBalance rebuilds a balance from recorded history.
func (s *Service) RecalculateBalance(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error) {
	return s.balances.Recalculate(ctx, professionalID)
}

// SetAutopay enables or disables autopay for a professional.
func (s *Service) SetAutopay(ctx context.Context, professionalID uuid.UUID, enabled bool, paymentMethodID *string) error {
	if enabled && (paymentMethodID == nil || *paymentMethodID == "") {
		return fmt.Errorf("autopay requires a stored payment method")
	}
	if _, err := s.balances.Ensure(ctx, professionalID); err != nil {
		return err
	}
	return s.repo.SetAutopay(ctx, professionalID, enabled, paymentMethodID)
}
