package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/proflink/billing-service/internal/domain"
	"github.com/proflink/billing-service/internal/store"
)

// JobCompletedConsumer records commission for job.completed.* events published
// by the Lead/Proposal service.
type JobCompletedConsumer struct {
	service *Service
}

func NewJobCompletedConsumer(service *Service) *JobCompletedConsumer {
	return &JobCompletedConsumer{service: service}
}

// HandleMessage processes one delivery. Returning true acknowledges the
// message; malformed payloads and duplicates are acknowledged so they are not
// redelivered forever, transient failures are re-queued.
func (c *JobCompletedConsumer) HandleMessage(body []byte) bool {
	var event domain.JobCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("job-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.JobID == uuid.Nil || event.ProfessionalID == uuid.Nil {
		log.Printf("job-consumer: missing job or professional id in event %+v", event)
		return true
	}
	if event.JobValue <= 0 {
		log.Printf("job-consumer: non-positive job value %d for job %s; dropping", event.JobValue, event.JobID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req := domain.RecordCommissionRequest{
		ProfessionalID: event.ProfessionalID,
		JobID:          event.JobID,
		JobValue:       event.JobValue,
		CommissionType: normalizeCommissionType(event.CommissionType, event.ReferrerID),
		Category:       event.Category,
		ReferrerID:     event.ReferrerID,
	}

	if _, err := c.service.RecordCommission(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicateCommission) {
			log.Printf("job-consumer: commission already recorded for job %s; acknowledging", event.JobID)
			return true
		}
		log.Printf("job-consumer: processing error for job %s: %v", event.JobID, err)
		return false
	}

	return true
}

func normalizeCommissionType(typ string, referrerID *uuid.UUID) string {
	typ = strings.TrimSpace(strings.ToLower(typ))
	switch typ {
	case "referral", "referral_job":
		return domain.CommissionTypeReferralJob
	case "customer", "customer_job":
		return domain.CommissionTypeCustomerJob
	default:
		if referrerID != nil {
			return domain.CommissionTypeReferralJob
		}
		return domain.CommissionTypeCustomerJob
	}
}
