/**
 * @description
 * Business-rule errors raised by the app layer. Store-level errors (not found,
 * duplicates, invalid transitions) live in internal/store; the sentinels here
 * cover rules the database cannot express.
 */

package app

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAmountMismatch       = errors.New("payment amount does not match invoice total")
	ErrInvoiceAlreadyPaid   = errors.New("invoice is already paid")
	ErrInvoiceNotPayable    = errors.New("invoice is not in a payable status")
	ErrNothingToInvoice     = errors.New("no uninvoiced commissions for period")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidRate          = errors.New("commission rate must be within [0,1]")
	ErrOverpayment          = errors.New("payment exceeds outstanding commissions")
	ErrRefundExceedsPayment = errors.New("refund exceeds remaining payment amount")
	ErrPaymentNotRefundable = errors.New("only completed payments can be refunded")
	ErrAutopayDisabled      = errors.New("autopay is not enabled for professional")
	ErrSelfOffset           = errors.New("cannot offset a professional against themselves")
)

// ChainResolutionError reports an anomaly found while walking a referral chain.
// Commission recording continues with the truncated chain; the error is logged
// and attached for observability, never returned to the caller as a failure.
type ChainResolutionError struct {
	ProfessionalID uuid.UUID
	Reason         string
}

func (e *ChainResolutionError) Error() string {
	return fmt.Sprintf("referral chain anomaly at %s: %s", e.ProfessionalID, e.Reason)
}
