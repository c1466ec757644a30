/**
 * @description
 * This package provides clients for the Israeli payment gateway providers the
 * billing-service charges invoices through. Each provider (Tranzila, Cardcom,
 * PayPlus) exposes its own wire format; the `Provider` interface normalizes
 * them so the payment flow does not care which gateway an invoice settles
 * through.
 *
 * @notes
 * - A declined charge is NOT a Go error: the gateway answered, the card was
 *   refused. Providers return a ChargeResult with Approved=false and a failure
 *   reason. Errors are reserved for transport and protocol failures.
 */
package gateway

import (
	"context"
	"fmt"
)

// ChargeRequest is the normalized input for charging an invoice.
type ChargeRequest struct {
	ReferenceID     string // our payment id, echoed back in webhooks
	Amount          int64  // in agorot
	Currency        string // ISO 4217, "ILS" unless stated otherwise
	PaymentMethod   string // e.g. "credit_card", "direct_debit"
	PaymentMethodID string // provider-side token for the stored instrument
	Description     string
}

// ChargeResult is the normalized outcome of a charge attempt.
type ChargeResult struct {
	TransactionID string // provider's external transaction id
	Approved      bool
	FailureReason string // set when Approved is false
}

// RefundResult is the normalized outcome of a refund request.
type RefundResult struct {
	RefundID string
	Approved bool
	Reason   string
}

// Provider is one payment gateway the service can charge through.
type Provider interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, transactionID string, amount int64) (*RefundResult, error)
}

// Registry resolves a provider by its configured name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown gateway provider %q", name)
	}
	return p, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
