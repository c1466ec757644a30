/**
 * @description
 * Referral chain resolution. Given the professional who closed a job, the
 * resolver walks referrer links upward (who referred whom) and returns the
 * ordered chain: direct referrer first, then their referrer, and so on.
 *
 * @notes
 * - Referral data lives in the referral-service; the resolver only needs the
 *   "direct referrer of X" lookup, abstracted behind ReferralDirectory.
 * - Anomalies (cycles, chains past the hard cap) never fail commission
 *   recording. The walk stops, the truncated chain is returned, and the
 *   anomaly is reported alongside for logging.
 */

package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// maxChainHops is the hard cap on referral chain walks. Commission only pays
// the first four levels; the extra headroom exists purely to detect data
// anomalies before giving up.
const maxChainHops = 10

// ReferralDirectory is the lookup the chain resolver needs. Implemented by
// referralclient.Client in production and stubbed in tests.
type ReferralDirectory interface {
	ReferrerOf(ctx context.Context, professionalID uuid.UUID) (*ReferrerLink, error)
}

// ReferrerLink is one upward step in a referral chain.
type ReferrerLink struct {
	ReferrerID *uuid.UUID // nil terminates the chain
	Tier       string
}

// DirectoryFunc adapts a lookup function to the ReferralDirectory interface.
type DirectoryFunc func(ctx context.Context, professionalID uuid.UUID) (*ReferrerLink, error)

func (f DirectoryFunc) ReferrerOf(ctx context.Context, professionalID uuid.UUID) (*ReferrerLink, error) {
	return f(ctx, professionalID)
}

// ChainResolver walks referral chains through a ReferralDirectory.
type ChainResolver struct {
	directory ReferralDirectory
}

// NewChainResolver creates a resolver over the directory.
func NewChainResolver(directory ReferralDirectory) *ChainResolver {
	return &ChainResolver{directory: directory}
}

// ChainMember is one resolved referrer, ordered from direct referrer outward.
type ChainMember struct {
	ProfessionalID uuid.UUID
	Tier           string
	Level          int
}

// Resolve returns the referral chain above a professional. When directReferrer
// is non-nil it seeds the chain (the job event already carries it); otherwise
// the walk starts from a directory lookup on the professional.
//
// The returned anomaly, when non-nil, describes why the walk stopped early.
// The chain itself is still valid and safe to pay against.
func (r *ChainResolver) Resolve(ctx context.Context, professionalID uuid.UUID, directReferrer *uuid.UUID) ([]ChainMember, *ChainResolutionError) {
	var chain []ChainMember
	seen := map[uuid.UUID]bool{professionalID: true}

	current := directReferrer
	var currentTier string
	if current == nil {
		link, err := r.directory.ReferrerOf(ctx, professionalID)
		if err != nil {
			// Fail safe: pay nobody rather than the wrong people.
			return nil, &ChainResolutionError{
				ProfessionalID: professionalID,
				Reason:         fmt.Sprintf("referrer lookup failed: %v", err),
			}
		}
		current = link.ReferrerID
		currentTier = link.Tier
	} else if link, err := r.directory.ReferrerOf(ctx, professionalID); err == nil && link.ReferrerID != nil && *link.ReferrerID == *current {
		// The job event names the direct referrer but not their tier; the
		// directory does. A failed or disagreeing lookup leaves the tier neutral.
		currentTier = link.Tier
	}

	for hops := 0; current != nil; hops++ {
		if hops >= maxChainHops {
			return chain, &ChainResolutionError{
				ProfessionalID: professionalID,
				Reason:         fmt.Sprintf("chain exceeds %d hops, truncated", maxChainHops),
			}
		}
		if seen[*current] {
			return chain, &ChainResolutionError{
				ProfessionalID: professionalID,
				Reason:         fmt.Sprintf("referral cycle at %s, truncated", *current),
			}
		}
		seen[*current] = true
		chain = append(chain, ChainMember{ProfessionalID: *current, Tier: currentTier, Level: len(chain)})

		link, err := r.directory.ReferrerOf(ctx, *current)
		if err != nil {
			// Keep what was resolved so far; the verified part of the chain
			// is still payable.
			return chain, &ChainResolutionError{
				ProfessionalID: professionalID,
				Reason:         fmt.Sprintf("referrer lookup failed at %s: %v", *current, err),
			}
		}
		current = link.ReferrerID
		currentTier = link.Tier
	}

	return chain, nil
}
