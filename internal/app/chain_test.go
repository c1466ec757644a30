package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestChainResolverWalksUpToTheRoot(t *testing.T) {
	pro := uuid.New()
	level0 := uuid.New()
	level1 := uuid.New()
	level2 := uuid.New()

	directory := staticDirectory{
		pro:    {ReferrerID: &level0, Tier: "gold"},
		level0: {ReferrerID: &level1, Tier: "silver"},
		level1: {ReferrerID: &level2, Tier: "bronze"},
		level2: {},
	}

	chain, anomaly := NewChainResolver(directory).Resolve(context.Background(), pro, nil)
	if anomaly != nil {
		t.Fatalf("unexpected anomaly: %v", anomaly)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 chain members, got %d", len(chain))
	}

	wantIDs := []uuid.UUID{level0, level1, level2}
	wantTiers := []string{"gold", "silver", "bronze"}
	for i, member := range chain {
		if member.ProfessionalID != wantIDs[i] {
			t.Fatalf("level %d: expected %s, got %s", i, wantIDs[i], member.ProfessionalID)
		}
		if member.Tier != wantTiers[i] {
			t.Fatalf("level %d: expected tier %q, got %q", i, wantTiers[i], member.Tier)
		}
		if member.Level != i {
			t.Fatalf("expected level %d, got %d", i, member.Level)
		}
	}
}

func TestChainResolverSeedsFromDirectReferrer(t *testing.T) {
	pro := uuid.New()
	direct := uuid.New()

	directory := staticDirectory{
		direct: {},
	}

	chain, anomaly := NewChainResolver(directory).Resolve(context.Background(), pro, &direct)
	if anomaly != nil {
		t.Fatalf("unexpected anomaly: %v", anomaly)
	}
	if len(chain) != 1 {
		t.Fatalf("expected 1 chain member, got %d", len(chain))
	}
	if chain[0].ProfessionalID != direct {
		t.Fatalf("expected seeded referrer %s, got %s", direct, chain[0].ProfessionalID)
	}
}

func TestChainResolverSeededReferrerGetsDirectoryTier(t *testing.T) {
	pro := uuid.New()
	direct := uuid.New()

	directory := staticDirectory{
		pro:    {ReferrerID: &direct, Tier: "gold"},
		direct: {},
	}

	chain, anomaly := NewChainResolver(directory).Resolve(context.Background(), pro, &direct)
	if anomaly != nil {
		t.Fatalf("unexpected anomaly: %v", anomaly)
	}
	if len(chain) != 1 {
		t.Fatalf("expected 1 chain member, got %d", len(chain))
	}
	if chain[0].Tier != "gold" {
		t.Fatalf("expected the directory tier for the seeded referrer, got %q", chain[0].Tier)
	}
}

func TestChainResolverTruncatesCycles(t *testing.T) {
	pro := uuid.New()
	a := uuid.New()
	b := uuid.New()

	// a refers b refers a.
	directory := staticDirectory{
		pro: {ReferrerID: &a},
		a:   {ReferrerID: &b},
		b:   {ReferrerID: &a},
	}

	chain, anomaly := NewChainResolver(directory).Resolve(context.Background(), pro, nil)
	if anomaly == nil {
		t.Fatal("expected a cycle anomaly")
	}
	if !strings.Contains(anomaly.Reason, "cycle") {
		t.Fatalf("expected cycle reason, got %q", anomaly.Reason)
	}
	if len(chain) != 2 {
		t.Fatalf("expected chain truncated to 2 members, got %d", len(chain))
	}
}

func TestChainResolverSelfReferralIsACycle(t *testing.T) {
	pro := uuid.New()
	directory := staticDirectory{
		pro: {ReferrerID: &pro},
	}

	chain, anomaly := NewChainResolver(directory).Resolve(context.Background(), pro, nil)
	if anomaly == nil {
		t.Fatal("expected anomaly for self referral")
	}
	if len(chain) != 0 {
		t.Fatalf("self referral must resolve to an empty chain, got %d members", len(chain))
	}
}

func TestChainResolverCapsHopCount(t *testing.T) {
	pro := uuid.New()

	// Build a chain far deeper than the hop cap.
	ids := make([]uuid.UUID, maxChainHops+5)
	for i := range ids {
		ids[i] = uuid.New()
	}
	directory := staticDirectory{pro: {ReferrerID: &ids[0]}}
	for i := 0; i < len(ids)-1; i++ {
		directory[ids[i]] = &ReferrerLink{ReferrerID: &ids[i+1]}
	}
	directory[ids[len(ids)-1]] = &ReferrerLink{}

	chain, anomaly := NewChainResolver(directory).Resolve(context.Background(), pro, nil)
	if anomaly == nil {
		t.Fatal("expected a hop cap anomaly")
	}
	if len(chain) != maxChainHops {
		t.Fatalf("expected chain capped at %d members, got %d", maxChainHops, len(chain))
	}
}

type failAfterDirectory struct {
	links     staticDirectory
	failOn    uuid.UUID
	lookupErr error
}

func (d *failAfterDirectory) ReferrerOf(ctx context.Context, professionalID uuid.UUID) (*ReferrerLink, error) {
	if professionalID == d.failOn {
		return nil, d.lookupErr
	}
	return d.links.ReferrerOf(ctx, professionalID)
}

func TestChainResolverKeepsVerifiedPrefixOnLookupFailure(t *testing.T) {
	pro := uuid.New()
	level0 := uuid.New()
	level1 := uuid.New()

	directory := &failAfterDirectory{
		links: staticDirectory{
			pro:    {ReferrerID: &level0, Tier: "silver"},
			level0: {ReferrerID: &level1},
		},
		failOn:    level1,
		lookupErr: errors.New("referral service unavailable"),
	}

	chain, anomaly := NewChainResolver(directory).Resolve(context.Background(), pro, nil)
	if anomaly == nil {
		t.Fatal("expected a lookup failure anomaly")
	}
	if len(chain) != 2 {
		t.Fatalf("expected the verified prefix of 2 members, got %d", len(chain))
	}
	if chain[0].ProfessionalID != level0 || chain[1].ProfessionalID != level1 {
		t.Fatal("verified prefix does not match resolved members")
	}
}

func TestChainResolverFailsSafeWhenFirstLookupFails(t *testing.T) {
	pro := uuid.New()
	directory := &failAfterDirectory{
		links:     staticDirectory{},
		failOn:    pro,
		lookupErr: errors.New("referral service unavailable"),
	}

	chain, anomaly := NewChainResolver(directory).Resolve(context.Background(), pro, nil)
	if anomaly == nil {
		t.Fatal("expected an anomaly when the first lookup fails")
	}
	if chain != nil {
		t.Fatalf("expected no chain when nothing was verified, got %d members", len(chain))
	}
}
