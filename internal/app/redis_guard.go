package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// webhookSeenTTL bounds the Redis fast-path dedupe window. The webhook_events
// table stays authoritative beyond it.
const webhookSeenTTL = 48 * time.Hour

// RedisBillingGuard provides the cross-instance coordination primitives the
// billing flows need: a webhook dedupe fast path and a run lock for batch jobs
// (monthly settlement, autopay sweep).
type RedisBillingGuard struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBillingGuard creates a guard with the given key prefix.
func NewRedisBillingGuard(client redis.UniversalClient, prefix string) *RedisBillingGuard {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "proflink:billing"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisBillingGuard{client: client, prefix: trimmedPrefix}
}

// WebhookHandled reports whether the outcome for a (provider, external id)
// webhook has already been applied. A nil guard or Redis outage reports "not
// handled"; the payment status check behind it decides.
func (g *RedisBillingGuard) WebhookHandled(ctx context.Context, provider, externalID string) (bool, error) {
	if g == nil || g.client == nil {
		return false, nil
	}
	key := fmt.Sprintf("%s:webhook:%s:%s", g.prefix, provider, externalID)
	n, err := g.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkWebhookSeen records a (provider, external id) pair and reports whether it
// was already marked. Callers write the marker only after the webhook outcome
// has been applied, so a marker hit always means a safe no-op.
func (g *RedisBillingGuard) MarkWebhookSeen(ctx context.Context, provider, externalID string) (bool, error) {
	if g == nil || g.client == nil {
		return false, nil
	}
	key := fmt.Sprintf("%s:webhook:%s:%s", g.prefix, provider, externalID)
	set, err := g.client.SetNX(ctx, key, 1, webhookSeenTTL).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// AcquireRunLock takes a named lock for batch runs so two instances cannot
// start the same sweep concurrently. The release function is safe to call even
// when acquisition failed.
func (g *RedisBillingGuard) AcquireRunLock(ctx context.Context, name string, ttl time.Duration) (bool, func(), error) {
	release := func() {}
	if g == nil || g.client == nil {
		return true, release, nil
	}
	key := fmt.Sprintf("%s:lock:%s", g.prefix, name)
	acquired, err := g.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, release, err
	}
	if acquired {
		release = func() {
			// Best effort; the TTL bounds a leaked lock.
			g.client.Del(context.Background(), key)
		}
	}
	return acquired, release, nil
}
