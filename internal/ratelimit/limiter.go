package ratelimit

import "context"

// RateLimiter bounds outbound delivery throughput per subscription.
type RateLimiter interface {
	Allow(ctx context.Context, subscriptionID string) (bool, error)
	Wait(ctx context.Context, subscriptionID string) error
}
