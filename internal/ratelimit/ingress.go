package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/keygate/internal/config"
)

const keyIngress = "ingress:%s:%s"

// IngressLimiter throttles request volume per client IP on public endpoints.
// It is independent of failure accounting in Limiter.
type IngressLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewIngressLimiter(cfg config.Config, client *redis.Client) *IngressLimiter {
	limitCfg := cfg.RateLimit
	if client == nil || limitCfg.IngressPerMinute <= 0 || limitCfg.IngressBurst <= 0 {
		return nil
	}
	return &IngressLimiter{
		bucket: NewTokenBucket(client),
		rate:   float64(limitCfg.IngressPerMinute) / 60,
		burst:  int(limitCfg.IngressBurst),
	}
}

func (l *IngressLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *IngressLimiter) Allow(ctx context.Context, scope, clientIP string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyIngress, strings.TrimSpace(scope), strings.TrimSpace(clientIP))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
