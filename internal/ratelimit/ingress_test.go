package ratelimit

import (
	"context"
	"testing"

	"github.com/smallbiznis/keygate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngressLimiterDisabledWithoutRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{IngressPerMinute: 60, IngressBurst: 10}}

	limiter := NewIngressLimiter(cfg, nil)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	result, err := limiter.Allow(context.Background(), "redeem", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestIngressLimiterDisabledByZeroRate(t *testing.T) {
	_, client := newTestRedis(t)

	cfg := config.Config{RateLimit: config.RateLimitConfig{IngressPerMinute: 0, IngressBurst: 10}}
	assert.False(t, NewIngressLimiter(cfg, client).Enabled())

	cfg.RateLimit.IngressPerMinute = 60
	assert.True(t, NewIngressLimiter(cfg, client).Enabled())
}

func TestIngressLimiterThrottlesPerScopeAndIP(t *testing.T) {
	_, client := newTestRedis(t)
	cfg := config.Config{RateLimit: config.RateLimitConfig{IngressPerMinute: 1, IngressBurst: 1}}
	limiter := NewIngressLimiter(cfg, client)
	ctx := context.Background()

	result, err := limiter.Allow(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = limiter.Allow(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	result, err = limiter.Allow(ctx, "redeem", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}
