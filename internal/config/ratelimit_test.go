package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRateLimitPolicyHolderDefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewRateLimitPolicyHolder(Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, DefaultRateLimitPolicies(), holder.Get())
}

func TestRateLimitPolicyHolderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.yml")
	content := []byte(`ratelimit:
  default:
    maxAttempts: 7
    window: 5m
  sensitive:
    block: 1h
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewRateLimitPolicyHolder(Config{RateLimit: RateLimitConfig{PolicyFile: path}}, zaptest.NewLogger(t))
	require.NoError(t, err)

	got := holder.Get()
	require.Equal(t, 7, got.Default.MaxAttempts)
	require.Equal(t, 5*time.Minute, got.Default.Window)
	require.Equal(t, 15*time.Minute, got.Default.Block)
	require.Equal(t, 3, got.Sensitive.MaxAttempts)
	require.Equal(t, time.Hour, got.Sensitive.Block)
}

func TestRateLimitPolicyHolderRejectsInvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.yml")
	require.NoError(t, os.WriteFile(path, []byte("ratelimit:\n  default:\n    maxAttempts: -1\n"), 0o600))

	_, err := NewRateLimitPolicyHolder(Config{RateLimit: RateLimitConfig{PolicyFile: path}}, zaptest.NewLogger(t))
	require.Error(t, err)
}
