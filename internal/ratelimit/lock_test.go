package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerIsExclusiveUntilReleased(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewLocker(client)
	require.True(t, locker.Enabled())
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "scheduler:lock:retention", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "scheduler:lock:retention", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "scheduler:lock:retention", "someone-else"))
	assert.True(t, mr.Exists("scheduler:lock:retention"), "a foreign token must not release the lock")

	require.NoError(t, locker.Release(ctx, "scheduler:lock:retention", token))
	assert.False(t, mr.Exists("scheduler:lock:retention"))

	_, ok, err = locker.TryLock(ctx, "scheduler:lock:retention", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerExpiresWithTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "scheduler:lock:suspicious", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = locker.TryLock(ctx, "scheduler:lock:suspicious", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerRejectsInvalidArguments(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	_, _, err := locker.TryLock(ctx, "", time.Minute)
	assert.Error(t, err)
	_, _, err = locker.TryLock(ctx, "k", 0)
	assert.Error(t, err)

	assert.Nil(t, NewLocker(nil))
	assert.False(t, NewLocker(nil).Enabled())
}
