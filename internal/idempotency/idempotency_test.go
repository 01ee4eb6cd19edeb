package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/badgeforge/entitlement/internal/entitlementerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessLocker_TryLockBlocksUntilExpiryOrUnlock(t *testing.T) {
	locker := NewInProcessLocker()
	ctx := context.Background()

	ok, err := locker.TryLock(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locker.TryLock(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquisition while held must fail")

	require.NoError(t, locker.Unlock(ctx, "k1"))
	ok, err = locker.TryLock(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "acquisition after unlock must succeed")
}

func TestKeyedSection_ConcurrencyConflictAfterRetriesExhausted(t *testing.T) {
	locker := NewInProcessLocker()
	ctx := context.Background()
	_, err := locker.TryLock(ctx, "redeem:u1:r1", time.Minute)
	require.NoError(t, err)

	section := NewKeyedSection(locker, 10*time.Second, 1, time.Millisecond)
	err = section.Run(ctx, "redeem:u1:r1", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, entitlementerr.Is(err, entitlementerr.CodeConcurrencyConflict))
}

func TestKeyedSection_RunsFnWhileHeld(t *testing.T) {
	locker := NewInProcessLocker()
	section := NewKeyedSection(locker, time.Minute, 2, time.Millisecond)
	ran := false
	err := section.Run(context.Background(), "redeem:u1:r1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	ok, err := locker.TryLock(context.Background(), "redeem:u1:r1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock must be released after Run returns")
}

func TestInProcessMarkerStore_FirstTimeThenDuplicate(t *testing.T) {
	store := NewInProcessMarkerStore()
	first, err := store.MarkIfAbsent(context.Background(), "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.MarkIfAbsent(context.Background(), "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestRefundDedup_AdaptsMarkerStore(t *testing.T) {
	dedup := NewRefundDedup(NewInProcessMarkerStore())
	first, err := dedup.MarkProcessed(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := dedup.MarkProcessed(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.False(t, second)
}
