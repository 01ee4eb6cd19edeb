// Package idempotency provides the short-TTL processed-event markers and
// keyed critical sections shared by the grant, revoke, and redemption
// pipelines.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/badgeforge/entitlement/internal/entitlementerr"
)

// DistributedLocker acquires and releases a named lock with a TTL, so a
// Redis-backed implementation can replace the in-process default for
// multi-instance deployments without changing any caller.
type DistributedLocker interface {
	// TryLock attempts to acquire key for ttl, returning false without
	// blocking if it is already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (acquired bool, err error)
	Unlock(ctx context.Context, key string) error
}

// InProcessLocker is the default DistributedLocker: a map from lock name to
// expiry time guarded by one mutex, each entry self-expiring after its TTL.
// Grounded on the
// gas-bank settlement poller's per-resource sync.Map-of-state pattern,
// generalized from a plain marker to an expiring held/free lock.
type InProcessLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> expiry
}

func NewInProcessLocker() *InProcessLocker {
	return &InProcessLocker{locks: make(map[string]time.Time)}
}

func (l *InProcessLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expiry, held := l.locks[key]; held && time.Now().Before(expiry) {
		return false, nil
	}
	l.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (l *InProcessLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}

// KeyedSection runs fn while holding a named lock, retrying acquisition a
// bounded number of times with a fixed delay between attempts. Contention
// that survives every retry surfaces as entitlementerr.ConcurrencyConflict
// rather than queuing the caller.
type KeyedSection struct {
	locker     DistributedLocker
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
}

func NewKeyedSection(locker DistributedLocker, ttl time.Duration, retries int, retryDelay time.Duration) *KeyedSection {
	return &KeyedSection{locker: locker, ttl: ttl, retries: retries, retryDelay: retryDelay}
}

// Run acquires the named lock (bounded retries) and invokes fn inside it,
// always releasing before returning.
func (k *KeyedSection) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var acquired bool
	var err error
	for attempt := 0; attempt <= k.retries; attempt++ {
		acquired, err = k.locker.TryLock(ctx, name, k.ttl)
		if err != nil {
			return entitlementerr.Internal("lock acquisition failed", err)
		}
		if acquired {
			break
		}
		if attempt < k.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(k.retryDelay):
			}
		}
	}
	if !acquired {
		return entitlementerr.ConcurrencyConflict(name)
	}
	defer func() { _ = k.locker.Unlock(ctx, name) }()
	return fn(ctx)
}

// RedemptionLockName builds the per-(user, rule) critical-section key the redemption service
// serializes on.
func RedemptionLockName(userID, ruleID string) string {
	return fmt.Sprintf("redeem:%s:%s", userID, ruleID)
}
