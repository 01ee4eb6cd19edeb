package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/badgeforge/entitlement/internal/domain/userbadge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	userBadges map[string]*userbadge.UserBadge
	ledger     []userbadge.LedgerEntry
	due        []userbadge.UserBadge
}

func newFakeStore() *fakeStore {
	return &fakeStore{userBadges: map[string]*userbadge.UserBadge{}}
}

func key(u, b string) string { return u + "/" + b }

func (s *fakeStore) ListDueExpirations(ctx context.Context, asOf time.Time) ([]userbadge.UserBadge, error) {
	return s.due, nil
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return fn(&fakeTx{s})
}

type fakeTx struct{ s *fakeStore }

func (t *fakeTx) LockUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error) {
	ub := t.s.userBadges[key(userID, badgeID)]
	if ub == nil {
		return nil, nil
	}
	cp := *ub
	return &cp, nil
}

func (t *fakeTx) SaveUserBadge(ctx context.Context, ub *userbadge.UserBadge) error {
	cp := *ub
	t.s.userBadges[key(ub.UserID, ub.BadgeID)] = &cp
	return nil
}

func (t *fakeTx) AppendLedgerEntry(ctx context.Context, entry userbadge.LedgerEntry) error {
	t.s.ledger = append(t.s.ledger, entry)
	return nil
}

func (t *fakeTx) AppendUserBadgeLog(ctx context.Context, log userbadge.Log) error { return nil }

type fakeCache struct{ invalidated []string }

func (c *fakeCache) InvalidateUserBadge(userID string) { c.invalidated = append(c.invalidated, userID) }

type fakeNotifier struct{ notified []string }

func (n *fakeNotifier) NotifyBadgeExpired(ctx context.Context, userID, badgeID string) {
	n.notified = append(n.notified, key(userID, badgeID))
}

func TestSweep_ExpiresDueActiveBadge(t *testing.T) {
	store := newFakeStore()
	past := time.Now().UTC().Add(-time.Hour)
	store.userBadges[key("u1", "gold")] = &userbadge.UserBadge{
		ID: "ub1", UserID: "u1", BadgeID: "gold", Quantity: 2, Status: userbadge.StatusActive, ExpiresAt: &past,
	}
	store.due = []userbadge.UserBadge{*store.userBadges[key("u1", "gold")]}

	cache := &fakeCache{}
	notifier := &fakeNotifier{}
	sweeper := New(store, cache, notifier, nil, nil)

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ub := store.userBadges[key("u1", "gold")]
	assert.Equal(t, userbadge.StatusExpired, ub.Status)
	assert.Equal(t, int64(0), ub.Quantity)
	require.Len(t, store.ledger, 1)
	assert.Equal(t, userbadge.ChangeExpire, store.ledger[0].ChangeType)
	assert.Equal(t, int64(-2), store.ledger[0].SignedQuantity)
	assert.Equal(t, []string{"u1"}, cache.invalidated)
	assert.Equal(t, []string{"u1/gold"}, notifier.notified)
}

func TestSweep_SkipsAlreadyExpiredRow(t *testing.T) {
	store := newFakeStore()
	past := time.Now().UTC().Add(-time.Hour)
	store.userBadges[key("u1", "gold")] = &userbadge.UserBadge{
		ID: "ub1", UserID: "u1", BadgeID: "gold", Quantity: 0, Status: userbadge.StatusExpired, ExpiresAt: &past,
	}
	store.due = []userbadge.UserBadge{*store.userBadges[key("u1", "gold")]}

	cache := &fakeCache{}
	sweeper := New(store, cache, &fakeNotifier{}, nil, nil)

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, cache.invalidated)
	assert.Empty(t, store.ledger)
}

func TestSweep_ContinuesPastOneFailure(t *testing.T) {
	store := newFakeStore()
	past := time.Now().UTC().Add(-time.Hour)
	store.userBadges[key("u2", "silver")] = &userbadge.UserBadge{
		ID: "ub2", UserID: "u2", BadgeID: "silver", Quantity: 1, Status: userbadge.StatusActive, ExpiresAt: &past,
	}
	// "u1/gold" is in the due list but absent from userBadges, simulating a
	// row that was revoked out from under the sweep between list and lock.
	store.due = []userbadge.UserBadge{
		{UserID: "u1", BadgeID: "gold"},
		*store.userBadges[key("u2", "silver")],
	}

	sweeper := New(store, &fakeCache{}, &fakeNotifier{}, nil, nil)
	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, userbadge.StatusExpired, store.userBadges[key("u2", "silver")].Status)
}
