package grant

import (
	"context"
	"testing"
	"time"

	"github.com/badgeforge/entitlement/internal/depgraph"
	"github.com/badgeforge/entitlement/internal/domain/badge"
	"github.com/badgeforge/entitlement/internal/domain/userbadge"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	badges     map[string]*badge.Badge
	rules      map[string][]badge.Rule
	userBadges map[string]*userbadge.UserBadge // key: userID+"/"+badgeID
	ledgerRefs map[string]*userbadge.LedgerEntry
	ledger     []userbadge.LedgerEntry
	logs       []userbadge.Log
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		badges:     map[string]*badge.Badge{},
		rules:      map[string][]badge.Rule{},
		userBadges: map[string]*userbadge.UserBadge{},
		ledgerRefs: map[string]*userbadge.LedgerEntry{},
	}
}

func key(userID, badgeID string) string { return userID + "/" + badgeID }

func (s *fakeStore) GetBadge(ctx context.Context, badgeID string) (*badge.Badge, error) {
	return s.badges[badgeID], nil
}

func (s *fakeStore) GetEffectiveBadgeRules(ctx context.Context, badgeID string, now time.Time) ([]badge.Rule, error) {
	return s.rules[badgeID], nil
}

func (s *fakeStore) GetUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error) {
	return s.userBadges[key(userID, badgeID)], nil
}

func (s *fakeStore) FindAcquireLedgerByRef(ctx context.Context, userID, badgeID, refID string) (*userbadge.LedgerEntry, error) {
	return s.ledgerRefs[key(userID, badgeID)+"/"+refID], nil
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &fakeTx{store: s}
	return fn(tx)
}

type fakeTx struct{ store *fakeStore }

func (t *fakeTx) LockOrCreateUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error) {
	k := key(userID, badgeID)
	if ub, ok := t.store.userBadges[k]; ok {
		cp := *ub
		return &cp, nil
	}
	return &userbadge.UserBadge{ID: "ub-" + k, UserID: userID, BadgeID: badgeID}, nil
}

func (t *fakeTx) SaveUserBadge(ctx context.Context, ub *userbadge.UserBadge) error {
	cp := *ub
	t.store.userBadges[key(ub.UserID, ub.BadgeID)] = &cp
	return nil
}

func (t *fakeTx) AppendLedgerEntry(ctx context.Context, entry userbadge.LedgerEntry) error {
	t.store.ledger = append(t.store.ledger, entry)
	if entry.RefID != "" {
		cp := entry
		t.store.ledgerRefs[key(entry.UserID, entry.BadgeID)+"/"+entry.RefID] = &cp
	}
	return nil
}

func (t *fakeTx) IncrementIssuedCount(ctx context.Context, badgeID string, delta int64) error {
	if b, ok := t.store.badges[badgeID]; ok {
		b.IssuedCount += delta
	}
	return nil
}

func (t *fakeTx) AppendUserBadgeLog(ctx context.Context, log userbadge.Log) error {
	t.store.logs = append(t.store.logs, log)
	return nil
}

type fakeCache struct{ invalidated []string }

func (f *fakeCache) InvalidateUserBadge(userID string) { f.invalidated = append(f.invalidated, userID) }

type fakeNotifier struct{ notified []string }

func (f *fakeNotifier) NotifyBadgeGranted(ctx context.Context, userID, badgeID string, quantity int64) {
	f.notified = append(f.notified, userID+"/"+badgeID)
}

type fakeHoldingsStore struct{ holdings map[string]map[string]int64 }

func (f *fakeHoldingsStore) ActiveHoldings(ctx context.Context, userID string, badgeIDs []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, b := range badgeIDs {
		out[b] = f.holdings[userID][b]
	}
	return out, nil
}

func emptyGraphHolder() *depgraph.Holder {
	return depgraph.NewHolder(staticEdges{}, 0)
}

type staticEdges struct{}

func (staticEdges) ListDependencyEdges(ctx context.Context) ([]badge.DependencyEdge, error) {
	return nil, nil
}

func activeBadge(id string) *badge.Badge {
	return &badge.Badge{ID: id, Status: badge.StatusActive, Validity: badge.Validity{Kind: badge.ValidityPermanent}}
}

func newService(store *fakeStore, holdings *fakeHoldingsStore) (*Service, *fakeCache, *fakeNotifier) {
	cache := &fakeCache{}
	notifier := &fakeNotifier{}
	holder := emptyGraphHolder()
	_ = holder.Refresh(context.Background())
	svc := New(store, holder, holdings, cache, notifier, nil, nil, Config{CascadeMaxDepth: 5, CascadeTimeout: time.Second})
	return svc, cache, notifier
}

func TestGrantBadge_Success(t *testing.T) {
	store := newFakeStore()
	store.badges["B1"] = activeBadge("B1")
	holdings := &fakeHoldingsStore{holdings: map[string]map[string]int64{}}
	svc, cache, notifier := newService(store, holdings)

	resp, err := svc.GrantBadge(context.Background(), Request{UserID: "u1", BadgeID: "B1", Quantity: 1, Source: userbadge.SourceEvent})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.NewQuantity)
	assert.False(t, resp.Duplicate)
	assert.Equal(t, []string{"u1"}, cache.invalidated)
	assert.Equal(t, []string{"u1/B1"}, notifier.notified)
	assert.Len(t, store.ledger, 1)
	assert.Equal(t, int64(1), store.badges["B1"].IssuedCount)
}

func TestGrantBadge_IdempotentDuplicate(t *testing.T) {
	store := newFakeStore()
	store.badges["B1"] = activeBadge("B1")
	holdings := &fakeHoldingsStore{holdings: map[string]map[string]int64{}}
	svc, _, _ := newService(store, holdings)

	req := Request{UserID: "u1", BadgeID: "B1", Quantity: 1, Source: userbadge.SourceEvent, IdempotencyKey: "ref-1"}
	first, err := svc.GrantBadge(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.GrantBadge(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.NewQuantity, second.NewQuantity)
	assert.Len(t, store.ledger, 1, "duplicate request must not append a second ledger entry")
}

func TestGrantBadge_SharedSourceRefDoesNotDedupeAcrossBadges(t *testing.T) {
	store := newFakeStore()
	store.badges["B1"] = activeBadge("B1")
	store.badges["B2"] = activeBadge("B2")
	holdings := &fakeHoldingsStore{holdings: map[string]map[string]int64{}}
	svc, _, _ := newService(store, holdings)

	// One event can match two rules and grant two distinct badges; the
	// shared event id must not collapse the second grant into the first.
	first, err := svc.GrantBadge(context.Background(), Request{UserID: "u1", BadgeID: "B1", Quantity: 1, Source: userbadge.SourceEvent, SourceRef: "evt-1"})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.GrantBadge(context.Background(), Request{UserID: "u1", BadgeID: "B2", Quantity: 1, Source: userbadge.SourceEvent, SourceRef: "evt-1"})
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.Len(t, store.ledger, 2)

	replay, err := svc.GrantBadge(context.Background(), Request{UserID: "u1", BadgeID: "B1", Quantity: 1, Source: userbadge.SourceEvent, SourceRef: "evt-1"})
	require.NoError(t, err)
	assert.True(t, replay.Duplicate, "same (user, badge, ref) must still dedupe")
	assert.Len(t, store.ledger, 2)
}

func TestGrantBadge_BadgeNotFound(t *testing.T) {
	store := newFakeStore()
	holdings := &fakeHoldingsStore{holdings: map[string]map[string]int64{}}
	svc, _, _ := newService(store, holdings)

	_, err := svc.GrantBadge(context.Background(), Request{UserID: "u1", BadgeID: "missing", Quantity: 1, Source: userbadge.SourceEvent})
	require.Error(t, err)
	assert.True(t, entitlementerr.Is(err, entitlementerr.CodeBadgeNotFound))
}

func TestGrantBadge_SupplyCapEnforced(t *testing.T) {
	store := newFakeStore()
	max := int64(1)
	b := activeBadge("B1")
	b.MaxSupply = &max
	b.IssuedCount = 1
	store.badges["B1"] = b
	holdings := &fakeHoldingsStore{holdings: map[string]map[string]int64{}}
	svc, _, _ := newService(store, holdings)

	_, err := svc.GrantBadge(context.Background(), Request{UserID: "u1", BadgeID: "B1", Quantity: 1, Source: userbadge.SourceEvent})
	require.Error(t, err)
	assert.True(t, entitlementerr.Is(err, entitlementerr.CodeBadgeOutOfStock))
}

func TestGrantBadge_PerUserCapEnforced(t *testing.T) {
	store := newFakeStore()
	store.badges["B1"] = activeBadge("B1")
	limit := 2
	store.rules["B1"] = []badge.Rule{{ID: "r1", BadgeID: "B1", Enabled: true, MaxCountPerUser: &limit}}
	store.userBadges[key("u1", "B1")] = &userbadge.UserBadge{ID: "ub1", UserID: "u1", BadgeID: "B1", Quantity: 2, Status: userbadge.StatusActive}
	holdings := &fakeHoldingsStore{holdings: map[string]map[string]int64{}}
	svc, _, _ := newService(store, holdings)

	_, err := svc.GrantBadge(context.Background(), Request{UserID: "u1", BadgeID: "B1", Quantity: 1, Source: userbadge.SourceEvent})
	require.Error(t, err)
	assert.True(t, entitlementerr.Is(err, entitlementerr.CodeAcquisitionLimit))
}

func TestGrantBadge_PrerequisiteNotMetBlocksNonCascadeSource(t *testing.T) {
	store := newFakeStore()
	store.badges["B1"] = activeBadge("B1")
	holdings := &fakeHoldingsStore{holdings: map[string]map[string]int64{}}
	holder := depgraph.NewHolder(edgeStoreOf([]badge.DependencyEdge{
		{ID: "e1", FromBadgeID: "PRE", ToBadgeID: "B1", Type: badge.DependencyPrerequisite, RequiredQuantity: 1, DependencyGroupID: "g1", Enabled: true},
	}), 0)
	require.NoError(t, holder.Refresh(context.Background()))
	svc := New(store, holder, holdings, &fakeCache{}, &fakeNotifier{}, nil, nil, Config{})

	_, err := svc.GrantBadge(context.Background(), Request{UserID: "u1", BadgeID: "B1", Quantity: 1, Source: userbadge.SourceEvent})
	require.Error(t, err)
	assert.True(t, entitlementerr.Is(err, entitlementerr.CodePrerequisiteNotMet))
}

func TestGrantBadge_CascadeSourceSkipsPrerequisiteCheck(t *testing.T) {
	store := newFakeStore()
	store.badges["B1"] = activeBadge("B1")
	holdings := &fakeHoldingsStore{holdings: map[string]map[string]int64{}}
	holder := depgraph.NewHolder(edgeStoreOf([]badge.DependencyEdge{
		{ID: "e1", FromBadgeID: "PRE", ToBadgeID: "B1", Type: badge.DependencyPrerequisite, RequiredQuantity: 1, DependencyGroupID: "g1", Enabled: true},
	}), 0)
	require.NoError(t, holder.Refresh(context.Background()))
	svc := New(store, holder, holdings, &fakeCache{}, &fakeNotifier{}, nil, nil, Config{})

	err := svc.GrantCascade(context.Background(), "u1", "B1", "PRE")
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.userBadges[key("u1", "B1")].Quantity)
}

func TestBatchGrantBadges_PartialFailureDoesNotTaintSiblings(t *testing.T) {
	store := newFakeStore()
	store.badges["B1"] = activeBadge("B1")
	holdings := &fakeHoldingsStore{holdings: map[string]map[string]int64{}}
	svc, _, _ := newService(store, holdings)

	result := svc.BatchGrantBadges(context.Background(), []Request{
		{UserID: "u1", BadgeID: "B1", Quantity: 1, Source: userbadge.SourceEvent},
		{UserID: "u1", BadgeID: "missing", Quantity: 1, Source: userbadge.SourceEvent},
	})
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)
}

type edgeStoreOf []badge.DependencyEdge

func (e edgeStoreOf) ListDependencyEdges(ctx context.Context) ([]badge.DependencyEdge, error) {
	return e, nil
}
