package redemption

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/badgeforge/entitlement/internal/benefitdispatch"
	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/domain/userbadge"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
	"github.com/badgeforge/entitlement/internal/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	grants map[string]benefitdispatch.GrantResult
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{grants: map[string]benefitdispatch.GrantResult{}}
}

func (h *fakeHandler) ValidateConfig(config map[string]interface{}) error { return nil }

func (h *fakeHandler) Grant(ctx context.Context, req benefitdispatch.GrantRequest) (benefitdispatch.GrantResult, error) {
	result := benefitdispatch.GrantResult{GrantNo: req.GrantNo, Status: benefit.GrantSuccess, Message: "granted"}
	h.grants[req.GrantNo] = result
	return result, nil
}

func (h *fakeHandler) Revoke(ctx context.Context, grantNo string) error { return nil }

func (h *fakeHandler) QueryStatus(ctx context.Context, grantNo string) (benefitdispatch.GrantResult, error) {
	return h.grants[grantNo], nil
}

func (h *fakeHandler) IsRevocable() bool { return true }

type fakeStore struct {
	mu           sync.Mutex
	rules        map[string]*benefit.RedemptionRule
	benefits     map[string]*benefit.Benefit
	ordersByID   map[string]*benefit.Order
	ordersByKey  map[string]*benefit.Order
	holdings     map[string]map[string]int64
	successCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules: map[string]*benefit.RedemptionRule{}, benefits: map[string]*benefit.Benefit{},
		ordersByID: map[string]*benefit.Order{}, ordersByKey: map[string]*benefit.Order{},
		holdings: map[string]map[string]int64{},
	}
}

func (s *fakeStore) GetRule(ctx context.Context, ruleID string) (*benefit.RedemptionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) GetBenefit(ctx context.Context, benefitID string) (*benefit.Benefit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.benefits[benefitID]
	if !ok {
		return nil, nil
	}
	cp := *b
	if b.RemainingStock != nil {
		remaining := *b.RemainingStock
		cp.RemainingStock = &remaining
	}
	return &cp, nil
}

func (s *fakeStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*benefit.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.ordersByKey[key]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) CountSuccessfulOrders(ctx context.Context, userID, ruleID string, since *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successCount, nil
}

func (s *fakeStore) ActiveHoldings(ctx context.Context, userID string, badgeIDs []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, b := range badgeIDs {
		out[b] = s.holdings[userID][b]
	}
	return out, nil
}

// WithTx serializes transactions under one store-wide mutex, mirroring the
// row locks a real database would take.
func (s *fakeStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&fakeTx{s})
}

type fakeTx struct{ s *fakeStore }

func (t *fakeTx) FindGrantByNo(ctx context.Context, grantNo string) (*benefitdispatch.GrantRecord, error) {
	return nil, nil
}
func (t *fakeTx) SaveGrant(ctx context.Context, record benefitdispatch.GrantRecord) error { return nil }
func (t *fakeTx) DecrementBenefitStock(ctx context.Context, benefitID string, delta int64) error {
	b, ok := t.s.benefits[benefitID]
	if !ok {
		return entitlementerr.BenefitNotFound(benefitID)
	}
	if b.RemainingStock != nil {
		if *b.RemainingStock < delta {
			return entitlementerr.BenefitOutOfStock(benefitID)
		}
		*b.RemainingStock -= delta
	}
	b.RedeemedCount += delta
	return nil
}

func (t *fakeTx) LockUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error) {
	qty := t.s.holdings[userID][badgeID]
	return &userbadge.UserBadge{ID: "ub-" + userID + "-" + badgeID, UserID: userID, BadgeID: badgeID, Quantity: qty, Status: userbadge.StatusActive}, nil
}

func (t *fakeTx) SaveUserBadge(ctx context.Context, ub *userbadge.UserBadge) error {
	if t.s.holdings[ub.UserID] == nil {
		t.s.holdings[ub.UserID] = map[string]int64{}
	}
	t.s.holdings[ub.UserID][ub.BadgeID] = ub.Quantity
	return nil
}

func (t *fakeTx) AppendLedgerEntry(ctx context.Context, entry userbadge.LedgerEntry) error {
	return nil
}

func (t *fakeTx) CreateOrder(ctx context.Context, order benefit.Order) error {
	cp := order
	t.s.ordersByID[order.ID] = &cp
	if order.IdempotencyKey != "" {
		t.s.ordersByKey[order.IdempotencyKey] = &cp
	}
	return nil
}

func (t *fakeTx) AppendOrderDetail(ctx context.Context, detail benefit.OrderDetail) error { return nil }

func (t *fakeTx) SetOrderStatus(ctx context.Context, orderID string, status benefit.OrderStatus, failureReason string) error {
	if o, ok := t.s.ordersByID[orderID]; ok {
		o.Status = status
		o.FailureReason = failureReason
		if o.IdempotencyKey != "" {
			t.s.ordersByKey[o.IdempotencyKey] = o
		}
	}
	return nil
}

type fakeCache struct{ invalidated []string }

func (f *fakeCache) InvalidateUserBadge(userID string) { f.invalidated = append(f.invalidated, userID) }

type fakeNotifier struct{ notified []string }

func (f *fakeNotifier) NotifyRedemptionSuccess(ctx context.Context, userID, orderNo string) {
	f.notified = append(f.notified, userID+"/"+orderNo)
}

func stock(n int64) *int64 { return &n }

func newService(store *fakeStore) *Service {
	registry := benefitdispatch.NewRegistry()
	registry.Register("points", newFakeHandler())
	dispatch := benefitdispatch.New(dispatchStoreAdapter{}, registry)
	locker := idempotency.NewInProcessLocker()
	return New(store, dispatch, locker, &fakeCache{}, &fakeNotifier{}, nil, nil, Config{LockTTL: time.Second, LockRetries: 1, LockRetryDelay: time.Millisecond})
}

// dispatchStoreAdapter is unused by GrantInTx (only Grant uses Store), kept
// to satisfy benefitdispatch.New's signature.
type dispatchStoreAdapter struct{}

func (dispatchStoreAdapter) WithTx(ctx context.Context, fn func(tx benefitdispatch.Tx) error) error {
	return nil
}

func TestRedeem_Success(t *testing.T) {
	store := newFakeStore()
	store.rules["r1"] = &benefit.RedemptionRule{
		ID: "r1", BenefitID: "b1", Enabled: true,
		RequiredBadges: []benefit.RequiredBadge{{BadgeID: "gold", Quantity: 2}},
	}
	store.benefits["b1"] = &benefit.Benefit{ID: "b1", Name: "Gift Card", Type: "points", Status: benefit.StatusActive, RemainingStock: stock(10)}
	store.holdings["u1"] = map[string]int64{"gold": 2}

	svc := newService(store)
	resp, err := svc.Redeem(context.Background(), Request{UserID: "u1", RuleID: "r1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Gift Card", resp.BenefitName)
	assert.Equal(t, int64(0), store.holdings["u1"]["gold"])
}

func TestRedeem_InsufficientBadges(t *testing.T) {
	store := newFakeStore()
	store.rules["r1"] = &benefit.RedemptionRule{
		ID: "r1", BenefitID: "b1", Enabled: true,
		RequiredBadges: []benefit.RequiredBadge{{BadgeID: "gold", Quantity: 2}},
	}
	store.benefits["b1"] = &benefit.Benefit{ID: "b1", Name: "Gift Card", Type: "points", Status: benefit.StatusActive}
	store.holdings["u1"] = map[string]int64{"gold": 1}

	svc := newService(store)
	_, err := svc.Redeem(context.Background(), Request{UserID: "u1", RuleID: "r1"})
	require.Error(t, err)
	assert.True(t, entitlementerr.Is(err, entitlementerr.CodeInsufficientBadges))
}

func TestRedeem_FrequencyLimitReached(t *testing.T) {
	store := newFakeStore()
	limit := 1
	store.rules["r1"] = &benefit.RedemptionRule{
		ID: "r1", BenefitID: "b1", Enabled: true,
		FrequencyConfig: benefit.FrequencyConfig{PerUser: &limit},
	}
	store.benefits["b1"] = &benefit.Benefit{ID: "b1", Name: "Gift Card", Type: "points", Status: benefit.StatusActive}
	store.successCount = 1

	svc := newService(store)
	_, err := svc.Redeem(context.Background(), Request{UserID: "u1", RuleID: "r1"})
	require.Error(t, err)
	assert.True(t, entitlementerr.Is(err, entitlementerr.CodeFrequencyLimit))
}

func TestRedeem_IdempotentDuplicate(t *testing.T) {
	store := newFakeStore()
	store.rules["r1"] = &benefit.RedemptionRule{ID: "r1", BenefitID: "b1", Enabled: true}
	store.benefits["b1"] = &benefit.Benefit{ID: "b1", Name: "Gift Card", Type: "points", Status: benefit.StatusActive}

	svc := newService(store)
	req := Request{UserID: "u1", RuleID: "r1", IdempotencyKey: "idem-1"}
	first, err := svc.Redeem(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.Redeem(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.OrderNo, second.OrderNo)
}

func TestRedeem_ContendedStockIssuesExactlyRemaining(t *testing.T) {
	store := newFakeStore()
	store.rules["r1"] = &benefit.RedemptionRule{
		ID: "r1", BenefitID: "b1", Enabled: true,
		RequiredBadges: []benefit.RequiredBadge{{BadgeID: "gold", Quantity: 1}},
	}
	store.benefits["b1"] = &benefit.Benefit{ID: "b1", Name: "Gift Card", Type: "points", Status: benefit.StatusActive, RemainingStock: stock(5)}
	const users = 20
	for i := 0; i < users; i++ {
		store.holdings[fmt.Sprintf("u%d", i)] = map[string]int64{"gold": 1}
	}

	svc := newService(store)
	var wg sync.WaitGroup
	results := make([]error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Redeem(context.Background(), Request{
				UserID: fmt.Sprintf("u%d", i), RuleID: "r1", IdempotencyKey: fmt.Sprintf("idem-%d", i),
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range results {
		if err == nil {
			succeeded++
			assert.Equal(t, int64(0), store.holdings[fmt.Sprintf("u%d", i)]["gold"], "winner's basket must be debited")
			continue
		}
		outOfStock := entitlementerr.Is(err, entitlementerr.CodeBenefitOutOfStock)
		conflict := entitlementerr.Is(err, entitlementerr.CodeConcurrencyConflict)
		assert.True(t, outOfStock || conflict, "loser must see out-of-stock or a retryable conflict, got %v", err)
	}
	assert.Equal(t, 5, succeeded)
	require.NotNil(t, store.benefits["b1"].RemainingStock)
	assert.Equal(t, int64(0), *store.benefits["b1"].RemainingStock)
}

func TestRedeem_RuleNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newService(store)
	_, err := svc.Redeem(context.Background(), Request{UserID: "u1", RuleID: "missing"})
	require.Error(t, err)
	assert.True(t, entitlementerr.Is(err, entitlementerr.CodeRuleNotFound))
}
