package benefitdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	revocable bool
	grants    map[string]GrantResult
}

func newFakeHandler(revocable bool) *fakeHandler {
	return &fakeHandler{revocable: revocable, grants: map[string]GrantResult{}}
}

func (h *fakeHandler) ValidateConfig(config map[string]interface{}) error { return nil }

func (h *fakeHandler) Grant(ctx context.Context, req GrantRequest) (GrantResult, error) {
	now := time.Now().UTC()
	result := GrantResult{GrantNo: req.GrantNo, Status: benefit.GrantSuccess, GrantedAt: &now}
	h.grants[req.GrantNo] = result
	return result, nil
}

func (h *fakeHandler) Revoke(ctx context.Context, grantNo string) error {
	delete(h.grants, grantNo)
	return nil
}

func (h *fakeHandler) QueryStatus(ctx context.Context, grantNo string) (GrantResult, error) {
	return h.grants[grantNo], nil
}

func (h *fakeHandler) IsRevocable() bool { return h.revocable }

type fakeStore struct {
	records map[string]GrantRecord
	stock   map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]GrantRecord{}, stock: map[string]int64{}}
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return fn(&fakeTx{s})
}

type fakeTx struct{ s *fakeStore }

func (t *fakeTx) FindGrantByNo(ctx context.Context, grantNo string) (*GrantRecord, error) {
	if r, ok := t.s.records[grantNo]; ok {
		return &r, nil
	}
	return nil, nil
}

func (t *fakeTx) SaveGrant(ctx context.Context, record GrantRecord) error {
	t.s.records[record.GrantNo] = record
	return nil
}

func (t *fakeTx) DecrementBenefitStock(ctx context.Context, benefitID string, delta int64) error {
	t.s.stock[benefitID] -= delta
	return nil
}

func TestGrant_GeneratesGrantNoAndPersists(t *testing.T) {
	registry := NewRegistry()
	handler := newFakeHandler(true)
	registry.Register("points", handler)
	store := newFakeStore()
	svc := New(store, registry)

	result, err := svc.Grant(context.Background(), "points", GrantRequest{UserID: "u1", BenefitID: "b1"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.GrantNo)
	assert.Equal(t, benefit.GrantSuccess, result.Status)
	assert.False(t, result.Duplicate)
	assert.Contains(t, result.GrantNo, "BG")
	assert.Equal(t, int64(-1), store.stock["b1"])
}

func TestGrant_DuplicateGrantNoReturnsSnapshot(t *testing.T) {
	registry := NewRegistry()
	handler := newFakeHandler(true)
	registry.Register("points", handler)
	store := newFakeStore()
	svc := New(store, registry)

	req := GrantRequest{UserID: "u1", BenefitID: "b1", GrantNo: "BG-FIXED-1"}
	first, err := svc.Grant(context.Background(), "points", req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.Grant(context.Background(), "points", req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(-1), store.stock["b1"], "duplicate grant must not double-decrement stock")
}

func TestRevoke_NonRevocableTypeFails(t *testing.T) {
	registry := NewRegistry()
	registry.Register("physical", newFakeHandler(false))
	svc := New(newFakeStore(), registry)

	err := svc.Revoke(context.Background(), "physical", "BG-1")
	require.Error(t, err)
}

func TestRevoke_RevocableTypeSucceeds(t *testing.T) {
	registry := NewRegistry()
	handler := newFakeHandler(true)
	registry.Register("points", handler)
	store := newFakeStore()
	svc := New(store, registry)

	result, err := svc.Grant(context.Background(), "points", GrantRequest{UserID: "u1", BenefitID: "b1", GrantNo: "BG-1"})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), "points", result.GrantNo))
}
