package autobenefit

import (
	"context"
	"testing"

	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/redemption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuleStore struct {
	rulesByBadge map[string][]benefit.RedemptionRule
}

func (f *fakeRuleStore) AutoRedeemRulesForBadge(ctx context.Context, badgeID string) ([]benefit.RedemptionRule, error) {
	return f.rulesByBadge[badgeID], nil
}

type fakeHoldings struct{ holdings map[string]map[string]int64 }

func (f *fakeHoldings) ActiveHoldings(ctx context.Context, userID string, badgeIDs []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, b := range badgeIDs {
		out[b] = f.holdings[userID][b]
	}
	return out, nil
}

type fakeRedeemer struct {
	calls []redemption.Request
}

func (f *fakeRedeemer) Redeem(ctx context.Context, req redemption.Request) (*redemption.Response, error) {
	f.calls = append(f.calls, req)
	return &redemption.Response{Success: true}, nil
}

func TestEvaluateAutoBenefit_RedeemsSatisfiedRule(t *testing.T) {
	rules := &fakeRuleStore{rulesByBadge: map[string][]benefit.RedemptionRule{
		"gold": {{ID: "r1", AutoRedeem: true, Enabled: true, RequiredBadges: []benefit.RequiredBadge{{BadgeID: "gold", Quantity: 1}}}},
	}}
	holdings := &fakeHoldings{holdings: map[string]map[string]int64{"u1": {"gold": 1}}}
	redeemer := &fakeRedeemer{}
	ev := New(rules, holdings, redeemer, nil, Config{Async: false})

	err := ev.EvaluateAutoBenefit(context.Background(), "u1", "gold", "evt-1")
	require.NoError(t, err)
	require.Len(t, redeemer.calls, 1)
	assert.Equal(t, "r1", redeemer.calls[0].RuleID)
	assert.Equal(t, "auto:u1:r1:evt-1", redeemer.calls[0].IdempotencyKey)
}

func TestEvaluateAutoBenefit_SkipsUnsatisfiedRule(t *testing.T) {
	rules := &fakeRuleStore{rulesByBadge: map[string][]benefit.RedemptionRule{
		"gold": {{ID: "r1", AutoRedeem: true, Enabled: true, RequiredBadges: []benefit.RequiredBadge{{BadgeID: "gold", Quantity: 2}}}},
	}}
	holdings := &fakeHoldings{holdings: map[string]map[string]int64{"u1": {"gold": 1}}}
	redeemer := &fakeRedeemer{}
	ev := New(rules, holdings, redeemer, nil, Config{Async: false})

	err := ev.EvaluateAutoBenefit(context.Background(), "u1", "gold", "evt-1")
	require.NoError(t, err)
	assert.Empty(t, redeemer.calls)
}

func TestEvaluateAutoBenefit_SkipsDisabledRule(t *testing.T) {
	rules := &fakeRuleStore{rulesByBadge: map[string][]benefit.RedemptionRule{
		"gold": {{ID: "r1", AutoRedeem: true, Enabled: false}},
	}}
	holdings := &fakeHoldings{holdings: map[string]map[string]int64{}}
	redeemer := &fakeRedeemer{}
	ev := New(rules, holdings, redeemer, nil, Config{Async: false})

	err := ev.EvaluateAutoBenefit(context.Background(), "u1", "gold", "evt-1")
	require.NoError(t, err)
	assert.Empty(t, redeemer.calls)
}

func TestDeriveIdempotencyKey_Deterministic(t *testing.T) {
	k1 := DeriveIdempotencyKey("u1", "r1", "evt-1")
	k2 := DeriveIdempotencyKey("u1", "r1", "evt-1")
	assert.Equal(t, k1, k2)
}
