// Package handlers holds the built-in benefit_type handlers.
package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/badgeforge/entitlement/internal/benefitdispatch"
	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
)

// PointsLedger is the external points-account surface a Points handler
// credits/debits against.
type PointsLedger interface {
	Credit(ctx context.Context, userID string, amount int64, refID string) error
	Debit(ctx context.Context, userID string, amount int64, refID string) error
}

// PointsHandler issues an instant points credit. Points grants are
// revocable: a revoke simply debits the same amount back.
type PointsHandler struct {
	ledger PointsLedger

	mu      sync.Mutex
	issued  map[string]benefitdispatch.GrantResult // grant_no -> result, in-process status store
	userIDs map[string]string                      // grant_no -> user_id, needed to debit on revoke
}

func NewPointsHandler(ledger PointsLedger) *PointsHandler {
	return &PointsHandler{
		ledger:  ledger,
		issued:  make(map[string]benefitdispatch.GrantResult),
		userIDs: make(map[string]string),
	}
}

func (h *PointsHandler) ValidateConfig(config map[string]interface{}) error {
	amount, ok := config["amount"]
	if !ok {
		return entitlementerr.Validation("amount", "points config requires an amount")
	}
	switch v := amount.(type) {
	case float64:
		if v <= 0 {
			return entitlementerr.Validation("amount", "must be positive")
		}
	case int:
		if v <= 0 {
			return entitlementerr.Validation("amount", "must be positive")
		}
	default:
		return entitlementerr.Validation("amount", "must be numeric")
	}
	return nil
}

func (h *PointsHandler) Grant(ctx context.Context, req benefitdispatch.GrantRequest) (benefitdispatch.GrantResult, error) {
	amount, err := pointsAmount(req.BenefitConfig)
	if err != nil {
		return benefitdispatch.GrantResult{}, err
	}
	if err := h.ledger.Credit(ctx, req.UserID, amount, req.GrantNo); err != nil {
		return benefitdispatch.GrantResult{}, entitlementerr.Internal("points credit failed", err)
	}
	now := time.Now().UTC()
	result := benefitdispatch.GrantResult{
		GrantNo: req.GrantNo, Status: benefit.GrantSuccess, GrantedAt: &now,
		Payload: map[string]interface{}{"amount": amount}, Message: "points credited",
	}
	h.mu.Lock()
	h.issued[req.GrantNo] = result
	h.userIDs[req.GrantNo] = req.UserID
	h.mu.Unlock()
	return result, nil
}

func (h *PointsHandler) Revoke(ctx context.Context, grantNo string) error {
	h.mu.Lock()
	result, ok := h.issued[grantNo]
	userID := h.userIDs[grantNo]
	h.mu.Unlock()
	if !ok {
		return entitlementerr.Internal(fmt.Sprintf("no points grant found for %s", grantNo), nil)
	}
	amount, _ := result.Payload["amount"].(int64)
	return h.ledger.Debit(ctx, userID, amount, grantNo)
}

func (h *PointsHandler) QueryStatus(ctx context.Context, grantNo string) (benefitdispatch.GrantResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	result, ok := h.issued[grantNo]
	if !ok {
		return benefitdispatch.GrantResult{}, entitlementerr.Internal(fmt.Sprintf("no points grant found for %s", grantNo), nil)
	}
	return result, nil
}

func (h *PointsHandler) IsRevocable() bool { return true }

func pointsAmount(config map[string]interface{}) (int64, error) {
	raw, ok := config["amount"]
	if !ok {
		return 0, entitlementerr.Validation("amount", "points config requires an amount")
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, entitlementerr.Validation("amount", "must be numeric")
	}
}
