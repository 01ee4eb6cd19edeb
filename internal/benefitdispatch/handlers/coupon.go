package handlers

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/badgeforge/entitlement/internal/benefitdispatch"
	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
)

// CouponIssuer mints a redeemable discount code in an external promotions
// system (payment provider, marketing platform, ...) and can void one back.
type CouponIssuer interface {
	IssueCoupon(ctx context.Context, userID string, discountType string, discountAmount int64) (code string, err error)
	VoidCoupon(ctx context.Context, code string) error
}

const couponCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CouponHandler issues a discount coupon code. `discount_type` is either
// "percentage" or "fixed_amount"; `discount_amount` is a percent (0-100) or
// a minor-currency-unit integer respectively. Coupons are revocable until
// the external provider reports them redeemed, which this core does not
// track — revoke simply voids the code.
type CouponHandler struct {
	issuer CouponIssuer

	mu     sync.Mutex
	issued map[string]benefitdispatch.GrantResult
}

func NewCouponHandler(issuer CouponIssuer) *CouponHandler {
	return &CouponHandler{issuer: issuer, issued: make(map[string]benefitdispatch.GrantResult)}
}

func (h *CouponHandler) ValidateConfig(config map[string]interface{}) error {
	discountType, ok := config["discount_type"].(string)
	if !ok || (discountType != "percentage" && discountType != "fixed_amount") {
		return entitlementerr.Validation("discount_type", "coupon config requires discount_type of percentage or fixed_amount")
	}
	amount, err := couponAmount(config)
	if err != nil {
		return err
	}
	if discountType == "percentage" && (amount <= 0 || amount > 100) {
		return entitlementerr.Validation("discount_amount", "percentage discount must be in (0, 100]")
	}
	if discountType == "fixed_amount" && amount <= 0 {
		return entitlementerr.Validation("discount_amount", "must be positive")
	}
	return nil
}

func (h *CouponHandler) Grant(ctx context.Context, req benefitdispatch.GrantRequest) (benefitdispatch.GrantResult, error) {
	discountType, _ := req.BenefitConfig["discount_type"].(string)
	amount, err := couponAmount(req.BenefitConfig)
	if err != nil {
		return benefitdispatch.GrantResult{}, err
	}
	code, err := h.issuer.IssueCoupon(ctx, req.UserID, discountType, amount)
	if err != nil {
		return benefitdispatch.GrantResult{}, entitlementerr.Internal("coupon issuance failed", err)
	}
	now := time.Now().UTC()
	result := benefitdispatch.GrantResult{
		GrantNo: req.GrantNo, Status: benefit.GrantSuccess, ExternalRef: code, GrantedAt: &now,
		Payload: map[string]interface{}{
			"code":            code,
			"discount_type":   discountType,
			"discount_amount": amount,
		},
		Message: "coupon issued",
	}
	h.mu.Lock()
	h.issued[req.GrantNo] = result
	h.mu.Unlock()
	return result, nil
}

func (h *CouponHandler) Revoke(ctx context.Context, grantNo string) error {
	h.mu.Lock()
	result, ok := h.issued[grantNo]
	h.mu.Unlock()
	if !ok {
		return entitlementerr.Internal(fmt.Sprintf("no coupon grant found for %s", grantNo), nil)
	}
	code, _ := result.Payload["code"].(string)
	return h.issuer.VoidCoupon(ctx, code)
}

func (h *CouponHandler) QueryStatus(ctx context.Context, grantNo string) (benefitdispatch.GrantResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	result, ok := h.issued[grantNo]
	if !ok {
		return benefitdispatch.GrantResult{}, entitlementerr.Internal(fmt.Sprintf("no coupon grant found for %s", grantNo), nil)
	}
	return result, nil
}

func (h *CouponHandler) IsRevocable() bool { return true }

func couponAmount(config map[string]interface{}) (int64, error) {
	raw, ok := config["discount_amount"]
	if !ok {
		return 0, entitlementerr.Validation("discount_amount", "coupon config requires a discount_amount")
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, entitlementerr.Validation("discount_amount", "must be numeric")
	}
}

// GenerateCouponCode builds a random human-typeable code, for in-process
// CouponIssuer implementations that mint their own codes rather than
// delegating to an external provider.
func GenerateCouponCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = couponCodeAlphabet[int(b)%len(couponCodeAlphabet)]
	}
	return string(out), nil
}
