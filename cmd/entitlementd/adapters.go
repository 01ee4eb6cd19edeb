package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/badgeforge/entitlement/internal/benefitdispatch/handlers"
	"github.com/badgeforge/entitlement/internal/ttlcache"
	"github.com/badgeforge/entitlement/pkg/logger"
)

// cacheAdapter backs every service package's narrow CacheInvalidator
// interface with one shared ttlcache.Cache, dropping the whole family of
// derived keys for a user (wall, detail, ...) on any mutation.
type cacheAdapter struct {
	cache *ttlcache.Cache
}

func newCacheAdapter(cache *ttlcache.Cache) *cacheAdapter {
	return &cacheAdapter{cache: cache}
}

func (a *cacheAdapter) InvalidateUserBadge(userID string) {
	a.cache.InvalidatePrefix(userBadgeCacheKey(userID, ""))
}

func userBadgeCacheKey(userID, badgeID string) string {
	return fmt.Sprintf("userbadge:%s:%s", userID, badgeID)
}

// notifyAdapter satisfies every service package's Notifier interface with a
// structured log line; production deployments swap this for a real
// transport (webhook, message bus) without touching a caller.
type notifyAdapter struct {
	log *logger.Logger
}

func newNotifyAdapter(log *logger.Logger) *notifyAdapter {
	return &notifyAdapter{log: log}
}

func (n *notifyAdapter) NotifyBadgeGranted(ctx context.Context, userID, badgeID string, quantity int64) {
	n.log.WithField("user_id", userID).WithField("badge_id", badgeID).WithField("quantity", quantity).
		Info("badge granted")
}

func (n *notifyAdapter) NotifyBadgeRevoked(ctx context.Context, userID, badgeID string, quantity int64) {
	n.log.WithField("user_id", userID).WithField("badge_id", badgeID).WithField("quantity", quantity).
		Info("badge revoked")
}

func (n *notifyAdapter) NotifyRedemptionSuccess(ctx context.Context, userID, orderNo string) {
	n.log.WithField("user_id", userID).WithField("order_no", orderNo).Info("redemption succeeded")
}

func (n *notifyAdapter) NotifyBadgeExpired(ctx context.Context, userID, badgeID string) {
	n.log.WithField("user_id", userID).WithField("badge_id", badgeID).Info("badge expired")
}

// inMemoryPointsLedger is the default handlers.PointsLedger: a process-local
// balance map. A real deployment points the points handler at the actual
// loyalty-points account service instead.
type inMemoryPointsLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

func newInMemoryPointsLedger() *inMemoryPointsLedger {
	return &inMemoryPointsLedger{balances: make(map[string]int64)}
}

func (l *inMemoryPointsLedger) Credit(ctx context.Context, userID string, amount int64, refID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	return nil
}

func (l *inMemoryPointsLedger) Debit(ctx context.Context, userID string, amount int64, refID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] -= amount
	return nil
}

// inMemoryShipmentCreator is the default handlers.ShipmentCreator: it mints
// a deterministic tracking reference without calling an external warehouse
// system. A real deployment replaces this with a fulfillment API client.
type inMemoryShipmentCreator struct {
	mu     sync.Mutex
	serial int64
}

func newInMemoryShipmentCreator() *inMemoryShipmentCreator {
	return &inMemoryShipmentCreator{}
}

func (c *inMemoryShipmentCreator) CreateShipment(ctx context.Context, userID, sku string) (string, error) {
	c.mu.Lock()
	c.serial++
	n := c.serial
	c.mu.Unlock()
	return fmt.Sprintf("SHIP-%s-%d-%d", sku, time.Now().UTC().Unix(), n), nil
}

// inMemoryCouponIssuer is the default handlers.CouponIssuer: it mints a
// random code and tracks voided ones in-process. A real deployment points
// the coupon handler at the payment provider's (e.g. Stripe) promotion API.
type inMemoryCouponIssuer struct {
	mu     sync.Mutex
	voided map[string]bool
}

func newInMemoryCouponIssuer() *inMemoryCouponIssuer {
	return &inMemoryCouponIssuer{voided: make(map[string]bool)}
}

func (c *inMemoryCouponIssuer) IssueCoupon(ctx context.Context, userID string, discountType string, discountAmount int64) (string, error) {
	return handlers.GenerateCouponCode(10)
}

func (c *inMemoryCouponIssuer) VoidCoupon(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voided[code] = true
	return nil
}
