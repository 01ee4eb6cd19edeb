package redemption

import (
	"context"
	"fmt"
	"time"

	"github.com/badgeforge/entitlement/internal/benefitdispatch"
	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/domain/userbadge"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
	"github.com/badgeforge/entitlement/internal/idempotency"
	"github.com/badgeforge/entitlement/internal/obs/metrics"
	"github.com/badgeforge/entitlement/pkg/logger"
)

// Config bounds the keyed critical section every redemption serializes on.
type Config struct {
	LockTTL        time.Duration
	LockRetries    int
	LockRetryDelay time.Duration
}

// Service implements redemption: basket validation, stock decrement, and dispatch.
type Service struct {
	store    Store
	dispatch *benefitdispatch.Service
	locks    *idempotency.KeyedSection
	cache    CacheInvalidator
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
}

func New(store Store, dispatch *benefitdispatch.Service, locker idempotency.DistributedLocker, cache CacheInvalidator, notifier Notifier, m *metrics.Metrics, log *logger.Logger, cfg Config) *Service {
	return &Service{
		store: store, dispatch: dispatch,
		locks: idempotency.NewKeyedSection(locker, cfg.LockTTL, cfg.LockRetries, cfg.LockRetryDelay),
		cache: cache, notifier: notifier, metrics: m, log: log,
	}
}

// Redeem executes one redemption attempt, serialized per (user, rule).
func (s *Service) Redeem(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	var resp *Response
	lockErr := s.locks.Run(ctx, idempotency.RedemptionLockName(req.UserID, req.RuleID), func(ctx context.Context) error {
		r, err := s.redeem(ctx, req)
		resp = r
		return err
	})
	if s.metrics != nil {
		result := "success"
		if lockErr != nil {
			result = "error"
		} else if resp != nil && resp.Duplicate {
			result = "duplicate"
		}
		s.metrics.RecordRedemption(result, time.Since(start))
	}
	if lockErr != nil {
		return nil, lockErr
	}
	return resp, nil
}

func (s *Service) redeem(ctx context.Context, req Request) (*Response, error) {
	// 1. Idempotency.
	if req.IdempotencyKey != "" {
		if existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			return nil, entitlementerr.Internal("idempotency lookup failed", err)
		} else if existing != nil {
			b, _ := s.store.GetBenefit(ctx, existing.BenefitID)
			name := ""
			if b != nil {
				name = b.Name
			}
			return &Response{
				Success: existing.Status == benefit.OrderSuccess, OrderNo: existing.OrderNo, OrderID: existing.ID,
				BenefitName: name, Message: "duplicate request", Duplicate: true,
			}, nil
		}
	}

	// 2. Rule validation.
	rule, err := s.store.GetRule(ctx, req.RuleID)
	if err != nil {
		return nil, entitlementerr.Internal("failed to load redemption rule", err)
	}
	if rule == nil {
		return nil, entitlementerr.RuleNotFound(req.RuleID)
	}
	now := time.Now().UTC()
	if !rule.Effective(now) {
		return nil, entitlementerr.RuleInactive(req.RuleID)
	}

	// 3. Benefit availability.
	b, err := s.store.GetBenefit(ctx, rule.BenefitID)
	if err != nil {
		return nil, entitlementerr.Internal("failed to load benefit", err)
	}
	if b == nil {
		return nil, entitlementerr.BenefitNotFound(rule.BenefitID)
	}
	if !b.IsActive() {
		return nil, entitlementerr.BenefitInactive(rule.BenefitID)
	}
	if !b.HasStock() {
		return nil, entitlementerr.BenefitOutOfStock(rule.BenefitID)
	}

	// 4. Frequency ceilings.
	for _, w := range frequencyWindows(rule.FrequencyConfig, now) {
		count, err := s.store.CountSuccessfulOrders(ctx, req.UserID, req.RuleID, w.since)
		if err != nil {
			return nil, entitlementerr.Internal("failed to count prior redemptions", err)
		}
		if count >= w.limit {
			return nil, entitlementerr.FrequencyLimitReached(w.scope)
		}
	}

	// 5. Basket sufficiency.
	badgeIDs := make([]string, len(rule.RequiredBadges))
	for i, rb := range rule.RequiredBadges {
		badgeIDs[i] = rb.BadgeID
	}
	holdings, err := s.store.ActiveHoldings(ctx, req.UserID, badgeIDs)
	if err != nil {
		return nil, entitlementerr.Internal("failed to load holdings", err)
	}
	for _, rb := range rule.RequiredBadges {
		if holdings[rb.BadgeID] < int64(rb.Quantity) {
			return nil, entitlementerr.InsufficientBadges(rb.BadgeID, rb.Quantity, int(holdings[rb.BadgeID]))
		}
	}

	// 6. Transactional execution.
	var result Response
	orderID := fmt.Sprintf("ord-%s-%s-%d", req.UserID, req.RuleID, now.UnixNano())
	orderNo := fmt.Sprintf("RD%s%s", now.Format("060102"), orderID[len(orderID)-6:])
	txErr := s.store.WithTx(ctx, func(tx Tx) error {
		order := benefit.Order{
			ID: orderID, OrderNo: orderNo, UserID: req.UserID, RuleID: req.RuleID, BenefitID: rule.BenefitID,
			Status: benefit.OrderPending, IdempotencyKey: req.IdempotencyKey, CreatedAt: now,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, rb := range rule.RequiredBadges {
			ub, err := tx.LockUserBadge(ctx, req.UserID, rb.BadgeID)
			if err != nil {
				return fmt.Errorf("lock user badge %s: %w", rb.BadgeID, err)
			}
			if ub == nil || ub.Quantity < int64(rb.Quantity) {
				return entitlementerr.InsufficientBadges(rb.BadgeID, rb.Quantity, 0)
			}
			ub.Quantity -= int64(rb.Quantity)
			if ub.Quantity == 0 {
				ub.Status = userbadge.StatusRedeemed
			}
			if err := tx.SaveUserBadge(ctx, ub); err != nil {
				return fmt.Errorf("save user badge: %w", err)
			}
			if err := tx.AppendLedgerEntry(ctx, userbadge.LedgerEntry{
				UserID: req.UserID, BadgeID: rb.BadgeID, ChangeType: userbadge.ChangeRedeemOut,
				SignedQuantity: -int64(rb.Quantity), BalanceAfter: ub.Quantity,
				RefID: orderID, RefType: "redemption", CreatedAt: now,
			}); err != nil {
				return fmt.Errorf("append ledger entry: %w", err)
			}
			if err := tx.AppendOrderDetail(ctx, benefit.OrderDetail{OrderID: orderID, BadgeID: rb.BadgeID, Quantity: rb.Quantity}); err != nil {
				return fmt.Errorf("append order detail: %w", err)
			}
		}

		grantResult, err := s.dispatch.GrantInTx(ctx, tx, b.Type, benefitdispatch.GrantRequest{
			UserID: req.UserID, BenefitID: rule.BenefitID, BenefitConfig: b.Config, RedemptionOrder: orderID,
		})
		if err != nil {
			_ = tx.SetOrderStatus(ctx, orderID, benefit.OrderFailed, err.Error())
			return err
		}
		if err := tx.SetOrderStatus(ctx, orderID, benefit.OrderSuccess, ""); err != nil {
			return fmt.Errorf("set order status: %w", err)
		}

		result = Response{Success: true, OrderNo: orderNo, OrderID: orderID, BenefitName: b.Name, Message: grantResult.Message}
		return nil
	})
	if txErr != nil {
		if e := entitlementerr.As(txErr); e != nil {
			return nil, e
		}
		return nil, entitlementerr.Internal("redemption transaction failed", txErr)
	}

	// 7. Post-commit.
	if s.cache != nil {
		s.cache.InvalidateUserBadge(req.UserID)
	}
	if s.notifier != nil {
		s.notifier.NotifyRedemptionSuccess(ctx, req.UserID, orderNo)
	}
	return &result, nil
}
