package revoke

import (
	"context"
	"fmt"
	"time"

	"github.com/badgeforge/entitlement/internal/domain/userbadge"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
	"github.com/badgeforge/entitlement/internal/obs/metrics"
	"github.com/badgeforge/entitlement/pkg/logger"
)

// Service implements badge revocation.
type Service struct {
	store    Store
	dedup    RefundDedupStore
	cache    CacheInvalidator
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
}

func New(store Store, dedup RefundDedupStore, cache CacheInvalidator, notifier Notifier, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{store: store, dedup: dedup, cache: cache, notifier: notifier, metrics: m, log: log}
}

// RevokeBadge decrements a user's holding of a badge.
func (s *Service) RevokeBadge(ctx context.Context, req Request) (*Response, error) {
	resp, err := s.revokeBadge(ctx, req)
	if s.metrics != nil {
		result := "success"
		if err != nil {
			result = "error"
		}
		s.metrics.RecordRevoke(result)
	}
	return resp, err
}

func (s *Service) revokeBadge(ctx context.Context, req Request) (*Response, error) {
	if req.Quantity <= 0 {
		return nil, entitlementerr.Validation("quantity", "must be positive")
	}

	existing, err := s.store.GetUserBadge(ctx, req.UserID, req.BadgeID)
	if err != nil {
		return nil, entitlementerr.Internal("failed to load user badge", err)
	}
	if existing == nil {
		return nil, entitlementerr.UserBadgeNotFound(req.UserID, req.BadgeID)
	}
	if existing.Status != userbadge.StatusActive {
		return nil, entitlementerr.Validation("status", "user badge is not active")
	}
	if req.Quantity > existing.Quantity {
		return nil, entitlementerr.InsufficientBadges(req.BadgeID, int(req.Quantity), int(existing.Quantity))
	}

	var newQuantity int64
	now := time.Now().UTC()
	txErr := s.store.WithTx(ctx, func(tx Tx) error {
		ub, err := tx.LockUserBadge(ctx, req.UserID, req.BadgeID)
		if err != nil {
			return fmt.Errorf("lock user badge: %w", err)
		}
		if ub == nil {
			return entitlementerr.UserBadgeNotFound(req.UserID, req.BadgeID)
		}
		ub.Quantity -= req.Quantity
		if ub.Quantity == 0 {
			ub.Status = userbadge.StatusRevoked
		}
		if err := tx.SaveUserBadge(ctx, ub); err != nil {
			return fmt.Errorf("save user badge: %w", err)
		}

		if err := tx.AppendLedgerEntry(ctx, userbadge.LedgerEntry{
			UserID: req.UserID, BadgeID: req.BadgeID, ChangeType: userbadge.ChangeRevoke,
			SignedQuantity: -req.Quantity, BalanceAfter: ub.Quantity, RefType: string(req.Source),
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		if err := tx.DecrementIssuedCount(ctx, req.BadgeID, req.Quantity); err != nil {
			return fmt.Errorf("decrement issued count: %w", err)
		}
		if err := tx.AppendUserBadgeLog(ctx, userbadge.Log{
			UserID: req.UserID, BadgeID: req.BadgeID, Action: "revoke",
			Quantity: req.Quantity, Operator: req.Operator, Reason: req.Reason, CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append user badge log: %w", err)
		}
		newQuantity = ub.Quantity
		return nil
	})
	if txErr != nil {
		if e := entitlementerr.As(txErr); e != nil {
			return nil, e
		}
		return nil, entitlementerr.Internal("revoke transaction failed", txErr)
	}

	if s.cache != nil {
		s.cache.InvalidateUserBadge(req.UserID)
	}
	if s.notifier != nil {
		s.notifier.NotifyBadgeRevoked(ctx, req.UserID, req.BadgeID, req.Quantity)
	}
	return &Response{NewQuantity: newQuantity}, nil
}

// HandleRefund evaluates an externally-supplied set of grant conditions
// against a refund event: any badge whose amount threshold is now unmet
// gets one unit clawed back; the rest are recorded as retained. Refund
// events are deduplicated by a short-TTL marker so repeated delivery of the
// same event never double-revokes.
func (s *Service) HandleRefund(ctx context.Context, event RefundEvent, conditions []GrantCondition) (RefundOutcome, error) {
	firstTime, err := s.dedup.MarkProcessed(ctx, event.EventID)
	if err != nil {
		return RefundOutcome{}, entitlementerr.Internal("refund dedup check failed", err)
	}
	if !firstTime {
		return RefundOutcome{Dedup: true}, nil
	}

	outcome := RefundOutcome{}
	for _, cond := range conditions {
		if event.RemainingAmount >= cond.AmountThreshold {
			outcome.Retained = append(outcome.Retained, cond.BadgeID)
			continue
		}
		_, err := s.revokeBadge(ctx, Request{
			UserID: event.UserID, BadgeID: cond.BadgeID, Quantity: 1,
			Reason: "refund threshold unmet", Source: userbadge.SourceEvent,
		})
		if err != nil {
			if s.log != nil {
				s.log.WithField("user_id", event.UserID).WithField("badge_id", cond.BadgeID).
					Warnf("refund-triggered revoke failed, recording as retained: %v", err)
			}
			outcome.Retained = append(outcome.Retained, cond.BadgeID)
			continue
		}
		outcome.Revoked = append(outcome.Revoked, cond.BadgeID)
	}
	return outcome, nil
}
