package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/badgeforge/entitlement/internal/domain/userbadge"
	"github.com/badgeforge/entitlement/internal/obs/metrics"
	"github.com/badgeforge/entitlement/pkg/logger"
)

// Sweeper runs the scheduled expiry pass: every user badge past its
// expires_at transitions active -> expired, quantity drops to zero, and the
// ledger gets a balancing expire entry.
type Sweeper struct {
	store    Store
	cache    CacheInvalidator
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
}

func New(store Store, cache CacheInvalidator, notifier Notifier, m *metrics.Metrics, log *logger.Logger) *Sweeper {
	return &Sweeper{store: store, cache: cache, notifier: notifier, metrics: m, log: log}
}

// Sweep lists every badge due for expiry and expires each independently, so
// one failure never blocks the rest of the pass. It returns how many rows
// were actually expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	now := start.UTC()

	due, err := s.store.ListDueExpirations(ctx, now)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordExpirySweep("error", time.Since(start))
		}
		return 0, fmt.Errorf("list due expirations: %w", err)
	}

	expired := 0
	for _, ub := range due {
		done, err := s.expireOne(ctx, ub.UserID, ub.BadgeID, now)
		if err != nil {
			if s.log != nil {
				s.log.WithField("user_id", ub.UserID).WithField("badge_id", ub.BadgeID).
					Warnf("expiry sweep failed for one badge, continuing: %v", err)
			}
			continue
		}
		if done {
			expired++
		}
	}

	if s.metrics != nil {
		s.metrics.RecordExpirySweep("success", time.Since(start))
	}
	if s.log != nil {
		s.log.WithField("expired", expired).WithField("candidates", len(due)).Info("expiry sweep pass complete")
	}
	return expired, nil
}

// expireOne re-locks the (user, badge) row under its own transaction and
// re-checks it is still active and still due, since the candidate list read
// is not itself transactional: a revoke or redemption may have raced it.
// It reports whether the row was actually expired.
func (s *Sweeper) expireOne(ctx context.Context, userID, badgeID string, now time.Time) (bool, error) {
	var notify bool
	txErr := s.store.WithTx(ctx, func(tx Tx) error {
		ub, err := tx.LockUserBadge(ctx, userID, badgeID)
		if err != nil {
			return fmt.Errorf("lock user badge: %w", err)
		}
		if ub == nil || ub.Status != userbadge.StatusActive {
			return nil
		}
		if ub.ExpiresAt == nil || ub.ExpiresAt.After(now) {
			return nil
		}

		qty := ub.Quantity
		ub.Quantity = 0
		ub.Status = userbadge.StatusExpired
		if err := tx.SaveUserBadge(ctx, ub); err != nil {
			return fmt.Errorf("save user badge: %w", err)
		}
		if err := tx.AppendLedgerEntry(ctx, userbadge.LedgerEntry{
			UserID: userID, BadgeID: badgeID, ChangeType: userbadge.ChangeExpire,
			SignedQuantity: -qty, BalanceAfter: 0, RefID: ub.ID, RefType: "expiry_sweep", CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		if err := tx.AppendUserBadgeLog(ctx, userbadge.Log{
			UserID: userID, BadgeID: badgeID, Action: "expire",
			Quantity: qty, Operator: "system", Reason: "expiry_sweep", CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append user badge log: %w", err)
		}
		notify = true
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	if !notify {
		return false, nil
	}
	if s.cache != nil {
		s.cache.InvalidateUserBadge(userID)
	}
	if s.notifier != nil {
		s.notifier.NotifyBadgeExpired(ctx, userID, badgeID)
	}
	return true, nil
}
