package redemption

import (
	"context"
	"time"

	"github.com/badgeforge/entitlement/internal/benefitdispatch"
	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/domain/userbadge"
)

// Store is the persistence surface the redemption service needs outside
// its transaction.
type Store interface {
	GetRule(ctx context.Context, ruleID string) (*benefit.RedemptionRule, error)
	GetBenefit(ctx context.Context, benefitID string) (*benefit.Benefit, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*benefit.Order, error)
	// CountSuccessfulOrders counts a user's successful orders of ruleID
	// since the given time (nil means no lower bound, i.e. overall).
	CountSuccessfulOrders(ctx context.Context, userID, ruleID string, since *time.Time) (int, error)
	// ActiveHoldings reports a user's current active quantity for each
	// requested badge, for the basket sufficiency pre-check.
	ActiveHoldings(ctx context.Context, userID string, badgeIDs []string) (map[string]int64, error)
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the mutation surface of one redemption transaction. It embeds the
// benefit-dispatch mutation methods directly so a redemption transaction
// value can be passed anywhere a benefitdispatch.Tx is expected, letting the
// benefit dispatcher persist its grant atomically with the basket
// consumption.
type Tx interface {
	benefitdispatch.Tx

	LockUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error)
	SaveUserBadge(ctx context.Context, ub *userbadge.UserBadge) error
	AppendLedgerEntry(ctx context.Context, entry userbadge.LedgerEntry) error

	CreateOrder(ctx context.Context, order benefit.Order) error
	AppendOrderDetail(ctx context.Context, detail benefit.OrderDetail) error
	SetOrderStatus(ctx context.Context, orderID string, status benefit.OrderStatus, failureReason string) error
}

// CacheInvalidator mirrors the grant/revoke post-commit cache hook.
type CacheInvalidator interface {
	InvalidateUserBadge(userID string)
}

// Notifier is a best-effort post-commit hook for redemption.
type Notifier interface {
	NotifyRedemptionSuccess(ctx context.Context, userID, orderNo string)
}
