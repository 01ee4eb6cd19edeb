package revoke

import (
	"context"

	"github.com/badgeforge/entitlement/internal/domain/userbadge"
)

// Store is the persistence surface the revoke service needs.
type Store interface {
	GetUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error)
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of mutations available inside a revoke transaction.
type Tx interface {
	// LockUserBadge row-locks the (user, badge) holding. A nil result with
	// no error means no such row exists.
	LockUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error)
	SaveUserBadge(ctx context.Context, ub *userbadge.UserBadge) error
	AppendLedgerEntry(ctx context.Context, entry userbadge.LedgerEntry) error
	DecrementIssuedCount(ctx context.Context, badgeID string, delta int64) error
	AppendUserBadgeLog(ctx context.Context, log userbadge.Log) error
}

// CacheInvalidator mirrors the grant package's post-commit cache hook.
type CacheInvalidator interface {
	InvalidateUserBadge(userID string)
}

// Notifier is a best-effort post-commit hook for revoke.
type Notifier interface {
	NotifyBadgeRevoked(ctx context.Context, userID, badgeID string, quantity int64)
}

// RefundDedupStore guards handle_refund against duplicate delivery of the
// same refund event, per the refund:processed:{event_id} marker in the idempotency package.
type RefundDedupStore interface {
	// MarkProcessed returns false if this event id was already marked,
	// true if this call performed the first mark (check-and-set).
	MarkProcessed(ctx context.Context, eventID string) (firstTime bool, err error)
}
