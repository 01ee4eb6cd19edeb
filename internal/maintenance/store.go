// Package maintenance implements scheduled upkeep over badge holdings that
// no request-triggered pipeline otherwise performs: sweeping user badges
// whose expires_at has passed into status=expired.
package maintenance

import (
	"context"
	"time"

	"github.com/badgeforge/entitlement/internal/domain/userbadge"
)

// Store is the persistence surface the sweeper needs outside its
// transaction.
type Store interface {
	// ListDueExpirations returns every active user badge whose expiry has
	// passed as of asOf.
	ListDueExpirations(ctx context.Context, asOf time.Time) ([]userbadge.UserBadge, error)
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the mutation surface of one expiry transaction. Every method here
// is already implemented by the shared postgres tx type backing grant and
// revoke; the sweeper re-locks and re-checks each row rather than trusting
// the ListDueExpirations snapshot, since a revoke or redemption may have
// raced it between the list and the sweep.
type Tx interface {
	LockUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error)
	SaveUserBadge(ctx context.Context, ub *userbadge.UserBadge) error
	AppendLedgerEntry(ctx context.Context, entry userbadge.LedgerEntry) error
	AppendUserBadgeLog(ctx context.Context, log userbadge.Log) error
}

// CacheInvalidator mirrors the grant/revoke post-commit cache hook.
type CacheInvalidator interface {
	InvalidateUserBadge(userID string)
}

// Notifier is a best-effort post-commit hook for expirations.
type Notifier interface {
	NotifyBadgeExpired(ctx context.Context, userID, badgeID string)
}
