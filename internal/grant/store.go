package grant

import (
	"context"
	"time"

	"github.com/badgeforge/entitlement/internal/cascade"
	"github.com/badgeforge/entitlement/internal/domain/badge"
	"github.com/badgeforge/entitlement/internal/domain/userbadge"
)

// Store is the persistence surface the grant service needs. It is kept
// narrow and consumer-defined; internal/storage/postgres implements it
// alongside every other service's Store interface on one connection pool.
type Store interface {
	GetBadge(ctx context.Context, badgeID string) (*badge.Badge, error)
	GetEffectiveBadgeRules(ctx context.Context, badgeID string, now time.Time) ([]badge.Rule, error)
	GetUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error)
	// FindAcquireLedgerByRef looks up a prior acquire ledger row for the
	// idempotency check. The lookup is scoped to (user, badge, ref): one
	// event id may legitimately grant several distinct badges, so a ref
	// match alone must never dedupe across badges.
	FindAcquireLedgerByRef(ctx context.Context, userID, badgeID, refID string) (*userbadge.LedgerEntry, error)

	// WithTx runs fn within a single database transaction; fn's error
	// rolls the transaction back, any other return commits.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of mutations available inside a grant transaction.
type Tx interface {
	// LockOrCreateUserBadge row-locks the (user, badge) holding, creating
	// an empty zero-quantity row if none exists yet, and returns it.
	LockOrCreateUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error)
	SaveUserBadge(ctx context.Context, ub *userbadge.UserBadge) error
	AppendLedgerEntry(ctx context.Context, entry userbadge.LedgerEntry) error
	IncrementIssuedCount(ctx context.Context, badgeID string, delta int64) error
	AppendUserBadgeLog(ctx context.Context, log userbadge.Log) error
}

// CacheInvalidator is the post-commit cache-invalidation surface.
type CacheInvalidator interface {
	InvalidateUserBadge(userID string)
}

// AutoBenefitTrigger decouples the grant service from the auto-benefit
// evaluator, which itself depends on the redemption service.
type AutoBenefitTrigger interface {
	EvaluateAutoBenefit(ctx context.Context, userID, badgeID, triggeringEventID string) error
}

// Notifier is a best-effort, never-blocking post-commit hook. The core
// never implements real delivery; production deployments inject a
// transport adapter.
type Notifier interface {
	NotifyBadgeGranted(ctx context.Context, userID, badgeID string, quantity int64)
}

// CascadeTrigger decouples the grant service from the concrete cascade
// evaluator type while still letting it invoke cascade evaluation after a
// non-cascade grant commits.
type CascadeTrigger interface {
	Evaluate(ctx context.Context, userID, triggerBadge string, maxDepth int, timeout time.Duration) (cascade.Outcome, error)
}
