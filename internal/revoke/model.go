// Package revoke implements badge revocation and refund-triggered
// claw-back of conditionally-granted badges.
package revoke

import "github.com/badgeforge/entitlement/internal/domain/userbadge"

// Request is one revoke attempt.
type Request struct {
	UserID   string
	BadgeID  string
	Quantity int64
	Reason   string
	Operator string
	Source   userbadge.SourceType
}

// Response is the outcome of a successful revoke.
type Response struct {
	NewQuantity int64
}

// GrantCondition pairs a badge with the amount threshold below which the
// badge must be clawed back when a refund reduces the qualifying amount.
type GrantCondition struct {
	BadgeID         string
	AmountThreshold float64
}

// RefundEvent is the externally-supplied refund notification driving
// handle_refund.
type RefundEvent struct {
	EventID         string
	UserID          string
	RemainingAmount float64
}

// RefundOutcome summarizes which badges were revoked versus retained after
// evaluating a refund against its grant conditions.
type RefundOutcome struct {
	Revoked  []string
	Retained []string
	Dedup    bool
}
