// Package grant implements the badge grant pipeline: idempotent,
// transactional award of badge quantities enforcing supply caps, per-user
// caps, prerequisites, and exclusivity groups, with a double-entry ledger.
package grant

import "github.com/badgeforge/entitlement/internal/domain/userbadge"

// Request is one grant attempt.
type Request struct {
	UserID         string
	BadgeID        string
	Quantity       int64
	Source         userbadge.SourceType
	SourceRef      string
	IdempotencyKey string
	Reason         string
	Operator       string
	// TriggeredByBadge is set only when Source == SourceCascade, naming the
	// badge whose grant triggered this one (for cascade audit logging).
	TriggeredByBadge string
}

// Response is the outcome of a successful grant.
type Response struct {
	UserBadgeID string
	NewQuantity int64
	Message     string
	Duplicate   bool
}

// BatchResult aggregates the outcome of a batch_grant call. A partial
// failure never taints a sibling request.
type BatchResult struct {
	Total        int
	SuccessCount int
	FailedCount  int
	Results      []BatchItemResult
}

// BatchItemResult is one request's outcome within a batch.
type BatchItemResult struct {
	Request  Request
	Response *Response
	Err      error
}
