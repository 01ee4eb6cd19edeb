package idempotency

import (
	"context"
	"time"
)

// RefundDedup adapts a MarkerStore to the revoke package's narrow
// RefundDedupStore interface, fixing the key prefix and TTL refund dedup
// always uses.
type RefundDedup struct {
	markers MarkerStore
	ttl     time.Duration
}

// NewRefundDedup builds a RefundDedup with the default marker TTL
// (RefundMarkerTTL). Use NewRefundDedupWithTTL to override it from config.
func NewRefundDedup(markers MarkerStore) *RefundDedup {
	return NewRefundDedupWithTTL(markers, RefundMarkerTTL)
}

func NewRefundDedupWithTTL(markers MarkerStore, ttl time.Duration) *RefundDedup {
	return &RefundDedup{markers: markers, ttl: ttl}
}

func (r *RefundDedup) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	return r.markers.MarkIfAbsent(ctx, RefundKey(eventID), r.ttl)
}

// ProcessedEventGate adapts a MarkerStore to the pipeline's
// already-processed check for inbound events.
type ProcessedEventGate struct {
	markers MarkerStore
	ttl     time.Duration
}

// NewProcessedEventGate builds a ProcessedEventGate with the default marker
// TTL (ProcessedEventTTL). Use NewProcessedEventGateWithTTL to override it
// from config.
func NewProcessedEventGate(markers MarkerStore) *ProcessedEventGate {
	return NewProcessedEventGateWithTTL(markers, ProcessedEventTTL)
}

func NewProcessedEventGateWithTTL(markers MarkerStore, ttl time.Duration) *ProcessedEventGate {
	return &ProcessedEventGate{markers: markers, ttl: ttl}
}

// ShouldProcess returns true the first time eventID is seen within the TTL
// window; replays within that window return false and are treated as a
// silent no-op.
func (g *ProcessedEventGate) ShouldProcess(ctx context.Context, eventID string) (bool, error) {
	return g.markers.MarkIfAbsent(ctx, ProcessedEventKey(eventID), g.ttl)
}
