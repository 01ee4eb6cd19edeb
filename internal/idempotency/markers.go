package idempotency

import (
	"context"
	"sync"
	"time"
)

// MarkerStore is a short-TTL check-and-set marker set, used both for
// processed-event dedup at pipeline ingress and for refund dedup in the revoke service.
type MarkerStore interface {
	// MarkIfAbsent returns true if key was not already present (and is now
	// marked), false if it was already present and still live.
	MarkIfAbsent(ctx context.Context, key string, ttl time.Duration) (firstTime bool, err error)
}

// InProcessMarkerStore is the default MarkerStore: a map with lazy
// expiry checks, adequate for single-instance deployments and tests. A
// Redis-backed MarkerStore (SET NX PX) is the multi-instance equivalent.
type InProcessMarkerStore struct {
	mu      sync.Mutex
	markers map[string]time.Time // key -> expiry
}

func NewInProcessMarkerStore() *InProcessMarkerStore {
	return &InProcessMarkerStore{markers: make(map[string]time.Time)}
}

func (s *InProcessMarkerStore) MarkIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiry, ok := s.markers[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	s.markers[key] = time.Now().Add(ttl)
	return true, nil
}

// ProcessedEventTTL is the default window within which a replayed inbound
// event is treated as already-handled.
const ProcessedEventTTL = 24 * time.Hour

// RefundMarkerTTL mirrors ProcessedEventTTL for refund dedup.
const RefundMarkerTTL = 24 * time.Hour

func ProcessedEventKey(eventID string) string { return "event:processed:" + eventID }

func RefundKey(eventID string) string { return "refund:processed:" + eventID }
