package depgraph

import (
	"context"
	"time"

	"github.com/badgeforge/entitlement/internal/ttlcache"
)

// Holder wraps a ttlcache.Holder[*Graph] with the refresh routine: read
// access to the dependency graph goes through Holder.Graph(), which never
// blocks on the network — refresh runs on a background schedule (or is
// triggered explicitly) and swaps in the new snapshot once built.
//
// Stale reads are tolerated until the next refresh per the read-mostly,
// swap-on-refresh shared-state model; correctness at write time still
// relies on the grant/cascade services re-checking prerequisites against
// the authoritative store, never solely this cache.
type Holder struct {
	store EdgeStore
	inner *ttlcache.Holder[*Graph]
}

// NewHolder builds an initial empty graph and wraps it with ttl.
func NewHolder(store EdgeStore, ttl time.Duration) *Holder {
	return &Holder{store: store, inner: ttlcache.NewHolder[*Graph](Build(nil), ttl)}
}

// Graph returns the current snapshot.
func (h *Holder) Graph() *Graph {
	g, _ := h.inner.Get()
	return g
}

// Refresh rebuilds the graph from the store of record and swaps it in.
func (h *Holder) Refresh(ctx context.Context) error {
	edges, err := h.store.ListDependencyEdges(ctx)
	if err != nil {
		return err
	}
	h.inner.Swap(Build(edges))
	return nil
}

// Stale reports whether the current snapshot is older than its TTL.
func (h *Holder) Stale() bool {
	_, stale := h.inner.Get()
	return stale
}
