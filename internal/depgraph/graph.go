// Package depgraph maintains an in-memory, periodically refreshed index
// over the badge dependency edges: prerequisites, reverse auto-trigger
// edges, and exclusivity groups.
package depgraph

import (
	"context"
	"sort"

	"github.com/badgeforge/entitlement/internal/domain/badge"
)

// EdgeStore is the read-only persistence surface the graph refreshes from.
type EdgeStore interface {
	ListDependencyEdges(ctx context.Context) ([]badge.DependencyEdge, error)
}

// Graph is one immutable snapshot of the dependency index. It is never
// mutated after construction; refresh builds a new Graph and swaps it in
// via a ttlcache.Holder.
type Graph struct {
	prerequisitesByTarget map[string][]badge.DependencyEdge // to_badge -> edges in (prerequisite|consume), sorted by priority
	triggeredByBadge      map[string][]badge.DependencyEdge // from_badge -> auto_trigger prerequisite edges, sorted by priority
	exclusiveGroups       map[string][]string               // group id -> badge ids (both from/to ends that declare it)
	badgeExclusiveGroup   map[string]string                 // badge id -> its exclusive group, when singular
}

// Build constructs a Graph from the full edge set in O(E).
func Build(edges []badge.DependencyEdge) *Graph {
	g := &Graph{
		prerequisitesByTarget: make(map[string][]badge.DependencyEdge),
		triggeredByBadge:      make(map[string][]badge.DependencyEdge),
		exclusiveGroups:       make(map[string][]string),
		badgeExclusiveGroup:   make(map[string]string),
	}
	for _, e := range edges {
		if !e.Enabled {
			continue
		}
		switch e.Type {
		case badge.DependencyPrerequisite, badge.DependencyConsume:
			g.prerequisitesByTarget[e.ToBadgeID] = append(g.prerequisitesByTarget[e.ToBadgeID], e)
			if e.AutoTrigger && e.Type == badge.DependencyPrerequisite {
				g.triggeredByBadge[e.FromBadgeID] = append(g.triggeredByBadge[e.FromBadgeID], e)
			}
		case badge.DependencyExclusive:
			if e.ExclusiveGroupID == "" {
				continue
			}
			g.addExclusive(e.ExclusiveGroupID, e.FromBadgeID)
			g.addExclusive(e.ExclusiveGroupID, e.ToBadgeID)
		}
	}
	for target := range g.prerequisitesByTarget {
		sortByPriority(g.prerequisitesByTarget[target])
	}
	for from := range g.triggeredByBadge {
		sortByPriority(g.triggeredByBadge[from])
	}
	return g
}

func (g *Graph) addExclusive(groupID, badgeID string) {
	if badgeID == "" {
		return
	}
	if _, ok := g.badgeExclusiveGroup[badgeID]; !ok {
		g.badgeExclusiveGroup[badgeID] = groupID
	}
	for _, existing := range g.exclusiveGroups[groupID] {
		if existing == badgeID {
			return
		}
	}
	g.exclusiveGroups[groupID] = append(g.exclusiveGroups[groupID], badgeID)
}

func sortByPriority(edges []badge.DependencyEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Priority != edges[j].Priority {
			return edges[i].Priority < edges[j].Priority
		}
		return edges[i].ID < edges[j].ID
	})
}

// Prerequisites returns the edges pointing into badgeID of type
// prerequisite|consume, sorted by priority ascending.
func (g *Graph) Prerequisites(badgeID string) []badge.DependencyEdge {
	return g.prerequisitesByTarget[badgeID]
}

// TriggeredBy returns the edges out of badgeID whose AutoTrigger is true and
// type is prerequisite, sorted by priority ascending — the candidates a
// cascade evaluation walks after granting badgeID.
func (g *Graph) TriggeredBy(badgeID string) []badge.DependencyEdge {
	return g.triggeredByBadge[badgeID]
}

// ExclusiveGroup returns the set of badges sharing groupID.
func (g *Graph) ExclusiveGroup(groupID string) []string {
	return g.exclusiveGroups[groupID]
}

// ExclusiveGroupOf returns the exclusive group a badge belongs to, if any.
func (g *Graph) ExclusiveGroupOf(badgeID string) (string, bool) {
	group, ok := g.badgeExclusiveGroup[badgeID]
	return group, ok
}

// PrerequisiteGroups partitions the prerequisite/consume edges pointing at
// target by DependencyGroupID: edges in the same group are AND'd together;
// distinct groups are alternatives (OR) satisfying the target.
func (g *Graph) PrerequisiteGroups(target string) map[string][]badge.DependencyEdge {
	groups := make(map[string][]badge.DependencyEdge)
	for _, e := range g.prerequisitesByTarget[target] {
		groups[e.DependencyGroupID] = append(groups[e.DependencyGroupID], e)
	}
	return groups
}
