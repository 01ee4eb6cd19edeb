package depgraph

// CheckPrerequisites reports whether target is satisfied by holdings:
// satisfied iff at least one dependency group exists where every edge's
// required quantity is met. holdings maps badge id -> quantity currently
// held by the user. When target has no prerequisite groups at all, it is
// trivially satisfied. On failure, missing is the dedup'd union of badges
// missing across every group (used for the prerequisite_not_met error
// detail), not just the first group tried.
func CheckPrerequisites(graph *Graph, holdings map[string]int64, target string) (satisfied bool, missing []string) {
	groups := graph.PrerequisiteGroups(target)
	if len(groups) == 0 {
		return true, nil
	}

	var missingUnion []string
	missingSeen := map[string]bool{}
	for _, edges := range groups {
		groupSatisfied := true
		var groupMissing []string
		for _, edge := range edges {
			if holdings[edge.FromBadgeID] < int64(edge.RequiredQuantity) {
				groupSatisfied = false
				groupMissing = append(groupMissing, edge.FromBadgeID)
			}
		}
		if groupSatisfied {
			return true, nil
		}
		for _, m := range groupMissing {
			if !missingSeen[m] {
				missingSeen[m] = true
				missingUnion = append(missingUnion, m)
			}
		}
	}
	return false, missingUnion
}

// PrerequisiteBadgeIDs returns every badge id referenced by target's
// prerequisite groups, for a single batched holdings lookup.
func PrerequisiteBadgeIDs(graph *Graph, target string) []string {
	groups := graph.PrerequisiteGroups(target)
	seen := map[string]bool{}
	var ids []string
	for _, edges := range groups {
		for _, edge := range edges {
			if !seen[edge.FromBadgeID] {
				seen[edge.FromBadgeID] = true
				ids = append(ids, edge.FromBadgeID)
			}
		}
	}
	return ids
}

// CheckExclusiveConflict reports whether candidate conflicts with another
// badge the user already holds in the same exclusive group.
func CheckExclusiveConflict(graph *Graph, holdings map[string]int64, candidate string) (conflict bool, other string) {
	groupID, ok := graph.ExclusiveGroupOf(candidate)
	if !ok {
		return false, ""
	}
	for _, member := range graph.ExclusiveGroup(groupID) {
		if member == candidate {
			continue
		}
		if holdings[member] > 0 {
			return true, member
		}
	}
	return false, ""
}

// ExclusiveGroupBadgeIDs returns every badge in candidate's exclusive
// group, for a single batched holdings lookup.
func ExclusiveGroupBadgeIDs(graph *Graph, candidate string) []string {
	groupID, ok := graph.ExclusiveGroupOf(candidate)
	if !ok {
		return nil
	}
	return graph.ExclusiveGroup(groupID)
}
