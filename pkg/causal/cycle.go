package causal

// Cycle detection.
//
// A hyperedge with causes {A,B} and effects {C,D} contributes the directed
// arcs A->C, A->D, B->C, B->D for reachability purposes. The expansion is
// never materialized; it exists only inside the search below. With it in
// place, "would this link create a cycle" is ordinary digraph reachability:
// the candidate is rejected if any of its effects can already reach any of
// its causes.

// findCycle reports whether committing the candidate link would make a node
// reachable from itself. It returns the demonstrating node-id path, starting
// at one of the candidate's effects and ending at one of its causes, or nil
// when the commit is safe. The graph is never mutated. Caller holds at least
// a read lock.
func (g *Graph) findCycle(candidate *Link) []NodeID {
	targets := make(map[NodeID]struct{}, len(candidate.Causes))
	for _, id := range candidate.Causes {
		targets[id] = struct{}{}
	}

	// One visited set across all effect starts: a node that could not reach
	// a cause on an earlier start cannot reach one now.
	visited := make(map[NodeID]struct{})
	for _, effect := range candidate.Effects {
		if path := g.searchCycle(effect, targets, visited); path != nil {
			return path
		}
	}
	return nil
}

// searchCycle walks forward arcs depth-first from a node, expanding each
// traversed hyperedge into its cause×effect arcs, until it hits a target
// or exhausts the reachable set. The visited set bounds the walk to each
// node once, so it terminates on any graph.
func (g *Graph) searchCycle(from NodeID, targets, visited map[NodeID]struct{}) []NodeID {
	if _, hit := targets[from]; hit {
		return []NodeID{from}
	}
	if _, seen := visited[from]; seen {
		return nil
	}
	visited[from] = struct{}{}

	for linkID := range g.forward[from] {
		link := g.links[linkID]
		if link == nil {
			continue
		}
		for _, next := range link.Effects {
			if path := g.searchCycle(next, targets, visited); path != nil {
				return append([]NodeID{from}, path...)
			}
		}
	}
	return nil
}
