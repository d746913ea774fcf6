package causal

import (
	"fmt"
	"sort"
	"time"
)

// Direction selects which way a traversal walks the graph.
type Direction string

const (
	// DirectionForward follows links from causes to effects
	// ("what follows from X").
	DirectionForward Direction = "forward"
	// DirectionBackward follows links from effects to causes
	// ("what could have caused Y").
	DirectionBackward Direction = "backward"
)

// TraversalOptions bounds a traversal. The zero value of each field maps to
// the documented default, so &TraversalOptions{MaxDepth: 3} works as
// expected. Nil options mean DefaultTraversalOptions.
type TraversalOptions struct {
	// MaxDepth is the maximum number of hops from a seed. Values <= 0
	// fall back to the default (5).
	MaxDepth int

	// MinConfidence is the per-link floor; links below it are skipped.
	MinConfidence float64

	// MinChainConfidence is the floor on the compounded chain confidence;
	// chains falling below it are discarded.
	MinChainConfidence float64

	// AllowRevisit permits a chain to pass through a node it already
	// contains. When false (the default) such a step is skipped and a
	// warning recorded; the rest of the search continues.
	AllowRevisit bool

	// MaxChains caps the number of recorded chains, bounding memory and
	// time on densely connected graphs. Values <= 0 fall back to the
	// default (100).
	MaxChains int
}

// Traversal defaults.
const (
	DefaultMaxDepth  = 5
	DefaultMaxChains = 100
)

// DefaultTraversalOptions returns the default traversal bounds: depth 5, no
// confidence floors, revisits skipped with a warning, at most 100 chains.
func DefaultTraversalOptions() *TraversalOptions {
	return &TraversalOptions{
		MaxDepth:  DefaultMaxDepth,
		MaxChains: DefaultMaxChains,
	}
}

// normalized returns a usable copy of opts with zero bounds replaced by
// defaults.
func (opts *TraversalOptions) normalized() TraversalOptions {
	if opts == nil {
		opts = DefaultTraversalOptions()
	}
	out := *opts
	if out.MaxDepth <= 0 {
		out.MaxDepth = DefaultMaxDepth
	}
	if out.MaxChains <= 0 {
		out.MaxChains = DefaultMaxChains
	}
	return out
}

// Chain is one causal path discovered by a traversal: an ordered sequence
// of links connecting a seed to a discovered node.
//
// Confidence is the product of every link's confidence along the chain.
// Multiplying models compounding uncertainty: each hop can only keep or
// shrink the aggregate, never grow it.
type Chain struct {
	// Links in traversal order: seed outward. For backward chains this is
	// effect-to-cause order; ExplainChain renders them causally.
	Links []*Link `json:"links"`

	// Confidence is the compounded chain confidence.
	Confidence float64 `json:"confidence"`

	// Hops is the number of links in the chain.
	Hops int `json:"hops"`

	// From holds the seed-side node ids, To the far-side node ids the
	// chain connects.
	From []NodeID `json:"from"`
	To   []NodeID `json:"to"`

	// Direction the chain was discovered in.
	Direction Direction `json:"direction"`
}

// TraversalResult is the complete outcome of one traversal. It is always
// well-formed: an empty graph, unknown seeds, or an unreachable region
// yield zero chains and warnings, never an error.
type TraversalResult struct {
	// Nodes are the discovered far-side nodes (effects for forward,
	// causes for backward), sorted by id.
	Nodes []*Node `json:"nodes"`

	// Chains are the finalized causal chains, at most MaxChains of them.
	Chains []Chain `json:"chains"`

	// Confidence is the arithmetic mean of all chain confidences, 0 when
	// there are none.
	Confidence float64 `json:"confidence"`

	// Warnings collects advisory notes: dropped seeds, skipped cycles,
	// the chain cap being hit.
	Warnings []string `json:"warnings,omitempty"`

	// NodesExplored counts dequeued nodes, a measure of work done.
	NodesExplored int `json:"nodesExplored"`

	// Elapsed is wall-clock traversal time.
	Elapsed time.Duration `json:"elapsed"`

	// Direction of the traversal.
	Direction Direction `json:"direction"`
}

// TraverseForward discovers what follows from the seed nodes: a bounded
// breadth-first walk over forward links, compounding confidence per hop.
//
// Unknown seeds are dropped with a warning; with no valid seed the result
// is empty, never an error.
//
// Example:
//
//	res := g.TraverseForward([]causal.NodeID{"rain"}, &causal.TraversalOptions{
//		MaxDepth:      3,
//		MinConfidence: 0.5,
//	})
//	for _, chain := range res.Chains {
//		fmt.Println(g.ExplainChain(chain))
//	}
func (g *Graph) TraverseForward(seeds []NodeID, opts *TraversalOptions) *TraversalResult {
	return g.traverse(seeds, opts, DirectionForward)
}

// TraverseBackward discovers what could have caused the seed nodes. It is
// the mirror of TraverseForward: cause and effect swap roles and the walk
// follows the backward index.
func (g *Graph) TraverseBackward(seeds []NodeID, opts *TraversalOptions) *TraversalResult {
	return g.traverse(seeds, opts, DirectionBackward)
}

// queueItem is one pending expansion: a node, how it was reached, and the
// confidence accumulated getting there.
type queueItem struct {
	node       NodeID
	seed       NodeID
	depth      int
	path       []*Link
	confidence float64
	inChain    map[NodeID]struct{}
}

func (g *Graph) traverse(seeds []NodeID, opts *TraversalOptions, dir Direction) *TraversalResult {
	start := time.Now()
	bounds := opts.normalized()

	res := &TraversalResult{
		Nodes:     []*Node{},
		Chains:    []Chain{},
		Direction: dir,
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	index := g.forward
	if dir == DirectionBackward {
		index = g.backward
	}

	// Seed validation: drop unknowns, keep going.
	visited := make(map[NodeID]struct{})
	var queue []queueItem
	for _, seed := range seeds {
		if _, ok := g.nodes[seed]; !ok {
			g.traverseWarn(res, "seed node %q does not exist, dropped", seed)
			continue
		}
		if _, seen := visited[seed]; seen {
			continue
		}
		visited[seed] = struct{}{}
		queue = append(queue, queueItem{
			node:       seed,
			seed:       seed,
			confidence: 1,
			inChain:    map[NodeID]struct{}{seed: {}},
		})
	}
	if len(queue) == 0 {
		g.traverseWarn(res, "no valid seed nodes, nothing to traverse")
		res.Elapsed = time.Since(start)
		return res
	}

	discovered := make(map[NodeID]struct{})
	capped := false

	record := func(it queueItem) {
		if len(res.Chains) >= bounds.MaxChains {
			if !capped {
				capped = true
				g.traverseWarn(res, "chain cap %d reached, stopping search", bounds.MaxChains)
			}
			return
		}
		res.Chains = append(res.Chains, Chain{
			Links:      it.path,
			Confidence: it.confidence,
			Hops:       len(it.path),
			From:       []NodeID{it.seed},
			To:         []NodeID{it.node},
			Direction:  dir,
		})
	}

	for len(queue) > 0 && !capped {
		it := queue[0]
		queue = queue[1:]
		res.NodesExplored++

		extended := false
		for linkID := range index[it.node] {
			link := g.links[linkID]
			if link == nil || link.Confidence < bounds.MinConfidence {
				continue
			}
			far := link.Effects
			if dir == DirectionBackward {
				far = link.Causes
			}
			for _, next := range far {
				if _, inChain := it.inChain[next]; inChain && !bounds.AllowRevisit {
					g.traverseWarn(res, "cycle avoided: link %s revisits node %q, skipped", link.ID, next)
					continue
				}
				conf := it.confidence * link.Confidence
				if conf < bounds.MinChainConfidence {
					continue
				}

				extended = true
				discovered[next] = struct{}{}

				child := queueItem{
					node:       next,
					seed:       it.seed,
					depth:      it.depth + 1,
					path:       appendLink(it.path, link),
					confidence: conf,
					inChain:    extendChainSet(it.inChain, next),
				}

				// Expand further only from unvisited nodes strictly
				// below the depth cap; otherwise the chain ends here.
				_, seen := visited[next]
				if !seen && child.depth < bounds.MaxDepth {
					visited[next] = struct{}{}
					queue = append(queue, child)
				} else {
					record(child)
					if capped {
						break
					}
				}
			}
			if capped {
				break
			}
		}

		// Nothing qualified from here: the chain that reached this node
		// cannot grow, so finalize it.
		if !extended && len(it.path) > 0 {
			record(it)
		}
	}

	res.Nodes = g.resolveNodesSorted(discovered)
	confidences := make([]float64, len(res.Chains))
	for i, chain := range res.Chains {
		confidences[i] = chain.Confidence
	}
	res.Confidence = mean(confidences)
	res.Elapsed = time.Since(start)
	return res
}

// traverseWarn records a warning on the result and mirrors it to the
// configured sink. Caller holds a lock.
func (g *Graph) traverseWarn(res *TraversalResult, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	res.Warnings = append(res.Warnings, msg)
	if g.cfg.Warnings != nil {
		g.cfg.Warnings.Warn(msg)
	}
}

// appendLink copies the path and appends a deep copy of the next link, so
// recorded chains never alias stored records or each other.
func appendLink(path []*Link, link *Link) []*Link {
	out := make([]*Link, len(path), len(path)+1)
	copy(out, path)
	return append(out, copyLink(link))
}

// extendChainSet copies a chain's node set and adds one node.
func extendChainSet(set map[NodeID]struct{}, id NodeID) map[NodeID]struct{} {
	out := make(map[NodeID]struct{}, len(set)+1)
	for k := range set {
		out[k] = struct{}{}
	}
	out[id] = struct{}{}
	return out
}

// resolveNodesSorted maps an id set to node copies sorted by id.
// Caller holds a lock.
func (g *Graph) resolveNodesSorted(ids map[NodeID]struct{}) []*Node {
	nodes := make([]*Node, 0, len(ids))
	for id := range ids {
		if node := g.nodes[id]; node != nil {
			nodes = append(nodes, copyNode(node))
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}
