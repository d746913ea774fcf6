package causal

import (
	"fmt"
	"strings"
)

// ExplainChain renders a chain as readable text: one line per link showing
// cause labels, an arrow, effect labels and that link's confidence, then
// the compounded chain confidence. Backward chains are rendered in reverse
// so the text always reads cause to effect.
//
// Example output:
//
//	Rain -> Wet Ground (90.0%)
//	Wet Ground -> Slippery Floor (70.0%)
//	chain confidence: 63.0%
func (g *Graph) ExplainChain(chain Chain) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	links := chain.Links
	if chain.Direction == DirectionBackward {
		links = make([]*Link, len(chain.Links))
		for i, link := range chain.Links {
			links[len(links)-1-i] = link
		}
	}

	var b strings.Builder
	for _, link := range links {
		if link == nil {
			continue
		}
		fmt.Fprintf(&b, "%s -> %s (%.1f%%)\n",
			g.labelsLocked(link.Causes),
			g.labelsLocked(link.Effects),
			link.Confidence*100)
	}
	fmt.Fprintf(&b, "chain confidence: %.1f%%", chain.Confidence*100)
	return b.String()
}

// labelsLocked joins node labels with " + ", falling back to the raw id
// for nodes no longer in the graph. Caller holds a lock.
func (g *Graph) labelsLocked(ids []NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		if node := g.nodes[id]; node != nil && node.Label != "" {
			parts[i] = node.Label
		} else {
			parts[i] = string(id)
		}
	}
	return strings.Join(parts, " + ")
}
