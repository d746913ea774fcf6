package causal

// GraphStats summarizes a graph at a point in time.
type GraphStats struct {
	// Nodes and Links are record counts.
	Nodes int `json:"nodes"`
	Links int `json:"links"`

	// NodesByType counts nodes per declared type.
	NodesByType map[NodeType]int `json:"nodesByType"`

	// AvgConfidence and AvgStrength are arithmetic means over all links,
	// 0 when there are none.
	AvgConfidence float64 `json:"avgConfidence"`
	AvgStrength   float64 `json:"avgStrength"`

	// MaxCauses and MaxEffects are the widest hyperedge sides seen.
	MaxCauses  int `json:"maxCauses"`
	MaxEffects int `json:"maxEffects"`

	// Roots are nodes with no incoming links (never an effect); Leaves
	// have no outgoing links (never a cause).
	Roots  int `json:"roots"`
	Leaves int `json:"leaves"`
}

// Stats computes summary statistics for the graph.
//
// Example:
//
//	s := g.Stats()
//	fmt.Printf("%d nodes, %d links, avg confidence %.2f\n",
//		s.Nodes, s.Links, s.AvgConfidence)
func (g *Graph) Stats() GraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := GraphStats{
		Nodes:       len(g.nodes),
		Links:       len(g.links),
		NodesByType: make(map[NodeType]int, len(g.nodesByType)),
	}

	for t, ids := range g.nodesByType {
		if len(ids) > 0 {
			stats.NodesByType[t] = len(ids)
		}
	}

	confidences := make([]float64, 0, len(g.links))
	strengths := make([]float64, 0, len(g.links))
	for _, link := range g.links {
		confidences = append(confidences, link.Confidence)
		strengths = append(strengths, link.Strength)
		if len(link.Causes) > stats.MaxCauses {
			stats.MaxCauses = len(link.Causes)
		}
		if len(link.Effects) > stats.MaxEffects {
			stats.MaxEffects = len(link.Effects)
		}
	}
	stats.AvgConfidence = mean(confidences)
	stats.AvgStrength = mean(strengths)

	for id := range g.nodes {
		if len(g.backward[id]) == 0 {
			stats.Roots++
		}
		if len(g.forward[id]) == 0 {
			stats.Leaves++
		}
	}

	return stats
}

// mean is the arithmetic mean, 0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
