package causal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rainGraph is the canonical three-node example:
// Rain -(0.9)-> Wet Ground -(0.7)-> Slippery Floor.
func rainGraph(t *testing.T) *Graph {
	t.Helper()
	g := New(nil)
	for _, n := range []struct {
		id    NodeID
		label string
	}{
		{"rain", "Rain"},
		{"wet-ground", "Wet Ground"},
		{"slippery-floor", "Slippery Floor"},
	} {
		_, err := g.CreateNode(&Node{ID: n.id, Label: n.label, Type: NodeState})
		require.NoError(t, err)
	}
	mustLink(t, g, []NodeID{"rain"}, []NodeID{"wet-ground"}, 0.9)
	mustLink(t, g, []NodeID{"wet-ground"}, []NodeID{"slippery-floor"}, 0.7)
	return g
}

func nodeIDs(nodes []*Node) []NodeID {
	ids := make([]NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestTraverseForward(t *testing.T) {
	t.Run("rain reaches slippery floor at 0.63", func(t *testing.T) {
		g := rainGraph(t)
		res := g.TraverseForward([]NodeID{"rain"}, nil)

		assert.Equal(t, DirectionForward, res.Direction)
		require.Len(t, res.Chains, 1)
		chain := res.Chains[0]
		assert.Equal(t, []NodeID{"rain"}, chain.From)
		assert.Equal(t, []NodeID{"slippery-floor"}, chain.To)
		assert.Equal(t, 2, chain.Hops)
		assert.InDelta(t, 0.63, chain.Confidence, 1e-9)
		assert.InDelta(t, 0.63, res.Confidence, 1e-9)

		assert.Equal(t, []NodeID{"slippery-floor", "wet-ground"}, nodeIDs(res.Nodes),
			"every reached node is reported, sorted by id")
		assert.Equal(t, 3, res.NodesExplored)
		assert.Empty(t, res.Warnings)
	})

	t.Run("confidence compounds multiplicatively and never grows", func(t *testing.T) {
		g := newTestGraph(t, "a", "b", "c", "d")
		mustLink(t, g, []NodeID{"a"}, []NodeID{"b"}, 0.9)
		mustLink(t, g, []NodeID{"b"}, []NodeID{"c"}, 0.8)
		mustLink(t, g, []NodeID{"c"}, []NodeID{"d"}, 0.7)

		res := g.TraverseForward([]NodeID{"a"}, nil)
		require.Len(t, res.Chains, 1)
		chain := res.Chains[0]
		require.Equal(t, 3, chain.Hops)

		product := 1.0
		for _, link := range chain.Links {
			product *= link.Confidence
			assert.LessOrEqual(t, product, 1.0)
		}
		assert.InDelta(t, product, chain.Confidence, 1e-9)
		assert.InDelta(t, 0.9*0.8*0.7, chain.Confidence, 1e-9)
	})

	t.Run("min confidence skips weak links", func(t *testing.T) {
		g := rainGraph(t)
		res := g.TraverseForward([]NodeID{"rain"}, &TraversalOptions{MinConfidence: 0.8})

		require.Len(t, res.Chains, 1)
		assert.Equal(t, []NodeID{"wet-ground"}, res.Chains[0].To,
			"the 0.7 link is below the floor, so the chain stops at wet ground")
		assert.Equal(t, 1, res.Chains[0].Hops)
	})

	t.Run("min chain confidence discards compounded-weak chains", func(t *testing.T) {
		g := rainGraph(t)
		res := g.TraverseForward([]NodeID{"rain"}, &TraversalOptions{MinChainConfidence: 0.7})

		require.Len(t, res.Chains, 1)
		assert.Equal(t, []NodeID{"wet-ground"}, res.Chains[0].To,
			"extending to slippery floor would drop the chain to 0.63, below the floor")
		assert.InDelta(t, 0.9, res.Chains[0].Confidence, 1e-9)
	})

	t.Run("max depth finalizes chains at the cap", func(t *testing.T) {
		g := rainGraph(t)
		res := g.TraverseForward([]NodeID{"rain"}, &TraversalOptions{MaxDepth: 1})

		require.Len(t, res.Chains, 1)
		assert.Equal(t, 1, res.Chains[0].Hops)
		assert.Equal(t, []NodeID{"wet-ground"}, res.Chains[0].To)
	})

	t.Run("max chains caps the search with a warning", func(t *testing.T) {
		g := newTestGraph(t, "hub", "s1", "s2", "s3", "s4")
		for _, spoke := range []NodeID{"s1", "s2", "s3", "s4"} {
			mustLink(t, g, []NodeID{"hub"}, []NodeID{spoke}, 0.9)
		}

		res := g.TraverseForward([]NodeID{"hub"}, &TraversalOptions{MaxChains: 2})
		assert.Len(t, res.Chains, 2)
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, res.Warnings[len(res.Warnings)-1], "chain cap")
	})

	t.Run("invalid seeds dropped with warning, valid ones still walk", func(t *testing.T) {
		g := rainGraph(t)
		res := g.TraverseForward([]NodeID{"ghost", "rain"}, nil)

		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "ghost")
		assert.Len(t, res.Chains, 1)
	})

	t.Run("no valid seeds is an empty result, not an error", func(t *testing.T) {
		g := rainGraph(t)
		res := g.TraverseForward([]NodeID{"ghost"}, nil)

		assert.Empty(t, res.Chains)
		assert.Empty(t, res.Nodes)
		assert.Zero(t, res.NodesExplored)
		assert.Zero(t, res.Confidence)
		assert.Len(t, res.Warnings, 2, "one per dropped seed plus the empty-seed note")
	})

	t.Run("seed with no outgoing links yields no chains", func(t *testing.T) {
		g := rainGraph(t)
		res := g.TraverseForward([]NodeID{"slippery-floor"}, nil)
		assert.Empty(t, res.Chains)
		assert.Empty(t, res.Nodes)
		assert.Equal(t, 1, res.NodesExplored)
	})

	t.Run("hyperedge fans out to every effect", func(t *testing.T) {
		g := newTestGraph(t, "storm", "flood", "outage")
		link := mustLink(t, g, []NodeID{"storm"}, []NodeID{"flood", "outage"}, 0.8)

		res := g.TraverseForward([]NodeID{"storm"}, nil)
		assert.Len(t, res.Chains, 2)
		for _, chain := range res.Chains {
			require.Len(t, chain.Links, 1)
			assert.Equal(t, link.ID, chain.Links[0].ID)
			assert.InDelta(t, 0.8, chain.Confidence, 1e-9)
		}
		assert.Equal(t, []NodeID{"flood", "outage"}, nodeIDs(res.Nodes))
		assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	})

	t.Run("warnings mirror to the configured sink", func(t *testing.T) {
		var sunk []string
		g := New(&Config{Warnings: WarnFunc(func(msg string) { sunk = append(sunk, msg) })})
		res := g.TraverseForward([]NodeID{"ghost"}, nil)
		assert.Equal(t, res.Warnings, sunk)
	})
}

func TestTraverseBackward(t *testing.T) {
	t.Run("slippery floor traces back to rain at 0.63", func(t *testing.T) {
		g := rainGraph(t)
		res := g.TraverseBackward([]NodeID{"slippery-floor"}, nil)

		assert.Equal(t, DirectionBackward, res.Direction)
		require.Len(t, res.Chains, 1)
		chain := res.Chains[0]
		assert.Equal(t, []NodeID{"slippery-floor"}, chain.From)
		assert.Equal(t, []NodeID{"rain"}, chain.To)
		assert.Equal(t, 2, chain.Hops)
		assert.InDelta(t, 0.63, chain.Confidence, 1e-9, "mirrors the forward aggregate")

		assert.Equal(t, []NodeID{"rain", "wet-ground"}, nodeIDs(res.Nodes))
	})

	t.Run("multi-cause hyperedge reports every root", func(t *testing.T) {
		g := newTestGraph(t, "storm", "tide", "flood")
		mustLink(t, g, []NodeID{"storm", "tide"}, []NodeID{"flood"}, 0.8)

		res := g.TraverseBackward([]NodeID{"flood"}, nil)
		assert.Len(t, res.Chains, 2)
		assert.Equal(t, []NodeID{"storm", "tide"}, nodeIDs(res.Nodes))
	})
}

func TestTraverseCycleHandling(t *testing.T) {
	// CreateLink never admits a cycle, so fabricate one directly in the
	// store to prove traversal stays bounded and honors AllowRevisit.
	cyclic := func(t *testing.T) *Graph {
		t.Helper()
		g := newTestGraph(t, "a", "b")
		mustLink(t, g, []NodeID{"a"}, []NodeID{"b"}, 0.9)
		back := &Link{ID: "link-back", Causes: []NodeID{"b"}, Effects: []NodeID{"a"}, Confidence: 0.8, Strength: 0.5}
		g.links[back.ID] = back
		g.indexLink(g.forward, "b", back.ID)
		g.indexLink(g.backward, "a", back.ID)
		return g
	}

	t.Run("revisit skipped with a warning by default", func(t *testing.T) {
		g := cyclic(t)
		res := g.TraverseForward([]NodeID{"a"}, nil)

		require.Len(t, res.Chains, 1)
		assert.Equal(t, []NodeID{"b"}, res.Chains[0].To)
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, res.Warnings[0], "cycle avoided")
	})

	t.Run("allow revisit walks the loop once and terminates", func(t *testing.T) {
		g := cyclic(t)
		res := g.TraverseForward([]NodeID{"a"}, &TraversalOptions{AllowRevisit: true})

		require.Len(t, res.Chains, 1)
		chain := res.Chains[0]
		assert.Equal(t, 2, chain.Hops)
		assert.Equal(t, []NodeID{"a"}, chain.To, "the loop closes back on the seed")
		assert.InDelta(t, 0.9*0.8, chain.Confidence, 1e-9)
	})
}

func TestTraversalOptionNormalization(t *testing.T) {
	t.Run("nil options mean defaults", func(t *testing.T) {
		bounds := (*TraversalOptions)(nil).normalized()
		assert.Equal(t, DefaultMaxDepth, bounds.MaxDepth)
		assert.Equal(t, DefaultMaxChains, bounds.MaxChains)
		assert.False(t, bounds.AllowRevisit)
	})

	t.Run("zero bounds fall back to defaults", func(t *testing.T) {
		bounds := (&TraversalOptions{MinConfidence: 0.4}).normalized()
		assert.Equal(t, DefaultMaxDepth, bounds.MaxDepth)
		assert.Equal(t, DefaultMaxChains, bounds.MaxChains)
		assert.Equal(t, 0.4, bounds.MinConfidence)
	})
}

func TestTraversalMeanConfidence(t *testing.T) {
	g := newTestGraph(t, "a", "strong", "weak")
	mustLink(t, g, []NodeID{"a"}, []NodeID{"strong"}, 1.0)
	mustLink(t, g, []NodeID{"a"}, []NodeID{"weak"}, 0.5)

	res := g.TraverseForward([]NodeID{"a"}, nil)
	require.Len(t, res.Chains, 2)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9, "overall confidence is the mean of chain confidences")
}
