// Package causal implements an in-memory causal hypergraph: nodes connected
// by multi-cause, multi-effect links, with cycle-safe mutation and
// bidirectional confidence-weighted inference.
//
// Key Features:
//   - Hyperedges: a link relates a set of causes to a set of effects
//     jointly ({storm, high tide} -> {flooding, outage})
//   - Acyclic by construction: every link creation runs cycle detection
//     and is rejected if it would make any node reachable from itself
//   - Bidirectional inference: TraverseForward answers "what follows from
//     X", TraverseBackward answers "what could have caused Y"
//   - Compounded confidence: a chain's confidence is the product of its
//     links' confidences, so longer chains are never more certain
//   - Snapshot/Restore: plain serializable state; indices are always
//     rebuilt from links, never persisted
//
// Architecture:
//   - Store: nodes and links, the source of truth
//   - Index: per-node forward (node is a cause) and backward (node is an
//     effect) link-id sets, derived from the store on every mutation
//   - Cycle detector: reachability search over hyperedges expanded into
//     their cause×effect arcs
//   - Traversal engine: bounded breadth-first chain discovery
//
// The package performs no I/O. Persistence, transport and query parsing
// are collaborator layers around the graph; see pkg/persist and
// pkg/server.
//
// Example Usage:
//
//	g := causal.New(nil)
//
//	g.CreateNode(&causal.Node{ID: "rain", Label: "Rain", Type: causal.NodeState})
//	g.CreateNode(&causal.Node{ID: "wet-ground", Label: "Wet Ground", Type: causal.NodeState})
//	g.CreateNode(&causal.Node{ID: "slippery-floor", Label: "Slippery Floor", Type: causal.NodeState})
//
//	g.CreateLink(&causal.Link{
//		Causes:     []causal.NodeID{"rain"},
//		Effects:    []causal.NodeID{"wet-ground"},
//		Confidence: 0.9,
//		Strength:   0.8,
//	})
//	g.CreateLink(&causal.Link{
//		Causes:     []causal.NodeID{"wet-ground"},
//		Effects:    []causal.NodeID{"slippery-floor"},
//		Confidence: 0.7,
//		Strength:   0.6,
//	})
//
//	res := g.TraverseForward([]causal.NodeID{"rain"}, nil)
//	for _, chain := range res.Chains {
//		fmt.Println(g.ExplainChain(chain))
//	}
//	// Rain -> Wet Ground (90.0%)
//	// Wet Ground -> Slippery Floor (70.0%)
//	// chain confidence: 63.0%
//
// ELI12 (Explain Like I'm 12):
//
// Think of the graph as a map of "this leads to that":
//
//  1. **Dominoes, not loops**: Each link says some things knock over other
//     things. The graph refuses any link that would let a domino knock
//     itself over, even through a long detour.
//
//  2. **Rumors lose certainty**: If you're 90% sure rain wets the ground
//     and 70% sure wet ground gets slippery, you're only 63% sure rain
//     makes floors slippery. Every extra hop can only make you less sure.
//
//  3. **Ask both ways**: "If it rains, what happens?" walks forward.
//     "The floor is slippery — why?" walks backward along the same links.
package causal
