package causal

import (
	"fmt"
	"time"
)

// NodeID is a strongly-typed unique identifier for nodes.
//
// Node ids are supplied by the caller and must be unique within a graph.
// Using a custom type keeps node and link ids from being mixed up at
// compile time.
type NodeID string

// LinkID is a strongly-typed unique identifier for causal links.
// Link ids are generated by the graph, never by the caller.
type LinkID string

// NodeType classifies what a node represents.
type NodeType string

// Valid node types.
const (
	// NodeConcept is a thing or idea ("rain", "inflation").
	NodeConcept NodeType = "concept"
	// NodeAction is something done ("deploy", "water the plants").
	NodeAction NodeType = "action"
	// NodeState is a condition that holds ("ground is wet", "service degraded").
	NodeState NodeType = "state"
)

// validNodeType reports whether t is one of the declared node types.
func validNodeType(t NodeType) bool {
	switch t {
	case NodeConcept, NodeAction, NodeState:
		return true
	}
	return false
}

// Node is an atomic participant in causal relationships.
//
// Nodes are owned by the Graph; everything else refers to them by ID.
// Metadata is free-form and uninterpreted.
type Node struct {
	ID        NodeID         `json:"id"`
	Label     string         `json:"label"`
	Type      NodeType       `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Link is a causal hyperedge: every node in Causes jointly contributes to
// every node in Effects. It is not a bundle of pairwise edges — {A,B} → {C}
// asserts that A and B together cause C.
//
// Confidence is how certain the relationship is; Strength is how large the
// causal contribution is. Both live in [0,1] and are validated on every
// write. Causes and Effects are fixed at creation time; changing the shape
// of a link means deleting it and creating a new one, which re-runs cycle
// checking.
type Link struct {
	ID         LinkID         `json:"id"`
	Causes     []NodeID       `json:"causes"`
	Effects    []NodeID       `json:"effects"`
	Confidence float64        `json:"confidence"`
	Strength   float64        `json:"strength"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// NodeUpdate describes a partial node update. Nil fields are left
// unchanged; Metadata keys are merged into the existing map. The node id
// itself is immutable.
type NodeUpdate struct {
	Label    *string
	Type     *NodeType
	Metadata map[string]any
}

// LinkUpdate describes a partial link update. Cause and effect sets are
// not updatable; see Link.
type LinkUpdate struct {
	Confidence *float64
	Strength   *float64
	Metadata   map[string]any
}

// inUnitRange reports whether v is a valid confidence or strength.
func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// checkScores validates confidence and strength together so callers get
// one consistent error shape.
func checkScores(confidence, strength float64) error {
	if !inUnitRange(confidence) {
		return fmt.Errorf("confidence %v: %w", confidence, ErrInvalidRange)
	}
	if !inUnitRange(strength) {
		return fmt.Errorf("strength %v: %w", strength, ErrInvalidRange)
	}
	return nil
}

// copyNode returns a deep copy so callers can never mutate stored state.
func copyNode(n *Node) *Node {
	if n == nil {
		return nil
	}

	copied := &Node{
		ID:        n.ID,
		Label:     n.Label,
		Type:      n.Type,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}

	if n.Metadata != nil {
		copied.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			copied.Metadata[k] = v
		}
	}

	return copied
}

// copyLink returns a deep copy of a link, including its id slices.
func copyLink(l *Link) *Link {
	if l == nil {
		return nil
	}

	copied := &Link{
		ID:         l.ID,
		Causes:     make([]NodeID, len(l.Causes)),
		Effects:    make([]NodeID, len(l.Effects)),
		Confidence: l.Confidence,
		Strength:   l.Strength,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}

	copy(copied.Causes, l.Causes)
	copy(copied.Effects, l.Effects)

	if l.Metadata != nil {
		copied.Metadata = make(map[string]any, len(l.Metadata))
		for k, v := range l.Metadata {
			copied.Metadata[k] = v
		}
	}

	return copied
}
