package causal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WarningSink receives advisory warnings from a Graph: soft latency budget
// exceeded, seed dropped, cycle skipped during traversal. Warnings never
// affect results; a Graph behaves identically with or without a sink.
type WarningSink interface {
	Warn(msg string)
}

// WarnFunc adapts a plain function to the WarningSink interface.
//
// Example:
//
//	g := causal.New(&causal.Config{
//		Warnings: causal.WarnFunc(func(msg string) { log.Println("wyrd:", msg) }),
//	})
type WarnFunc func(msg string)

// Warn implements WarningSink.
func (f WarnFunc) Warn(msg string) { f(msg) }

// Config tunes advisory behavior of a Graph. The zero value is usable;
// DefaultConfig documents the defaults.
type Config struct {
	// SoftCreateBudget is the advisory latency budget for CreateLink.
	// When a commit takes longer, one warning is emitted through the
	// sink. Zero disables the measurement. Never an error.
	SoftCreateBudget time.Duration

	// Warnings receives advisory warnings. Nil discards them.
	Warnings WarningSink
}

// DefaultConfig returns the default graph configuration.
//
// Defaults:
//   - SoftCreateBudget: 1ms (link commits are expected to be far faster
//     on modest graphs; exceeding the budget is reported, never fatal)
//   - Warnings: nil (discard)
func DefaultConfig() *Config {
	return &Config{
		SoftCreateBudget: time.Millisecond,
	}
}

// Graph is an in-memory causal hypergraph.
//
// It stores nodes and causal links (hyperedges), maintains derived
// forward/backward indices per node, rejects writes that would create a
// causal cycle, and answers bounded forward/backward traversal queries
// with compounded confidence.
//
// Features:
//   - Hyperedges: links relate a set of causes to a set of effects
//   - Acyclic by construction: every CreateLink runs cycle detection
//   - Indexed: per-node forward/backward link-id sets, always derived
//   - Deep copies: returned records never alias stored state
//
// Thread safety: all methods are safe for concurrent use; mutations are
// serialized internally. Hosts porting to other engines should still treat
// the instance as single-writer, which is the portable contract.
//
// Example:
//
//	g := causal.New(nil)
//
//	g.CreateNode(&causal.Node{ID: "rain", Label: "Rain", Type: causal.NodeState})
//	g.CreateNode(&causal.Node{ID: "wet", Label: "Wet Ground", Type: causal.NodeState})
//
//	link, err := g.CreateLink(&causal.Link{
//		Causes:     []causal.NodeID{"rain"},
//		Effects:    []causal.NodeID{"wet"},
//		Confidence: 0.9,
//		Strength:   0.8,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println("linked:", link.ID)
//
//	res := g.TraverseForward([]causal.NodeID{"rain"}, nil)
//	fmt.Printf("%d chains, confidence %.2f\n", len(res.Chains), res.Confidence)
type Graph struct {
	mu    sync.RWMutex
	cfg   Config
	nodes map[NodeID]*Node
	links map[LinkID]*Link

	// Indexes for efficient lookups
	forward     map[NodeID]map[LinkID]struct{} // node is a cause of these links
	backward    map[NodeID]map[LinkID]struct{} // node is an effect of these links
	nodesByType map[NodeType]map[NodeID]struct{}
}

// New creates an empty causal graph. A nil config means DefaultConfig.
func New(cfg *Config) *Graph {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Graph{
		cfg:         *cfg,
		nodes:       make(map[NodeID]*Node),
		links:       make(map[LinkID]*Link),
		forward:     make(map[NodeID]map[LinkID]struct{}),
		backward:    make(map[NodeID]map[LinkID]struct{}),
		nodesByType: make(map[NodeType]map[NodeID]struct{}),
	}
}

// warn sends an advisory warning to the configured sink, if any.
func (g *Graph) warn(format string, args ...any) {
	if g.cfg.Warnings != nil {
		g.cfg.Warnings.Warn(fmt.Sprintf(format, args...))
	}
}

// generateLinkID returns a fresh unique link identifier.
func generateLinkID() LinkID {
	return LinkID("link-" + uuid.NewString())
}

// CreateNode adds a node to the graph.
//
// The node id is caller-supplied and must be unique. The stored record is
// a deep copy; zero timestamps are stamped with the current time while
// non-zero ones are kept (journal replay depends on this). The returned
// copy reflects what was stored.
//
// Returns:
//   - ErrInvalidData if node is nil or its type is unknown
//   - ErrInvalidID if the id is empty
//   - ErrAlreadyExists if a node with this id exists
//
// Example:
//
//	node, err := g.CreateNode(&causal.Node{
//		ID:    "deploy-v2",
//		Label: "Deploy v2",
//		Type:  causal.NodeAction,
//		Metadata: map[string]any{"service": "api"},
//	})
//	if errors.Is(err, causal.ErrAlreadyExists) {
//		// id taken, pick another
//	}
func (g *Graph) CreateNode(node *Node) (*Node, error) {
	if node == nil {
		return nil, ErrInvalidData
	}
	if node.ID == "" {
		return nil, ErrInvalidID
	}
	if !validNodeType(node.Type) {
		return nil, fmt.Errorf("node type %q: %w", node.Type, ErrInvalidData)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[node.ID]; exists {
		return nil, fmt.Errorf("node %q: %w", node.ID, ErrAlreadyExists)
	}

	// Deep copy to prevent external mutation
	stored := copyNode(node)
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}

	g.nodes[stored.ID] = stored
	g.forward[stored.ID] = make(map[LinkID]struct{})
	g.backward[stored.ID] = make(map[LinkID]struct{})
	g.indexNodeType(stored.ID, stored.Type)

	return copyNode(stored), nil
}

// GetNode returns a copy of the node and whether it exists. Missing nodes
// are not an error.
func (g *Graph) GetNode(id NodeID) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return copyNode(node), true
}

// UpdateNode merges a partial update into an existing node and bumps its
// update timestamp. The id is immutable. Metadata keys are merged into the
// existing map; other fields replace only when set.
func (g *Graph) UpdateNode(id NodeID, update NodeUpdate) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if update.Type != nil && !validNodeType(*update.Type) {
		return nil, fmt.Errorf("node type %q: %w", *update.Type, ErrInvalidData)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	node, exists := g.nodes[id]
	if !exists {
		return nil, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}

	if update.Label != nil {
		node.Label = *update.Label
	}
	if update.Type != nil && *update.Type != node.Type {
		g.unindexNodeType(id, node.Type)
		node.Type = *update.Type
		g.indexNodeType(id, node.Type)
	}
	if len(update.Metadata) > 0 {
		if node.Metadata == nil {
			node.Metadata = make(map[string]any, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			node.Metadata[k] = v
		}
	}
	node.UpdatedAt = time.Now()

	return copyNode(node), nil
}

// DeleteNode removes a node and every link that references it as a cause
// or an effect. Both index sides are updated for every removed link.
func (g *Graph) DeleteNode(id NodeID) error {
	if id == "" {
		return ErrInvalidID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	node, exists := g.nodes[id]
	if !exists {
		return fmt.Errorf("node %q: %w", id, ErrNotFound)
	}

	// Collect touching links from both index sides first; a link may
	// appear on both when the node is a cause of one hyperedge and an
	// effect of another.
	touching := make(map[LinkID]struct{})
	for linkID := range g.forward[id] {
		touching[linkID] = struct{}{}
	}
	for linkID := range g.backward[id] {
		touching[linkID] = struct{}{}
	}
	for linkID := range touching {
		g.deleteLinkLocked(linkID)
	}

	g.unindexNodeType(id, node.Type)
	delete(g.forward, id)
	delete(g.backward, id)
	delete(g.nodes, id)
	return nil
}

// CreateLink validates and commits a causal link.
//
// The caller fills Causes, Effects, Confidence, Strength and Metadata. An
// empty ID gets a generated one; a caller-set ID is honored (snapshot and
// journal replay depend on this) but must be unique. Timestamps follow the
// same rule: zero values are stamped, non-zero values are kept.
//
// Validation order, nothing committed on failure:
//  1. shape: at least one cause and one effect
//  2. references: every cause/effect id must name an existing node
//     (ErrMissingReference identifies the first missing id)
//  3. ranges: confidence and strength within [0,1] (ErrInvalidRange)
//  4. acyclicity: committing must not make any node reachable from
//     itself (*CycleError with the offending path)
//
// On success the link is stored and its id is added to the forward index
// of every cause and the backward index of every effect.
//
// Example:
//
//	link, err := g.CreateLink(&causal.Link{
//		Causes:     []causal.NodeID{"overcast", "humidity"},
//		Effects:    []causal.NodeID{"rain"},
//		Confidence: 0.7,
//		Strength:   0.9,
//	})
//	if err != nil {
//		var cyc *causal.CycleError
//		if errors.As(err, &cyc) {
//			fmt.Println("rejected, would cycle via", cyc.Path)
//		}
//		return err
//	}
func (g *Graph) CreateLink(link *Link) (*Link, error) {
	if link == nil {
		return nil, ErrInvalidData
	}
	if len(link.Causes) == 0 || len(link.Effects) == 0 {
		return nil, fmt.Errorf("link needs at least one cause and one effect: %w", ErrInvalidData)
	}

	start := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range link.Causes {
		if _, ok := g.nodes[id]; !ok {
			return nil, fmt.Errorf("cause %q: %w", id, ErrMissingReference)
		}
	}
	for _, id := range link.Effects {
		if _, ok := g.nodes[id]; !ok {
			return nil, fmt.Errorf("effect %q: %w", id, ErrMissingReference)
		}
	}
	if err := checkScores(link.Confidence, link.Strength); err != nil {
		return nil, err
	}

	stored := copyLink(link)
	if stored.ID == "" {
		stored.ID = generateLinkID()
	} else if _, exists := g.links[stored.ID]; exists {
		return nil, fmt.Errorf("link %q: %w", stored.ID, ErrAlreadyExists)
	}

	if path := g.findCycle(stored); path != nil {
		return nil, &CycleError{Path: path}
	}

	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}

	g.links[stored.ID] = stored
	for _, id := range stored.Causes {
		g.indexLink(g.forward, id, stored.ID)
	}
	for _, id := range stored.Effects {
		g.indexLink(g.backward, id, stored.ID)
	}

	if g.cfg.SoftCreateBudget > 0 {
		if elapsed := time.Since(start); elapsed > g.cfg.SoftCreateBudget {
			g.warn("link %s commit took %v, over soft budget %v", stored.ID, elapsed, g.cfg.SoftCreateBudget)
		}
	}

	return copyLink(stored), nil
}

// GetLink returns a copy of the link and whether it exists. Missing links
// are not an error.
func (g *Graph) GetLink(id LinkID) (*Link, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	link, ok := g.links[id]
	if !ok {
		return nil, false
	}
	return copyLink(link), true
}

// UpdateLink merges a partial update into an existing link and bumps its
// update timestamp. Confidence and strength are re-validated when present.
// Cause and effect sets cannot be changed here: structural changes are a
// delete plus a create, which re-runs cycle detection.
func (g *Graph) UpdateLink(id LinkID, update LinkUpdate) (*Link, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	link, exists := g.links[id]
	if !exists {
		return nil, fmt.Errorf("link %q: %w", id, ErrNotFound)
	}

	confidence := link.Confidence
	if update.Confidence != nil {
		confidence = *update.Confidence
	}
	strength := link.Strength
	if update.Strength != nil {
		strength = *update.Strength
	}
	if err := checkScores(confidence, strength); err != nil {
		return nil, err
	}

	link.Confidence = confidence
	link.Strength = strength
	if len(update.Metadata) > 0 {
		if link.Metadata == nil {
			link.Metadata = make(map[string]any, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			link.Metadata[k] = v
		}
	}
	link.UpdatedAt = time.Now()

	return copyLink(link), nil
}

// DeleteLink removes a link and clears it from the forward index of every
// cause and the backward index of every effect.
func (g *Graph) DeleteLink(id LinkID) error {
	if id == "" {
		return ErrInvalidID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.links[id]; !exists {
		return fmt.Errorf("link %q: %w", id, ErrNotFound)
	}
	g.deleteLinkLocked(id)
	return nil
}

// deleteLinkLocked removes a link record and both index sides.
// Caller holds the write lock.
func (g *Graph) deleteLinkLocked(id LinkID) {
	link := g.links[id]
	if link == nil {
		return
	}
	for _, nodeID := range link.Causes {
		if set := g.forward[nodeID]; set != nil {
			delete(set, id)
		}
	}
	for _, nodeID := range link.Effects {
		if set := g.backward[nodeID]; set != nil {
			delete(set, id)
		}
	}
	delete(g.links, id)
}

// indexLink adds a link id to a node's entry in the given index side.
func (g *Graph) indexLink(index map[NodeID]map[LinkID]struct{}, nodeID NodeID, linkID LinkID) {
	if index[nodeID] == nil {
		index[nodeID] = make(map[LinkID]struct{})
	}
	index[nodeID][linkID] = struct{}{}
}

func (g *Graph) indexNodeType(id NodeID, t NodeType) {
	if g.nodesByType[t] == nil {
		g.nodesByType[t] = make(map[NodeID]struct{})
	}
	g.nodesByType[t][id] = struct{}{}
}

func (g *Graph) unindexNodeType(id NodeID, t NodeType) {
	if g.nodesByType[t] != nil {
		delete(g.nodesByType[t], id)
	}
}

// ForwardLinks returns copies of the links where the node is a cause.
// Unknown nodes get an empty slice; no entry and an empty set look the same.
func (g *Graph) ForwardLinks(id NodeID) []*Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveLinks(g.forward[id])
}

// BackwardLinks returns copies of the links where the node is an effect.
func (g *Graph) BackwardLinks(id NodeID) []*Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveLinks(g.backward[id])
}

// resolveLinks maps an index entry to link copies. Caller holds a lock.
func (g *Graph) resolveLinks(ids map[LinkID]struct{}) []*Link {
	links := make([]*Link, 0, len(ids))
	for id := range ids {
		if link := g.links[id]; link != nil {
			links = append(links, copyLink(link))
		}
	}
	return links
}

// AllNodes returns copies of every node.
func (g *Graph) AllNodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, copyNode(node))
	}
	return nodes
}

// AllLinks returns copies of every link.
func (g *Graph) AllLinks() []*Link {
	g.mu.RLock()
	defer g.mu.RUnlock()

	links := make([]*Link, 0, len(g.links))
	for _, link := range g.links {
		links = append(links, copyLink(link))
	}
	return links
}

// FindNodesByType returns copies of every node with the given type,
// served by the type index.
func (g *Graph) FindNodesByType(t NodeType) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.nodesByType[t]
	nodes := make([]*Node, 0, len(ids))
	for id := range ids {
		if node := g.nodes[id]; node != nil {
			nodes = append(nodes, copyNode(node))
		}
	}
	return nodes
}

// Len returns the current node and link counts.
func (g *Graph) Len() (nodes, links int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.links)
}
