package causal

import (
	"fmt"
	"sort"
	"time"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = "1.0"

// SnapshotMetadata describes a snapshot: format version, when it was taken
// and how much it holds.
type SnapshotMetadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	NodeCount int       `json:"nodeCount"`
	LinkCount int       `json:"linkCount"`
}

// Snapshot is a point-in-time copy of every node and link in a graph.
//
// Indices are deliberately absent: Restore rebuilds both index sides
// purely from the link list, so a hand-edited or partially corrupted
// snapshot can never leave an index inconsistent with the links it
// describes. A separate persistence layer is responsible for writing
// snapshots to durable storage; the graph itself performs no I/O.
type Snapshot struct {
	Nodes    []*Node          `json:"nodes"`
	Links    []*Link          `json:"links"`
	Metadata SnapshotMetadata `json:"metadata"`
}

// Snapshot returns a deep-copied snapshot of the graph, nodes and links
// sorted by id for a stable wire shape.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, copyNode(node))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	links := make([]*Link, 0, len(g.links))
	for _, link := range g.links {
		links = append(links, copyLink(link))
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })

	return &Snapshot{
		Nodes: nodes,
		Links: links,
		Metadata: SnapshotMetadata{
			Version:   SnapshotVersion,
			CreatedAt: time.Now(),
			NodeCount: len(nodes),
			LinkCount: len(links),
		},
	}
}

// Restore replaces the graph's contents with a snapshot.
//
// The whole snapshot is validated against a scratch graph first — node
// records, duplicate ids, link references, score ranges and full-graph
// acyclicity — and the receiver is swapped only on success, so a failed
// restore leaves the graph exactly as it was. Timestamps are preserved
// from the snapshot; indices are rebuilt from the link list.
//
// Returns ErrInvalidSnapshot for a nil snapshot or unknown version, and
// the usual creation errors (ErrMissingReference, ErrInvalidRange,
// *CycleError, ...) for bad records.
func (g *Graph) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot: %w", ErrInvalidSnapshot)
	}
	if snap.Metadata.Version != "" && snap.Metadata.Version != SnapshotVersion {
		return fmt.Errorf("snapshot version %q: %w", snap.Metadata.Version, ErrInvalidSnapshot)
	}

	scratch := New(&Config{})

	for _, node := range snap.Nodes {
		if node == nil {
			return fmt.Errorf("nil node record: %w", ErrInvalidSnapshot)
		}
		if node.ID == "" {
			return fmt.Errorf("node with empty id: %w", ErrInvalidID)
		}
		if !validNodeType(node.Type) {
			return fmt.Errorf("node %q type %q: %w", node.ID, node.Type, ErrInvalidData)
		}
		if _, exists := scratch.nodes[node.ID]; exists {
			return fmt.Errorf("node %q: %w", node.ID, ErrAlreadyExists)
		}
		stored := copyNode(node)
		scratch.nodes[stored.ID] = stored
		scratch.forward[stored.ID] = make(map[LinkID]struct{})
		scratch.backward[stored.ID] = make(map[LinkID]struct{})
		scratch.indexNodeType(stored.ID, stored.Type)
	}

	// Links are inserted one at a time with the same cycle check a live
	// CreateLink runs: if the snapshot's expanded digraph has a cycle,
	// the link that completes it is rejected.
	for _, link := range snap.Links {
		if link == nil {
			return fmt.Errorf("nil link record: %w", ErrInvalidSnapshot)
		}
		if link.ID == "" {
			return fmt.Errorf("link with empty id: %w", ErrInvalidID)
		}
		if len(link.Causes) == 0 || len(link.Effects) == 0 {
			return fmt.Errorf("link %q needs at least one cause and one effect: %w", link.ID, ErrInvalidData)
		}
		if _, exists := scratch.links[link.ID]; exists {
			return fmt.Errorf("link %q: %w", link.ID, ErrAlreadyExists)
		}
		for _, id := range link.Causes {
			if _, ok := scratch.nodes[id]; !ok {
				return fmt.Errorf("link %q cause %q: %w", link.ID, id, ErrMissingReference)
			}
		}
		for _, id := range link.Effects {
			if _, ok := scratch.nodes[id]; !ok {
				return fmt.Errorf("link %q effect %q: %w", link.ID, id, ErrMissingReference)
			}
		}
		if err := checkScores(link.Confidence, link.Strength); err != nil {
			return fmt.Errorf("link %q: %w", link.ID, err)
		}

		stored := copyLink(link)
		if path := scratch.findCycle(stored); path != nil {
			return &CycleError{Path: path}
		}
		scratch.links[stored.ID] = stored
		for _, id := range stored.Causes {
			scratch.indexLink(scratch.forward, id, stored.ID)
		}
		for _, id := range stored.Effects {
			scratch.indexLink(scratch.backward, id, stored.ID)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = scratch.nodes
	g.links = scratch.links
	g.forward = scratch.forward
	g.backward = scratch.backward
	g.nodesByType = scratch.nodesByType
	return nil
}
