package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orneryd/wyrd/pkg/causal"
	"github.com/orneryd/wyrd/pkg/persist"
)

// Request/response shapes. The wire model mirrors the causal package;
// optional fields are pointers so "absent" and "zero" stay distinct.

type createNodeRequest struct {
	ID       string         `json:"id" binding:"required"`
	Label    string         `json:"label"`
	Type     string         `json:"type" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

type updateNodeRequest struct {
	Label    *string        `json:"label"`
	Type     *string        `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

type createLinkRequest struct {
	Causes     []string       `json:"causes" binding:"required"`
	Effects    []string       `json:"effects" binding:"required"`
	Confidence float64        `json:"confidence"`
	Strength   float64        `json:"strength"`
	Metadata   map[string]any `json:"metadata"`
}

type updateLinkRequest struct {
	Confidence *float64       `json:"confidence"`
	Strength   *float64       `json:"strength"`
	Metadata   map[string]any `json:"metadata"`
}

type traverseRequest struct {
	Seeds              []string `json:"seeds" binding:"required"`
	MaxDepth           int      `json:"maxDepth"`
	MinConfidence      float64  `json:"minConfidence"`
	MinChainConfidence float64  `json:"minChainConfidence"`
	AllowRevisit       bool     `json:"allowRevisit"`
	MaxChains          int      `json:"maxChains"`
	// Explain attaches a rendered explanation per chain.
	Explain bool `json:"explain"`
}

type traverseResponse struct {
	*causal.TraversalResult
	Explanations []string `json:"explanations,omitempty"`
}

type errorResponse struct {
	Error string   `json:"error"`
	Path  []string `json:"path,omitempty"`
}

// renderError maps engine errors onto HTTP statuses. Cycle violations get
// 409 with the demonstrating path attached.
func renderError(c *gin.Context, err error) {
	var cyc *causal.CycleError
	if errors.As(err, &cyc) {
		path := make([]string, len(cyc.Path))
		for i, id := range cyc.Path {
			path[i] = string(id)
		}
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error(), Path: path})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, causal.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, causal.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, causal.ErrMissingReference):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, causal.ErrInvalidRange),
		errors.Is(err, causal.ErrInvalidID),
		errors.Is(err, causal.ErrInvalidData),
		errors.Is(err, causal.ErrInvalidSnapshot):
		status = http.StatusBadRequest
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}

// journalOp records a successful mutation; journaling problems are logged
// by the wrapping layers, never surfaced to the API caller.
func (s *Server) journalOp(c *gin.Context, op persist.Op, payload any) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(op, payload); err != nil {
		// The mutation is already applied; losing a journal entry is
		// recoverable at the next snapshot.
		c.Error(err)
	}
}

func (s *Server) health(c *gin.Context) {
	nodes, links := s.graph.Len()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"nodes":  nodes,
		"links":  links,
	})
}

func (s *Server) createNode(c *gin.Context) {
	var req createNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	node, err := s.graph.CreateNode(&causal.Node{
		ID:       causal.NodeID(req.ID),
		Label:    req.Label,
		Type:     causal.NodeType(req.Type),
		Metadata: req.Metadata,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	s.journalOp(c, persist.OpNodeCreate, node)
	c.JSON(http.StatusCreated, node)
}

func (s *Server) listNodes(c *gin.Context) {
	if t := c.Query("type"); t != "" {
		c.JSON(http.StatusOK, s.graph.FindNodesByType(causal.NodeType(t)))
		return
	}
	c.JSON(http.StatusOK, s.graph.AllNodes())
}

func (s *Server) getNode(c *gin.Context) {
	node, ok := s.graph.GetNode(causal.NodeID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "node not found"})
		return
	}
	c.JSON(http.StatusOK, node)
}

func (s *Server) updateNode(c *gin.Context) {
	var req updateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	id := causal.NodeID(c.Param("id"))
	update := causal.NodeUpdate{Label: req.Label, Metadata: req.Metadata}
	if req.Type != nil {
		t := causal.NodeType(*req.Type)
		update.Type = &t
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	node, err := s.graph.UpdateNode(id, update)
	if err != nil {
		renderError(c, err)
		return
	}
	s.journalOp(c, persist.OpNodeUpdate, persist.NodeChange{
		ID: id, Label: req.Label, Type: update.Type, Metadata: req.Metadata,
	})
	c.JSON(http.StatusOK, node)
}

func (s *Server) deleteNode(c *gin.Context) {
	id := c.Param("id")

	s.gate.RLock()
	defer s.gate.RUnlock()

	if err := s.graph.DeleteNode(causal.NodeID(id)); err != nil {
		renderError(c, err)
		return
	}
	s.journalOp(c, persist.OpNodeDelete, persist.Deletion{ID: id})
	c.Status(http.StatusNoContent)
}

func (s *Server) createLink(c *gin.Context) {
	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	link, err := s.graph.CreateLink(&causal.Link{
		Causes:     toNodeIDs(req.Causes),
		Effects:    toNodeIDs(req.Effects),
		Confidence: req.Confidence,
		Strength:   req.Strength,
		Metadata:   req.Metadata,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	s.journalOp(c, persist.OpLinkCreate, link)
	c.JSON(http.StatusCreated, link)
}

func (s *Server) getLink(c *gin.Context) {
	link, ok := s.graph.GetLink(causal.LinkID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "link not found"})
		return
	}
	c.JSON(http.StatusOK, link)
}

func (s *Server) updateLink(c *gin.Context) {
	var req updateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	id := causal.LinkID(c.Param("id"))

	s.gate.RLock()
	defer s.gate.RUnlock()

	link, err := s.graph.UpdateLink(id, causal.LinkUpdate{
		Confidence: req.Confidence,
		Strength:   req.Strength,
		Metadata:   req.Metadata,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	s.journalOp(c, persist.OpLinkUpdate, persist.LinkChange{
		ID: id, Confidence: req.Confidence, Strength: req.Strength, Metadata: req.Metadata,
	})
	c.JSON(http.StatusOK, link)
}

func (s *Server) deleteLink(c *gin.Context) {
	id := c.Param("id")

	s.gate.RLock()
	defer s.gate.RUnlock()

	if err := s.graph.DeleteLink(causal.LinkID(id)); err != nil {
		renderError(c, err)
		return
	}
	s.journalOp(c, persist.OpLinkDelete, persist.Deletion{ID: id})
	c.Status(http.StatusNoContent)
}

func (s *Server) traverseForward(c *gin.Context) {
	s.traverse(c, s.graph.TraverseForward)
}

func (s *Server) traverseBackward(c *gin.Context) {
	s.traverse(c, s.graph.TraverseBackward)
}

func (s *Server) traverse(c *gin.Context, walk func([]causal.NodeID, *causal.TraversalOptions) *causal.TraversalResult) {
	var req traverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	opts := &causal.TraversalOptions{
		MaxDepth:           req.MaxDepth,
		MinConfidence:      req.MinConfidence,
		MinChainConfidence: req.MinChainConfidence,
		AllowRevisit:       req.AllowRevisit,
		MaxChains:          req.MaxChains,
	}
	// Server-wide bounds apply when the request leaves them unset.
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = s.cfg.Engine.MaxDepth
	}
	if opts.MaxChains <= 0 {
		opts.MaxChains = s.cfg.Engine.MaxChains
	}

	result := walk(toNodeIDs(req.Seeds), opts)

	resp := traverseResponse{TraversalResult: result}
	if req.Explain {
		resp.Explanations = make([]string, len(result.Chains))
		for i, chain := range result.Chains {
			resp.Explanations[i] = s.graph.ExplainChain(chain)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.graph.Stats())
}

func (s *Server) downloadSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.graph.Snapshot())
}

func (s *Server) archiveSnapshot(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "no archive configured"})
		return
	}
	manifest, err := s.snapshotAndTrim()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, manifest)
}

func (s *Server) restore(c *gin.Context) {
	var snap causal.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	// Restore replaces the whole graph and invalidates the journal, so
	// it takes the gate exclusively.
	s.gate.Lock()
	defer s.gate.Unlock()

	if err := s.graph.Restore(&snap); err != nil {
		renderError(c, err)
		return
	}
	// Archive the restored state first, then drop the journal: it
	// described the pre-restore graph and no longer applies.
	if s.archive != nil {
		if _, err := s.archive.Put(s.graph.Snapshot()); err != nil {
			c.Error(err)
		}
	}
	if s.journal != nil {
		if err := s.journal.Reset(); err != nil {
			c.Error(err)
		}
	}
	nodes, links := s.graph.Len()
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "links": links})
}

func toNodeIDs(ids []string) []causal.NodeID {
	out := make([]causal.NodeID, len(ids))
	for i, id := range ids {
		out[i] = causal.NodeID(id)
	}
	return out
}
