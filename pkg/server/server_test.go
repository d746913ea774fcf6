package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/wyrd/pkg/causal"
	"github.com/orneryd/wyrd/pkg/config"
	"github.com/orneryd/wyrd/pkg/persist"
)

func newTestServer(t *testing.T) (*Server, *causal.Graph) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Mode = "test"
	g := causal.New(&causal.Config{})
	s := New(cfg, g, nil, nil)
	s.Setup()
	return s, g
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func seedNode(t *testing.T, g *causal.Graph, id, label string) {
	t.Helper()
	_, err := g.CreateNode(&causal.Node{
		ID:    causal.NodeID(id),
		Label: label,
		Type:  causal.NodeState,
	})
	require.NoError(t, err)
}

func seedRain(t *testing.T, g *causal.Graph) (first, second causal.LinkID) {
	t.Helper()
	seedNode(t, g, "rain", "Rain")
	seedNode(t, g, "wet-ground", "Wet Ground")
	seedNode(t, g, "slippery-floor", "Slippery Floor")

	l1, err := g.CreateLink(&causal.Link{
		Causes: []causal.NodeID{"rain"}, Effects: []causal.NodeID{"wet-ground"},
		Confidence: 0.9, Strength: 0.8,
	})
	require.NoError(t, err)
	l2, err := g.CreateLink(&causal.Link{
		Causes: []causal.NodeID{"wet-ground"}, Effects: []causal.NodeID{"slippery-floor"},
		Confidence: 0.7, Strength: 0.6,
	})
	require.NoError(t, err)
	return l1.ID, l2.ID
}

func TestHealth(t *testing.T) {
	s, g := newTestServer(t)
	seedRain(t, g)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 3, body["nodes"])
	assert.EqualValues(t, 2, body["links"])
}

func TestNodeEndpoints(t *testing.T) {
	s, g := newTestServer(t)

	t.Run("create", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/nodes", h{
			"id": "rain", "label": "Rain", "type": "state",
		})
		require.Equal(t, http.StatusCreated, w.Code)
		node := decode[causal.Node](t, w)
		assert.Equal(t, causal.NodeID("rain"), node.ID)
		assert.False(t, node.CreatedAt.IsZero())
	})

	t.Run("create duplicate conflicts", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/nodes", h{
			"id": "rain", "label": "Rain", "type": "state",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("create invalid type rejected", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/nodes", h{
			"id": "x", "type": "weather",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/v1/nodes/rain", nil)
		require.Equal(t, http.StatusOK, w.Code)
		node := decode[causal.Node](t, w)
		assert.Equal(t, "Rain", node.Label)
	})

	t.Run("get missing", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/v1/nodes/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("update label only", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPatch, "/api/v1/nodes/rain", h{
			"label": "Heavy Rain",
		})
		require.Equal(t, http.StatusOK, w.Code)
		node := decode[causal.Node](t, w)
		assert.Equal(t, "Heavy Rain", node.Label)
		assert.Equal(t, causal.NodeState, node.Type)
	})

	t.Run("update missing", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPatch, "/api/v1/nodes/nope", h{"label": "x"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list by type", func(t *testing.T) {
		seedNode(t, g, "other", "Other")
		w := doJSON(t, s, http.MethodGet, "/api/v1/nodes?type=state", nil)
		require.Equal(t, http.StatusOK, w.Code)
		nodes := decode[[]*causal.Node](t, w)
		assert.Len(t, nodes, 2)
	})

	t.Run("delete", func(t *testing.T) {
		w := doJSON(t, s, http.MethodDelete, "/api/v1/nodes/other", nil)
		require.Equal(t, http.StatusNoContent, w.Code)
		w = doJSON(t, s, http.MethodDelete, "/api/v1/nodes/other", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLinkEndpoints(t *testing.T) {
	s, g := newTestServer(t)
	seedNode(t, g, "rain", "Rain")
	seedNode(t, g, "wet-ground", "Wet Ground")

	var linkID string

	t.Run("create", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/links", h{
			"causes": []string{"rain"}, "effects": []string{"wet-ground"},
			"confidence": 0.9, "strength": 0.8,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		link := decode[causal.Link](t, w)
		assert.NotEmpty(t, link.ID)
		linkID = string(link.ID)
	})

	t.Run("missing endpoint is unprocessable", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/links", h{
			"causes": []string{"rain"}, "effects": []string{"nope"},
			"confidence": 0.5, "strength": 0.5,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("out of range confidence rejected", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/links", h{
			"causes": []string{"rain"}, "effects": []string{"wet-ground"},
			"confidence": 1.5, "strength": 0.5,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("cycle rejected with path", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/links", h{
			"causes": []string{"wet-ground"}, "effects": []string{"rain"},
			"confidence": 0.5, "strength": 0.5,
		})
		require.Equal(t, http.StatusConflict, w.Code)
		body := decode[errorResponse](t, w)
		assert.NotEmpty(t, body.Path)
	})

	t.Run("update scores", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPatch, "/api/v1/links/"+linkID, h{
			"confidence": 0.4,
		})
		require.Equal(t, http.StatusOK, w.Code)
		link := decode[causal.Link](t, w)
		assert.Equal(t, 0.4, link.Confidence)
		assert.Equal(t, 0.8, link.Strength)
	})

	t.Run("get", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/v1/links/"+linkID, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		w := doJSON(t, s, http.MethodDelete, "/api/v1/links/"+linkID, nil)
		require.Equal(t, http.StatusNoContent, w.Code)
		w = doJSON(t, s, http.MethodGet, "/api/v1/links/"+linkID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTraverseEndpoints(t *testing.T) {
	s, g := newTestServer(t)
	seedRain(t, g)

	t.Run("forward", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/traverse/forward", h{
			"seeds": []string{"rain"},
		})
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[traverseResponse](t, w)
		require.Len(t, res.Chains, 1)
		assert.InDelta(t, 0.63, res.Confidence, 1e-9)
		assert.Empty(t, res.Explanations)
	})

	t.Run("backward with explanations", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/traverse/backward", h{
			"seeds": []string{"slippery-floor"}, "explain": true,
		})
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[traverseResponse](t, w)
		require.Len(t, res.Chains, 1)
		require.Len(t, res.Explanations, 1)
		assert.Contains(t, res.Explanations[0], "Rain -> Wet Ground")
	})

	t.Run("min confidence filters", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/traverse/forward", h{
			"seeds": []string{"rain"}, "minConfidence": 0.8,
		})
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[traverseResponse](t, w)
		require.Len(t, res.Chains, 1)
		assert.Equal(t, 1, res.Chains[0].Hops)
	})

	t.Run("missing seeds field rejected", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/traverse/forward", h{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown seed warns", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/traverse/forward", h{
			"seeds": []string{"nope"},
		})
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[traverseResponse](t, w)
		assert.Empty(t, res.Chains)
		assert.NotEmpty(t, res.Warnings)
	})

	t.Run("server depth default applies", func(t *testing.T) {
		s.cfg.Engine.MaxDepth = 1
		defer func() { s.cfg.Engine.MaxDepth = config.DefaultConfig().Engine.MaxDepth }()

		w := doJSON(t, s, http.MethodPost, "/api/v1/traverse/forward", h{
			"seeds": []string{"rain"},
		})
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[traverseResponse](t, w)
		require.Len(t, res.Chains, 1)
		assert.Equal(t, 1, res.Chains[0].Hops)
	})
}

func TestStatsEndpoint(t *testing.T) {
	s, g := newTestServer(t)
	seedRain(t, g)

	w := doJSON(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[causal.GraphStats](t, w)
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, 2, stats.Links)
	assert.Equal(t, 1, stats.Roots)
	assert.Equal(t, 1, stats.Leaves)
}

func TestSnapshotEndpoints(t *testing.T) {
	s, g := newTestServer(t)
	seedRain(t, g)

	t.Run("download and restore round trip", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/v1/snapshot", nil)
		require.Equal(t, http.StatusOK, w.Code)
		snap := decode[causal.Snapshot](t, w)
		assert.Len(t, snap.Nodes, 3)

		require.NoError(t, g.DeleteNode("rain"))

		w = doJSON(t, s, http.MethodPost, "/api/v1/restore", snap)
		require.Equal(t, http.StatusOK, w.Code)

		nodes, links := g.Len()
		assert.Equal(t, 3, nodes)
		assert.Equal(t, 2, links)
	})

	t.Run("restore rejects bad snapshot", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/restore", h{
			"metadata": h{"version": "9.9"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("archive without store is unavailable", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/snapshot", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestArchiveSnapshotEndpoint(t *testing.T) {
	archive, err := persist.OpenArchive(persist.Options{InMemory: true})
	require.NoError(t, err)
	defer archive.Close()

	cfg := config.DefaultConfig()
	cfg.Server.Mode = "test"
	g := causal.New(&causal.Config{})
	s := New(cfg, g, archive, nil)
	s.Setup()
	seedRain(t, g)

	w := doJSON(t, s, http.MethodPost, "/api/v1/snapshot", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	manifest := decode[persist.Manifest](t, w)
	assert.Equal(t, uint64(1), manifest.Seq)
	assert.Equal(t, 3, manifest.NodeCount)

	got, _, err := archive.Get(manifest.Seq)
	require.NoError(t, err)
	assert.Len(t, got.Links, 2)
}

func TestMutationsAreJournaled(t *testing.T) {
	journal, err := persist.OpenJournal(t.TempDir() + "/journal.log")
	require.NoError(t, err)
	defer journal.Close()

	cfg := config.DefaultConfig()
	cfg.Server.Mode = "test"
	g := causal.New(&causal.Config{})
	s := New(cfg, g, nil, journal)
	s.Setup()

	w := doJSON(t, s, http.MethodPost, "/api/v1/nodes", h{
		"id": "rain", "label": "Rain", "type": "state",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, s, http.MethodPost, "/api/v1/nodes", h{
		"id": "wet-ground", "label": "Wet Ground", "type": "state",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, s, http.MethodPost, "/api/v1/links", h{
		"causes": []string{"rain"}, "effects": []string{"wet-ground"},
		"confidence": 0.9, "strength": 0.8,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Failed mutations must not be journaled.
	w = doJSON(t, s, http.MethodPost, "/api/v1/nodes", h{
		"id": "rain", "label": "Rain", "type": "state",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, uint64(3), journal.Seq())

	// The journal replays into an equivalent graph.
	replayed := causal.New(&causal.Config{})
	n, err := journal.Replay(func(e persist.Entry) error {
		return persist.Apply(replayed, e)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	nodes, links := replayed.Len()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, links)
}

func TestSnapshotKeepsConcurrentWrites(t *testing.T) {
	archive, err := persist.OpenArchive(persist.Options{InMemory: true})
	require.NoError(t, err)
	defer archive.Close()

	journal, err := persist.OpenJournal(filepath.Join(t.TempDir(), "journal.log"))
	require.NoError(t, err)
	defer journal.Close()

	cfg := config.DefaultConfig()
	cfg.Server.Mode = "test"
	g := causal.New(&causal.Config{})
	s := New(cfg, g, archive, journal)
	s.Setup()

	// Hammer node creation while snapshots archive and reset the
	// journal underneath. Every acknowledged 201 must survive a full
	// recovery from archive + journal afterwards.
	const writers, perWriter = 4, 25

	done := make(chan struct{})
	var snapWG sync.WaitGroup
	snapWG.Add(1)
	go func() {
		defer snapWG.Done()
		for {
			select {
			case <-done:
				return
			default:
				s.snapshotNow()
			}
		}
	}()

	var writeWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writeWG.Add(1)
		go func(w int) {
			defer writeWG.Done()
			for i := 0; i < perWriter; i++ {
				body := fmt.Sprintf(`{"id":"node-%d-%d","label":"n","type":"state"}`, w, i)
				req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", strings.NewReader(body))
				req.Header.Set("Content-Type", "application/json")
				rec := httptest.NewRecorder()
				s.router.ServeHTTP(rec, req)
				if rec.Code != http.StatusCreated {
					t.Errorf("create node-%d-%d: got status %d", w, i, rec.Code)
				}
			}
		}(w)
	}
	writeWG.Wait()
	close(done)
	snapWG.Wait()

	recovered := causal.New(&causal.Config{})
	_, err = persist.Recover(recovered, archive, journal)
	require.NoError(t, err)

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			id := causal.NodeID(fmt.Sprintf("node-%d-%d", w, i))
			_, ok := recovered.GetNode(id)
			assert.True(t, ok, "acknowledged write %s must survive recovery", id)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/nodes", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// h is shorthand for ad-hoc JSON request bodies.
type h = map[string]any
