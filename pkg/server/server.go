// Package server exposes a causal graph over HTTP: CRUD on nodes and
// links, forward/backward traversal, statistics and snapshot management.
// It wires the optional persistence collaborators (journal, archive) to
// the engine: mutations are journaled as they happen and the graph is
// periodically snapshotted to the archive.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orneryd/wyrd/pkg/causal"
	"github.com/orneryd/wyrd/pkg/config"
	"github.com/orneryd/wyrd/pkg/persist"
)

// Server is the HTTP surface over a causal graph.
type Server struct {
	cfg     *config.Config
	graph   *causal.Graph
	archive *persist.Archive
	journal *persist.Journal

	router *gin.Engine
	server *http.Server

	// gate orders mutations (graph write plus the matching journal
	// append) against snapshot capture plus journal reset. The journal
	// is only ever truncated when every entry in it is contained in the
	// archived snapshot, so an acknowledged write can never be lost to
	// a concurrent snapshot.
	gate sync.RWMutex

	stop chan struct{}
	bg   sync.WaitGroup
}

// New creates a server around a graph. archive and journal may be nil for
// a purely in-memory service.
func New(cfg *config.Config, g *causal.Graph, archive *persist.Archive, journal *persist.Journal) *Server {
	return &Server{
		cfg:     cfg,
		graph:   g,
		archive: archive,
		journal: journal,
		stop:    make(chan struct{}),
	}
}

// Setup builds the router, middleware and routes. Call before Start.
func (s *Server) Setup() {
	gin.SetMode(s.cfg.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/nodes", s.createNode)
		v1.GET("/nodes", s.listNodes)
		v1.GET("/nodes/:id", s.getNode)
		v1.PATCH("/nodes/:id", s.updateNode)
		v1.DELETE("/nodes/:id", s.deleteNode)

		v1.POST("/links", s.createLink)
		v1.GET("/links/:id", s.getLink)
		v1.PATCH("/links/:id", s.updateLink)
		v1.DELETE("/links/:id", s.deleteLink)

		v1.POST("/traverse/forward", s.traverseForward)
		v1.POST("/traverse/backward", s.traverseBackward)

		v1.GET("/stats", s.stats)
		v1.GET("/snapshot", s.downloadSnapshot)
		v1.POST("/snapshot", s.archiveSnapshot)
		v1.POST("/restore", s.restore)
	}
}

// Start begins serving and, when an archive is configured, starts the
// background snapshot loop. It blocks until the listener stops.
func (s *Server) Start() error {
	if s.archive != nil && s.cfg.Storage.SnapshotEvery > 0 {
		s.bg.Add(1)
		go s.snapshotLoop()
	}

	log.Printf("wyrd: serving on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully and waits for background work.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stop)
	s.bg.Wait()
	return s.server.Shutdown(ctx)
}

// snapshotLoop periodically archives the graph and resets the journal so
// the log only covers mutations since the last snapshot.
func (s *Server) snapshotLoop() {
	defer s.bg.Done()

	ticker := time.NewTicker(s.cfg.Storage.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			// Final snapshot on the way out.
			s.snapshotNow()
			return
		case <-ticker.C:
			s.snapshotNow()
		}
	}
}

// snapshotAndTrim archives the current graph and truncates the journal as
// one unit under the write gate, so no mutation can land between the
// snapshot capture and the reset.
func (s *Server) snapshotAndTrim() (persist.Manifest, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	manifest, err := s.archive.Put(s.graph.Snapshot())
	if err != nil {
		return persist.Manifest{}, err
	}
	if s.journal != nil {
		if err := s.journal.Reset(); err != nil {
			log.Printf("wyrd: journal reset failed: %v", err)
		}
	}
	return manifest, nil
}

func (s *Server) snapshotNow() {
	manifest, err := s.snapshotAndTrim()
	if err != nil {
		log.Printf("wyrd: background snapshot failed: %v", err)
		return
	}
	if keep := s.cfg.Storage.KeepSnapshots; keep > 0 {
		if _, err := s.archive.Prune(keep); err != nil {
			log.Printf("wyrd: archive prune failed: %v", err)
		}
	}
	log.Printf("wyrd: archived snapshot %d (%d nodes, %d links)",
		manifest.Seq, manifest.NodeCount, manifest.LinkCount)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
