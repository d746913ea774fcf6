// Package main provides the wyrd CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/wyrd/pkg/causal"
	"github.com/orneryd/wyrd/pkg/config"
	"github.com/orneryd/wyrd/pkg/persist"
	"github.com/orneryd/wyrd/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wyrd",
		Short: "Wyrd - Causal Reasoning Engine",
		Long: `Wyrd is an in-memory causal reasoning engine written in Go.

It stores cause-and-effect knowledge as a directed acyclic hypergraph:
links connect sets of causes to sets of effects, weighted by confidence
and strength. The engine rejects any link that would close a causal loop
and answers "what follows from X?" and "what explains Y?" by bounded
confidence-weighted traversal.

Features:
  • Multi-cause, multi-effect links (hyperedges)
  • Cycle-safe mutation with a demonstrating path on rejection
  • Forward (effects) and backward (root cause) traversal
  • Snapshots, a write journal and crash recovery
  • HTTP API for the whole surface`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Wyrd v%s (%s)\n", version, commit)
		},
	})

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Wyrd HTTP server",
		Long:  "Recover the graph from disk and serve the HTTP API until interrupted",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to config file (YAML)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Wyrd data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	// Export command
	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export the recovered graph to a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().String("config", "", "Path to config file (YAML)")
	exportCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.AddCommand(exportCmd)

	// Import command
	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a snapshot file and archive it",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().String("config", "", "Path to config file (YAML)")
	importCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.AddCommand(importCmd)

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print statistics for the recovered graph",
		RunE:  runStats,
	}
	statsCmd.Flags().String("config", "", "Path to config file (YAML)")
	statsCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration in precedence order: defaults, config
// file, environment, flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	cfg.LoadFromEnv()

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil && port > 0 {
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openState opens the archive and journal under the data directory and
// recovers the graph from them.
func openState(cfg *config.Config) (*causal.Graph, *persist.Archive, *persist.Journal, error) {
	g := causal.New(&causal.Config{
		SoftCreateBudget: cfg.Engine.SoftCreateBudget,
		Warnings:         warnSink(cfg),
	})

	archive, err := persist.OpenArchive(persist.Options{
		DataDir:    filepath.Join(cfg.Storage.DataDir, "archive"),
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening archive: %w", err)
	}

	journal, err := persist.OpenJournal(filepath.Join(cfg.Storage.DataDir, "journal.log"))
	if err != nil {
		archive.Close()
		return nil, nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	journal.Warnings = warnSink(cfg)

	result, err := persist.Recover(g, archive, journal)
	if err != nil {
		journal.Close()
		archive.Close()
		return nil, nil, nil, fmt.Errorf("recovering graph: %w", err)
	}
	if result.FromSnapshot != nil {
		fmt.Printf("📂 Recovered snapshot %d, replayed %d journal entries\n",
			result.FromSnapshot.Seq, result.Replayed)
	} else if result.Replayed > 0 {
		fmt.Printf("📂 Replayed %d journal entries\n", result.Replayed)
	}

	return g, archive, journal, nil
}

func warnSink(cfg *config.Config) causal.WarningSink {
	if !cfg.Logging.Warnings {
		return nil
	}
	return causal.WarnFunc(func(msg string) {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", msg)
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("🚀 Starting Wyrd v%s\n", version)
	fmt.Printf("   %s\n", cfg)
	fmt.Println()

	g, archive, journal, err := openState(cfg)
	if err != nil {
		return err
	}
	defer archive.Close()
	defer journal.Close()

	srv := server.New(cfg, g, archive, journal)
	srv.Setup()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	nodes, links := g.Len()
	fmt.Println("✅ Wyrd is ready!")
	fmt.Printf("   Graph:    %d nodes, %d links\n", nodes, links)
	fmt.Printf("   API:      http://%s:%d/api/v1\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Health:   http://%s:%d/health\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-sigChan:
	}

	fmt.Println("\n🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	fmt.Println("✅ Server stopped gracefully")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("📂 Initializing Wyrd data directory in %s\n", dataDir)

	if err := os.MkdirAll(filepath.Join(dataDir, "archive"), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configPath := filepath.Join(dataDir, "wyrd.yaml")
	configContent := `# Wyrd Configuration
storage:
  data_dir: ` + dataDir + `
  sync_writes: true
  snapshot_every: 5m
  keep_snapshots: 10

server:
  host: 0.0.0.0
  port: 8470
  mode: release

engine:
  soft_create_budget: 1ms
  max_depth: 5
  max_chains: 100

logging:
  warnings: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("✅ Data directory initialized")
	fmt.Printf("   Config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Start the server:  wyrd serve --config", configPath)
	fmt.Println("  2. Import data:       wyrd import snapshot.json --config", configPath)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	file := args[0]
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	g, archive, journal, err := openState(cfg)
	if err != nil {
		return err
	}
	defer archive.Close()
	defer journal.Close()

	snap := g.Snapshot()
	if err := persist.Save(file, snap); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	fmt.Printf("✅ Exported %d nodes, %d links to %s\n",
		snap.Metadata.NodeCount, snap.Metadata.LinkCount, file)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	file := args[0]
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	snap, err := persist.Load(file)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	g, archive, journal, err := openState(cfg)
	if err != nil {
		return err
	}
	defer archive.Close()
	defer journal.Close()

	fmt.Printf("📥 Importing %s\n", file)
	if err := g.Restore(snap); err != nil {
		return fmt.Errorf("restoring snapshot: %w", err)
	}

	manifest, err := archive.Put(g.Snapshot())
	if err != nil {
		return fmt.Errorf("archiving snapshot: %w", err)
	}
	if err := journal.Reset(); err != nil {
		return fmt.Errorf("resetting journal: %w", err)
	}

	nodes, links := g.Len()
	fmt.Printf("✅ Imported %d nodes, %d links (archived as snapshot %d)\n",
		nodes, links, manifest.Seq)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	g, archive, journal, err := openState(cfg)
	if err != nil {
		return err
	}
	defer archive.Close()
	defer journal.Close()

	stats := g.Stats()
	fmt.Println("📊 Graph Statistics:")
	fmt.Printf("  Nodes:  %d\n", stats.Nodes)
	fmt.Printf("  Links:  %d\n", stats.Links)
	for typ, n := range stats.NodesByType {
		fmt.Printf("    %s: %d\n", typ, n)
	}
	fmt.Printf("  Roots:  %d\n", stats.Roots)
	fmt.Printf("  Leaves: %d\n", stats.Leaves)
	fmt.Printf("  Avg confidence: %.2f\n", stats.AvgConfidence)
	fmt.Printf("  Avg strength:   %.2f\n", stats.AvgStrength)
	return nil
}
