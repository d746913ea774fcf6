// Package persist is the durable-storage collaborator around the causal
// graph: plain snapshot files, a badger-backed snapshot archive, an
// append-only mutation journal and the recovery flow that stitches them
// back into a live graph. The graph itself performs no I/O; everything
// here consumes or produces its in-memory Snapshot.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orneryd/wyrd/pkg/causal"
)

// Save writes a snapshot to a file: temp file, fsync, atomic rename, so a
// crash mid-write never leaves a torn snapshot at the target path.
func Save(path string, snap *causal.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("persist: nil snapshot")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("persist: creating snapshot directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("persist: creating snapshot file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist: encoding snapshot: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist: syncing snapshot: %w", err)
	}
	file.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: renaming snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot file written by Save. The result is not validated
// here; causal.(*Graph).Restore performs full validation.
func Load(path string) (*causal.Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persist: opening snapshot: %w", err)
	}
	defer file.Close()

	var snap causal.Snapshot
	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("persist: decoding snapshot: %w", err)
	}
	return &snap, nil
}
