package persist

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/wyrd/pkg/causal"
)

// Key prefixes for archive storage organization.
// Single-byte prefixes keyed by big-endian sequence number.
const (
	prefixSnapshot = byte(0x01) // snapshot:seq -> JSON(causal.Snapshot)
	prefixManifest = byte(0x02) // manifest:seq -> JSON(Manifest)
	prefixLatest   = byte(0x03) // latest -> seq
)

// ErrNoSnapshots is returned by Latest on an empty archive.
var ErrNoSnapshots = errors.New("persist: archive holds no snapshots")

// Options configures the snapshot archive.
type Options struct {
	// DataDir is the directory for archive files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs the archive in memory-only mode. Useful for testing;
	// nothing is persisted.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool
}

// Manifest describes one archived snapshot.
type Manifest struct {
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
	NodeCount int       `json:"nodeCount"`
	LinkCount int       `json:"linkCount"`
	// Digest is the hex BLAKE2b-256 of the snapshot JSON, verified on
	// every read.
	Digest string `json:"digest"`
}

// Archive is a versioned store of graph snapshots on BadgerDB. Every Put
// gets a fresh sequence number; Latest, Get and List read them back with
// digest verification, and Prune bounds history.
//
// Example:
//
//	archive, err := persist.OpenArchive(persist.Options{DataDir: "./data/archive"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer archive.Close()
//
//	manifest, err := archive.Put(g.Snapshot())
//	fmt.Printf("archived snapshot %d\n", manifest.Seq)
type Archive struct {
	db *badger.DB
}

// OpenArchive opens or creates a snapshot archive.
func OpenArchive(opts Options) (*Archive, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	// Snapshot blobs are few and large; keep badger's memory footprint
	// small.
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("persist: opening archive: %w", err)
	}
	return &Archive{db: db}, nil
}

// Put archives a snapshot under the next sequence number and moves the
// latest pointer to it.
func (a *Archive) Put(snap *causal.Snapshot) (Manifest, error) {
	if snap == nil {
		return Manifest{}, fmt.Errorf("persist: nil snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return Manifest{}, fmt.Errorf("persist: encoding snapshot: %w", err)
	}
	digest := blake2b.Sum256(data)

	var manifest Manifest
	err = a.db.Update(func(txn *badger.Txn) error {
		seq, err := latestSeq(txn)
		if err != nil && !errors.Is(err, ErrNoSnapshots) {
			return err
		}
		seq++

		manifest = Manifest{
			Seq:       seq,
			CreatedAt: time.Now(),
			NodeCount: len(snap.Nodes),
			LinkCount: len(snap.Links),
			Digest:    hex.EncodeToString(digest[:]),
		}
		manifestData, err := json.Marshal(manifest)
		if err != nil {
			return fmt.Errorf("persist: encoding manifest: %w", err)
		}

		if err := txn.Set(seqKey(prefixSnapshot, seq), data); err != nil {
			return err
		}
		if err := txn.Set(seqKey(prefixManifest, seq), manifestData); err != nil {
			return err
		}
		return txn.Set([]byte{prefixLatest}, seqBytes(seq))
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("persist: archiving snapshot: %w", err)
	}
	return manifest, nil
}

// Latest returns the most recently archived snapshot, or ErrNoSnapshots.
func (a *Archive) Latest() (*causal.Snapshot, Manifest, error) {
	var seq uint64
	err := a.db.View(func(txn *badger.Txn) error {
		var err error
		seq, err = latestSeq(txn)
		return err
	})
	if err != nil {
		return nil, Manifest{}, err
	}
	return a.Get(seq)
}

// Get returns an archived snapshot by sequence number, verifying its
// digest against the manifest.
func (a *Archive) Get(seq uint64) (*causal.Snapshot, Manifest, error) {
	var snap causal.Snapshot
	var manifest Manifest
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey(prefixManifest, seq))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("persist: snapshot %d: %w", seq, ErrNoSnapshots)
			}
			return err
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &manifest) }); err != nil {
			return fmt.Errorf("persist: decoding manifest %d: %w", seq, err)
		}

		item, err = txn.Get(seqKey(prefixSnapshot, seq))
		if err != nil {
			return fmt.Errorf("persist: snapshot %d data missing: %w", seq, err)
		}
		return item.Value(func(v []byte) error {
			digest := blake2b.Sum256(v)
			if hex.EncodeToString(digest[:]) != manifest.Digest {
				return fmt.Errorf("persist: snapshot %d digest mismatch", seq)
			}
			return json.Unmarshal(v, &snap)
		})
	})
	if err != nil {
		return nil, Manifest{}, err
	}
	return &snap, manifest, nil
}

// List returns every manifest in ascending sequence order.
func (a *Archive) List() ([]Manifest, error) {
	var manifests []Manifest
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixManifest}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var m Manifest
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &m) }); err != nil {
				return fmt.Errorf("persist: decoding manifest: %w", err)
			}
			manifests = append(manifests, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifests, nil
}

// Prune removes all but the newest keep snapshots, returning how many
// were deleted. The latest pointer is never pruned away.
func (a *Archive) Prune(keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	manifests, err := a.List()
	if err != nil {
		return 0, err
	}
	if len(manifests) <= keep {
		return 0, nil
	}

	doomed := manifests[:len(manifests)-keep]
	err = a.db.Update(func(txn *badger.Txn) error {
		for _, m := range doomed {
			if err := txn.Delete(seqKey(prefixSnapshot, m.Seq)); err != nil {
				return err
			}
			if err := txn.Delete(seqKey(prefixManifest, m.Seq)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("persist: pruning archive: %w", err)
	}
	return len(doomed), nil
}

// Close closes the underlying store.
func (a *Archive) Close() error {
	return a.db.Close()
}

func latestSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get([]byte{prefixLatest})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, ErrNoSnapshots
		}
		return 0, err
	}
	var seq uint64
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("persist: malformed latest pointer")
		}
		seq = binary.BigEndian.Uint64(v)
		return nil
	})
	return seq, err
}

func seqKey(prefix byte, seq uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

func seqBytes(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
