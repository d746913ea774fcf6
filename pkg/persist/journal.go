package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orneryd/wyrd/pkg/causal"
)

// Op identifies a journaled mutation.
type Op string

// Journaled operations, one per mutating graph call.
const (
	OpNodeCreate Op = "node-create"
	OpNodeUpdate Op = "node-update"
	OpNodeDelete Op = "node-delete"
	OpLinkCreate Op = "link-create"
	OpLinkUpdate Op = "link-update"
	OpLinkDelete Op = "link-delete"
)

// Entry is one journaled mutation. Data holds the operation payload as
// JSON; Checksum covers Data so a torn tail write is detectable.
type Entry struct {
	Seq      uint64          `json:"seq"`
	At       time.Time       `json:"at"`
	Op       Op              `json:"op"`
	Data     json.RawMessage `json:"data"`
	Checksum uint32          `json:"checksum"`
}

// NodeChange is the payload for OpNodeUpdate: the target id plus the
// partial update, pointer fields absent when unchanged.
type NodeChange struct {
	ID       causal.NodeID    `json:"id"`
	Label    *string          `json:"label,omitempty"`
	Type     *causal.NodeType `json:"type,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// LinkChange is the payload for OpLinkUpdate.
type LinkChange struct {
	ID         causal.LinkID  `json:"id"`
	Confidence *float64       `json:"confidence,omitempty"`
	Strength   *float64       `json:"strength,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Deletion is the payload for OpNodeDelete and OpLinkDelete.
type Deletion struct {
	ID string `json:"id"`
}

// ErrJournalClosed is returned by operations on a closed journal.
var ErrJournalClosed = errors.New("persist: journal closed")

// Journal is an append-only JSON log of graph mutations. Replaying it
// over the last archived snapshot reconstructs every write made since.
//
// Entries are framed as a stream of JSON objects. A torn or corrupted
// entry ends the readable portion of the log: Replay stops there, reports
// it through the optional Warnings sink and keeps everything before it.
type Journal struct {
	// Warnings receives advisory notes (corrupt tail entries). Nil
	// discards them.
	Warnings causal.WarningSink

	mu     sync.Mutex
	path   string
	file   *os.File
	enc    *json.Encoder
	seq    uint64
	closed bool
}

// OpenJournal opens or creates a journal file and positions the sequence
// counter after the last intact entry.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("persist: creating journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("persist: opening journal: %w", err)
	}

	j := &Journal{path: path, file: file, enc: json.NewEncoder(file)}
	entries, _ := readEntries(path)
	if len(entries) > 0 {
		j.seq = entries[len(entries)-1].Seq
	}
	return j, nil
}

// Append journals one mutation. The payload is marshaled into the entry
// and checksummed; the write is fsynced before returning.
func (j *Journal) Append(op Op, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("persist: marshaling journal payload: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}

	j.seq++
	entry := Entry{
		Seq:      j.seq,
		At:       time.Now(),
		Op:       op,
		Data:     data,
		Checksum: checksum(data),
	}
	if err := j.enc.Encode(entry); err != nil {
		return fmt.Errorf("persist: writing journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("persist: syncing journal: %w", err)
	}
	return nil
}

// Replay feeds every intact entry, in order, to fn. It stops at the first
// corrupt entry (bad framing or checksum mismatch) with a warning, and
// stops with an error if fn fails. Returns the number of entries applied.
func (j *Journal) Replay(fn func(Entry) error) (int, error) {
	j.mu.Lock()
	path := j.path
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return 0, ErrJournalClosed
	}

	entries, corrupt := readEntries(path)
	if corrupt {
		j.warn("journal %s has a corrupt tail, replaying %d intact entries", path, len(entries))
	}

	for i, entry := range entries {
		if err := fn(entry); err != nil {
			return i, fmt.Errorf("persist: replaying entry %d (%s): %w", entry.Seq, entry.Op, err)
		}
	}
	return len(entries), nil
}

// Reset truncates the journal. Call it after the graph has been
// snapshotted, so the log only ever covers mutations since the last
// snapshot.
func (j *Journal) Reset() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("persist: truncating journal: %w", err)
	}
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("persist: rewinding journal: %w", err)
	}
	j.seq = 0
	return nil
}

// Seq returns the sequence of the last appended entry.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return fmt.Errorf("persist: syncing journal on close: %w", err)
	}
	return j.file.Close()
}

func (j *Journal) warn(format string, args ...any) {
	if j.Warnings != nil {
		j.Warnings.Warn(fmt.Sprintf(format, args...))
	}
}

// readEntries reads intact entries from the start of the log, reporting
// whether it stopped early on corruption.
func readEntries(path string) (entries []Entry, corrupt bool) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if err == io.EOF {
				return entries, false
			}
			return entries, true
		}
		if entry.Checksum != checksum(entry.Data) {
			return entries, true
		}
		entries = append(entries, entry)
	}
}

// checksum computes a simple rolling checksum.
func checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum = (sum >> 8) ^ uint32(b)
		sum ^= sum << 16
	}
	return sum
}
