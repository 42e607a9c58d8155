// Package walog implements the append-only, CRC-checked write-ahead log
// backing Raft: magic-framed entries, truncate-suffix, and a resynchronizing
// recovery scan that returns the longest valid prefix of a possibly-torn file.
package walog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// WAL is a single append-only log file plus its sibling hard-state file.
// It is owned by exactly one RaftNode; concurrent open of the same path is
// undefined, per the data-model ownership rule.
type WAL struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	entries  []Entry // index 1..len(entries); entries[i-1] has Index == i
	offsets  []int64 // byte offset of each entry's frame, 0-based parallel to entries
	fileSize int64

	hsPath string
	log    *slog.Logger
}

// Open opens (creating if absent) the WAL at path, replaying any existing
// content via the resynchronizing recovery scan described on recover.
func Open(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("walog: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: open %s: %w", path, err)
	}

	w := &WAL{
		path:   path,
		file:   f,
		hsPath: path + ".hardstate",
		log:    slog.With("component", "walog", "path", path),
	}

	if err := w.recover(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// recover performs the resynchronizing scan described in the WAL's
// algorithmic contract: read from offset 0, and on any corruption (magic
// mismatch, oversize length, CRC mismatch) slide forward byte-by-byte until
// the next MAGIC realigns. Frames that parse cleanly after a resync are
// kept as the following entries; bytes after the last valid frame (a torn
// tail or unresynced corruption) are discarded and the file is truncated
// to match, so a subsequent append starts from a clean boundary.
func (w *WAL) recover() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("walog: read for recovery: %w", err)
	}

	var offset int64
	var index uint64
	for offset < int64(len(data)) {
		payload, consumed, result := readFrameAt(data, offset)
		switch result {
		case readOK:
			index++
			term, typ, body, derr := decodeEntry(payload)
			if derr != nil {
				// A structurally valid, CRC-correct frame with an
				// undecodable payload is still corruption: resync past it.
				w.log.Warn("wal: undecodable entry during recovery, resyncing", "offset", offset, "err", derr)
				offset = resyncFrom(data, offset)
				index--
				continue
			}
			w.entries = append(w.entries, Entry{Index: index, Term: term, Type: typ, Data: body})
			w.offsets = append(w.offsets, offset)
			offset += consumed
		case readEOF:
			offset = int64(len(data))
		case readCorrupt:
			w.log.Warn("wal: corruption detected during recovery, resyncing", "offset", offset)
			offset = resyncFrom(data, offset)
		}
	}

	w.fileSize = int64(0)
	if n := len(w.offsets); n > 0 {
		last := w.offsets[n-1]
		w.fileSize = last + frameLen(len(encodeEntry(w.entries[n-1])))
	}
	// Durably drop any trailing garbage (a torn tail or unresynced corruption)
	// so the file on disk matches the validated in-memory prefix exactly.
	if w.fileSize != fileLen(data) {
		if err := w.file.Truncate(w.fileSize); err != nil {
			return fmt.Errorf("walog: truncate torn tail: %w", err)
		}
	}
	if _, err := w.file.Seek(w.fileSize, 0); err != nil {
		return fmt.Errorf("walog: seek to end: %w", err)
	}
	return nil
}

func fileLen(data []byte) int64 { return int64(len(data)) }

// Append writes one entry, assigns it the next index, and syncs before
// returning, so a crash immediately after Append never loses the entry.
func (w *WAL) Append(term uint64, typ EntryType, data []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, err := w.appendLocked(term, typ, data)
	if err != nil {
		return 0, err
	}
	if err := fdatasync(w.file); err != nil {
		return 0, fmt.Errorf("walog: sync after append: %w", err)
	}
	return idx, nil
}

// AppendBatch writes every entry and issues a single sync at the end: the
// batch is atomic in durability terms, modulo a possibly torn tail entry
// that recovery's resync will discard on restart.
func (w *WAL) AppendBatch(entries []struct {
	Term uint64
	Type EntryType
	Data []byte
}) ([]uint64, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	indices := make([]uint64, 0, len(entries))
	for _, e := range entries {
		idx, err := w.appendLocked(e.Term, e.Type, e.Data)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	if err := fdatasync(w.file); err != nil {
		return nil, fmt.Errorf("walog: sync after append_batch: %w", err)
	}
	return indices, nil
}

func (w *WAL) appendLocked(term uint64, typ EntryType, data []byte) (uint64, error) {
	payload := encodeEntry(Entry{Term: term, Type: typ, Data: data})
	offset := w.fileSize
	n, err := writeFrame(w.file, payload)
	if err != nil {
		return 0, fmt.Errorf("walog: write entry: %w", err)
	}
	w.fileSize += int64(n)

	index := uint64(len(w.entries)) + 1
	w.entries = append(w.entries, Entry{Index: index, Term: term, Type: typ, Data: append([]byte(nil), data...)})
	w.offsets = append(w.offsets, offset)
	return index, nil
}

// ReadAll returns every entry currently known to be valid, in index order.
func (w *WAL) ReadAll() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Get returns the entry at index (1-based), or false if out of range.
func (w *WAL) Get(index uint64) (Entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index == 0 || index > uint64(len(w.entries)) {
		return Entry{}, false
	}
	return w.entries[index-1], true
}

// LastIndex returns the index of the most recent entry, or 0 if the log is empty.
func (w *WAL) LastIndex() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uint64(len(w.entries))
}

// LastLogInfo returns (index, term) of the most recent entry, or (0, 0) for an empty log.
func (w *WAL) LastLogInfo() (index, term uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return 0, 0
	}
	last := w.entries[len(w.entries)-1]
	return last.Index, last.Term
}

// TruncateSuffix discards all entries at index >= i (inclusive) and durably
// rewrites the file to match. Callers must hold exclusive access to the WAL
// (the RaftNode serializes this against concurrent Append).
func (w *WAL) TruncateSuffix(i uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i == 0 {
		return w.rewriteLocked(0)
	}
	if i > uint64(len(w.entries)) {
		return nil
	}
	return w.rewriteLocked(i - 1) // keep entries[0:i-1], i.e. indices 1..i-1
}

// rewriteLocked truncates the file to the byte offset of keepCount entries
// and truncates the in-memory slices to match.
func (w *WAL) rewriteLocked(keepCount int) error {
	var newSize int64
	if keepCount > 0 {
		newSize = w.offsets[keepCount-1] + frameLen(len(encodeEntry(w.entries[keepCount-1])))
	}
	if err := w.file.Truncate(newSize); err != nil {
		return fmt.Errorf("walog: truncate_suffix: %w", err)
	}
	if err := fdatasync(w.file); err != nil {
		return fmt.Errorf("walog: sync after truncate_suffix: %w", err)
	}
	if _, err := w.file.Seek(newSize, 0); err != nil {
		return fmt.Errorf("walog: seek after truncate_suffix: %w", err)
	}
	w.entries = w.entries[:keepCount]
	w.offsets = w.offsets[:keepCount]
	w.fileSize = newSize
	return nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Path returns the WAL's backing file path, for diagnostics.
func (w *WAL) Path() string { return w.path }
