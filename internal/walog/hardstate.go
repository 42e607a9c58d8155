package walog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// HardState is the small slice of Raft state that must be durable before a
// node casts a vote or steps up: the current term and who it voted for.
// It is persisted in a sibling file to the log itself, not interleaved with
// log frames, so a vote can be recorded without touching the log's
// append-only tail.
type HardState struct {
	CurrentTerm uint64
	VotedFor    string // empty if no vote cast this term
}

const hardStateMagic uint32 = 0xCE11A57E

// SaveHardState durably persists state, overwriting any previous value.
// Callers must call this before responding to a vote request or recording
// a step-up to leader, per the Raft safety requirement.
func (w *WAL) SaveHardState(state HardState) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	voted := []byte(state.VotedFor)
	buf := make([]byte, 4+8+4+len(voted))
	binary.LittleEndian.PutUint32(buf[0:4], hardStateMagic)
	binary.LittleEndian.PutUint64(buf[4:12], state.CurrentTerm)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(voted)))
	copy(buf[16:], voted)

	tmp := w.hsPath + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("walog: write hard state: %w", err)
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("walog: reopen hard state for sync: %w", err)
	}
	syncErr := fdatasync(f)
	closeErr := f.Close()
	if syncErr != nil {
		return fmt.Errorf("walog: sync hard state: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("walog: close hard state: %w", closeErr)
	}
	// Rename is the atomic publish point: a crash before this leaves the
	// previous hard state file intact.
	if err := os.Rename(tmp, w.hsPath); err != nil {
		return fmt.Errorf("walog: publish hard state: %w", err)
	}
	return nil
}

// HardState returns the last durably saved hard state, or the zero value if
// none has ever been saved.
func (w *WAL) HardState() (HardState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(w.hsPath)
	if errors.Is(err, os.ErrNotExist) {
		return HardState{}, nil
	}
	if err != nil {
		return HardState{}, fmt.Errorf("walog: read hard state: %w", err)
	}
	if len(data) < 16 {
		return HardState{}, fmt.Errorf("walog: hard state file truncated (%d bytes)", len(data))
	}
	if binary.LittleEndian.Uint32(data[0:4]) != hardStateMagic {
		return HardState{}, fmt.Errorf("walog: hard state magic mismatch")
	}
	term := binary.LittleEndian.Uint64(data[4:12])
	n := binary.LittleEndian.Uint32(data[12:16])
	if int(16+n) > len(data) {
		return HardState{}, fmt.Errorf("walog: hard state voted_for length out of range")
	}
	voted := string(data[16 : 16+n])
	return HardState{CurrentTerm: term, VotedFor: voted}, nil
}
