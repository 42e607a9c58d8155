package raft

import (
	"context"
	"sync"

	"cell/internal/walog"
)

// handleAppendEntries is the Follower side of log replication, including
// plain heartbeats (Entries == nil). Returns the response and whether the
// caller should reset its election timer (true whenever the request came
// from a current or newer leader we accept).
func (n *Node) handleAppendEntries(req AppendEntriesRequest) (AppendEntriesResponse, bool) {
	if req.Term < n.currentTerm {
		return AppendEntriesResponse{Term: n.currentTerm, Success: false}, false
	}

	if req.Term > n.currentTerm {
		n.stepDown(req.Term)
	}
	n.setRole(Follower, req.LeaderID)

	prevOK := req.PrevLogIndex == 0
	var conflictIndex uint64
	if !prevOK {
		entry, ok := n.wal.Get(req.PrevLogIndex)
		switch {
		case !ok:
			conflictIndex = n.wal.LastIndex() + 1
		case entry.Term != req.PrevLogTerm:
			conflictIndex = firstIndexOfTerm(n.wal, req.PrevLogIndex, entry.Term)
		default:
			prevOK = true
		}
	}
	if !prevOK {
		return AppendEntriesResponse{Term: n.currentTerm, Success: false, ConflictIndex: conflictIndex}, true
	}

	for i, e := range req.Entries {
		idx := req.PrevLogIndex + 1 + uint64(i)
		if existing, ok := n.wal.Get(idx); ok {
			if existing.Term == e.Term {
				continue
			}
			if err := n.wal.TruncateSuffix(idx); err != nil {
				n.log.Error("truncate conflicting suffix", "index", idx, "err", err)
				return AppendEntriesResponse{Term: n.currentTerm, Success: false}, true
			}
		}
		if _, err := n.wal.Append(e.Term, toWalogType(e.Type), e.Data); err != nil {
			n.log.Error("append replicated entry", "index", idx, "err", err)
			return AppendEntriesResponse{Term: n.currentTerm, Success: false}, true
		}
	}

	if req.LeaderCommit > n.commitIndex {
		last := n.wal.LastIndex()
		if req.LeaderCommit < last {
			n.commitIndex = req.LeaderCommit
		} else {
			n.commitIndex = last
		}
		n.applyCommitted()
	}

	return AppendEntriesResponse{Term: n.currentTerm, Success: true}, true
}

// firstIndexOfTerm scans backward from index from (whose entry holds
// term) for the earliest entry holding term, letting the leader skip an
// entire conflicting term in one round trip instead of backtracking one
// index at a time.
func firstIndexOfTerm(wal *walog.WAL, from, term uint64) uint64 {
	idx := from
	first := idx
	for idx > 0 {
		e, ok := wal.Get(idx)
		if !ok || e.Term != term {
			break
		}
		first = idx
		idx--
	}
	return first
}

// applyCommitted applies every entry between lastApplied and commitIndex
// to the FSM, in order. Called on the event loop goroutine whenever
// commitIndex advances.
func (n *Node) applyCommitted() {
	for n.lastApplied < n.commitIndex {
		n.lastApplied++
		entry, ok := n.wal.Get(n.lastApplied)
		if !ok {
			break
		}
		switch entry.Type {
		case walog.EntryConfigChange:
			if peers, err := decodeConfigChange(entry.Data); err == nil {
				n.mu.Lock()
				n.peers = peers
				n.mu.Unlock()
			}
		case walog.EntryNoOp:
			// no-op entries exist only to let a new leader commit across a
			// term boundary; nothing to apply.
		default:
			if n.fsm != nil {
				if err := n.fsm.Apply(entry.Data); err != nil {
					n.log.Error("apply committed entry", "index", entry.Index, "err", err)
				}
			}
		}
	}
}

// replicateToAll sends AppendEntries (new entries, or an empty heartbeat)
// to every peer concurrently and, once matchIndex has a majority past
// some index in the current term, advances commitIndex.
func (n *Node) replicateToAll(ctx context.Context) {
	term := n.currentTerm
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, peer := range n.peers {
		peer := peer
		next := n.nextIndex[peer]
		if next == 0 {
			next = n.wal.LastIndex() + 1
		}
		prevIndex := next - 1
		prevTerm := uint64(0)
		if prevIndex > 0 {
			if e, ok := n.wal.Get(prevIndex); ok {
				prevTerm = e.Term
			}
		}

		var entries []LogEntry
		for idx := next; idx <= n.wal.LastIndex(); idx++ {
			e, ok := n.wal.Get(idx)
			if !ok {
				break
			}
			entries = append(entries, LogEntry{Index: e.Index, Term: e.Term, Type: fromWalogType(e.Type), Data: e.Data})
		}

		req := AppendEntriesRequest{
			Term:         term,
			LeaderID:     n.conf.NodeID,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      entries,
			LeaderCommit: n.commitIndex,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := n.trans.SendAppendEntries(ctx, peer, req)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			n.applyAppendEntriesResponse(peer, term, req, resp)
		}()
	}
	wg.Wait()
	n.advanceCommitIndex(term)
}

// applyAppendEntriesResponse updates nextIndex/matchIndex for one peer.
// Must be called on, or synchronized onto, the event loop goroutine; the
// caller (replicateToAll) holds a mutex across the whole goroutine batch
// since replicateToAll itself runs synchronously on the event loop.
func (n *Node) applyAppendEntriesResponse(peer string, term uint64, req AppendEntriesRequest, resp AppendEntriesResponse) {
	if resp.Term > n.currentTerm {
		n.stepDown(resp.Term)
		return
	}
	if n.role != Leader || n.currentTerm != term {
		return
	}
	if resp.Success {
		matched := req.PrevLogIndex + uint64(len(req.Entries))
		if matched > n.matchIndex[peer] {
			n.matchIndex[peer] = matched
		}
		n.nextIndex[peer] = matched + 1
		return
	}
	if resp.ConflictIndex > 0 {
		n.nextIndex[peer] = resp.ConflictIndex
	} else if n.nextIndex[peer] > 1 {
		n.nextIndex[peer]--
	}
}

// advanceCommitIndex moves commitIndex to the highest index held by a
// majority of matchIndex entries (including self), but only within the
// leader's current term, per the Raft safety rule that a leader can
// commit an entry from a previous term only indirectly, by committing a
// later entry from its own term.
func (n *Node) advanceCommitIndex(term uint64) {
	if n.role != Leader || n.currentTerm != term {
		return
	}
	need := majority(len(n.peers) + 1)
	for idx := n.wal.LastIndex(); idx > n.commitIndex; idx-- {
		entry, ok := n.wal.Get(idx)
		if !ok || entry.Term != term {
			continue
		}
		count := 1 // self
		for _, peer := range n.peers {
			if n.matchIndex[peer] >= idx {
				count++
			}
		}
		if count >= need {
			n.commitIndex = idx
			n.applyCommitted()
			return
		}
	}
}
