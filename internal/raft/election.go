package raft

import (
	"context"

	"cell/internal/walog"
)

// handleVoteRequest applies the vote-granting rule: a peer's term must
// not trail ours, our vote this term must still be available (unused, or
// already cast for this same candidate), and the candidate's log must be
// at least as up to date as ours. Returns the response and whether the
// caller should reset its election timer: true when this call caused a
// step-down to Follower or granted the vote.
func (n *Node) handleVoteRequest(req VoteRequest) (VoteResponse, bool) {
	steppedDown := false
	if req.Term > n.currentTerm {
		n.stepDown(req.Term)
		steppedDown = true
	}

	if req.Term < n.currentTerm {
		return VoteResponse{Term: n.currentTerm, VoteGranted: false}, steppedDown
	}

	lastIndex, lastTerm := n.wal.LastLogInfo()
	logOK := req.LastLogTerm > lastTerm ||
		(req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)

	canVote := n.votedFor == "" || n.votedFor == req.CandidateID
	if canVote && logOK {
		n.votedFor = req.CandidateID
		_ = n.persistHardState()
		return VoteResponse{Term: n.currentTerm, VoteGranted: true}, true
	}
	return VoteResponse{Term: n.currentTerm, VoteGranted: false}, steppedDown
}

// stepDown transitions to Follower at a newer term, clearing the vote.
// Callers must be running on the event loop goroutine.
func (n *Node) stepDown(term uint64) {
	n.currentTerm = term
	n.votedFor = ""
	n.setRole(Follower, n.leaderID)
	_ = n.persistHardState()
}

func (n *Node) persistHardState() error {
	return n.wal.SaveHardState(walog.HardState{CurrentTerm: n.currentTerm, VotedFor: n.votedFor})
}

func majority(clusterSize int) int {
	return clusterSize/2 + 1
}

// electionOutcome is delivered to the event loop once all vote responses
// for one election round are in (or the context is cancelled), so the
// loop never blocks waiting on peer RPCs.
type electionOutcome struct {
	term    uint64
	granted int
}

// startElection begins a Candidate round: increment term, vote for self,
// persist, and fan the VoteRequest out to every peer from a background
// goroutine. The loop learns the outcome later via n.electionCh.
func (n *Node) startElection(ctx context.Context) {
	n.currentTerm++
	n.votedFor = n.conf.NodeID
	electionTerm := n.currentTerm
	n.setRole(Candidate, "")
	if err := n.persistHardState(); err != nil {
		n.log.Error("persist hard state before election", "err", err)
		return
	}
	n.log.Info("starting election", "term", electionTerm)

	lastIndex, lastTerm := n.wal.LastLogInfo()
	req := VoteRequest{
		Term:         electionTerm,
		CandidateID:  n.conf.NodeID,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}
	peers := append([]string(nil), n.peers...)

	go func() {
		granted := 1 // vote for self
		results := make(chan VoteResponse, len(peers))
		for _, peer := range peers {
			peer := peer
			go func() {
				resp, err := n.trans.SendVoteRequest(ctx, peer, req)
				if err != nil {
					results <- VoteResponse{}
					return
				}
				results <- resp
			}()
		}
		for range peers {
			select {
			case <-ctx.Done():
				return
			case resp := <-results:
				if resp.VoteGranted {
					granted++
				}
			}
		}
		select {
		case <-ctx.Done():
		case n.electionCh <- electionOutcome{term: electionTerm, granted: granted}:
		}
	}()
}

// applyElectionOutcome is called on the event loop when a pending
// election's votes have all been tallied.
func (n *Node) applyElectionOutcome(o electionOutcome) {
	if n.role != Candidate || n.currentTerm != o.term {
		return // a newer term or step-down has already superseded this round
	}
	if o.granted >= majority(len(n.peers)+1) {
		n.becomeLeader(o.term)
	}
}

func (n *Node) becomeLeader(term uint64) {
	if n.currentTerm != term || n.role == Leader {
		return
	}
	n.log.Info("elected leader", "term", term)
	n.setRole(Leader, n.conf.NodeID)
	lastIndex := n.wal.LastIndex()
	for _, peer := range n.peers {
		n.nextIndex[peer] = lastIndex + 1
		n.matchIndex[peer] = 0
	}
	// A leader can only commit entries from its own term (never a prior
	// term, directly); appending a no-op here gives every term a committable
	// entry of its own, so entries left over from a previous leader (or a
	// previous term of this same node, after a restart) can still cross the
	// commit line once this no-op does. An empty log has nothing left over,
	// so no no-op is appended and the first proposal gets index 1.
	if lastIndex > 0 {
		if idx, err := n.wal.Append(n.currentTerm, walog.EntryNoOp, nil); err != nil {
			n.log.Error("append no-op entry on election", "err", err)
		} else {
			n.matchIndex[n.conf.NodeID] = idx
		}
	}
	n.kick()
}
