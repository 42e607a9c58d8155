package raft

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"cell/internal/logging"
	"cell/internal/walog"
)

type voteRequestEnvelope struct {
	req  VoteRequest
	resp chan VoteResponse
}

type appendEntriesEnvelope struct {
	req  AppendEntriesRequest
	resp chan AppendEntriesResponse
}

type proposeEnvelope struct {
	data    []byte
	kind    EntryKind
	resp    chan proposeResult
}

type proposeResult struct {
	index uint64
	term  uint64
	err   error
}

// Node is one member of a Raft group. All mutable state is confined to
// the single goroutine Run executes on; every external interaction
// (RPCs arriving, Propose calls) is funneled through channels so the
// core algorithm never needs its own locking.
type Node struct {
	conf Config
	wal  *walog.WAL
	fsm  FSM
	trans Transport
	log  *slog.Logger

	currentTerm uint64
	votedFor    string
	role        Role
	leaderID    string
	commitIndex uint64
	lastApplied uint64

	peers []string

	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	voteCh     chan voteRequestEnvelope
	appendCh   chan appendEntriesEnvelope
	proposeCh  chan proposeEnvelope
	electionCh chan electionOutcome
	kickCh     chan struct{}

	mu sync.RWMutex // guards only the fields read by non-loop goroutines: role, leaderID, currentTerm
}

// New constructs a Node from durable state recovered from wal.
func New(conf Config, wal *walog.WAL, fsm FSM, trans Transport) (*Node, error) {
	hs, err := wal.HardState()
	if err != nil {
		return nil, fmt.Errorf("raft: load hard state: %w", err)
	}
	n := &Node{
		conf:        conf,
		wal:         wal,
		fsm:         fsm,
		trans:       trans,
		log:         logging.Component("raft").With("node", conf.NodeID),
		currentTerm: hs.CurrentTerm,
		votedFor:    hs.VotedFor,
		role:        Follower,
		peers:       append([]string(nil), conf.Peers...),
		nextIndex:   make(map[string]uint64),
		matchIndex:  make(map[string]uint64),
		voteCh:      make(chan voteRequestEnvelope),
		appendCh:    make(chan appendEntriesEnvelope),
		proposeCh:   make(chan proposeEnvelope),
		electionCh:  make(chan electionOutcome, 1),
		kickCh:      make(chan struct{}, 1),
	}
	return n, nil
}

// kick requests an out-of-cycle replication pass the next time Run's event
// loop is free, instead of waiting for the next heartbeat tick. Safe to
// call from the event loop goroutine (propose, becomeLeader); never blocks.
func (n *Node) kick() {
	select {
	case n.kickCh <- struct{}{}:
	default:
	}
}

func (n *Node) setRole(r Role, leader string) {
	n.mu.Lock()
	n.role = r
	n.leaderID = leader
	n.mu.Unlock()
}

// Role reports the node's current role; safe to call from any goroutine.
func (n *Node) Role() Role {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role
}

// Leader reports the last known leader ID, or "" if unknown.
func (n *Node) Leader() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.leaderID
}

// Term reports the current term; safe to call from any goroutine.
func (n *Node) Term() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.currentTerm
}

func (n *Node) randomElectionTimeout() time.Duration {
	span := n.conf.ElectionTimeoutMax - n.conf.ElectionTimeoutMin
	if span <= 0 {
		return n.conf.ElectionTimeoutMin
	}
	return n.conf.ElectionTimeoutMin + time.Duration(rand.Int63n(int64(span)))
}

// Run executes the event loop until ctx is cancelled. It must only ever
// be called once per Node.
func (n *Node) Run(ctx context.Context) {
	timer := time.NewTimer(n.randomElectionTimeout())
	defer timer.Stop()
	var heartbeat *time.Ticker

	for {
		select {
		case <-ctx.Done():
			return

		case env := <-n.voteCh:
			resp, becameFollower := n.handleVoteRequest(env.req)
			env.resp <- resp
			if becameFollower {
				timer.Reset(n.randomElectionTimeout())
			}

		case env := <-n.appendCh:
			resp, resetTimer := n.handleAppendEntries(env.req)
			env.resp <- resp
			if resetTimer {
				timer.Reset(n.randomElectionTimeout())
			}

		case env := <-n.proposeCh:
			env.resp <- n.propose(env.kind, env.data)

		case outcome := <-n.electionCh:
			n.applyElectionOutcome(outcome)

		case <-timer.C:
			if n.Role() != Leader {
				n.startElection(ctx)
			}
			timer.Reset(n.randomElectionTimeout())

		case <-heartbeatTick(heartbeat):
			if n.Role() == Leader {
				n.replicateToAll(ctx)
			}

		case <-n.kickCh:
			if n.Role() == Leader {
				n.replicateToAll(ctx)
			}
		}

		if n.Role() == Leader && heartbeat == nil {
			heartbeat = time.NewTicker(n.conf.HeartbeatInterval)
		} else if n.Role() != Leader && heartbeat != nil {
			heartbeat.Stop()
			heartbeat = nil
		}
	}
}

// heartbeatTick returns t.C, or a nil channel (which blocks forever in a
// select) when t is nil, so the Leader-only heartbeat ticker can be
// absent without special-casing every select arm.
func heartbeatTick(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// HandleVoteRequest is called by the transport/RPC layer when a
// VoteRequest arrives from a peer.
func (n *Node) HandleVoteRequest(req VoteRequest) VoteResponse {
	resp := make(chan VoteResponse, 1)
	n.voteCh <- voteRequestEnvelope{req: req, resp: resp}
	return <-resp
}

// HandleAppendEntries is called by the transport/RPC layer when an
// AppendEntriesRequest arrives from the leader.
func (n *Node) HandleAppendEntries(req AppendEntriesRequest) AppendEntriesResponse {
	resp := make(chan AppendEntriesResponse, 1)
	n.appendCh <- appendEntriesEnvelope{req: req, resp: resp}
	return <-resp
}

// Propose appends data to the log if this node is Leader, returning its
// assigned index and term, and kicks an immediate replication pass rather
// than waiting for the next heartbeat tick.
func (n *Node) Propose(data []byte) (uint64, uint64, error) {
	resp := make(chan proposeResult, 1)
	n.proposeCh <- proposeEnvelope{data: data, kind: EntryCommand, resp: resp}
	r := <-resp
	return r.index, r.term, r.err
}

// ProposeConfigChange proposes a membership change, encoded the same way
// as a command entry but tagged EntryConfigChange so applyCommitted knows to
// update n.peers when it commits.
func (n *Node) ProposeConfigChange(peers []string) (uint64, uint64, error) {
	data, err := encodeConfigChange(peers)
	if err != nil {
		return 0, 0, err
	}
	resp := make(chan proposeResult, 1)
	n.proposeCh <- proposeEnvelope{data: data, kind: EntryConfigChange, resp: resp}
	r := <-resp
	return r.index, r.term, r.err
}

func (n *Node) propose(kind EntryKind, data []byte) proposeResult {
	if n.Role() != Leader {
		return proposeResult{err: &ErrNotLeader{Leader: n.Leader()}}
	}
	idx, err := n.wal.Append(n.currentTerm, toWalogType(kind), data)
	if err != nil {
		return proposeResult{err: fmt.Errorf("raft: append: %w", err)}
	}
	n.matchIndex[n.conf.NodeID] = idx
	n.kick()
	return proposeResult{index: idx, term: n.currentTerm}
}

func toWalogType(k EntryKind) walog.EntryType {
	switch k {
	case EntryNoOp:
		return walog.EntryNoOp
	case EntryConfigChange:
		return walog.EntryConfigChange
	default:
		return walog.EntryCommand
	}
}

func fromWalogType(t walog.EntryType) EntryKind {
	switch t {
	case walog.EntryNoOp:
		return EntryNoOp
	case walog.EntryConfigChange:
		return EntryConfigChange
	default:
		return EntryCommand
	}
}
