// Package raft implements leader election, log replication, and single-
// server membership changes on top of internal/walog for durable storage.
package raft

import (
	"context"
	"time"
)

// Role is a node's position in the Raft state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// FSM is the replicated state machine a committed log entry is applied
// to, in order, exactly once per entry.
type FSM interface {
	Apply(data []byte) error
}

// Config tunes election and heartbeat timing. ElectionTimeoutMin/Max
// bound the randomized per-node election timeout; HeartbeatInterval is
// used only while Leader.
type Config struct {
	NodeID            string
	Peers             []string
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
}

// DefaultConfig returns spec.md's typical timing: a 150-300ms randomized
// election timeout and a 50ms heartbeat interval.
func DefaultConfig(nodeID string, peers []string) Config {
	return Config{
		NodeID:             nodeID,
		Peers:              peers,
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
	}
}

// VoteRequest is sent by a Candidate to every peer at the start of an
// election.
type VoteRequest struct {
	Term         uint64
	CandidateID  string
	LastLogIndex uint64
	LastLogTerm  uint64
}

// VoteResponse is a peer's answer to a VoteRequest.
type VoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesRequest is sent by the Leader, both to replicate new
// entries and as an empty heartbeat.
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     string
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesResponse is a follower's answer to an AppendEntriesRequest.
// ConflictIndex accelerates backtracking on rejection, per spec.md.
type AppendEntriesResponse struct {
	Term          uint64
	Success       bool
	ConflictIndex uint64
}

// LogEntry is the wire shape of one replicated log entry, independent of
// walog's on-disk Entry so the transport layer never depends on the
// storage package directly.
type LogEntry struct {
	Index uint64
	Term  uint64
	Type  EntryKind
	Data  []byte
}

// EntryKind mirrors walog.EntryType without importing it into the RPC
// surface.
type EntryKind uint8

const (
	EntryCommand EntryKind = iota + 1
	EntryNoOp
	EntryConfigChange
)

// Transport is how a Node reaches its peers. Implementations typically
// wrap internal/transport.Transport or a direct RPC mechanism; this
// package only needs the two Raft RPCs.
type Transport interface {
	SendVoteRequest(ctx context.Context, peer string, req VoteRequest) (VoteResponse, error)
	SendAppendEntries(ctx context.Context, peer string, req AppendEntriesRequest) (AppendEntriesResponse, error)
}

// ErrNotLeader is returned by Propose when called on a non-Leader node.
type ErrNotLeader struct{ Leader string }

func (e *ErrNotLeader) Error() string {
	if e.Leader == "" {
		return "raft: not leader, no known leader"
	}
	return "raft: not leader, leader is " + e.Leader
}
