package router

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// unreachableRTT marks a terminal whose last probe failed; it sorts to
// the end of a RTT-ordered terminal list without needing a sentinel
// error type threaded through the sort.
const unreachableRTT = time.Duration(1<<63 - 1)

// Route is the resolved shape of a named target. Exactly one of the
// three kinds is populated; callers switch on which field is non-nil.
type Route struct {
	Local   *LocalStream
	Colony  *Colony
	Cluster *RemoteCluster
}

// LocalStream dials a single well-known local socket path.
type LocalStream struct {
	Path string
}

// Colony round-robins connection attempts across a static set of local
// socket paths, trying up to three positions before giving up.
type Colony struct {
	Paths  []string
	cursor uint64
}

// next returns up to three candidate paths starting at the current
// round-robin cursor, advancing it for the next call.
func (c *Colony) next() []string {
	n := len(c.Paths)
	if n == 0 {
		return nil
	}
	tries := 3
	if n < tries {
		tries = n
	}
	start := atomic.AddUint64(&c.cursor, 1) - 1
	out := make([]string, tries)
	for i := 0; i < tries; i++ {
		out[i] = c.Paths[(int(start)+i)%n]
	}
	return out
}

// Terminal is one reachable endpoint for a remote cell, discovered
// through pheromone signals and kept alive by periodic probing.
type Terminal struct {
	ID       string
	IP       string
	Port     uint16
	RTT      time.Duration
	LastSeen time.Time
	// Stale marks a terminal loaded from the persistent registry mirror
	// on startup, before the probing task has confirmed it is actually
	// reachable. A stale terminal is never returned by Best, only
	// considered once a successful probe clears the flag.
	Stale bool
}

// RemoteCluster is the set of terminals a peer cell has been observed on,
// kept sorted by RTT (ascending, unreachable last) so the router always
// dials the terminal it last found fastest.
type RemoteCluster struct {
	mu        sync.RWMutex
	terminals []*Terminal
}

// NewRemoteCluster returns an empty cluster; terminals are added as
// Discovery signals arrive.
func NewRemoteCluster() *RemoteCluster {
	return &RemoteCluster{}
}

// Upsert records an observed terminal, resetting LastSeen, or inserts it
// if new. The cluster is re-sorted by RTT after every upsert so Best
// always reflects the freshest ordering.
func (c *RemoteCluster) Upsert(t Terminal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.terminals {
		if existing.ID == t.ID {
			existing.IP = t.IP
			existing.Port = t.Port
			existing.LastSeen = t.LastSeen
			return
		}
	}
	stored := t
	c.terminals = append(c.terminals, &stored)
	c.sortLocked()
}

// Best returns the lowest-RTT non-stale terminal, or false if the cluster
// is empty or every terminal is still unconfirmed since being loaded from
// the persistent registry mirror.
func (c *RemoteCluster) Best() (Terminal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.terminals) == 0 || c.terminals[0].Stale {
		return Terminal{}, false
	}
	return *c.terminals[0], true
}

// All returns a snapshot of every terminal, RTT-ordered.
func (c *RemoteCluster) All() []Terminal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Terminal, len(c.terminals))
	for i, t := range c.terminals {
		out[i] = *t
	}
	return out
}

// updateRTT records a probe result for the terminal with the given ID,
// then re-sorts. A missing ID is a no-op: the terminal was evicted
// between the probe starting and completing.
func (c *RemoteCluster) updateRTT(id string, rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.terminals {
		if t.ID == id {
			t.RTT = rtt
			if rtt != unreachableRTT {
				t.Stale = false
			}
			c.sortLocked()
			return
		}
	}
}

// evictStale drops terminals not seen within maxAge, relative to now.
func (c *RemoteCluster) evictStale(now time.Time, maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.terminals[:0]
	for _, t := range c.terminals {
		if now.Sub(t.LastSeen) <= maxAge {
			kept = append(kept, t)
		}
	}
	c.terminals = kept
}

func (c *RemoteCluster) sortLocked() {
	sort.SliceStable(c.terminals, func(i, j int) bool {
		if c.terminals[i].Stale != c.terminals[j].Stale {
			return !c.terminals[i].Stale
		}
		return c.terminals[i].RTT < c.terminals[j].RTT
	})
}
