package router

import (
	"testing"
	"time"
)

func TestColonyNextRoundRobins(t *testing.T) {
	c := &Colony{Paths: []string{"a", "b", "c"}}
	first := c.next()
	second := c.next()
	if first[0] == second[0] {
		t.Fatalf("expected round robin to advance the starting path, got %v then %v", first, second)
	}
}

func TestColonyNextCapsAtThreeCandidates(t *testing.T) {
	c := &Colony{Paths: []string{"a", "b", "c", "d", "e"}}
	if got := len(c.next()); got != 3 {
		t.Fatalf("got %d candidates, want 3", got)
	}
}

func TestColonyNextEmpty(t *testing.T) {
	c := &Colony{}
	if got := c.next(); got != nil {
		t.Fatalf("expected nil for empty colony, got %v", got)
	}
}

func TestRemoteClusterBestOrdersByRTT(t *testing.T) {
	cl := NewRemoteCluster()
	cl.Upsert(Terminal{ID: "slow", RTT: 50 * time.Millisecond, LastSeen: time.Now()})
	cl.Upsert(Terminal{ID: "fast", RTT: 5 * time.Millisecond, LastSeen: time.Now()})

	best, ok := cl.Best()
	if !ok {
		t.Fatalf("expected a terminal")
	}
	if best.ID != "fast" {
		t.Fatalf("got best %q, want %q", best.ID, "fast")
	}
}

func TestRemoteClusterUpdateRTTResorts(t *testing.T) {
	cl := NewRemoteCluster()
	cl.Upsert(Terminal{ID: "a", RTT: 5 * time.Millisecond, LastSeen: time.Now()})
	cl.Upsert(Terminal{ID: "b", RTT: 50 * time.Millisecond, LastSeen: time.Now()})

	cl.updateRTT("b", time.Millisecond)

	best, _ := cl.Best()
	if best.ID != "b" {
		t.Fatalf("got best %q, want %q after b's RTT improved", best.ID, "b")
	}
}

func TestRemoteClusterEvictStaleDropsOldTerminals(t *testing.T) {
	cl := NewRemoteCluster()
	old := time.Now().Add(-time.Hour)
	cl.Upsert(Terminal{ID: "stale", RTT: 0, LastSeen: old})
	cl.Upsert(Terminal{ID: "fresh", RTT: 0, LastSeen: time.Now()})

	cl.evictStale(time.Now(), 30*time.Second)

	all := cl.All()
	if len(all) != 1 || all[0].ID != "fresh" {
		t.Fatalf("got %+v, want only the fresh terminal", all)
	}
}

func TestRemoteClusterBestExcludesStaleTerminals(t *testing.T) {
	cl := NewRemoteCluster()
	cl.Upsert(Terminal{ID: "reloaded", RTT: time.Millisecond, LastSeen: time.Now(), Stale: true})

	if _, ok := cl.Best(); ok {
		t.Fatalf("expected Best to exclude a cluster with only stale terminals")
	}

	cl.updateRTT("reloaded", 2*time.Millisecond)
	best, ok := cl.Best()
	if !ok || best.ID != "reloaded" {
		t.Fatalf("expected a successful probe to clear Stale, got %+v, ok=%v", best, ok)
	}
}

func TestRemoteClusterUpsertUpdatesExisting(t *testing.T) {
	cl := NewRemoteCluster()
	cl.Upsert(Terminal{ID: "a", IP: "10.0.0.1", Port: 1, LastSeen: time.Now()})
	cl.Upsert(Terminal{ID: "a", IP: "10.0.0.2", Port: 2, LastSeen: time.Now()})

	all := cl.All()
	if len(all) != 1 {
		t.Fatalf("expected upsert to update in place, got %d terminals", len(all))
	}
	if all[0].IP != "10.0.0.2" || all[0].Port != 2 {
		t.Fatalf("got %+v, want updated IP/port", all[0])
	}
}
