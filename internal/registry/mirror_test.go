package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cell/internal/router"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMirrorLoadIntoSeedsStaleTerminals(t *testing.T) {
	store := openTestStore(t)
	if err := store.Upsert("neuron", router.Terminal{ID: "a", IP: "10.0.0.1", Port: 9000}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	table := router.NewTable()
	m := NewMirror(store, table)
	if err := m.LoadInto(); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}

	cluster := table.Cluster("neuron")
	best, ok := cluster.Best()
	if ok {
		t.Fatalf("expected seeded terminal to be excluded from Best while stale, got %+v", best)
	}

	all := cluster.All()
	if len(all) != 1 || all[0].ID != "a" || !all[0].Stale {
		t.Fatalf("got %+v, want one stale terminal %q", all, "a")
	}
}

func TestMirrorFlushPersistsLiveTable(t *testing.T) {
	store := openTestStore(t)
	table := router.NewTable()
	table.Cluster("neuron").Upsert(router.Terminal{ID: "a", IP: "10.0.0.1", Port: 9000, LastSeen: time.Now()})

	m := NewMirror(store, table, WithFlushInterval(time.Millisecond))
	m.flush()

	byCell, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	terminals, ok := byCell["neuron"]
	if !ok || len(terminals) != 1 || terminals[0].ID != "a" {
		t.Fatalf("got %+v, want one mirrored terminal %q", byCell, "a")
	}
}

func TestMirrorFlushDeletesTerminalsDroppedFromTable(t *testing.T) {
	store := openTestStore(t)
	table := router.NewTable()
	cluster := table.Cluster("neuron")
	cluster.Upsert(router.Terminal{ID: "a", IP: "10.0.0.1", Port: 9000, LastSeen: time.Now()})

	m := NewMirror(store, table)
	m.flush()

	table.SetLocal("neuron", filepath.Join(t.TempDir(), "neuron.sock"))
	m.flush()

	byCell, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(byCell["neuron"]) != 0 {
		t.Fatalf("got %+v, want terminal %q evicted from the mirror", byCell, "a")
	}
}

func TestMirrorRunStopsOnContextCancel(t *testing.T) {
	store := openTestStore(t)
	table := router.NewTable()
	table.Cluster("neuron").Upsert(router.Terminal{ID: "a", IP: "10.0.0.1", Port: 9000, LastSeen: time.Now()})

	m := NewMirror(store, table, WithFlushInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	byCell, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(byCell["neuron"]) != 1 {
		t.Fatalf("got %+v, want the final flush to have persisted the terminal", byCell)
	}
}
