package router

import "sync"

// Table is the shared route table: read-mostly, with a single background
// writer task (the Discovery ingest loop and any static manifest load).
// Reads happen on every accepted connection and must not contend with
// each other; the reader-writer lock reflects that shape.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewTable returns an empty route table.
func NewTable() *Table {
	return &Table{routes: make(map[string]Route)}
}

// Lookup resolves a name to its route. The bool is false on a miss.
func (t *Table) Lookup(name string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[name]
	return r, ok
}

// SetLocal installs a static LocalStream route, overwriting any existing
// route for the same name.
func (t *Table) SetLocal(name, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[name] = Route{Local: &LocalStream{Path: path}}
}

// SetColony installs a static Colony route, overwriting any existing
// route for the same name.
func (t *Table) SetColony(name string, paths []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[name] = Route{Colony: &Colony{Paths: paths}}
}

// Cluster returns the RemoteCluster for name, creating one if none
// exists yet. This is how the Discovery ingest task and the probing task
// both reach the same cluster object without the table needing to know
// about either.
func (t *Table) Cluster(name string) *RemoteCluster {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[name]; ok && r.Cluster != nil {
		return r.Cluster
	}
	cluster := NewRemoteCluster()
	t.routes[name] = Route{Cluster: cluster}
	return cluster
}

// Clusters returns every RemoteCluster currently installed, for the
// probing task to iterate without holding the table lock while it dials.
func (t *Table) Clusters() map[string]*RemoteCluster {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*RemoteCluster)
	for name, r := range t.routes {
		if r.Cluster != nil {
			out[name] = r.Cluster
		}
	}
	return out
}
