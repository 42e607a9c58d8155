package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cell/internal/logging"
	"cell/internal/router"
)

// DefaultFlushInterval is how often Mirror batches pending writes into
// one transactionless pass over the live route table, debouncing what
// would otherwise be a write per probe/discovery update.
const DefaultFlushInterval = 5 * time.Second

// Mirror keeps a Store synchronized with a Table's RemoteCluster
// terminals on a periodic, debounced schedule, and seeds the Table from
// the Store on startup.
type Mirror struct {
	store    *Store
	table    *router.Table
	interval time.Duration
	log      *slog.Logger

	known map[string]struct{} // "cellName/terminalID" written as of the last flush
}

// NewMirror constructs a Mirror over store and table, using
// DefaultFlushInterval unless overridden by WithFlushInterval.
func NewMirror(store *Store, table *router.Table, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		store:    store,
		table:    table,
		interval: DefaultFlushInterval,
		log:      logging.Component("registry"),
		known:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MirrorOption configures a Mirror at construction time.
type MirrorOption func(*Mirror)

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) MirrorOption {
	return func(m *Mirror) { m.interval = d }
}

// LoadInto seeds table's clusters from every mirrored terminal, marked
// Stale so the Router's probing task must confirm reachability before
// any of them are dialed. Call once at startup, before Run.
func (m *Mirror) LoadInto() error {
	byCell, err := m.store.LoadAll()
	if err != nil {
		return fmt.Errorf("registry: load mirror: %w", err)
	}
	for cellName, terminals := range byCell {
		cluster := m.table.Cluster(cellName)
		for _, t := range terminals {
			cluster.Upsert(t)
			m.known[mirrorKey(cellName, t.ID)] = struct{}{}
		}
	}
	if n := len(m.known); n > 0 {
		m.log.Info("seeded route table from persistent mirror", "terminals", n)
	}
	return nil
}

// Run flushes the live table into the store every interval until ctx is
// cancelled, and performs one final flush before returning so a graceful
// shutdown never loses the last few seconds of updates.
func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.flush()
			return
		case <-ticker.C:
			m.flush()
		}
	}
}

func (m *Mirror) flush() {
	present := make(map[string]struct{})
	for cellName, cluster := range m.table.Clusters() {
		for _, t := range cluster.All() {
			key := mirrorKey(cellName, t.ID)
			present[key] = struct{}{}
			if err := m.store.Upsert(cellName, t); err != nil {
				m.log.Warn("mirror upsert failed", "cell_name", cellName, "terminal", t.ID, "err", err)
			}
		}
	}
	for key := range m.known {
		if _, ok := present[key]; ok {
			continue
		}
		cellName, terminalID := splitMirrorKey(key)
		if err := m.store.Delete(cellName, terminalID); err != nil {
			m.log.Warn("mirror delete failed", "cell_name", cellName, "terminal", terminalID, "err", err)
		}
	}
	m.known = present
}

func mirrorKey(cellName, terminalID string) string {
	return cellName + "/" + terminalID
}

func splitMirrorKey(key string) (cellName, terminalID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
