// Package discovery implements LAN pheromone broadcast/listen: cells
// advertise themselves over UDP broadcast (IPv4) or link-local multicast
// (IPv6), and every node on the segment accumulates a TTL-pruned cache of
// what it has heard. A local-socket scan supplements this with cells
// reachable without the network at all.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultPort is the well-known pheromone port.
	DefaultPort = 7331
	// DefaultTTL is how long a Signal survives without being refreshed.
	DefaultTTL = 60 * time.Second
	// DefaultCacheBound is the cache size above which the oldest tenth is evicted.
	DefaultCacheBound = 10000
	// pruneInterval is how often the background TTL sweep runs.
	pruneInterval = 60 * time.Second
	// socketSuffix is the filename suffix local-socket scan looks for.
	socketSuffix = ".sock"
)

type cacheEntry struct {
	signal     Signal
	observedAt time.Time
}

// System is one node's pheromone broadcaster, listener, and cache.
type System struct {
	nodeID     string
	instanceID uint64
	conn       net.PacketConn
	port       int
	socketDir  string
	ttl        time.Duration
	cacheBound int

	mu    sync.RWMutex
	owned map[string]Signal // cell_name -> last advertised Signal, for answering queries
	cache map[string]cacheEntry

	log    *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures System at Ignite time.
type Option func(*System)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option { return func(s *System) { s.ttl = d } }

// WithCacheBound overrides DefaultCacheBound.
func WithCacheBound(n int) Option { return func(s *System) { s.cacheBound = n } }

// WithSocketDir sets the directory local-socket scan enumerates.
func WithSocketDir(dir string) Option { return func(s *System) { s.socketDir = dir } }

// WithPort overrides DefaultPort for the pheromone socket.
func WithPort(port int) Option { return func(s *System) { s.port = port } }

// Ignite binds the pheromone socket and starts the listen and prune
// background tasks. Discovery never fails to initialize as long as at
// least one usable interface exists; binding the socket is the only hard
// failure mode.
func Ignite(ctx context.Context, nodeID string, opts ...Option) (*System, error) {
	s := &System{
		nodeID:     nodeID,
		instanceID: rand.Uint64(),
		ttl:        DefaultTTL,
		cacheBound: DefaultCacheBound,
		port:       DefaultPort,
		owned:      make(map[string]Signal),
		cache:      make(map[string]cacheEntry),
		log:        slog.With("component", "discovery", "node_id", nodeID),
	}
	for _, opt := range opts {
		opt(s)
	}

	conn, err := listenPacket(ctx, "udp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return nil, fmt.Errorf("discovery: bind pheromone socket: %w", err)
	}
	s.conn = conn

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go s.listenLoop(runCtx)
	go s.pruneLoop(runCtx)

	s.log.Info("discovery ignited", "port", s.port)
	return s, nil
}

// Close stops the background tasks and releases the socket.
func (s *System) Close() error {
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// Advertise broadcasts an advertisement for cellName at ip:port to every
// usable interface, and remembers it as locally owned so future queries
// for this name get answered directly.
func (s *System) Advertise(cellName, ip string, port uint16) error {
	sig := Signal{
		CellName:   cellName,
		InstanceID: s.instanceID,
		IP:         ip,
		Port:       port,
		Timestamp:  uint64(time.Now().UnixMilli()),
	}
	s.mu.Lock()
	s.owned[cellName] = sig
	s.mu.Unlock()

	return s.broadcast(sig)
}

// Query broadcasts a query (port 0) for cellName and gives listeners a
// short window to answer before returning whatever the cache now holds.
func (s *System) Query(ctx context.Context, cellName string) ([]Signal, error) {
	q := Signal{CellName: cellName, InstanceID: s.instanceID, Timestamp: uint64(time.Now().UnixMilli())}
	if err := s.broadcast(q); err != nil {
		s.log.Warn("discovery: query broadcast had errors", "err", err)
	}

	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return s.FindAll(cellName), nil
}

// All returns every Signal currently in the cache.
func (s *System) All() []Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Signal, 0, len(s.cache))
	for _, e := range s.cache {
		out = append(out, e.signal)
	}
	return out
}

// FindAll returns every cached Signal whose cell name matches.
func (s *System) FindAll(cellName string) []Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Signal
	for _, e := range s.cache {
		if e.signal.CellName == cellName {
			out = append(out, e.signal)
		}
	}
	return out
}

// LocalCells enumerates the configured socket directory and returns the
// stems of every file ending in socketSuffix, as locally-reachable cell
// names requiring no network hop at all.
func (s *System) LocalCells() ([]string, error) {
	if s.socketDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.socketDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("discovery: scan socket dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), socketSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(filepath.Base(e.Name()), socketSuffix))
	}
	return names, nil
}

// StartSecreting starts a periodic 2s ± 1s jittered rebroadcast task that
// advertises cellName at the given port until ctx is done.
func (s *System) StartSecreting(ctx context.Context, cellName string, ip string, port uint16) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if err := s.Advertise(cellName, ip, port); err != nil {
				s.log.Warn("discovery: secrete advertise failed", "cell_name", cellName, "err", err)
			}
			jitter := time.Duration(rand.Int63n(int64(2 * time.Second)))
			wait := time.Second + jitter // 1s..3s, centered on 2s ± 1s
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()
}

// broadcast sends sig to every non-loopback interface's broadcast/multicast
// target. Per-interface send failures are aggregated and returned, but
// never abort sends to the remaining interfaces.
func (s *System) broadcast(sig Signal) error {
	targets, err := broadcastTargets(s.port)
	if err != nil {
		return fmt.Errorf("discovery: enumerate interfaces: %w", err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("discovery: no usable interface to broadcast on")
	}

	payload := encodeSignal(sig)
	var errs *multierror.Error
	for _, t := range targets {
		if _, err := s.conn.WriteTo(payload, t.addr); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", t.addr, err))
		}
	}
	return errs.ErrorOrNil()
}

func (s *System) listenLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("discovery: read error", "err", err)
			continue
		}
		s.handleDatagram(buf[:n], addr)
	}
}

func (s *System) handleDatagram(data []byte, from net.Addr) {
	sig, err := decodeSignal(data)
	if err != nil {
		s.log.Debug("discovery: dropping malformed datagram", "from", from, "err", err)
		return
	}

	host, _, _ := net.SplitHostPort(from.String())
	if isLocalAddress(host) {
		return
	}

	if sig.Port == 0 {
		s.respondToQuery(sig.CellName, from)
		return
	}

	s.insert(sig)
}

func (s *System) respondToQuery(cellName string, to net.Addr) {
	s.mu.RLock()
	sig, ok := s.owned[cellName]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sig.Timestamp = uint64(time.Now().UnixMilli())
	if _, err := s.conn.WriteTo(encodeSignal(sig), to); err != nil {
		s.log.Debug("discovery: query response send failed", "to", to, "err", err)
	}
}

func (s *System) insert(sig Signal) {
	key := fmt.Sprintf("%s/%d", sig.CellName, sig.InstanceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{signal: sig, observedAt: time.Now()}
	if len(s.cache) > s.cacheBound {
		s.evictOldestTenthLocked()
	}
}

// timestampedKey pairs a cache key with its Signal's timestamp, for
// sorting during oldest-tenth eviction.
type timestampedKey struct {
	key string
	ts  uint64
}

// evictOldestTenthLocked removes the oldest tenth of the cache by
// timestamp. Caller must hold s.mu for writing.
func (s *System) evictOldestTenthLocked() {
	entries := make([]timestampedKey, 0, len(s.cache))
	for k, e := range s.cache {
		entries = append(entries, timestampedKey{k, e.signal.Timestamp})
	}
	sortByTimestamp(entries)

	toEvict := len(entries) / 10
	if toEvict == 0 {
		toEvict = 1
	}
	for i := 0; i < toEvict && i < len(entries); i++ {
		delete(s.cache, entries[i].key)
	}
}

func sortByTimestamp(entries []timestampedKey) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].ts > entries[j].ts; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func (s *System) pruneLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneExpired()
		}
	}
}

func (s *System) pruneExpired() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.cache {
		if e.observedAt.Before(cutoff) {
			delete(s.cache, k)
		}
	}
}
