package router

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"cell/internal/discovery"
	"cell/internal/identity"
	"cell/internal/logging"
	"cell/internal/tunnel"
)

const (
	probeInterval  = 5 * time.Second
	probeTimeout   = 500 * time.Millisecond
	terminalMaxAge = 30 * time.Second
)

// AdminRouteName is the reserved local route name a node registers its
// admin gRPC socket under, so a peer's admin surface can be reached over
// exactly the same encrypted tunnel ordinary named routes use, without a
// second listen socket or wire protocol.
const AdminRouteName = "__admin__"

// Router is the per-node multiplexer ("Golgi"): it owns a local listen
// socket, optionally a remote listen socket, a shared route table, and
// the background tasks that keep RemoteCluster terminals fresh.
type Router struct {
	id   *identity.Identity
	log  *slog.Logger
	table *Table

	localListener  net.Listener
	remoteListener net.Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithRemoteListener attaches a remote listen socket, typically a TCP
// listener, accepting incoming tunnel connections from peer nodes.
func WithRemoteListener(ln net.Listener) Option {
	return func(r *Router) { r.remoteListener = ln }
}

// New constructs a Router bound to localListener (its well-known local
// socket) and the given route table, applying opts.
func New(localListener net.Listener, id *identity.Identity, table *Table, opts ...Option) *Router {
	r := &Router{
		id:    id,
		log:   logging.Component("router"),
		table: table,
		localListener: localListener,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts accepting connections and the background probing and
// Discovery ingest tasks; it blocks until ctx is cancelled.
func (r *Router) Run(ctx context.Context, disc *discovery.System) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.acceptLoop(ctx, r.localListener, r.handleLocal)

	if r.remoteListener != nil {
		r.wg.Add(1)
		go r.acceptLoop(ctx, r.remoteListener, r.handleRemote)
	}

	r.wg.Add(1)
	go r.probeLoop(ctx)

	if disc != nil {
		r.wg.Add(1)
		go r.discoveryIngestLoop(ctx, disc)
	}

	<-ctx.Done()
	r.wg.Wait()
}

// Close stops all background tasks and closes both listeners.
func (r *Router) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	var firstErr error
	if err := r.localListener.Close(); err != nil {
		firstErr = err
	}
	if r.remoteListener != nil {
		if err := r.remoteListener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Table returns the router's shared route table, for callers populating
// static manifest routes before Run starts.
func (r *Router) Table() *Table { return r.table }

func (r *Router) acceptLoop(ctx context.Context, ln net.Listener, handle func(net.Conn)) {
	defer r.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				r.log.Debug("accept failed", "error", err)
				return
			}
		}
		go handle(conn)
	}
}

// dialCluster picks the best (lowest-RTT) terminal, performs the
// encrypted handshake as initiator, forwards the same CONNECT frame
// inside the tunnel, and awaits one ACK byte before handing back a
// bridgeable connection.
func (r *Router) dialCluster(name string, cluster *RemoteCluster) (net.Conn, error) {
	return r.dialClusterAs(name, cluster, name)
}

// DialAdmin reaches cellName's admin gRPC socket over the same tunnel
// an ordinary route to cellName would use, forwarding a CONNECT frame
// for AdminRouteName instead of cellName itself. cellName must already
// have a RemoteCluster route (a local node's own admin socket is dialed
// directly, never through this path).
func (r *Router) DialAdmin(cellName string) (net.Conn, error) {
	route, ok := r.table.Lookup(cellName)
	if !ok || route.Cluster == nil {
		return nil, fmt.Errorf("router: no remote cluster for %q", cellName)
	}
	return r.dialClusterAs(cellName, route.Cluster, AdminRouteName)
}

func (r *Router) dialClusterAs(name string, cluster *RemoteCluster, frameName string) (net.Conn, error) {
	best, ok := cluster.Best()
	if !ok {
		return nil, fmt.Errorf("router: cluster %q has no terminals", name)
	}
	addr := fmt.Sprintf("%s:%d", best.IP, best.Port)
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return nil, fmt.Errorf("router: dial terminal %s: %w", addr, err)
	}

	priv, pub := r.id.PrivateKey(), r.id.PublicKey()
	session, err := tunnel.Initiate(conn, priv, pub)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("router: handshake with %s: %w", addr, err)
	}
	stream := r.newTunnelConn(conn, session)

	if err := writeConnectFrame(stream, connectFrame{Op: OpConnect, Name: frameName}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("router: forward connect to %s: %w", addr, err)
	}
	ok, err = readResponse(stream)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("router: read ack from %s: %w", addr, err)
	}
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("router: %s NACKed connect to %q", addr, frameName)
	}
	return stream, nil
}

func (r *Router) respondHandshake(conn net.Conn) (*tunnel.Session, error) {
	priv, pub := r.id.PrivateKey(), r.id.PublicKey()
	return tunnel.Respond(conn, priv, pub)
}

func (r *Router) newTunnelConn(conn net.Conn, session *tunnel.Session) *tunnelNetConn {
	return &tunnelNetConn{Conn: conn, Stream: tunnel.NewStream(conn, session)}
}

// probeLoop periodically dials every known terminal to refresh RTT and
// evict ones that have gone quiet.
func (r *Router) probeLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probeOnce()
		}
	}
}

func (r *Router) probeOnce() {
	now := time.Now()
	for name, cluster := range r.table.Clusters() {
		cluster.evictStale(now, terminalMaxAge)
		for _, t := range cluster.All() {
			addr := fmt.Sprintf("%s:%d", t.IP, t.Port)
			start := time.Now()
			conn, err := net.DialTimeout("tcp", addr, probeTimeout)
			if err != nil {
				cluster.updateRTT(t.ID, unreachableRTT)
				r.log.Debug("probe failed", "cluster", name, "terminal", t.ID, "error", err)
				continue
			}
			rtt := time.Since(start)
			conn.Close()
			cluster.updateRTT(t.ID, rtt)
		}
	}
}

// discoveryIngestLoop consumes pheromone signals and materializes them as
// terminals in the matching RemoteCluster, keyed by cell name. Local
// stream and colony routes never come from here: those are static, set
// from the node's manifest before Run starts.
func (r *Router) discoveryIngestLoop(ctx context.Context, disc *discovery.System) {
	defer r.wg.Done()
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ingestOnce(disc)
		}
	}
}

func (r *Router) ingestOnce(disc *discovery.System) {
	now := time.Now()
	for _, sig := range disc.All() {
		if sig.Port == 0 {
			continue // a query signal, not an advertisement
		}
		cluster := r.table.Cluster(sig.CellName)
		cluster.Upsert(Terminal{
			ID:       fmt.Sprintf("%s/%d", sig.CellName, sig.InstanceID),
			IP:       sig.IP,
			Port:     sig.Port,
			LastSeen: now,
		})
	}
}
