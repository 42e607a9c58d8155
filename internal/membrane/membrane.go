// Package membrane implements the per-cell server loop: bind a listen
// socket, advertise over discovery, accept connections, and dispatch
// framed requests to cell-supplied channel handlers, special-casing the
// reserved GENOME_REQUEST and SHM_UPGRADE_REQUEST markers.
package membrane

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/gofrs/flock"

	"cell/internal/discovery"
	"cell/internal/logging"
	"cell/internal/wire"
)

// Handler answers one channel-dispatched request with a response, or an
// error to NACK the caller without crashing the accept loop.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Membrane is one cell's server loop.
type Membrane struct {
	name       string
	socketPath string
	genome     []byte

	lock     *flock.Flock
	listener net.Listener

	mu       sync.RWMutex
	handlers map[byte]Handler

	log    *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open binds name's listen socket at socketPath, after acquiring an
// exclusive lock on socketPath+".lock" so two membranes never bind the
// same name on the same node. genome is returned verbatim in answer to
// GENOME_REQUEST.
func Open(name, socketPath string, genome []byte) (*Membrane, error) {
	lock := flock.New(socketPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("membrane: acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("membrane: %s is already bound on this node", name)
	}

	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("membrane: bind %s: %w", socketPath, err)
	}

	return &Membrane{
		name:       name,
		socketPath: socketPath,
		genome:     genome,
		lock:       lock,
		listener:   ln,
		handlers:   make(map[byte]Handler),
		log:        logging.Component("membrane").With("cell", name),
	}, nil
}

// RegisterHandler installs the handler for channel. Must be called before
// Run starts accepting connections.
func (m *Membrane) RegisterHandler(channel byte, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[channel] = h
}

func (m *Membrane) handlerFor(channel byte) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[channel]
	return h, ok
}

// Run accepts connections until ctx is cancelled. If disc is non-nil, the
// cell is advertised under its name at ip:port for the lifetime of Run.
func (m *Membrane) Run(ctx context.Context, disc *discovery.System, ip string, port uint16) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	defer cancel()

	if disc != nil {
		disc.StartSecreting(runCtx, m.name, ip, port)
	}

	m.wg.Add(1)
	go m.acceptLoop(runCtx)

	<-runCtx.Done()
	_ = m.listener.Close()
	m.wg.Wait()
	return nil
}

// Close stops accepting connections and releases the single-instance lock.
func (m *Membrane) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	err := m.listener.Close()
	m.wg.Wait()
	if unlockErr := m.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

func (m *Membrane) acceptLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("accept failed", "err", err)
			continue
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("handler panic recovered", "panic", r)
				}
			}()
			m.serveConn(ctx, conn)
		}()
	}
}

// serveConn runs the dispatch loop against a freshly accepted stream
// connection. On SHM_UPGRADE_REQUEST it switches the remainder of the
// session to the ring transport (platform-specific; see
// membrane_linux.go / membrane_other.go) and continues dispatching there.
func (m *Membrane) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}

		switch {
		case wire.IsMarker(payload, wire.GenomeRequest):
			if err := wire.WriteFrame(conn, m.genome); err != nil {
				return
			}
			continue

		case wire.IsMarker(payload, wire.ShmUpgradeRequest):
			upgraded, err := m.acceptShmUpgrade(ctx, conn)
			if err != nil {
				m.log.Warn("shm upgrade failed", "err", err)
				return
			}
			if upgraded {
				return // serveRing took over this session's lifetime
			}
			continue

		default:
			if len(payload) == 0 {
				return
			}
			channel, body := payload[0], payload[1:]
			resp, err := m.dispatch(ctx, channel, body)
			if err != nil {
				m.log.Debug("handler error", "channel", channel, "err", err)
				if werr := wire.WriteFrame(conn, nil); werr != nil {
					return
				}
				continue
			}
			if err := wire.WriteFrame(conn, resp); err != nil {
				return
			}
		}
	}
}

func (m *Membrane) dispatch(ctx context.Context, channel byte, body []byte) ([]byte, error) {
	h, ok := m.handlerFor(channel)
	if !ok {
		return nil, fmt.Errorf("membrane: no handler registered for channel %d", channel)
	}
	return h(ctx, body)
}
