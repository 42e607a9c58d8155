package router

import (
	"fmt"
	"net"
)

// sessionState tracks a session through the states a local client or
// incoming remote connection passes through before it is either bridged
// or dropped. There is no reconnection inside a session: a client that
// wants to try again dials a fresh connection.
type sessionState int

const (
	stateFresh sessionState = iota
	stateAwaitingOp
	stateRouting
	stateRejected
	stateBridged
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateFresh:
		return "fresh"
	case stateAwaitingOp:
		return "awaiting_op"
	case stateRouting:
		return "routing"
	case stateRejected:
		return "rejected"
	case stateBridged:
		return "bridged"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// handleLocal drives one accepted local connection from Fresh through to
// Bridged or Closed: read the CONNECT frame, resolve against the full
// route table (local stream, colony, or remote cluster), ACK or NACK,
// and bridge on success.
func (r *Router) handleLocal(conn net.Conn) {
	log := r.log.With("remote_addr", conn.RemoteAddr())
	state := stateFresh
	defer func() {
		if state != stateBridged {
			_ = conn.Close()
		}
	}()

	state = stateAwaitingOp
	frame, err := readConnectFrame(conn)
	if err != nil {
		log.Debug("router session: malformed request", "error", err)
		state = stateClosed
		return
	}
	if frame.Op != OpConnect {
		log.Debug("router session: unsupported op", "op", frame.Op)
		state = stateClosed
		return
	}

	state = stateRouting
	target, err := r.dial(frame.Name, true)
	if err != nil {
		log.Debug("router session: route miss or dial failure", "name", frame.Name, "error", err)
		state = stateRejected
		_ = writeResponse(conn, false)
		return
	}
	if err := writeResponse(conn, true); err != nil {
		state = stateClosed
		_ = target.Close()
		return
	}

	state = stateBridged
	log.Debug("router session: bridged", "name", frame.Name)
	bridge(conn, target)
}

// handleRemote drives one accepted remote connection: perform the
// handshake as responder, read one CONNECT frame, resolve to a local
// stream or colony only (remote clients may not pivot to another remote
// cluster — an amplification guard), ACK/NACK, then bridge.
func (r *Router) handleRemote(conn net.Conn) {
	log := r.log.With("remote_addr", conn.RemoteAddr())

	session, err := r.respondHandshake(conn)
	if err != nil {
		log.Debug("router remote session: handshake failed", "error", err)
		_ = conn.Close()
		return
	}
	stream := r.newTunnelConn(conn, session)

	frame, err := readConnectFrame(stream)
	if err != nil || frame.Op != OpConnect {
		log.Debug("router remote session: malformed or unsupported request", "error", err)
		_ = conn.Close()
		return
	}

	target, err := r.dial(frame.Name, false)
	if err != nil {
		log.Debug("router remote session: route miss or dial failure", "name", frame.Name, "error", err)
		_ = writeResponse(stream, false)
		_ = conn.Close()
		return
	}
	if err := writeResponse(stream, true); err != nil {
		_ = conn.Close()
		_ = target.Close()
		return
	}

	log.Debug("router remote session: bridged", "name", frame.Name)
	bridge(stream, target)
}

// dial resolves name against the route table and connects to it.
// allowRemote gates whether a RemoteCluster route may be followed: local
// sessions may pivot anywhere, but a connection already arriving over
// the tunnel from a remote node must not be allowed to pivot to a
// second remote hop, which would turn this node into an open relay.
func (r *Router) dial(name string, allowRemote bool) (net.Conn, error) {
	route, ok := r.table.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("router: no route for %q", name)
	}
	switch {
	case route.Local != nil:
		return net.Dial("unix", route.Local.Path)
	case route.Colony != nil:
		return r.dialColony(route.Colony)
	case route.Cluster != nil:
		if !allowRemote {
			return nil, fmt.Errorf("router: remote clients may not route to a remote cluster (%q)", name)
		}
		return r.dialCluster(name, route.Cluster)
	default:
		return nil, fmt.Errorf("router: route for %q has no target kind set", name)
	}
}

func (r *Router) dialColony(c *Colony) (net.Conn, error) {
	var lastErr error
	for _, path := range c.next() {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("router: colony has no members")
	}
	return nil, lastErr
}
