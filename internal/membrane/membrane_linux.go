//go:build linux

package membrane

import (
	"context"
	"fmt"
	"net"

	"cell/internal/transport"
)

// acceptShmUpgrade negotiates the switch to the ring transport and, on
// success, takes over serving this session itself (returning true so the
// caller's stream dispatch loop stops touching conn).
func (m *Membrane) acceptShmUpgrade(ctx context.Context, conn net.Conn) (bool, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return false, fmt.Errorf("membrane: shm upgrade requires a unix socket connection")
	}
	rt, err := transport.AcceptRingUpgrade(unixConn, m.socketPath, 0)
	if err != nil {
		return false, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer rt.Close()
		defer conn.Close()
		m.serveRing(ctx, rt)
	}()
	return true, nil
}

func (m *Membrane) serveRing(ctx context.Context, rt *transport.RingTransport) {
	for {
		req, err := rt.ReceiveRequest(ctx)
		if err != nil {
			return
		}
		if len(req) == 0 {
			continue
		}
		channel, body := req[0], req[1:]
		resp, err := m.dispatch(ctx, channel, body)
		if err != nil {
			m.log.Debug("handler error (ring)", "channel", channel, "err", err)
			resp = nil
		}
		if err := rt.SendResponse(ctx, resp); err != nil {
			return
		}
	}
}
