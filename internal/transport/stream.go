package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"cell/internal/wire"
)

// StreamTransport serializes calls over a local bidirectional byte
// stream. Each instance owns its stream exclusively; concurrent Call
// invocations are serialized by a mutex rather than multiplexed.
type StreamTransport struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
}

// NewStreamTransport wraps an established connection.
func NewStreamTransport(conn io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{conn: conn}
}

// Call writes req as one length-prefixed frame and returns the next frame
// read back. Cancellation is only honored between calls: once the write
// or read has begun, ctx is not polled, because a stream offers no way to
// abort a frame in flight without corrupting the session.
func (t *StreamTransport) Call(ctx context.Context, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := wire.WriteFrame(t.conn, req); err != nil {
		return nil, fmt.Errorf("transport(stream): write request: %w", err)
	}
	resp, err := wire.ReadFrame(t.conn)
	if err != nil {
		return nil, fmt.Errorf("transport(stream): read response: %w", err)
	}
	return resp, nil
}

func (t *StreamTransport) Close() error { return t.conn.Close() }

// Conn exposes the underlying connection, for callers (e.g. the upgrade
// handshake) that need to read/write raw bytes outside the Call framing.
func (t *StreamTransport) Conn() io.ReadWriteCloser { return t.conn }
