package transport

import (
	"context"
	"fmt"
	"sync"

	"cell/internal/tunnel"
	"cell/internal/wire"
)

// DatagramTransport calls over an already-authenticated tunnel.Stream: a
// bidirectional substream of an encrypted connection to a peer node.
type DatagramTransport struct {
	mu     sync.Mutex
	stream *tunnel.Stream
}

// NewDatagramTransport wraps a Stream established by a prior handshake.
func NewDatagramTransport(stream *tunnel.Stream) *DatagramTransport {
	return &DatagramTransport{stream: stream}
}

// Call writes req as a length-prefixed frame over the encrypted stream and
// returns the next frame read back.
func (t *DatagramTransport) Call(ctx context.Context, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := wire.WriteFrame(t.stream, req); err != nil {
		return nil, fmt.Errorf("transport(datagram): write request: %w", err)
	}
	resp, err := wire.ReadFrame(t.stream)
	if err != nil {
		return nil, fmt.Errorf("transport(datagram): read response: %w", err)
	}
	return resp, nil
}

func (t *DatagramTransport) Close() error {
	return t.stream.Close()
}
