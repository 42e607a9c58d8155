package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cell/internal/ring"
)

// RingTransport calls over a pair of shared-memory rings: requests go out
// on tx, responses come back on rx. The channel byte identifies this
// session's slots within a ring that may be shared by several sessions.
type RingTransport struct {
	tx, rx  *ring.Ring
	channel byte

	mu sync.Mutex
}

// NewRingTransport wraps an already-attached ring pair.
func NewRingTransport(tx, rx *ring.Ring, channel byte) *RingTransport {
	return &RingTransport{tx: tx, rx: rx, channel: channel}
}

// Call writes req to tx and polls rx (spin, then yield) for the next
// message on this session's channel, returning its bytes.
func (t *RingTransport) Call(ctx context.Context, req []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, err := t.tx.WaitForSlot(ctx, len(req))
	if err != nil {
		return nil, fmt.Errorf("transport(ring): wait for tx slot: %w", err)
	}
	slot.Write(req, t.channel)
	slot.Commit(len(req))

	return t.pollResponse(ctx)
}

func (t *RingTransport) pollResponse(ctx context.Context) ([]byte, error) {
	return pollChannel(ctx, t.rx, t.channel)
}

// ReceiveRequest blocks (spin, then yield) until a message for this
// session's channel arrives on rx. Used from the responder side of an
// upgraded session, where the membrane reads requests rather than
// issuing calls.
func (t *RingTransport) ReceiveRequest(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return pollChannel(ctx, t.rx, t.channel)
}

// SendResponse writes data to tx as this session's reply. Used from the
// responder side of an upgraded session, the mirror of ReceiveRequest.
func (t *RingTransport) SendResponse(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, err := t.tx.WaitForSlot(ctx, len(data))
	if err != nil {
		return fmt.Errorf("transport(ring): wait for tx slot: %w", err)
	}
	slot.Write(data, t.channel)
	slot.Commit(len(data))
	return nil
}

func pollChannel(ctx context.Context, r *ring.Ring, channel byte) ([]byte, error) {
	spin := 0
	for {
		if msg, ok := r.TryRead(); ok {
			if msg.Channel != channel {
				// A message for a different session sharing this ring;
				// release it and keep polling for ours.
				msg.Release()
				continue
			}
			data := append([]byte(nil), msg.Data...)
			msg.Release()
			return data, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		spin++
		if spin < 10000 {
			continue
		}
		spin = 0
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Microsecond):
		}
	}
}

func (t *RingTransport) Close() error {
	errTx := t.tx.Close()
	errRx := t.rx.Close()
	if errTx != nil {
		return errTx
	}
	return errRx
}
