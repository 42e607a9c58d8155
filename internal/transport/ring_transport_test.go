//go:build linux

package transport

import (
	"context"
	"testing"
	"time"

	"cell/internal/ring"
)

func newTestRingTransport(t *testing.T) (*RingTransport, *RingTransport) {
	t.Helper()
	a, err := ring.Create("transport-test-a")
	if err != nil {
		t.Fatalf("create ring a: %v", err)
	}
	b, err := ring.Create("transport-test-b")
	if err != nil {
		t.Fatalf("create ring b: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	// client writes to a, reads from b; server mirrors that.
	client := NewRingTransport(a, b, 1)
	server := NewRingTransport(b, a, 1)
	return client, server
}

func TestRingTransportCallRoundTrip(t *testing.T) {
	client, server := newTestRingTransport(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		msg, ok := server.rx.TryRead()
		for !ok {
			select {
			case <-ctx.Done():
				t.Errorf("server: timed out waiting for request")
				return
			default:
			}
			msg, ok = server.rx.TryRead()
		}
		if string(msg.Data) != "ping" {
			t.Errorf("server got %q, want %q", msg.Data, "ping")
		}
		msg.Release()

		slot, err := server.tx.WaitForSlot(ctx, len("pong"))
		if err != nil {
			t.Errorf("server wait for slot: %v", err)
			return
		}
		slot.Write([]byte("pong"), 1)
		slot.Commit(len("pong"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Call(ctx, []byte("ping"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp) != "pong" {
		t.Fatalf("got %q, want %q", resp, "pong")
	}
	<-done
}

func TestRingTransportCallTimesOutWithNoResponder(t *testing.T) {
	client, _ := newTestRingTransport(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Call(ctx, []byte("ping")); err == nil {
		t.Fatalf("expected timeout error")
	}
}
