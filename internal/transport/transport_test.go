package transport

import (
	"context"
	"io"
	"testing"

	"cell/internal/wire"
)

type pipeConn struct {
	io.Reader
	io.Writer
	closed bool
}

func (p *pipeConn) Close() error {
	p.closed = true
	return nil
}

func newPipeTransports() (*StreamTransport, *StreamTransport) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := &pipeConn{Reader: ar, Writer: aw}
	b := &pipeConn{Reader: br, Writer: bw}
	return NewStreamTransport(a), NewStreamTransport(b)
}

func TestStreamTransportCallRoundTrip(t *testing.T) {
	client, server := newPipeTransports()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, err := wire.ReadFrame(server.Conn())
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if string(req) != "ping" {
			t.Errorf("server got %q, want %q", req, "ping")
		}
		if err := wire.WriteFrame(server.Conn(), []byte("pong")); err != nil {
			t.Errorf("server write: %v", err)
		}
	}()

	resp, err := client.Call(context.Background(), []byte("ping"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp) != "pong" {
		t.Fatalf("got %q, want %q", resp, "pong")
	}
	<-done
}

func TestStreamTransportCallRespectsCancelledContext(t *testing.T) {
	client, server := newPipeTransports()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Call(ctx, []byte("ping")); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}

func TestStreamTransportCloseClosesConn(t *testing.T) {
	client, _ := newPipeTransports()
	underlying := client.Conn().(*pipeConn)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !underlying.closed {
		t.Fatalf("expected underlying conn to be closed")
	}
}
