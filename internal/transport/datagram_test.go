package transport

import (
	"context"
	"net"
	"sync"
	"testing"

	"golang.org/x/crypto/curve25519"

	"cell/internal/tunnel"
	"cell/internal/wire"
)

func handshakeOverPipe(t *testing.T) (client, server *tunnel.Session) {
	t.Helper()
	a, b := net.Pipe()

	keyPair := func(seed byte) (priv, pub [32]byte) {
		priv[0] = seed
		p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
		if err != nil {
			t.Fatalf("derive static key: %v", err)
		}
		copy(pub[:], p)
		return priv, pub
	}
	clientPriv, clientPub := keyPair(1)
	serverPriv, serverPub := keyPair(2)

	var wg sync.WaitGroup
	wg.Add(2)
	var initErr, respErr error
	go func() {
		defer wg.Done()
		client, initErr = tunnel.Initiate(a, clientPriv, clientPub)
	}()
	go func() {
		defer wg.Done()
		server, respErr = tunnel.Respond(b, serverPriv, serverPub)
	}()
	wg.Wait()
	if initErr != nil {
		t.Fatalf("Initiate: %v", initErr)
	}
	if respErr != nil {
		t.Fatalf("Respond: %v", respErr)
	}
	return client, server
}

func TestDatagramTransportCallRoundTrip(t *testing.T) {
	clientSession, serverSession := handshakeOverPipe(t)
	a, b := net.Pipe()

	clientTransport := NewDatagramTransport(tunnel.NewStream(a, clientSession))
	serverStream := tunnel.NewStream(b, serverSession)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, err := wire.ReadFrame(serverStream)
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if string(req) != "hello" {
			t.Errorf("server got %q", req)
			return
		}
		if err := wire.WriteFrame(serverStream, []byte("world")); err != nil {
			t.Errorf("server write: %v", err)
		}
	}()

	resp, err := clientTransport.Call(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp) != "world" {
		t.Fatalf("got %q, want %q", resp, "world")
	}
	<-done
}
