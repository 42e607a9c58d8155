package membrane

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cell/internal/wire"
)

func TestOpenRejectsSecondBindOfSameSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hepatocyte.sock")

	m1, err := Open("hepatocyte", path, []byte("genome-v1"))
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer m1.Close()

	if _, err := Open("hepatocyte", path, []byte("genome-v1")); err == nil {
		t.Fatalf("expected second Open of the same socket to fail")
	}
}

func TestServeConnAnswersGenomeRequest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hepatocyte.sock")
	m, err := Open("hepatocyte", path, []byte("genome-v1"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx, nil, "", 0) }()
	time.Sleep(20 * time.Millisecond)

	conn := dialWithRetry(t, path)
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.GenomeRequest); err != nil {
		t.Fatalf("write genome request: %v", err)
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read genome response: %v", err)
	}
	if string(resp) != "genome-v1" {
		t.Fatalf("got genome %q, want genome-v1", resp)
	}
}

func TestServeConnDispatchesToRegisteredChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hepatocyte.sock")
	m, err := Open("hepatocyte", path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	m.RegisterHandler(7, func(ctx context.Context, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		for i, b := range payload {
			out[i] = b + 1
		}
		return out, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx, nil, "", 0) }()
	time.Sleep(20 * time.Millisecond)

	conn := dialWithRetry(t, path)
	defer conn.Close()

	req := append([]byte{7}, []byte("abc")...)
	if err := wire.WriteFrame(conn, req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if string(resp) != "bcd" {
		t.Fatalf("got response %q, want bcd", resp)
	}
}

func TestServeConnNacksUnregisteredChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hepatocyte.sock")
	m, err := Open("hepatocyte", path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx, nil, "", 0) }()
	time.Sleep(20 * time.Millisecond)

	conn := dialWithRetry(t, path)
	defer conn.Close()

	if err := wire.WriteFrame(conn, []byte{99, 'x'}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if len(resp) != 0 {
		t.Fatalf("expected an empty NACK payload for an unregistered channel, got %q", resp)
	}
}
