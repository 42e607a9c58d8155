package adminapi

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/siderolabs/grpc-proxy/proxy"
	"google.golang.org/grpc/metadata"
)

func TestDirectorFallsBackToLocalWithoutTargetHeader(t *testing.T) {
	d := NewDirector(NewLocalBackend("/tmp/unused.sock"), func(string) (net.Conn, error) { return nil, nil })

	mode, backends, err := d.Director(context.Background(), "/cell.admin.v1.Admin/Routes")
	if err != nil {
		t.Fatalf("Director: %v", err)
	}
	if mode != proxy.One2One || len(backends) != 1 || backends[0].String() != "local" {
		t.Fatalf("got mode=%v backends=%v, want one local backend", mode, backends)
	}
}

func TestDirectorResolvesRemoteBackendFromTargetHeader(t *testing.T) {
	var dialed string
	dial := func(cellName string) (net.Conn, error) {
		dialed = cellName
		return nil, errors.New("dial not exercised by this test")
	}
	d := NewDirector(NewLocalBackend("/tmp/unused.sock"), dial)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(TargetHeader, "cellB"))
	mode, backends, err := d.Director(ctx, "/cell.admin.v1.Admin/Routes")
	if err != nil {
		t.Fatalf("Director: %v", err)
	}
	if mode != proxy.One2One {
		t.Fatalf("got mode %v, want One2One", mode)
	}
	if len(backends) != 1 || backends[0].String() != "cellB" {
		t.Fatalf("got backends %v, want one backend named cellB", backends)
	}

	_, _, _ = backends[0].GetConnection(context.Background(), "/cell.admin.v1.Admin/Routes")
	if dialed != "cellB" {
		t.Fatalf("dial called with %q, want cellB", dialed)
	}
}

func TestDirectorCachesRemoteBackendPerCell(t *testing.T) {
	calls := 0
	dial := func(string) (net.Conn, error) {
		calls++
		return nil, errors.New("dial not exercised by this test")
	}
	d := NewDirector(NewLocalBackend("/tmp/unused.sock"), dial)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(TargetHeader, "cellB"))

	_, first, _ := d.Director(ctx, "/cell.admin.v1.Admin/Routes")
	_, second, _ := d.Director(ctx, "/cell.admin.v1.Admin/Registry")
	if first[0] != second[0] {
		t.Fatal("expected the same cached RemoteBackend across calls for the same cell")
	}
}
