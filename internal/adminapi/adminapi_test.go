package adminapi

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"cell/internal/router"
)

type fakeIntrospector struct {
	routes *structpb.Struct
}

func (f *fakeIntrospector) Routes(context.Context) (*structpb.Struct, error) { return f.routes, nil }

func (f *fakeIntrospector) Registry(context.Context) (*structpb.Struct, error) {
	return structpb.NewStruct(nil)
}

func (f *fakeIntrospector) RaftStatus(context.Context) (*structpb.Struct, error) {
	return structpb.NewStruct(nil)
}

func TestServerProxiesLocalCallsToInternalService(t *testing.T) {
	dir := t.TempDir()
	publicSock := filepath.Join(dir, "admin.sock")

	want, err := structpb.NewStruct(map[string]interface{}{"cellA": "10.0.0.1:7331"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	introspector := &fakeIntrospector{routes: want}
	noDial := func(string) (net.Conn, error) { return nil, errors.New("no remote cells in this test") }

	table := router.NewTable()
	srv := Open(table, publicSock, introspector, noDial)

	route, ok := table.Lookup(router.AdminRouteName)
	if !ok || route.Local == nil || route.Local.Path != publicSock+".internal" {
		t.Fatalf("expected a Local route for %q pointing at the internal socket, got %+v (ok=%v)", router.AdminRouteName, route, ok)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}()

	waitForSocket(t, publicSock)

	conn, err := grpc.NewClient("unix://"+publicSock, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()

	req := new(structpb.Struct)
	reply := new(structpb.Struct)
	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	if err := conn.Invoke(callCtx, "/cell.admin.v1.Admin/Routes", req, reply); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := reply.Fields["cellA"].GetStringValue(); got != "10.0.0.1:7331" {
		t.Fatalf("got reply cellA=%q, want 10.0.0.1:7331", got)
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}
