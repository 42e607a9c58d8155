// Package adminapi implements each node's administrative gRPC surface:
// a local introspection service fronted by a transparent proxy that can
// also forward a call to a peer cell's own admin surface, over the same
// encrypted tunnel ordinary named routes use.
package adminapi

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/siderolabs/grpc-proxy/proxy"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// passthroughBackend implements the AppendInfo/BuildError half of
// proxy.Backend with a no-op pass-through, since every backend here is
// used in proxy.One2One mode, where grpc-proxy never calls either.
type passthroughBackend struct {
	label string
}

func (b passthroughBackend) String() string { return b.label }

func (passthroughBackend) AppendInfo(_ bool, resp []byte) ([]byte, error) { return resp, nil }

func (passthroughBackend) BuildError(_ bool, err error) ([]byte, error) { return nil, err }

// LocalBackend proxies to this node's own admin service on its
// internal-only socket.
type LocalBackend struct {
	passthroughBackend
	sockPath string

	mu   sync.Mutex
	conn *grpc.ClientConn
}

var _ proxy.Backend = (*LocalBackend)(nil)

// NewLocalBackend returns a backend dialing sockPath lazily on first use.
func NewLocalBackend(sockPath string) *LocalBackend {
	return &LocalBackend{passthroughBackend: passthroughBackend{label: "local"}, sockPath: sockPath}
}

// GetConnection implements proxy.Backend.
func (b *LocalBackend) GetConnection(ctx context.Context, _ string) (context.Context, *grpc.ClientConn, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	outCtx := metadata.NewOutgoingContext(ctx, md)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return outCtx, b.conn, nil
	}

	conn, err := grpc.NewClient(
		"unix://"+b.sockPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.ForceCodecV2(proxy.Codec())),
	)
	if err != nil {
		return outCtx, nil, err
	}
	b.conn = conn
	return outCtx, conn, nil
}

// Close closes the cached client connection, if any.
func (b *LocalBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// RemoteBackend proxies to a peer cell's admin service by dialing it
// through dial, which reuses the Router's own RemoteCluster tunnel path
// rather than opening a second connection of its own: the admin surface
// carries no wire protocol beyond what Router.DialAdmin already speaks.
type RemoteBackend struct {
	passthroughBackend
	dial func() (net.Conn, error)

	mu   sync.Mutex
	conn *grpc.ClientConn
}

var _ proxy.Backend = (*RemoteBackend)(nil)

// NewRemoteBackend returns a backend that calls dial on first use to
// obtain a bridgeable tunnel stream to cellName's admin socket.
func NewRemoteBackend(cellName string, dial func() (net.Conn, error)) *RemoteBackend {
	return &RemoteBackend{passthroughBackend: passthroughBackend{label: cellName}, dial: dial}
}

// GetConnection implements proxy.Backend. The underlying tunnel stream
// is consumed exactly once: grpc multiplexes every subsequent RPC over
// the same HTTP/2 transport, so one dial serves the backend's lifetime.
func (b *RemoteBackend) GetConnection(ctx context.Context, _ string) (context.Context, *grpc.ClientConn, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	outCtx := metadata.NewOutgoingContext(ctx, md)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return outCtx, b.conn, nil
	}

	stream, err := b.dial()
	if err != nil {
		return outCtx, nil, fmt.Errorf("adminapi: dial %s: %w", b.label, err)
	}

	consumed := false
	conn, err := grpc.NewClient(
		"passthrough:///"+b.label,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			if consumed {
				return nil, fmt.Errorf("adminapi: tunnel stream to %s already consumed", b.label)
			}
			consumed = true
			return stream, nil
		}),
		grpc.WithDefaultCallOptions(grpc.ForceCodecV2(proxy.Codec())),
	)
	if err != nil {
		stream.Close()
		return outCtx, nil, err
	}
	b.conn = conn
	return outCtx, conn, nil
}

// Close closes the cached client connection, if any.
func (b *RemoteBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
