package adminapi

import (
	"context"
	"net"
	"sync"

	"github.com/siderolabs/grpc-proxy/proxy"
	"google.golang.org/grpc/metadata"
)

// TargetHeader is the gRPC metadata key an admin client sets to name the
// peer cell whose admin surface a call should reach. Absent or empty,
// the call is served by this node's own introspector.
const TargetHeader = "admin-target-cell"

// Dialer opens a bridgeable stream to a peer cell's admin socket. It is
// satisfied by Router.DialAdmin; kept as a function type here so this
// package never imports internal/router.
type Dialer func(cellName string) (net.Conn, error)

// Director implements proxy.StreamDirector. It always proxies in
// One2One mode: the admin surface reaches exactly one target per call,
// never the multi-machine fan-out a control-plane proxy might offer.
type Director struct {
	local *LocalBackend
	dial  Dialer

	mu      sync.Mutex
	remotes map[string]*RemoteBackend
}

// NewDirector builds a Director serving local for calls with no target
// header, and dialing dial(cellName) for calls naming a peer.
func NewDirector(local *LocalBackend, dial Dialer) *Director {
	return &Director{local: local, dial: dial, remotes: make(map[string]*RemoteBackend)}
}

// Director resolves the backend(s) for fullMethodName per grpc-proxy's
// proxy.StreamDirector contract.
func (d *Director) Director(ctx context.Context, _ string) (proxy.Mode, []proxy.Backend, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return proxy.One2One, []proxy.Backend{d.local}, nil
	}
	targets := md.Get(TargetHeader)
	if len(targets) == 0 || targets[0] == "" {
		return proxy.One2One, []proxy.Backend{d.local}, nil
	}

	cellName := targets[0]
	d.mu.Lock()
	backend, ok := d.remotes[cellName]
	if !ok {
		backend = NewRemoteBackend(cellName, func() (net.Conn, error) { return d.dial(cellName) })
		d.remotes[cellName] = backend
	}
	d.mu.Unlock()

	return proxy.One2One, []proxy.Backend{backend}, nil
}

// Close closes every cached remote backend connection.
func (d *Director) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.remotes {
		b.Close()
	}
}
