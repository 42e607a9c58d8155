package adminapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/siderolabs/grpc-proxy/proxy"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"cell/internal/logging"
	"cell/internal/router"
)

// Server is a node's admin gRPC surface: a real Introspector service
// bound to an internal-only Unix socket, fronted by a transparent proxy
// bound to the public-facing admin socket. A call with no TargetHeader
// metadata is forwarded to the internal socket; a call naming a peer
// cell is forwarded through Dialer instead, never touching the local
// service at all.
type Server struct {
	internalSockPath string
	publicSockPath   string

	direct   *grpc.Server
	proxySrv *grpc.Server
	director *Director

	log *slog.Logger
}

// Open prepares a Server. publicSockPath is the node's admin socket;
// internalSockPath is derived from it and never
// exposed to anything other than this process's own proxy. table is
// given a Local route under router.AdminRouteName pointing at
// internalSockPath, so a peer's Router can bridge an incoming
// DialAdmin connect frame straight to this node's internal socket the
// same way it would bridge any other local route.
func Open(table *router.Table, publicSockPath string, introspector Introspector, dial Dialer) *Server {
	internalSockPath := publicSockPath + ".internal"
	table.SetLocal(router.AdminRouteName, internalSockPath)

	direct := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterAdminServer(direct, introspector)

	director := NewDirector(NewLocalBackend(internalSockPath), dial)
	proxySrv := grpc.NewServer(
		grpc.ForceServerCodecV2(proxy.Codec()),
		grpc.UnknownServiceHandler(proxy.TransparentHandler(director.Director)),
	)

	return &Server{
		internalSockPath: internalSockPath,
		publicSockPath:   publicSockPath,
		direct:           direct,
		proxySrv:         proxySrv,
		director:         director,
		log:              logging.Component("adminapi"),
	}
}

// Run binds both Unix sockets and serves until ctx is cancelled or a
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.internalSockPath)
	internalLn, err := net.Listen("unix", s.internalSockPath)
	if err != nil {
		return fmt.Errorf("adminapi: listen internal socket: %w", err)
	}
	_ = os.Remove(s.publicSockPath)
	publicLn, err := net.Listen("unix", s.publicSockPath)
	if err != nil {
		internalLn.Close()
		return fmt.Errorf("adminapi: listen admin socket: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- s.direct.Serve(internalLn) }()
	go func() { errCh <- s.proxySrv.Serve(publicLn) }()

	var retErr error
	select {
	case <-ctx.Done():
		s.log.Info("admin surface shutting down")
	case retErr = <-errCh:
		s.log.Error("admin listener exited", "error", retErr)
	}

	s.proxySrv.GracefulStop()
	s.direct.GracefulStop()
	s.director.Close()
	_ = os.Remove(s.publicSockPath)
	_ = os.Remove(s.internalSockPath)
	return retErr
}
