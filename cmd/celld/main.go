// Command celld is the node daemon: it holds a node's identity, route
// table, discovery listener, and admin surface, and supervises the cell
// processes that run on top of them. Spawning a concrete cell from a
// manifest is out of scope here; celld boots the plumbing a cell relies
// on and leaves cell lifecycle to whatever drives the Supervisor.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"cell/internal/buildinfo"
	"cell/internal/config"
	"cell/internal/discovery"
	"cell/internal/identity"
	"cell/internal/logging"
	"cell/internal/registry"
	"cell/internal/ribosome"
	"cell/internal/router"
	"cell/internal/supervisor"
)

func main() {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:     "celld",
		Short:   "cell mesh node daemon",
		Version: buildinfo.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level, logging.FormatText)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "path to node config file")
	return cmd
}

func defaultConfigPath() string {
	return filepath.Join(config.DefaultDataRoot(), "celld.yaml")
}

// node bundles every long-lived subsystem a running daemon owns, so Run
// can start them together and Close can tear them down.
type node struct {
	log    *slog.Logger
	cfg    config.Config
	id     *identity.Identity
	table  *router.Table
	r      *router.Router
	disc   *discovery.System
	store  *registry.Store
	mirror *registry.Mirror
	super  *supervisor.Supervisor
	ribo   *ribosome.Ribosome

	localLn  net.Listener
	remoteLn net.Listener
}

func run(ctx context.Context, configPath string) error {
	log := logging.Component("celld")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, dir := range []string{cfg.DataRoot, cfg.SocketDir, cfg.BinaryDir(), cfg.RibosomeMetaDir(), cfg.WALDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	n, err := newNode(ctx, log, cfg)
	if err != nil {
		return err
	}
	if cfg.NodeID == "" {
		cfg.NodeID = n.id.Fingerprint()
		if err := cfg.Save(configPath); err != nil {
			log.Warn("failed to persist generated node id", "error", err)
		}
	}
	defer n.Close()

	log.Info("celld starting", "node_id", cfg.NodeID, "data_root", cfg.DataRoot)
	n.Run(ctx)
	log.Info("celld stopped")
	return nil
}

func newNode(ctx context.Context, log *slog.Logger, cfg config.Config) (*node, error) {
	id, err := identity.Load(filepath.Join(cfg.DataRoot, "node.key"))
	if err != nil {
		return nil, err
	}
	if cfg.NodeID == "" {
		cfg.NodeID = id.Fingerprint()
	}

	store, err := registry.Open(cfg.RegistryPath())
	if err != nil {
		return nil, err
	}

	table := router.NewTable()
	mirror := registry.NewMirror(store, table)
	if err := mirror.LoadInto(); err != nil {
		log.Warn("failed to seed route table from persisted registry", "error", err)
	}

	localSock := filepath.Join(cfg.SocketDir, "router.sock")
	_ = os.Remove(localSock)
	localLn, err := net.Listen("unix", localSock)
	if err != nil {
		return nil, err
	}

	remoteLn, err := net.Listen("tcp", ":0")
	if err != nil {
		localLn.Close()
		return nil, err
	}

	r := router.New(localLn, id, table, router.WithRemoteListener(remoteLn))

	disc, err := discovery.Ignite(ctx, cfg.NodeID, discovery.WithSocketDir(cfg.SocketDir), discovery.WithPort(cfg.DiscoveryPort))
	if err != nil {
		localLn.Close()
		remoteLn.Close()
		return nil, err
	}

	super := supervisor.New(cfg.BinaryDir(), cfg.SocketDir)
	super.SandboxBinary = cfg.SandboxBinary
	ribo := ribosome.New(cfg.BinaryDir(), cfg.RibosomeMetaDir())

	return &node{
		log:      log,
		cfg:      cfg,
		id:       id,
		table:    table,
		r:        r,
		disc:     disc,
		store:    store,
		mirror:   mirror,
		super:    super,
		ribo:     ribo,
		localLn:  localLn,
		remoteLn: remoteLn,
	}, nil
}

// Run starts every background task and blocks until ctx is cancelled.
func (n *node) Run(ctx context.Context) {
	adminSock := filepath.Join(n.cfg.DataRoot, "admin.sock")
	admin := newAdminServer(n.table, adminSock, n, n.r.DialAdmin)

	done := make(chan struct{}, 3)
	go func() { n.r.Run(ctx, n.disc); done <- struct{}{} }()
	go func() { n.mirror.Run(ctx); done <- struct{}{} }()
	go func() {
		if err := admin.Run(ctx); err != nil {
			n.log.Error("admin surface exited", "error", err)
		}
		done <- struct{}{}
	}()

	<-ctx.Done()
	<-done
	<-done
	<-done
}

// Close releases every resource newNode acquired.
func (n *node) Close() {
	_ = n.r.Close()
	_ = n.disc.Close()
	_ = n.store.Close()
}
