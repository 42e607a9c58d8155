package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// KernelCells are spawned unconditionally on supervisor start, at a
// well-known placement, before any user cell.
var KernelCells = []string{"builder", "router", "discovery-gateway"}

const kernelReadyDeadline = 30 * time.Second

// IgniteKernel spawns every kernel cell and blocks until each is
// reachable on its socket, or the readiness deadline elapses.
func (s *Supervisor) IgniteKernel(ctx context.Context, nodeID string) ([]*Child, error) {
	children := make([]*Child, 0, len(KernelCells))
	for _, name := range KernelCells {
		cfg := CellConfig{
			NodeID:     nodeID,
			CellName:   name,
			SocketPath: filepath.Join(s.SocketDir, name+".sock"),
		}
		child, err := s.Spawn(ctx, name, cfg, nil)
		if err != nil {
			return children, fmt.Errorf("supervisor: spawn kernel cell %s: %w", name, err)
		}
		if err := WaitReady(ctx, child.SocketPath, kernelReadyDeadline); err != nil {
			return children, fmt.Errorf("supervisor: kernel cell %s not ready: %w", name, err)
		}
		children = append(children, child)
	}
	return children, nil
}
