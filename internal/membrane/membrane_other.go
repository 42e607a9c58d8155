//go:build !linux

package membrane

import (
	"context"
	"fmt"
	"net"
)

// acceptShmUpgrade is unsupported outside Linux, which is the only
// platform internal/ring can allocate a sealed memfd on. It returns an
// error, which the stream dispatch loop logs before closing the session
// without a reply, rather than continuing the stream loop against a
// half-negotiated upgrade.
func (m *Membrane) acceptShmUpgrade(ctx context.Context, conn net.Conn) (bool, error) {
	return false, fmt.Errorf("membrane: shared-memory ring transport is not supported on this platform")
}
