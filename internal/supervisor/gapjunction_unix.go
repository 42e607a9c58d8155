//go:build linux || darwin

package supervisor

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// newGapJunction creates a connected socket pair: one end stays with the
// supervisor as a net.Conn for the bootstrap handshake, the other is
// handed to exec.Cmd.ExtraFiles so it lands on the child's FD 3.
func newGapJunction() (supervisorEnd net.Conn, childEnd *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: socketpair: %w", err)
	}
	supervisorFile := os.NewFile(uintptr(fds[0]), "gap-junction-supervisor")
	childFile := os.NewFile(uintptr(fds[1]), "gap-junction-child")

	conn, err := net.FileConn(supervisorFile)
	if err != nil {
		supervisorFile.Close()
		childFile.Close()
		return nil, nil, fmt.Errorf("supervisor: wrap gap junction: %w", err)
	}
	// net.FileConn dup'd the fd into conn; the os.File wrapper for our
	// own end can be closed now that conn owns a live descriptor.
	supervisorFile.Close()
	return conn, childFile, nil
}
