//go:build linux || darwin

package discovery

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenPacket binds a UDP socket on port with SO_REUSEADDR, SO_REUSEPORT,
// and SO_BROADCAST set before bind, so multiple cells on the same host can
// all listen on the well-known discovery port.
func listenPacket(ctx context.Context, network, address string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctlErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctlErr = err
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctlErr = err
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
					ctlErr = err
					return
				}
			})
			if err != nil {
				return err
			}
			return ctlErr
		},
	}
	return lc.ListenPacket(ctx, network, address)
}
