//go:build !linux && !darwin

package discovery

import (
	"context"
	"net"
)

// listenPacket falls back to a plain listen without SO_REUSEPORT on
// platforms where the unix socket option constants aren't available.
// Multiple cells sharing a host on such platforms cannot both bind the
// discovery port; this is a known limitation outside the primary target.
func listenPacket(ctx context.Context, network, address string) (net.PacketConn, error) {
	var lc net.ListenConfig
	return lc.ListenPacket(ctx, network, address)
}
