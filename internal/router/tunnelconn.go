package router

import (
	"net"

	"cell/internal/tunnel"
)

// tunnelNetConn adapts a tunnel.Stream back into a net.Conn so bridge's
// byte pump and the session handlers can treat an encrypted session
// exactly like any other connection: reads and writes go through the
// Stream (and so through the AEAD session), while Close, deadlines, and
// addresses pass through to the underlying socket.
type tunnelNetConn struct {
	net.Conn
	Stream *tunnel.Stream
}

func (c *tunnelNetConn) Read(p []byte) (int, error)  { return c.Stream.Read(p) }
func (c *tunnelNetConn) Write(p []byte) (int, error) { return c.Stream.Write(p) }
func (c *tunnelNetConn) Close() error                { return c.Conn.Close() }
