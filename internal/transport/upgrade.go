//go:build linux

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"cell/internal/ring"
	"cell/internal/wire"
)

// UpgradeToRing negotiates a switch from a stream session to the shared
// memory ring transport over conn, which must be the Unix domain socket
// backing st. The caller plays the client role: it sends
// wire.ShmUpgradeRequest, waits for wire.ShmUpgradeAck, then receives two
// ring file descriptors (tx, rx from the client's point of view) passed
// as SCM_RIGHTS ancillary data on conn. On success it returns a
// RingTransport built from the attached rings; st should not be used again.
func UpgradeToRing(st *StreamTransport, conn *net.UnixConn, channel byte) (*RingTransport, error) {
	if err := wire.WriteFrame(st.Conn(), wire.ShmUpgradeRequest); err != nil {
		return nil, fmt.Errorf("transport(upgrade): send request: %w", err)
	}
	ack, err := wire.ReadFrame(st.Conn())
	if err != nil {
		return nil, fmt.Errorf("transport(upgrade): read ack: %w", err)
	}
	if !wire.IsMarker(ack, wire.ShmUpgradeAck) {
		return nil, fmt.Errorf("transport(upgrade): unexpected ack payload %q", ack)
	}

	fds, err := recvFds(conn, 2)
	if err != nil {
		return nil, fmt.Errorf("transport(upgrade): receive ring fds: %w", err)
	}
	txRing, err := ring.Attach(fds[0])
	if err != nil {
		return nil, fmt.Errorf("transport(upgrade): attach tx ring: %w", err)
	}
	rxRing, err := ring.Attach(fds[1])
	if err != nil {
		txRing.Close()
		return nil, fmt.Errorf("transport(upgrade): attach rx ring: %w", err)
	}
	return NewRingTransport(txRing, rxRing, channel), nil
}

// AcceptRingUpgrade plays the server role of UpgradeToRing. It must be
// called after reading wire.ShmUpgradeRequest from conn. It creates a
// fresh ring pair, acknowledges the request, passes both file descriptors
// over conn, and returns a RingTransport the server can use for this
// session's subsequent calls. From the server's point of view rx is where
// the client writes and tx is where the server writes, the mirror image
// of UpgradeToRing's naming.
func AcceptRingUpgrade(conn *net.UnixConn, name string, channel byte) (*RingTransport, error) {
	txRing, err := ring.Create(name + ".tx")
	if err != nil {
		return nil, fmt.Errorf("transport(upgrade): create tx ring: %w", err)
	}
	rxRing, err := ring.Create(name + ".rx")
	if err != nil {
		txRing.Close()
		return nil, fmt.Errorf("transport(upgrade): create rx ring: %w", err)
	}

	if err := wire.WriteFrame(conn, wire.ShmUpgradeAck); err != nil {
		txRing.Close()
		rxRing.Close()
		return nil, fmt.Errorf("transport(upgrade): send ack: %w", err)
	}

	// The client's tx is our rx and vice versa: send in (rx, tx) order so
	// the peer's fds[0] is its tx (our rx) and fds[1] is its rx (our tx).
	if err := sendFds(conn, int(rxRing.Fd()), int(txRing.Fd())); err != nil {
		txRing.Close()
		rxRing.Close()
		return nil, fmt.Errorf("transport(upgrade): send ring fds: %w", err)
	}
	return NewRingTransport(txRing, rxRing, channel), nil
}

// sendFds passes fds as a single SCM_RIGHTS ancillary message alongside a
// one-byte dummy payload, the conventional way to carry file descriptors
// across a Unix domain socket.
func sendFds(conn *net.UnixConn, fds ...int) error {
	rights := unix.UnixRights(fds...)
	var sendErr error
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscall conn: %w", err)
	}
	ctlErr := raw.Control(func(fd uintptr) {
		sendErr = unix.Sendmsg(int(fd), []byte{0}, rights, nil, 0)
	})
	if ctlErr != nil {
		return ctlErr
	}
	return sendErr
}

// recvFds reads one SCM_RIGHTS ancillary message off conn and returns
// exactly count file descriptors, closing any surplus the kernel handed
// back if the peer sent more than expected.
func recvFds(conn *net.UnixConn, count int) ([]int, error) {
	oob := make([]byte, unix.CmsgSpace(count*4))
	buf := make([]byte, 1)
	var (
		oobn    int
		recvErr error
	)
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("syscall conn: %w", err)
	}
	ctlErr := raw.Control(func(fd uintptr) {
		_, oobn, _, _, recvErr = unix.Recvmsg(int(fd), buf, oob, 0)
	})
	if ctlErr != nil {
		return nil, ctlErr
	}
	if recvErr != nil {
		return nil, recvErr
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	var fds []int
	for _, cmsg := range cmsgs {
		parsed, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		fds = append(fds, parsed...)
	}
	if len(fds) < count {
		return nil, fmt.Errorf("expected %d fds, got %d", count, len(fds))
	}
	for _, extra := range fds[count:] {
		unix.Close(extra)
	}
	return fds[:count], nil
}
