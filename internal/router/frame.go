// Package router implements the per-node multiplexer ("Golgi"): it
// accepts connections from local clients, resolves a requested service
// name against a route table, and bridges the client stream to a local
// cell, a colony replica, or a peer node reached through an encrypted
// tunnel.
package router

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Op identifies the single operation a freshly accepted connection may
// request before anything is bridged.
type Op byte

// OpConnect is the only operation defined on a router session: connect to
// a named route. A session with any other op byte is rejected immediately.
const OpConnect Op = 0x01

// Response bytes returned after a CONNECT request is resolved.
const (
	ack  byte = 0x00
	nack byte = 0xFF
)

const maxNameLen = 4096

// connectFrame is the on-wire shape of a router request, distinct from
// internal/wire's little-endian length-prefixed framing: big-endian
// counts, one fixed op byte ahead of the name length.
//
//	[op:1][namelen:4, big-endian][name:namelen bytes]
type connectFrame struct {
	Op   Op
	Name string
}

func readConnectFrame(r io.Reader) (connectFrame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return connectFrame{}, fmt.Errorf("router: read frame header: %w", err)
	}
	op := Op(hdr[0])
	nameLen := binary.BigEndian.Uint32(hdr[1:5])
	if nameLen > maxNameLen {
		return connectFrame{}, fmt.Errorf("router: name length %d exceeds %d", nameLen, maxNameLen)
	}
	name := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := io.ReadFull(r, name); err != nil {
			return connectFrame{}, fmt.Errorf("router: read frame name: %w", err)
		}
	}
	return connectFrame{Op: op, Name: string(name)}, nil
}

func writeConnectFrame(w io.Writer, f connectFrame) error {
	hdr := make([]byte, 5+len(f.Name))
	hdr[0] = byte(f.Op)
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(f.Name)))
	copy(hdr[5:], f.Name)
	_, err := w.Write(hdr)
	if err != nil {
		return fmt.Errorf("router: write frame: %w", err)
	}
	return nil
}

func writeResponse(w io.Writer, ok bool) error {
	b := nack
	if ok {
		b = ack
	}
	_, err := w.Write([]byte{b})
	return err
}

func readResponse(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, fmt.Errorf("router: read response: %w", err)
	}
	return b[0] == ack, nil
}
