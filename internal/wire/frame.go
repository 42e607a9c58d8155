// Package wire implements the length-prefixed framing shared by every
// byte-oriented transport in the mesh (stream sockets, the ring transport's
// logical request/response boundary, and the tunnel's plaintext side).
//
// Framing is little-endian 32-bit length prefix followed by payload, for
// both requests and responses. Router opcode framing is a different,
// big-endian format and lives in package router, not here.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLen bounds a single frame payload to guard against a corrupt or
// hostile length prefix causing an unbounded allocation.
const MaxFrameLen = 64 << 20 // 64 MiB

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameLen.
var ErrFrameTooLarge = fmt.Errorf("wire: frame exceeds %d bytes", MaxFrameLen)

// WriteFrame writes a little-endian 32-bit length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. It returns io.EOF only when no
// bytes of a new frame have been read yet; a truncated frame (partial
// header or payload) returns io.ErrUnexpectedEOF, signaling the caller that
// the session is no longer usable and must be discarded, not retried.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", io.ErrUnexpectedEOF)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return nil, ErrFrameTooLarge
	}
	if n == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", io.ErrUnexpectedEOF)
	}
	return payload, nil
}

// NewReader wraps r in a buffered reader sized for typical frame traffic;
// callers that will issue many ReadFrame calls on the same stream should
// reuse one of these rather than reading unbuffered.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 32*1024)
}
