package tunnel

import (
	"io"
)

// Stream adapts a Session and its underlying raw connection into a plain
// io.ReadWriter of decrypted bytes, so the router's byte-pump bridging
// code can treat a tunnel exactly like a local stream. Each Write seals
// one frame; each Read drains a buffered plaintext frame, pulling a new
// one only when the buffer is empty.
type Stream struct {
	raw     io.ReadWriter
	session *Session
	pending []byte
}

// NewStream wraps raw (the underlying socket) with session's AEAD state.
func NewStream(raw io.ReadWriter, session *Session) *Stream {
	return &Stream{raw: raw, session: session}
}

// Close closes the underlying connection, if it supports closing.
func (s *Stream) Close() error {
	if closer, ok := s.raw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (s *Stream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		plaintext, err := s.session.Open(s.raw)
		if err != nil {
			return 0, err
		}
		s.pending = plaintext
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlaintext {
			chunk = chunk[:maxPlaintext]
		}
		if err := s.session.Seal(s.raw, chunk); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}
