// Package transport implements the unified call(bytes) -> bytes operation
// over each of the concrete channels a cell can reach another cell
// through: a local byte stream, the shared-memory ring, or an
// authenticated datagram tunnel. All three share one cancellation
// contract: Call is cancellation-safe only at request boundaries — once a
// frame has begun, interrupting it corrupts the session, and the
// transport must be discarded rather than reused.
package transport

import "context"

// Transport is the common interface every concrete channel implements.
type Transport interface {
	// Call sends req and returns the matching response, or an error if
	// the session could not complete the round trip. After an error, the
	// Transport must not be reused.
	Call(ctx context.Context, req []byte) ([]byte, error)
	Close() error
}
