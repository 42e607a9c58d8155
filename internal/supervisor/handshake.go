package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// runBootstrap drives the synchronous handshake on the gap-junction
// socket: the child requests its identity, the supervisor injects
// configuration, and the child confirms readiness with Cytokinesis. It
// blocks the calling goroutine for the duration of the exchange, matching
// spec.md's description of the handshake running on a dedicated
// background thread per child.
func runBootstrap(conn io.ReadWriter, cfg CellConfig) error {
	msg, err := readMessage(conn)
	if err != nil {
		return fmt.Errorf("supervisor: await request_identity: %w", err)
	}
	if msg.Kind != msgRequestIdentity {
		return fmt.Errorf("supervisor: expected request_identity, got %s", msg.Kind)
	}

	if err := writeMessage(conn, msgInjectIdentity, cfg); err != nil {
		return fmt.Errorf("supervisor: send inject_identity: %w", err)
	}

	msg, err = readMessage(conn)
	if err != nil {
		return fmt.Errorf("supervisor: await cytokinesis: %w", err)
	}
	if msg.Kind != msgCytokinesis {
		return fmt.Errorf("supervisor: expected cytokinesis, got %s", msg.Kind)
	}
	return nil
}

// watchTerminalSignals blocks reading bootstrap-protocol messages from
// conn until it sees Apoptosis (graceful exit) or Necrosis (panic), or
// the connection is closed, and reports which. Called after a
// successful bootstrap, for the lifetime of the child.
func watchTerminalSignals(conn io.Reader) (kind msgKind, reason string, err error) {
	for {
		msg, readErr := readMessage(conn)
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return msgNecrosis, "connection closed without a terminal signal", nil
			}
			return 0, "", readErr
		}
		switch msg.Kind {
		case msgApoptosis:
			var report ApoptosisReport
			_ = unmarshalPayload(msg, &report)
			return msgApoptosis, report.Reason, nil
		case msgNecrosis:
			return msgNecrosis, "", nil
		default:
			// Anything else on this connection after bootstrap is not
			// part of the protocol; keep waiting for a terminal signal
			// rather than treating it as fatal.
			continue
		}
	}
}

func unmarshalPayload(msg bootstrapMessage, out any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(msg.Payload, out)
}
