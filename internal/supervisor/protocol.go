package supervisor

import (
	"encoding/json"
	"fmt"
	"io"

	"cell/internal/wire"
)

// msgKind tags each message exchanged over the gap-junction socket pair
// during the synchronous bootstrap handshake and for the lifetime signals
// a child reports afterward.
type msgKind byte

const (
	msgRequestIdentity msgKind = iota + 1
	msgInjectIdentity
	msgCytokinesis
	msgApoptosis
	msgNecrosis
)

// bootstrapMessage is the envelope for every message on the gap junction:
// one JSON object carrying the kind and a JSON payload, framed with the same
// length-prefixed framing every other stream in the mesh uses.
type bootstrapMessage struct {
	Kind    msgKind
	Payload json.RawMessage
}

// CellConfig is injected into a child during InjectIdentity: everything
// it needs to initialize its membrane without consulting the supervisor
// again.
type CellConfig struct {
	NodeID     string   `json:"node_id"`
	CellName   string   `json:"cell_name"`
	Peers      []string `json:"peers"`
	SocketPath string   `json:"socket_path"`
}

// ApoptosisReport is the payload of a graceful Apoptosis message.
type ApoptosisReport struct {
	Reason string `json:"reason"`
}

func writeMessage(w io.Writer, kind msgKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("supervisor: marshal %v payload: %w", kind, err)
	}
	body, err := json.Marshal(bootstrapMessage{Kind: kind, Payload: raw})
	if err != nil {
		return fmt.Errorf("supervisor: marshal envelope: %w", err)
	}
	return wire.WriteFrame(w, body)
}

func readMessage(r io.Reader) (bootstrapMessage, error) {
	frame, err := wire.ReadFrame(r)
	if err != nil {
		return bootstrapMessage{}, fmt.Errorf("supervisor: read frame: %w", err)
	}
	var msg bootstrapMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return bootstrapMessage{}, fmt.Errorf("supervisor: unmarshal envelope: %w", err)
	}
	return msg, nil
}

func (k msgKind) String() string {
	switch k {
	case msgRequestIdentity:
		return "request_identity"
	case msgInjectIdentity:
		return "inject_identity"
	case msgCytokinesis:
		return "cytokinesis"
	case msgApoptosis:
		return "apoptosis"
	case msgNecrosis:
		return "necrosis"
	default:
		return "unknown"
	}
}
