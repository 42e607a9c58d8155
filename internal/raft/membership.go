package raft

import "encoding/json"

// configChangePayload is the log-entry body for an EntryConfigChange
// entry: the complete new peer list (excluding this node itself), applied
// atomically the moment the entry commits. spec.md scopes membership
// changes to single-server add/remove, so callers are expected to submit
// one peer added or removed at a time, but the stored payload is always
// the full resulting set.
type configChangePayload struct {
	Peers []string `json:"peers"`
}

func encodeConfigChange(peers []string) ([]byte, error) {
	return json.Marshal(configChangePayload{Peers: peers})
}

func decodeConfigChange(data []byte) ([]string, error) {
	var payload configChangePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload.Peers, nil
}

// AddPeer proposes a membership change adding peerID to the current
// configuration. It is a convenience wrapper around
// ProposeConfigChange for the common single-server add case.
func (n *Node) AddPeer(peerID string) (uint64, uint64, error) {
	current := n.Peers()
	for _, p := range current {
		if p == peerID {
			return 0, 0, nil
		}
	}
	return n.ProposeConfigChange(append(current, peerID))
}

// RemovePeer proposes a membership change removing peerID from the
// current configuration.
func (n *Node) RemovePeer(peerID string) (uint64, uint64, error) {
	current := n.Peers()
	next := make([]string, 0, len(current))
	for _, p := range current {
		if p != peerID {
			next = append(next, p)
		}
	}
	return n.ProposeConfigChange(next)
}

// Peers returns the node's current view of the cluster's peer list
// (excluding itself). Safe to call from any goroutine, but may be
// momentarily stale relative to an in-flight, uncommitted config change.
func (n *Node) Peers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.peers...)
}
