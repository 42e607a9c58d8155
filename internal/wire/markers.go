package wire

// Reserved payload markers recognized by Membrane as the first bytes of a
// framed request, ahead of ordinary channel-dispatched payloads. Their
// literal byte values are part of the wire contract (§6) and must not
// change without breaking every deployed cell.
var (
	// GenomeRequest asks a cell's membrane for its schema descriptor.
	GenomeRequest = []byte("GENOME_REQUEST")
	// ShmUpgradeRequest asks to switch the session to the ring transport.
	ShmUpgradeRequest = []byte("SHM_UPGRADE_REQUEST")
	// ShmUpgradeAck acknowledges ShmUpgradeRequest before ring fds are sent.
	ShmUpgradeAck = []byte("SHM_UPGRADE_ACK")
)

// IsMarker reports whether payload is exactly one of the reserved markers.
func IsMarker(payload, marker []byte) bool {
	if len(payload) != len(marker) {
		return false
	}
	for i := range marker {
		if payload[i] != marker[i] {
			return false
		}
	}
	return true
}
