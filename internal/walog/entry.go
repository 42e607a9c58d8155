package walog

import (
	"encoding/binary"
	"fmt"
)

// EntryType tags the variant carried by a LogEntry, mirroring the
// Command/NoOp/ConfigChange union in the data model.
type EntryType uint8

const (
	EntryCommand EntryType = iota + 1
	EntryNoOp
	EntryConfigChange
)

func (t EntryType) String() string {
	switch t {
	case EntryCommand:
		return "command"
	case EntryNoOp:
		return "noop"
	case EntryConfigChange:
		return "config_change"
	default:
		return "unknown"
	}
}

// Entry is one record of the replicated log. Index is assigned by the WAL
// at append time (1-based, monotonic); Term and Type/Data are caller
// supplied and are what actually gets persisted to disk.
type Entry struct {
	Index uint64
	Term  uint64
	Type  EntryType
	Data  []byte
}

// encodeEntry serializes an entry's term/type/data into the bytes that become
// the WAL frame payload. Index is not encoded: it is implicit in the
// entry's position in the file and is reconstructed by the caller during
// recovery.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 9+len(e.Data))
	binary.LittleEndian.PutUint64(buf[0:8], e.Term)
	buf[8] = byte(e.Type)
	copy(buf[9:], e.Data)
	return buf
}

func decodeEntry(payload []byte) (term uint64, typ EntryType, data []byte, err error) {
	if len(payload) < 9 {
		return 0, 0, nil, fmt.Errorf("walog: entry payload too short (%d bytes)", len(payload))
	}
	term = binary.LittleEndian.Uint64(payload[0:8])
	typ = EntryType(payload[8])
	switch typ {
	case EntryCommand, EntryNoOp, EntryConfigChange:
	default:
		return 0, 0, nil, fmt.Errorf("walog: unknown entry type %d", typ)
	}
	if len(payload) > 9 {
		data = append([]byte(nil), payload[9:]...)
	}
	return term, typ, data, nil
}
