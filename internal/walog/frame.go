package walog

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// Magic identifies the start of a WAL frame on disk: [magic:4][len:8][crc32:4][payload:len].
const Magic uint32 = 0xCE11DA7A

// maxPayload is the sanity ceiling from the recovery contract: a declared
// length beyond this is treated as corruption, never as an allocation request.
const maxPayload = 100 << 20 // 100 MiB

const frameHeaderLen = 4 + 8 + 4 // magic + len + crc32

// writeFrame appends one magic-framed, CRC-checked record to w.
func writeFrame(w io.Writer, payload []byte) (int, error) {
	hdr := make([]byte, frameHeaderLen)
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(len(payload)))
	binary.LittleEndian.PutUint32(hdr[12:16], crc32.ChecksumIEEE(payload))
	n, err := w.Write(hdr)
	if err != nil {
		return n, err
	}
	if len(payload) == 0 {
		return n, nil
	}
	m, err := w.Write(payload)
	return n + m, err
}

// frameLen returns the total on-disk size of a frame carrying the given payload.
func frameLen(payloadLen int) int64 {
	return int64(frameHeaderLen + payloadLen)
}

// readResult distinguishes a cleanly-parsed frame from EOF and from
// corruption that requires byte-wise resynchronization.
type readResult int

const (
	readOK readResult = iota
	readEOF
	readCorrupt
)

// readFrameAt reads one frame starting at exactly this offset (no resync).
// It returns readCorrupt on magic mismatch, oversize length, or CRC mismatch,
// and readEOF when fewer than frameHeaderLen bytes remain.
func readFrameAt(data []byte, offset int64) (payload []byte, consumed int64, result readResult) {
	if offset+frameHeaderLen > int64(len(data)) {
		return nil, 0, readEOF
	}
	hdr := data[offset : offset+frameHeaderLen]
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return nil, 0, readCorrupt
	}
	declaredLen := binary.LittleEndian.Uint64(hdr[4:12])
	wantCRC := binary.LittleEndian.Uint32(hdr[12:16])
	if declaredLen > maxPayload {
		return nil, 0, readCorrupt
	}
	end := offset + frameHeaderLen + int64(declaredLen)
	if end > int64(len(data)) {
		// Torn tail: not enough bytes on disk for the declared payload.
		// Recovery discards this, same as any other corruption.
		return nil, 0, readEOF
	}
	body := data[offset+frameHeaderLen : end]
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, 0, readCorrupt
	}
	return append([]byte(nil), body...), end - offset, readOK
}

// resyncFrom slides a four-byte window one byte at a time from offset until
// it finds the next occurrence of Magic, or reaches the end of data.
func resyncFrom(data []byte, offset int64) int64 {
	for i := offset + 1; i+4 <= int64(len(data)); i++ {
		if binary.LittleEndian.Uint32(data[i:i+4]) == Magic {
			return i
		}
	}
	return int64(len(data))
}
