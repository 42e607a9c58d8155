// Package ring implements the single-producer/single-consumer shared-memory
// transport: a fixed-size circular byte arena backed by a sealed memfd,
// mapped into two address spaces, synchronized by a pair of atomic cursors
// and per-slot epoch stamps rather than any kernel lock.
//
// The layout mirrors the control-plane-free design described for the ring
// transport: a 128-byte control header (two cache-line-separated cursors)
// followed by a data arena. A writer claims a span via CAS on the write
// cursor, fills it, then publishes it by storing its epoch; a reader only
// ever advances its own read cursor after confirming the epoch it expects
// is the one currently stamped, so no explicit lock is ever taken on the
// hot path.
//
// This package is Linux-only: it depends on memfd_create and F_ADD_SEALS,
// which have no portable equivalent. Non-Linux cells fall back to the
// stream transport.
package ring

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	cacheLine = 64

	// Size is the total mapped region, control header included.
	Size = 32 * 1024 * 1024
	// DataOffset is where the byte arena begins: two cache lines, one per
	// cursor, so producer and consumer cursors never share a cache line.
	DataOffset = 128
	// Capacity is the usable arena size available to TryAlloc.
	Capacity = Size - DataOffset

	// paddingSentinel marks a wrap-padding span at the tail of the arena:
	// a claim that didn't fit before the physical end restarts at offset 0.
	paddingSentinel uint32 = 0xFFFFFFFF
	// alignment every slot's data region is padded up to.
	alignment = 16

	// maxAlloc bounds a single claim so a runaway length never wedges the
	// ring against its own capacity.
	maxAlloc = 16 * 1024 * 1024

	headerSize = 24 // refcount(4) + len(4) + epoch(8) + ownerPid(4) + channel(1) + pad(3)
)

// slot header field offsets, relative to the start of a slot.
const (
	hdrRefcount = 0
	hdrLen      = 4
	hdrEpoch    = 8
	hdrOwnerPID = 16
	hdrChannel  = 20
)

// Ring is one end of a shared-memory arena. Both the creating side and the
// attaching side hold an equivalent *Ring over the same mapping.
type Ring struct {
	mmap     []byte
	data     []byte // mmap[DataOffset:]
	capacity uint64
	file     *os.File
}

func align(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

func (r *Ring) writePosPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.mmap[0])) }
func (r *Ring) readPosPtr() *uint64  { return (*uint64)(unsafe.Pointer(&r.mmap[cacheLine])) }

func (r *Ring) u32At(offset int) *uint32 { return (*uint32)(unsafe.Pointer(&r.data[offset])) }
func (r *Ring) u64At(offset int) *uint64 { return (*uint64)(unsafe.Pointer(&r.data[offset])) }
func (r *Ring) byteAt(offset int) *byte  { return &r.data[offset] }

// Fd returns the underlying memfd, to be passed to a child cell across the
// gap junction or duplicated for an attaching peer.
func (r *Ring) Fd() uintptr { return r.file.Fd() }

// Close unmaps the arena and closes the backing file descriptor.
func (r *Ring) Close() error {
	if err := unmap(r.mmap); err != nil {
		return err
	}
	return r.file.Close()
}

// WriteSlot is a claimed, not-yet-published span of the arena.
type WriteSlot struct {
	ring       *Ring
	offset     int
	epochClaim uint64
}

// TryAlloc attempts to claim a span for exactSize bytes of payload, or
// returns ok=false if the ring has no room right now. It never blocks.
func (r *Ring) TryAlloc(exactSize int) (*WriteSlot, bool) {
	if exactSize > maxAlloc {
		return nil, false
	}
	totalNeeded := headerSize + align(exactSize)

	for {
		write := atomic.LoadUint64(r.writePosPtr())
		read := atomic.LoadUint64(r.readPosPtr())

		used := write - read
		if used+uint64(totalNeeded) > r.capacity {
			return nil, false
		}

		writeIdx := int(write % r.capacity)
		spaceAtEnd := int(r.capacity) - writeIdx

		var offset, wrapPadding int
		if spaceAtEnd >= totalNeeded {
			offset, wrapPadding = writeIdx, 0
		} else {
			if used+uint64(spaceAtEnd)+uint64(totalNeeded) > r.capacity {
				return nil, false
			}
			offset, wrapPadding = 0, spaceAtEnd
		}

		newWrite := write + uint64(wrapPadding) + uint64(totalNeeded)
		if !atomic.CompareAndSwapUint64(r.writePosPtr(), write, newWrite) {
			continue
		}

		if wrapPadding > 0 && spaceAtEnd >= 4 {
			atomic.StoreUint32(r.u32At(writeIdx), paddingSentinel)
		}

		atomic.StoreUint32(r.u32At(offset+hdrOwnerPID), uint32(os.Getpid()))

		return &WriteSlot{ring: r, offset: offset, epochClaim: write + uint64(wrapPadding)}, true
	}
}

// WaitForSlot blocks (spinning briefly, then yielding) until a span of
// exactSize bytes can be claimed, or ctx is done.
func (r *Ring) WaitForSlot(ctx context.Context, exactSize int) (*WriteSlot, error) {
	spin := 0
	for {
		if slot, ok := r.TryAlloc(exactSize); ok {
			return slot, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		spin++
		if spin < 10000 {
			continue
		}
		spin = 0
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Microsecond):
		}
	}
}

// Write copies data into the claimed span and records its channel tag. It
// must be called at most once, before Commit.
func (s *WriteSlot) Write(data []byte, channel byte) {
	dest := s.ring.data[s.offset+headerSize : s.offset+headerSize+len(data)]
	copy(dest, data)
	*s.ring.byteAt(s.offset + hdrChannel) = channel
}

// Commit publishes the slot: refcount and length first, then the epoch
// stamp last, so a reader that observes the new epoch always also observes
// a released refcount and a valid length.
func (s *WriteSlot) Commit(actualSize int) {
	r := s.ring
	atomic.StoreUint32(r.u32At(s.offset+hdrRefcount), 0)
	atomic.StoreUint32(r.u32At(s.offset+hdrLen), uint32(actualSize))
	atomic.StoreUint64(r.u64At(s.offset+hdrEpoch), s.epochClaim)
}

// Message is one claimed-for-reading span of the arena. Callers must call
// Release exactly once when done with Data, which advances the shared read
// cursor past this slot (and any wrap padding consumed ahead of it).
type Message struct {
	Data    []byte
	Channel byte

	ring          *Ring
	totalConsumed int
	released      int32
}

// Release returns the slot to the ring for reuse. Safe to call more than
// once; only the first call has effect.
func (m *Message) Release() {
	if !atomic.CompareAndSwapInt32(&m.released, 0, 1) {
		return
	}
	atomic.AddUint64(m.ring.readPosPtr(), uint64(m.totalConsumed))
}

// TryRead claims the next published message, or returns ok=false if the
// ring is empty, the slot at the head is mid-write, or another live
// reader holds it. A slot still held by a reader whose process has died
// is reclaimed and claimed by this same call.
func (r *Ring) TryRead() (*Message, bool) {
	read := atomic.LoadUint64(r.readPosPtr())
	write := atomic.LoadUint64(r.writePosPtr())
	if read == write {
		return nil, false
	}

	readIdx := int(read % r.capacity)
	firstWord := atomic.LoadUint32(r.u32At(readIdx))

	var dataOffset, totalConsumed int
	var expectedEpoch uint64
	if firstWord == paddingSentinel {
		bytesToEnd := int(r.capacity) - readIdx
		dataOffset = headerSize
		totalConsumed = bytesToEnd + headerSize
		expectedEpoch = read + uint64(bytesToEnd)
	} else {
		dataOffset = readIdx + headerSize
		totalConsumed = headerSize
		expectedEpoch = read
	}

	headerOffset := dataOffset - headerSize
	if atomic.LoadUint64(r.u64At(headerOffset+hdrEpoch)) != expectedEpoch {
		return nil, false
	}

	dataLen := atomic.LoadUint32(r.u32At(headerOffset + hdrLen))
	if dataLen == 0 {
		return nil, false
	}

	rc := atomic.LoadUint32(r.u32At(headerOffset + hdrRefcount))
	if rc > 0 {
		pid := atomic.LoadUint32(r.u32At(headerOffset + hdrOwnerPID))
		if pid > 0 && !isProcessAlive(int(pid)) {
			atomic.StoreUint32(r.u32At(headerOffset+hdrRefcount), 0)
			rc = 0
		}
	}
	for {
		if rc != 0 {
			return nil, false
		}
		if atomic.CompareAndSwapUint32(r.u32At(headerOffset+hdrRefcount), 0, 1) {
			break
		}
		rc = atomic.LoadUint32(r.u32At(headerOffset + hdrRefcount))
	}

	channel := *r.byteAt(headerOffset + hdrChannel)
	alignedLen := align(int(dataLen))
	actualConsumed := totalConsumed + alignedLen

	data := make([]byte, dataLen)
	copy(data, r.data[dataOffset:dataOffset+int(dataLen)])

	return &Message{
		Data:          data,
		Channel:       channel,
		ring:          r,
		totalConsumed: actualConsumed,
	}, true
}

// TypedMessage is a claimed slot whose payload has already been decoded
// into T. Release must be called exactly once, same as Message.
type TypedMessage[T any] struct {
	Value   T
	Channel byte

	raw *Message
}

// Release returns the underlying slot to the ring for reuse.
func (m TypedMessage[T]) Release() {
	m.raw.Release()
}

// TryRead claims the next published message and decodes its payload as T,
// or returns ok=false if the ring is empty (mirroring (*Ring).TryRead's raw
// form). A slot that is present but whose payload does not decode as T is
// still consumed (so a poisoned slot cannot wedge the ring) and reported as
// a decode error rather than surfaced to the caller as raw bytes.
func TryRead[T any](r *Ring) (TypedMessage[T], bool, error) {
	raw, ok := r.TryRead()
	if !ok {
		return TypedMessage[T]{}, false, nil
	}
	var v T
	if err := json.Unmarshal(raw.Data, &v); err != nil {
		raw.Release()
		return TypedMessage[T]{}, true, fmt.Errorf("ring: decode typed message on channel %d: %w", raw.Channel, err)
	}
	return TypedMessage[T]{Value: v, Channel: raw.Channel, raw: raw}, true, nil
}
