//go:build linux

package ring

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newTestRing(t *testing.T) *Ring {
	t.Helper()
	r, err := Create("ring-test")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestAllocWriteCommitRead(t *testing.T) {
	r := newTestRing(t)

	slot, ok := r.TryAlloc(5)
	if !ok {
		t.Fatalf("TryAlloc failed on empty ring")
	}
	slot.Write([]byte("hello"), 7)
	slot.Commit(5)

	msg, ok := r.TryRead()
	if !ok {
		t.Fatalf("TryRead found nothing after commit")
	}
	defer msg.Release()

	if string(msg.Data) != "hello" {
		t.Fatalf("Data = %q, want %q", msg.Data, "hello")
	}
	if msg.Channel != 7 {
		t.Fatalf("Channel = %d, want 7", msg.Channel)
	}
}

func TestReadEmptyRing(t *testing.T) {
	r := newTestRing(t)
	if _, ok := r.TryRead(); ok {
		t.Fatalf("TryRead on empty ring should fail")
	}
}

func TestUncommittedSlotNotVisible(t *testing.T) {
	r := newTestRing(t)
	slot, ok := r.TryAlloc(4)
	if !ok {
		t.Fatalf("TryAlloc failed")
	}
	slot.Write([]byte("data"), 1)
	// No Commit: the epoch stamp never advances to this claim, so a reader
	// must not see it.
	if _, ok := r.TryRead(); ok {
		t.Fatalf("TryRead should not see an uncommitted slot")
	}
}

func TestReleaseAdvancesReadCursorAndFreesSpace(t *testing.T) {
	r := newTestRing(t)

	for i := 0; i < 3; i++ {
		slot, ok := r.TryAlloc(4)
		if !ok {
			t.Fatalf("TryAlloc %d failed", i)
		}
		slot.Write([]byte{byte(i), byte(i), byte(i), byte(i)}, byte(i))
		slot.Commit(4)
	}

	for i := 0; i < 3; i++ {
		msg, ok := r.TryRead()
		if !ok {
			t.Fatalf("TryRead %d found nothing", i)
		}
		if msg.Data[0] != byte(i) {
			t.Fatalf("message %d = %v, want first byte %d", i, msg.Data, i)
		}
		msg.Release()
	}

	if _, ok := r.TryRead(); ok {
		t.Fatalf("ring should be empty after all messages released")
	}
}

func TestWaitForSlotUnblocksAfterRelease(t *testing.T) {
	r := newTestRing(t)

	// Fill the ring until TryAlloc stops succeeding for a large claim.
	const big = Capacity / 2
	firstSlot, ok := r.TryAlloc(big)
	if !ok {
		t.Fatalf("first large TryAlloc should succeed")
	}
	firstSlot.Write(make([]byte, big), 0)
	firstSlot.Commit(big)

	if _, ok := r.TryAlloc(big); ok {
		t.Fatalf("second large TryAlloc should not fit alongside the first")
	}

	msg, ok := r.TryRead()
	if !ok {
		t.Fatalf("expected the first message to be readable")
	}

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := r.WaitForSlot(ctx, big); err != nil {
			t.Errorf("WaitForSlot: %v", err)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	msg.Release()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitForSlot did not unblock after Release")
	}
}

func TestWaitForSlotRespectsContextCancellation(t *testing.T) {
	r := newTestRing(t)

	// One maxAlloc slot leaves less than Capacity/2 free, so a second
	// maxAlloc request can never fit while the first is unread.
	slot, ok := r.TryAlloc(maxAlloc)
	if !ok {
		t.Fatalf("TryAlloc(maxAlloc) should succeed on an empty ring")
	}
	slot.Write(make([]byte, maxAlloc), 0)
	slot.Commit(maxAlloc)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := r.WaitForSlot(ctx, maxAlloc); err == nil {
		t.Fatalf("WaitForSlot should have returned a context error")
	}
}

func TestAttachSeesCreatorWrites(t *testing.T) {
	r := newTestRing(t)

	slot, ok := r.TryAlloc(3)
	if !ok {
		t.Fatalf("TryAlloc failed")
	}
	slot.Write([]byte("abc"), 2)
	slot.Commit(3)

	// In a real deployment the fd arrives via SCM_RIGHTS on a separate
	// process and is naturally distinct; duplicate it here so Attach's
	// owning *os.File doesn't double-close the creator's descriptor.
	dup, err := unix.Dup(int(r.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	attached, err := Attach(dup)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer attached.Close()

	msg, ok := attached.TryRead()
	if !ok {
		t.Fatalf("attached ring did not see the creator's message")
	}
	defer msg.Release()
	if string(msg.Data) != "abc" {
		t.Fatalf("Data = %q, want %q", msg.Data, "abc")
	}
}

type pingPayload struct {
	Seq int `json:"seq"`
}

func TestTryReadDecodesTypedMessage(t *testing.T) {
	r := newTestRing(t)

	body, err := json.Marshal(pingPayload{Seq: 9})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	slot, ok := r.TryAlloc(len(body))
	if !ok {
		t.Fatalf("TryAlloc failed")
	}
	slot.Write(body, 3)
	slot.Commit(len(body))

	msg, ok, err := TryRead[pingPayload](r)
	if err != nil {
		t.Fatalf("TryRead: %v", err)
	}
	if !ok {
		t.Fatalf("TryRead found nothing after commit")
	}
	defer msg.Release()
	if msg.Value.Seq != 9 {
		t.Fatalf("Value.Seq = %d, want 9", msg.Value.Seq)
	}
	if msg.Channel != 3 {
		t.Fatalf("Channel = %d, want 3", msg.Channel)
	}
}

func TestTryReadOnEmptyRing(t *testing.T) {
	r := newTestRing(t)
	_, ok, err := TryRead[pingPayload](r)
	if ok || err != nil {
		t.Fatalf("TryRead on empty ring = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

// TestTryReadRejectsCorruptPayload covers a slot whose payload is not
// valid JSON for the claimed type: the typed read must surface a decode
// error rather than hand back zero-valued or garbage data.
func TestTryReadRejectsCorruptPayload(t *testing.T) {
	r := newTestRing(t)

	corrupt := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00}
	slot, ok := r.TryAlloc(len(corrupt))
	if !ok {
		t.Fatalf("TryAlloc failed")
	}
	slot.Write(corrupt, 5)
	slot.Commit(len(corrupt))

	msg, ok, err := TryRead[pingPayload](r)
	if err == nil {
		t.Fatalf("TryRead on corrupt payload returned no error, got msg=%+v", msg)
	}
	if !ok {
		t.Fatalf("TryRead should report ok=true for a present-but-corrupt slot")
	}

	// The corrupt slot must still have been consumed, freeing the ring for
	// the next message rather than wedging it.
	if _, found := r.TryRead(); found {
		t.Fatalf("corrupt slot should have been released, not left pending")
	}
}
