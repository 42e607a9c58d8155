package discovery

import "testing"

func TestSignalEncodeDecodeRoundTrip(t *testing.T) {
	in := Signal{
		CellName:   "auth-cell",
		InstanceID: 0xdeadbeef,
		IP:         "192.168.1.42",
		Port:       9001,
		Timestamp:  1234567890,
	}
	out, err := decodeSignal(encodeSignal(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestSignalEncodeDecodeQuery(t *testing.T) {
	in := Signal{CellName: "auth-cell", InstanceID: 7, Timestamp: 100}
	out, err := decodeSignal(encodeSignal(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Port != 0 {
		t.Fatalf("expected port 0 for a query, got %d", out.Port)
	}
	if out.CellName != "auth-cell" {
		t.Fatalf("CellName = %q, want auth-cell", out.CellName)
	}
}

func TestDecodeMalformedDatagramDropped(t *testing.T) {
	if _, err := decodeSignal([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected an error decoding a truncated datagram")
	}
	if _, err := decodeSignal(nil); err == nil {
		t.Fatalf("expected an error decoding an empty datagram")
	}
}

func TestDecodeRejectsOversizeCellName(t *testing.T) {
	buf := appendUint16(nil, maxDatagramCellName+1)
	if _, err := decodeSignal(buf); err == nil {
		t.Fatalf("expected an error for an oversize cell_name length")
	}
}
