package discovery

import (
	"encoding/binary"
	"fmt"
)

// Signal is one advertisement: a cell name reachable at ip:port, tagged
// with the instance that sent it and the time it claims to have been sent.
// Port 0 inside a wire datagram means "this is a query, not an Signal", and
// is never stored in the cache as such.
type Signal struct {
	CellName   string
	InstanceID uint64
	IP         string
	Port       uint16
	Timestamp  uint64 // sender's unix milliseconds
}

// maxDatagramCellName guards against a hostile or corrupt datagram forcing
// an enormous allocation; real cell names are short.
const maxDatagramCellName = 256

// encodeSignal serializes a pheromone datagram: length-prefixed cell_name,
// instance_id, length-prefixed ip, port, timestamp — all little-endian.
func encodeSignal(s Signal) []byte {
	name := []byte(s.CellName)
	ip := []byte(s.IP)
	buf := make([]byte, 0, 2+len(name)+8+2+len(ip)+2+8)

	buf = appendUint16(buf, uint16(len(name)))
	buf = append(buf, name...)
	buf = appendUint64(buf, s.InstanceID)
	buf = appendUint16(buf, uint16(len(ip)))
	buf = append(buf, ip...)
	buf = appendUint16(buf, s.Port)
	buf = appendUint64(buf, s.Timestamp)
	return buf
}

func decodeSignal(data []byte) (Signal, error) {
	var s Signal
	r := data

	nameLen, r, err := readUint16(r)
	if err != nil || int(nameLen) > maxDatagramCellName || len(r) < int(nameLen) {
		return s, fmt.Errorf("discovery: malformed datagram (cell_name)")
	}
	s.CellName = string(r[:nameLen])
	r = r[nameLen:]

	instanceID, r, err := readUint64(r)
	if err != nil {
		return s, fmt.Errorf("discovery: malformed datagram (instance_id)")
	}
	s.InstanceID = instanceID

	ipLen, r, err := readUint16(r)
	if err != nil || int(ipLen) > 64 || len(r) < int(ipLen) {
		return s, fmt.Errorf("discovery: malformed datagram (ip)")
	}
	s.IP = string(r[:ipLen])
	r = r[ipLen:]

	port, r, err := readUint16(r)
	if err != nil {
		return s, fmt.Errorf("discovery: malformed datagram (port)")
	}
	s.Port = port

	timestamp, _, err := readUint64(r)
	if err != nil {
		return s, fmt.Errorf("discovery: malformed datagram (timestamp)")
	}
	s.Timestamp = timestamp
	return s, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func readUint16(r []byte) (uint16, []byte, error) {
	if len(r) < 2 {
		return 0, nil, fmt.Errorf("discovery: short read")
	}
	return binary.LittleEndian.Uint16(r[:2]), r[2:], nil
}

func readUint64(r []byte) (uint64, []byte, error) {
	if len(r) < 8 {
		return 0, nil, fmt.Errorf("discovery: short read")
	}
	return binary.LittleEndian.Uint64(r[:8]), r[8:], nil
}
