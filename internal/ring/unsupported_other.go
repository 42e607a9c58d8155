//go:build !linux

package ring

import "errors"

// ErrUnsupported is returned by Create/Attach on platforms without
// memfd_create/F_ADD_SEALS. Nothing in internal/transport checks for it;
// a caller that gets it keeps using the stream transport itself.
var ErrUnsupported = errors.New("ring: shared-memory transport requires linux")

func Create(name string) (*Ring, error) { return nil, ErrUnsupported }
func Attach(fd int) (*Ring, error)      { return nil, ErrUnsupported }
func unmap(mmap []byte) error           { return nil }
func isProcessAlive(pid int) bool       { return false }
