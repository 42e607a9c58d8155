//go:build linux

package ring

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Create allocates a fresh, sealed memfd-backed arena and maps it into this
// process. The returned file descriptor is what gets handed to a child cell
// across the gap junction, or attached by a peer over the SHM upgrade path.
func Create(name string) (*Ring, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("ring: memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), name)

	if err := file.Truncate(Size); err != nil {
		file.Close()
		return nil, fmt.Errorf("ring: truncate memfd: %w", err)
	}

	seals := unix.F_SEAL_GROW | unix.F_SEAL_SHRINK | unix.F_SEAL_SEAL
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, seals); err != nil {
		file.Close()
		return nil, fmt.Errorf("ring: add seals: %w", err)
	}

	return mapRing(file, true)
}

// Attach maps an existing memfd (received over a gap junction or an SHM
// upgrade handshake) into this process. It takes ownership of fd. The
// arena is never zeroed here: the creator already initialized it, and
// zeroing again would race with whatever it has already published.
func Attach(fd int) (*Ring, error) {
	file := os.NewFile(uintptr(fd), "ring-attached")
	return mapRing(file, false)
}

func mapRing(file *os.File, zero bool) (*Ring, error) {
	mmap, err := unix.Mmap(int(file.Fd()), 0, Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("ring: mmap: %w", err)
	}

	if zero {
		for i := range mmap[:DataOffset+4096] {
			mmap[i] = 0
		}
	}

	return &Ring{
		mmap:     mmap,
		data:     mmap[DataOffset:],
		capacity: uint64(Capacity),
		file:     file,
	}, nil
}

func unmap(mmap []byte) error {
	return unix.Munmap(mmap)
}
