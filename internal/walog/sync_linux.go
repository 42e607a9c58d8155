//go:build linux

package walog

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes file data (and only the metadata needed to read it back)
// to stable storage, matching the durability contract of Append/AppendBatch.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
