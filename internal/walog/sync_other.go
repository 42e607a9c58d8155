//go:build !linux

package walog

import "os"

// fdatasync falls back to a full file sync on platforms without fdatasync.
func fdatasync(f *os.File) error {
	return f.Sync()
}
