//go:build linux

package ring

import "golang.org/x/sys/unix"

// isProcessAlive reports whether pid still exists, using the signal-0 probe:
// ESRCH means gone, EPERM means it exists but we lack permission to signal
// it (still alive, from our point of view).
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil || err == unix.EPERM {
		return true
	}
	return false
}
