package membrane

import (
	"net"
	"testing"
	"time"
)

// dialWithRetry dials path, retrying briefly since Run's accept loop
// starts asynchronously in these tests.
func dialWithRetry(t *testing.T, path string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dial %s: timed out", path)
	return nil
}
