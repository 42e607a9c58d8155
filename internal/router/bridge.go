package router

import (
	"io"
	"net"
)

// bridge pumps bytes in both directions between client and target until
// either side closes or errors; an error on either direction terminates
// both. bridge closes both connections itself before it returns.
func bridge(client, target net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(target, client)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(client, target)
		done <- struct{}{}
	}()
	<-done
	_ = client.Close()
	_ = target.Close()
	<-done
}
