// Package netutil provides TCP port allocation helpers for the dev server.
package netutil

import (
	"fmt"
	"net"
	"time"
)

// portPollInterval is how often WaitForPort re-checks availability.
const portPollInterval = 100 * time.Millisecond

// IsPortAvailable reports whether a TCP port can be bound on both the
// loopback and the all-interfaces address. The two binds are performed
// sequentially, each released before the next: binding 127.0.0.1 and
// 0.0.0.0 concurrently can race and report a port free when it is not.
func IsPortAvailable(port int) bool {
	for _, host := range []string{"127.0.0.1", "0.0.0.0"} {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
		if err != nil {
			return false
		}
		if err := ln.Close(); err != nil {
			return false
		}
	}
	return true
}

// FindAvailablePort scans upward from start and returns the first port
// that IsPortAvailable accepts. There is no upper bound; callers are
// expected to start from a sane base (e.g. 8080).
func FindAvailablePort(start int) int {
	port := start
	for !IsPortAvailable(port) {
		port++
	}
	return port
}

// WaitForPort polls until the port becomes available or the timeout
// elapses. It never returns an error: false simply means the port stayed
// busy for the whole window.
func WaitForPort(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if IsPortAvailable(port) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(portPollInterval)
	}
}
