package netutil

import (
	"fmt"
	"net"
	"testing"
	"time"
)

// occupyPort binds the port on loopback and returns a release func.
func occupyPort(t *testing.T, port int) func() {
	t.Helper()
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Skipf("could not occupy port %d: %v", port, err)
	}
	return func() { _ = ln.Close() }
}

// freePort asks the kernel for an unused port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestIsPortAvailable_Free(t *testing.T) {
	port := freePort(t)
	if !IsPortAvailable(port) {
		t.Errorf("port %d should be available", port)
	}
}

func TestIsPortAvailable_LoopbackBusy(t *testing.T) {
	port := freePort(t)
	release := occupyPort(t, port)
	defer release()

	if IsPortAvailable(port) {
		t.Errorf("port %d is bound on loopback, should not be available", port)
	}
}

func TestIsPortAvailable_AllInterfacesBusy(t *testing.T) {
	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		t.Skipf("cannot bind 0.0.0.0: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	if IsPortAvailable(port) {
		t.Errorf("port %d is bound on 0.0.0.0, should not be available", port)
	}
}

func TestFindAvailablePort_SkipsBusyPorts(t *testing.T) {
	start := freePort(t)

	// Occupy start and start+1 so the scan has to move past both.
	r1 := occupyPort(t, start)
	defer r1()
	r2 := occupyPort(t, start+1)
	defer r2()

	got := FindAvailablePort(start)
	if got == start || got == start+1 {
		t.Errorf("FindAvailablePort returned busy port %d", got)
	}
	if got < start {
		t.Errorf("FindAvailablePort must scan upward, got %d < %d", got, start)
	}
	if !IsPortAvailable(got) {
		t.Errorf("returned port %d is not actually available", got)
	}
}

func TestWaitForPort_ImmediatelyFree(t *testing.T) {
	port := freePort(t)
	if !WaitForPort(port, time.Second) {
		t.Errorf("WaitForPort should succeed for free port %d", port)
	}
}

func TestWaitForPort_Timeout(t *testing.T) {
	port := freePort(t)
	release := occupyPort(t, port)
	defer release()

	start := time.Now()
	if WaitForPort(port, 300*time.Millisecond) {
		t.Errorf("WaitForPort should time out for busy port %d", port)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("WaitForPort returned before timeout: %v", elapsed)
	}
}

func TestWaitForPort_BecomesFree(t *testing.T) {
	port := freePort(t)
	release := occupyPort(t, port)

	go func() {
		time.Sleep(250 * time.Millisecond)
		release()
	}()

	if !WaitForPort(port, 3*time.Second) {
		t.Errorf("WaitForPort should succeed once port %d is released", port)
	}
}
