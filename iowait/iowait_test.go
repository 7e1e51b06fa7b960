package iowait

import (
	"context"
	"net"
	"testing"
	"time"

	molt "github.com/stealthrocket/molt-io"
)

func fdOf(t *testing.T, c net.Conn) int {
	t.Helper()
	type fder interface{ File() (*net.TCPConn, error) }
	tc, ok := c.(*net.TCPConn)
	if !ok {
		t.Fatalf("expected *net.TCPConn, got %T", c)
	}
	f, err := tc.File()
	if err != nil {
		t.Fatalf("File(): %v", err)
	}
	return int(f.Fd())
}

func TestWaitBlockingZeroTimeoutNotReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	fd := fdOf(t, client)
	_, err = WaitBlocking(context.Background(), fd, Readable, ZeroTimeout())
	if err != molt.EWOULDBLOCK {
		t.Fatalf("WaitBlocking = %v, want EWOULDBLOCK", err)
	}
}

func TestWaitBlockingTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	fd := fdOf(t, client)
	start := time.Now()
	_, err = WaitBlocking(context.Background(), fd, Readable, BoundedTimeout(20*time.Millisecond))
	if err != molt.ETIMEDOUT {
		t.Fatalf("WaitBlocking = %v, want ETIMEDOUT", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("returned too early: %v", elapsed)
	}
}

func TestWaitBlockingReadyWhenDataArrives(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()
	if _, err := server.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	fd := fdOf(t, client)
	ready, err := WaitBlocking(context.Background(), fd, Readable, BoundedTimeout(time.Second))
	if err != nil {
		t.Fatalf("WaitBlocking: %v", err)
	}
	if !ready.Has(Readable) {
		t.Errorf("ready = %v, want Readable set", ready)
	}
}
