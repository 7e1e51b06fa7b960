package socketops

import (
	"context"
	"errors"
	"testing"
	"time"

	molt "github.com/stealthrocket/molt-io"
)

func allCaps() *molt.CapabilitySet {
	return molt.NewCapabilitySet(
		molt.CapNet, molt.CapNetConnect, molt.CapNetListen, molt.CapNetBind,
	)
}

func TestAcceptConnectRoundTrip(t *testing.T) {
	m := NewManager(allCaps())
	ctx := context.Background()

	ln, err := m.Socket(molt.InetFamily, molt.StreamSocket, molt.TCPProtocol, nil)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := m.Bind(ln, molt.Inet4Address{Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := m.Listen(ln, 1); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	local, err := m.GetSockName(ln)
	if err != nil {
		t.Fatalf("GetSockName: %v", err)
	}
	laddr, ok := local.(molt.Inet4Address)
	if !ok {
		t.Fatalf("GetSockName returned %T, want Inet4Address", local)
	}

	client, err := m.Socket(molt.InetFamily, molt.StreamSocket, molt.TCPProtocol, nil)
	if err != nil {
		t.Fatalf("Socket (client): %v", err)
	}
	connectDone := make(chan error, 1)
	go func() {
		connectDone <- m.Connect(ctx, client, molt.Inet4Address{Port: laddr.Port, Addr: [4]byte{127, 0, 0, 1}})
	}()

	accepted, peer, err := m.Accept(ctx, ln)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, ok := peer.(molt.Inet4Address); !ok {
		t.Fatalf("Accept peer = %T, want Inet4Address", peer)
	}
	if err := <-connectDone; err != nil {
		t.Fatalf("Connect: %v", err)
	}

	payload := []byte("hello")
	if err := m.SendAll(ctx, accepted, payload, 0); err != nil {
		t.Fatalf("SendAll: %v", err)
	}
	got, err := m.Recv(ctx, client, len(payload), 0)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Recv = %q, want %q", got, payload)
	}

	for _, fd := range []any{ln, client, accepted} {
		_ = fd
	}
	if err := m.Close(ln); err != nil {
		t.Errorf("Close(ln): %v", err)
	}
	if err := m.Close(client); err != nil {
		t.Errorf("Close(client): %v", err)
	}
	if err := m.Close(accepted); err != nil {
		t.Errorf("Close(accepted): %v", err)
	}
	if n := m.Table.Len(); n != 0 {
		t.Errorf("Table.Len() = %d after closing every socket, want 0", n)
	}
}

func TestSocketWithoutCapabilityFails(t *testing.T) {
	m := NewManager(molt.NewCapabilitySet())
	if _, err := m.Socket(molt.InetFamily, molt.StreamSocket, molt.TCPProtocol, nil); err == nil {
		t.Fatalf("Socket should fail without net capability")
	}
}

func TestCloneSharesOneSocketAndClosesOnce(t *testing.T) {
	m := NewManager(allCaps())
	ctx := context.Background()

	fd0, fd1, err := m.SocketPair(molt.UnixFamily, molt.StreamSocket, molt.IPProtocol)
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer m.Close(fd1)

	clone, err := m.Clone(fd0)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone == fd0 {
		t.Fatalf("Clone returned the same descriptor %d", fd0)
	}

	// Closing the original must leave the clone fully usable.
	if err := m.Close(fd0); err != nil {
		t.Fatalf("Close(fd0): %v", err)
	}
	if err := m.SendAll(ctx, clone, []byte("ping"), 0); err != nil {
		t.Fatalf("SendAll via clone after closing the original: %v", err)
	}
	got, err := m.Recv(ctx, fd1, 4, 0)
	if err != nil || string(got) != "ping" {
		t.Fatalf("Recv = (%q, %v), want ping", got, err)
	}

	if err := m.Close(clone); err != nil {
		t.Fatalf("Close(clone): %v", err)
	}
	if _, err := m.Fileno(clone); err == nil {
		t.Fatalf("clone handle should be dead after its close")
	}
}

func TestRawFDResolvesThroughBackMap(t *testing.T) {
	m := NewManager(allCaps())

	fd0, fd1, err := m.SocketPair(molt.UnixFamily, molt.StreamSocket, molt.IPProtocol)
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer m.Close(fd0)
	defer m.Close(fd1)

	raw, err := m.Fileno(fd0)
	if err != nil {
		t.Fatalf("Fileno: %v", err)
	}
	entry, ok := m.Table.LookupByFD(raw)
	if !ok {
		t.Fatalf("LookupByFD(%d) should recover the entry socket_fileno exposed", raw)
	}
	direct, ok := m.Table.Lookup(fd0)
	if !ok || direct != entry {
		t.Fatalf("back-map entry does not match the descriptor's entry")
	}
}

func TestNonBlockingConnectReportsEINPROGRESS(t *testing.T) {
	m := NewManager(allCaps())
	ctx := context.Background()

	// A freshly closed listener's port: connecting to it refuses quickly.
	ln, err := m.Socket(molt.InetFamily, molt.StreamSocket, molt.TCPProtocol, nil)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := m.Bind(ln, molt.Inet4Address{Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := m.Listen(ln, 1); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	local, err := m.GetSockName(ln)
	if err != nil {
		t.Fatalf("GetSockName: %v", err)
	}
	port := local.(molt.Inet4Address).Port
	if err := m.Close(ln); err != nil {
		t.Fatalf("Close(ln): %v", err)
	}

	client, err := m.Socket(molt.InetFamily, molt.StreamSocket, molt.TCPProtocol, nil)
	if err != nil {
		t.Fatalf("Socket (client): %v", err)
	}
	defer m.Close(client)
	if err := m.SetBlocking(client, false); err != nil {
		t.Fatalf("SetBlocking: %v", err)
	}

	target := molt.Inet4Address{Port: port, Addr: [4]byte{127, 0, 0, 1}}
	errno, err := m.ConnectEx(ctx, client, target)
	if err != nil {
		t.Fatalf("ConnectEx: %v", err)
	}
	if errno != molt.EINPROGRESS {
		// A connect to a closed loopback port can also refuse outright.
		if errno != molt.ECONNREFUSED {
			t.Fatalf("first ConnectEx = %v, want EINPROGRESS or ECONNREFUSED", errno)
		}
		return
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		errno, err = m.ConnectEx(ctx, client, target)
		if err != nil {
			t.Fatalf("ConnectEx (retry): %v", err)
		}
		if errno != molt.EINPROGRESS && errno != molt.EALREADY {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if errno != molt.ECONNREFUSED {
		t.Fatalf("final ConnectEx = %v, want ECONNREFUSED", errno)
	}
}

func TestSendTimesOutAgainstBackpressure(t *testing.T) {
	m := NewManager(allCaps())
	ctx := context.Background()

	fd0, fd1, err := m.SocketPair(molt.UnixFamily, molt.StreamSocket, molt.IPProtocol)
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer m.Close(fd0)
	defer m.Close(fd1)

	timeout := 100 * time.Millisecond
	if err := m.SetTimeout(fd0, &timeout); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}

	// Never read from fd1; the kernel buffer fills and SendAll must stop
	// making progress within the timeout.
	chunk := make([]byte, 64*1024)
	start := time.Now()
	deadline := start.Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := m.SendAll(ctx, fd0, chunk, 0); err != nil {
			var timeoutErr *molt.TimeoutError
			if !errors.As(err, &timeoutErr) {
				t.Fatalf("SendAll = %v, want TimeoutError", err)
			}
			return
		}
	}
	t.Fatalf("SendAll never hit backpressure")
}

func TestRecvZeroLengthDoesNotTouchSocket(t *testing.T) {
	m := NewManager(allCaps())
	fd0, fd1, err := m.SocketPair(molt.UnixFamily, molt.StreamSocket, molt.IPProtocol)
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer m.Close(fd0)
	defer m.Close(fd1)

	got, err := m.Recv(context.Background(), fd0, 0, 0)
	if err != nil {
		t.Fatalf("Recv(n=0): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recv(n=0) = %v, want empty", got)
	}
}
