package wsbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	molt "github.com/stealthrocket/molt-io"
)

func allCaps() *molt.CapabilitySet {
	return molt.NewCapabilitySet(molt.CapNet, molt.CapNetConnect)
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if conn.WriteMessage(mt, msg) != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + s.URL[len("http"):]
}

func TestDialSendRecvRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	m := NewManager(allCaps())
	handle, err := m.Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer m.Close(handle)

	if err := m.Send(handle, TextFrame, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, ok, err := m.Recv(handle)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if ok {
			if f.Kind != TextFrame || string(f.Payload) != "hello" {
				t.Fatalf("Recv = %+v, want TextFrame %q", f, "hello")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no frame received within deadline")
}

func TestDialWithoutCapabilityFails(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	m := NewManager(molt.NewCapabilitySet())
	if _, err := m.Dial(context.Background(), wsURL(srv), nil); err == nil {
		t.Fatalf("Dial should fail without net.connect capability")
	}
}

func TestPeekDoesNotConsumeFrame(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	m := NewManager(allCaps())
	handle, err := m.Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer m.Close(handle)

	if err := m.Send(handle, BinaryFrame, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, ok, err := m.Peek(handle)
		if err != nil {
			t.Fatalf("Peek: %v", err)
		}
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		again, ok, _ := m.Peek(handle)
		if !ok || string(again.Payload) != string(f.Payload) {
			t.Fatalf("second Peek = (%+v, %v), want the same frame", again, ok)
		}
		m.Pop(handle)
		if _, ok, _ := m.Peek(handle); ok {
			t.Fatalf("frame still queued after Pop")
		}
		return
	}
	t.Fatalf("no frame received within deadline")
}

func TestRecvOnUnknownHandleFails(t *testing.T) {
	m := NewManager(allCaps())
	if _, _, err := m.Recv(99); err == nil {
		t.Fatalf("Recv on unknown handle should fail")
	}
}
