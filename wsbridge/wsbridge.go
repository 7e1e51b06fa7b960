// Package wsbridge implements the WebSocket bridge: a blocking handshake
// followed by non-blocking opportunistic drains of inbound frames into a
// bounded queue, with ping/pong auto-respond and a combined read/write
// readiness poll.
package wsbridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/iowait"
)

// FrameKind distinguishes the two payload shapes a guest can receive.
type FrameKind int

const (
	TextFrame FrameKind = iota
	BinaryFrame
)

// Frame is one queued inbound message, already stripped of its WebSocket
// envelope.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// QueueLimit bounds how many undelivered frames a Conn buffers before
// drain stops pulling more off the wire.
const QueueLimit = 256

// Conn is one established WebSocket connection, readable via Recv and
// writable via Send, pollable via Poll.
type Conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	queue  []Frame
	closed bool
	err    error
}

// Manager owns a table of live connections, keyed by the integer handle
// the host bridge exchanges with the guest.
type Manager struct {
	Caps *molt.CapabilitySet

	mu     sync.Mutex
	conns  map[int32]*Conn
	nextID int32
}

// NewManager builds a Manager gated by caps.
func NewManager(caps *molt.CapabilitySet) *Manager {
	return &Manager{Caps: caps, conns: make(map[int32]*Conn)}
}

// Dial performs the blocking HTTP(S)/WS(S) handshake, then registers the
// resulting connection under a fresh handle.
func (m *Manager) Dial(ctx context.Context, rawURL string, header http.Header) (int32, error) {
	if err := m.Caps.RequireNet(molt.CapNetConnect); err != nil {
		return 0, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, &molt.ValueError{Msg: fmt.Sprintf("ws_connect: bad url %q: %v", rawURL, err)}
	}
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	ws, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return 0, &molt.OSError{Op: "ws_connect", Errno: molt.MakeErrno(err)}
	}

	c := newConn(ws)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.conns[id] = c
	return id, nil
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws}
	ws.SetPingHandler(func(data string) error {
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	return c
}

func (m *Manager) resolve(handle int32) (*Conn, error) {
	m.mu.Lock()
	c, ok := m.conns[handle]
	m.mu.Unlock()
	if !ok {
		return nil, &molt.OSError{Op: "ws", Errno: molt.EBADF}
	}
	return c, nil
}

// Send writes one outbound message.
func (m *Manager) Send(handle int32, kind FrameKind, payload []byte) error {
	c, err := m.resolve(handle)
	if err != nil {
		return err
	}
	mt := websocket.BinaryMessage
	if kind == TextFrame {
		mt = websocket.TextMessage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &molt.OSError{Op: "ws_send", Errno: molt.EBADF}
	}
	if werr := c.ws.WriteMessage(mt, payload); werr != nil {
		return &molt.OSError{Op: "ws_send", Errno: molt.MakeErrno(werr)}
	}
	return nil
}

// drain opportunistically reads frames off the wire until EWOULDBLOCK or
// the queue limit is reached.
func (c *Conn) drain() {
	c.mu.Lock()
	if c.closed || len(c.queue) >= QueueLimit {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	conn := c.ws.UnderlyingConn()
	nc, ok := conn.(net.Conn)
	if !ok {
		return
	}

	for {
		c.mu.Lock()
		full := len(c.queue) >= QueueLimit
		closed := c.closed
		c.mu.Unlock()
		if full || closed {
			return
		}

		_ = nc.SetReadDeadline(time.Now())
		mt, payload, err := c.ws.ReadMessage()
		_ = nc.SetReadDeadline(time.Time{})
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Lock()
			c.closed = true
			c.err = err
			c.mu.Unlock()
			return
		}

		switch mt {
		case websocket.TextMessage:
			c.mu.Lock()
			c.queue = append(c.queue, Frame{Kind: TextFrame, Payload: payload})
			c.mu.Unlock()
		case websocket.BinaryMessage:
			c.mu.Lock()
			c.queue = append(c.queue, Frame{Kind: BinaryFrame, Payload: payload})
			c.mu.Unlock()
		default:
			// Ping/pong/close are handled by gorilla's control-frame
			// handlers (set in newConn) or by the error branch above.
		}
	}
}

// Recv pops the oldest queued frame, if any, first opportunistically
// draining the wire. ok is false when no frame is currently available.
func (m *Manager) Recv(handle int32) (Frame, bool, error) {
	c, err := m.resolve(handle)
	if err != nil {
		return Frame{}, false, err
	}
	c.drain()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Frame{}, false, nil
	}
	f := c.queue[0]
	c.queue = c.queue[1:]
	return f, true, nil
}

// Peek returns the oldest queued frame without removing it, first
// opportunistically draining the wire. Callers that need to size a buffer
// before committing to a read (the host bridge's resize-and-retry
// convention) peek, then Pop once the frame fits.
func (m *Manager) Peek(handle int32) (Frame, bool, error) {
	c, err := m.resolve(handle)
	if err != nil {
		return Frame{}, false, err
	}
	c.drain()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Frame{}, false, nil
	}
	return c.queue[0], true, nil
}

// Pop removes the oldest queued frame, if any. It is the commit half of a
// Peek.
func (m *Manager) Pop(handle int32) {
	c, err := m.resolve(handle)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		c.queue = c.queue[1:]
	}
}

// Poll returns a readiness mask: Readable when the queue is non-empty
// (after an opportunistic drain) or the connection is closed, and Writable
// always; the underlying connection is not polled for write readiness.
func (m *Manager) Poll(handle int32) (iowait.Ready, error) {
	c, err := m.resolve(handle)
	if err != nil {
		return 0, err
	}
	c.drain()

	c.mu.Lock()
	nonEmpty := len(c.queue) > 0
	closed := c.closed
	c.mu.Unlock()

	var ready iowait.Ready
	if nonEmpty || closed {
		ready |= iowait.Readable
	}
	ready |= iowait.Writable // the bridge never buffers writes.
	return ready, nil
}

// Close sends a close frame (best effort) and removes the connection
// from the manager.
func (m *Manager) Close(handle int32) error {
	c, err := m.resolve(handle)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.conns, handle)
	m.mu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	return c.ws.Close()
}
