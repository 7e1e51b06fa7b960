package hostbridge

import (
	"context"
	"net/http"

	. "github.com/stealthrocket/wazergo/types"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/wsbridge"
)

// WSConnect implements molt_ws_connect_host. headerBuf is a string-list
// wire envelope of alternating header name/value pairs; an odd count is a
// ValueError.
func (m *Module) WSConnect(ctx context.Context, url String, headerBuf Bytes) Int64 {
	pairs, err := decodeStringList(headerBuf)
	if err != nil {
		return Int64(errCode(err))
	}
	if len(pairs)%2 != 0 {
		return Int64(errCode(&molt.ValueError{Msg: "ws_connect: odd header list length"}))
	}
	header := make(http.Header, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		header.Add(pairs[i], pairs[i+1])
	}
	handle, err := m.WS.Dial(ctx, string(url), header)
	if err != nil {
		return Int64(errCode(err))
	}
	return Int64(handle)
}

func (m *Module) WSSend(ctx context.Context, handle Int32, kind Int32, payload Bytes) Int32 {
	fk := wsbridge.BinaryFrame
	if kind == 0 {
		fk = wsbridge.TextFrame
	}
	return errCode(m.WS.Send(int32(handle), fk, payload))
}

// WSRecv implements molt_ws_recv_host: delivers the oldest queued frame
// into buf, reporting its kind via kindOut and -EAGAIN when none is ready
// yet. needed is always written per the bridge's size-hint convention; the
// frame is only dequeued once it fit, so a short buf can be resized and
// retried without loss.
func (m *Module) WSRecv(ctx context.Context, handle Int32, buf Bytes, needed Pointer[Uint32], kindOut Pointer[Int32]) Int32 {
	frame, ok, err := m.WS.Peek(int32(handle))
	if err != nil {
		return errCode(err)
	}
	if !ok {
		return -Int32(molt.EAGAIN)
	}
	if !writeSized(buf, needed, frame.Payload) {
		return -Int32(molt.ENOMEM)
	}
	m.WS.Pop(int32(handle))
	kind := Int32(1)
	if frame.Kind == wsbridge.TextFrame {
		kind = 0
	}
	kindOut.Store(kind)
	return Int32(len(frame.Payload))
}

func (m *Module) WSPoll(ctx context.Context, handle Int32) Int32 {
	ready, err := m.WS.Poll(int32(handle))
	if err != nil {
		return errCode(err)
	}
	return Int32(ready)
}

func (m *Module) WSClose(ctx context.Context, handle Int32) Int32 {
	return errCode(m.WS.Close(int32(handle)))
}
