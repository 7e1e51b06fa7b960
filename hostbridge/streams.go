package hostbridge

import (
	"context"
	"sync"

	. "github.com/stealthrocket/wazergo/types"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/stream"
)

// registeredStream pairs a live Stream with whatever bytes have already
// been pulled off it but not yet fit in a guest-supplied buffer, so a
// short molt_stream_poll_host call followed by a resize-and-retry never
// drops data.
type registeredStream struct {
	s       *stream.Stream
	pending []byte
}

// streamTable is the bridge-local id table for live Streams: process
// stdio and DB worker responses register their *stream.Stream
// here and get back the integer handle the guest ABI exchanges.
type streamTable struct {
	mu     sync.Mutex
	nextID int32
	byID   map[int32]*registeredStream
}

func newStreamTable() *streamTable {
	return &streamTable{byID: make(map[int32]*registeredStream)}
}

func (t *streamTable) register(s *stream.Stream) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.byID[id] = &registeredStream{s: s}
	return id
}

func (t *streamTable) lookup(id int32) (*registeredStream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	return r, ok
}

func (t *streamTable) release(id int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

// holds reports whether s is the Stream registered under any handle,
// returning that handle. Used by ProcessStdio to answer "what handle did
// spawn register my stdout under".
func (t *streamTable) holds(s *stream.Stream) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, r := range t.byID {
		if r.s == s {
			return id, true
		}
	}
	return 0, false
}

func concatFrames(frames [][]byte) []byte {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// StreamPoll implements molt_stream_poll_host: the guest's per-turn pull
// of whatever bytes a Stream has queued. It follows the same size-hint
// retry contract as every other variable-length result in this bridge:
// needed is always written, and a too-small buf can be retried
// with one sized to fit without losing the drained bytes in between.
// closedOut is set to 1 once the stream is closed and every byte has been
// delivered, at which point the handle is released.
func (m *Module) StreamPoll(ctx context.Context, handle Int32, buf Bytes, needed Pointer[Uint32], closedOut Pointer[Int32]) Int32 {
	r, ok := m.streams.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}

	closedOut.Store(0)

	if len(r.pending) == 0 {
		frames, done := r.s.Drain()
		r.pending = concatFrames(frames)
		if done && len(r.pending) == 0 {
			closedOut.Store(1)
			m.streams.release(int32(handle))
			return 0
		}
	}

	if !writeSized(buf, needed, r.pending) {
		return -Int32(molt.ENOMEM)
	}
	n := len(r.pending)
	r.pending = nil
	if r.s.Closed() {
		// A background drain goroutine (process stdio) may have queued
		// more frames between the Drain above and the close observation;
		// only release once a re-drain confirms nothing is left.
		if frames, _ := r.s.Drain(); len(frames) > 0 {
			r.pending = concatFrames(frames)
		} else {
			closedOut.Store(1)
			m.streams.release(int32(handle))
		}
	}
	return Int32(n)
}
