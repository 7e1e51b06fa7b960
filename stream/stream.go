// Package stream implements the guest-visible Stream object (C6): a
// guest-owned, append-only, closeable byte channel with in-order frame
// delivery and a terminal close signal.
//
// This package models the host-side bookkeeping only. Handing bytes to the
// guest lives in package hostbridge: the guest calls molt_stream_poll_host
// with a buffer of its own, and the bridge drains the Stream with Drain and
// copies the bytes into that buffer. The host never allocates in guest
// memory or calls a guest export to deliver a frame.
package stream

import "sync"

// Stream is an append-only, closeable byte channel. Producers call Send
// until they call Close; consumers call Drain to pop everything queued
// so far. Close is idempotent.
type Stream struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

// New returns an empty, open Stream.
func New() *Stream {
	return &Stream{}
}

// Send appends a frame. It returns false if the stream is already closed,
// in which case the frame is dropped — matching "one close ends
// delivery".
func (s *Stream) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	s.frames = append(s.frames, frame)
	return true
}

// Close marks the stream closed. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called. Note that a closed
// Stream may still have frames pending delivery via Drain.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Drain atomically removes and returns every frame queued so far, along
// with whether the stream is closed and has no more frames to deliver
// (i.e. the guest has seen everything and should observe the close).
func (s *Stream) Drain() (frames [][]byte, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames, s.frames = s.frames, nil
	return frames, s.closed
}
