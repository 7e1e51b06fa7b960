// Package iowait implements the I/O wait adapter (C5): translating
// (socket, interest, timeout) into a one-shot readiness wait, the single
// suspension point every blocking socket operation in package socketops
// parks on.
package iowait

import (
	"context"
	"time"

	molt "github.com/stealthrocket/molt-io"
)

// Interest is a bitwise-OR set of readiness conditions to wait for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	Error
)

func (i Interest) Has(f Interest) bool { return i&f != 0 }

// Ready is the set of readiness conditions observed.
type Ready = Interest

// Timeout carries the three-way timeout policy a SocketEntry's timeout
// cell encodes: absent means wait forever, zero means return immediately,
// positive bounds the wait.
type Timeout struct {
	set     bool
	zero    bool
	timeout time.Duration
}

// NoTimeout waits indefinitely.
func NoTimeout() Timeout { return Timeout{} }

// ZeroTimeout returns immediately with EWOULDBLOCK if not already ready.
func ZeroTimeout() Timeout { return Timeout{set: true, zero: true} }

// BoundedTimeout waits up to d before returning ETIMEDOUT.
func BoundedTimeout(d time.Duration) Timeout { return Timeout{set: true, timeout: d} }

// IsZero reports whether the timeout requests an immediate return, i.e.
// the socket is in non-blocking mode.
func (t Timeout) IsZero() bool { return t.set && t.zero }

// WaitBlocking waits for any of interest to become ready on fd, honoring
// timeout, or until ctx is cancelled. It is the single-descriptor analogue
// of the native reactor's multi-descriptor readiness loop: every socket
// operation in this module waits on exactly one descriptor at a time, so
// there is no need for the general poll-many machinery a file-system-wide
// WASI implementation would carry.
//
// Deadline semantics: a zero Timeout returns EWOULDBLOCK
// immediately if not ready; a positive Timeout returns ETIMEDOUT once
// elapsed; the absent Timeout waits forever (bounded only by ctx).
func WaitBlocking(ctx context.Context, fd int, interest Interest, timeout Timeout) (Ready, error) {
	if timeout.set && timeout.zero {
		ready, err := poll(fd, interest, 0)
		if err != nil {
			return 0, err
		}
		if ready == 0 {
			return 0, molt.EWOULDBLOCK
		}
		return ready, nil
	}

	deadline := time.Time{}
	if timeout.set {
		deadline = time.Now().Add(timeout.timeout)
	}

	for {
		select {
		case <-ctx.Done():
			return 0, molt.ECANCELED
		default:
		}

		waitMillis := -1
		if timeout.set {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, molt.ETIMEDOUT
			}
			waitMillis = int(remaining / time.Millisecond)
			if waitMillis == 0 {
				waitMillis = 1
			}
		}
		if ctx.Done() != nil && (waitMillis < 0 || waitMillis > 100) {
			// An unbounded (or long) poll would not observe cancellation
			// until it returned; chunk the wait so the ctx check above runs
			// at a bounded interval.
			waitMillis = 100
		}

		ready, err := poll(fd, interest, waitMillis)
		if err != nil {
			return 0, err
		}
		if ready != 0 {
			return ready, nil
		}
		if timeout.set && !time.Now().Before(deadline) {
			return 0, molt.ETIMEDOUT
		}
	}
}
