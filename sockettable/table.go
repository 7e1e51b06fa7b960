// Package sockettable implements the socket handle table (C1): a dense,
// refcounted table from small integer descriptors to socket state, plus
// the FD back-map recovering an entry from the raw OS descriptor a guest
// obtained through socket_fileno.
package sockettable

import (
	"errors"
	"sync"

	"github.com/stealthrocket/molt-io/internal/descriptor"
	"golang.org/x/exp/slices"
)

// ErrNotFound is returned by WithEntry when no entry exists for the
// descriptor.
var ErrNotFound = errors.New("no socket entry for descriptor")

// ErrClosed is returned by WithEntry once the entry has been closed.
var ErrClosed = errors.New("socket entry is closed")

// Kind records which half of the socket lifecycle an entry is in.
type Kind int

const (
	// Unbound is a freshly opened socket with no local address yet.
	Unbound Kind = iota
	// Bound has a local address but is neither listening nor connected.
	Bound
	// Listening accepts incoming connections.
	Listening
	// Connected is a connected stream or "connected" datagram socket.
	Connected
	// Closing has had its last handle closed (or been detached); the
	// native resource is released or handed off and no transition out of
	// this state is allowed.
	Closing
)

func (k Kind) String() string {
	switch k {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Descriptor is the handle guest code holds for a socket: an opaque,
// dense, reused integer. It carries no meaning beyond indexing Table.
type Descriptor int32

// Entry is the state a Descriptor maps to. FD is the native file
// descriptor number backing the socket, or -1 when there is none (e.g. a
// sandboxed backend with no real OS socket). Socket is intentionally
// untyped (any) at this layer: the table does not know whether it is
// holding a native *os.File-wrapping value or a sandbox-side emulated
// connection, only that it is an opaque payload keyed by Descriptor.
//
// refs counts every reason the entry must stay alive: one per live
// descriptor (aliases included) and one per operation pinned across a
// readiness suspension. The native resource is released exactly once,
// when refs reaches zero.
type Entry struct {
	mu     sync.Mutex
	Kind   Kind
	FD     int
	Socket any
	refs   int
}

// Lock acquires the per-entry mutex. Operations hold it while reading FD
// or updating Kind or Socket, and release it before any syscall, since
// readiness-wait loops run without the table's own lock held.
func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

// Table is the process-wide socket descriptor table, implemented on top
// of the generic dense descriptor table in internal/descriptor, plus the
// FD back-map keyed by the raw OS descriptor.
type Table struct {
	mu    sync.Mutex
	inner descriptor.Table[Descriptor, *Entry]
	byFD  map[int]*Entry
}

// Allocate inserts a new entry with one reference and returns the
// descriptor it was assigned. Entries backed by a real OS descriptor are
// registered in the FD back-map for as long as they are alive.
func (t *Table) Allocate(e *Entry) Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs = 1
	if e.FD >= 0 {
		if t.byFD == nil {
			t.byFD = make(map[int]*Entry)
		}
		t.byFD[e.FD] = e
	}
	return t.inner.Insert(e)
}

// AllocateAlias inserts the entry already registered under fd a second
// time, under a fresh descriptor sharing the same refcount: two handles,
// one socket, one eventual close of the native resource.
func (t *Table) AllocateAlias(fd Descriptor) (Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.inner.Lookup(fd)
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
	return t.inner.Insert(e), true
}

// Lookup returns the entry for fd, and whether it was found.
func (t *Table) Lookup(fd Descriptor) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Lookup(fd)
}

// LookupByFD recovers the entry owning the raw OS descriptor fd, the
// resolution path for callers that obtained an integer through
// socket_fileno and pass it back into a socket operation.
func (t *Table) LookupByFD(fd int) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byFD[fd]
	return e, ok
}

// WithEntry invokes f with the entry for fd held under the per-entry
// guard, returning ErrNotFound when no entry exists and ErrClosed once
// the entry has been closed. f must not block or re-lock the entry.
func (t *Table) WithEntry(fd Descriptor, f func(*Entry) error) error {
	e, ok := t.Lookup(fd)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Kind == Closing {
		return ErrClosed
	}
	return f(e)
}

// RetainEntry pins the entry across a suspension point: operations that
// may park on readiness take a reference before the wait and release it
// on completion, so a concurrent close of the last descriptor cannot
// free the native resource out from under them.
func (t *Table) RetainEntry(e *Entry) {
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
}

// ReleaseEntry drops a pin taken with RetainEntry. When the last
// reference goes (every descriptor already closed, every other pin
// released), the entry transitions to Closing, leaves the FD back-map,
// and true is returned so the caller releases the native resource.
func (t *Table) ReleaseEntry(e *Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.mu.Lock()
	e.refs--
	last := e.refs <= 0
	if last {
		e.Kind = Closing
	}
	fd := e.FD
	e.mu.Unlock()
	if last && fd >= 0 {
		delete(t.byFD, fd)
	}
	return last
}

// CloseDescriptor removes fd from the table and drops the reference it
// held. The entry is returned along with whether this was the last
// reference; only then has it transitioned to Closing and left the FD
// back-map, and only then does the caller close the native resource. A
// clone closed earlier, or an operation still pinned on readiness, keeps
// the entry (and its resource) alive.
func (t *Table) CloseDescriptor(fd Descriptor) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.inner.Lookup(fd)
	if !ok {
		return nil, false
	}
	t.inner.Delete(fd)
	e.mu.Lock()
	e.refs--
	last := e.refs <= 0
	if last {
		e.Kind = Closing
	}
	nativeFD := e.FD
	e.mu.Unlock()
	if last && nativeFD >= 0 {
		delete(t.byFD, nativeFD)
	}
	return e, last
}

// Detach removes fd from the table without regard to its refcount,
// marking the entry Closing and deregistering it from the FD back-map.
// Ownership of the returned raw descriptor passes to the caller, who
// becomes responsible for closing it; the entry's own FD is cleared so a
// straggling clone closing later cannot close it a second time.
func (t *Table) Detach(fd Descriptor) (*Entry, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.inner.Lookup(fd)
	if !ok {
		return nil, -1, false
	}
	t.inner.Delete(fd)
	e.mu.Lock()
	e.Kind = Closing
	nativeFD := e.FD
	e.FD = -1
	e.mu.Unlock()
	if nativeFD >= 0 {
		delete(t.byFD, nativeFD)
	}
	return e, nativeFD, true
}

// Range calls f for every live descriptor. f returning false stops the
// iteration early.
func (t *Table) Range(f func(Descriptor, *Entry) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inner.Range(f)
}

// Len returns the number of live descriptors.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Len()
}

// Descriptors returns every live descriptor in ascending order, for
// diagnostics (e.g. a host-debug dump of the FD back-map).
func (t *Table) Descriptors() []Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	ds := make([]Descriptor, 0, t.inner.Len())
	t.inner.Range(func(d Descriptor, _ *Entry) bool {
		ds = append(ds, d)
		return true
	})
	slices.Sort(ds)
	return ds
}
