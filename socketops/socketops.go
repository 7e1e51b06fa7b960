// Package socketops implements the socket operations (C3): bind, listen,
// accept, connect, send/recv (and their variants), shutdown, and the
// socket option accessors, each following the resolve → capability check
// → decode → syscall → WouldBlock-wait-retry skeleton.
package socketops

import (
	"context"
	"sync"
	"time"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/iowait"
	"github.com/stealthrocket/molt-io/sockettable"
)

// state is the socket-specific payload stored in each sockettable.Entry,
// beyond what the entry itself tracks (Kind, FD): family/type/proto, the
// three-way timeout cell, and the connect-pending flag.
type state struct {
	Family molt.ProtocolFamily
	Type   molt.SocketType
	Proto  molt.Protocol

	mu             sync.Mutex
	timeoutSet     bool // false = block indefinitely
	timeoutZero    bool // true = non-blocking
	timeout        time.Duration
	connectPending bool
}

func (s *state) getTimeout() iowait.Timeout {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.timeoutSet:
		return iowait.NoTimeout()
	case s.timeoutZero:
		return iowait.ZeroTimeout()
	default:
		return iowait.BoundedTimeout(s.timeout)
	}
}

// Manager owns the socket descriptor table and the capability set every
// boundary-crossing operation is checked against.
type Manager struct {
	Table sockettable.Table
	Caps  *molt.CapabilitySet
}

// NewManager builds a Manager gated by caps.
func NewManager(caps *molt.CapabilitySet) *Manager {
	return &Manager{Caps: caps}
}

// resolve implements the uniform handle resolution contract: the handle
// is first treated as a table descriptor; failing that, as the raw OS
// descriptor socket_fileno handed out, recovered through the FD back-map.
// Descriptor resolution is attempted first, so a raw FD numerically equal
// to a live descriptor resolves as that descriptor.
func (m *Manager) resolve(fd sockettable.Descriptor) (*sockettable.Entry, *state, error) {
	var entry *sockettable.Entry
	var st *state
	err := m.Table.WithEntry(fd, func(e *sockettable.Entry) error {
		entry = e
		st, _ = e.Socket.(*state)
		return nil
	})
	switch err {
	case nil:
		return entry, st, nil
	case sockettable.ErrNotFound:
		if e, ok := m.Table.LookupByFD(int(fd)); ok {
			e.Lock()
			closing := e.Kind == sockettable.Closing
			st, _ = e.Socket.(*state)
			e.Unlock()
			if closing {
				return nil, nil, &molt.OSError{Op: "socket", Errno: molt.EBADF}
			}
			return e, st, nil
		}
		return nil, nil, &molt.TypeError{Msg: "not a socket handle"}
	default:
		return nil, nil, &molt.OSError{Op: "socket", Errno: molt.EBADF}
	}
}

// releaseEntry drops a pin taken for the duration of an operation; the
// last reference out also closes the native resource.
func (m *Manager) releaseEntry(entry *sockettable.Entry) {
	if last := m.Table.ReleaseEntry(entry); last {
		entry.Lock()
		nativeFD := entry.FD
		entry.Unlock()
		if nativeFD >= 0 {
			closeFD(nativeFD)
		}
	}
}

// Fileno returns the raw native file descriptor behind fd, backing
// socket_fileno.
func (m *Manager) Fileno(fd sockettable.Descriptor) (int, error) {
	entry, _, err := m.resolve(fd)
	if err != nil {
		return -1, err
	}
	entry.Lock()
	defer entry.Unlock()
	return entry.FD, nil
}

// Clone shares ownership of the same entry under a new descriptor value,
// backing socket_clone: both handles bump one shared refcount, and the
// native resource is released only when the last of them closes. A fresh
// Descriptor is handed out rather than the same number, since this table
// has no notion of an aliasing handle value.
func (m *Manager) Clone(fd sockettable.Descriptor) (sockettable.Descriptor, error) {
	if _, _, err := m.resolve(fd); err != nil {
		return 0, err
	}
	clone, ok := m.Table.AllocateAlias(fd)
	if !ok {
		return 0, &molt.TypeError{Msg: "not a socket handle"}
	}
	return clone, nil
}

// SetTimeout implements socket_settimeout. A nil d blocks indefinitely; a
// zero d is equivalent to setblocking(false).
func (m *Manager) SetTimeout(fd sockettable.Descriptor, d *time.Duration) error {
	_, st, err := m.resolve(fd)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if d == nil {
		st.timeoutSet = false
		return nil
	}
	st.timeoutSet = true
	st.timeoutZero = *d == 0
	st.timeout = *d
	return nil
}

// GetTimeout implements socket_gettimeout.
func (m *Manager) GetTimeout(fd sockettable.Descriptor) (*time.Duration, error) {
	_, st, err := m.resolve(fd)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.timeoutSet {
		return nil, nil
	}
	d := st.timeout
	return &d, nil
}

// SetBlocking implements socket_setblocking: true clears the timeout,
// false is equivalent to SetTimeout(0).
func (m *Manager) SetBlocking(fd sockettable.Descriptor, blocking bool) error {
	if blocking {
		return m.SetTimeout(fd, nil)
	}
	zero := time.Duration(0)
	return m.SetTimeout(fd, &zero)
}

// GetBlocking implements socket_getblocking.
func (m *Manager) GetBlocking(fd sockettable.Descriptor) (bool, error) {
	d, err := m.GetTimeout(fd)
	if err != nil {
		return false, err
	}
	return d == nil, nil
}

// Bind implements socket_bind.
func (m *Manager) Bind(fd sockettable.Descriptor, addr molt.SocketAddress) error {
	if err := m.Caps.RequireNet(molt.CapNetBind); err != nil {
		return err
	}
	entry, _, err := m.resolve(fd)
	if err != nil {
		return err
	}
	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()
	if err := bind(nativeFD, addr); err != nil {
		return err
	}
	entry.Lock()
	entry.Kind = sockettable.Bound
	entry.Unlock()
	return nil
}

// Listen implements socket_listen. A Listener may be called again with a
// new backlog without losing state.
func (m *Manager) Listen(fd sockettable.Descriptor, backlog int) error {
	if err := m.Caps.RequireNet(molt.CapNetListen); err != nil {
		return err
	}
	entry, _, err := m.resolve(fd)
	if err != nil {
		return err
	}
	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()
	if err := listen(nativeFD, backlog); err != nil {
		return err
	}
	entry.Lock()
	entry.Kind = sockettable.Listening
	entry.Unlock()
	return nil
}

// Accept implements socket_accept, returning the new socket's descriptor
// and the peer address. The new entry inherits the parent's timeout.
func (m *Manager) Accept(ctx context.Context, fd sockettable.Descriptor) (sockettable.Descriptor, molt.SocketAddress, error) {
	if err := m.Caps.RequireNet(molt.CapNetListen); err != nil {
		return 0, nil, err
	}
	entry, st, err := m.resolve(fd)
	if err != nil {
		return 0, nil, err
	}

	m.Table.RetainEntry(entry)
	defer m.releaseEntry(entry)

	for {
		entry.Lock()
		nativeFD := entry.FD
		entry.Unlock()

		childFD, peer, err := accept(nativeFD)
		if err == nil {
			childState := &state{Family: st.Family, Type: st.Type, Proto: st.Proto}
			childState.timeoutSet, childState.timeoutZero, childState.timeout = st.timeoutSet, st.timeoutZero, st.timeout
			child := &sockettable.Entry{Kind: sockettable.Connected, FD: childFD, Socket: childState}
			newFD := m.Table.Allocate(child)
			return newFD, peer, nil
		}
		if err != molt.EWOULDBLOCK && err != molt.EAGAIN {
			return 0, nil, &molt.OSError{Op: "accept", Errno: asErrno(err)}
		}
		if _, err := waitOrFail(ctx, nativeFD, iowait.Readable, st, "accept"); err != nil {
			return 0, nil, err
		}
	}
}

// Connect implements socket_connect: blocks (subject to timeout) until
// the connection completes or fails.
func (m *Manager) Connect(ctx context.Context, fd sockettable.Descriptor, addr molt.SocketAddress) error {
	errno, err := m.ConnectEx(ctx, fd, addr)
	if err != nil {
		return err
	}
	if errno != molt.ESUCCESS {
		return &molt.OSError{Op: "connect", Errno: errno}
	}
	return nil
}

// ConnectEx implements socket_connect_ex: same as Connect but returns the
// errno instead of raising, matching the guest ABI's error-code return
// convention for this one verb.
func (m *Manager) ConnectEx(ctx context.Context, fd sockettable.Descriptor, addr molt.SocketAddress) (molt.Errno, error) {
	if err := m.Caps.RequireNet(molt.CapNetConnect); err != nil {
		return 0, err
	}
	entry, st, err := m.resolve(fd)
	if err != nil {
		return 0, err
	}

	m.Table.RetainEntry(entry)
	defer m.releaseEntry(entry)

	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()

	err = connect(nativeFD, addr)
	if err == nil {
		entry.Lock()
		entry.Kind = sockettable.Connected
		entry.Unlock()
		return molt.ESUCCESS, nil
	}
	if err != molt.EINPROGRESS {
		return asErrno(err), nil
	}

	st.mu.Lock()
	st.connectPending = true
	st.mu.Unlock()
	entry.Lock()
	entry.Kind = sockettable.Connected
	entry.Unlock()

	// A non-blocking socket surfaces EINPROGRESS to the caller, who is
	// expected to come back with another connect_ex once writable; a
	// retried connect(2) reports the real outcome (EISCONN, ECONNREFUSED).
	if st.getTimeout().IsZero() {
		return molt.EINPROGRESS, nil
	}

	if _, err := waitOrFail(ctx, nativeFD, iowait.Writable, st, "connect"); err != nil {
		return 0, err
	}

	sockErr, err := getSocketError(nativeFD)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	st.connectPending = sockErr != molt.ESUCCESS
	st.mu.Unlock()
	return sockErr, nil
}

// Send implements socket_send.
func (m *Manager) Send(ctx context.Context, fd sockettable.Descriptor, data []byte, flags molt.SIFlags) (int, error) {
	return m.sendLoop(ctx, fd, data, flags)
}

// SendAll implements socket_sendall: writes exactly len(data) bytes,
// resuming at the byte offset the OS last reported. A zero-byte write is
// treated as EPIPE.
func (m *Manager) SendAll(ctx context.Context, fd sockettable.Descriptor, data []byte, flags molt.SIFlags) error {
	offset := 0
	for offset < len(data) {
		n, err := m.sendLoop(ctx, fd, data[offset:], flags)
		if err != nil {
			return err
		}
		if n == 0 {
			return &molt.OSError{Op: "sendall", Errno: molt.EPIPE}
		}
		offset += n
	}
	return nil
}

func (m *Manager) sendLoop(ctx context.Context, fd sockettable.Descriptor, data []byte, flags molt.SIFlags) (int, error) {
	entry, st, err := m.resolve(fd)
	if err != nil {
		return 0, err
	}

	m.Table.RetainEntry(entry)
	defer m.releaseEntry(entry)

	for {
		entry.Lock()
		nativeFD := entry.FD
		entry.Unlock()

		n, err := send(nativeFD, data)
		if err == nil {
			traceSend(nativeFD, n)
			return n, nil
		}
		if err != molt.EWOULDBLOCK && err != molt.EAGAIN {
			return 0, &molt.OSError{Op: "send", Errno: asErrno(err)}
		}
		if _, err := waitOrFailSend(ctx, nativeFD, st, flags); err != nil {
			return 0, err
		}
	}
}

// SendTo implements socket_sendto. Sending a datagram to a new peer is a
// connect-class boundary crossing, so it stays capability-gated even
// though plain send/recv on an established socket are not.
func (m *Manager) SendTo(ctx context.Context, fd sockettable.Descriptor, data []byte, flags molt.SIFlags, addr molt.SocketAddress) (int, error) {
	if err := m.Caps.RequireNet(molt.CapNetConnect); err != nil {
		return 0, err
	}
	entry, st, err := m.resolve(fd)
	if err != nil {
		return 0, err
	}

	m.Table.RetainEntry(entry)
	defer m.releaseEntry(entry)

	for {
		entry.Lock()
		nativeFD := entry.FD
		entry.Unlock()

		n, err := sendTo(nativeFD, data, addr)
		if err == nil {
			return n, nil
		}
		if err != molt.EWOULDBLOCK && err != molt.EAGAIN {
			return 0, &molt.OSError{Op: "sendto", Errno: asErrno(err)}
		}
		if _, err := waitOrFailSend(ctx, nativeFD, st, flags); err != nil {
			return 0, err
		}
	}
}

// Recv implements socket_recv. A size of zero returns an empty slice
// without touching the socket.
func (m *Manager) Recv(ctx context.Context, fd sockettable.Descriptor, n int, flags molt.RIFlags) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	got, _, err := m.RecvInto(ctx, fd, buf, flags)
	if err != nil {
		return nil, err
	}
	return buf[:got], nil
}

// RecvInto implements socket_recv_into: reads directly into buf.
func (m *Manager) RecvInto(ctx context.Context, fd sockettable.Descriptor, buf []byte, flags molt.RIFlags) (int, molt.ROFlags, error) {
	entry, st, err := m.resolve(fd)
	if err != nil {
		return 0, 0, err
	}

	m.Table.RetainEntry(entry)
	defer m.releaseEntry(entry)

	for {
		entry.Lock()
		nativeFD := entry.FD
		entry.Unlock()

		n, roflags, err := recv(nativeFD, buf, flags)
		if err == nil {
			traceRecv(nativeFD, n)
			return n, roflags, nil
		}
		if err != molt.EWOULDBLOCK && err != molt.EAGAIN {
			return 0, 0, &molt.OSError{Op: "recv", Errno: asErrno(err)}
		}
		if _, err := waitOrFailRecv(ctx, nativeFD, st, flags); err != nil {
			return 0, 0, err
		}
	}
}

// RecvFrom implements socket_recvfrom.
func (m *Manager) RecvFrom(ctx context.Context, fd sockettable.Descriptor, n int, flags molt.RIFlags) ([]byte, molt.SocketAddress, error) {
	entry, st, err := m.resolve(fd)
	if err != nil {
		return nil, nil, err
	}

	m.Table.RetainEntry(entry)
	defer m.releaseEntry(entry)

	buf := make([]byte, n)
	for {
		entry.Lock()
		nativeFD := entry.FD
		entry.Unlock()

		got, peer, err := recvFrom(nativeFD, buf, flags)
		if err == nil {
			return buf[:got], peer, nil
		}
		if err != molt.EWOULDBLOCK && err != molt.EAGAIN {
			return nil, nil, &molt.OSError{Op: "recvfrom", Errno: asErrno(err)}
		}
		if _, err := waitOrFailRecv(ctx, nativeFD, st, flags); err != nil {
			return nil, nil, err
		}
	}
}

// Shutdown implements socket_shutdown.
func (m *Manager) Shutdown(fd sockettable.Descriptor, how molt.SDFlags) error {
	entry, _, err := m.resolve(fd)
	if err != nil {
		return err
	}
	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()
	return shutdown(nativeFD, how)
}

// GetSockName implements socket_getsockname.
func (m *Manager) GetSockName(fd sockettable.Descriptor) (molt.SocketAddress, error) {
	entry, _, err := m.resolve(fd)
	if err != nil {
		return nil, err
	}
	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()
	return getSockName(nativeFD)
}

// GetPeerName implements socket_getpeername.
func (m *Manager) GetPeerName(fd sockettable.Descriptor) (molt.SocketAddress, error) {
	entry, _, err := m.resolve(fd)
	if err != nil {
		return nil, err
	}
	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()
	return getPeerName(nativeFD)
}

// GetSockOptInt implements the integer form of socket_getsockopt.
func (m *Manager) GetSockOptInt(fd sockettable.Descriptor, level molt.SocketOptionLevel, opt molt.SocketOption) (int, error) {
	entry, _, err := m.resolve(fd)
	if err != nil {
		return 0, err
	}
	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()
	return getSockOptInt(nativeFD, level, opt)
}

// GetSockOptBytes implements the buffered form of socket_getsockopt: the
// caller supplied a buffer length, so the option value comes back as raw
// bytes truncated to the kernel-returned length.
func (m *Manager) GetSockOptBytes(fd sockettable.Descriptor, level molt.SocketOptionLevel, opt molt.SocketOption, buflen int) ([]byte, error) {
	entry, _, err := m.resolve(fd)
	if err != nil {
		return nil, err
	}
	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()
	return getSockOptBytes(nativeFD, level, opt, buflen)
}

// SetSockOptInt implements the integer form of socket_setsockopt.
func (m *Manager) SetSockOptInt(fd sockettable.Descriptor, level molt.SocketOptionLevel, opt molt.SocketOption, value int) error {
	entry, _, err := m.resolve(fd)
	if err != nil {
		return err
	}
	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()
	return setSockOptInt(nativeFD, level, opt, value)
}

// Detach implements socket_detach: unregisters the entry from the table
// and the FD back-map, and hands the raw FD back to the caller, who owns
// closing it. Subsequent operations on fd fail.
func (m *Manager) Detach(fd sockettable.Descriptor) (int, error) {
	_, nativeFD, ok := m.Table.Detach(fd)
	if !ok {
		return -1, &molt.TypeError{Msg: "not a socket handle"}
	}
	return nativeFD, nil
}

// Close implements socket_close: invalidates the handle and releases its
// reference, closing the native resource exactly once, when the last
// handle (and any operation still pinned on readiness) has let go.
func (m *Manager) Close(fd sockettable.Descriptor) error {
	entry, last := m.Table.CloseDescriptor(fd)
	if entry == nil || !last {
		return nil
	}
	entry.Lock()
	nativeFD := entry.FD
	entry.Unlock()
	if nativeFD < 0 {
		return nil
	}
	return closeFD(nativeFD)
}

// Socket implements socket_new: allocates a fresh entry for family/type/
// proto, optionally wrapping a pre-existing descriptor (fileno mode).
// When wrapping an existing descriptor, SO_ACCEPTCONN classifies it as a
// listener vs a stream.
func (m *Manager) Socket(family molt.ProtocolFamily, typ molt.SocketType, proto molt.Protocol, existingFD *int) (sockettable.Descriptor, error) {
	if err := m.Caps.RequireAny(molt.CapNet, molt.CapNetConnect, molt.CapNetListen, molt.CapNetBind); err != nil {
		return 0, err
	}

	var nativeFD int
	var err error
	if existingFD != nil {
		nativeFD = *existingFD
	} else {
		nativeFD, err = newSocket(family, typ, proto)
		if err != nil {
			return 0, err
		}
	}
	if err := setNonblocking(nativeFD); err != nil {
		closeFD(nativeFD)
		return 0, err
	}

	kind := sockettable.Unbound
	if typ == molt.DatagramSocket {
		kind = sockettable.Connected
	} else if existingFD != nil {
		kind = sockettable.Connected
		if isListening(nativeFD) {
			kind = sockettable.Listening
		}
	}

	entry := &sockettable.Entry{
		Kind: kind,
		FD:   nativeFD,
		Socket: &state{
			Family: family,
			Type:   typ,
			Proto:  proto,
		},
	}
	return m.Table.Allocate(entry), nil
}

// Adopt registers a descriptor the host itself opened (a --listen or
// --dial preopen) without consulting the capability set: preopens are
// host policy, not a guest-initiated boundary crossing. The descriptor is
// classified and placed into non-blocking mode the same way Socket does
// for a guest-supplied fileno.
func (m *Manager) Adopt(family molt.ProtocolFamily, typ molt.SocketType, proto molt.Protocol, nativeFD int) (sockettable.Descriptor, error) {
	if err := setNonblocking(nativeFD); err != nil {
		return 0, err
	}
	kind := sockettable.Connected
	if typ != molt.DatagramSocket && isListening(nativeFD) {
		kind = sockettable.Listening
	}
	entry := &sockettable.Entry{
		Kind: kind,
		FD:   nativeFD,
		Socket: &state{
			Family: family,
			Type:   typ,
			Proto:  proto,
		},
	}
	return m.Table.Allocate(entry), nil
}

// SocketPair implements socketpair: two connected sockets sharing one
// descriptor allocation call.
func (m *Manager) SocketPair(family molt.ProtocolFamily, typ molt.SocketType, proto molt.Protocol) (sockettable.Descriptor, sockettable.Descriptor, error) {
	if err := m.Caps.RequireAny(molt.CapNet, molt.CapNetConnect, molt.CapNetListen, molt.CapNetBind); err != nil {
		return 0, 0, err
	}
	fd0, fd1, err := socketpair(family, typ)
	if err != nil {
		return 0, 0, err
	}
	mk := func(nativeFD int) sockettable.Descriptor {
		return m.Table.Allocate(&sockettable.Entry{
			Kind: sockettable.Connected,
			FD:   nativeFD,
			Socket: &state{
				Family: family,
				Type:   typ,
				Proto:  proto,
			},
		})
	}
	return mk(fd0), mk(fd1), nil
}

// waitOrFailSend is waitOrFail for the send direction, except that
// SendDontWait forces an immediate EWOULDBLOCK for this call regardless
// of the socket's own timeout setting.
func waitOrFailSend(ctx context.Context, nativeFD int, st *state, flags molt.SIFlags) (iowait.Ready, error) {
	if flags.Has(molt.SendDontWait) {
		return 0, &molt.OSError{Op: "send", Errno: molt.EWOULDBLOCK}
	}
	return waitOrFail(ctx, nativeFD, iowait.Writable, st, "send")
}

// waitOrFailRecv is waitOrFail for the receive direction, except that
// RecvDontWait forces the same immediate-EWOULDBLOCK behavior for this
// call regardless of the socket's own timeout setting.
func waitOrFailRecv(ctx context.Context, nativeFD int, st *state, flags molt.RIFlags) (iowait.Ready, error) {
	if flags.Has(molt.RecvDontWait) {
		return 0, &molt.OSError{Op: "recv", Errno: molt.EWOULDBLOCK}
	}
	return waitOrFail(ctx, nativeFD, iowait.Readable, st, "recv")
}

func waitOrFail(ctx context.Context, nativeFD int, interest iowait.Interest, st *state, op string) (iowait.Ready, error) {
	ready, err := iowait.WaitBlocking(ctx, nativeFD, interest, st.getTimeout())
	if err != nil {
		if errno, ok := err.(molt.Errno); ok {
			switch errno {
			case molt.EWOULDBLOCK:
				return 0, &molt.OSError{Op: op, Errno: molt.EWOULDBLOCK}
			case molt.ETIMEDOUT:
				return 0, &molt.TimeoutError{Op: op}
			case molt.ECANCELED:
				return 0, err
			}
		}
		return 0, err
	}
	return ready, nil
}

func asErrno(err error) molt.Errno {
	if errno, ok := err.(molt.Errno); ok {
		return errno
	}
	return molt.MakeErrno(err)
}
