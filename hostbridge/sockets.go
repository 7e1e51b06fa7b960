package hostbridge

import (
	"context"
	"time"

	. "github.com/stealthrocket/wazergo/types"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/addrcodec"
	"github.com/stealthrocket/molt-io/sockettable"
)

// decodeAddr reads a sockaddr off raw bytes using the addrcodec wire
// format; the zero value decodes to an error, so unknown families fail
// fast.
func decodeAddr(buf Bytes) (molt.SocketAddress, error) {
	return addrcodec.Decode(buf)
}

// SocketNew implements molt_socket_new_host: allocate(family, type, proto,
// fileno_or_none) -> handle. existingFD < 0 means "no pre-existing
// descriptor", matching the guest ABI's fileno_or_none argument.
func (m *Module) SocketNew(ctx context.Context, family, typ, proto, existingFD Int32) Int64 {
	var fdPtr *int
	if existingFD >= 0 {
		fd := int(existingFD)
		fdPtr = &fd
	}
	fd, err := m.Sockets.Socket(molt.ProtocolFamily(family), molt.SocketType(typ), molt.Protocol(proto), fdPtr)
	if err != nil {
		return Int64(errCode(err))
	}
	return Int64(fd)
}

func (m *Module) SocketFileno(ctx context.Context, handle Int32) Int32 {
	fd, err := m.Sockets.Fileno(sockettable.Descriptor(handle))
	if err != nil {
		return errCode(err)
	}
	return Int32(fd)
}

func (m *Module) SocketClone(ctx context.Context, handle Int32) Int64 {
	clone, err := m.Sockets.Clone(sockettable.Descriptor(handle))
	if err != nil {
		return Int64(errCode(err))
	}
	return Int64(clone)
}

func (m *Module) SocketSetBlocking(ctx context.Context, handle Int32, blocking Int32) Int32 {
	return errCode(m.Sockets.SetBlocking(sockettable.Descriptor(handle), blocking != 0))
}

func (m *Module) SocketGetBlocking(ctx context.Context, handle Int32) Int32 {
	b, err := m.Sockets.GetBlocking(sockettable.Descriptor(handle))
	if err != nil {
		return errCode(err)
	}
	if b {
		return 1
	}
	return 0
}

func (m *Module) SocketClose(ctx context.Context, handle Int32) Int32 {
	return errCode(m.Sockets.Close(sockettable.Descriptor(handle)))
}

func (m *Module) SocketDetach(ctx context.Context, handle Int32) Int32 {
	fd, err := m.Sockets.Detach(sockettable.Descriptor(handle))
	if err != nil {
		return errCode(err)
	}
	return Int32(fd)
}

// SocketSetTimeout implements molt_socket_settimeout_host. millis < 0
// means "block indefinitely" (clears the timeout); millis == 0 is
// non-blocking; millis > 0 bounds the wait.
func (m *Module) SocketSetTimeout(ctx context.Context, handle Int32, millis Int64) Int32 {
	var d *time.Duration
	if millis >= 0 {
		dur := time.Duration(millis) * time.Millisecond
		d = &dur
	}
	return errCode(m.Sockets.SetTimeout(sockettable.Descriptor(handle), d))
}

// SocketGetTimeout implements molt_socket_gettimeout_host, returning the
// timeout in milliseconds or -1 for "block indefinitely".
func (m *Module) SocketGetTimeout(ctx context.Context, handle Int32) Int64 {
	d, err := m.Sockets.GetTimeout(sockettable.Descriptor(handle))
	if err != nil {
		return Int64(errCode(err))
	}
	if d == nil {
		return -1
	}
	return Int64(d.Milliseconds())
}

func (m *Module) SocketBind(ctx context.Context, handle Int32, addr Bytes) Int32 {
	a, err := decodeAddr(addr)
	if err != nil {
		return errCode(err)
	}
	return errCode(m.Sockets.Bind(sockettable.Descriptor(handle), a))
}

func (m *Module) SocketListen(ctx context.Context, handle, backlog Int32) Int32 {
	return errCode(m.Sockets.Listen(sockettable.Descriptor(handle), int(backlog)))
}

// SocketAccept implements molt_socket_accept_host: returns the new
// handle via out-param and the encoded peer address into addrBuf, with
// the usual size-hint/ENOMEM resize convention.
func (m *Module) SocketAccept(ctx context.Context, handle Int32, addrBuf Bytes, addrLen Pointer[Uint32]) Int64 {
	child, peer, err := m.Sockets.Accept(ctx, sockettable.Descriptor(handle))
	if err != nil {
		return Int64(errCode(err))
	}
	wire, err := addrcodec.Encode(peer)
	if err != nil {
		return Int64(errCode(err))
	}
	if !writeSized(addrBuf, addrLen, wire) {
		return Int64(-Int32(molt.ENOMEM))
	}
	return Int64(child)
}

func (m *Module) SocketConnect(ctx context.Context, handle Int32, addr Bytes) Int32 {
	a, err := decodeAddr(addr)
	if err != nil {
		return errCode(err)
	}
	return errCode(m.Sockets.Connect(ctx, sockettable.Descriptor(handle), a))
}

func (m *Module) SocketConnectEx(ctx context.Context, handle Int32, addr Bytes) Int32 {
	a, err := decodeAddr(addr)
	if err != nil {
		return errCode(err)
	}
	errno, err := m.Sockets.ConnectEx(ctx, sockettable.Descriptor(handle), a)
	if err != nil {
		return errCode(err)
	}
	return -Int32(errno)
}

func (m *Module) SocketSend(ctx context.Context, handle Int32, data Bytes, flags Int32) Int32 {
	n, err := m.Sockets.Send(ctx, sockettable.Descriptor(handle), data, molt.SIFlags(flags))
	if err != nil {
		return errCode(err)
	}
	return Int32(n)
}

func (m *Module) SocketSendAll(ctx context.Context, handle Int32, data Bytes, flags Int32) Int32 {
	if err := m.Sockets.SendAll(ctx, sockettable.Descriptor(handle), data, molt.SIFlags(flags)); err != nil {
		return errCode(err)
	}
	return Int32(len(data))
}

func (m *Module) SocketSendTo(ctx context.Context, handle Int32, data Bytes, flags Int32, addr Bytes) Int32 {
	a, err := decodeAddr(addr)
	if err != nil {
		return errCode(err)
	}
	n, err := m.Sockets.SendTo(ctx, sockettable.Descriptor(handle), data, molt.SIFlags(flags), a)
	if err != nil {
		return errCode(err)
	}
	return Int32(n)
}

func (m *Module) SocketRecv(ctx context.Context, handle Int32, buf Bytes, flags Int32, roflags Pointer[Int32]) Int32 {
	n, ro, err := m.Sockets.RecvInto(ctx, sockettable.Descriptor(handle), buf, molt.RIFlags(flags))
	if err != nil {
		return errCode(err)
	}
	roflags.Store(Int32(ro))
	return Int32(n)
}

func (m *Module) SocketRecvFrom(ctx context.Context, handle Int32, buf Bytes, flags Int32, addrBuf Bytes, addrLen Pointer[Uint32]) Int32 {
	data, peer, err := m.Sockets.RecvFrom(ctx, sockettable.Descriptor(handle), len(buf), molt.RIFlags(flags))
	if err != nil {
		return errCode(err)
	}
	wire, err := addrcodec.Encode(peer)
	if err != nil {
		return errCode(err)
	}
	if !writeSized(addrBuf, addrLen, wire) {
		return -Int32(molt.ENOMEM)
	}
	copy(buf, data)
	return Int32(len(data))
}

func (m *Module) SocketShutdown(ctx context.Context, handle, how Int32) Int32 {
	return errCode(m.Sockets.Shutdown(sockettable.Descriptor(handle), molt.SDFlags(how)))
}

func (m *Module) SocketGetSockName(ctx context.Context, handle Int32, buf Bytes, n Pointer[Uint32]) Int32 {
	addr, err := m.Sockets.GetSockName(sockettable.Descriptor(handle))
	if err != nil {
		return errCode(err)
	}
	wire, err := addrcodec.Encode(addr)
	if err != nil {
		return errCode(err)
	}
	if !writeSized(buf, n, wire) {
		return -Int32(molt.ENOMEM)
	}
	return 0
}

func (m *Module) SocketGetPeerName(ctx context.Context, handle Int32, buf Bytes, n Pointer[Uint32]) Int32 {
	addr, err := m.Sockets.GetPeerName(sockettable.Descriptor(handle))
	if err != nil {
		return errCode(err)
	}
	wire, err := addrcodec.Encode(addr)
	if err != nil {
		return errCode(err)
	}
	if !writeSized(buf, n, wire) {
		return -Int32(molt.ENOMEM)
	}
	return 0
}

// SocketSetSockOpt implements molt_socket_setsockopt_host for the
// integer option form, the only one the set side needs.
func (m *Module) SocketSetSockOpt(ctx context.Context, handle, level, opt, value Int32) Int32 {
	return errCode(m.Sockets.SetSockOptInt(sockettable.Descriptor(handle), molt.SocketOptionLevel(level), molt.SocketOption(opt), int(value)))
}

func (m *Module) SocketGetSockOpt(ctx context.Context, handle, level, opt Int32, out Pointer[Int32]) Int32 {
	v, err := m.Sockets.GetSockOptInt(sockettable.Descriptor(handle), molt.SocketOptionLevel(level), molt.SocketOption(opt))
	if err != nil {
		return errCode(err)
	}
	out.Store(Int32(v))
	return 0
}

// SocketGetSockOptBuf is the buffered form of molt_socket_getsockopt_host,
// used when the guest supplied a buffer length instead of asking for an
// integer: the option value comes back as raw bytes.
func (m *Module) SocketGetSockOptBuf(ctx context.Context, handle, level, opt Int32, out Bytes, needed Pointer[Uint32]) Int32 {
	b, err := m.Sockets.GetSockOptBytes(sockettable.Descriptor(handle), molt.SocketOptionLevel(level), molt.SocketOption(opt), len(out))
	if err != nil {
		return errCode(err)
	}
	if !writeSized(out, needed, b) {
		return -Int32(molt.ENOMEM)
	}
	return Int32(len(b))
}

// SocketPair implements molt_socketpair_host, writing both new handles
// through out-parameters since the guest ABI returns a 2-tuple.
func (m *Module) SocketPair(ctx context.Context, family, typ, proto Int32, out Pointer[Uint64]) Int32 {
	a, b, err := m.Sockets.SocketPair(molt.ProtocolFamily(family), molt.SocketType(typ), molt.Protocol(proto))
	if err != nil {
		return errCode(err)
	}
	packed := uint64(uint32(a))<<32 | uint64(uint32(b))
	out.Store(Uint64(packed))
	return 0
}
