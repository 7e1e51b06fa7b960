package molt

import "fmt"

// ProtocolFamily is a socket address family.
type ProtocolFamily int32

const (
	_ ProtocolFamily = iota
	InetFamily
	Inet6Family
	UnixFamily
)

func (f ProtocolFamily) String() string {
	switch f {
	case InetFamily:
		return "AF_INET"
	case Inet6Family:
		return "AF_INET6"
	case UnixFamily:
		return "AF_UNIX"
	default:
		return fmt.Sprintf("ProtocolFamily(%d)", int32(f))
	}
}

// SocketType distinguishes stream and datagram sockets.
type SocketType int32

const (
	_ SocketType = iota
	DatagramSocket
	StreamSocket
)

// Protocol is the transport protocol layered under a socket.
type Protocol int32

const (
	IPProtocol Protocol = iota
	TCPProtocol
	UDPProtocol
)

// Port is a 16 bit TCP or UDP port number.
type Port uint16

// SocketAddress is a tagged union over the address families this module
// exposes to guest code. Only one of the embedded types is meaningful for
// any given value; Family reports which one.
//
// This replaces the flat byte-slice address the WASI sockets extension
// used: guest code here deals in structured addresses so the address codec
// (see addrcodec) has a single source of truth for the wire layout instead
// of reinterpreting raw bytes at each call site.
type SocketAddress interface {
	Family() ProtocolFamily
	fmt.Stringer
}

// Inet4Address is an IPv4 address and port.
type Inet4Address struct {
	Port uint16
	Addr [4]byte
}

func (Inet4Address) Family() ProtocolFamily { return InetFamily }

func (a Inet4Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
}

// Inet6Address is an IPv6 address, port, flow label and zone.
type Inet6Address struct {
	Port     uint16
	Addr     [16]byte
	FlowInfo uint32
	ScopeID  uint32
}

func (Inet6Address) Family() ProtocolFamily { return Inet6Family }

func (a Inet6Address) String() string {
	return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
}

// UnixAddress is a path or abstract Unix domain socket address. An empty
// Name denotes an unnamed (autobind) address; names beginning with a NUL
// byte are abstract on Linux.
type UnixAddress struct {
	Name string
}

func (UnixAddress) Family() ProtocolFamily { return UnixFamily }

func (a UnixAddress) String() string {
	if a.Name == "" {
		return "@"
	}
	return a.Name
}

// SocketOptionLevel controls the level a socket option is applied at.
type SocketOptionLevel int32

const (
	SocketLevel SocketOptionLevel = iota
	TCPLevel
)

// SocketOption is a socket option that can be queried or set through
// GetSockOpt/SetSockOpt.
type SocketOption int32

const (
	ReuseAddress SocketOption = iota
	QuerySocketType
	QuerySocketError
	KeepAlive
	NoDelay
	RecvBufferSize
	SendBufferSize
)
