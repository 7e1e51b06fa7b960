//go:build unix

package addrcodec

import (
	molt "github.com/stealthrocket/molt-io"
	"golang.org/x/sys/unix"
)

// ToSockaddr converts a SocketAddress into the unix.Sockaddr the kernel
// expects for bind/connect/sendto.
func ToSockaddr(addr molt.SocketAddress) (unix.Sockaddr, error) {
	switch a := addr.(type) {
	case molt.Inet4Address:
		return &unix.SockaddrInet4{Port: int(a.Port), Addr: a.Addr}, nil
	case molt.Inet6Address:
		return &unix.SockaddrInet6{Port: int(a.Port), ZoneId: a.ScopeID, Addr: a.Addr}, nil
	case molt.UnixAddress:
		// An empty name denotes an autobind/unnamed address; the kernel
		// represents that as a sockaddr_un with no path at all rather
		// than a path of "@", so leave Name untouched in that case.
		return &unix.SockaddrUnix{Name: a.Name}, nil
	default:
		return nil, &molt.ValueError{Msg: "unsupported address family"}
	}
}

// FromSockaddr converts a unix.Sockaddr (as returned by Getsockname,
// Getpeername or Accept) into a SocketAddress.
func FromSockaddr(sa unix.Sockaddr) (molt.SocketAddress, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return molt.Inet4Address{Port: uint16(a.Port), Addr: a.Addr}, nil
	case *unix.SockaddrInet6:
		return molt.Inet6Address{Port: uint16(a.Port), Addr: a.Addr, ScopeID: a.ZoneId}, nil
	case *unix.SockaddrUnix:
		name := a.Name
		if name == "" {
			// The kernel hands back an empty path for both "no address
			// bound yet" and an abstract/autobind socket; normalize to
			// "@" so the guest side has a single way to spell it.
			name = "@"
		}
		return molt.UnixAddress{Name: name}, nil
	default:
		return nil, &molt.ValueError{Msg: "unsupported sockaddr type"}
	}
}

// ToProtocolFamily maps a molt.ProtocolFamily to the unix.AF_* constant.
func ToProtocolFamily(f molt.ProtocolFamily) (int, error) {
	switch f {
	case molt.InetFamily:
		return unix.AF_INET, nil
	case molt.Inet6Family:
		return unix.AF_INET6, nil
	case molt.UnixFamily:
		return unix.AF_UNIX, nil
	default:
		return 0, &molt.OSError{Op: "socket", Errno: molt.EAFNOSUPPORT}
	}
}

// ToSocketType maps a molt.SocketType to the unix.SOCK_* constant.
func ToSocketType(t molt.SocketType) (int, error) {
	switch t {
	case molt.StreamSocket:
		return unix.SOCK_STREAM, nil
	case molt.DatagramSocket:
		return unix.SOCK_DGRAM, nil
	default:
		return 0, &molt.OSError{Op: "socket", Errno: molt.EPROTOTYPE}
	}
}
