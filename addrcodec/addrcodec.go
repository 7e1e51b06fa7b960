// Package addrcodec implements the address codec (C2): conversion
// between this module's SocketAddress values and OS sockaddr structures
// on the native path, and a bit-exact little-endian wire encoding for the
// sandboxed path.
package addrcodec

import (
	"encoding/binary"

	molt "github.com/stealthrocket/molt-io"
)

// Wire-format family numbers. These are the real POSIX AF_INET/AF_INET6
// values (2 and 10), fixed regardless of host platform: the wire format
// is a contract between guest and host, not the native ToProtocolFamily
// mapping in native_unix.go, which varies by OS (Darwin's AF_INET6 is
// 30, not 10) and is only meaningful for syscalls on the host running
// this code. molt.InetFamily/molt.Inet6Family are this module's own
// enum ordinals and were never meant to appear on the wire.
const (
	wireAFInet  = 2
	wireAFInet6 = 10
)

// Encode serializes addr using the wire layout shared with the sandboxed
// transport:
//
//	family: u16 LE
//	port:   u16 LE
//	[IPv6 only] flowinfo: u32 LE, scope_id: u32 LE
//	address: 4 bytes (IPv4) or 16 bytes (IPv6)
//
// AF_UNIX addresses are rejected: the sandboxed path has no use for them.
func Encode(addr molt.SocketAddress) ([]byte, error) {
	switch a := addr.(type) {
	case molt.Inet4Address:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint16(buf[0:2], wireAFInet)
		binary.LittleEndian.PutUint16(buf[2:4], a.Port)
		copy(buf[4:8], a.Addr[:])
		return buf, nil
	case molt.Inet6Address:
		buf := make([]byte, 28)
		binary.LittleEndian.PutUint16(buf[0:2], wireAFInet6)
		binary.LittleEndian.PutUint16(buf[2:4], a.Port)
		binary.LittleEndian.PutUint32(buf[4:8], a.FlowInfo)
		binary.LittleEndian.PutUint32(buf[8:12], a.ScopeID)
		copy(buf[12:28], a.Addr[:])
		return buf, nil
	default:
		return nil, &molt.ValueError{Msg: "unsupported address family"}
	}
}

// Decode parses a wire-format address buffer, validating length against
// the declared family.
func Decode(buf []byte) (molt.SocketAddress, error) {
	if len(buf) < 4 {
		return nil, &molt.ValueError{Msg: "sockaddr buffer too short"}
	}
	family := binary.LittleEndian.Uint16(buf[0:2])
	port := binary.LittleEndian.Uint16(buf[2:4])
	switch family {
	case wireAFInet:
		if len(buf) != 8 {
			return nil, &molt.ValueError{Msg: "malformed IPv4 sockaddr length"}
		}
		var addr [4]byte
		copy(addr[:], buf[4:8])
		return molt.Inet4Address{Port: port, Addr: addr}, nil
	case wireAFInet6:
		if len(buf) != 28 {
			return nil, &molt.ValueError{Msg: "malformed IPv6 sockaddr length"}
		}
		flowinfo := binary.LittleEndian.Uint32(buf[4:8])
		scopeID := binary.LittleEndian.Uint32(buf[8:12])
		var addr [16]byte
		copy(addr[:], buf[12:28])
		return molt.Inet6Address{Port: port, Addr: addr, FlowInfo: flowinfo, ScopeID: scopeID}, nil
	default:
		return nil, &molt.ValueError{Msg: "unsupported address family"}
	}
}
