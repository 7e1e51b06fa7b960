// Package resolver implements the name resolver (C4): getaddrinfo,
// getnameinfo, gethostname, getservbyname and getservbyport, with a
// compact wire envelope for the sandboxed path that mirrors the native
// path's 5-tuple result shape.
package resolver

import (
	molt "github.com/stealthrocket/molt-io"
)

// AddrInfo is one result row from Lookup, matching the native resolver's
// 5-tuple: (family, type, proto, canonname-or-empty, address).
type AddrInfo struct {
	Family    molt.ProtocolFamily
	Type      molt.SocketType
	Proto     molt.Protocol
	CanonName string
	Addr      molt.SocketAddress
}

// Hints narrows a Lookup the way the POSIX hints record does.
type Hints struct {
	Family molt.ProtocolFamily
	Type   molt.SocketType
	Proto  molt.Protocol
	Flags  int32
}

// Resolver resolves names to addresses and back. Native calls the OS
// resolver directly; Numeric accepts only literal addresses and backs the
// ENOSYS fallback; a sandboxed implementation wiring a host envelope is
// expected to satisfy the same interface by round-tripping through
// hostbridge.
type Resolver interface {
	Lookup(host string, service string, hints Hints) ([]AddrInfo, error)
	NameInfo(addr molt.SocketAddress) (host, service string, err error)
	HostName() (string, error)
	ServByName(name, proto string) (port uint16, err error)
	ServByPort(port uint16, proto string) (name string, err error)
}
