package hostbridge

import (
	"context"
	"net"

	. "github.com/stealthrocket/wazergo/types"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/resolver"
)

// GetAddrInfo implements molt_getaddrinfo_host: marshals the query to the
// resolver and writes back the wire envelope (u32 count, then per-result
// family/type/proto/canon/addr), honoring the insufficient-buffer retry
// contract via the size-hint out-parameter.
func (m *Module) GetAddrInfo(ctx context.Context, host, service String, hintsFamily, hintsType, hintsProto, hintsFlags Int32, out Bytes, needed Pointer[Uint32]) Int32 {
	if err := m.Caps.Require(molt.CapNet); err != nil {
		return errCode(err)
	}
	results, err := m.Resolver.Lookup(string(host), string(service), resolver.Hints{
		Family: molt.ProtocolFamily(hintsFamily),
		Type:   molt.SocketType(hintsType),
		Proto:  molt.Protocol(hintsProto),
		Flags:  int32(hintsFlags),
	})
	if err != nil {
		return errCode(err)
	}
	buf, err := resolver.EncodeAddrInfoList(results)
	if err != nil {
		return errCode(err)
	}
	if !writeSized(out, needed, buf) {
		return -Int32(molt.ENOMEM)
	}
	return Int32(len(buf))
}

func (m *Module) GetNameInfo(ctx context.Context, addr Bytes, hostBuf Bytes) Int32 {
	a, err := decodeAddr(addr)
	if err != nil {
		return errCode(err)
	}
	host, _, err := m.Resolver.NameInfo(a)
	if err != nil {
		return errCode(err)
	}
	if len(host) > len(hostBuf) {
		return -Int32(molt.ENOMEM)
	}
	copy(hostBuf, host)
	return Int32(len(host))
}

func (m *Module) GetHostName(ctx context.Context, buf Bytes) Int32 {
	name, err := m.Resolver.HostName()
	if err != nil {
		return errCode(err)
	}
	if len(name) > len(buf) {
		return -Int32(molt.ENOMEM)
	}
	copy(buf, name)
	return Int32(len(name))
}

func (m *Module) GetServByName(ctx context.Context, name, proto String, out Pointer[Int32]) Int32 {
	port, err := m.Resolver.ServByName(string(name), string(proto))
	if err != nil {
		return errCode(err)
	}
	out.Store(Int32(port))
	return 0
}

func (m *Module) GetServByPort(ctx context.Context, port Int32, proto String, out Bytes) Int32 {
	name, err := m.Resolver.ServByPort(uint16(port), string(proto))
	if err != nil {
		return errCode(err)
	}
	if len(name) > len(out) {
		return -Int32(molt.ENOMEM)
	}
	copy(out, name)
	return Int32(len(name))
}

// HasIPv6 implements molt_has_ipv6_host by probing whether the host can
// bind an IPv6 loopback listener. It is a capability probe, not a
// reachability check.
func (m *Module) HasIPv6(ctx context.Context) Int32 {
	l, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		return 0
	}
	l.Close()
	return 1
}

func (m *Module) InetPton(ctx context.Context, family Int32, text String, out Bytes) Int32 {
	ip := net.ParseIP(string(text))
	if ip == nil {
		return -Int32(molt.EINVAL)
	}
	switch molt.ProtocolFamily(family) {
	case molt.InetFamily:
		v4 := ip.To4()
		if v4 == nil || len(out) < 4 {
			return -Int32(molt.EINVAL)
		}
		copy(out, v4)
		return 4
	case molt.Inet6Family:
		v6 := ip.To16()
		if v6 == nil || len(out) < 16 {
			return -Int32(molt.EINVAL)
		}
		copy(out, v6)
		return 16
	default:
		return -Int32(molt.EAFNOSUPPORT)
	}
}

func (m *Module) InetNtop(ctx context.Context, family Int32, packed Bytes, out Bytes) Int32 {
	var ip net.IP
	switch molt.ProtocolFamily(family) {
	case molt.InetFamily:
		if len(packed) != 4 {
			return -Int32(molt.EINVAL)
		}
		ip = net.IP(packed)
	case molt.Inet6Family:
		if len(packed) != 16 {
			return -Int32(molt.EINVAL)
		}
		ip = net.IP(packed)
	default:
		return -Int32(molt.EAFNOSUPPORT)
	}
	text := ip.String()
	if len(text) > len(out) {
		return -Int32(molt.ENOMEM)
	}
	copy(out, text)
	return Int32(len(text))
}
