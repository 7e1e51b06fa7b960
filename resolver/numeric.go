package resolver

import (
	"net"
	"strconv"

	molt "github.com/stealthrocket/molt-io"
)

// FlagNumericHost requires host to already be a literal address; no
// resolver query is made. The value matches AI_NUMERICHOST on the
// platforms this module targets.
const FlagNumericHost int32 = 0x4

// Numeric accepts only literal addresses and numeric ports. It is the
// fallback used when the host resolver reports ENOSYS, and the behavior
// Lookup reduces to when hints carry FlagNumericHost.
type Numeric struct{}

var _ Resolver = Numeric{}

func (Numeric) Lookup(host string, service string, hints Hints) ([]AddrInfo, error) {
	port, err := numericPort(service)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, &molt.OSError{Op: "getaddrinfo", Errno: molt.ENOENT}
	}
	if v4 := ip.To4(); v4 != nil {
		if hints.Family == molt.Inet6Family {
			return nil, &molt.OSError{Op: "getaddrinfo", Errno: molt.ENOENT}
		}
		return []AddrInfo{{
			Family: molt.InetFamily,
			Type:   hints.Type,
			Proto:  hints.Proto,
			Addr:   molt.Inet4Address{Port: port, Addr: [4]byte(v4)},
		}}, nil
	}
	if hints.Family == molt.InetFamily {
		return nil, &molt.OSError{Op: "getaddrinfo", Errno: molt.ENOENT}
	}
	return []AddrInfo{{
		Family: molt.Inet6Family,
		Type:   hints.Type,
		Proto:  hints.Proto,
		Addr:   molt.Inet6Address{Port: port, Addr: [16]byte(ip.To16())},
	}}, nil
}

// NameInfo pretty-prints the address numerically; no reverse lookup is
// attempted.
func (Numeric) NameInfo(addr molt.SocketAddress) (string, string, error) {
	switch a := addr.(type) {
	case molt.Inet4Address:
		return net.IP(a.Addr[:]).String(), strconv.Itoa(int(a.Port)), nil
	case molt.Inet6Address:
		return net.IP(a.Addr[:]).String(), strconv.Itoa(int(a.Port)), nil
	default:
		return "", "", &molt.ValueError{Msg: "unsupported address family"}
	}
}

func (Numeric) HostName() (string, error) {
	return "", &molt.OSError{Op: "gethostname", Errno: molt.ENOSYS}
}

func (Numeric) ServByName(name, proto string) (uint16, error) {
	port, err := numericPort(name)
	if err != nil {
		return 0, &molt.OSError{Op: "getservbyname", Errno: molt.ENOSYS}
	}
	return port, nil
}

func (Numeric) ServByPort(port uint16, proto string) (string, error) {
	return "", &molt.OSError{Op: "getservbyport", Errno: molt.ENOSYS}
}

func numericPort(service string) (uint16, error) {
	if service == "" {
		return 0, nil
	}
	p, err := strconv.Atoi(service)
	if err != nil || p < 0 || p > 65535 {
		return 0, &molt.OSError{Op: "getaddrinfo", Errno: molt.ENOENT}
	}
	return uint16(p), nil
}
