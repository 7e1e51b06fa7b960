package resolver

import (
	"context"
	"net"
	"os"
	"strconv"

	molt "github.com/stealthrocket/molt-io"
)

// Native resolves names using the Go standard library resolver, which
// itself calls into the OS resolver (or a pure-Go fallback) depending on
// build configuration — getaddrinfo(3) semantics expressed through
// net.DefaultResolver instead of calling the libc function by hand.
type Native struct{}

var _ Resolver = Native{}

func (Native) Lookup(host string, service string, hints Hints) ([]AddrInfo, error) {
	if hints.Flags&FlagNumericHost != 0 {
		return Numeric{}.Lookup(host, service, hints)
	}
	network := "tcp"
	if hints.Type == molt.DatagramSocket {
		network = "udp"
	}

	port := 0
	if service != "" {
		if p, err := strconv.Atoi(service); err == nil {
			port = p
		} else if p, err := net.LookupPort(network, service); err == nil {
			port = p
		} else {
			return nil, &molt.OSError{Op: "getaddrinfo", Errno: molt.ENOENT}
		}
	}

	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, &molt.OSError{Op: "getaddrinfo", Errno: molt.ENOENT}
	}

	var results []AddrInfo
	for _, ip := range ips {
		if v4 := ip.IP.To4(); v4 != nil {
			if hints.Family == molt.Inet6Family {
				continue
			}
			results = append(results, AddrInfo{
				Family: molt.InetFamily,
				Type:   hints.Type,
				Proto:  hints.Proto,
				Addr:   molt.Inet4Address{Port: uint16(port), Addr: [4]byte(v4)},
			})
		} else if v6 := ip.IP.To16(); v6 != nil {
			if hints.Family == molt.InetFamily {
				continue
			}
			results = append(results, AddrInfo{
				Family: molt.Inet6Family,
				Type:   hints.Type,
				Proto:  hints.Proto,
				Addr:   molt.Inet6Address{Port: uint16(port), Addr: [16]byte(v6)},
			})
		}
	}
	return results, nil
}

func (Native) NameInfo(addr molt.SocketAddress) (string, string, error) {
	switch a := addr.(type) {
	case molt.Inet4Address:
		host := net.IP(a.Addr[:]).String()
		names, err := net.LookupAddr(host)
		if err == nil && len(names) > 0 {
			host = names[0]
		}
		return host, strconv.Itoa(int(a.Port)), nil
	case molt.Inet6Address:
		host := net.IP(a.Addr[:]).String()
		names, err := net.LookupAddr(host)
		if err == nil && len(names) > 0 {
			host = names[0]
		}
		return host, strconv.Itoa(int(a.Port)), nil
	default:
		return "", "", &molt.ValueError{Msg: "unsupported address family"}
	}
}

func (Native) HostName() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", molt.MakeErrno(err)
	}
	return name, nil
}

func (Native) ServByName(name, proto string) (uint16, error) {
	if proto == "" {
		proto = "tcp"
	}
	port, err := net.LookupPort(proto, name)
	if err != nil {
		return 0, &molt.OSError{Op: "getservbyname", Errno: molt.ENOENT}
	}
	return uint16(port), nil
}

func (Native) ServByPort(port uint16, proto string) (string, error) {
	// net.LookupPort has no inverse; the service database is not exposed
	// by the standard library, so only the numeric fallback is offered
	// natively, matching the sandbox path's ENOSYS fallback behavior.
	return "", &molt.OSError{Op: "getservbyport", Errno: molt.ENOSYS}
}
