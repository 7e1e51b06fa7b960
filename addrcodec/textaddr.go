package addrcodec

import (
	"fmt"
	"net"

	molt "github.com/stealthrocket/molt-io"
)

// InetPton parses text into the packed binary address the family expects,
// backing socket_inet_pton.
func InetPton(family molt.ProtocolFamily, text string) ([]byte, error) {
	ip := net.ParseIP(text)
	if ip == nil {
		return nil, &molt.OSError{Op: "inet_pton", Errno: molt.EINVAL}
	}
	switch family {
	case molt.InetFamily:
		v4 := ip.To4()
		if v4 == nil {
			return nil, &molt.OSError{Op: "inet_pton", Errno: molt.EINVAL}
		}
		return v4, nil
	case molt.Inet6Family:
		v6 := ip.To16()
		if v6 == nil || ip.To4() != nil {
			return nil, &molt.OSError{Op: "inet_pton", Errno: molt.EINVAL}
		}
		return v6, nil
	default:
		return nil, &molt.OSError{Op: "inet_pton", Errno: molt.EAFNOSUPPORT}
	}
}

// InetNtop formats a packed binary address as text, backing socket_inet_ntop.
func InetNtop(family molt.ProtocolFamily, packed []byte) (string, error) {
	switch family {
	case molt.InetFamily:
		if len(packed) != 4 {
			return "", &molt.ValueError{Msg: "inet_ntop: packed IP wrong length for AF_INET"}
		}
	case molt.Inet6Family:
		if len(packed) != 16 {
			return "", &molt.ValueError{Msg: "inet_ntop: packed IP wrong length for AF_INET6"}
		}
	default:
		return "", &molt.OSError{Op: "inet_ntop", Errno: molt.EAFNOSUPPORT}
	}
	ip := net.IP(packed)
	s := ip.String()
	if s == "" {
		return "", fmt.Errorf("inet_ntop: could not format address")
	}
	return s, nil
}

// HasIPv6 probes whether the host can open an AF_INET6 socket, backing
// socket_has_ipv6. It is a capability probe, not a network reachability
// check: a host with IPv6 disabled at the kernel level returns false, a
// host with IPv6 enabled but no route still returns true.
func HasIPv6() bool {
	return hasIPv6()
}
