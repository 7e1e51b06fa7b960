// Package sockets opens the raw TCP descriptors cmd/moltrun preopens on
// behalf of a guest (--listen, --dial) before instantiating the module.
// The descriptors are handed to the socket manager via Adopt, which puts
// them into non-blocking mode and registers them in the handle table.
package sockets

import (
	"fmt"
	"net"
	"strings"
	"syscall"
)

// EINPROGRESS is returned by Dial alongside a valid descriptor when the
// connect is still completing; the adopted socket's first writable event
// reports the outcome.
const EINPROGRESS = syscall.EINPROGRESS

const listenBacklog = 128

// Listen opens a TCP socket bound to addr ("host:port", optionally
// prefixed with tcp://, tcp4:// or tcp6://) and puts it into the
// listening state.
func Listen(addr string) (int, error) {
	family, sa, err := resolve(addr)
	if err != nil {
		return -1, err
	}
	fd, err := open(family)
	if err != nil {
		return -1, err
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		Close(fd)
		return -1, err
	}
	if err := syscall.Bind(fd, sa); err != nil {
		Close(fd)
		return -1, err
	}
	if err := syscall.Listen(fd, listenBacklog); err != nil {
		Close(fd)
		return -1, err
	}
	return fd, nil
}

// Dial opens a TCP socket and starts a non-blocking connect to addr. The
// returned error is EINPROGRESS when the connect has not completed yet,
// which callers treat as success for a preopened socket.
func Dial(addr string) (int, error) {
	family, sa, err := resolve(addr)
	if err != nil {
		return -1, err
	}
	fd, err := open(family)
	if err != nil {
		return -1, err
	}
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1); err != nil {
		Close(fd)
		return -1, err
	}
	if err := syscall.Connect(fd, sa); err != nil && err != EINPROGRESS {
		Close(fd)
		return -1, err
	} else if err == EINPROGRESS {
		return fd, EINPROGRESS
	}
	return fd, nil
}

// Close closes a descriptor returned by Listen or Dial.
func Close(fd int) error {
	if fd < 0 {
		return syscall.EBADF
	}
	return syscall.Close(fd)
}

// open creates a non-blocking stream socket in the given address family.
// Non-blocking mode is set here rather than left to Adopt so a failed
// --dial cannot hang moltrun startup.
func open(family int) (int, error) {
	fd, err := syscall.Socket(family, syscall.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		Close(fd)
		return -1, err
	}
	return fd, nil
}

// resolve parses addr into the sockaddr to bind or connect. A missing
// host binds the wildcard address of the requested family.
func resolve(addr string) (int, syscall.Sockaddr, error) {
	network := "tcp"
	if i := strings.Index(addr, "://"); i >= 0 {
		network, addr = addr[:i], addr[i+3:]
	}
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return 0, nil, fmt.Errorf("unsupported preopen network %q", network)
	}

	host, portstr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, nil, err
	}
	port, err := net.LookupPort(network, portstr)
	if err != nil {
		return 0, nil, err
	}

	var ips []net.IP
	switch {
	case host == "" && network == "tcp6":
		ips = []net.IP{net.IPv6zero}
	case host == "":
		ips = []net.IP{net.IPv4zero}
	default:
		ips, err = net.LookupIP(host)
		if err != nil {
			return 0, nil, err
		}
	}

	for _, ip := range ips {
		if network != "tcp6" {
			if v4 := ip.To4(); v4 != nil {
				return syscall.AF_INET, &syscall.SockaddrInet4{Port: port, Addr: [4]byte(v4)}, nil
			}
		}
		if network != "tcp4" {
			if ip.To4() == nil {
				if v6 := ip.To16(); v6 != nil {
					return syscall.AF_INET6, &syscall.SockaddrInet6{Port: port, Addr: [16]byte(v6)}, nil
				}
			}
		}
	}
	return 0, nil, fmt.Errorf("no usable address for %q on network %s", addr, network)
}
