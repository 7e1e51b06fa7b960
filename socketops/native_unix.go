//go:build unix

package socketops

import (
	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/addrcodec"
	"golang.org/x/sys/unix"
)

func newSocket(family molt.ProtocolFamily, typ molt.SocketType, proto molt.Protocol) (int, error) {
	af, err := addrcodec.ToProtocolFamily(family)
	if err != nil {
		return -1, err
	}
	st, err := addrcodec.ToSocketType(typ)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(af, st|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, molt.MakeErrno(err)
	}
	return fd, nil
}

func setNonblocking(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return molt.MakeErrno(err)
	}
	return nil
}

func closeFD(fd int) error {
	if err := unix.Close(fd); err != nil {
		return molt.MakeErrno(err)
	}
	return nil
}

func isListening(fd int) bool {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ACCEPTCONN)
	return err == nil && v != 0
}

func bind(fd int, addr molt.SocketAddress) error {
	sa, err := addrcodec.ToSockaddr(addr)
	if err != nil {
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return molt.MakeErrno(err)
	}
	return nil
}

func listen(fd int, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return molt.MakeErrno(err)
	}
	return nil
}

func accept(fd int) (int, molt.SocketAddress, error) {
	conn, sa, err := unix.Accept4(fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, nil, molt.MakeErrno(err)
	}
	peer, err := addrcodec.FromSockaddr(sa)
	if err != nil {
		unix.Close(conn)
		return -1, nil, err
	}
	return conn, peer, nil
}

func connect(fd int, addr molt.SocketAddress) error {
	sa, err := addrcodec.ToSockaddr(addr)
	if err != nil {
		return err
	}
	if err := unix.Connect(fd, sa); err != nil {
		return molt.MakeErrno(err)
	}
	return nil
}

func getSocketError(fd int) (molt.Errno, error) {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, molt.MakeErrno(err)
	}
	if v == 0 {
		return molt.ESUCCESS, nil
	}
	return molt.MakeErrno(unix.Errno(v)), nil
}

func send(fd int, data []byte) (int, error) {
	n, err := unix.Write(fd, data)
	if err != nil {
		return 0, molt.MakeErrno(err)
	}
	return n, nil
}

func sendTo(fd int, data []byte, addr molt.SocketAddress) (int, error) {
	sa, err := addrcodec.ToSockaddr(addr)
	if err != nil {
		return 0, err
	}
	if err := unix.Sendto(fd, data, 0, sa); err != nil {
		return 0, molt.MakeErrno(err)
	}
	return len(data), nil
}

func recv(fd int, buf []byte, flags molt.RIFlags) (int, molt.ROFlags, error) {
	var sysFlags int
	if flags.Has(molt.RecvPeek) {
		sysFlags |= unix.MSG_PEEK
	}
	if flags.Has(molt.RecvWaitAll) {
		sysFlags |= unix.MSG_WAITALL
	}
	n, _, rflags, _, err := unix.Recvmsg(fd, buf, nil, sysFlags)
	if err != nil {
		return 0, 0, molt.MakeErrno(err)
	}
	var ro molt.ROFlags
	if rflags&unix.MSG_TRUNC != 0 {
		ro |= molt.RecvDataTruncated
	}
	return n, ro, nil
}

func recvFrom(fd int, buf []byte, flags molt.RIFlags) (int, molt.SocketAddress, error) {
	var sysFlags int
	if flags.Has(molt.RecvPeek) {
		sysFlags |= unix.MSG_PEEK
	}
	if flags.Has(molt.RecvWaitAll) {
		sysFlags |= unix.MSG_WAITALL
	}
	n, sa, err := unix.Recvfrom(fd, buf, sysFlags)
	if err != nil {
		return 0, nil, molt.MakeErrno(err)
	}
	var peer molt.SocketAddress
	if sa != nil {
		peer, err = addrcodec.FromSockaddr(sa)
		if err != nil {
			return n, nil, err
		}
	}
	return n, peer, nil
}

func shutdown(fd int, how molt.SDFlags) error {
	var sysHow int
	switch {
	case how.Has(molt.ShutdownRD) && how.Has(molt.ShutdownWR):
		sysHow = unix.SHUT_RDWR
	case how.Has(molt.ShutdownRD):
		sysHow = unix.SHUT_RD
	case how.Has(molt.ShutdownWR):
		sysHow = unix.SHUT_WR
	default:
		return &molt.ValueError{Msg: "shutdown: no direction given"}
	}
	if err := unix.Shutdown(fd, sysHow); err != nil {
		return molt.MakeErrno(err)
	}
	return nil
}

func getSockName(fd int) (molt.SocketAddress, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, molt.MakeErrno(err)
	}
	return addrcodec.FromSockaddr(sa)
}

func getPeerName(fd int) (molt.SocketAddress, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, molt.MakeErrno(err)
	}
	return addrcodec.FromSockaddr(sa)
}

func sockOptNative(level molt.SocketOptionLevel, opt molt.SocketOption) (int, int, error) {
	var sysLevel int
	switch level {
	case molt.SocketLevel:
		sysLevel = unix.SOL_SOCKET
	case molt.TCPLevel:
		sysLevel = unix.IPPROTO_TCP
	default:
		return 0, 0, &molt.OSError{Op: "sockopt", Errno: molt.ENOPROTOOPT}
	}
	var sysOpt int
	switch opt {
	case molt.ReuseAddress:
		sysOpt = unix.SO_REUSEADDR
	case molt.QuerySocketError:
		sysOpt = unix.SO_ERROR
	case molt.QuerySocketType:
		sysOpt = unix.SO_TYPE
	case molt.KeepAlive:
		sysOpt = unix.SO_KEEPALIVE
	case molt.NoDelay:
		sysOpt = unix.TCP_NODELAY
	case molt.RecvBufferSize:
		sysOpt = unix.SO_RCVBUF
	case molt.SendBufferSize:
		sysOpt = unix.SO_SNDBUF
	default:
		return 0, 0, &molt.OSError{Op: "sockopt", Errno: molt.ENOPROTOOPT}
	}
	return sysLevel, sysOpt, nil
}

func getSockOptInt(fd int, level molt.SocketOptionLevel, opt molt.SocketOption) (int, error) {
	sysLevel, sysOpt, err := sockOptNative(level, opt)
	if err != nil {
		return 0, err
	}
	v, err := unix.GetsockoptInt(fd, sysLevel, sysOpt)
	if err != nil {
		return 0, molt.MakeErrno(err)
	}
	return v, nil
}

func getSockOptBytes(fd int, level molt.SocketOptionLevel, opt molt.SocketOption, buflen int) ([]byte, error) {
	sysLevel, sysOpt, err := sockOptNative(level, opt)
	if err != nil {
		return nil, err
	}
	v, err := unix.GetsockoptString(fd, sysLevel, sysOpt)
	if err != nil {
		return nil, molt.MakeErrno(err)
	}
	b := []byte(v)
	if buflen >= 0 && len(b) > buflen {
		b = b[:buflen]
	}
	return b, nil
}

func setSockOptInt(fd int, level molt.SocketOptionLevel, opt molt.SocketOption, value int) error {
	sysLevel, sysOpt, err := sockOptNative(level, opt)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, sysLevel, sysOpt, value); err != nil {
		return molt.MakeErrno(err)
	}
	return nil
}

func socketpair(family molt.ProtocolFamily, typ molt.SocketType) (int, int, error) {
	af, err := addrcodec.ToProtocolFamily(family)
	if err != nil {
		return -1, -1, err
	}
	st, err := addrcodec.ToSocketType(typ)
	if err != nil {
		return -1, -1, err
	}
	fds, err := unix.Socketpair(af, st|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, -1, molt.MakeErrno(err)
	}
	return fds[0], fds[1], nil
}
