package molt

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestMakeErrnoMapsSyscallErrors(t *testing.T) {
	tests := []struct {
		err  error
		want Errno
	}{
		{unix.EAGAIN, EAGAIN},
		{unix.ECONNREFUSED, ECONNREFUSED},
		{unix.EADDRINUSE, EADDRINUSE},
		{nil, ESUCCESS},
	}
	for _, tt := range tests {
		if got := MakeErrno(tt.err); got != tt.want {
			t.Errorf("MakeErrno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrnoNameAndError(t *testing.T) {
	if EAGAIN.Name() != "EAGAIN" {
		t.Errorf("Name() = %q, want EAGAIN", EAGAIN.Name())
	}
	if EWOULDBLOCK != EAGAIN {
		t.Errorf("EWOULDBLOCK should alias EAGAIN")
	}
	if ESUCCESS.Error() != "OK" {
		t.Errorf("Error() = %q, want OK", ESUCCESS.Error())
	}
}

func TestCapabilitySetRequire(t *testing.T) {
	s := NewCapabilitySet(CapNetConnect)
	if err := s.RequireNet(CapNetConnect); err != nil {
		t.Fatalf("RequireNet(net.connect) = %v, want nil", err)
	}
	if err := s.RequireNet(CapNetListen); err == nil {
		t.Fatalf("RequireNet(net.listen) = nil, want PermissionError")
	} else {
		var perm *PermissionError
		if !errors.As(err, &perm) {
			t.Fatalf("err = %v, want *PermissionError", err)
		}
		if perm.Capability != CapNetListen {
			t.Errorf("Capability = %v, want net.listen", perm.Capability)
		}
	}

	broad := NewCapabilitySet(CapNet)
	if err := broad.RequireNet(CapNetListen); err != nil {
		t.Fatalf("broad net grant should subsume net.listen, got %v", err)
	}
}

func TestMakeErrnoClassifiesModuleErrors(t *testing.T) {
	tests := []struct {
		err  error
		want Errno
	}{
		{&PermissionError{Capability: CapNet}, ENOTCAPABLE},
		{&TypeError{Msg: "not a socket handle"}, EINVAL},
		{&ValueError{Msg: "bad address"}, EINVAL},
		{&TimeoutError{Op: "recv"}, ETIMEDOUT},
		{&OverflowError{Msg: "port out of range"}, EOVERFLOW},
		{errors.New("websocket: bad handshake"), EIO},
	}
	for _, tt := range tests {
		if got := MakeErrno(tt.err); got != tt.want {
			t.Errorf("MakeErrno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestOSErrorUnwrapsToErrno(t *testing.T) {
	err := &OSError{Op: "recv", Errno: EAGAIN}
	if !errors.Is(err, EAGAIN) {
		t.Errorf("errors.Is(err, EAGAIN) = false, want true")
	}
}
