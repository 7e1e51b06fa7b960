package hostbridge

import (
	"context"
	"os"

	. "github.com/stealthrocket/wazergo/types"

	molt "github.com/stealthrocket/molt-io"
)

// OSClose implements molt_os_close_host: closes a raw descriptor handed
// back by SocketDetach, the only place a guest ends up owning a bare fd
// instead of a handle.
func (m *Module) OSClose(ctx context.Context, fd Int32) Int32 {
	f := os.NewFile(uintptr(fd), "molt-detached-fd")
	if f == nil {
		return -Int32(molt.EBADF)
	}
	return errCode(f.Close())
}

func (m *Module) OSGetPID(ctx context.Context) Int32 {
	return Int32(os.Getpid())
}

func (m *Module) OSHostname(ctx context.Context, out Bytes) Int32 {
	name, err := os.Hostname()
	if err != nil {
		return errCode(err)
	}
	if len(name) > len(out) {
		return -Int32(molt.ENOMEM)
	}
	copy(out, name)
	return Int32(len(name))
}
