package hostbridge

import (
	"context"
	"sync"

	. "github.com/stealthrocket/wazergo/types"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/socketops"
	"github.com/stealthrocket/molt-io/sockettable"
	"github.com/stealthrocket/molt-io/socketreader"
)

// recverAdapter bridges socketops.Manager's sockettable.Descriptor-typed
// RecvInto to the plain int32 fd socketreader.Recver expects: Descriptor
// is a distinct named type from int32, so the Manager method does not
// satisfy the interface without this thin shim.
type recverAdapter struct{ m *socketops.Manager }

func (a recverAdapter) RecvInto(ctx context.Context, fd int32, buf []byte, flags molt.RIFlags) (int, molt.ROFlags, error) {
	return a.m.RecvInto(ctx, sockettable.Descriptor(fd), buf, flags)
}

// readerTable is the bridge-local id table for socket_reader handles.
type readerTable struct {
	mu     sync.Mutex
	nextID int32
	byID   map[int32]*socketreader.Reader
}

func newReaderTable() *readerTable {
	return &readerTable{byID: make(map[int32]*socketreader.Reader)}
}

func (t *readerTable) register(r *socketreader.Reader) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.byID[id] = r
	return id
}

func (t *readerTable) lookup(id int32) (*socketreader.Reader, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	return r, ok
}

func (t *readerTable) release(id int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

func (m *Module) SocketReaderNew(ctx context.Context, fd Int32) Int32 {
	r := socketreader.New(recverAdapter{m.Sockets}, int32(fd))
	return Int32(m.readers.register(r))
}

func (m *Module) SocketReaderDrop(ctx context.Context, handle Int32) Int32 {
	m.readers.release(int32(handle))
	return 0
}

func (m *Module) SocketReaderAtEOF(ctx context.Context, handle Int32) Int32 {
	r, ok := m.readers.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}
	if r.AtEOF() {
		return 1
	}
	return 0
}

func (m *Module) SocketReaderRead(ctx context.Context, handle Int32, n Int32, out Bytes, needed Pointer[Uint32]) Int32 {
	r, ok := m.readers.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}
	data, err := r.Read(ctx, int(n))
	if err != nil {
		return errCode(err)
	}
	if !writeSized(out, needed, data) {
		return -Int32(molt.ENOMEM)
	}
	return Int32(len(data))
}

func (m *Module) SocketReaderReadLine(ctx context.Context, handle Int32, out Bytes, needed Pointer[Uint32]) Int32 {
	r, ok := m.readers.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}
	data, err := r.ReadLine(ctx)
	if err != nil {
		return errCode(err)
	}
	if !writeSized(out, needed, data) {
		return -Int32(molt.ENOMEM)
	}
	return Int32(len(data))
}
