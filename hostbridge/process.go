package hostbridge

import (
	"context"
	"encoding/binary"
	"sync"

	. "github.com/stealthrocket/wazergo/types"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/process"
)

// processTable is the bridge-local id table for spawned processes,
// analogous to streamTable: process.Manager.Spawn hands back an *Entry
// with no handle of its own, so the bridge keeps its own map.
type processTable struct {
	mu     sync.Mutex
	nextID int32
	byID   map[int32]*process.Entry
}

func newProcessTable() *processTable {
	return &processTable{byID: make(map[int32]*process.Entry)}
}

func (t *processTable) register(e *process.Entry) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.byID[id] = e
	return id
}

func (t *processTable) lookup(id int32) (*process.Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	return e, ok
}

func (t *processTable) ids() []int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int32, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	return ids
}

// decodeStringList parses the wire format for a list of NUL-free
// strings: u32 count, then per-entry u32 length + bytes.
func decodeStringList(buf []byte) ([]string, error) {
	if len(buf) < 4 {
		if len(buf) == 0 {
			return nil, nil
		}
		return nil, &molt.ValueError{Msg: "process_spawn: truncated string list"}
	}
	count := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < 4 {
			return nil, &molt.ValueError{Msg: "process_spawn: truncated string list entry"}
		}
		n := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if uint32(len(buf)) < n {
			return nil, &molt.ValueError{Msg: "process_spawn: string list entry overruns buffer"}
		}
		out = append(out, string(buf[:n]))
		buf = buf[n:]
	}
	return out, nil
}

// decodeEnvPairs parses the env envelope's key/value portion: u32
// count, then per-entry a key string and a value string, each in the
// same u32-length-prefixed shape decodeStringList uses for a single
// entry. The mode byte the envelope also carries is read by the caller
// as its own ABI parameter (envMode) instead of being parsed out of this
// buffer, so every call site gets it as a typed wazergo parameter rather
// than a hand-parsed leading byte.
func decodeEnvPairs(buf []byte) ([]string, error) {
	if len(buf) < 4 {
		if len(buf) == 0 {
			return nil, nil
		}
		return nil, &molt.ValueError{Msg: "process_spawn: truncated env envelope"}
	}
	count := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		key, rest, err := takeLengthPrefixed(buf)
		if err != nil {
			return nil, err
		}
		val, rest2, err := takeLengthPrefixed(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, key+"="+val)
		buf = rest2
	}
	return out, nil
}

func takeLengthPrefixed(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, &molt.ValueError{Msg: "process_spawn: truncated env envelope entry"}
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return "", nil, &molt.ValueError{Msg: "process_spawn: env envelope entry overruns buffer"}
	}
	return string(buf[:n]), buf[n:], nil
}

// ProcessSpawn implements molt_process_spawn_host. argv is a wire string
// list; env is the env envelope's key/value pairs (the envelope's mode
// byte arrives as envMode instead); stdioModes packs the three
// StdioMode codes one byte each. On success it registers the Entry (and
// any piped stdout/stderr Streams) and returns the process handle.
func (m *Module) ProcessSpawn(ctx context.Context, argvBuf, envBuf Bytes, envMode Int32, dir String, stdioModes Int32) Int64 {
	argv, err := decodeStringList(argvBuf)
	if err != nil {
		return Int64(errCode(err))
	}
	env, err := decodeEnvPairs(envBuf)
	if err != nil {
		return Int64(errCode(err))
	}

	// stdioModes packs stdin/stdout/stderr as three bytes, low to high.
	spec := process.Spec{
		Argv:    argv,
		Env:     env,
		EnvMode: process.EnvMode(envMode),
		Dir:     string(dir),
		Stdin:   process.StdioMode(stdioModes & 0xff),
		Stdout:  process.StdioMode((stdioModes >> 8) & 0xff),
		Stderr:  process.StdioMode((stdioModes >> 16) & 0xff),
	}

	entry, err := m.Processes.Spawn(ctx, spec)
	if err != nil {
		return Int64(errCode(err))
	}
	id := m.processes.register(entry)
	if entry.Stdout != nil {
		m.streams.register(entry.Stdout)
	}
	if entry.Stderr != nil {
		m.streams.register(entry.Stderr)
	}
	return Int64(id)
}

func (m *Module) ProcessWait(ctx context.Context, handle Int32) Int32 {
	entry, ok := m.processes.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}
	code, exited := entry.Poll()
	if !exited {
		return -Int32(molt.EAGAIN)
	}
	return Int32(code)
}

func (m *Module) ProcessKill(ctx context.Context, handle Int32) Int32 {
	entry, ok := m.processes.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}
	return errCode(entry.Kill())
}

func (m *Module) ProcessTerminate(ctx context.Context, handle Int32) Int32 {
	entry, ok := m.processes.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}
	return errCode(entry.Terminate())
}

func (m *Module) ProcessWrite(ctx context.Context, handle Int32, data Bytes) Int32 {
	entry, ok := m.processes.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}
	n, err := entry.Write(data)
	if err != nil {
		return errCode(err)
	}
	return Int32(n)
}

func (m *Module) ProcessCloseStdin(ctx context.Context, handle Int32) Int32 {
	entry, ok := m.processes.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}
	return errCode(entry.CloseStdin())
}

// ProcessStdio implements molt_process_stdio_host: which gives back the
// Stream handle (registered at spawn time) for the process's stdout (which
// == 0) or stderr (which == 1), or -ENOENT if that stream was not piped.
func (m *Module) ProcessStdio(ctx context.Context, handle, which Int32) Int32 {
	entry, ok := m.processes.lookup(int32(handle))
	if !ok {
		return -Int32(molt.EBADF)
	}
	target := entry.Stdout
	if which == 1 {
		target = entry.Stderr
	}
	if target == nil {
		return -Int32(molt.ENOENT)
	}
	if id, ok := m.streams.holds(target); ok {
		return Int32(id)
	}
	return -Int32(molt.ENOENT)
}

// ProcessPoll implements molt_process_host_poll: a no-argument sweep that
// gives Entry.Poll a chance to observe newly-exited children. Actual
// delivery of exit codes to the guest happens when it calls
// molt_process_wait_host; this just primes the state ahead of that call in
// hosts that poll on a timer.
func (m *Module) ProcessPoll(ctx context.Context) Int32 {
	for _, id := range m.processes.ids() {
		if entry, ok := m.processes.lookup(id); ok {
			entry.Poll()
		}
	}
	return 0
}
