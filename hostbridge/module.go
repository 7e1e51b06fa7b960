// Package hostbridge implements the wazero import module the guest links
// against, exposing the `env.molt_*_host` surface. It owns the socket,
// WebSocket and process manager id tables, marshals pointers and lengths
// across the guest's linear memory, and never holds a raw guest pointer
// across a suspension point.
//
// The shape follows the usual wazergo host module layout: a
// wazergo.HostModule[*Module] built from a function table, one entry per
// import, registered with wazergo.F0..F8 by arity.
package hostbridge

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/stealthrocket/wazergo"
	. "github.com/stealthrocket/wazergo/types"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/dbworker"
	"github.com/stealthrocket/molt-io/process"
	"github.com/stealthrocket/molt-io/resolver"
	"github.com/stealthrocket/molt-io/socketops"
	"github.com/stealthrocket/molt-io/wsbridge"
)

const moduleName = "env"

// HostModule is the wazero host module exposing every molt_*_host import
// a guest module links against.
var HostModule wazergo.HostModule[*Module] = functions{
	// Sockets: the guest-facing verb set mirrored on the host side.
	"molt_socket_new_host":            wazergo.F4((*Module).SocketNew),
	"molt_socket_fileno_host":         wazergo.F1((*Module).SocketFileno),
	"molt_socket_clone_host":          wazergo.F1((*Module).SocketClone),
	"molt_socket_setblocking_host":    wazergo.F2((*Module).SocketSetBlocking),
	"molt_socket_getblocking_host":    wazergo.F1((*Module).SocketGetBlocking),
	"molt_socket_close_host":          wazergo.F1((*Module).SocketClose),
	"molt_socket_detach_host":         wazergo.F1((*Module).SocketDetach),
	"molt_socket_settimeout_host":     wazergo.F2((*Module).SocketSetTimeout),
	"molt_socket_gettimeout_host":     wazergo.F1((*Module).SocketGetTimeout),
	"molt_socket_bind_host":           wazergo.F2((*Module).SocketBind),
	"molt_socket_listen_host":         wazergo.F2((*Module).SocketListen),
	"molt_socket_accept_host":         wazergo.F3((*Module).SocketAccept),
	"molt_socket_connect_host":        wazergo.F2((*Module).SocketConnect),
	"molt_socket_connect_ex_host":     wazergo.F2((*Module).SocketConnectEx),
	"molt_socket_send_host":           wazergo.F3((*Module).SocketSend),
	"molt_socket_sendall_host":        wazergo.F3((*Module).SocketSendAll),
	"molt_socket_sendto_host":         wazergo.F4((*Module).SocketSendTo),
	"molt_socket_recv_host":           wazergo.F4((*Module).SocketRecv),
	"molt_socket_recvfrom_host":       wazergo.F5((*Module).SocketRecvFrom),
	"molt_socket_shutdown_host":       wazergo.F2((*Module).SocketShutdown),
	"molt_socket_getsockname_host":    wazergo.F3((*Module).SocketGetSockName),
	"molt_socket_getpeername_host":    wazergo.F3((*Module).SocketGetPeerName),
	"molt_socket_setsockopt_host":     wazergo.F4((*Module).SocketSetSockOpt),
	"molt_socket_getsockopt_host":     wazergo.F4((*Module).SocketGetSockOpt),
	"molt_socket_getsockopt_buf_host": wazergo.F5((*Module).SocketGetSockOptBuf),
	"molt_socketpair_host":            wazergo.F4((*Module).SocketPair),

	// Name resolution.
	"molt_getaddrinfo_host":   wazergo.F8((*Module).GetAddrInfo),
	"molt_getnameinfo_host":   wazergo.F2((*Module).GetNameInfo),
	"molt_gethostname_host":   wazergo.F1((*Module).GetHostName),
	"molt_getservbyname_host": wazergo.F3((*Module).GetServByName),
	"molt_getservbyport_host": wazergo.F3((*Module).GetServByPort),

	// Processes.
	"molt_process_spawn_host":       wazergo.F5((*Module).ProcessSpawn),
	"molt_process_wait_host":        wazergo.F1((*Module).ProcessWait),
	"molt_process_kill_host":        wazergo.F1((*Module).ProcessKill),
	"molt_process_terminate_host":   wazergo.F1((*Module).ProcessTerminate),
	"molt_process_write_host":       wazergo.F2((*Module).ProcessWrite),
	"molt_process_close_stdin_host": wazergo.F1((*Module).ProcessCloseStdin),
	"molt_process_stdio_host":       wazergo.F2((*Module).ProcessStdio),
	"molt_process_host_poll":        wazergo.F0((*Module).ProcessPoll),

	// WebSockets.
	"molt_ws_connect_host": wazergo.F2((*Module).WSConnect),
	"molt_ws_send_host":    wazergo.F3((*Module).WSSend),
	"molt_ws_recv_host":    wazergo.F4((*Module).WSRecv),
	"molt_ws_poll_host":    wazergo.F1((*Module).WSPoll),
	"molt_ws_close_host":   wazergo.F1((*Module).WSClose),

	// Database worker.
	"molt_db_query_host": wazergo.F5((*Module).DBQuery),
	"molt_db_exec_host":  wazergo.F5((*Module).DBExec),
	"molt_db_host_poll":  wazergo.F0((*Module).DBPoll),

	// Stream draining: the guest pulls whatever bytes a Stream has
	// queued, retrying with a larger buffer on -ENOMEM per the size-hint
	// convention every variable-length result in this bridge follows.
	"molt_stream_poll_host": wazergo.F4((*Module).StreamPoll),

	// OS helpers.
	"molt_os_close_host":    wazergo.F1((*Module).OSClose),
	"molt_os_getpid_host":   wazergo.F0((*Module).OSGetPID),
	"molt_os_hostname_host": wazergo.F1((*Module).OSHostname),
	"molt_has_ipv6_host":    wazergo.F0((*Module).HasIPv6),
	"molt_inet_pton_host":   wazergo.F3((*Module).InetPton),
	"molt_inet_ntop_host":   wazergo.F3((*Module).InetNtop),

	// Buffered line-oriented socket reads, layered on top of the
	// socket manager rather than duplicating its recv path.
	"molt_socket_reader_new_host":      wazergo.F1((*Module).SocketReaderNew),
	"molt_socket_reader_drop_host":     wazergo.F1((*Module).SocketReaderDrop),
	"molt_socket_reader_at_eof_host":   wazergo.F1((*Module).SocketReaderAtEOF),
	"molt_socket_reader_read_host":     wazergo.F4((*Module).SocketReaderRead),
	"molt_socket_reader_readline_host": wazergo.F3((*Module).SocketReaderReadLine),
}

// Option configures a Module at instantiation time.
type Option = wazergo.Option[*Module]

// WithCapabilities grants the capability set every boundary-crossing
// import checks before touching a resource.
func WithCapabilities(caps *molt.CapabilitySet) Option {
	return wazergo.OptionFunc(func(m *Module) { m.Caps = caps })
}

// WithDBWorkerCommand sets the argv used to lazily launch the database
// worker subprocess on first molt_db_query_host/molt_db_exec_host call,
// resolved by cmd/moltrun from MOLT_WASM_DB_WORKER_CMD/MOLT_WORKER_CMD.
func WithDBWorkerCommand(argv []string) Option {
	return wazergo.OptionFunc(func(m *Module) { m.dbWorkerCmd = argv })
}

type functions wazergo.Functions[*Module]

func (f functions) Name() string {
	return moduleName
}

func (f functions) Functions() wazergo.Functions[*Module] {
	return wazergo.Functions[*Module](f)
}

func (f functions) Instantiate(ctx context.Context, opts ...Option) (*Module, error) {
	m := &Module{
		Sockets:   socketops.NewManager(molt.NewCapabilitySet()),
		Resolver:  resolver.Native{},
		Processes: process.NewManager(molt.NewCapabilitySet()),
		WS:        wsbridge.NewManager(molt.NewCapabilitySet()),
		streams:   newStreamTable(),
		processes: newProcessTable(),
		readers:   newReaderTable(),
		dbPending: make(map[string]dbworker.CancelToken),
	}
	wazergo.Configure(m, opts...)
	if m.Caps == nil {
		m.Caps = molt.NewCapabilitySet()
	}
	m.Sockets.Caps = m.Caps
	m.Processes.Caps = m.Caps
	m.WS.Caps = m.Caps
	return m, nil
}

// Module is the per-instance host bridge state: the socket/process/
// websocket managers from their own packages, plus the bridge-local
// stream table and lazily-started DB worker.
type Module struct {
	Caps *molt.CapabilitySet

	Sockets   *socketops.Manager
	Resolver  resolver.Resolver
	Processes *process.Manager
	WS        *wsbridge.Manager

	streams     *streamTable
	processes   *processTable
	readers     *readerTable
	dbWorkerCmd []string

	dbMu      sync.Mutex
	dbWorker  *dbworker.Worker
	dbPending map[string]dbworker.CancelToken
}

// Close releases every socket descriptor still open in the table. Process
// and DB worker subprocesses are left to exit on their own (or be killed
// by their respective Entry/Worker before the guest drops its handle);
// neither package exposes a bulk-teardown hook, and the wazero instance
// shutting down does not by itself imply their children should die.
func (m *Module) Close(ctx context.Context) error {
	for _, fd := range m.Sockets.Table.Descriptors() {
		_ = m.Sockets.Close(fd)
	}
	return nil
}

// writeSized copies data into out if it fits, reporting the exact length
// in needed either way — length out-parameters are always written, even
// on ENOMEM, so the guest can resize and retry. It returns true when
// data fit and was copied.
func writeSized(out Bytes, needed Pointer[Uint32], data []byte) bool {
	needed.Store(Uint32(len(data)))
	if len(data) > len(out) {
		return false
	}
	copy(out, data)
	return true
}

// errCode converts an error from a component package into the bridge's
// negative-errno convention: 0 is success, negative is -errno.
func errCode(err error) Int32 {
	if err == nil {
		return 0
	}
	return -Int32(molt.MakeErrno(err))
}

func traceHostDebug(format string, args ...any) {
	if molt.HostDebug() {
		fmt.Fprintf(os.Stderr, "[molt_wasm_host] "+format+"\n", args...)
	}
}
