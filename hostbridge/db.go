package hostbridge

import (
	"context"
	"fmt"
	"time"

	. "github.com/stealthrocket/wazergo/types"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/dbworker"
)

// dbWorkerLocked lazily launches the worker subprocess: nothing starts
// until the first db_query or db_exec arrives.
func (m *Module) dbWorkerLocked() (*dbworker.Worker, error) {
	m.dbMu.Lock()
	defer m.dbMu.Unlock()
	if m.dbWorker != nil {
		return m.dbWorker, nil
	}
	if len(m.dbWorkerCmd) == 0 {
		return nil, &molt.ValueError{Msg: "db_query: no database worker command configured"}
	}
	m.dbWorker = dbworker.NewWorker(m.dbWorkerCmd)
	return m.dbWorker, nil
}

// defaultDBTimeout resolves the timeout for a request that carries none:
// MOLT_WASM_DB_TIMEOUT_MS wins, then MOLT_DB_QUERY_TIMEOUT_MS, then 30s.
func defaultDBTimeout() time.Duration {
	ms := molt.EnvMillis(molt.EnvDBTimeoutMillis, 0)
	if ms == 0 {
		ms = molt.EnvMillis(molt.EnvDBQueryTimeoutMillis, 30_000)
	}
	return time.Duration(ms) * time.Millisecond
}

func (m *Module) query(ctx context.Context, requestID, entry String, timeoutMS Int64, codec String, payload Bytes) Int64 {
	w, err := m.dbWorkerLocked()
	if err != nil {
		return Int64(errCode(err))
	}
	timeout := time.Duration(timeoutMS) * time.Millisecond
	if timeoutMS <= 0 {
		timeout = defaultDBTimeout()
	}
	out, token, err := w.Query(string(requestID), string(entry), timeout, string(codec), payload)
	if err != nil {
		return Int64(errCode(err))
	}
	handle := m.streams.register(out)

	m.dbMu.Lock()
	m.dbPending[string(requestID)] = token
	m.dbMu.Unlock()

	return Int64(handle)
}

// DBQuery implements molt_db_query_host, registering a Stream the result
// rows are delivered onto and returning its handle.
func (m *Module) DBQuery(ctx context.Context, requestID, entry String, timeoutMS Int64, codec String, payload Bytes) Int64 {
	return m.query(ctx, requestID, entry, timeoutMS, codec, payload)
}

// DBExec implements molt_db_exec_host: identical wire shape to DBQuery,
// the distinction between "query" and "exec" lives entirely in the entry
// name the worker subprocess dispatches on.
func (m *Module) DBExec(ctx context.Context, requestID, entry String, timeoutMS Int64, codec String, payload Bytes) Int64 {
	return m.query(ctx, requestID, entry, timeoutMS, codec, payload)
}

// DBCancel looks up the pending request's CancelToken and marks it
// cancelled; the worker's next Poll call emits the __cancel__ control
// frame. Not part of the guest-callable table (no molt_db_cancel_host
// entry exists in the import surface), but kept for cmd/moltrun to wire onto a guest
// "cancel" notification if one arrives out of band.
func (m *Module) DBCancel(requestID string) error {
	m.dbMu.Lock()
	token, ok := m.dbPending[requestID]
	m.dbMu.Unlock()
	if !ok {
		return fmt.Errorf("hostbridge: no pending db request %q", requestID)
	}
	token.Cancel()
	return nil
}

// DBPoll implements molt_db_host_poll: drains worker responses onto their
// Streams, emits any due cancellations, and prunes tokens for requests
// that have completed.
func (m *Module) DBPoll(ctx context.Context) Int32 {
	m.dbMu.Lock()
	w := m.dbWorker
	m.dbMu.Unlock()
	if w == nil {
		return 0
	}
	w.Poll()

	m.dbMu.Lock()
	for id := range m.dbPending {
		if !w.IsPending(id) {
			delete(m.dbPending, id)
		}
	}
	m.dbMu.Unlock()
	return 0
}
