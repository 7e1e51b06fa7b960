package molt

import (
	"os"
	"strconv"
)

// Environment variable names recognized by the host harness and the
// packages it wires together. Kept in one place so cmd/moltrun and the
// tracing helpers agree on spelling.
const (
	EnvTraceSocketRecv = "MOLT_TRACE_SOCKET_RECV"
	EnvTraceSocketSend = "MOLT_TRACE_SOCKET_SEND"
	EnvHostDebug       = "MOLT_WASM_HOST_DEBUG"

	// Module selection: the positional <MODULE> argument wins, then
	// MOLT_WASM_PATH, then MOLT_RUNTIME_WASM. When a linked artifact is
	// preferred (MOLT_WASM_PREFER_LINKED or MOLT_WASM_LINKED) and
	// MOLT_WASM_LINKED_PATH names a readable file, it replaces the module
	// path.
	EnvWasmPath         = "MOLT_WASM_PATH"
	EnvRuntimeWasm      = "MOLT_RUNTIME_WASM"
	EnvWasmLinked       = "MOLT_WASM_LINKED"
	EnvWasmLinkedPath   = "MOLT_WASM_LINKED_PATH"
	EnvWasmPreferLinked = "MOLT_WASM_PREFER_LINKED"

	// Precompilation and compile-time tuning. MOLT_WASM_PRECOMPILED turns
	// on reuse of compiled artifacts under MOLT_WASM_PRECOMPILED_PATH (a
	// compilation-cache directory); MOLT_WASM_PRECOMPILED_WRITE allows
	// creating that directory when missing. MOLT_WASM_COMPILE_FAST trades
	// execution speed for compile speed. The remaining knobs are read by
	// hosts that support them and ignored otherwise.
	EnvWasmPrecompiled            = "MOLT_WASM_PRECOMPILED"
	EnvWasmPrecompiledWrite       = "MOLT_WASM_PRECOMPILED_WRITE"
	EnvWasmPrecompiledPath        = "MOLT_WASM_PRECOMPILED_PATH"
	EnvWasmPrecompiledRuntimePath = "MOLT_WASM_PRECOMPILED_RUNTIME_PATH"
	EnvWasmCache                  = "MOLT_WASM_CACHE"
	EnvWasmCacheConfig            = "MOLT_WASM_CACHE_CONFIG"
	EnvWasmCompileSerial          = "MOLT_WASM_COMPILE_SERIAL"
	EnvWasmCompileFast            = "MOLT_WASM_COMPILE_FAST"
	EnvWasmMaxStack               = "MOLT_WASM_MAX_STACK"

	// Database worker configuration. MOLT_WASM_DB_WORKER_CMD wins over the
	// generic MOLT_WORKER_CMD. The exports and timeout variables are read
	// by the worker subprocess itself (it inherits the host environment);
	// the timeout pair also provides the default when a request carries no
	// timeout of its own.
	EnvDBWorkerCmd          = "MOLT_WASM_DB_WORKER_CMD"
	EnvWorkerCmd            = "MOLT_WORKER_CMD"
	EnvDBExports            = "MOLT_WASM_DB_EXPORTS"
	EnvDBCompiledExports    = "MOLT_WASM_DB_COMPILED_EXPORTS"
	EnvDBTimeoutMillis      = "MOLT_WASM_DB_TIMEOUT_MS"
	EnvDBQueryTimeoutMillis = "MOLT_DB_QUERY_TIMEOUT_MS"
)

// EnvFlag reports whether an environment variable is set to a recognized
// truthy value ("1", "true", "yes", "on"), defaulting to false.
func EnvFlag(name string) bool {
	switch os.Getenv(name) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// EnvMillis reads a millisecond count from the environment, returning
// fallback when the variable is unset or not a number.
func EnvMillis(name string, fallback int64) int64 {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

// TraceSocketRecv reports whether per-call socket receive tracing is
// enabled via MOLT_TRACE_SOCKET_RECV.
func TraceSocketRecv() bool { return EnvFlag(EnvTraceSocketRecv) }

// TraceSocketSend reports whether per-call socket send tracing is enabled
// via MOLT_TRACE_SOCKET_SEND.
func TraceSocketSend() bool { return EnvFlag(EnvTraceSocketSend) }

// HostDebug reports whether verbose host-bridge diagnostics are enabled
// via MOLT_WASM_HOST_DEBUG.
func HostDebug() bool { return EnvFlag(EnvHostDebug) }
