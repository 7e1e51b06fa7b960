package socketops

import (
	"fmt"
	"os"

	molt "github.com/stealthrocket/molt-io"
)

// traceRecv writes a one-line diagnostic to stderr when
// MOLT_TRACE_SOCKET_RECV is set. Tracing never alters semantics; callers
// invoke it purely for its side effect after a recv completes.
func traceRecv(fd, n int) {
	if molt.TraceSocketRecv() {
		fmt.Fprintf(os.Stderr, "molt: recv fd=%d n=%d\n", fd, n)
	}
}

// traceSend writes a one-line diagnostic to stderr when
// MOLT_TRACE_SOCKET_SEND is set.
func traceSend(fd, n int) {
	if molt.TraceSocketSend() {
		fmt.Fprintf(os.Stderr, "molt: send fd=%d n=%d\n", fd, n)
	}
}
