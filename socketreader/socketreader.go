// Package socketreader implements a buffered line/byte reading adapter
// over a non-blocking socket, backing the guest-facing
// socket_reader_new/drop/at_eof/read/readline entry points.
package socketreader

import (
	"bytes"
	"context"

	molt "github.com/stealthrocket/molt-io"
)

// Recver is the subset of socketops.Manager a Reader needs: a blocking
// (subject to the socket's own timeout) recv into a caller-owned buffer.
type Recver interface {
	RecvInto(ctx context.Context, fd int32, buf []byte, flags molt.RIFlags) (int, molt.ROFlags, error)
}

const defaultStagingSize = 4096

// Reader buffers bytes pulled from a socket so guest code can ask for
// exact byte counts or line-delimited reads without each call making a
// separate syscall. It holds only the socket's descriptor number, not a
// reference in the socket table: the socket stays open only as long as
// its own handle does. It tracks EOF once a zero-length recv has been
// observed.
type Reader struct {
	conn   Recver
	fd     int32
	staged bytes.Buffer
	eof    bool
}

// New creates a Reader pulling from fd through conn.
func New(conn Recver, fd int32) *Reader {
	return &Reader{conn: conn, fd: fd}
}

// AtEOF reports whether the underlying socket has signaled end-of-stream
// and the staging buffer has been fully drained.
func (r *Reader) AtEOF() bool {
	return r.eof && r.staged.Len() == 0
}

func (r *Reader) fill(ctx context.Context) error {
	if r.eof {
		return nil
	}
	buf := make([]byte, defaultStagingSize)
	n, _, err := r.conn.RecvInto(ctx, r.fd, buf, 0)
	if err != nil {
		return err
	}
	if n == 0 {
		r.eof = true
		return nil
	}
	r.staged.Write(buf[:n])
	return nil
}

// Read returns up to n bytes, pulling from the socket only when the
// staging buffer is empty.
func (r *Reader) Read(ctx context.Context, n int) ([]byte, error) {
	for r.staged.Len() == 0 && !r.eof {
		if err := r.fill(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]byte, n)
	got, _ := r.staged.Read(out)
	return out[:got], nil
}

// ReadLine returns bytes up to and including the next '\n', pulling from
// the socket until a newline is staged or EOF is reached. A final
// unterminated line at EOF is returned without a trailing newline.
func (r *Reader) ReadLine(ctx context.Context) ([]byte, error) {
	for {
		if idx := bytes.IndexByte(r.staged.Bytes(), '\n'); idx >= 0 {
			line := make([]byte, idx+1)
			r.staged.Read(line)
			return line, nil
		}
		if r.eof {
			if r.staged.Len() == 0 {
				return nil, nil
			}
			rest := make([]byte, r.staged.Len())
			r.staged.Read(rest)
			return rest, nil
		}
		if err := r.fill(ctx); err != nil {
			return nil, err
		}
	}
}
