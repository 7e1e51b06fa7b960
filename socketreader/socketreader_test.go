package socketreader

import (
	"context"
	"testing"

	molt "github.com/stealthrocket/molt-io"
)

type fakeConn struct {
	chunks [][]byte
	i      int
}

func (f *fakeConn) RecvInto(ctx context.Context, fd int32, buf []byte, flags molt.RIFlags) (int, molt.ROFlags, error) {
	if f.i >= len(f.chunks) {
		return 0, 0, nil
	}
	n := copy(buf, f.chunks[f.i])
	f.i++
	return n, 0, nil
}

func TestReadLineAcrossChunks(t *testing.T) {
	conn := &fakeConn{chunks: [][]byte{[]byte("hel"), []byte("lo\nworld"), nil}}
	r := New(conn, 0)

	line, err := r.ReadLine(context.Background())
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(line) != "hello\n" {
		t.Fatalf("ReadLine = %q, want %q", line, "hello\n")
	}

	line, err = r.ReadLine(context.Background())
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(line) != "world" {
		t.Fatalf("ReadLine (final, unterminated) = %q, want %q", line, "world")
	}
	if !r.AtEOF() {
		t.Fatalf("expected AtEOF after draining final unterminated line")
	}
}

func TestReadExactCount(t *testing.T) {
	conn := &fakeConn{chunks: [][]byte{[]byte("abcdef")}}
	r := New(conn, 0)

	got, err := r.Read(context.Background(), 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("Read(3) = %q, want abc", got)
	}
}
