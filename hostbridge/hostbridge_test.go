package hostbridge

import (
	"encoding/binary"
	"testing"

	"github.com/stealthrocket/molt-io/process"
	"github.com/stealthrocket/molt-io/stream"
)

func encodeStringList(t *testing.T, items []string) []byte {
	t.Helper()
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(items)))
	for _, s := range items {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		buf = append(buf, n[:]...)
		buf = append(buf, s...)
	}
	return buf
}

func TestDecodeStringListRoundTrip(t *testing.T) {
	tests := [][]string{
		nil,
		{},
		{"a"},
		{"argv0", "--flag", "value with spaces"},
	}
	for _, want := range tests {
		got, err := decodeStringList(encodeStringList(t, want))
		if err != nil {
			t.Fatalf("decodeStringList(%v): %v", want, err)
		}
		if len(got) != len(want) {
			t.Fatalf("decodeStringList(%v) = %v, want same length", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
			}
		}
	}
}

func TestDecodeStringListEmptyBuffer(t *testing.T) {
	got, err := decodeStringList(nil)
	if err != nil {
		t.Fatalf("decodeStringList(nil): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("decodeStringList(nil) = %v, want empty", got)
	}
}

func TestDecodeStringListTruncated(t *testing.T) {
	buf := encodeStringList(t, []string{"hello"})
	buf = buf[:len(buf)-2]
	if _, err := decodeStringList(buf); err == nil {
		t.Fatal("decodeStringList: expected error on truncated entry")
	}
}

func TestConcatFrames(t *testing.T) {
	frames := [][]byte{[]byte("ab"), nil, []byte("cd"), []byte("e")}
	got := concatFrames(frames)
	if string(got) != "abcde" {
		t.Errorf("concatFrames = %q, want %q", got, "abcde")
	}
	if concatFrames(nil) == nil {
		t.Error("concatFrames(nil) should return a non-nil empty slice")
	}
}

func TestStreamTableRegisterLookupRelease(t *testing.T) {
	tbl := newStreamTable()
	s := stream.New()

	id := tbl.register(s)
	if id == 0 {
		t.Fatal("register returned zero handle")
	}

	r, ok := tbl.lookup(id)
	if !ok || r.s != s {
		t.Fatalf("lookup(%d) = (%v, %v), want the registered stream", id, r, ok)
	}

	heldID, ok := tbl.holds(s)
	if !ok || heldID != id {
		t.Fatalf("holds(s) = (%d, %v), want (%d, true)", heldID, ok, id)
	}

	tbl.release(id)
	if _, ok := tbl.lookup(id); ok {
		t.Errorf("lookup(%d) succeeded after release", id)
	}
	if _, ok := tbl.holds(s); ok {
		t.Errorf("holds(s) succeeded after release")
	}
}

func TestStreamTableDistinctHandles(t *testing.T) {
	tbl := newStreamTable()
	a := tbl.register(stream.New())
	b := tbl.register(stream.New())
	if a == b {
		t.Fatalf("register returned the same handle twice: %d", a)
	}
}

func TestProcessTableIDs(t *testing.T) {
	tbl := newProcessTable()
	e1 := &process.Entry{}
	e2 := &process.Entry{}

	id1 := tbl.register(e1)
	id2 := tbl.register(e2)

	ids := tbl.ids()
	if len(ids) != 2 {
		t.Fatalf("ids() = %v, want 2 entries", ids)
	}
	seen := map[int32]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[id1] || !seen[id2] {
		t.Errorf("ids() = %v, want to contain %d and %d", ids, id1, id2)
	}
}

func TestReaderTableRegisterLookupRelease(t *testing.T) {
	tbl := newReaderTable()
	id := tbl.register(nil)
	if id == 0 {
		t.Fatal("register returned zero handle")
	}
	if _, ok := tbl.lookup(id); !ok {
		t.Fatalf("lookup(%d) failed right after register", id)
	}
	tbl.release(id)
	if _, ok := tbl.lookup(id); ok {
		t.Errorf("lookup(%d) succeeded after release", id)
	}
}
