package sockettable

import (
	"errors"
	"testing"
)

func TestAllocateLookupClose(t *testing.T) {
	var tbl Table

	fd := tbl.Allocate(&Entry{Kind: Unbound, FD: 7})
	entry, ok := tbl.Lookup(fd)
	if !ok {
		t.Fatalf("Lookup(%d) not found", fd)
	}
	if entry.FD != 7 {
		t.Errorf("FD = %d, want 7", entry.FD)
	}

	if _, last := tbl.CloseDescriptor(fd); !last {
		t.Fatalf("CloseDescriptor should report last on a sole handle")
	}
	if _, ok := tbl.Lookup(fd); ok {
		t.Fatalf("entry still present after close")
	}
	if _, ok := tbl.LookupByFD(7); ok {
		t.Fatalf("FD back-map still holds the raw descriptor after close")
	}
}

func TestAliasClosesNativeResourceOnce(t *testing.T) {
	var tbl Table

	fd := tbl.Allocate(&Entry{Kind: Connected, FD: 9})
	alias, ok := tbl.AllocateAlias(fd)
	if !ok {
		t.Fatalf("AllocateAlias(%d) failed", fd)
	}
	if alias == fd {
		t.Fatalf("alias should be a distinct descriptor, got %d twice", fd)
	}

	entry, last := tbl.CloseDescriptor(fd)
	if entry == nil {
		t.Fatalf("CloseDescriptor(%d) found no entry", fd)
	}
	if last {
		t.Fatalf("closing the first of two handles must not release the resource")
	}
	if _, ok := tbl.Lookup(fd); ok {
		t.Fatalf("closed handle %d still resolves", fd)
	}
	if aliased, ok := tbl.Lookup(alias); !ok || aliased != entry {
		t.Fatalf("alias %d no longer resolves to the shared entry", alias)
	}
	if _, ok := tbl.LookupByFD(9); !ok {
		t.Fatalf("FD back-map dropped the raw descriptor while a handle is live")
	}

	if _, last := tbl.CloseDescriptor(alias); !last {
		t.Fatalf("closing the last handle must release the resource")
	}
	if _, ok := tbl.LookupByFD(9); ok {
		t.Fatalf("FD back-map still holds the raw descriptor after the last close")
	}
}

func TestRetainEntryKeepsResourceAcrossClose(t *testing.T) {
	var tbl Table

	fd := tbl.Allocate(&Entry{Kind: Connected, FD: 5})
	entry, _ := tbl.Lookup(fd)
	tbl.RetainEntry(entry) // an operation pinned on readiness

	if _, last := tbl.CloseDescriptor(fd); last {
		t.Fatalf("close must not release the resource while an operation is pinned")
	}
	if !tbl.ReleaseEntry(entry) {
		t.Fatalf("the pin's release should be the last reference out")
	}
	if entry.Kind != Closing {
		t.Errorf("Kind = %v after last release, want Closing", entry.Kind)
	}
}

func TestLookupByFD(t *testing.T) {
	var tbl Table

	fd := tbl.Allocate(&Entry{Kind: Connected, FD: 11})
	entry, ok := tbl.LookupByFD(11)
	if !ok {
		t.Fatalf("LookupByFD(11) not found")
	}
	if got, _ := tbl.Lookup(fd); got != entry {
		t.Fatalf("LookupByFD and Lookup disagree on the entry")
	}
	if _, ok := tbl.LookupByFD(12); ok {
		t.Fatalf("LookupByFD(12) should not resolve")
	}
}

func TestWithEntry(t *testing.T) {
	var tbl Table

	fd := tbl.Allocate(&Entry{Kind: Connected, FD: 3})
	var saw int
	err := tbl.WithEntry(fd, func(e *Entry) error {
		saw = e.FD
		return nil
	})
	if err != nil || saw != 3 {
		t.Fatalf("WithEntry = %v (saw %d), want nil and FD 3", err, saw)
	}

	if err := tbl.WithEntry(fd+100, func(*Entry) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("WithEntry on a bad descriptor = %v, want ErrNotFound", err)
	}

	entry, _ := tbl.Lookup(fd)
	entry.Lock()
	entry.Kind = Closing
	entry.Unlock()
	if err := tbl.WithEntry(fd, func(*Entry) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("WithEntry on a closed entry = %v, want ErrClosed", err)
	}
}

func TestDetachRemovesAndDeregisters(t *testing.T) {
	var tbl Table

	fd := tbl.Allocate(&Entry{Kind: Connected, FD: 13})
	tbl.AllocateAlias(fd)

	entry, nativeFD, ok := tbl.Detach(fd)
	if !ok {
		t.Fatalf("Detach should find the entry")
	}
	if nativeFD != 13 {
		t.Errorf("Detach returned fd %d, want 13", nativeFD)
	}
	if entry.Kind != Closing {
		t.Errorf("Kind = %v after Detach, want Closing", entry.Kind)
	}
	if entry.FD != -1 {
		t.Errorf("entry.FD = %d after Detach, want -1 (caller owns the fd now)", entry.FD)
	}
	if _, ok := tbl.Lookup(fd); ok {
		t.Fatalf("entry should be gone after Detach regardless of refcount")
	}
	if _, ok := tbl.LookupByFD(13); ok {
		t.Fatalf("FD back-map should drop a detached descriptor")
	}
}

func TestDescriptorsAreSorted(t *testing.T) {
	var tbl Table
	for i := 0; i < 5; i++ {
		tbl.Allocate(&Entry{Kind: Bound, FD: -1})
	}

	ds := tbl.Descriptors()
	if len(ds) != 5 {
		t.Fatalf("Descriptors returned %d entries, want 5", len(ds))
	}
	for i := 1; i < len(ds); i++ {
		if ds[i-1] >= ds[i] {
			t.Fatalf("Descriptors not sorted: %v", ds)
		}
	}
}

func TestRangeVisitsAllEntries(t *testing.T) {
	var tbl Table
	want := map[Descriptor]bool{}
	for i := 0; i < 5; i++ {
		fd := tbl.Allocate(&Entry{Kind: Bound, FD: -1})
		want[fd] = true
	}

	got := map[Descriptor]bool{}
	tbl.Range(func(fd Descriptor, e *Entry) bool {
		got[fd] = true
		return true
	})

	if len(got) != len(want) {
		t.Fatalf("Range visited %d entries, want %d", len(got), len(want))
	}
	for fd := range want {
		if !got[fd] {
			t.Errorf("Range missed descriptor %d", fd)
		}
	}
}
