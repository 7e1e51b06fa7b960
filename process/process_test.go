package process

import (
	"context"
	"testing"
	"time"

	molt "github.com/stealthrocket/molt-io"
)

func allCaps() *molt.CapabilitySet {
	return molt.NewCapabilitySet(molt.CapProcess, molt.CapProcessSpawn)
}

func TestSpawnPipesStdoutAndStderr(t *testing.T) {
	m := NewManager(allCaps())
	entry, err := m.Spawn(context.Background(), Spec{
		Argv:   []string{"/bin/sh", "-c", "echo hello; echo err 1>&2; exit 3"},
		Stdout: StdioPipe,
		Stderr: StdioPipe,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, exited := entry.Poll(); exited {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	code, exited := entry.Poll()
	if !exited {
		t.Fatalf("process did not exit in time")
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}

	outFrames, outDone := entry.Stdout.Drain()
	if !outDone {
		t.Errorf("stdout stream should be closed")
	}
	var out []byte
	for _, f := range outFrames {
		out = append(out, f...)
	}
	if string(out) != "hello\n" {
		t.Errorf("stdout = %q, want %q", out, "hello\n")
	}

	errFrames, errDone := entry.Stderr.Drain()
	if !errDone {
		t.Errorf("stderr stream should be closed")
	}
	var errOut []byte
	for _, f := range errFrames {
		errOut = append(errOut, f...)
	}
	if string(errOut) != "err\n" {
		t.Errorf("stderr = %q, want %q", errOut, "err\n")
	}
}

func TestSpawnWithoutCapabilityFails(t *testing.T) {
	m := NewManager(molt.NewCapabilitySet())
	if _, err := m.Spawn(context.Background(), Spec{Argv: []string{"/bin/true"}}); err == nil {
		t.Fatalf("Spawn should fail without process capability")
	}
}
