// Package process implements the process manager (C8): spawning child
// processes, piping their stdio into Streams, and delivering exit codes
// once they are known.
package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	molt "github.com/stealthrocket/molt-io"
	"github.com/stealthrocket/molt-io/stream"
	"golang.org/x/sync/errgroup"
)

// EnvMode selects how Spawn's env list combines with the host's own
// environment.
type EnvMode int

const (
	EnvInherit EnvMode = iota
	EnvReplace
	EnvAugment
)

// StdioMode selects how one stdio stream is wired for a spawned process.
type StdioMode int

const (
	StdioInherit StdioMode = iota
	StdioPipe
	StdioDevNull
	StdioMergeIntoStdout

	// StdioInheritFDBase marks the start of the "inherit caller
	// descriptor" range: StdioInheritFDBase+N wires the stream to the
	// caller's file descriptor N.
	StdioInheritFDBase StdioMode = 16
)

// inheritFD returns the caller descriptor a mode in the inherit-fd range
// names, or -1.
func (m StdioMode) inheritFD() int {
	if m >= StdioInheritFDBase {
		return int(m - StdioInheritFDBase)
	}
	return -1
}

// Spec describes a process to spawn.
type Spec struct {
	Argv    []string
	Env     []string
	EnvMode EnvMode
	Dir     string
	Stdin   StdioMode
	Stdout  StdioMode
	Stderr  StdioMode
}

// Entry is a spawned child: optional stdin write-end, optional stdout/
// stderr Streams, and the exit code once Wait or Poll observes it.
type Entry struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	Stdout *stream.Stream
	Stderr *stream.Stream

	mu       sync.Mutex
	exitCode *int
	waitErr  error
	group    *errgroup.Group
}

// Manager spawns and tracks child processes.
type Manager struct {
	Caps *molt.CapabilitySet
}

// NewManager builds a Manager gated by caps.
func NewManager(caps *molt.CapabilitySet) *Manager {
	return &Manager{Caps: caps}
}

func buildEnv(spec Spec) []string {
	switch spec.EnvMode {
	case EnvReplace:
		return spec.Env
	case EnvAugment:
		return append(append([]string{}, os.Environ()...), spec.Env...)
	default:
		return os.Environ()
	}
}

// Spawn starts a child process per spec, wiring piped stdio into Streams
// drained by background reader goroutines coordinated with an errgroup.
func (m *Manager) Spawn(ctx context.Context, spec Spec) (*Entry, error) {
	if err := m.Caps.RequireProcess(molt.CapProcessSpawn); err != nil {
		return nil, err
	}
	if len(spec.Argv) == 0 {
		return nil, &molt.ValueError{Msg: "process spawn: empty argv"}
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec)

	entry := &Entry{cmd: cmd, group: &errgroup.Group{}}

	switch {
	case spec.Stdin == StdioPipe:
		w, err := cmd.StdinPipe()
		if err != nil {
			return nil, molt.MakeErrno(err)
		}
		entry.stdin = w
	case spec.Stdin == StdioDevNull:
		cmd.Stdin = nil
	case spec.Stdin.inheritFD() >= 0:
		cmd.Stdin = os.NewFile(uintptr(spec.Stdin.inheritFD()), "stdin")
	default:
		cmd.Stdin = os.Stdin
	}

	wireOut := func(mode StdioMode, pipe func() (io.ReadCloser, error)) (*stream.Stream, error) {
		if mode != StdioPipe {
			return nil, nil
		}
		r, err := pipe()
		if err != nil {
			return nil, molt.MakeErrno(err)
		}
		s := stream.New()
		entry.group.Go(func() error { return drain(r, s) })
		return s, nil
	}

	var err error
	entry.Stdout, err = wireOut(spec.Stdout, cmd.StdoutPipe)
	if err != nil {
		return nil, err
	}
	if spec.Stderr == StdioMergeIntoStdout {
		cmd.Stderr = cmd.Stdout
	} else {
		entry.Stderr, err = wireOut(spec.Stderr, cmd.StderrPipe)
		if err != nil {
			return nil, err
		}
	}
	if spec.Stdout == StdioInherit {
		cmd.Stdout = os.Stdout
	} else if fd := spec.Stdout.inheritFD(); fd >= 0 {
		cmd.Stdout = os.NewFile(uintptr(fd), "stdout")
	}
	if spec.Stderr == StdioInherit {
		cmd.Stderr = os.Stderr
	} else if fd := spec.Stderr.inheritFD(); fd >= 0 {
		cmd.Stderr = os.NewFile(uintptr(fd), "stderr")
	}

	if err := cmd.Start(); err != nil {
		return nil, molt.MakeErrno(err)
	}

	go func() {
		_ = entry.group.Wait()
		waitErr := cmd.Wait()
		entry.mu.Lock()
		defer entry.mu.Unlock()
		code := exitCode(cmd, waitErr)
		entry.exitCode = &code
		entry.waitErr = waitErr
		if entry.Stdout != nil {
			entry.Stdout.Close()
		}
		if entry.Stderr != nil {
			entry.Stderr.Close()
		}
	}()

	return entry, nil
}

func drain(r io.ReadCloser, s *stream.Stream) error {
	defer r.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.Send(buf[:n])
		}
		if err != nil {
			return nil
		}
	}
}

// exitCode captures the process's exit status, translating a terminating
// POSIX signal into a negative code.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	state := cmd.ProcessState
	if state == nil {
		return -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return -int(status.Signal())
		}
	}
	return state.ExitCode()
}

// Write writes to the child's stdin, if piped.
func (e *Entry) Write(data []byte) (int, error) {
	if e.stdin == nil {
		return 0, &molt.OSError{Op: "process_write", Errno: molt.EBADF}
	}
	n, err := e.stdin.Write(data)
	if err != nil {
		return n, molt.MakeErrno(err)
	}
	return n, nil
}

// CloseStdin closes the child's stdin write end, signaling EOF to it.
func (e *Entry) CloseStdin() error {
	if e.stdin == nil {
		return nil
	}
	return e.stdin.Close()
}

// Poll returns the exit code if the process has exited, and whether it
// has.
func (e *Entry) Poll() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exitCode == nil {
		return 0, false
	}
	return *e.exitCode, true
}

// Kill sends SIGKILL.
func (e *Entry) Kill() error {
	if e.cmd.Process == nil {
		return &molt.OSError{Op: "process_kill", Errno: molt.ESRCH}
	}
	if err := e.cmd.Process.Kill(); err != nil {
		return &molt.OSError{Op: "process_kill", Errno: molt.MakeErrno(err)}
	}
	return nil
}

// Terminate sends SIGTERM, allowing graceful shutdown.
func (e *Entry) Terminate() error {
	if e.cmd.Process == nil {
		return &molt.OSError{Op: "process_terminate", Errno: molt.ESRCH}
	}
	if err := e.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return &molt.OSError{Op: "process_terminate", Errno: molt.MakeErrno(err)}
	}
	return nil
}
