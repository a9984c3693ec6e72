package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Kind distinguishes the events a session emits.
type Kind string

const (
	KindOutput Kind = "shell-output"
	KindError  Kind = "shell-error"
	KindExit   Kind = "shell-exit"
)

// Event is a single notification produced by a session's output pump.
type Event struct {
	Kind      Kind
	SessionID string
	Output    string
	Error     string
	// ExitStatus is nil when the exit code could not be determined,
	// e.g. the shell was killed by a signal.
	ExitStatus *int
	Time       time.Time
}

// Emitter receives session events. Emit is always called from the pump
// goroutine of the session the event belongs to, so events of one session
// arrive in order. Implementations must not block for long.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts an ordinary function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) { f(e) }

// Info is a read-only snapshot of a live session.
type Info struct {
	ID        string    `json:"id"`
	Shell     string    `json:"shell"`
	Args      []string  `json:"args"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Session is one live shell process. It is shared between the Manager,
// which writes input and requests termination, and its own output pump,
// which waits for the process to exit.
type Session struct {
	id        string
	shell     Shell
	startedAt time.Time
	child     Child
	stdin     *stdinWriter

	// mu serializes kill requests against the pump marking the child reaped.
	mu     sync.Mutex
	exited bool

	done chan struct{} // closed after the pump emitted shell-exit
}

func newSession(id string, shell Shell, proc *Process) *Session {
	return &Session{
		id:        id,
		shell:     shell,
		startedAt: time.Now().UTC(),
		child:     proc.Child,
		stdin:     &stdinWriter{writer: proc.Stdin},
		done:      make(chan struct{}),
	}
}

// ID returns the caller-supplied session identifier.
func (s *Session) ID() string { return s.id }

// Done is closed once the session's pump has emitted its exit event.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) info() Info {
	return Info{
		ID:        s.id,
		Shell:     s.shell.Path,
		Args:      append([]string(nil), s.shell.Args...),
		PID:       s.child.Pid(),
		StartedAt: s.startedAt,
	}
}

// terminate kills the child unless the pump already reaped it, then closes
// stdin. Killing a process that exited on its own is not an error.
func (s *Session) terminate() error {
	s.mu.Lock()
	var err error
	if !s.exited {
		err = s.child.Kill()
		if errors.Is(err, os.ErrProcessDone) {
			err = nil
		}
	}
	s.mu.Unlock()

	s.stdin.Close()
	return err
}

func (s *Session) markExited() {
	s.mu.Lock()
	s.exited = true
	s.mu.Unlock()

	s.stdin.Close()
}

// stdinWriter wraps a pipe writer with mutex protection.
type stdinWriter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	closed bool
}

// Write forwards data verbatim. Pipe writes are unbuffered, so a returned
// Write has already reached the child.
func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("stdin pipe closed")
	}
	_, err := sw.writer.Write(data)
	return err
}

func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.writer.Close()
		sw.closed = true
	}
}
