package session

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const eventTimeout = 10 * time.Second

// recorder is an Emitter that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) forSession(id string) []Event {
	var result []Event
	for _, e := range r.all() {
		if e.SessionID == id {
			result = append(result, e)
		}
	}
	return result
}

func (r *recorder) outputs(id string) []string {
	var lines []string
	for _, e := range r.forSession(id) {
		if e.Kind == KindOutput {
			lines = append(lines, e.Output)
		}
	}
	return lines
}

func (r *recorder) count(id string, kind Kind) int {
	n := 0
	for _, e := range r.forSession(id) {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// waitExit blocks until id has emitted shell-exit and returns that event.
func (r *recorder) waitExit(t *testing.T, id string) Event {
	t.Helper()
	var exit Event
	require.Eventually(t, func() bool {
		for _, e := range r.forSession(id) {
			if e.Kind == KindExit {
				exit = e
				return true
			}
		}
		return false
	}, eventTimeout, 10*time.Millisecond, "no shell-exit for %s", id)
	return exit
}

func (r *recorder) waitOutput(t *testing.T, id, line string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, out := range r.outputs(id) {
			if out == line {
				return true
			}
		}
		return false
	}, eventTimeout, 10*time.Millisecond, "no output %q for %s", line, id)
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func intPtr(v int) *int { return &v }

// fakeStdin records everything written to it.
type fakeStdin struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	closed bool
}

func (f *fakeStdin) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.buf.Write(p)
}

func (f *fakeStdin) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStdin) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

// fakeChild exits when killed or when the test calls exit.
type fakeChild struct {
	pid    int
	status *int
	stdout *io.PipeWriter
	done   chan struct{}
	once   sync.Once
	kills  atomic.Int32
}

func (c *fakeChild) Pid() int { return c.pid }

func (c *fakeChild) Wait() (*int, error) {
	<-c.done
	return c.status, nil
}

func (c *fakeChild) Kill() error {
	c.kills.Add(1)
	c.exit()
	return nil
}

func (c *fakeChild) exit() {
	c.once.Do(func() {
		c.stdout.Close()
		close(c.done)
	})
}

type fakeProc struct {
	child  *fakeChild
	stdout *io.PipeWriter
	stdin  *fakeStdin
}

// fakeSpawner hands out in-memory processes.
type fakeSpawner struct {
	mu       sync.Mutex
	procs    []*fakeProc
	err      error
	stdinErr error
	status   *int
}

func (s *fakeSpawner) Spawn(shell Shell) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	pr, pw := io.Pipe()
	child := &fakeChild{
		pid:    1000 + len(s.procs),
		status: s.status,
		stdout: pw,
		done:   make(chan struct{}),
	}
	stdin := &fakeStdin{err: s.stdinErr}
	s.procs = append(s.procs, &fakeProc{child: child, stdout: pw, stdin: stdin})

	return &Process{
		Stdin:  stdin,
		Stdout: pr,
		Stderr: io.NopCloser(strings.NewReader("")),
		Child:  child,
	}, nil
}

func (s *fakeSpawner) spawned() []*fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeProc(nil), s.procs...)
}

func (s *fakeSpawner) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

var errBoom = errors.New("boom")
