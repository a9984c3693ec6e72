package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"jeditr/internal/monitoring"

	"go.uber.org/zap"
)

const defaultMaxLineBytes = 1024 * 1024 // 1 MB

// Options configures a Manager. The zero value spawns the platform shell
// with os/exec and imposes no session limit.
type Options struct {
	// Resolver picks the shell for each new session. Defaults to DefaultResolver.
	Resolver func() Shell
	// Spawner creates shell processes. Defaults to ExecSpawner{}.
	Spawner Spawner
	// MaxSessions caps the number of live sessions; 0 means unlimited.
	MaxSessions int
	// MaxLineBytes bounds a single output record.
	MaxLineBytes int
	// DropPartialLine discards output after the last newline when the
	// stream ends instead of emitting it as a final record.
	DropPartialLine bool

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Manager starts, feeds and closes shell sessions.
type Manager struct {
	registry *Registry
	emitter  Emitter
	opts     Options
	log      *zap.Logger
	metrics  *monitoring.Metrics

	mu       sync.Mutex
	shutdown bool
	pumps    sync.WaitGroup

	// slots counts registered sessions plus starts still spawning, so the
	// session limit holds across concurrent Start calls.
	slots atomic.Int64
}

// NewManager creates a session manager that stores sessions in registry and
// delivers their events to emitter.
func NewManager(registry *Registry, emitter Emitter, opts Options) *Manager {
	if opts.Resolver == nil {
		opts.Resolver = DefaultResolver
	}
	if opts.Spawner == nil {
		opts.Spawner = ExecSpawner{}
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = defaultMaxLineBytes
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		registry: registry,
		emitter:  emitter,
		opts:     opts,
		log:      log.Named("session"),
		metrics:  opts.Metrics,
	}
}

// Start spawns a shell for id and starts pumping its output. Starting an id
// that is already live does nothing. Spawn failures are returned as
// *SpawnError and leave every other session untouched.
func (m *Manager) Start(id string) error {
	if _, ok := m.registry.Lookup(id); ok {
		m.log.Debug("shell already exists, skipping spawn", zap.String("session_id", id))
		return nil
	}

	if !m.reserveSlot() {
		return fmt.Errorf("%w (%d)", ErrMaxSessions, m.opts.MaxSessions)
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.releaseSlot()
		return ErrShutdown
	}
	m.pumps.Add(1)
	m.mu.Unlock()

	launched := false
	defer func() {
		if !launched {
			m.releaseSlot()
			m.pumps.Done()
		}
	}()

	shell := m.opts.Resolver()
	m.log.Info("spawning shell",
		zap.String("session_id", id),
		zap.String("shell", shell.Path),
		zap.Strings("args", shell.Args))

	proc, err := m.opts.Spawner.Spawn(shell)
	if err != nil {
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			err = &SpawnError{Shell: shell, Err: err}
		}
		m.metrics.SpawnFailed()
		m.log.Warn("shell spawn failed", zap.String("session_id", id), zap.Error(err))
		return err
	}

	sess := newSession(id, shell, proc)
	if !m.registry.RegisterIfAbsent(id, sess) {
		// A concurrent Start for the same id won.
		m.log.Debug("lost start race, discarding shell", zap.String("session_id", id))
		m.discard(sess, proc)
		return nil
	}
	m.metrics.SessionRegistered()

	launched = true
	go m.pump(sess, proc.Stdout, proc.Stderr)

	if m.isShutdown() {
		m.Close(id)
	}
	return nil
}

// Send writes input verbatim to the shell's stdin; no newline is added.
// Unknown ids are ignored. A failed write is returned wrapped in
// ErrWriteFailed.
func (m *Manager) Send(id, input string) error {
	sess, ok := m.registry.Lookup(id)
	if !ok {
		return nil
	}

	if err := sess.stdin.Write([]byte(input)); err != nil {
		m.metrics.WriteFailed()
		return fmt.Errorf("%w: session %s: %v", ErrWriteFailed, id, err)
	}
	m.metrics.InputWritten(len(input))
	return nil
}

// Close removes id and kills its shell. The pump then emits the final
// shell-exit event. Unknown ids are ignored.
func (m *Manager) Close(id string) {
	sess, ok := m.registry.Remove(id)
	if !ok {
		return
	}
	m.releaseSlot()
	m.metrics.SessionRemoved()

	if err := sess.terminate(); err != nil {
		m.log.Debug("terminate shell", zap.String("session_id", id), zap.Error(err))
	}
	m.log.Info("shell closed", zap.String("session_id", id))
}

// Get returns a snapshot of the session registered under id.
func (m *Manager) Get(id string) (Info, bool) {
	sess, ok := m.registry.Lookup(id)
	if !ok {
		return Info{}, false
	}
	return sess.info(), true
}

// List returns all live sessions ordered by id.
func (m *Manager) List() []Info {
	result := make([]Info, 0, m.registry.Len())
	m.registry.Range(func(_ string, sess *Session) bool {
		result = append(result, sess.info())
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Shutdown closes every session and waits until all pumps have emitted their
// exit events or ctx is done. Start fails with ErrShutdown afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	var ids []string
	m.registry.Range(func(id string, _ *Session) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		m.Close(id)
	}

	done := make(chan struct{})
	go func() {
		m.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserveSlot claims room for one more session under MaxSessions.
func (m *Manager) reserveSlot() bool {
	limit := int64(m.opts.MaxSessions)
	for {
		n := m.slots.Load()
		if limit > 0 && n >= limit {
			return false
		}
		if m.slots.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// releaseSlot returns a slot claimed by reserveSlot. Every registered
// session releases its slot exactly once, on removal from the registry.
func (m *Manager) releaseSlot() {
	m.slots.Add(-1)
}

func (m *Manager) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// discard kills a shell that never got registered and reaps it in the
// background.
func (m *Manager) discard(sess *Session, proc *Process) {
	if err := sess.terminate(); err != nil {
		m.log.Debug("kill discarded shell", zap.String("session_id", sess.id), zap.Error(err))
	}
	go func() {
		io.Copy(io.Discard, proc.Stdout)
		io.Copy(io.Discard, proc.Stderr)
		proc.Child.Wait()
	}()
}

func (m *Manager) emit(e Event) {
	m.metrics.EventEmitted(string(e.Kind))
	m.emitter.Emit(e)
}
