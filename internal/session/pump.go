package session

import (
	"bufio"
	"bytes"
	"io"
	"time"

	"go.uber.org/zap"
)

const scannerInitialBufSize = 64 * 1024

// pump drains the session's stdout into shell-output events, then reaps the
// child and emits the single shell-exit event. It is the only goroutine that
// emits events for sess, and the only caller of Wait.
func (m *Manager) pump(sess *Session, stdout, stderr io.Reader) {
	defer m.pumps.Done()
	defer close(sess.done)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		m.drainStderr(sess, stderr)
	}()

	m.scanOutput(sess, stdout)

	// Wait closes the pipes, so every read has to finish first.
	<-stderrDone
	status, err := sess.child.Wait()
	sess.markExited()
	if err != nil {
		m.log.Debug("wait for shell", zap.String("session_id", sess.id), zap.Error(err))
	}

	// Prune before announcing the exit so a consumer may restart the id
	// as soon as it sees shell-exit.
	if m.registry.RemoveIf(sess.id, sess) {
		m.releaseSlot()
		m.metrics.SessionRemoved()
	}

	m.log.Info("shell exited", zap.String("session_id", sess.id), zap.Any("exit_status", status))
	m.emit(Event{
		Kind:       KindExit,
		SessionID:  sess.id,
		ExitStatus: status,
		Time:       time.Now().UTC(),
	})
}

// scanOutput emits one shell-output event per stdout line. A read failure
// is emitted once as shell-error and ends the scan.
func (m *Manager) scanOutput(sess *Session, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	m.sizeBuffer(scanner)
	scanner.Split(splitLines(m.opts.DropPartialLine))

	for scanner.Scan() {
		m.emit(Event{
			Kind:      KindOutput,
			SessionID: sess.id,
			Output:    scanner.Text(),
			Time:      time.Now().UTC(),
		})
	}

	if err := scanner.Err(); err != nil {
		m.log.Warn("shell stdout read failed", zap.String("session_id", sess.id), zap.Error(err))
		m.emit(Event{
			Kind:      KindError,
			SessionID: sess.id,
			Error:     err.Error(),
			Time:      time.Now().UTC(),
		})
	}
}

// drainStderr keeps the child's stderr pipe from filling up. Its content
// goes to the debug log only.
func (m *Manager) drainStderr(sess *Session, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	m.sizeBuffer(scanner)

	for scanner.Scan() {
		m.log.Debug("shell stderr", zap.String("session_id", sess.id), zap.String("line", scanner.Text()))
	}

	if err := scanner.Err(); err != nil {
		m.log.Debug("shell stderr read failed", zap.String("session_id", sess.id), zap.Error(err))
		io.Copy(io.Discard, stderr)
	}
}

// sizeBuffer bounds scanner tokens to MaxLineBytes. The initial buffer must
// not exceed that bound or it would raise the limit.
func (m *Manager) sizeBuffer(scanner *bufio.Scanner) {
	initial := min(scannerInitialBufSize, m.opts.MaxLineBytes)
	scanner.Buffer(make([]byte, 0, initial), m.opts.MaxLineBytes)
}

// splitLines is bufio.ScanLines, optionally dropping a final record that
// has no line terminator.
func splitLines(dropPartial bool) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if dropPartial && atEOF && bytes.IndexByte(data, '\n') < 0 {
			return len(data), nil, nil
		}
		return bufio.ScanLines(data, atEOF)
	}
}
