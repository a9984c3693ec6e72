package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawnFailed matches every *SpawnError.
	ErrSpawnFailed = errors.New("shell spawn failed")
	ErrMaxSessions = errors.New("maximum session limit reached")
	ErrWriteFailed = errors.New("shell input write failed")
	ErrShutdown    = errors.New("session manager is shut down")
)

// SpawnError reports that the operating system could not create a shell.
type SpawnError struct {
	Shell Shell
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Shell.Path, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailed, e.Err}
}
