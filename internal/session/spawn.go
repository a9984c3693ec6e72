package session

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Child is the handle of a spawned shell process.
type Child interface {
	Pid() int
	// Wait blocks until the process exits. The status is nil when no exit
	// code is available, e.g. the process was killed by a signal.
	Wait() (*int, error)
	Kill() error
}

// Process is a freshly spawned shell with its three stdio pipes.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
	Child  Child
}

// Spawner creates shell processes.
type Spawner interface {
	Spawn(shell Shell) (*Process, error)
}

// ExecSpawner spawns shells with os/exec, optionally in Dir and with extra
// environment variables appended to the inherited environment.
type ExecSpawner struct {
	Dir string
	Env []string
}

// Spawn starts shell with piped stdin, stdout and stderr. Any failure is
// returned as a *SpawnError.
func (sp ExecSpawner) Spawn(shell Shell) (*Process, error) {
	cmd := exec.Command(shell.Path, shell.Args...)
	cmd.Dir = sp.Dir
	if len(sp.Env) > 0 {
		cmd.Env = append(os.Environ(), sp.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Shell: shell, Err: fmt.Errorf("create stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Shell: shell, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &SpawnError{Shell: shell, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Shell: shell, Err: err}
	}

	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		Child:  execChild{cmd: cmd},
	}, nil
}

type execChild struct {
	cmd *exec.Cmd
}

func (c execChild) Pid() int { return c.cmd.Process.Pid }

func (c execChild) Kill() error { return c.cmd.Process.Kill() }

func (c execChild) Wait() (*int, error) {
	err := c.cmd.Wait()
	state := c.cmd.ProcessState
	if state == nil {
		return nil, err
	}
	code := state.ExitCode()
	if code < 0 {
		return nil, nil
	}
	return &code, nil
}
