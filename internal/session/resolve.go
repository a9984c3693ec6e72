package session

import (
	"os"
	"runtime"
	"strings"
)

const (
	defaultPosixShell   = "/bin/bash"
	defaultWindowsShell = "powershell.exe"
)

// Shell is an executable plus its startup arguments.
type Shell struct {
	Path string   `json:"path"`
	Args []string `json:"args,omitempty"`
}

// Resolve picks the user's interactive shell for the platform goos, reading
// the environment through getenv. It never fails.
func Resolve(goos string, getenv func(string) string) Shell {
	shell := getenv("SHELL")
	if goos != "windows" {
		if shell == "" {
			shell = defaultPosixShell
		}
		return Shell{Path: shell}
	}

	// A user-set SHELL is trusted verbatim; its arguments are not guessed.
	if shell != "" {
		return Shell{Path: shell}
	}

	comspec := getenv("ComSpec")
	if comspec == "" {
		return Shell{Path: defaultWindowsShell, Args: []string{"-NoExit"}}
	}

	lower := strings.ToLower(comspec)
	switch {
	case strings.Contains(lower, "cmd"):
		return Shell{Path: comspec, Args: []string{"/K"}}
	case strings.Contains(lower, "powershell"), strings.Contains(lower, "pwsh"):
		return Shell{Path: comspec, Args: []string{"-NoExit"}}
	default:
		return Shell{Path: comspec}
	}
}

// DefaultResolver resolves the shell of the running platform.
func DefaultResolver() Shell {
	return Resolve(runtime.GOOS, os.Getenv)
}

// FixedResolver returns a resolver that always yields shell.
func FixedResolver(shell Shell) func() Shell {
	return func() Shell { return shell }
}
