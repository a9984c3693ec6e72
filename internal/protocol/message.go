package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeShellOutput = "shell-output"
	TypeShellError  = "shell-error"
	TypeShellExit   = "shell-exit"
	TypeShellList   = "shell.list"
	TypeFilesList   = "files.list"
	TypeFilesTree   = "files.tree"
	TypeFilesUpdate = "files.update"
	TypeFileContent = "file.content"
	TypeFileSaved   = "file.saved"
	TypeError       = "error"
)

// Client → Server message types.
const (
	TypeStartShell   = "start_shell"
	TypeSendInput    = "send_input"
	TypeCloseShell   = "close_shell"
	TypeListFiles    = "list_files"
	TypeListGitFiles = "list_git_files"
	TypeReadFile     = "read_file"
	TypeSaveFile     = "save_file"
	TypeRequestTree  = "request_tree"
)

// Error codes.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrSpawnFailed    = "SPAWN_FAILED"
	ErrMaxSessions    = "MAX_SESSIONS"
	ErrFile           = "FILE_ERROR"
)

// Server → Client payloads.

type ShellOutputPayload struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
}

type ShellErrorPayload struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

type ShellExitPayload struct {
	SessionID  string `json:"session_id"`
	ExitStatus *int   `json:"exit_status"`
}

type ShellListPayload struct {
	Shells []ShellInfo `json:"shells"`
}

type ShellInfo struct {
	ID        string   `json:"id"`
	Shell     string   `json:"shell"`
	Args      []string `json:"args,omitempty"`
	PID       int      `json:"pid"`
	StartedAt string   `json:"startedAt"`
}

type FilesListPayload struct {
	Files []FileMetadata `json:"files"`
}

type FilesTreePayload struct {
	Root string     `json:"root"`
	Tree []FileNode `json:"tree"`
}

type FilesUpdatePayload struct {
	FileCount int `json:"fileCount"`
}

type FileContentPayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type FileSavedPayload struct {
	Path string `json:"path"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}

type SendInputPayload struct {
	SessionID string `json:"sessionId"`
	Input     string `json:"input"`
}

type ReadFilePayload struct {
	Path string `json:"path"`
}

type SaveFilePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileMetadata describes one project file in a flat listing.
type FileMetadata struct {
	Path     string  `json:"path"`
	Name     string  `json:"name"`
	Language *string `json:"language"`
}

// FileNode represents a file or directory in the tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	IsDir    bool       `json:"isDir"`
	Children []FileNode `json:"children,omitempty"`
	Size     int64      `json:"size,omitempty"`
}
