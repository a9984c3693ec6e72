package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"

	"jeditr/internal/protocol"
	"jeditr/internal/session"
	"jeditr/internal/workspace"
)

const maxSaveBytes = 10 << 20

type sendInputRequest struct {
	Input string `json:"input"`
}

func (s *Server) handleListShells(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shellList())
}

func (s *Server) handleStartShell(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.sessions.Start(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrMaxSessions) {
			status = http.StatusTooManyRequests
		}
		writeError(w, status, startErrorCode(err), err.Error())
		return
	}
	s.broadcastShellList()

	info, ok := s.sessions.Get(id)
	if !ok {
		// The shell already exited on its own.
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req sendInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}

	s.sendInput(id, req.Input)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCloseShell(w http.ResponseWriter, r *http.Request) {
	s.closeShell(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.ws.ListFiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrFile, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.FilesListPayload{Files: files})
}

func (s *Server) handleListGitFiles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), gitListTimeout)
	defer cancel()

	files, err := s.ws.ListGitFiles(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrFile, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.FilesListPayload{Files: files})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "path is required")
		return
	}

	content, err := s.ws.ReadFile(path)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, fs.ErrNotExist):
			status = http.StatusNotFound
		case errors.Is(err, workspace.ErrBinaryFile):
			status = http.StatusUnsupportedMediaType
		}
		writeError(w, status, protocol.ErrFile, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.FileContentPayload{Path: path, Content: content})
}

func (s *Server) handleSaveFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "path is required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSaveBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, protocol.ErrInvalidMessage, err.Error())
		return
	}

	if err := s.ws.SaveFile(path, string(body)); err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrFile, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.FileSavedPayload{Path: path})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tree())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorPayload{Code: code, Message: message})
}
