package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"jeditr/internal/protocol"
	"jeditr/internal/session"
	"jeditr/internal/watcher"
	"jeditr/internal/workspace"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultTreeDepth = 3
	gitListTimeout   = 10 * time.Second
)

// Options configures the HTTP surface of a Server.
type Options struct {
	StaticDir string
	TreeDepth int
	// AllowedOrigins lists browser origins accepted besides same-host and
	// loopback pages.
	AllowedOrigins []string
	// Gatherer backs GET /metrics. The route is not mounted when nil.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server routes websocket and REST commands to the session manager and the
// workspace, and streams results back through the hub.
type Server struct {
	hub      *Hub
	sessions *session.Manager
	ws       *workspace.Workspace
	opts     Options
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a new realtime server.
func New(hub *Hub, sessions *session.Manager, ws *workspace.Workspace, opts Options) *Server {
	if opts.TreeDepth <= 0 {
		opts.TreeDepth = defaultTreeDepth
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		hub:      hub,
		sessions: sessions,
		ws:       ws,
		opts:     opts,
		log:      log.Named("realtime"),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, s.opts.AllowedOrigins)
		},
	}
	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /shells", s.handleListShells)
	mux.HandleFunc("POST /shells/{id}", s.handleStartShell)
	mux.HandleFunc("POST /shells/{id}/input", s.handleSendInput)
	mux.HandleFunc("DELETE /shells/{id}", s.handleCloseShell)

	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("GET /files/git", s.handleListGitFiles)
	mux.HandleFunc("GET /file", s.handleReadFile)
	mux.HandleFunc("PUT /file", s.handleSaveFile)
	mux.HandleFunc("GET /tree", s.handleTree)

	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if s.opts.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.StaticDir)))
	}

	return s.corsMiddleware(mux)
}

// corsMiddleware rejects requests from foreign browser origins and echoes
// accepted origins back for CORS.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !originAllowed(r, s.opts.AllowedOrigins) {
			s.log.Warn("rejected cross-origin request",
				zap.String("origin", r.Header.Get("Origin")),
				zap.String("path", r.URL.Path))
			http.Error(w, `{"error":"origin not allowed"}`, http.StatusForbidden)
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := s.hub.newClient(conn, s.handleMessage)
	s.hub.register(c, s.shellListMessage())

	go c.writePump()
	go c.readPump()
}

// handleMessage processes a raw client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}
	s.hub.metrics.MessageReceived(msg.Type)

	switch msg.Type {
	case protocol.TypeStartShell:
		s.handleWSStartShell(c, msg)
	case protocol.TypeSendInput:
		s.handleWSSendInput(msg)
	case protocol.TypeCloseShell:
		s.handleWSCloseShell(msg)
	case protocol.TypeListFiles:
		s.handleWSListFiles(c)
	case protocol.TypeListGitFiles:
		s.handleWSListGitFiles(c)
	case protocol.TypeReadFile:
		s.handleWSReadFile(c, msg)
	case protocol.TypeSaveFile:
		s.handleWSSaveFile(c, msg)
	case protocol.TypeRequestTree:
		s.reply(c, protocol.TypeFilesTree, s.tree())
	}
}

func (s *Server) handleWSStartShell(c *client, msg *protocol.Message) {
	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	if err := s.sessions.Start(payload.SessionID); err != nil {
		s.sendError(c, startErrorCode(err), err.Error())
		return
	}
	s.broadcastShellList()
}

func (s *Server) handleWSSendInput(msg *protocol.Message) {
	var payload protocol.SendInputPayload
	json.Unmarshal(msg.Payload, &payload)

	s.sendInput(payload.SessionID, payload.Input)
}

func (s *Server) handleWSCloseShell(msg *protocol.Message) {
	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	s.closeShell(payload.SessionID)
}

func (s *Server) handleWSListFiles(c *client) {
	files, err := s.ws.ListFiles()
	if err != nil {
		s.sendError(c, protocol.ErrFile, err.Error())
		return
	}
	s.reply(c, protocol.TypeFilesList, protocol.FilesListPayload{Files: files})
}

func (s *Server) handleWSListGitFiles(c *client) {
	ctx, cancel := context.WithTimeout(context.Background(), gitListTimeout)
	defer cancel()

	files, err := s.ws.ListGitFiles(ctx)
	if err != nil {
		s.sendError(c, protocol.ErrFile, err.Error())
		return
	}
	s.reply(c, protocol.TypeFilesList, protocol.FilesListPayload{Files: files})
}

func (s *Server) handleWSReadFile(c *client, msg *protocol.Message) {
	var payload protocol.ReadFilePayload
	json.Unmarshal(msg.Payload, &payload)

	content, err := s.ws.ReadFile(payload.Path)
	if err != nil {
		s.sendError(c, protocol.ErrFile, err.Error())
		return
	}
	s.reply(c, protocol.TypeFileContent, protocol.FileContentPayload{
		Path:    payload.Path,
		Content: content,
	})
}

func (s *Server) handleWSSaveFile(c *client, msg *protocol.Message) {
	var payload protocol.SaveFilePayload
	json.Unmarshal(msg.Payload, &payload)

	if err := s.ws.SaveFile(payload.Path, payload.Content); err != nil {
		s.sendError(c, protocol.ErrFile, err.Error())
		return
	}
	s.reply(c, protocol.TypeFileSaved, protocol.FileSavedPayload{Path: payload.Path})
}

// sendInput forwards input and logs write failures. Nothing is reported
// back to the client.
func (s *Server) sendInput(id, input string) {
	if err := s.sessions.Send(id, input); err != nil {
		s.log.Warn("shell input dropped", zap.String("session_id", id), zap.Error(err))
	}
}

func (s *Server) closeShell(id string) {
	s.sessions.Close(id)
	s.broadcastShellList()
}

func (s *Server) tree() protocol.FilesTreePayload {
	return protocol.FilesTreePayload{
		Root: s.ws.Root(),
		Tree: watcher.BuildFileTree(s.ws.Root(), s.opts.TreeDepth),
	}
}

func (s *Server) shellList() protocol.ShellListPayload {
	infos := s.sessions.List()
	shells := make([]protocol.ShellInfo, 0, len(infos))
	for _, info := range infos {
		shells = append(shells, protocol.ShellInfo{
			ID:        info.ID,
			Shell:     info.Shell,
			Args:      info.Args,
			PID:       info.PID,
			StartedAt: info.StartedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return protocol.ShellListPayload{Shells: shells}
}

func (s *Server) shellListMessage() *protocol.Message {
	msg, err := protocol.NewMessage(protocol.TypeShellList, s.shellList())
	if err != nil {
		return nil
	}
	return msg
}

func (s *Server) broadcastShellList() {
	if msg := s.shellListMessage(); msg != nil {
		s.hub.Broadcast(msg)
	}
}

func (s *Server) reply(c *client, msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		s.log.Error("encode reply", zap.String("type", msgType), zap.Error(err))
		return
	}
	s.hub.send(c, msg)
}

func (s *Server) sendError(c *client, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	s.hub.send(c, msg)
}

func startErrorCode(err error) string {
	if errors.Is(err, session.ErrMaxSessions) {
		return protocol.ErrMaxSessions
	}
	return protocol.ErrSpawnFailed
}
