package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetwatch/backend/internal/config"
	"github.com/fleetwatch/backend/internal/hooks"
	"github.com/fleetwatch/backend/internal/session"
)

// signalKeys maps the symbolic signals §6 exposes over HTTP onto the tmux
// key sequence that produces them.
var signalKeys = map[string]string{
	"SIGINT":  "C-c",
	"SIGQUIT": "C-\\",
	"SIGTSTP": "C-z",
}

// Multiplexer is the subset of the Multiplexer Adapter the HTTP surface
// drives directly, on behalf of a human operator acting on a pane.
type Multiplexer interface {
	SendKeys(ctx context.Context, paneTarget, keys string, pressEnter bool) error
	ClosePane(ctx context.Context, paneTarget string) error
	CloseWindow(ctx context.Context, target string) error
	CreatePane(ctx context.Context, windowTarget string) (string, error)
	CreateWindow(ctx context.Context, sessionName string) (string, error)
	RenameWindow(ctx context.Context, windowTarget, name string) error
}

// Server is the thin HTTP surface over the fleet core: hook ingestion,
// pane/window control, and the WebSocket upgrade (§6).
type Server struct {
	config    *config.Config
	panes     *session.PaneSet
	tmux      Multiplexer
	ingest    *hooks.Ingest
	broadcast *Broadcaster

	frontendDir     string
	dev             bool
	embeddedHandler http.Handler

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string

	startedAt time.Time
}

// NewServer constructs a Server. ingest may be nil if hook delivery is
// disabled; panes/tmux/broadcast must not be.
func NewServer(cfg *config.Config, panes *session.PaneSet, tmux Multiplexer, ingest *hooks.Ingest, broadcast *Broadcaster, frontendDir string, dev bool, embeddedHandler http.Handler, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		config:          cfg,
		panes:           panes,
		tmux:            tmux,
		ingest:          ingest,
		broadcast:       broadcast,
		frontendDir:     frontendDir,
		dev:             dev,
		embeddedHandler: embeddedHandler,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
		authToken:       authToken,
		startedAt:       time.Now(),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.securityHeaders(s.handleWS))
	mux.HandleFunc("/event", s.securityHeaders(s.handleEvent))
	mux.HandleFunc("/health", s.securityHeaders(s.handleHealth))
	mux.HandleFunc("/api/windows", s.securityHeaders(s.handleWindows))
	mux.HandleFunc("/api/panes/", s.securityHeaders(s.handlePaneRoutes))
	mux.HandleFunc("/api/windows/", s.securityHeaders(s.handleWindowRoutes))

	if s.dev {
		log.Printf("Serving frontend from filesystem: %s", s.frontendDir)
		mux.Handle("/", http.FileServer(http.Dir(s.frontendDir)))
	} else if s.embeddedHandler != nil {
		log.Println("Serving embedded frontend")
		mux.Handle("/", s.embeddedHandler)
	}
}

// securityHeaders wraps a handler with the response headers the teacher's
// frontend serving always set, plus the authorization check common to
// every core-relevant route.
func (s *Server) securityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("WebSocket client connected: %s", r.RemoteAddr)
	c, err := s.broadcast.AddClient(conn)
	if err != nil {
		return
	}
	InstallPongHandler(conn, c.recordPong)

	go func() {
		defer func() {
			s.broadcast.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleEvent implements POST /event: deliver a hook report to the Hook
// Ingest's normalize/dedup/dispatch pipeline (§4.6).
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ingest == nil {
		http.Error(w, "hook ingestion disabled", http.StatusServiceUnavailable)
		return
	}

	body := http.MaxBytesReader(w, r.Body, 1<<20)
	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "body too large or unreadable", http.StatusBadRequest)
		return
	}

	s.ingest.Deliver(data)
	w.WriteHeader(http.StatusAccepted)
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).Seconds(),
	})
}

// handleWindows implements GET /api/windows: the last snapshot known to the
// PaneSet, grouped back into windows by pane address prefix.
func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	privacy := s.broadcast.Privacy()
	type windowKey struct {
		session string
		index   string
	}
	byWindow := map[windowKey]*WindowView{}
	var order []windowKey

	for _, pane := range s.panes.AllPanes() {
		if !privacy.IsAllowed(pane.WorkingDir) {
			continue
		}
		sessName, idx := splitPaneAddress(pane.Address)
		key := windowKey{sessName, idx}
		win, ok := byWindow[key]
		if !ok {
			win = &WindowView{SessionName: sessName}
			byWindow[key] = win
			order = append(order, key)
		}
		win.Panes = append(win.Panes, paneView(privacy, *pane))
	}

	windows := make([]WindowView, 0, len(order))
	for _, key := range order {
		windows = append(windows, *byWindow[key])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(WindowsPayload{Windows: windows})
}

func splitPaneAddress(address string) (sessionName, windowIndex string) {
	parts := strings.SplitN(address, ":", 2)
	if len(parts) != 2 {
		return address, ""
	}
	rest := strings.SplitN(parts[1], ".", 2)
	return parts[0], rest[0]
}

// handlePaneRoutes dispatches POST /api/panes/:id/{prompt,signal,refresh,close,dismiss}.
func (s *Server) handlePaneRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/panes/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	paneID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid pane id", http.StatusBadRequest)
		return
	}

	pane, ok := s.panes.Pane(paneID)
	if !ok {
		http.Error(w, "pane not found", http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "prompt":
		s.handlePanePrompt(w, r, pane)
	case "signal":
		s.handlePaneSignal(w, r, pane)
	case "refresh":
		s.handlePaneRefresh(w, r, pane)
	case "close":
		s.handlePaneClose(w, r, pane)
	case "dismiss":
		s.handlePaneDismiss(w, r, pane)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type promptRequest struct {
	Text       string `json:"text"`
	PressEnter bool   `json:"pressEnter"`
}

// handlePanePrompt sends keys to a pane and clears its session's pending
// prompt, per §6's "Send keys via §4.4; clear pending prompt" contract.
func (s *Server) handlePanePrompt(w http.ResponseWriter, r *http.Request, pane *session.Pane) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.tmux.SendKeys(ctx, pane.Address, req.Text, req.PressEnter); err != nil {
		http.Error(w, fmt.Sprintf("send-keys failed: %v", err), http.StatusInternalServerError)
		return
	}

	s.clearPrompt(pane.ID)
	w.WriteHeader(http.StatusNoContent)
}

type signalRequest struct {
	Signal string `json:"signal"`
}

func (s *Server) handlePaneSignal(w http.ResponseWriter, r *http.Request, pane *session.Pane) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	keys, ok := signalKeys[req.Signal]
	if !ok {
		http.Error(w, "unknown signal", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.tmux.SendKeys(ctx, pane.Address, keys, false); err != nil {
		http.Error(w, fmt.Sprintf("signal failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePaneRefresh(w http.ResponseWriter, r *http.Request, pane *session.Pane) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.tmux.SendKeys(ctx, pane.Address, "C-l", false); err != nil {
		http.Error(w, fmt.Sprintf("refresh failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePaneClose(w http.ResponseWriter, r *http.Request, pane *session.Pane) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.tmux.ClosePane(ctx, pane.Address); err != nil {
		http.Error(w, fmt.Sprintf("close failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePaneDismiss clears a pending prompt with no multiplexer side
// effect, for a human who dismisses a prompt notification without acting
// on it in the terminal.
func (s *Server) handlePaneDismiss(w http.ResponseWriter, r *http.Request, pane *session.Pane) {
	s.clearPrompt(pane.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearPrompt(paneID string) {
	sess, ok := s.panes.SessionForPane(paneID)
	if !ok || sess.Prompt == nil {
		return
	}
	sess.Prompt = nil
	s.panes.UpdateSession(sess)
	pane, _ := s.panes.Pane(paneID)
	if pane != nil {
		s.broadcast.PublishPaneUpdate(pane, sess, false)
	}
}

// handleWindowRoutes dispatches POST /api/windows/:id/{new-pane,new-claude,rename,close}.
func (s *Server) handleWindowRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/windows/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	windowTarget, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid window id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	switch parts[1] {
	case "new-pane":
		target, err := s.tmux.CreatePane(ctx, windowTarget)
		if err != nil {
			http.Error(w, fmt.Sprintf("split failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"target": target})
	case "new-claude":
		target, err := s.tmux.CreatePane(ctx, windowTarget)
		if err != nil {
			http.Error(w, fmt.Sprintf("split failed: %v", err), http.StatusInternalServerError)
			return
		}
		if err := s.tmux.SendKeys(ctx, target, "claude", true); err != nil {
			http.Error(w, fmt.Sprintf("launch failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"target": target})
	case "rename":
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.tmux.RenameWindow(ctx, windowTarget, req.Name); err != nil {
			http.Error(w, fmt.Sprintf("rename failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "close":
		if err := s.tmux.CloseWindow(ctx, windowTarget); err != nil {
			http.Error(w, fmt.Sprintf("close failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Fleetwatch-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return len(s.allowedOrigins) == 0
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
