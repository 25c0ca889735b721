package server

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"

	"github.com/lox/presidente/internal/game"
	"github.com/lox/presidente/internal/playerid"
	"github.com/lox/presidente/internal/randutil"
	"github.com/lox/presidente/internal/store"
)

var roomNameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

const maxNameLength = 20

// Server owns the HTTP surface and the live sessions. Rooms spin up a
// session on first contact and retire it when the last player leaves.
type Server struct {
	config   *Config
	logger   *log.Logger
	clock    quartz.Clock
	store    *store.Store
	ids      *playerid.Generator
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewServer creates a server backed by the given store and clock
func NewServer(config *Config, st *store.Store, clock quartz.Clock, logger *log.Logger) *Server {
	return &Server{
		config: config,
		logger: logger.WithPrefix("server"),
		clock:  clock,
		store:  st,
		ids:    playerid.NewGenerator(nil),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Rooms are joined by shared link; no origin allowlist.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sessions: make(map[string]*Session),
	}
}

// Handler returns the HTTP mux for the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/join", s.handleJoin)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start runs the HTTP server until ctx is canceled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.ListenAddress(),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "addr", srv.Addr, "data_dir", s.store.Dir())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// session returns the live session for a room, creating one when create is
// set. The per-session engine is seeded from the configured seed mixed with
// the room name, so distinct rooms deal distinct games even with a fixed
// seed.
func (s *Server) session(name string, create bool) *Session {
	s.mu.RLock()
	sess := s.sessions[name]
	s.mu.RUnlock()
	if sess != nil || !create {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess = s.sessions[name]; sess != nil {
		return sess
	}

	seed := s.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	engine := game.NewEngine(randutil.New(seed ^ int64(h.Sum64())))

	sess = NewSession(name, s.store, engine, s.ids, s.clock, s.logger, s.dropSession)
	s.sessions[name] = sess
	s.logger.Info("Session started", "room", name)
	return sess
}

// dropSession retires an empty room's session
func (s *Server) dropSession(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, name)
	s.logger.Info("Session retired", "room", name)
}

// validateRoomName normalizes and checks a raw room parameter, returning
// the user-facing rejection message when invalid.
func validateRoomName(raw string) (string, string) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", "Missing room"
	}
	if !roomNameRe.MatchString(name) {
		return "", "Room name may only contain letters, numbers, hyphens, and underscores"
	}
	if len(name) > maxNameLength {
		return "", "Room name must be 20 characters or less"
	}
	return name, ""
}

// handleJoin resolves a player name to an id for a room, creating the
// player when the name is new. Joining is idempotent per (room, name).
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	roomName, errMsg := validateRoomName(r.URL.Query().Get("room"))
	if errMsg != "" {
		writeJSONError(w, errMsg)
		return
	}
	playerName := strings.TrimSpace(r.URL.Query().Get("name"))
	if playerName == "" {
		playerName = "Player"
	} else if len(playerName) > maxNameLength {
		writeJSONError(w, "Name must be 20 characters or less")
		return
	}

	sess := s.session(roomName, true)
	id := sess.Join(playerName)

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// handleWebSocket upgrades the socket first, then validates, so rejections
// arrive as in-band error frames the client can render.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	reject := func(msg string) {
		data, _ := json.Marshal(newErrorMessage(msg))
		_ = ws.WriteMessage(websocket.TextMessage, data)
		_ = ws.Close()
	}

	roomName, errMsg := validateRoomName(r.URL.Query().Get("room"))
	if errMsg != "" {
		reject(errMsg)
		return
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("id"))
	if clientID == "" {
		reject("Missing id")
		return
	}

	// A room must exist, live or persisted, before a socket may enter it.
	sess := s.session(roomName, false)
	if sess == nil {
		if !s.store.Exists(roomName) {
			reject("Room not found")
			return
		}
		sess = s.session(roomName, true)
	}

	conn := NewConnection(ws, clientID, s.logger)
	conn.Start()
	if err := sess.Attach(conn); err != nil {
		_ = conn.Send(newErrorMessage(err.Error()))
		_ = conn.Close()
		return
	}

	go s.readLoop(sess, conn)
}

// readLoop pumps inbound frames into the session until the socket drops
func (s *Server) readLoop(sess *Session, conn *Connection) {
	defer func() {
		sess.Detach(conn)
		_ = conn.Close()
	}()

	conn.prepareRead()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.HandleInbound(conn, data)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSONError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
