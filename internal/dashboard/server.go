package dashboard

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mcpsentinel/sentinel/internal/stats"
)

//go:embed static
var staticFS embed.FS

// DefaultBind is the loopback default for the dashboard server.
const DefaultBind = "127.0.0.1:3000"

// Config configures the HTTP/WebSocket server.
type Config struct {
	Bind         string
	Token        string // empty disables authentication (warned at startup)
	QueueDepth   int
	WriteTimeout time.Duration
	Logger       *zap.Logger
	Counters     *stats.Counters
}

// Server owns the HTTP listener, the upgrade endpoint and the hub.
type Server struct {
	cfg      Config
	hub      *Hub
	srv      *http.Server
	upgrader websocket.Upgrader
}

// NewServer builds the server and its hub. The hub doubles as the
// event sink for the fan-out.
func NewServer(cfg Config) *Server {
	if cfg.Bind == "" {
		cfg.Bind = DefaultBind
	}
	s := &Server{
		cfg: cfg,
		hub: NewHub(cfg.QueueDepth, cfg.WriteTimeout, cfg.Counters, cfg.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	r := chi.NewRouter()
	r.Get("/", s.handleIndex)
	r.Get("/ws", s.handleWS)
	r.Get("/stats", s.handleStats)
	s.srv = &http.Server{Handler: r}
	return s
}

// Hub returns the event sink side of the server.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler exposes the router. For testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start binds and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return err
	}

	if s.cfg.Token == "" {
		s.cfg.Logger.Warn("dashboard authentication disabled: no token configured",
			zap.String("bind", s.cfg.Bind))
	} else {
		s.cfg.Logger.Info("dashboard listening", zap.String("bind", s.cfg.Bind))
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.cfg.Logger.Error("dashboard server failed", zap.Error(err))
		}
	}()
	return nil
}

// StopAccepting closes the listener; existing peers stay connected
// until ClosePeers. This is the first step of the shutdown order.
func (s *Server) StopAccepting(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

// ClosePeers disconnects every connected dashboard.
func (s *Server) ClosePeers() {
	s.hub.CloseAll()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "dashboard bundle missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.cfg.Counters.WSAuthFailures.Add(1)
		s.cfg.Logger.Warn("dashboard authentication failed",
			zap.String("remote", r.RemoteAddr))
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.register(conn)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.cfg.Counters.Snapshot())
}

// authorized compares the token query parameter in constant time. An
// unconfigured token disables the check.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	provided := r.URL.Query().Get("token")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.Token)) == 1
}
