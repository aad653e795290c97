package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/linkbroker/internal/dispatch"
)

// Authenticator decides whether a named link may attach with the given
// capabilities and secret. The linkdirectory package is the production
// implementation; tests can substitute a stub.
type Authenticator interface {
	Authenticate(name string, isRequester, isResponder bool, secret string) bool
}

// allowAll accepts every handshake; used when no directory is configured.
type allowAll struct{}

func (allowAll) Authenticate(string, bool, bool, string) bool { return true }

// handshake is the first frame a link must send after the WebSocket
// upgrade completes (spec §6, "connection handshake").
type handshake struct {
	Name        string `json:"name"`
	IsRequester bool   `json:"isRequester"`
	IsResponder bool   `json:"isResponder"`
	Secret      string `json:"secret,omitempty"`
}

// Server is the broker's HTTP/WebSocket front end.
type Server struct {
	Addr   string
	Router *dispatch.Router
	Auth   Authenticator
	Logger *slog.Logger

	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a Server ready to ListenAndServe.
func NewServer(addr string, router *dispatch.Router, auth Authenticator, logger *slog.Logger) *Server {
	if auth == nil {
		auth = allowAll{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Addr:   addr,
		Router: router,
		Auth:   auth,
		Logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the HTTP handler the server listens with. Exposed
// separately so tests can point an httptest.Server at it without going
// through ListenAndServe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conn", s.handleConnect)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.withLogging(mux)
}

// ListenAndServe starts the WebSocket endpoint and blocks until
// Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:         s.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived; pumps enforce their own deadlines
	}

	s.Logger.Info("starting link transport", "addr", s.Addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleConnect upgrades the connection, reads the handshake frame,
// authenticates it, and — on success — registers a Link with the
// router and starts its pumps.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	var hs handshake
	if err := conn.ReadJSON(&hs); err != nil {
		s.Logger.Warn("handshake read failed", "error", err)
		conn.Close()
		return
	}
	if hs.Name == "" || !s.Auth.Authenticate(hs.Name, hs.IsRequester, hs.IsResponder, hs.Secret) {
		s.Logger.Warn("handshake rejected", "name", hs.Name)
		conn.WriteJSON(map[string]string{"error": "rejected"})
		conn.Close()
		return
	}
	conn.WriteJSON(map[string]bool{"allowed": true})

	link := newLink(hs.Name, conn, s.Logger)
	s.Router.Connect(link, hs.IsRequester, hs.IsResponder)
	s.Logger.Info("link connected", "name", hs.Name, "requester", hs.IsRequester, "responder", hs.IsResponder)

	go link.writePump()
	link.readPump(s.Router)
}
