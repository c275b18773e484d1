// Package api exposes the supervisor over HTTP: the captcha page and ticket
// callback the slider flow needs, plus status and operator endpoints used by
// the CLI and dashboard.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/credential"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/db"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/status"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/supervisor"
)

//go:embed captcha.html
var captchaPage []byte

// Backend is the supervisor side of the API. *supervisor.Supervisor
// satisfies it.
type Backend interface {
	RunID() string
	Registry() *status.Registry
	Get() map[string]login.State
	Accounts() []supervisor.Account
	Running(sid string) bool
	Start(ctx context.Context, sid string) error
	Stop(sid string) error
	Write(sid, text string) error
	SubmitTicket(sid, ticket string) error
	ExportCredential(sid string) (string, error)
	ImportCredential(sid, bundle string) error
}

// Journal is the read side of the event journal. *db.DB satisfies it.
type Journal interface {
	RecentEvents(sid string, limit int) ([]db.StatusEvent, error)
	RecentRuns(sid string, limit int) ([]db.Run, error)
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. 127.0.0.1:5141.
	Addr string

	// CaptchaPath serves the captcha page. The ticket callback lives next
	// to it, so the page can post to a relative URL.
	CaptchaPath string

	// Journal is optional; without it the events endpoint reports 503.
	Journal Journal

	Logger *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	backend  Backend
	journal  Journal
	logger   *slog.Logger
	started  time.Time
	router   chi.Router
	server   *http.Server
	upgrader websocket.Upgrader

	captchaPath string
	ticketPath  string
}

// TicketPath returns the ticket callback path served beside captchaPath.
func TicketPath(captchaPath string) string {
	if captchaPath == "" {
		captchaPath = login.DefaultCaptchaPath
	}
	return path.Join(path.Dir(captchaPath), "ticket")
}

// NewServer creates a server for backend.
func NewServer(backend Backend, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CaptchaPath == "" {
		opts.CaptchaPath = login.DefaultCaptchaPath
	}

	s := &Server{
		backend:     backend,
		journal:     opts.Journal,
		logger:      opts.Logger,
		started:     time.Now(),
		captchaPath: opts.CaptchaPath,
		ticketPath:  TicketPath(opts.CaptchaPath),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	r := chi.NewRouter()
	r.Use(s.withLogging)
	r.Get(s.captchaPath, s.handleCaptcha)
	r.Post(s.ticketPath, s.handleTicket)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/status/stream", s.handleStream)
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", s.handleAccounts)
		r.Route("/{sid}", func(r chi.Router) {
			r.Post("/write", s.handleWrite)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Get("/credential", s.handleExportCredential)
			r.Put("/credential", s.handleImportCredential)
			r.Get("/events", s.handleEvents)
		})
	})
	s.router = r

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// TicketPath is where the captcha page posts tickets.
func (s *Server) TicketPath() string {
	return s.ticketPath
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting API server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

// statusFor maps supervisor errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrUnknownAccount), errors.Is(err, credential.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrNoProcess), errors.Is(err, supervisor.ErrProcessRunning):
		return http.StatusConflict
	case errors.Is(err, credential.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrSpawn):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, code, err.Error())
}
