package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gymops/gymbuddy/internal/booking"
	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/store"
)

// Server configuration defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

// Responder produces a reply for a simulated inbound message.
type Responder interface {
	Handle(ctx context.Context, phone, content, pushName string) (models.Prompt, error)
}

// Opts holds configuration for the admin API server.
type Opts struct {
	Addr  string
	Token string // bearer token for admin routes; empty disables auth
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithToken sets the admin bearer token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// Server is the admin HTTP API.
type Server struct {
	engine    *booking.Engine
	st        store.Store
	responder Responder
	addr      string
	token     string
	httpSrv   *http.Server
}

// NewServer creates the admin API server. responder may be nil, which
// disables the webhook simulation endpoint.
func NewServer(engine *booking.Engine, st store.Store, responder Responder, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Token == "" {
		slog.Warn("Admin API token not set; admin routes are unauthenticated")
	}
	return &Server{
		engine:    engine,
		st:        st,
		responder: responder,
		addr:      cfg.Addr,
		token:     cfg.Token,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)

	r.Group(func(admin chi.Router) {
		admin.Use(s.requireToken)
		admin.Post("/classes", s.createClassHandler)
		admin.Get("/classes", s.listClassesHandler)
		admin.Delete("/classes/{id}", s.cancelClassHandler)
		admin.Post("/bookings/{id}/attendance", s.attendanceHandler)
		admin.Get("/members/{phone}/bookings", s.memberBookingsHandler)
		admin.Get("/stats/utilization", s.utilizationHandler)
		admin.Post("/webhook/simulate", s.simulateHandler)
	})

	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.Router()}
	go func() {
		slog.Info("Admin API listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Admin API server error", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// requireToken guards admin routes with a bearer token. The token may arrive
// in the Authorization header or, for tooling that cannot set headers, in a
// token query parameter.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if provided == r.Header.Get("Authorization") {
			provided = ""
		}
		if provided == "" {
			provided = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
			slog.Warn("Admin API unauthorized request", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
