package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shinji-kodama/workshop-hub/internal/logging"
	"github.com/shinji-kodama/workshop-hub/internal/registry"
	"github.com/shinji-kodama/workshop-hub/internal/spawn"
)

const (
	defaultAddr            = ":8081"
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	Addr string

	Registries *registry.Set

	// Planner serves POST /v1/plans. When nil the route answers 501.
	Planner *spawn.Planner

	// ShutdownTimeout bounds the graceful drain in Run.
	ShutdownTimeout time.Duration

	Logger *zerolog.Logger
}

// Server is the HTTP API: a chi router inside a net/http server.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	regs            *registry.Set
	planner         *spawn.Planner
	mux             *chi.Mux
	srv             *http.Server
	log             zerolog.Logger
}

// New builds the router. It does not listen.
func New(opts Options) (*Server, error) {
	if opts.Registries == nil {
		return nil, errors.New("server needs registries")
	}
	s := &Server{
		addr:            opts.Addr,
		shutdownTimeout: opts.ShutdownTimeout,
		regs:            opts.Registries,
		planner:         opts.Planner,
		log:             logging.For("http"),
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	if s.addr == "" {
		s.addr = defaultAddr
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}

	s.mux = chi.NewRouter()
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(accessLog(s.log))
	s.routes()

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

func (s *Server) routes() {
	s.mux.Get("/healthz", s.handleHealth)
	s.mux.Route("/v1", func(r chi.Router) {
		r.Get("/registries", s.handleRegistries)
		r.Route("/registries/{registry}/ports", func(r chi.Router) {
			r.Get("/", s.handleEntries)
			r.Get("/{user}", s.handleLookup)
			r.Put("/{user}", s.handleAllocate)
		})
		r.Post("/plans", s.handlePlan)
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Run listens on the configured address and serves until ctx is done, then
// drains in-flight requests within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("http listening")
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Dur("timeout", s.shutdownTimeout).Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
