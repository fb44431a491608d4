package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"agentsched/internal/platform"
	"agentsched/internal/store"
	logx "agentsched/pkg/logx"
)

type Config struct {
	Addr string // default "127.0.0.1:8080"

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

// Server is the tenant-facing REST API.
type Server struct {
	cfg    Config
	store  *store.Store
	client platform.Client
	log    logx.Logger

	router chi.Router
	srv    *http.Server
}

func NewServer(cfg Config, st *store.Store, client platform.Client, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:    cfg.withDefaults(),
		store:  st,
		client: client,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/schedules", func(r chi.Router) {
		r.Route("/recurring", func(r chi.Router) {
			r.Post("/", s.handleCreateRecurring)
			r.Get("/", s.handleListRecurring)
			r.Get("/{scheduleID}", s.handleGetRecurring)
			r.Delete("/{scheduleID}", s.handleDeleteRecurring)
		})
		r.Route("/one-time", func(r chi.Router) {
			r.Post("/", s.handleCreateOneTime)
			r.Get("/", s.handleListOneTime)
			r.Get("/{scheduleID}", s.handleGetOneTime)
			r.Delete("/{scheduleID}", s.handleDeleteOneTime)
		})
	})

	r.Route("/results", func(r chi.Router) {
		r.Get("/", s.handleListResults)
		r.Get("/{scheduleID}", s.handleGetResult)
	})

	s.router = r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving in the background. The returned error channel yields
// at most one error (a non-clean ListenAndServe exit).
func (s *Server) Start() <-chan error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
