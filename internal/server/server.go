package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/userservice/config"
	"github.com/jjudge-oj/userservice/internal/db"
	"github.com/jjudge-oj/userservice/internal/handlers"
	"github.com/jjudge-oj/userservice/internal/logging"
	"github.com/jjudge-oj/userservice/internal/metrics"
	"github.com/jjudge-oj/userservice/internal/mq"
	"github.com/jjudge-oj/userservice/internal/services"
	"github.com/jjudge-oj/userservice/internal/store"
)

// State is the server lifecycle phase. It only moves forward.
type State int32

const (
	StateInitializing State = iota
	StateServing
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateServing:
		return "serving"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	pool       *db.Pool
	queue      *mq.MQ
	metrics    *metrics.Metrics
	logger     *slog.Logger
	state      atomic.Int32
}

// New opens the database, brings the schema up to date and wires the
// routes. Any failure here is fatal: nothing has been exposed yet.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pool, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	applied, err := db.NewMigrator(pool, logger).Up(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(pool)
	if err := userRepo.VerifySchema(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	m := metrics.New(pool.DB())

	var (
		queue *mq.MQ
		opts  []services.Option
	)
	if cfg.MQ.Backend != "" {
		queue, err = mq.Open(ctx, cfg.MQ)
		if err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("open %s: %w", cfg.MQ.Backend, err)
		}
		opts = append(opts,
			services.WithEvents(queue, cfg.MQ.Channel),
			services.WithPublishObserver(m.ObservePublish),
		)
	}

	userService := services.NewUserService(userRepo, opts...)

	router := chi.NewRouter()
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.HTTPMiddleware(logger),
		middleware.Recoverer,
		m.Middleware,
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz(pool))
	router.Method(http.MethodGet, "/metrics", m.Handler())
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server initialized",
		slog.String("dialect", string(pool.Dialect())),
		slog.Int("migrations_applied", applied),
		slog.Int("max_conns", cfg.Database.MaxConns),
		slog.String("mq_backend", cfg.MQ.Backend),
	)

	return &Server{
		httpServer: httpServer,
		router:     router,
		pool:       pool,
		queue:      queue,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) State() State {
	return State(s.state.Load())
}

// Start listens on the configured port and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.state.Store(int32(StateServing))
	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx
// ends, then releases the broker and the database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mq: %w", err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}
