package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/backend"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
	"github.com/DavNight89/adminEstate/internal/estate/sync"
)

// DefaultRoute is the sync route used when a request names none.
const DefaultRoute = "json+csv"

// Config holds server configuration.
type Config struct {
	// Port to listen on; 0 picks a free port.
	Port int

	// Store backs the CRUD and stats endpoints.
	Store store.Adapter

	// Registry opens the stores named by sync routes.
	Registry *backend.Registry

	// Authoritative is passed to every reconcile request.
	Authoritative sync.Side

	// HistorySize is how many changes GET /api/changes can return; 0 uses
	// DefaultHistorySize.
	HistorySize int

	Logger *zap.Logger
}

// Server is the HTTP API over one store plus on-demand syncs.
type Server struct {
	config  Config
	logger  *zap.Logger
	router  chi.Router
	hub     *Hub
	metrics *Metrics
	reg     *prometheus.Registry

	listener net.Listener
	server   *http.Server
	wg       stdsync.WaitGroup

	mu          stdsync.Mutex
	collections map[schema.Kind]*store.Collection
	reconcilers map[string]*sync.Reconciler
}

// New builds the server and its routes. The listener is not opened until
// Start.
func New(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	logger := config.Logger.Named("server")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		config:      config,
		logger:      logger,
		hub:         NewHub(logger.Named("ws"), WithHistorySize(config.HistorySize)),
		metrics:     NewMetrics(reg),
		reg:         reg,
		collections: make(map[schema.Kind]*store.Collection),
		reconcilers: make(map[string]*sync.Reconciler),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/analytics/portfolio", s.handlePortfolio)
		r.Get("/changes", s.handleChanges)
		r.Post("/sync/{kind}", s.handleSync)

		r.Route("/{kind}", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Get("/{id}", s.handleGet)
			r.Put("/{id}", s.handleUpdate)
			r.Delete("/{id}", s.handleDelete)
		})
	})
	return r
}

// logRequests logs each request and counts it by status code.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.request(r.Method, status)
		s.logger.Debug("handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)))
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start opens the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("store", s.config.Store.Name()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes WebSocket clients and shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	s.logger.Info("stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) collection(kind schema.Kind) (*store.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[kind]; ok {
		return c, nil
	}
	c, err := store.NewCollection(s.config.Store, kind)
	if err != nil {
		return nil, err
	}
	s.collections[kind] = c
	return c, nil
}

// Reconciler returns the reconciler for the two stores route names and the
// request that runs route on it. Every route over the same pair, in either
// order, shares one reconciler and so its per-kind locks. A route written
// against that order is reversed, and the authoritative side flips with it.
func (s *Server) Reconciler(ctx context.Context, route sync.Route) (*sync.Reconciler, sync.Request, error) {
	from, err := backend.Canonical(route.From)
	if err != nil {
		return nil, sync.Request{}, err
	}
	to, err := backend.Canonical(route.To)
	if err != nil {
		return nil, sync.Request{}, err
	}
	req := sync.Request{Direction: route.Direction, Authoritative: s.config.Authoritative}
	first, second, swapped := backend.Ordered(from, to)
	if swapped {
		req.Direction = sync.Route{From: from, To: to, Direction: route.Direction}.Reverse().Direction
		req.Authoritative = req.Authoritative.Opposite()
	}
	key := first + "+" + second

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.reconcilers[key]; ok {
		return r, req, nil
	}
	a, b, err := s.config.Registry.Pair(ctx, first, second)
	if err != nil {
		return nil, sync.Request{}, err
	}
	r := sync.New(a, b,
		sync.WithLogger(s.config.Logger),
		sync.WithObserver(s.metrics),
		sync.WithObserver(sync.ObserverFunc(func(res *sync.Result) {
			s.hub.Publish(MessageTypeSyncComplete, res)
		})))
	s.reconcilers[key] = r
	return r, req, nil
}
