package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chartdesk/chartdesk/internal/api"
	"github.com/chartdesk/chartdesk/internal/config"
	"github.com/chartdesk/chartdesk/internal/export"
	"github.com/chartdesk/chartdesk/internal/extract"
	"github.com/chartdesk/chartdesk/internal/home"
	"github.com/chartdesk/chartdesk/internal/pipeline"
	"github.com/chartdesk/chartdesk/internal/scan"
	"github.com/chartdesk/chartdesk/internal/server/endpoints"
	"github.com/chartdesk/chartdesk/internal/store"
	"github.com/chartdesk/chartdesk/internal/svcctx"
	"github.com/chartdesk/chartdesk/internal/worker"
)

// Server is the main chartdesk HTTP server.
// Start opens the job store, seeds runtime settings, and runs the
// extraction worker and inbox watcher alongside the HTTP listener.
// Shutdown drains HTTP first so in-flight requests finish, then unwinds
// the worker; live jobs observe their cancellation tokens and are
// recorded as cancelled runs.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	store      *store.Store
	intake     *scan.Intake
	exporter   *export.Exporter
	scheduler  *worker.Scheduler
	watcher    *scan.Watcher
	configMgr  *config.Manager
	logger     *slog.Logger

	// extractClient overrides the OpenRouter client when set (tests)
	extractClient extract.Client

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	running  bool
	listener net.Listener
	addr     string
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8090). Port "0" binds a
	// free port; Addr() reports the one chosen.
	Port string
	// HomePath is the chartdesk home directory holding the inbox, the
	// job store, and exports. Empty means ~/.chartdesk.
	HomePath string
	// ConfigManager provides file configuration
	ConfigManager *config.Manager
	// ExtractClient overrides the OpenRouter extraction client
	ExtractClient extract.Client
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8090"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h, err := home.New(cfg.HomePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	s := &Server{
		home:          h,
		configMgr:     cfg.ConfigManager,
		extractClient: cfg.ExtractClient,
		logger:        cfg.Logger,
		addr:          net.JoinHostPort(cfg.Host, cfg.Port),
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{SwaggerSpecPath: endpoints.GetSwaggerSpecPath()}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server, the extraction worker, and the inbox watcher.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to prepare home directory: %w", err)
	}

	s.logger.Info("opening job store", "path", s.home.DBPath())
	st, err := store.Open(s.home.DBPath(), s.logger)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open job store: %w", err)
	}
	s.store = st

	if err := config.SeedDefaults(ctx, st.Settings(), s.logger); err != nil {
		_ = st.Close()
		s.setNotRunning()
		return fmt.Errorf("failed to seed default settings: %w", err)
	}

	client := s.extractClient
	if client == nil {
		fileCfg := config.DefaultConfig()
		if s.configMgr != nil {
			fileCfg = s.configMgr.Get()
		}
		client = extract.NewOpenRouterClient(extract.ClientConfig{
			APIKey:     fileCfg.ResolvedAPIKey(),
			BaseURL:    fileCfg.Extraction.BaseURL,
			Timeout:    time.Duration(fileCfg.Extraction.TimeoutSeconds) * time.Second,
			MaxRetries: fileCfg.Extraction.MaxRetries,
			Logger:     s.logger,
		})
	}

	s.intake = scan.NewIntake(st, s.home, s.logger)
	s.exporter = export.NewExporter(st, s.home, s.logger)

	runner := pipeline.NewRunner(pipeline.Config{
		Store:  st,
		Home:   s.home,
		Client: client,
		Logger: s.logger,
	})
	s.scheduler = worker.NewScheduler(worker.Config{
		Store:    st,
		Runner:   runner,
		Exporter: s.exporter,
		Logger:   s.logger,
	})
	s.watcher = scan.NewWatcher(s.intake, s.logger)
	s.watcher.OnChange = func([]scan.Result) {
		s.scheduler.Kick()
	}

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		Store:       st,
		Intake:      s.intake,
		Scheduler:   s.scheduler,
		Exporter:    s.exporter,
		ConfigStore: st.Settings(),
		Logger:      s.logger,
		Home:        s.home,
	}

	// Sweep the inbox once so files dropped while the server was down
	// get registered without waiting for a watcher event.
	if results, err := s.intake.ScanInbox(ctx); err != nil {
		s.logger.Warn("startup inbox scan failed", "error", err)
	} else if len(results) > 0 {
		s.logger.Info("registered inbox files", "count", len(results))
	}

	// The worker context is detached from ctx so shutdown can drain
	// HTTP before unwinding live jobs.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workerWG sync.WaitGroup

	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		if err := s.scheduler.Run(workerCtx); err != nil {
			s.logger.Error("worker stopped with error", "error", err)
		}
	}()

	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		if err := s.watcher.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("inbox watcher stopped with error", "error", err)
		}
	}()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		workerCancel()
		workerWG.Wait()
		_ = st.Close()
		s.setNotRunning()
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown(workerCancel, &workerWG)
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown(workerCancel, &workerWG)
}

// shutdown drains the HTTP server, stops the worker and watcher, and
// closes the job store.
func (s *Server) shutdown(workerCancel context.CancelFunc, workerWG *sync.WaitGroup) error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Live jobs observe their cancellation tokens and unwind as
	// cancelled runs; queued work is untouched and resumes next start.
	workerCancel()
	workerWG.Wait()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("job store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Store returns the job store.
// Returns nil if the server hasn't started yet.
func (s *Server) Store() *store.Store {
	return s.store
}

// Scheduler returns the extraction worker scheduler.
// Returns nil if the server hasn't started yet.
func (s *Server) Scheduler() *worker.Scheduler {
	return s.scheduler
}

// Intake returns the file intake service.
// Returns nil if the server hasn't started yet.
func (s *Server) Intake() *scan.Intake {
	return s.intake
}

// Home returns the home directory layout.
func (s *Server) Home() *home.Dir {
	return s.home
}

// Addr returns the server's listen address. After Start it reports the
// actually bound address, which matters when Port is "0".
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or worker aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.scheduler == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
