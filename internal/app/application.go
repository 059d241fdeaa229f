package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"counselchat/internal/api"
	"counselchat/internal/auth"
	"counselchat/internal/config"
	"counselchat/internal/conversation"
	"counselchat/internal/database"
	"counselchat/internal/hub"
	"counselchat/internal/logging"
	"counselchat/internal/metrics"
	"counselchat/internal/retention"
	"counselchat/internal/router"
	"counselchat/internal/websocket"
	pkgdatabase "counselchat/pkg/database"
)

// Limiter state for users idle this long is dropped.
const limiterIdle = 5 * time.Minute

// Application coordinates all relay components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config        *config.Config
	logger        *zap.Logger
	dbManager     *database.Manager
	conversations *conversation.Manager
	registry      *websocket.Registry
	messageHub    *hub.Hub
	messageRouter *router.Router
	apiServer     *api.Server
	retention     *retention.Scheduler
	httpServer    *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Conversations → Registry → Hub → Router → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = logging.OrNop(logger)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	relayMetrics := metrics.NewRelay(reg)

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := pkgdatabase.NewMigrationManager(dbManager.GetDB()).ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	logger.Info("database ready", zap.String("path", cfg.Database.Path))

	// STEP 2: Conversation membership
	conversations := conversation.NewManager(dbManager, logger)

	// STEP 3: Socket registry and fan-out hub
	registry := websocket.NewRegistry(relayMetrics, logger)
	messageHub := hub.NewHub(registry, cfg.Relay.HubBuffer, relayMetrics, logger)

	// STEP 4: Message router
	messageRouter := router.NewRouter(router.Config{
		Conversations: conversations,
		Database:      dbManager,
		Broadcaster:   messageHub,
		RateLimiter:   router.NewRateLimiter(cfg.Relay.RateLimitPerMinute, cfg.Relay.RateBurst),
		Metrics:       relayMetrics,
		Logger:        logger,
	})

	// STEP 5: Socket handler and REST API on one router
	verifier := auth.NewStaticVerifier(cfg.Auth.Tokens)
	wsHandler := websocket.NewHandler(registry, conversations, verifier, logger).WithOptions(websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})

	apiServer := api.NewServer(api.ServerConfig{
		Conversations: conversations,
		Database:      dbManager,
		Router:        messageRouter,
		Registry:      registry,
		Verifier:      verifier,
		WebSocket:     http.HandlerFunc(wsHandler.HandleWebSocket),
		Metrics:       relayMetrics,
		Gatherer:      reg,
		Logger:        logger,
	})

	// STEP 6: Optional retention
	var scheduler *retention.Scheduler
	if cfg.Retention.Enabled {
		scheduler, err = retention.New(retention.Config{
			Cron:   cfg.Retention.Cron,
			Period: cfg.Retention.Period,
		}, dbManager, relayMetrics, logger)
		if err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to configure retention: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	if len(cfg.Auth.Tokens) == 0 {
		logger.Warn("no auth tokens configured; every request will be rejected")
	}

	return &Application{
		config:        cfg,
		logger:        logger,
		dbManager:     dbManager,
		conversations: conversations,
		registry:      registry,
		messageHub:    messageHub,
		messageRouter: messageRouter,
		apiServer:     apiServer,
		retention:     scheduler,
		httpServer:    httpServer,
	}, nil
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())

	// STEP 1: Start message hub (background fan-out)
	if err := app.messageHub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: Retention and limiter housekeeping
	if app.retention != nil {
		if err := app.retention.Start(runCtx); err != nil {
			cancel()
			_ = app.messageHub.Stop()
			return fmt.Errorf("failed to start retention: %w", err)
		}
	}
	app.wg.Add(1)
	go app.housekeeping(runCtx)

	// STEP 3: Bind before returning so callers can connect immediately
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		app.wg.Wait()
		app.stopBackground()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln
	app.cancel = cancel

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	app.logger.Info("relay started", zap.String("addr", ln.Addr().String()))
	return nil
}

func (app *Application) housekeeping(ctx context.Context) {
	defer app.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			app.messageRouter.CleanupLimiter(limiterIdle)
		case <-ctx.Done():
			return
		}
	}
}

func (app *Application) stopBackground() {
	if app.retention != nil {
		app.retention.Stop()
	}
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Warn("message hub shutdown error", zap.Error(err))
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → sockets → background → Database
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.logger.Info("shutting down relay")

	// STEP 1: Stop accepting new requests
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// STEP 2: Drop push sockets
	if n := app.registry.CloseAll(); n > 0 {
		app.logger.Info("closed push sockets", zap.Int("count", n))
	}

	// STEP 3: Stop background work
	app.stopBackground()
	if app.cancel != nil {
		app.cancel()
		app.cancel = nil
	}
	app.wg.Wait()

	// STEP 4: Close database connections
	if err := app.dbManager.Close(); err != nil {
		app.logger.Warn("database shutdown error", zap.Error(err))
	}

	app.logger.Info("relay shutdown complete")
	return nil
}

// GetAddr returns the bound address once started, else the configured one.
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
