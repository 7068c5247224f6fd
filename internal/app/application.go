package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"projectchat/internal/api"
	"projectchat/internal/auth"
	"projectchat/internal/config"
	"projectchat/internal/database"
	"projectchat/internal/hub"
	"projectchat/internal/membership"
	"projectchat/internal/presence"
	"projectchat/internal/router"
	"projectchat/internal/websocket"
	pkgdatabase "projectchat/pkg/database"
	"projectchat/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	logger      *zap.Logger
	dbManager   *database.Manager
	membership  *membership.Manager
	presence    interfaces.PresenceStore
	redisClient *redis.Client
	auth        *auth.Service
	registry    *websocket.Registry
	eventRouter *router.Router
	eventHub    *hub.Hub
	apiServer   *api.Server
	httpServer  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Membership → Presence → Registry → Router → Hub → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
		MigrationsPath:  cfg.Database.MigrationsPath,
	}
	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err := dbManager.Migrate(); err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	// STEP 2: Warm the membership cache
	members := membership.NewManager(dbManager, logger)
	if err := members.LoadMembers(context.Background()); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load project members: %w", err)
	}

	// STEP 3: Presence roster store
	roster, redisClient, err := newPresenceStore(cfg, logger)
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	// STEP 4: Registry, router and hub
	registry := websocket.NewRegistry()
	eventRouter := router.NewRouter(registry, dbManager, members, roster,
		router.Config{RateLimitPerMinute: cfg.Chat.RateLimitPerMinute}, logger)
	eventHub := hub.NewHub(eventRouter, logger)

	// STEP 5: WebSocket handler feeding the hub
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	wsHandler := websocket.NewHandler(registry, authService, eventHub, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
		PollWait:     cfg.WebSocket.PollWait,
		PollTimeout:  cfg.WebSocket.PollTimeout,
	}, logger)

	// STEP 6: REST API with /ws and /poll mounted on the same engine
	apiServer := api.NewServer(api.Deps{
		Messages:    eventRouter,
		Broadcaster: eventHub,
		Database:    dbManager,
		Membership:  members,
		Presence:    roster,
		Registry:    registry,
		Verifier:    authService,
		WebSocket:   wsHandler.HandleWebSocket,
		Polling:     wsHandler.HandlePolling,
	}, api.Options{
		HistoryLimit:    cfg.Chat.HistoryLimit,
		MaxHistoryLimit: cfg.Chat.MaxHistoryLimit,
		Mode:            cfg.HTTP.Mode,
	}, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		logger:      logger.Named("app"),
		dbManager:   dbManager,
		membership:  members,
		presence:    roster,
		redisClient: redisClient,
		auth:        authService,
		registry:    registry,
		eventRouter: eventRouter,
		eventHub:    eventHub,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

func newPresenceStore(cfg *config.Config, logger *zap.Logger) (interfaces.PresenceStore, *redis.Client, error) {
	if cfg.Presence.Backend != "redis" {
		return presence.NewMemoryStore(), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	defer cancel()

	store := presence.NewRedisStore(client, cfg.Redis.KeyPrefix)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	// No socket survives a restart, so stale rosters are dropped
	if err := store.Clear(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to clear presence rosters: %w", err)
	}

	logger.Info("using redis presence store", zap.String("addr", cfg.Redis.Addr))
	return store, client, nil
}

// Start begins application execution
// Hub starts first to handle events, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.eventHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.eventHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	app.logger.Info("projectchat started", zap.String("addr", listener.Addr().String()))
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Presence → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down projectchat")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.eventHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis shutdown: %w", err))
		}
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.logger.Info("projectchat shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, otherwise the configured one.
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Auth exposes the token service, used to mint development tokens.
func (app *Application) Auth() *auth.Service {
	return app.auth
}

// Stats reports live connection counts.
func (app *Application) Stats() map[string]int {
	return app.registry.GetStats()
}

// ShutdownTimeout bounds Stop when the caller has no deadline of its own.
const ShutdownTimeout = 30 * time.Second
