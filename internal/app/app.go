package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"scriptgate/internal/config"
	"scriptgate/internal/entitlement"
	apierrors "scriptgate/internal/errors"
	"scriptgate/internal/infrastructure"
	customMiddleware "scriptgate/internal/middleware"
	"scriptgate/internal/security"
	"scriptgate/internal/services"
	memorystore "scriptgate/internal/storage/memory"
	pgstore "scriptgate/internal/storage/postgres"
	redisstore "scriptgate/internal/storage/redis"
	handlers "scriptgate/internal/transport/http"
	ws "scriptgate/internal/websocket"
)

const storeConnectTimeout = 5 * time.Second

// Application represents the main application container
type Application struct {
	Config             *config.Config
	Router             *chi.Mux
	Server             *http.Server
	Store              entitlement.Store
	WebSocketHub       *ws.Hub
	EntitlementService services.EntitlementService
	HealthService      *services.HealthService
	Logger             *slog.Logger
	OTelProviders      *infrastructure.OTelProviders

	clock       entitlement.Clock
	closeStore  func() error
	upstreamCli *http.Client
}

// Option customizes an Application before its services are wired.
type Option func(*Application)

// WithClock replaces the system clock.
func WithClock(clock entitlement.Clock) Option {
	return func(a *Application) { a.clock = clock }
}

// WithStore uses store instead of the one selected by the store driver.
func WithStore(store entitlement.Store) Option {
	return func(a *Application) { a.Store = store }
}

// WithUpstreamClient sets the HTTP client used to fetch the gated resource.
func WithUpstreamClient(client *http.Client) Option {
	return func(a *Application) { a.upstreamCli = client }
}

// NewApplication loads the configuration from the environment and builds the
// application.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(cfg, logger)
}

// New wires an application from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("store_driver", cfg.Store.Driver),
		slog.Duration("trial_window", cfg.Entitlement.TrialWindow),
		slog.Duration("license_window", cfg.Entitlement.LicenseWindow))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		clock:         entitlement.SystemClock{},
		closeStore:    func() error { return nil },
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.initializeServices(); err != nil {
		_ = otelProviders.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices() error {
	if a.Store == nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
		defer cancel()

		store, closer, err := buildStore(ctx, a.Config.Store, a.Logger)
		if err != nil {
			return err
		}
		a.Store = store
		a.closeStore = closer
	}

	entitlementMetrics, err := entitlement.InitializeMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize entitlement metrics: %w", err)
	}

	wsMetrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize websocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(a.Logger, wsMetrics)

	fingerprinter, err := security.NewKeyFingerprinter(a.Config.Security.FingerprintSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize key fingerprinter: %w", err)
	}
	if a.Config.Security.FingerprintSecret == "" {
		a.Logger.Warn("No fingerprint secret configured, key fingerprints are only stable for this process")
	}

	ec := a.Config.Entitlement
	policy := entitlement.NewKeyPolicy(ec.TestKey, ec.KeyPrefixes)

	a.EntitlementService, err = services.NewEntitlementService(services.EntitlementDeps{
		Store:         a.Store,
		Engine:        entitlement.NewEngine(ec.TrialWindow, ec.LicenseWindow),
		Activator:     entitlement.NewActivator(a.Store, policy, ec.LicenseWindow),
		Clock:         a.clock,
		Publisher:     a.WebSocketHub,
		Metrics:       entitlementMetrics,
		Tracer:        a.OTelProviders.Tracer,
		Fingerprinter: fingerprinter,
		Retry:         a.Config.Store.Retry,
		Logger:        a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create entitlement service: %w", err)
	}

	a.HealthService = services.NewHealthService(config.AppVersion, a.Config.Store.Driver, a.Store, a.WebSocketHub, a.Logger)

	return nil
}

// buildStore connects the entitlement store selected by cfg.Driver. The
// returned closer releases its connections.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (entitlement.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Warn("Using in-memory entitlement store, records are lost on restart")
		return memorystore.New(), func() error { return nil }, nil

	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, apierrors.NewStorageError("failed to connect to redis", err)
		}
		logger.Info("Connected to redis entitlement store",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB))
		return redisstore.New(rdb, cfg.RedisKeyPrefix), rdb.Close, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, apierrors.NewConfigError("invalid postgres dsn", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, apierrors.NewStorageError("failed to connect to postgres", err)
		}
		store := pgstore.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, apierrors.NewStorageError("failed to prepare postgres schema", err)
		}
		logger.Info("Connected to postgres entitlement store")
		return store, func() error { pool.Close(); return nil }, nil

	default:
		return nil, nil, apierrors.NewConfigError(fmt.Sprintf("unknown store driver %q", cfg.Driver), nil)
	}
}

// setupRouter configures the HTTP router
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errHandler := apierrors.NewErrorHandler(a.Logger, false)

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(errHandler))

	if otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders); err != nil {
		a.Logger.Warn("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}

	r.Use(customMiddleware.SecurityHeaders)

	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
			ExposedHeaders: []string{customMiddleware.HeaderRequestID},
			Logger:         a.Logger,
		}))
	}

	if rl := a.Config.Security.RateLimit; rl.Enabled {
		r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
	}

	r.Use(customMiddleware.Identity)

	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
	r.Get("/", healthHandler.Root)
	r.Get("/healthz", healthHandler.HealthCheck)
	r.Get("/healthz/ready", healthHandler.ReadinessCheck)
	r.Get("/healthz/live", healthHandler.LivenessCheck)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	wsHandler := ws.NewHandler(a.WebSocketHub, ws.HandlerConfig{
		AllowedOrigins:  a.Config.Security.AllowedOrigins,
		ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
		WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
	}, errHandler, a.Logger)
	r.Get("/ws/events", wsHandler.ServeHTTP)

	entitlementHandler := handlers.NewEntitlementHandler(a.EntitlementService, errHandler, a.Logger)
	resourceHandler := handlers.NewResourceHandler(a.EntitlementService, handlers.ResourceConfig{
		UpstreamURL:  a.Config.Resource.UpstreamURL,
		FetchTimeout: a.Config.Resource.FetchTimeout,
		MaxBytes:     a.Config.Resource.MaxBytes,
		Client:       a.upstreamCli,
	}, errHandler, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout))

		r.Get("/version", healthHandler.Version)
		r.Mount("/entitlement", entitlementHandler.Routes())
		r.Get("/script", resourceHandler.GetScript)
	})

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run listens on the configured port and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	a.WebSocketHub.Start()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", ln.Addr().String()),
		slog.String("version", config.AppVersion))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(ctx, "Shutdown requested")
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	a.WebSocketHub.Stop()

	if err := a.closeStore(); err != nil {
		a.Logger.ErrorContext(ctx, "Error closing entitlement store", slog.String("error", err.Error()))
	}

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}
