package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appinventory "github.com/farmerp/backend/internal/application/inventory"
	"github.com/farmerp/backend/internal/infrastructure/auth"
	"github.com/farmerp/backend/internal/infrastructure/cache"
	"github.com/farmerp/backend/internal/infrastructure/config"
	"github.com/farmerp/backend/internal/infrastructure/event"
	"github.com/farmerp/backend/internal/infrastructure/logger"
	"github.com/farmerp/backend/internal/infrastructure/persistence"
	"github.com/farmerp/backend/internal/infrastructure/telemetry"
	"github.com/farmerp/backend/internal/interfaces/http/handler"
	"github.com/farmerp/backend/internal/interfaces/http/middleware"
	"github.com/farmerp/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting farm inventory service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx := context.Background()
	telCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}

	// Telemetry: traces, metrics, log export, continuous profiling
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize log export", zap.Error(err))
	}
	log = loggerProvider.Bridge(log, cfg.Telemetry.ServiceName, zapcore.WarnLevel)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:              cfg.Telemetry.ProfilingEnabled,
		ServerAddress:        cfg.Telemetry.PyroscopeAddress,
		ApplicationName:      cfg.Telemetry.ServiceName,
		ProfileTypes:         cfg.Telemetry.ProfileTypes,
		MutexProfileFraction: 5,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}
	defer shutdownTelemetry(log, tracerProvider, meterProvider, loggerProvider, profiler)

	// Initialize database connection; SQL is logged through zap
	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBName:          cfg.Database.DBName,
		WithVariables:   cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	allocationMetrics, err := telemetry.NewAllocationMetrics(meterProvider.Meter("farm-inventory"))
	if err != nil {
		log.Fatal("Failed to register allocation metrics", zap.Error(err))
	}

	// Event bus for usage record and cost recalculation events
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	costTrigger, redisClient := newCostTrigger(ctx, cfg, eventBus, log)
	if redisClient != nil {
		defer func() {
			_ = redisClient.Close()
		}()
	}

	// Usage service: every write runs in one transaction with row locks
	txScope := persistence.NewGormTransactionScope(db.DB, persistence.WithLockTimeout(cfg.Allocation.LockTimeout))
	usageService := appinventory.NewUsageService(txScope, persistence.NewGormRepositories(db.DB), allocationMetrics, log)
	usageService.SetEventPublisher(eventBus)
	usageService.SetCostTrigger(costTrigger)
	usageService.SetMaxLines(cfg.Allocation.MaxLines)

	// Initialize HTTP handlers
	deps := map[string]handler.Pinger{"database": db}
	if redisClient != nil {
		deps["redis"] = redisPinger{redisClient}
	}
	usageHandler := handler.NewUsageRecordHandler(usageService)
	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, deps)

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	engine.Use(
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.Tracing(cfg.Telemetry.ServiceName),
		middleware.SpanErrorMarker(),
		middleware.CORS(cfg.HTTP.CORSOrigins...),
		middleware.Secure(),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.HTTPMetrics(meterProvider),
		middleware.ProfilingWithConfig(middleware.ProfilingConfig{
			Enabled:   profiler.IsEnabled(),
			SkipPaths: []string{"/health", "/ready"},
		}),
	)

	jwtService := auth.NewJWTService(cfg.JWT)
	apiMiddleware := []gin.HandlerFunc{
		middleware.JWTAuthMiddleware(jwtService),
		middleware.TracingAttributeInjector(),
	}
	if cfg.HTTP.RateLimit > 0 {
		apiMiddleware = append(apiMiddleware,
			middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow)))
	}

	r := router.NewRouter(engine, router.WithAPIMiddleware(apiMiddleware...))
	r.Register(router.UsageRecordRoutes(usageHandler)).
		Register(router.LocationRoutes(usageHandler)).
		Register(router.SystemRoutes(systemHandler))
	r.Setup()
	router.RegisterProbes(engine, systemHandler)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("Server exited gracefully")
}

// newCostTrigger builds the post-commit trigger selected by
// allocation.cost_trigger. The Redis client is returned so it can be closed
// and health-checked; it is nil unless the redis trigger is in use.
func newCostTrigger(ctx context.Context, cfg *config.Config, bus *event.InMemoryEventBus, log *zap.Logger) (appinventory.CostTrigger, *redis.Client) {
	switch cfg.Allocation.CostTrigger {
	case config.CostTriggerNone:
		log.Info("Cost recalculation trigger disabled")
		return appinventory.NoOpCostTrigger{}, nil
	case config.CostTriggerRedis:
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		queue := cache.NewRedisCostQueue(client, cfg.Allocation.CostQueueKey, log)
		bus.Subscribe(queue)
		log.Info("Cost recalculation requests queued in Redis",
			zap.String("addr", cfg.Redis.Addr()),
			zap.String("key", cfg.Allocation.CostQueueKey),
		)
		return appinventory.NewEventCostTrigger(bus), client
	default:
		return appinventory.NewEventCostTrigger(bus), nil
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.client.Ping(ctx).Err()
}

func shutdownTelemetry(
	log *zap.Logger,
	tp *telemetry.TracerProvider,
	mp *telemetry.MeterProvider,
	lp *telemetry.LoggerProvider,
	profiler *telemetry.Profiler,
) {
	ctx := context.Background()
	if err := tp.Shutdown(ctx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := mp.Shutdown(ctx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := lp.Shutdown(ctx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
}
