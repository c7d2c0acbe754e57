package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labflow/internal/broker"
	"labflow/internal/config"
	"labflow/internal/constants"
	"labflow/internal/flagging"
	"labflow/internal/logger"
	"labflow/internal/management"
	"labflow/pkg/bootstrap"
	"labflow/pkg/health"
	"labflow/pkg/metrics"
	"labflow/pkg/middleware"
	"labflow/pkg/ratelimit"
	"labflow/pkg/tracing"
)

const serviceName = "management-service"

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	service        management.Service
	health         *health.CheckerRegistry
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	a.initService(ctx)

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterManagementMetrics()

	router := newRouter(ctx, a.Config, management.NewHandler(a.service, a.Logger), a.health, a.Logger)
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db
	if db != nil {
		a.health.Register(health.NewPostgreSQLChecker(db))
	}
	return nil
}

// initService falls back to an in-memory store without audit logs when
// PostgreSQL is not configured. Config events are optional either way.
func (a *App) initService(ctx context.Context) {
	var (
		store flagging.Store
		opts  []management.ServiceOption
	)
	if a.db != nil {
		store = flagging.NewRepository(a.db)
		opts = append(opts, management.WithAudit(management.NewAuditRepository(a.db)))
	} else {
		a.Logger.WarnwCtx(ctx, "PostgreSQL not configured, flagging versions are kept in memory and not audited")
		store = flagging.NewMemoryRepository()
	}

	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; a.Config.Broker.Type == broker.TypeKafka && topic != "" {
		if err := a.InitProducer(serviceName); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create config event producer, config events will be disabled", "error", err)
		} else {
			opts = append(opts, management.WithConfigEvents(management.NewConfigEventProducer(a.Producer, topic)))
			metrics.RegisterBrokerMetrics()
			a.Logger.InfowCtx(ctx, "Config event producer initialized", "topic", topic)
		}
	}

	a.service = management.NewService(store, a.Logger, opts...)
}

func newRouter(ctx context.Context, cfg *config.Config, handler *management.Handler, registry *health.CheckerRegistry, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ActorMiddleware())

	if cfg.Management.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(cfg.Management.RateLimit)
		rateLimitConfig.Key = ratelimit.HeaderOrClientIP(middleware.ActorHeader)
		router.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		log.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler.RegisterRoutes(router)

	router.GET("/health", health.Handler(registry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		a.Logger.InfowCtx(ctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		if a.server != nil {
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(shutdownCtx, nil, a.db, nil)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
