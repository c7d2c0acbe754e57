package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"labflow/internal/api"
	"labflow/internal/archive"
	"labflow/internal/broker"
	"labflow/internal/catalog"
	"labflow/internal/config"
	"labflow/internal/config_handler"
	"labflow/internal/constants"
	"labflow/internal/dispatch"
	"labflow/internal/flagging"
	"labflow/internal/ingestion"
	"labflow/internal/listener"
	"labflow/internal/logger"
	"labflow/internal/parser"
	"labflow/internal/quarantine"
	"labflow/pkg/bootstrap"
	"labflow/pkg/health"
	"labflow/pkg/logging"
	"labflow/pkg/metrics"
	"labflow/pkg/middleware"
	"labflow/pkg/models"
	"labflow/pkg/ratelimit"
	"labflow/pkg/retry"
	"labflow/pkg/tracing"
)

const serviceName = "ingest-service"

// ingestStore is everything the orchestrator and the API read and write.
// PostgresStore and MemoryStore both satisfy it.
type ingestStore interface {
	ingestion.Ledger
	ingestion.AuditStore
	ingestion.OrderStore
	ingestion.ResultStore
	api.ResultReader
}

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	store          ingestStore
	flagging       *flagging.Service
	catalogCache   *catalog.CachedLookup
	orchestrator   *ingestion.Orchestrator
	dispatcher     api.OrderDispatcher
	listener       *listener.Server
	health         *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	server         *http.Server
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
	ctx = logging.WithServiceName(ctx, serviceName)

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initDispatch(); err != nil {
		return fmt.Errorf("failed to initialize dispatch: %w", err)
	}

	if a.Config.Listener.Enabled {
		a.listener = listener.NewServer(a.Config.Listener, a.orchestrator, a.Logger)
		metrics.RegisterListenerMetrics()
	}

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIngestMetrics()
	metrics.RegisterFlaggingMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer(ctx)
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis unavailable, catalog cache disabled", "error", err)
	}
	a.redis = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "MongoDB unavailable, quarantine mirror disabled", "error", err)
	}
	a.mongoClient = mongoClient

	if a.db != nil {
		a.health.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redis != nil {
		a.health.Register(health.NewRedisChecker(a.redis))
	}
	if a.mongoClient != nil {
		mongoCheck := health.NewMongoDBChecker(a.mongoClient)
		a.health.Register(health.NewFuncChecker(mongoCheck.Name(), mongoCheck.Check).AsOptional())
	}
	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	var (
		flagRepo    flagging.Repository
		catalogBase catalog.Lookup
	)
	if a.db != nil {
		a.store = ingestion.NewPostgresStore(a.db)
		flagRepo = flagging.NewRepository(a.db)
		catalogBase = catalog.NewRepository(a.db)
	} else {
		a.Logger.WarnwCtx(ctx, "PostgreSQL not configured, ingestion state is kept in memory")
		a.store = ingestion.NewMemoryStore()
		flagRepo = flagging.NewMemoryRepository()
		catalogBase = catalog.NewStaticLookup()
	}

	lookup := catalogBase
	if a.redis != nil && a.Config.Catalog.CacheEnabled {
		cache := catalog.NewCircuitBreakerCache(catalog.NewRedisCache(a.redis), a.Config.CircuitBreaker)
		a.catalogCache = catalog.NewCachedLookup(catalogBase, cache, a.Config.Catalog, a.Logger)
		lookup = a.catalogCache
	}

	a.flagging = flagging.NewService(flagRepo, a.Config.Flagging, a.Logger)
	if err := a.flagging.ReloadRules(ctx, true); err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to load initial flagging rules", "error", err)
	}
	a.health.Register(health.NewFuncChecker("flagging", func(ctx context.Context) error {
		_, err := a.flagging.Current(ctx)
		return err
	}))

	engine, err := flagging.NewEngine(a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create flagging engine: %w", err)
	}

	opts, err := a.orchestratorOptions(ctx)
	if err != nil {
		return err
	}

	a.orchestrator = ingestion.NewOrchestrator(ingestion.Dependencies{
		Ledger:    a.store,
		Audits:    a.store,
		Orders:    a.store,
		Results:   a.store,
		Publisher: ingestion.NewBrokerPublisher(a.Producer, a.outputTopic(), a.source()),
		Snapshots: a.flagging,
		Parser:    parser.New(lookup),
		Flagger:   engine,
	}, a.Logger, opts...)
	return nil
}

func (a *App) orchestratorOptions(ctx context.Context) ([]ingestion.Option, error) {
	var opts []ingestion.Option

	if a.Config.Ingestion.PublishRetry != (config.RetryConfig{}) {
		policy := retry.DefaultPolicy().Override(retry.Policy(a.Config.Ingestion.PublishRetry))
		opts = append(opts, ingestion.WithPublishRetry(policy))
	}

	if a.Config.Archive.Enabled {
		store, err := archive.NewS3Store(ctx, a.Config.Archive.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive store: %w", err)
		}
		opts = append(opts, ingestion.WithArchiver(store))
		a.Logger.InfowCtx(ctx, "Raw message archive enabled", "bucket", a.Config.Archive.S3.Bucket)
	}

	if a.mongoClient != nil {
		sink := quarantine.NewMongoStore(a.dbConnector.MongoDatabase(a.mongoClient), a.Config.Ingestion.QuarantineCollection)
		if err := sink.EnsureIndexes(ctx); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to ensure quarantine indexes", "error", err)
		}
		opts = append(opts, ingestion.WithQuarantineSink(sink))
	}

	return opts, nil
}

// initDispatch leaves a.dispatcher nil when no instruments are configured.
func (a *App) initDispatch() error {
	if len(a.Config.Dispatch.Instruments) == 0 {
		return nil
	}

	router, err := dispatch.NewRouterFromConfig(a.Config.Dispatch, a.Config.Listener.MaxMessageBytes)
	if err != nil {
		return err
	}

	var transport dispatch.Transport = router
	if a.Config.CircuitBreaker.Enabled {
		transport = dispatch.NewCircuitBreakerTransport(router, a.Config.CircuitBreaker)
	}

	a.dispatcher = dispatch.NewDispatcher(a.store, transport, a.orchestrator, a.Config.Dispatch, a.Logger)
	metrics.RegisterDispatchMetrics()
	return nil
}

func (a *App) initHTTPServer(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(a.orchestrator, a.store, a.store, a.dispatcher, a.Logger)
	router := newRouter(ctx, a.Config, handler, a.health, a.Logger)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
}

func newRouter(ctx context.Context, cfg *config.Config, handler *api.Handler, registry *health.CheckerRegistry, log logger.Logger) *gin.Engine {
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())

	if cfg.Server.RateLimit.Enabled {
		router.Use(ratelimit.RateLimitMiddleware(ctx, ratelimit.FromConfig(cfg.Server.RateLimit)))
	}

	handler.RegisterRoutes(router)

	router.GET("/health", health.Handler(registry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func (a *App) outputTopic() string {
	if topic := a.Config.Broker.Kafka.OutputTopic; topic != "" {
		return topic
	}
	return constants.DefaultOutputTopic
}

func (a *App) inputTopic() string {
	if topic := a.Config.Broker.Kafka.InputTopic; topic != "" {
		return topic
	}
	return constants.DefaultInputTopic
}

func (a *App) source() string {
	if a.Config.Ingestion.Source != "" {
		return a.Config.Ingestion.Source
	}
	return serviceName
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.flagging.StartReloader(gCtx)
	})

	if a.catalogCache != nil {
		g.Go(func() error {
			a.catalogCache.ReportSize(gCtx, constants.DefaultCacheSizeReportInterval)
			return nil
		})
	}

	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		configConsumer, err := broker.NewConsumer(a.Config.Broker, serviceName, a.Logger)
		if err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create config event consumer, event-driven reload disabled",
				"error", err,
			)
		} else {
			defer configConsumer.Close()
			configEventHandler := config_handler.NewHandler(
				models.EventTypeFlaggingConfigUpdated,
				models.ServiceTypeFlagging,
				a.flagging,
				a.Logger,
			)

			g.Go(func() error {
				a.Logger.InfowCtx(gCtx, "Starting config update event consumer", "topic", topic)
				return configConsumer.Consume(gCtx, topic, configEventHandler.HandleConfigUpdateEvent)
			})
		}
	}

	envelopeHandler := ingestion.NewEnvelopeHandler(a.orchestrator, a.Logger)
	inputTopic := a.inputTopic()
	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting inbound consumer", "topic", inputTopic)
		return a.Consumer.Consume(gCtx, inputTopic, envelopeHandler.Handle)
	})

	if a.listener != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "MLLP listener starting", "address", a.Config.Listener.Address)
			return a.listener.ListenAndServe(gCtx)
		})
	}

	return g.Wait()
}

// Shutdown releases what Run leaves behind: broker clients, the tracer and
// the database handles.
func (a *App) Shutdown(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, serviceName)

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
