package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/jzhao23/social-reading-discovery/config"
	"github.com/jzhao23/social-reading-discovery/internal/repositories/connection"
	"github.com/jzhao23/social-reading-discovery/internal/repositories/feeditem"
	"github.com/jzhao23/social-reading-discovery/internal/repositories/importrecord"
	"github.com/jzhao23/social-reading-discovery/internal/repositories/resolutioncache"
	"github.com/jzhao23/social-reading-discovery/pkg/database"
	"github.com/jzhao23/social-reading-discovery/pkg/events"
	"github.com/jzhao23/social-reading-discovery/pkg/fetcher"
	"github.com/jzhao23/social-reading-discovery/pkg/goodreads"
	"github.com/jzhao23/social-reading-discovery/pkg/httpclient"
	"github.com/jzhao23/social-reading-discovery/pkg/jobs"
	"github.com/jzhao23/social-reading-discovery/pkg/kafka"
	"github.com/jzhao23/social-reading-discovery/pkg/middleware"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/ratelimit"
	"github.com/jzhao23/social-reading-discovery/pkg/redis"
	"github.com/jzhao23/social-reading-discovery/pkg/resolution"
	"github.com/jzhao23/social-reading-discovery/pkg/routes/connections"
	"github.com/jzhao23/social-reading-discovery/pkg/routes/feed"
	"github.com/jzhao23/social-reading-discovery/pkg/routes/health"
	"github.com/jzhao23/social-reading-discovery/pkg/routes/imports"
	"github.com/jzhao23/social-reading-discovery/pkg/routes/lookup"
	"github.com/jzhao23/social-reading-discovery/pkg/startup"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing/exporters"
	"github.com/jzhao23/social-reading-discovery/pkg/twitter"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.TracingEnabled {
		shutdown, err := setupTracing(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer shutdown(ctx)
	}

	// Redis backs the fetch cache, job streams, DLQ, distributed locks and
	// shared rate limits.
	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	streams := redis.NewStreams(redisClient)
	dlq := redis.NewDeadLetterQueue(redisClient, redis.DefaultDLQStream, logger)
	locker := redis.NewLocker(redisClient, "reading")
	fetchCache := redis.NewCache(redisClient, "fetch", cfg.FetchCacheTTL)

	dbPort, err := strconv.Atoi(cfg.DatabasePort)
	if err != nil {
		return fmt.Errorf("invalid DB_PORT %q: %w", cfg.DatabasePort, err)
	}

	db, err := database.Connect(ctx, database.ConnectConfig{
		Host:            cfg.DatabaseHost,
		Port:            dbPort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
		MigrationPath:   cfg.DatabaseMigrationFolderPath,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	importRepo := importrecord.NewRepository(db, logger)
	connectionRepo := connection.NewRepository(db, logger)
	cacheRepo := resolutioncache.NewRepository(db, logger)
	feedRepo := feeditem.NewRepository(db, logger)

	// Both upstream clients share one fetcher so caching, spacing and rate
	// limits are enforced in a single place.
	httpClient := httpclient.NewClient(httpclient.DefaultConfig(), logger)
	limits := ratelimit.NewManager(redisClient, logger)
	fetch := fetcher.New(httpClient, fetchCache, limits, map[models.SourcePlatform]fetcher.SourceConfig{
		models.PlatformTwitter: {
			RequestDelay:  cfg.TwitterRequestDelay,
			CacheTTL:      cfg.FetchCacheTTL,
			RetryAfterCap: cfg.FetchRetryAfterCap,
			Limits: []ratelimit.Limit{
				// Twitter caps the following endpoint at 15 requests per
				// 15 minute window.
				{Name: "twitter-following", Requests: 15, Window: 15 * time.Minute, Endpoint: `/following`},
			},
		},
		models.PlatformGoodreads: {
			RequestDelay:  cfg.GoodreadsRequestDelay,
			CacheTTL:      cfg.FetchCacheTTL,
			RetryAfterCap: cfg.FetchRetryAfterCap,
			Limits: []ratelimit.Limit{
				{Name: "goodreads-search", Requests: cfg.ResolveRatePerSecond, Window: time.Second, Endpoint: `/search`},
				{Name: "goodreads", Requests: cfg.ActivityRatePerSecond, Window: time.Second},
			},
		},
	}, logger)

	twitterClient := twitter.NewClient(fetch, twitter.Config{
		BaseURL:     cfg.TwitterBaseURL,
		BearerToken: cfg.TwitterBearerToken,
		PageSize:    cfg.TwitterPageSize,
	}, logger)

	goodreadsClient := goodreads.NewClient(fetch, goodreads.Config{
		BaseURL: cfg.GoodreadsBaseURL,
	}, logger)

	cacheValidity := time.Duration(cfg.CacheValidityDays) * 24 * time.Hour
	pipeline := resolution.NewPipeline(
		resolution.DefaultMatchers(goodreadsClient, logger),
		cacheRepo,
		cacheValidity,
		logger,
	)

	var producer *kafka.Producer
	if cfg.KafkaEventsEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaEventTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
	}
	emitter := events.NewEmitter(producer, logger)

	handlers := jobs.NewHandlers(
		importRepo,
		connectionRepo,
		feedRepo,
		twitterClient,
		goodreadsClient,
		pipeline,
		emitter,
		locker,
		cfg.ReadShelfFeedLimit,
		logger,
	)

	var dispatcher jobs.Dispatcher
	if cfg.QueueEnabled {
		dispatcher = jobs.NewQueueDispatcher(streams, logger)
	} else {
		dispatcher = jobs.NewInlineDispatcher(handlers, cfg.JobMaxAttempts, 0, logger)
	}
	handlers.SetDispatcher(dispatcher)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	if cfg.QueueEnabled {
		workerCounts := map[jobs.Kind]int{
			jobs.KindImport:   cfg.ImportWorkerCount,
			jobs.KindResolve:  cfg.ResolveWorkerCount,
			jobs.KindActivity: cfg.ActivityWorkerCount,
			jobs.KindRefresh:  1,
		}
		for kind, workers := range workerCounts {
			pcfg := jobs.DefaultProcessorConfig(kind)
			pcfg.WorkerCount = workers
			pcfg.MaxRetries = cfg.JobMaxAttempts
			boot.AddDependency(jobs.NewProcessor(streams, dlq, handlers, pcfg, logger))
		}
		if err := boot.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job processors: %w", err)
		}
	}

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := registerDependencies(container, logger, db, importRepo, connectionRepo, cacheRepo, feedRepo, twitterClient, pipeline, dispatcher); err != nil {
		return fmt.Errorf("failed to register dependencies: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(containerMiddleware())
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	api := e.Group("/api/v1")
	imports.Register(api.Group("/imports"))
	connections.Register(api.Group("/connections"))
	feed.Register(api.Group("/feed"))
	lookup.Register(api.Group("/lookup"))

	checker := health.NewChecker(db, redisClient, version)
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	checker.SetReady(true)
	logger.WithField("port", cfg.Port).Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	}

	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Job processors did not stop cleanly")
	}

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// setupTracing installs an OTLP-backed tracer provider and returns its
// shutdown function.
func setupTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OtelExporterEndpoint,
		Protocol: cfg.OtelExporterProtocol,
		Insecure: cfg.OtelExporterInsecure,
		Timeout:  cfg.OtelExporterTimeout,
	})
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", cfg.AppName),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	return tp.Shutdown, nil
}

func registerDependencies(
	container ectocontainer.DIContainer,
	logger ectologger.Logger,
	db database.DB,
	importRepo *importrecord.Repository,
	connectionRepo *connection.Repository,
	cacheRepo *resolutioncache.Repository,
	feedRepo *feeditem.Repository,
	twitterClient *twitter.Client,
	pipeline *resolution.Pipeline,
	dispatcher jobs.Dispatcher,
) error {
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[database.DB](container, db); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*importrecord.Repository](container, importRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*connection.Repository](container, connectionRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*resolutioncache.Repository](container, cacheRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*feeditem.Repository](container, feedRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*twitter.Client](container, twitterClient); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*resolution.Pipeline](container, pipeline); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[jobs.Dispatcher](container, dispatcher); err != nil {
		return err
	}
	return nil
}

// containerMiddleware attaches the active DI container to every request
// context so handlers can resolve their dependencies.
func containerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx, err := ectoinject.SetActiveContainer(req.Context(), ectoinject.GetDefaultContainer().GetContainerID())
			if err != nil {
				return err
			}
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
