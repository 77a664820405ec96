package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Saloed/GalaxyAPI/internal/config"
	"github.com/Saloed/GalaxyAPI/internal/dbexec"
	"github.com/Saloed/GalaxyAPI/internal/engine"
	"github.com/Saloed/GalaxyAPI/internal/logging"
	"github.com/Saloed/GalaxyAPI/internal/observability"
	"github.com/Saloed/GalaxyAPI/internal/querycache"
	"github.com/Saloed/GalaxyAPI/internal/queryexec"
	"github.com/Saloed/GalaxyAPI/internal/registry"
	"github.com/Saloed/GalaxyAPI/internal/sqltemplate"
)

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
		RetryMaxAttempts:  c.RetryMaxAttempts,
	}
}

// InitLogger builds the process logger and, when log exports are enabled,
// the OTLP logger provider that backs it.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.LogsExporter()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     exporterConfig(logsConfig),
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry logging initialized successfully")

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

type appMetrics struct {
	provider *observability.MeterProvider
	endpoint *observability.EndpointMetrics
	registry *observability.RegistryMetrics
	security *observability.SecurityMetrics
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (appMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return appMetrics{}, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
	})
	if err != nil {
		return appMetrics{}, err
	}
	m := appMetrics{provider: meterProvider}

	logger.Info("OpenTelemetry metrics initialized successfully")

	if m.endpoint, err = observability.InitMetrics(logger.Logger); err != nil {
		return m, err
	}
	if m.registry, err = observability.InitRegistryMetrics(logger.Logger); err != nil {
		return m, err
	}
	if m.security, err = observability.InitSecurityMetrics(); err != nil {
		return m, err
	}
	logger.Info("security metrics initialized")

	return m, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.TracesExporter()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	tracerProvider, err := observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       exporterConfig(tracesConfig),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")

	return tracerProvider, nil
}

// buildCache returns the configured response cache and a stop function for
// its background work. A nil cache disables caching.
func buildCache(ctx context.Context, cfg *config.Config, logger *logging.Logger) (querycache.Cache, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Cache.Backend {
	case config.CacheNone:
		logger.Info("response cache disabled")
		return nil, noop, nil

	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		cache := querycache.NewRedis(client, cfg.Cache.Redis.KeyPrefix)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := cache.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis cache unavailable at %s: %w", cfg.Cache.Redis.Addr, err)
		}
		logger.Info("response cache enabled",
			slog.String("backend", config.CacheRedis),
			slog.String("addr", cfg.Cache.Redis.Addr),
			slog.Duration("ttl", cfg.Cache.TTL),
		)
		return cache, func(context.Context) error { return client.Close() }, nil

	case config.CacheMemory, "":
		cache := querycache.NewMemory()
		cleanupCtx, cancel := context.WithCancel(context.Background())
		cache.StartCleanup(cleanupCtx, cfg.Cache.CleanupInterval)
		logger.Info("response cache enabled",
			slog.String("backend", config.CacheMemory),
			slog.Duration("ttl", cfg.Cache.TTL),
			slog.Duration("cleanup_interval", cfg.Cache.CleanupInterval),
		)
		return cache, func(context.Context) error {
			cancel()
			return nil
		}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

func startRegistryManager(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics *observability.RegistryMetrics) (*registry.Manager, context.CancelFunc, error) {
	manager, err := registry.NewManager(ctx, registry.Config{
		Dir:         cfg.Descriptions.Dir,
		Logger:      logger,
		Metrics:     metrics,
		MinInterval: cfg.Descriptions.RefreshMinInterval,
		MaxInterval: cfg.Descriptions.RefreshMaxInterval,
	})
	if err != nil {
		return nil, nil, err
	}

	registryCtx, registryCancel := context.WithCancel(context.Background())
	manager.Start(registryCtx)

	return manager, registryCancel, nil
}

func buildEngine(cfg *config.Config, logger *logging.Logger, executor dbexec.QueryExecutor, cache querycache.Cache, source engine.Source, metrics *observability.EndpointMetrics) (*engine.Engine, error) {
	dialect, err := sqltemplate.DialectFor(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	queries := queryexec.New(queryexec.Config{
		DB:      executor,
		Cache:   cache,
		Dialect: dialect,
		TTL:     cfg.Cache.TTL,
		Logger:  logger,
		Metrics: metrics,
	})

	logger.Info("endpoint engine ready",
		slog.String("dialect", dialect.Name),
		slog.Int("select_concurrency", cfg.Engine.SelectConcurrency),
	)

	return engine.New(engine.Config{
		Source:            source,
		Queries:           queries,
		SelectConcurrency: cfg.Engine.SelectConcurrency,
		Logger:            logger,
		Metrics:           metrics,
	}), nil
}
