package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Saloed/GalaxyAPI/internal/dbexec"
	"github.com/Saloed/GalaxyAPI/internal/querycache"
	"github.com/Saloed/GalaxyAPI/internal/registry"
)

// bootstrap carries what earlier Init stages produced to later ones.
type bootstrap struct {
	metrics appMetrics
	db      *sql.DB
	cache   querycache.Cache
	manager *registry.Manager
	srv     *http.Server
	handler http.Handler
	addr    string
	cleanup cleanupStack
}

type initStage struct {
	name string
	run  func(context.Context, *bootstrap) error
}

// Init acquires every runtime resource in order: telemetry, database,
// response cache, description registry, HTTP server. A failing stage
// releases what the earlier ones acquired. Init is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	done := a.initialized
	a.stateMu.Unlock()
	if done {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b := &bootstrap{}
	if a.loggerProvider != nil {
		b.cleanup.push("logger provider", func(c context.Context) error {
			return a.loggerProvider.Shutdown(c, a.logger.Logger)
		})
	}
	stages := []initStage{
		{"OpenTelemetry", a.initTelemetry},
		{"database", a.initDatabase},
		{"response cache", a.initCache},
		{"endpoint descriptions", a.initRegistry},
		{"HTTP server", a.initHTTP},
	}
	for _, stage := range stages {
		if err := stage.run(ctx, b); err != nil {
			if cerr := b.cleanup.run(context.Background(), a.logger); cerr != nil {
				a.logger.Warn("cleanup after failed init", slog.String("error", cerr.Error()))
			}
			return fmt.Errorf("failed to initialize %s: %w", stage.name, err)
		}
	}

	a.stateMu.Lock()
	a.handler = b.handler
	a.serverAddr = b.addr
	a.srv = b.srv
	a.cleanup = b.cleanup
	a.initialized = true
	a.stateMu.Unlock()
	return nil
}

func (a *App) initTelemetry(_ context.Context, b *bootstrap) error {
	metrics, err := initMetrics(a.cfg, a.logger)
	if metrics.provider != nil {
		b.cleanup.push("meter provider", func(c context.Context) error {
			return metrics.provider.Shutdown(c, a.logger.Logger)
		})
	}
	if err != nil {
		return err
	}
	b.metrics = metrics

	tp, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return err
	}
	if tp != nil {
		b.cleanup.push("tracer provider", func(c context.Context) error {
			return tp.Shutdown(c, a.logger.Logger)
		})
	}
	return nil
}

func (a *App) initDatabase(ctx context.Context, b *bootstrap) error {
	db := a.cfg.Database
	a.logger.Info("connecting to database",
		slog.String("driver", db.Driver),
		slog.String("host", db.Host),
		slog.Int("port", db.EffectivePort()),
		slog.String("database", db.Database),
		slog.Bool("dsn_present", a.dsnPresent),
	)

	conn, statsReg, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return err
	}
	b.cleanup.push("database", func(context.Context) error {
		if statsReg != nil {
			if err := statsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return conn.Close()
	})
	b.db = conn
	return configureDatabase(ctx, a.cfg, a.logger, conn, a.dsnPresent)
}

func (a *App) initCache(ctx context.Context, b *bootstrap) error {
	cache, stop, err := buildCache(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	b.cleanup.push("response cache", stop)
	b.cache = cache
	return nil
}

func (a *App) initRegistry(ctx context.Context, b *bootstrap) error {
	manager, cancel, err := startRegistryManager(ctx, a.cfg, a.logger, b.metrics.registry)
	if err != nil {
		return err
	}
	b.cleanup.push("description registry", func(c context.Context) error {
		cancel()
		return manager.Wait(c)
	})
	b.manager = manager
	return nil
}

func (a *App) initHTTP(_ context.Context, b *bootstrap) error {
	executor := dbexec.NewStandardExecutor(b.db, a.cfg.Database.SQLDriverName())
	eng, err := buildEngine(a.cfg, a.logger, executor, b.cache, b.manager, b.metrics.endpoint)
	if err != nil {
		return fmt.Errorf("endpoint engine: %w", err)
	}
	api, err := buildAPIHandler(a.cfg, a.logger, eng, b.manager, b.metrics.endpoint, b.metrics.security)
	if err != nil {
		return fmt.Errorf("API handler: %w", err)
	}
	admin, err := buildAdminHandler(a.cfg, a.logger, b.manager, b.metrics.security)
	if err != nil {
		return fmt.Errorf("admin handler: %w", err)
	}

	router := buildRouter(a.cfg, a.logger, routes{
		API:     api,
		Admin:   admin,
		Health:  healthHandler(b.db, b.cache, a.cfg.Server.HealthCheckTimeout),
		Metrics: b.metrics.provider != nil,
	})
	b.handler = wrapHTTPHandler(a.cfg, a.logger, router)
	b.addr = fmt.Sprintf(":%d", a.cfg.Server.Port)

	srv, err := buildServer(a.cfg, a.logger, b.handler, b.addr)
	if err != nil {
		return fmt.Errorf("TLS: %w", err)
	}
	b.cleanup.push("HTTP server", srv.Shutdown)
	b.srv = srv
	return nil
}
