package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/Saloed/GalaxyAPI/internal/config"
	"github.com/Saloed/GalaxyAPI/internal/logging"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const maxConnectRetryInterval = 30 * time.Second

var dbSystems = map[string]string{
	config.DriverSQLServer: "mssql",
	config.DriverPostgres:  "postgresql",
	config.DriverMySQL:     "mysql",
	config.DriverSQLite:    "sqlite",
}

func dbSystemAttribute(driver string) attribute.KeyValue {
	system, ok := dbSystems[driver]
	if !ok {
		system = "other_sql"
	}
	return semconv.DBSystemKey.String(system)
}

// connectDB opens the configured driver, wrapped by otelsql when metrics or
// tracing are on. The returned registration is non-nil only when pool
// stats are exported.
func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	dbCfg, obs := cfg.Database, cfg.Observability
	if err := dbCfg.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}
	dsn, err := dbCfg.DSN()
	if err != nil {
		return nil, nil, err
	}

	if !obs.MetricsEnabled && !obs.TracingEnabled {
		db, err := sql.Open(dbCfg.SQLDriverName(), dsn)
		return db, nil, err
	}

	system := dbSystemAttribute(dbCfg.Driver)
	commenter := obs.SQLCommenterEnabled && obs.TracingEnabled
	if obs.SQLCommenterEnabled && !obs.TracingEnabled {
		logger.Warn("sqlcommenter needs tracing; leaving it off")
	}
	opts := []otelsql.Option{otelsql.WithAttributes(system), otelsql.WithSQLCommenter(commenter)}
	if obs.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}

	db, err := otelsql.Open(dbCfg.SQLDriverName(), dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var stats interface{ Unregister() error }
	if obs.MetricsEnabled {
		if reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system)); err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		} else {
			stats = reg
		}
	}
	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", obs.MetricsEnabled),
		slog.Bool("tracing", obs.TracingEnabled),
		slog.Bool("sqlcommenter", commenter),
	)
	return db, stats, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, dsnPresent bool) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg.Database, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("driver", cfg.Database.Driver),
		slog.String("database", cfg.Database.Database),
		slog.Bool("dsn_present", dsnPresent),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

// waitForDatabase pings until the database answers. A zero connection
// timeout means a single attempt; otherwise attempts back off exponentially
// from the retry interval, capped at 30s, until the timeout elapses.
func waitForDatabase(ctx context.Context, dbCfg config.DatabaseConfig, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if dbCfg.ConnectionTimeout <= 0 {
		return db.PingContext(ctx)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = dbCfg.ConnectionRetryInterval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = maxConnectRetryInterval
	policy.MaxElapsedTime = dbCfg.ConnectionTimeout

	attempt := 0
	operation := func() error {
		attempt++
		return db.PingContext(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("database not available after %v: %w", dbCfg.ConnectionTimeout, err)
	}
	if attempt > 1 {
		logger.Info("database connection established", slog.Int("attempts", attempt))
	}
	return nil
}
