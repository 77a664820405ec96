package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Saloed/GalaxyAPI/internal/config"
	"github.com/Saloed/GalaxyAPI/internal/serverapp"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// envFileVar names an alternative .env file.
const envFileVar = "GALAXY_ENV_FILE"

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadDotEnv exports the variables of a .env file without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

func versionString() string {
	return fmt.Sprintf("galaxy-api %s (%s)", Version, Commit)
}

func run() error {
	envFile := os.Getenv(envFileVar)
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadDotEnv(envFile); err != nil {
		return err
	}

	pflag.Bool("version", false, "Print version and exit")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Println(versionString())
		return nil
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}
	if err := checkConfig(cfg); err != nil {
		return err
	}

	logger, loggerProvider, err := serverapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	app, err := serverapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, app, cfg.Server.ShutdownTimeout)
}

// checkConfig logs every warning and error found by validation and fails
// when there is at least one error.
func checkConfig(cfg *config.Config) error {
	result := cfg.Validate()
	for _, w := range result.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", w.Field),
			slog.String("message", w.Message),
			slog.String("hint", w.Hint))
	}
	for _, e := range result.Errors {
		slog.Error("configuration error",
			slog.String("field", e.Field),
			slog.String("message", e.Message),
			slog.String("hint", e.Hint))
	}
	if result.HasErrors() {
		return fmt.Errorf("configuration validation failed with %d error(s)", len(result.Errors))
	}
	return nil
}

// serve runs app until ctx ends or the server fails, then shuts down
// within shutdownTimeout. Init failures release what was acquired.
func serve(ctx context.Context, app *serverapp.App, shutdownTimeout time.Duration) error {
	if err := app.Init(ctx); err != nil {
		return err
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.Shutdown(shutdownCtx)
	}

	serverErrors, err := app.Start()
	if err != nil {
		_ = shutdown()
		return err
	}

	reason, waitErr := app.WaitForStop(ctx, nil, serverErrors)
	slog.Info("shutting down server", slog.String("reason", string(reason)))
	if err := errors.Join(waitErr, shutdown()); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}
