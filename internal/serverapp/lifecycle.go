package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/Saloed/GalaxyAPI/internal/logging"
)

// StopReason tells why WaitForStop returned.
type StopReason string

const (
	StopSignal      StopReason = "signal"
	StopContext     StopReason = "context"
	StopServerError StopReason = "server_error"
)

// Start binds the listen address and serves in the background. Bind errors
// are returned directly; later serve failures arrive on the channel.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, errors.New("app is not initialized")
	}
	if a.started {
		return a.serverErrors, nil
	}

	ln, err := net.Listen("tcp", a.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", a.serverAddr, err)
	}
	a.listener = ln
	a.serverErrors = make(chan error, 1)
	a.started = true
	a.logStartup(ln.Addr().String())

	go func(srv *http.Server, errs chan<- error) {
		var err error
		if srv.TLSConfig != nil {
			// The certificate comes from TLSConfig.GetCertificate.
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("server failed: %w", err)
		}
	}(a.srv, a.serverErrors)

	return a.serverErrors, nil
}

// Addr is the bound listen address, or "" before Start.
func (a *App) Addr() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *App) logStartup(addr string) {
	cfg := a.cfg
	protocol := "http"
	if tlsEnabled(cfg) {
		protocol = "https"
	}
	attrs := []any{
		slog.String("protocol", protocol),
		slog.String("address", addr),
		slog.String("api_base_path", apiBasePath(cfg)),
		slog.String("health_endpoint", healthPath),
		slog.String("descriptions_dir", cfg.Descriptions.Dir),
		slog.String("cache_backend", cfg.Cache.Backend),
	}
	if cfg.Observability.MetricsEnabled {
		attrs = append(attrs, slog.String("metrics_endpoint", metricsPath))
	}
	if cfg.Server.Admin.ReloadEnabled {
		attrs = append(attrs, slog.String("reload_endpoint", reloadPath))
	}
	if cfg.Server.RateLimit.Enabled {
		attrs = append(attrs,
			slog.Float64("rate_limit_rps", cfg.Server.RateLimit.RPS),
			slog.Int("rate_limit_burst", cfg.Server.RateLimit.Burst),
		)
	}
	a.logger.Info("server starting", attrs...)
}

// WaitForStop blocks until ctx is done, a signal arrives on stop, or the
// server fails. A nil channel is never selected; serverErrors defaults to
// the channel returned by Start.
func (a *App) WaitForStop(ctx context.Context, stop <-chan os.Signal, serverErrors <-chan error) (StopReason, error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}
	if ctx == nil {
		if stop == nil && serverErrors == nil {
			return "", errors.New("nothing to wait for")
		}
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested", slog.String("cause", context.Cause(ctx).Error()))
		return StopContext, nil
	case sig := <-stop:
		a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		return StopSignal, nil
	case err := <-serverErrors:
		if err == nil {
			return StopServerError, errors.New("server stopped unexpectedly")
		}
		return StopServerError, err
	}
}

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack []cleanupItem

type cleanupItem struct {
	name string
	fn   func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	*s = append(*s, cleanupItem{name: name, fn: fn})
}

// run calls every cleanup function, even after failures, and joins the errors.
func (s cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		item := s[i]
		logger.Info("shutting down " + item.name)
		if err := item.fn(ctx); err != nil {
			logger.Warn("cleanup error",
				slog.String("component", item.name),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", item.name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown releases everything Init acquired. Only the first call does
// work; later calls return the same result.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.started = false
		a.stateMu.Unlock()

		a.shutdownErr = cleanup.run(ctx, a.logger)
	})
	return a.shutdownErr
}
