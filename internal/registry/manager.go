// Package registry loads endpoint descriptions into immutable registry
// snapshots and swaps in a rebuilt snapshot when the descriptions change.
// A rebuild that fails validation never replaces the active snapshot.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Saloed/GalaxyAPI/internal/endpoint"
	"github.com/Saloed/GalaxyAPI/internal/fingerprint"
	"github.com/Saloed/GalaxyAPI/internal/logging"
	"github.com/Saloed/GalaxyAPI/internal/observability"
)

// Snapshot is one validated generation of the endpoint registry.
type Snapshot struct {
	Registry    *endpoint.Registry
	Warnings    []string
	BuiltAt     time.Time
	Fingerprint string
}

// Config controls loading and refresh behavior.
type Config struct {
	// Dir is the description directory. FS takes precedence when set.
	Dir     string
	FS      fs.FS
	Logger  *logging.Logger
	Metrics *observability.RegistryMetrics
	// MinInterval and MaxInterval bound the polling back-off. Polling is
	// disabled when MinInterval is zero.
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Manager owns the active snapshot.
type Manager struct {
	fsys        fs.FS
	logger      *logging.Logger
	metrics     *observability.RegistryMetrics
	minInterval time.Duration
	maxInterval time.Duration
	active      atomic.Pointer[Snapshot]
	reloadMu    sync.Mutex
	// rejected is the fingerprint of the last tree that failed to build;
	// polling leaves it alone until the files change again.
	rejected string
	wg       sync.WaitGroup
}

// NewManager loads the descriptions once and fails if they are invalid.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	fsys := cfg.FS
	if fsys == nil {
		if cfg.Dir == "" {
			return nil, errors.New("registry manager requires a description directory")
		}
		fsys = os.DirFS(cfg.Dir)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	m := &Manager{
		fsys:        fsys,
		logger:      logger.WithFields(slog.String("component", "registry")),
		metrics:     cfg.Metrics,
		minInterval: minInterval,
		maxInterval: maxInterval,
	}

	start := time.Now()
	snapshot, err := m.build(ctx)
	if err != nil {
		m.recordReload(ctx, time.Since(start), false, "startup", 0)
		return nil, err
	}
	m.active.Store(snapshot)
	m.recordReload(ctx, time.Since(start), true, "startup", snapshot.Registry.Len())
	m.logSnapshot(snapshot)
	return m, nil
}

// Current returns the active registry.
func (m *Manager) Current() *endpoint.Registry {
	if s := m.active.Load(); s != nil {
		return s.Registry
	}
	return nil
}

// CurrentSnapshot returns the active snapshot.
func (m *Manager) CurrentSnapshot() *Snapshot {
	return m.active.Load()
}

// Start begins the background polling loop.
func (m *Manager) Start(ctx context.Context) {
	if m.minInterval <= 0 {
		m.logger.Info("description polling disabled")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// RefreshNowContext rebuilds the registry and swaps it in. On error the
// previous snapshot stays active.
func (m *Manager) RefreshNowContext(ctx context.Context) (*Snapshot, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	start := time.Now()
	snapshot, err := m.build(ctx)
	if err != nil {
		m.recordReload(ctx, time.Since(start), false, "manual", 0)
		m.logger.Error("description reload rejected, keeping previous registry", slog.String("error", err.Error()))
		return nil, err
	}
	m.active.Store(snapshot)
	m.rejected = ""
	m.recordReload(ctx, time.Since(start), true, "manual", snapshot.Registry.Len())
	m.logSnapshot(snapshot)
	return snapshot, nil
}

// Wait blocks until the refresh loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("description polling stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	start := time.Now()
	fp, err := Fingerprint(m.fsys)
	if err != nil {
		m.logger.Warn("description fingerprint failed", slog.String("error", err.Error()))
		m.recordReload(ctx, time.Since(start), false, "poll", 0)
		*interval = m.minInterval
		return
	}

	current := m.active.Load()
	if (current != nil && current.Fingerprint == fp) || fp == m.rejected {
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}

	m.logger.Info("description change detected, rebuilding", slog.String("fingerprint", fp))
	snapshot, err := m.build(ctx)
	if err != nil {
		m.logger.Error("failed to rebuild registry, keeping previous",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
		m.recordReload(ctx, time.Since(start), false, "poll", 0)
		m.rejected = fp
		*interval = m.minInterval
		return
	}

	m.active.Store(snapshot)
	m.rejected = ""
	*interval = m.minInterval
	m.recordReload(ctx, time.Since(start), true, "poll", snapshot.Registry.Len())
	m.logSnapshot(snapshot)
}

func (m *Manager) build(ctx context.Context) (*Snapshot, error) {
	_, span := otel.Tracer("galaxy-api/registry").Start(ctx, "registry.build")
	defer span.End()

	fp, err := Fingerprint(m.fsys)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	endpoints, err := endpoint.LoadFS(m.fsys)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	reg, report, err := endpoint.NewRegistry(endpoints)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("registry.endpoints", reg.Len()),
		attribute.String("registry.fingerprint", fp),
	)
	return &Snapshot{
		Registry:    reg,
		Warnings:    report.Warnings,
		BuiltAt:     time.Now(),
		Fingerprint: fp,
	}, nil
}

func (m *Manager) logSnapshot(s *Snapshot) {
	for _, w := range s.Warnings {
		m.logger.Warn("description warning", slog.String("warning", w))
	}
	m.logger.Info("endpoint registry loaded",
		slog.Int("endpoints", s.Registry.Len()),
		slog.String("fingerprint", s.Fingerprint),
	)
}

func (m *Manager) recordReload(ctx context.Context, duration time.Duration, success bool, trigger string, endpoints int) {
	m.metrics.RecordReload(ctx, duration, success, trigger, endpoints)
}

// Fingerprint hashes the names and contents of the description files and
// everything under sql/, in path order.
func Fingerprint(fsys fs.FS) (string, error) {
	var paths []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && p != endpoint.SQLDir {
				return fs.SkipDir
			}
			return nil
		}
		if path.Dir(p) == "." && !endpoint.IsDescriptionFile(p) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to list descriptions: %w", err)
	}
	sort.Strings(paths)

	h := fingerprint.New()
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", p, err)
		}
		h.Add(p)
		h.Add(string(data))
	}
	return h.Sum(), nil
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}
