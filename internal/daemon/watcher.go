// Package daemon implements the long-running evaluation daemon.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
	"github.com/eliteGoblin/focusd/pledge/internal/usecase"
)

// RuleEngine is the part of usecase.Engine the daemon drives.
type RuleEngine interface {
	Load(ctx context.Context) error
	Sweep(ctx context.Context) (usecase.SweepResult, error)
	Evaluate(snap domain.ProgressSnapshot) domain.DecisionSet
}

// WatcherConfig holds daemon configuration.
type WatcherConfig struct {
	EvaluationInterval time.Duration // How often to sweep and re-evaluate (default 30s)
	SnapshotPath       string        // File to watch for progress updates; empty disables watching
	MinTriggerGap      time.Duration // Minimum gap between snapshot-triggered passes
	AppVersion         string
}

// DefaultWatcherConfig returns default daemon configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		EvaluationInterval: 30 * time.Second,
		MinTriggerGap:      2 * time.Second,
	}
}

// Watcher periodically sweeps the pending-change ledger and publishes fresh
// decisions. It also re-evaluates when the snapshot file changes.
type Watcher struct {
	config    WatcherConfig
	engine    RuleEngine
	snapshots domain.SnapshotSource
	sink      domain.DecisionSink
	lock      domain.WriterLock
	registry  domain.DaemonRegistry
	logger    *zap.Logger

	// loaded is set once the engine has loaded rules successfully. Until
	// then nothing is published, so a previous decisions file survives.
	loaded bool
}

// NewWatcher creates a new daemon.
func NewWatcher(
	config WatcherConfig,
	engine RuleEngine,
	snapshots domain.SnapshotSource,
	sink domain.DecisionSink,
	lock domain.WriterLock,
	registry domain.DaemonRegistry,
	logger *zap.Logger,
) *Watcher {
	if config.MinTriggerGap <= 0 {
		config.MinTriggerGap = DefaultWatcherConfig().MinTriggerGap
	}
	return &Watcher{
		config:    config,
		engine:    engine,
		snapshots: snapshots,
		sink:      sink,
		lock:      lock,
		registry:  registry,
		logger:    logger,
	}
}

// Run starts the daemon loop. It blocks until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	if w.registry != nil {
		d := domain.Daemon{PID: os.Getpid(), StartedAt: time.Now(), AppVersion: w.config.AppVersion}
		if err := w.registry.Register(d); err != nil {
			w.logger.Warn("failed to register daemon", zap.Error(err))
		}
		defer func() {
			if err := w.registry.Clear(); err != nil {
				w.logger.Warn("failed to clear daemon registration", zap.Error(err))
			}
		}()
	}

	w.logger.Info("pledge daemon started",
		zap.Int("pid", os.Getpid()),
		zap.Duration("interval", w.config.EvaluationInterval))

	triggers := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.watchSnapshot(gctx, triggers) })
	g.Go(func() error { return w.loop(gctx, triggers) })

	err := g.Wait()
	w.logger.Info("pledge daemon stopping")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Watcher) loop(ctx context.Context, triggers <-chan struct{}) error {
	limiter := rate.NewLimiter(rate.Every(w.config.MinTriggerGap), 1)

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.config.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			w.RunOnce(ctx)

		case <-triggers:
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			w.logger.Debug("snapshot changed, re-evaluating")
			w.RunOnce(ctx)
		}
	}
}

// RunOnce reloads state, sweeps ready changes and publishes decisions.
// Failures are logged; the next pass retries. If the rules have never been
// loaded, nothing is published.
func (w *Watcher) RunOnce(ctx context.Context) {
	err := w.withLock(func() error {
		if err := w.engine.Load(ctx); err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		w.loaded = true
		result, err := w.engine.Sweep(ctx)
		if n := len(result.Applied); n > 0 {
			w.logger.Info("applied pending changes", zap.Int("count", n))
		}
		if err != nil {
			return fmt.Errorf("failed to sweep pending changes: %w", err)
		}
		return nil
	})
	if err != nil {
		w.logger.Error("refresh failed", zap.Error(err))
	}
	if !w.loaded {
		w.logger.Warn("no rules loaded yet, keeping previous decisions")
		return
	}

	snap, err := w.snapshots.Snapshot(ctx)
	if err != nil {
		// An empty snapshot leaves every progress-based condition unmet.
		w.logger.Warn("failed to read snapshot, evaluating with empty snapshot", zap.Error(err))
		snap = domain.ProgressSnapshot{}
	}

	decisions := w.engine.Evaluate(snap)
	if err := w.sink.Publish(ctx, decisions); err != nil {
		w.logger.Error("failed to publish decisions", zap.Error(err))
		return
	}

	blocked := 0
	for _, d := range decisions.Rules {
		if d.Blocked {
			blocked++
		}
	}
	w.logger.Debug("decisions published",
		zap.Int("rules", len(decisions.Rules)),
		zap.Int("blocked", blocked))
}

func (w *Watcher) withLock(fn func() error) error {
	if w.lock == nil {
		return fn()
	}
	if err := w.lock.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := w.lock.Unlock(); err != nil {
			w.logger.Warn("failed to release writer lock", zap.Error(err))
		}
	}()
	return fn()
}

// watchSnapshot signals triggers whenever the snapshot file is written or
// replaced. Without a usable watcher the daemon falls back to polling only.
func (w *Watcher) watchSnapshot(ctx context.Context, triggers chan<- struct{}) error {
	if w.config.SnapshotPath == "" {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("snapshot watching disabled", zap.Error(err))
		return nil
	}
	defer fsw.Close()

	// Watch the directory: writers usually replace the file by rename.
	dir := filepath.Dir(w.config.SnapshotPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		w.logger.Warn("snapshot watching disabled", zap.Error(err))
		return nil
	}
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("snapshot watching disabled", zap.String("dir", dir), zap.Error(err))
		return nil
	}

	target := filepath.Clean(w.config.SnapshotPath)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				select {
				case triggers <- struct{}{}:
				default: // a pass is already queued
				}
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("snapshot watcher error", zap.Error(err))
		}
	}
}
