// Package main is the CLI entry point for pledge.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/pledge/internal/config"
	"github.com/eliteGoblin/focusd/pledge/internal/daemon"
	"github.com/eliteGoblin/focusd/pledge/internal/domain"
	"github.com/eliteGoblin/focusd/pledge/internal/infra"
	"github.com/eliteGoblin/focusd/pledge/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pledge",
	Short: "Self-commitment rules that are easy to tighten and slow to loosen",
	Long: `pledge keeps a set of blocking rules and decides, from your progress
(steps, workouts, location, time of day), which of them are active right now.

Making a rule stricter applies at once. Deleting, disabling or otherwise
weakening a rule is held for a cool-down period (one hour by default) and
can be cancelled until then.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(ruleCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the evaluation daemon in the foreground",
	Long: `Runs the daemon: applies pending changes once their delay has elapsed,
re-evaluates every rule on each tick and whenever the snapshot file changes,
and writes the resulting decisions for the enforcement layer.`,
	RunE: runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// app bundles the components every command needs.
type app struct {
	cfg    config.Config
	repo   domain.RuleRepository
	lock   *infra.FileLock
	engine *usecase.Engine
	logger *zap.Logger
}

func openApp(logger *zap.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = createCLILogger(cfg)
	}

	repo, err := infra.OpenRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule store: %w", err)
	}

	engine := usecase.NewEngine(repo, usecase.EngineConfig{ChangeDelay: cfg.ChangeDelay}, logger)
	return &app{
		cfg:    cfg,
		repo:   repo,
		lock:   infra.NewFileLock(cfg.DataDir),
		engine: engine,
		logger: logger,
	}, nil
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		a.logger.Warn("failed to close rule store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// load reloads state under the cross-process writer lock. Loading may
// discard shadowed pending changes, so it counts as a write.
func (a *app) load(ctx context.Context) error {
	return a.mutate(ctx, func() error { return nil })
}

// mutate reloads state and runs fn under the cross-process writer lock.
func (a *app) mutate(ctx context.Context, fn func() error) error {
	return infra.WithLock(a.lock, func() error {
		if err := a.engine.Load(ctx); err != nil {
			return err
		}
		return fn()
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	a, err := openApp(logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return err
	}
	defer a.Close()

	registry := infra.NewPIDFile(cfg.DataDir)
	if alive, _ := registry.IsAlive(); alive {
		return fmt.Errorf("pledge daemon is already running")
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	watcherConfig := daemon.DefaultWatcherConfig()
	watcherConfig.EvaluationInterval = cfg.EvaluationInterval
	watcherConfig.SnapshotPath = cfg.SnapshotPath
	watcherConfig.AppVersion = Version

	watcher := daemon.NewWatcher(
		watcherConfig,
		a.engine,
		infra.NewFileSnapshotSource(cfg.SnapshotPath),
		infra.NewFileDecisionSink(cfg.DecisionsPath),
		a.lock,
		registry,
		logger,
	)
	return watcher.Run(ctx)
}

// createLogger builds the daemon logger writing JSON lines to cfg.LogPath.
func createLogger(cfg config.Config) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.LogLevel))
	zc.OutputPaths = []string{cfg.LogPath}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// createCLILogger builds a console logger for one-shot commands. Only
// warnings and above are shown unless log_level asks for more.
func createCLILogger(cfg config.Config) *zap.Logger {
	level := parseLevel(cfg.LogLevel)
	if level < zapcore.WarnLevel && cfg.LogLevel != "debug" {
		level = zapcore.WarnLevel
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("pledge %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
