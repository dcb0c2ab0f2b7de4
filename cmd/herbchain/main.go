package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/herbchain/internal/adapters/server"
	"github.com/hylla/herbchain/internal/adapters/storage/memory"
	"github.com/hylla/herbchain/internal/adapters/storage/postgres"
	"github.com/hylla/herbchain/internal/adapters/storage/sqlite"
	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/config"
	"github.com/hylla/herbchain/internal/platform"
)

// version stores a package-level helper value.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// main handles main.
func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run builds the command tree and executes it with fang.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return fang.Execute(ctx, root, fang.WithVersion(version), fang.WithoutManpage())
}

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	quiet      bool
}

func newRootCommand(stderr io.Writer) *cobra.Command {
	opts := &globalOptions{appName: platform.DefaultAppName, devMode: version == "dev"}
	if envDev, ok := envBool("HERBCHAIN_DEV_MODE"); ok {
		opts.devMode = envDev
	}
	if envApp := strings.TrimSpace(os.Getenv("HERBCHAIN_APP_NAME")); envApp != "" {
		opts.appName = envApp
	}

	root := &cobra.Command{
		Use:           "herbchain",
		Short:         "Herb supply-chain provenance ledger",
		Long:          "Record herb collections, lab tests, manufacturing, and packaging, and trace any consumer code back to its origin.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", opts.appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", opts.devMode, "use dev mode paths (<app>-dev)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress console logging")

	open := func(ctx context.Context) (*session, error) {
		return openSession(ctx, *opts, stderr)
	}
	root.AddCommand(
		newPathsCommand(opts),
		newServeCommand(open),
		newActorsCommand(open),
		newRecordsCommand(open),
		newTraceCommand(open),
		newReportCommand(open),
		newEventsCommand(open),
		newHeadroomCommand(open),
		newExportCommand(open),
	)
	return root
}

// session is one opened configuration, storage backend, and service.
type session struct {
	appName string
	cfg     config.Config
	paths   platform.Paths
	logger  *ledgerLog
	metrics *platform.Metrics
	service *app.Service
	ready   func(context.Context) error
	closers []func() error
}

// resolvePaths applies flag and environment overrides to platform paths.
func resolvePaths(opts globalOptions) (platform.Paths, string, string, bool, error) {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{
		AppName: opts.appName,
		DevMode: opts.devMode,
	})
	if err != nil {
		return platform.Paths{}, "", "", false, err
	}
	configPath := strings.TrimSpace(opts.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("HERBCHAIN_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(opts.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("HERBCHAIN_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}
	return paths, configPath, dbPath, dbOverridden, nil
}

// openSession loads config, opens the configured ledger, seeds actors, and builds the service.
func openSession(ctx context.Context, opts globalOptions, stderr io.Writer) (*session, error) {
	paths, configPath, dbPath, dbOverridden, err := resolvePaths(opts)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}
	if dsn := strings.TrimSpace(os.Getenv("HERBCHAIN_POSTGRES_DSN")); dsn != "" {
		cfg.Database.Driver = config.DriverPostgres
		cfg.Database.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logger, err := openLedgerLog(stderr, opts.appName, opts.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.SetConsoleEnabled(!opts.quiet)
	s := &session{
		appName: opts.appName,
		cfg:     cfg,
		paths:   paths,
		logger:  logger,
		metrics: platform.NewMetrics(),
		closers: []func() error{logger.Close},
	}
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	ledger, actors, err := s.openStore(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.service = app.NewService(ledger, actors, uuid.NewString, time.Now, app.ServiceConfig{
		CodeYear: cfg.Codes.Year,
		Logger:   logger,
		Metrics:  s.metrics,
	})
	if err := s.seedActors(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// openStore opens the configured storage driver.
func (s *session) openStore(ctx context.Context) (app.Ledger, app.ActorStore, error) {
	db := s.cfg.Database
	switch s.cfg.DriverName() {
	case config.DriverMemory:
		s.logger.Warn("using in-memory ledger; records are lost on exit")
		store := memory.NewStore()
		return store, store, nil
	case config.DriverPostgres:
		s.logger.Info("opening postgres ledger")
		store, err := postgres.Open(ctx, db.DSN)
		if err != nil {
			s.logger.Error("postgres open failed", "err", err)
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		s.ready = store.Ping
		s.closers = append(s.closers, store.Close)
		return store, store, nil
	default:
		s.logger.Info("opening sqlite ledger", "db_path", db.Path)
		store, err := sqlite.Open(db.Path)
		if err != nil {
			s.logger.Error("sqlite open failed", "db_path", db.Path, "err", err)
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		s.ready = store.Ping
		s.closers = append(s.closers, store.Close)
		return store, store, nil
	}
}

// seedActors registers configured actors. Re-registering identical details is a no-op.
func (s *session) seedActors(ctx context.Context) error {
	for _, actor := range s.cfg.Actors {
		if _, err := s.service.RegisterActor(ctx, app.RegisterActorInput{
			ID:      actor.ID,
			Name:    actor.Name,
			Role:    actor.Role,
			Company: actor.Company,
			License: actor.License,
		}); err != nil {
			return fmt.Errorf("seed actor %q: %w", actor.ID, err)
		}
	}
	s.logger.Debug("seed actors ensured", "count", len(s.cfg.Actors))
	return nil
}

// Close releases the storage backend and log sinks, storage first.
func (s *session) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// envBool reports the parsed value of a boolean env var and whether it was set to one.
func envBool(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
