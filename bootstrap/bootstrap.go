// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/kalita/adapters/clock"
	"github.com/artpar/kalita/adapters/idgen"
	"github.com/artpar/kalita/adapters/metrics"
	"github.com/artpar/kalita/config"
	apihttp "github.com/artpar/kalita/core/channel/http"
	"github.com/artpar/kalita/core/events"
	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/runtime"
	"github.com/artpar/kalita/core/storage"
	"github.com/artpar/kalita/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// Options controls how the application is assembled.
type Options struct {
	// ConfigPath is the YAML config file. When it does not exist the
	// configuration comes from KALITA_* environment variables.
	ConfigPath string

	// HotReload watches the config file and listens for SIGHUP.
	HotReload bool

	// Version is reported by the OpenAPI document.
	Version string

	// LogOutput defaults to stdout.
	LogOutput io.Writer

	// Clock defaults to the system clock.
	Clock ports.Clock
}

// App represents the running application.
type App struct {
	Logger   zerolog.Logger
	Config   *config.Config
	Store    storage.Store
	Registry *registry.Registry
	Runtime  *runtime.Runtime
	Events   *events.Bus
	Metrics  *metrics.Collector
	HTTP     *apihttp.Channel

	holder    *config.Holder
	hotReload bool
	watcher   *registry.Watcher
}

// New creates and initializes the application. The schema must load
// without lint issues.
func New(opts Options) (*App, error) {
	a, err := newApp(opts)
	if err != nil {
		return nil, err
	}
	if err := a.Registry.Load(); err != nil {
		a.close()
		return nil, fmt.Errorf("load schema: %w", err)
	}
	a.Logger.Info().
		Int("entities", len(a.Registry.Snapshot().Entities())).
		Str("storage", a.Config.Storage.Driver).
		Msg("kalita initialized")
	return a, nil
}

func newApp(opts Options) (*App, error) {
	a := &App{hotReload: opts.HotReload}

	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	a.Logger = setupLogger(cfg.Logging, out)

	if fileExists(opts.ConfigPath) {
		a.holder, err = config.NewHolder(opts.ConfigPath, a.Logger.With().Str("component", "config").Logger())
		if err != nil {
			return nil, err
		}
		cfg = a.holder.Get()
	}
	a.Config = cfg

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(reg)
	}
	var m ports.Metrics = ports.NopMetrics{}
	if a.Metrics != nil {
		m = a.Metrics
	}

	ids, err := idgen.New(cfg.IDs.Generator, clk)
	if err != nil {
		a.close()
		return nil, err
	}

	a.Store, err = openStore(cfg.Storage)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a.Registry = registry.New(
		registry.DirLoader{SchemaDir: cfg.Schema.Dir, CatalogDir: cfg.Schema.CatalogDir},
		a.Logger.With().Str("component", "registry").Logger(),
		registry.WithMetrics(m),
		registry.WithClock(clk),
	)

	a.Events = events.NewBus(a.Logger)
	a.Events.Subscribe("record.*", func(ctx context.Context, ev events.Event) error {
		a.Logger.Debug().
			Str("event", ev.Name).
			Str("entity", ev.Entity).
			Str("id", ev.ID).
			Int64("version", ev.Version).
			Msg("record event")
		return nil
	})

	a.Runtime = runtime.New(a.Registry, a.Store, runtime.Config{
		Clock:   clk,
		IDs:     ids,
		Events:  a.Events,
		Metrics: m,
		Logger:  a.Logger.With().Str("component", "runtime").Logger(),
		Limits:  limitsFrom(cfg),
	})

	a.HTTP = apihttp.New(a.Runtime, a.Logger.With().Str("component", "http").Logger(), apihttp.Config{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Metrics:      a.Metrics,
		MetricsPath:  cfg.Metrics.Path,
		OpenAPI:      cfg.OpenAPI.Enabled,
		Reloader:     a.Registry,
		Version:      opts.Version,
	})

	if a.holder != nil {
		a.holder.OnChange(a.applyConfig)
	}
	return a, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return storage.NewSQLiteStore(cfg.DSN)
	case "memory", "":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func limitsFrom(cfg *config.Config) runtime.Limits {
	l := runtime.DefaultLimits()
	l.Query.DefaultLimit = cfg.Query.DefaultLimit
	l.Query.MaxLimit = cfg.Query.MaxLimit
	l.BulkWorkers = cfg.Bulk.Workers
	l.BulkMaxItems = cfg.Bulk.MaxItems
	l.ExpandMaxDepth = cfg.Expand.MaxDepth
	l.ExpandMaxChildren = cfg.Expand.MaxChildren
	return l
}

// applyConfig applies the reloadable fields of a new configuration.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.Runtime.SetLimits(limitsFrom(cfg))
	if a.Metrics != nil {
		a.Metrics.ConfigReloads.Inc()
	}
	a.Config = cfg
}

// Run starts the HTTP server and optional watchers, then blocks until ctx
// is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.Config.Schema.Watch {
		a.watcher = registry.NewWatcher(a.Registry, a.Logger.With().Str("component", "watcher").Logger(),
			a.Config.Schema.Dir, a.Config.Schema.CatalogDir)
		if err := a.watcher.Start(); err != nil {
			a.Logger.Warn().Err(err).Msg("schema watcher disabled")
			a.watcher = nil
		}
	}

	if a.hotReload && a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watcher disabled")
		}
		a.holder.WatchSignals()
	}

	a.Logger.Info().Str("addr", a.Config.Server.Addr()).Msg("starting http server")
	if err := a.HTTP.Start(ctx); err != nil {
		_ = a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	}

	<-ctx.Done()
	a.Logger.Info().Msg("shutting down")
	return a.Shutdown()
}

// Shutdown stops the server and watchers and closes the store.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.HTTP != nil {
		if err := a.HTTP.Stop(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
			errs = append(errs, err)
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}

	a.Logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) close() error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.holder != nil {
		a.holder.Stop()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("storage close error")
			return err
		}
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

// ValidateSchema parses the configured schema and catalog directories and
// lints them without opening storage. Parse failures are returned as errors;
// lint findings as issues.
func ValidateSchema(cfg config.SchemaConfig) (*registry.Snapshot, []registry.Issue, error) {
	loader := registry.DirLoader{SchemaDir: cfg.Dir, CatalogDir: cfg.CatalogDir}
	mods, cats, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	snap, issues := registry.Build(mods, cats)
	return snap, issues, nil
}
