package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// setting is one addressable config value. apply is nil when a change only
// takes effect after a restart.
type setting struct {
	name  string
	get   func(*Config) any
	apply func(dst, src *Config)
}

var settings = []setting{
	{"server.host", func(c *Config) any { return c.Server.Host }, nil},
	{"server.port", func(c *Config) any { return c.Server.Port }, nil},
	{"server.read_timeout", func(c *Config) any { return c.Server.ReadTimeout }, nil},
	{"server.write_timeout", func(c *Config) any { return c.Server.WriteTimeout }, nil},
	{"server.shutdown_timeout", func(c *Config) any { return c.Server.ShutdownTimeout }, nil},
	{"server.max_body_bytes", func(c *Config) any { return c.Server.MaxBodyBytes }, nil},
	{"storage.driver", func(c *Config) any { return c.Storage.Driver }, nil},
	{"storage.dsn", func(c *Config) any { return c.Storage.DSN }, nil},
	{"schema.dir", func(c *Config) any { return c.Schema.Dir }, nil},
	{"schema.catalog_dir", func(c *Config) any { return c.Schema.CatalogDir }, nil},
	{"schema.watch", func(c *Config) any { return c.Schema.Watch }, nil},
	{"ids.generator", func(c *Config) any { return c.IDs.Generator }, nil},
	{"logging.format", func(c *Config) any { return c.Logging.Format }, nil},
	{"metrics.enabled", func(c *Config) any { return c.Metrics.Enabled }, nil},
	{"metrics.path", func(c *Config) any { return c.Metrics.Path }, nil},
	{"openapi.enabled", func(c *Config) any { return c.OpenAPI.Enabled }, nil},

	{"logging.level", func(c *Config) any { return c.Logging.Level },
		func(dst, src *Config) { dst.Logging.Level = src.Logging.Level }},
	{"query.default_limit", func(c *Config) any { return c.Query.DefaultLimit },
		func(dst, src *Config) { dst.Query.DefaultLimit = src.Query.DefaultLimit }},
	{"query.max_limit", func(c *Config) any { return c.Query.MaxLimit },
		func(dst, src *Config) { dst.Query.MaxLimit = src.Query.MaxLimit }},
	{"bulk.workers", func(c *Config) any { return c.Bulk.Workers },
		func(dst, src *Config) { dst.Bulk.Workers = src.Bulk.Workers }},
	{"bulk.max_items", func(c *Config) any { return c.Bulk.MaxItems },
		func(dst, src *Config) { dst.Bulk.MaxItems = src.Bulk.MaxItems }},
	{"expand.max_depth", func(c *Config) any { return c.Expand.MaxDepth },
		func(dst, src *Config) { dst.Expand.MaxDepth = src.Expand.MaxDepth }},
	{"expand.max_children", func(c *Config) any { return c.Expand.MaxChildren },
		func(dst, src *Config) { dst.Expand.MaxChildren = src.Expand.MaxChildren }},
}

// ReloadableFields returns the settings applied without a restart.
func ReloadableFields() []string {
	var out []string
	for _, s := range settings {
		if s.apply != nil {
			out = append(out, s.name)
		}
	}
	return out
}

// NonReloadableFields returns the settings that need a restart.
func NonReloadableFields() []string {
	var out []string
	for _, s := range settings {
		if s.apply == nil {
			out = append(out, s.name)
		}
	}
	return out
}

// Diff lists the settings that differ between old and next, split into those
// a reload applies and those pending a restart.
func Diff(old, next *Config) (applied, pending []string) {
	for _, s := range settings {
		if reflect.DeepEqual(s.get(old), s.get(next)) {
			continue
		}
		if s.apply != nil {
			applied = append(applied, s.name)
		} else {
			pending = append(pending, s.name)
		}
	}
	return applied, pending
}

// merge returns a copy of live carrying next's reloadable settings.
func merge(live, next *Config) *Config {
	out := *live
	for _, s := range settings {
		if s.apply != nil {
			s.apply(&out, next)
		}
	}
	return &out
}

// Holder owns the configuration in effect. Get reflects what the running
// process actually uses: after a reload it carries the new reloadable
// settings and keeps the startup values of everything else.
type Holder struct {
	current  atomic.Pointer[Config]
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex // serializes reloads and guards listeners
	listeners []func(*Config)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	h := &Holder{
		path:     abs,
		debounce: 100 * time.Millisecond,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	h.current.Store(cfg)
	return h, nil
}

// Get returns the configuration in effect.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// OnChange registers fn to run after a reload that applied at least one
// setting. fn receives the new configuration in effect.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload re-reads the file. An invalid file leaves the configuration in
// effect untouched.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	live := h.current.Load()
	applied, pending := Diff(live, next)
	if len(pending) > 0 {
		h.logger.Warn().Strs("fields", pending).Msg("restart required for these changes")
	}
	if len(applied) == 0 {
		h.logger.Debug().Msg("config reloaded, nothing to apply")
		return nil
	}

	cfg := merge(live, next)
	h.current.Store(cfg)
	h.logger.Info().Strs("fields", applied).Msg("config reloaded")

	for _, fn := range h.listeners {
		fn(cfg)
	}
	return nil
}

// WatchFile reloads when the config file is written or replaced. The parent
// directory is watched so editors that save via rename are seen too.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP")
				_ = h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	name := filepath.Base(h.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			_ = h.Reload()

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")

		case <-h.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
