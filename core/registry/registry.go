// Package registry holds the live schema snapshot.
//
// Readers always see one consistent snapshot. Reload builds and lints a new
// snapshot and swaps the pointer only when it has no issues; otherwise the
// previous snapshot stays active.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/ports"
	"github.com/rs/zerolog"
)

// Loader produces the raw inputs of a snapshot.
type Loader interface {
	Load() ([]schema.Module, []*schema.Catalog, error)
}

// DirLoader reads module files from SchemaDir and catalog files from CatalogDir.
type DirLoader struct {
	SchemaDir  string
	CatalogDir string
}

// Load parses both directories.
func (l DirLoader) Load() ([]schema.Module, []*schema.Catalog, error) {
	mods, err := schema.ParseDir(l.SchemaDir)
	if err != nil {
		return nil, nil, err
	}
	cats, err := schema.LoadCatalogDir(l.CatalogDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load catalogs: %w", err)
	}
	return mods, cats, nil
}

// Registry owns the current snapshot.
type Registry struct {
	current atomic.Pointer[Snapshot]

	mu       sync.Mutex // serializes reloads
	loader   Loader
	logger   zerolog.Logger
	metrics  ports.Metrics
	clock    ports.Clock
	onSwap   []func(*Snapshot)
	loadedAt time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics reports reload outcomes to m.
func WithMetrics(m ports.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock sets the clock used for reload timestamps.
func WithClock(c ports.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// New creates a registry with an empty snapshot.
func New(loader Loader, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		loader:  loader,
		logger:  logger,
		metrics: ports.NopMetrics{},
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	empty, _ := Build(nil, nil)
	r.current.Store(empty)
	return r
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// LoadedAt returns the time of the last successful swap.
func (r *Registry) LoadedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadedAt
}

// Load performs the initial load. It is Reload under another name.
func (r *Registry) Load() error {
	_, err := r.Reload()
	return err
}

// Reload loads, builds and lints a new snapshot, then swaps it in.
// On any error the previous snapshot stays active. Lint failures are
// returned as *LintError.
func (r *Registry) Reload() (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mods, cats, err := r.loader.Load()
	if err != nil {
		r.metrics.RecordSchemaReload(false, r.clock.Now())
		r.logger.Error().Err(err).Msg("schema reload failed, keeping current schema")
		return nil, fmt.Errorf("load schema: %w", err)
	}

	snap, issues := Build(mods, cats)
	if len(issues) > 0 {
		r.metrics.RecordSchemaReload(false, r.clock.Now())
		for _, is := range issues {
			r.logger.Warn().
				Str("entity", is.Entity).
				Str("field", is.Field).
				Str("code", is.Code).
				Msg(is.Message)
		}
		r.logger.Error().Int("issues", len(issues)).Msg("schema lint failed, keeping current schema")
		return nil, &LintError{Issues: issues}
	}

	r.swapLocked(snap)
	r.logger.Info().
		Int("entities", len(snap.fqns)).
		Int("catalogs", len(snap.catalogs)).
		Msg("schema loaded")
	return snap, nil
}

// Swap replaces the snapshot directly. The caller is responsible for linting.
func (r *Registry) Swap(s *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapLocked(s)
}

func (r *Registry) swapLocked(s *Snapshot) {
	r.current.Store(s)
	r.loadedAt = r.clock.Now()
	r.metrics.RecordSchemaReload(true, r.loadedAt)
	for _, fn := range r.onSwap {
		fn(s)
	}
}

// OnSwap registers a callback invoked after every successful swap.
func (r *Registry) OnSwap(fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSwap = append(r.onSwap, fn)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
