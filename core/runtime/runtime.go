// Package runtime executes record operations against the live schema.
//
// Every mutation runs the same pipeline: writability and validation (400),
// then uniqueness, references and tree checks (409/400), then an atomic
// compare-and-increment in the store. Bulk operations run each item through
// that pipeline independently.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/kalita/core/events"
	"github.com/artpar/kalita/core/integrity"
	"github.com/artpar/kalita/core/query"
	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/storage"
	"github.com/artpar/kalita/core/validation"
	"github.com/artpar/kalita/ports"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a record does not exist or is soft-deleted.
var ErrNotFound = errors.New("not found")

// Runtime is the record-consistency engine.
type Runtime struct {
	registry *registry.Registry
	store    storage.Store

	clock   ports.Clock
	ids     ports.IDGenerator
	events  *events.Bus
	metrics ports.Metrics
	logger  zerolog.Logger

	limits atomic.Pointer[Limits]

	// gates serialize check-then-write for entities with unique constraints.
	gates sync.Map // fqn -> *sync.Mutex

	// locks order reference checks against deletes of the referenced records.
	locks recordLocks
}

// Config configures the runtime. IDs is required; Clock defaults to the
// system clock.
type Config struct {
	Clock   ports.Clock
	IDs     ports.IDGenerator
	Events  *events.Bus
	Metrics ports.Metrics
	Logger  zerolog.Logger
	Limits  Limits
}

// Limits are the tunables that can change at runtime.
type Limits struct {
	Query query.Options

	// BulkWorkers bounds concurrent items per bulk request.
	BulkWorkers int
	// BulkMaxItems rejects larger bulk requests with too_many_items.
	BulkMaxItems int

	// ExpandMaxDepth clamps _depth; full=1 expands to this depth.
	ExpandMaxDepth int
	// ExpandMaxChildren bounds the total number of children in one expansion.
	ExpandMaxChildren int
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		Query:             query.DefaultOptions,
		BulkWorkers:       8,
		BulkMaxItems:      1000,
		ExpandMaxDepth:    5,
		ExpandMaxChildren: 500,
	}
}

// New creates a runtime over the registry's live snapshot and store.
func New(reg *registry.Registry, store storage.Store, cfg Config) *Runtime {
	r := &Runtime{
		registry: reg,
		store:    store,
		clock:    cfg.Clock,
		ids:      cfg.IDs,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	if r.metrics == nil {
		r.metrics = ports.NopMetrics{}
	}
	r.SetLimits(cfg.Limits)
	return r
}

// SetLimits replaces the limits. Zero values fall back to the defaults.
func (r *Runtime) SetLimits(l Limits) {
	def := DefaultLimits()
	if l.Query.DefaultLimit <= 0 {
		l.Query.DefaultLimit = def.Query.DefaultLimit
	}
	if l.Query.MaxLimit <= 0 {
		l.Query.MaxLimit = def.Query.MaxLimit
	}
	if l.BulkWorkers <= 0 {
		l.BulkWorkers = def.BulkWorkers
	}
	if l.BulkMaxItems <= 0 {
		l.BulkMaxItems = def.BulkMaxItems
	}
	if l.ExpandMaxDepth <= 0 {
		l.ExpandMaxDepth = def.ExpandMaxDepth
	}
	if l.ExpandMaxChildren <= 0 {
		l.ExpandMaxChildren = def.ExpandMaxChildren
	}
	r.limits.Store(&l)
}

// Limits returns the current limits.
func (r *Runtime) Limits() Limits {
	return *r.limits.Load()
}

// Registry returns the schema registry.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Store returns the record store.
func (r *Runtime) Store() storage.Store {
	return r.store
}

// Ready reports whether the store is reachable.
func (r *Runtime) Ready(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// pipeline bundles the per-operation view of one snapshot.
type pipeline struct {
	snap      *registry.Snapshot
	ent       *schema.Entity
	validator *validation.Validator
	checker   *integrity.Checker
}

// resolve binds name ("module.entity", case-insensitive) against the current snapshot.
func (r *Runtime) resolve(name string) (*pipeline, error) {
	snap := r.registry.Snapshot()
	fqn, err := snap.NormalizeEntityName(name)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		snap:      snap,
		ent:       snap.Entity(fqn),
		validator: validation.NewValidator(snap),
		checker:   integrity.New(r.store, snap),
	}, nil
}

// Entity resolves an entity by name in the current snapshot.
func (r *Runtime) Entity(name string) (*schema.Entity, error) {
	p, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	return p.ent, nil
}

// validate reports writability errors on the caller's payload together with
// field errors on the resulting data.
func (p *pipeline) validate(payload, data map[string]any, op validation.Op) (map[string]any, validation.Errors) {
	errs := p.validator.CheckWritable(p.ent, payload)
	out, verrs := p.validator.Validate(p.ent, data, op)
	errs = append(errs, verrs...)
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// integrityChecks runs the 409-class checks for a write of data to id
// (empty on create).
func (p *pipeline) integrityChecks(ctx context.Context, id string, data map[string]any) (validation.Errors, error) {
	var errs validation.Errors

	unique, err := p.checker.Unique(ctx, p.ent, id, data)
	if err != nil {
		return nil, fmt.Errorf("unique check: %w", err)
	}
	errs = append(errs, unique...)

	refs, err := p.checker.Refs(ctx, p.ent, data)
	if err != nil {
		return nil, fmt.Errorf("ref check: %w", err)
	}
	errs = append(errs, refs...)

	tree, err := p.checker.Tree(ctx, p.ent, id, data)
	if err != nil {
		return nil, fmt.Errorf("tree check: %w", err)
	}
	errs = append(errs, tree...)

	return errs, nil
}

// gate returns the lock for ent when it has unique constraints, else nil.
func (r *Runtime) gate(ent *schema.Entity) *sync.Mutex {
	needs := len(ent.UniqueGroups()) > 0
	for _, f := range ent.Fields {
		if f.Unique {
			needs = true
			break
		}
	}
	if !needs {
		return nil
	}
	mu, _ := r.gates.LoadOrStore(ent.FQN(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// holdRefs read-locks the record being written (id is empty on create) and
// every record data references, for the span of the checks and the write.
func (r *Runtime) holdRefs(ent *schema.Entity, id string, data map[string]any) func() {
	targets := integrity.Targets(ent, data)
	keys := make([]string, 0, len(targets)+1)
	if id != "" {
		keys = append(keys, recordKey(ent.FQN(), id))
	}
	for _, t := range targets {
		keys = append(keys, recordKey(t.Entity, t.ID))
	}
	return r.locks.shared(keys)
}

func lock(mu *sync.Mutex) func() {
	if mu == nil {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

// load returns a live record or ErrNotFound.
func (r *Runtime) load(ctx context.Context, ent *schema.Entity, id string) (record.Record, error) {
	rec, err := r.store.Get(ctx, ent.FQN(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return record.Record{}, fmt.Errorf("%s %s: %w", ent.FQN(), id, ErrNotFound)
	}
	if err != nil {
		return record.Record{}, err
	}
	if rec.Deleted() {
		return record.Record{}, fmt.Errorf("%s %s: %w", ent.FQN(), id, ErrNotFound)
	}
	return rec, nil
}

// reject records metrics for a rejected mutation and returns errs as the error.
func (r *Runtime) reject(ent *schema.Entity, errs validation.Errors) error {
	for _, fe := range errs {
		if fe.Code == validation.CodeVersionConflict {
			r.metrics.RecordVersionConflict(ent.FQN())
			continue
		}
		r.metrics.RecordIntegrityRejection(ent.FQN(), fe.Code)
	}
	return errs
}

func (r *Runtime) versionConflict(ent *schema.Entity, msg string) error {
	return r.reject(ent, validation.New(validation.CodeVersionConflict, "version", msg))
}

// committed records metrics and publishes the event for a mutation.
func (r *Runtime) committed(ctx context.Context, ent *schema.Entity, name string, rec record.Record) {
	ev := events.Event{Name: name, Entity: ent.FQN(), ID: rec.ID, Version: rec.Version, Record: rec}
	r.metrics.RecordMutation(ent.FQN(), ev.Op())
	if r.events != nil {
		r.events.Publish(ctx, ev)
	}
}

func (r *Runtime) now() time.Time {
	return r.clock.Now().UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
