package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/kalita/core/events"
	"github.com/artpar/kalita/core/integrity"
	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/storage"
	"github.com/artpar/kalita/core/validation"
)

// PatchOptions controls how a partial update treats explicit nulls.
type PatchOptions struct {
	// NullsDelete removes keys set to null instead of storing null.
	NullsDelete bool
}

// Get returns a live record.
func (r *Runtime) Get(ctx context.Context, name, id string) (record.Record, error) {
	p, err := r.resolve(name)
	if err != nil {
		return record.Record{}, err
	}
	return r.load(ctx, p.ent, id)
}

// Create validates payload and inserts a new record at version 1.
func (r *Runtime) Create(ctx context.Context, name string, payload map[string]any) (record.Record, error) {
	p, err := r.resolve(name)
	if err != nil {
		return record.Record{}, err
	}

	payload = record.CloneMap(payload)
	delete(payload, "version")

	data, errs := p.validate(payload, payload, validation.OpCreate)
	if errs != nil {
		return record.Record{}, r.reject(p.ent, errs)
	}

	unlock := lock(r.gate(p.ent))
	defer unlock()
	release := r.holdRefs(p.ent, "", data)
	defer release()

	errs, err = p.integrityChecks(ctx, "", data)
	if err != nil {
		return record.Record{}, err
	}
	if errs != nil {
		return record.Record{}, r.reject(p.ent, errs)
	}

	now := r.now()
	rec := record.Record{
		ID:        r.ids.New(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Data:      data,
	}
	if err := r.store.Insert(ctx, p.ent.FQN(), rec); err != nil {
		return record.Record{}, fmt.Errorf("insert %s: %w", p.ent.FQN(), err)
	}

	r.committed(ctx, p.ent, events.RecordCreated, rec)
	return rec, nil
}

// Patch merges patch into the record at the expected version. A nil expected
// version is a conflict.
func (r *Runtime) Patch(ctx context.Context, name, id string, patch map[string]any, expected *int64, opts PatchOptions) (record.Record, error) {
	return r.write(ctx, name, id, patch, expected, func(_ *schema.Entity, cur record.Record, payload map[string]any) (map[string]any, validation.Op) {
		data := record.CloneMap(cur.Data)
		for k, v := range payload {
			if v == nil && opts.NullsDelete {
				delete(data, k)
				continue
			}
			data[k] = v
		}
		return data, validation.OpPatch
	}, events.RecordUpdated)
}

// Replace swaps the record's writable data for payload at the expected
// version. Readonly fields keep their stored values.
func (r *Runtime) Replace(ctx context.Context, name, id string, payload map[string]any, expected *int64) (record.Record, error) {
	return r.write(ctx, name, id, payload, expected, func(ent *schema.Entity, cur record.Record, payload map[string]any) (map[string]any, validation.Op) {
		data := record.CloneMap(payload)
		for _, f := range ent.Fields {
			if v, ok := cur.Data[f.Name]; ok && f.ReadOnly {
				data[f.Name] = v
			}
		}
		return data, validation.OpReplace
	}, events.RecordReplaced)
}

type mergeFunc func(ent *schema.Entity, cur record.Record, payload map[string]any) (map[string]any, validation.Op)

// write is the shared update pipeline: existence, version token, writability,
// validation, integrity, then a compare-and-increment at the expected version.
func (r *Runtime) write(ctx context.Context, name, id string, payload map[string]any, expected *int64, merge mergeFunc, event string) (record.Record, error) {
	p, err := r.resolve(name)
	if err != nil {
		return record.Record{}, err
	}
	cur, err := r.load(ctx, p.ent, id)
	if err != nil {
		return record.Record{}, err
	}
	if expected == nil {
		return record.Record{}, r.versionConflict(p.ent, "version is required")
	}
	if *expected != cur.Version {
		return record.Record{}, r.versionConflict(p.ent, fmt.Sprintf("expected version %d, current is %d", *expected, cur.Version))
	}

	payload = record.CloneMap(payload)
	delete(payload, "version")
	merged, op := merge(p.ent, cur, payload)
	data, errs := p.validate(payload, merged, op)
	if errs != nil {
		return record.Record{}, r.reject(p.ent, errs)
	}

	unlock := lock(r.gate(p.ent))
	defer unlock()
	release := r.holdRefs(p.ent, id, data)
	defer release()

	errs, err = p.integrityChecks(ctx, id, data)
	if err != nil {
		return record.Record{}, err
	}
	if errs != nil {
		return record.Record{}, r.reject(p.ent, errs)
	}

	now := r.now()
	next, err := r.store.Update(ctx, p.ent.FQN(), id, *expected, func(c record.Record) (record.Record, error) {
		if c.Deleted() {
			return c, ErrNotFound
		}
		c.Data = data
		c.UpdatedAt = later(now, c.UpdatedAt)
		return c, nil
	})
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return record.Record{}, r.versionConflict(p.ent, fmt.Sprintf("version %d is stale", *expected))
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ErrNotFound):
		return record.Record{}, fmt.Errorf("%s %s: %w", p.ent.FQN(), id, ErrNotFound)
	case err != nil:
		return record.Record{}, fmt.Errorf("update %s: %w", p.ent.FQN(), err)
	}

	r.committed(ctx, p.ent, event, next)
	return next, nil
}

// Delete soft-deletes a record. Restrict references block it with fk_in_use;
// set_null references are cleared without a caller version before the delete
// commits. When expected is non-nil it must match the current version.
//
// The record is held exclusively from the reference scan to the commit, so no
// writer can add a reference to it or change its version in between.
func (r *Runtime) Delete(ctx context.Context, name, id string, expected *int64) (record.Record, error) {
	p, err := r.resolve(name)
	if err != nil {
		return record.Record{}, err
	}

	unlock := r.locks.exclusive(recordKey(p.ent.FQN(), id))
	defer unlock()

	cur, err := r.load(ctx, p.ent, id)
	if err != nil {
		return record.Record{}, err
	}
	if expected != nil && *expected != cur.Version {
		return record.Record{}, r.versionConflict(p.ent, fmt.Sprintf("expected version %d, current is %d", *expected, cur.Version))
	}

	fixups, errs, err := p.checker.PlanDelete(ctx, p.ent, id)
	if err != nil {
		return record.Record{}, fmt.Errorf("plan delete: %w", err)
	}
	if errs != nil {
		return record.Record{}, r.reject(p.ent, errs)
	}

	now := r.now()
	for _, group := range groupFixups(fixups) {
		if err := r.clear(ctx, group, id, now); err != nil {
			return record.Record{}, err
		}
	}

	deleted, err := r.store.Update(ctx, p.ent.FQN(), id, cur.Version, func(c record.Record) (record.Record, error) {
		if c.Deleted() {
			return c, ErrNotFound
		}
		at := now
		c.DeletedAt = &at
		c.UpdatedAt = later(now, c.UpdatedAt)
		return c, nil
	})
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return record.Record{}, r.versionConflict(p.ent, fmt.Sprintf("version %d is stale", cur.Version))
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ErrNotFound):
		return record.Record{}, fmt.Errorf("%s %s: %w", p.ent.FQN(), id, ErrNotFound)
	case err != nil:
		return record.Record{}, fmt.Errorf("delete %s: %w", p.ent.FQN(), err)
	}

	r.committed(ctx, p.ent, events.RecordDeleted, deleted)
	return deleted, nil
}

// groupFixups collects fix-ups per referencing record, in plan order, so a
// record holding the target in several fields is bumped once.
func groupFixups(fixups []integrity.Fixup) [][]integrity.Fixup {
	var groups [][]integrity.Fixup
	index := map[string]int{}
	for _, fx := range fixups {
		key := fx.Entity.FQN() + "/" + fx.ID
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], fx)
	}
	return groups
}

// clear removes id from every field of one referencing record as a single
// system write.
func (r *Runtime) clear(ctx context.Context, group []integrity.Fixup, id string, now time.Time) error {
	ent, recID := group[0].Entity, group[0].ID

	var applied bool
	stamp := func(c *record.Record) {
		applied = true
		c.UpdatedAt = later(now, c.UpdatedAt)
	}
	rec, err := r.store.Update(ctx, ent.FQN(), recID, storage.AnyVersion, func(c record.Record) (record.Record, error) {
		applied = false
		for _, fx := range group {
			next, err := integrity.ClearRef(fx.Field, id, stamp)(c)
			if errors.Is(err, storage.ErrSkip) {
				continue
			}
			if err != nil {
				return c, err
			}
			c = next
		}
		if !applied {
			return c, storage.ErrSkip
		}
		return c, nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clear references on %s %s: %w", ent.FQN(), recID, err)
	}
	if !applied {
		return nil
	}
	r.logger.Debug().
		Str("entity", ent.FQN()).
		Str("id", recID).
		Str("target", id).
		Int("fields", len(group)).
		Msg("references cleared")
	r.committed(ctx, ent, events.RecordNulled, rec)
	return nil
}

// Restore clears deleted_at and bumps the version. Uniqueness is re-checked
// against live records; restoring a live record returns it unchanged.
func (r *Runtime) Restore(ctx context.Context, name, id string) (record.Record, error) {
	p, err := r.resolve(name)
	if err != nil {
		return record.Record{}, err
	}
	cur, err := r.store.Get(ctx, p.ent.FQN(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return record.Record{}, fmt.Errorf("%s %s: %w", p.ent.FQN(), id, ErrNotFound)
	}
	if err != nil {
		return record.Record{}, err
	}
	if !cur.Deleted() {
		return cur, nil
	}

	unlock := lock(r.gate(p.ent))
	defer unlock()

	errs, err := p.checker.Unique(ctx, p.ent, id, cur.Data)
	if err != nil {
		return record.Record{}, fmt.Errorf("unique check: %w", err)
	}
	if errs != nil {
		return record.Record{}, r.reject(p.ent, errs)
	}

	now := r.now()
	restored, err := r.store.Update(ctx, p.ent.FQN(), id, storage.AnyVersion, func(c record.Record) (record.Record, error) {
		if !c.Deleted() {
			return c, storage.ErrSkip
		}
		c.DeletedAt = nil
		c.UpdatedAt = later(now, c.UpdatedAt)
		return c, nil
	})
	if err != nil {
		return record.Record{}, fmt.Errorf("restore %s: %w", p.ent.FQN(), err)
	}
	if restored.Version == cur.Version {
		return restored, nil
	}

	r.committed(ctx, p.ent, events.RecordRestored, restored)
	return restored, nil
}

// later keeps updated_at monotonic when the clock steps backwards.
func later(now, prev time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
