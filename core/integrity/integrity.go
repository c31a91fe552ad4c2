// Package integrity enforces uniqueness and referential integrity across records.
//
// All checks ignore soft-deleted records: a deleted record neither collides on
// unique values nor satisfies or blocks a reference.
package integrity

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/storage"
	"github.com/artpar/kalita/core/validation"
)

// Checker runs integrity checks against one schema snapshot.
type Checker struct {
	store storage.Store
	snap  *registry.Snapshot
}

// New creates a checker.
func New(store storage.Store, snap *registry.Snapshot) *Checker {
	return &Checker{store: store, snap: snap}
}

// Unique checks single-field and composite unique constraints of data against
// live records of ent, excluding the record with id (empty on create).
// Nil values never collide; a composite group is checked only when every
// member is set, and a violation is reported on the group's first field.
func (c *Checker) Unique(ctx context.Context, ent *schema.Entity, id string, data map[string]any) (validation.Errors, error) {
	var singles []*schema.Field
	for _, f := range ent.Fields {
		if f.Unique && data[f.Name] != nil {
			singles = append(singles, f)
		}
	}
	var groups [][]string
	for _, g := range ent.UniqueGroups() {
		if complete(g, data) {
			groups = append(groups, g)
		}
	}
	if len(singles) == 0 && len(groups) == 0 {
		return nil, nil
	}

	var errs validation.Errors
	hitSingle := make(map[string]bool)
	hitGroup := make(map[int]bool)

	err := c.store.Scan(ctx, ent.FQN(), func(r record.Record) bool {
		if r.Deleted() || r.ID == id {
			return true
		}
		for _, f := range singles {
			if hitSingle[f.Name] {
				continue
			}
			if equal(r.Data[f.Name], data[f.Name]) {
				hitSingle[f.Name] = true
				errs = append(errs, validation.FieldError{
					Code:    validation.CodeUniqueViolation,
					Field:   f.Name,
					Message: fmt.Sprintf("value already used by %s", r.ID),
				})
			}
		}
		for i, g := range groups {
			if hitGroup[i] || !complete(g, r.Data) {
				continue
			}
			if groupEqual(g, r.Data, data) {
				hitGroup[i] = true
				errs = append(errs, validation.FieldError{
					Code:    validation.CodeUniqueViolation,
					Field:   g[0],
					Message: fmt.Sprintf("combination %v already used by %s", g, r.ID),
				})
			}
		}
		return len(hitSingle) < len(singles) || len(hitGroup) < len(groups)
	})
	if err != nil {
		return nil, err
	}
	return dedupeFields(errs), nil
}

// Refs checks that every ref and ref-array value points at a live record of
// the field's target entity.
func (c *Checker) Refs(ctx context.Context, ent *schema.Entity, data map[string]any) (validation.Errors, error) {
	var errs validation.Errors
	for _, f := range ent.Fields {
		if !f.References() || f.Target == "" {
			continue
		}
		for _, id := range refIDs(data[f.Name]) {
			ok, err := c.live(ctx, f.Target, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				errs = append(errs, validation.FieldError{
					Code:    validation.CodeRefNotFound,
					Field:   f.Name,
					Message: fmt.Sprintf("%s %q not found", f.Target, id),
				})
				break
			}
		}
	}
	return errs, nil
}

// Target is a record a ref value points at.
type Target struct {
	Entity string
	ID     string
}

// Targets lists the records data references through ent's ref and
// ref-array fields, in field order.
func Targets(ent *schema.Entity, data map[string]any) []Target {
	var out []Target
	for _, f := range ent.Fields {
		if !f.References() || f.Target == "" {
			continue
		}
		for _, id := range refIDs(data[f.Name]) {
			out = append(out, Target{Entity: f.Target, ID: id})
		}
	}
	return out
}

// Tree rejects self-references and cycles on single ref fields that point at
// ent itself. The ancestor walk follows the chain until it ends, reaches a
// missing or deleted record, or revisits a record, so it is bounded by the
// number of records.
func (c *Checker) Tree(ctx context.Context, ent *schema.Entity, id string, data map[string]any) (validation.Errors, error) {
	var errs validation.Errors
	for _, f := range ent.Fields {
		if !f.IsRef() || f.Target != ent.FQN() {
			continue
		}
		parent, _ := data[f.Name].(string)
		if parent == "" || id == "" {
			continue
		}
		if parent == id {
			errs = append(errs, validation.FieldError{Code: validation.CodeSelfParent, Field: f.Name, Message: "record cannot reference itself"})
			continue
		}

		cycle, err := c.reaches(ctx, ent.FQN(), f.Name, parent, id)
		if err != nil {
			return nil, err
		}
		if cycle {
			errs = append(errs, validation.FieldError{Code: validation.CodeCycleDetected, Field: f.Name, Message: fmt.Sprintf("%s is a descendant of %s", parent, id)})
		}
	}
	return errs, nil
}

// reaches reports whether walking field upward from start arrives at id.
func (c *Checker) reaches(ctx context.Context, entity, field, start, id string) (bool, error) {
	seen := make(map[string]bool)
	cur := start
	for cur != "" && !seen[cur] {
		seen[cur] = true
		rec, err := c.store.Get(ctx, entity, cur)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if rec.Deleted() {
			return false, nil
		}
		next, _ := rec.Data[field].(string)
		if next == id {
			return true, nil
		}
		cur = next
	}
	return false, nil
}

func (c *Checker) live(ctx context.Context, entity, id string) (bool, error) {
	rec, err := c.store.Get(ctx, entity, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !rec.Deleted(), nil
}

func complete(group []string, data map[string]any) bool {
	for _, name := range group {
		if data[name] == nil {
			return false
		}
	}
	return true
}

func groupEqual(group []string, a, b map[string]any) bool {
	for _, name := range group {
		if !equal(a[name], b[name]) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return schema.Text(a) == schema.Text(b)
}

// refIDs returns the ids held by a ref or ref-array value.
func refIDs(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		ids := make([]string, 0, len(t))
		for _, el := range t {
			if s, ok := el.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return ids
	}
	return nil
}

func dedupeFields(errs validation.Errors) validation.Errors {
	if len(errs) < 2 {
		return errs
	}
	seen := make(map[string]bool)
	out := errs[:0]
	for _, fe := range errs {
		key := fe.Code + "/" + fe.Field
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, fe)
	}
	return out
}
