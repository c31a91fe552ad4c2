package integrity

import (
	"context"
	"fmt"

	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/storage"
	"github.com/artpar/kalita/core/validation"
)

// Fixup clears one reference to a deleted record.
type Fixup struct {
	Entity *schema.Entity
	Field  *schema.Field
	ID     string
}

// PlanDelete finds every live record referencing id of target. Restrict
// references block the delete with fk_in_use (one error per referencing
// field); set_null references become fix-ups. A record referencing itself
// does not block its own delete.
func (c *Checker) PlanDelete(ctx context.Context, target *schema.Entity, id string) ([]Fixup, validation.Errors, error) {
	var (
		fixups []Fixup
		errs   validation.Errors
	)

	for _, ref := range c.snap.Referencing(target.FQN()) {
		err := c.store.Scan(ctx, ref.Entity.FQN(), func(r record.Record) bool {
			if r.Deleted() {
				return true
			}
			if ref.Entity.FQN() == target.FQN() && r.ID == id {
				return true
			}
			if !holds(r.Data[ref.Field.Name], id) {
				return true
			}
			if ref.Field.Policy() == schema.OnDeleteSetNull {
				fixups = append(fixups, Fixup{Entity: ref.Entity, Field: ref.Field, ID: r.ID})
				return true
			}
			errs = append(errs, validation.FieldError{
				Code:    validation.CodeFKInUse,
				Field:   ref.Field.Name,
				Message: fmt.Sprintf("record is referenced by %s.%s (%s)", ref.Entity.FQN(), ref.Field.Name, r.ID),
			})
			return false
		})
		if err != nil {
			return nil, nil, err
		}
	}

	if len(errs) > 0 {
		return nil, errs, nil
	}
	return fixups, nil, nil
}

// ClearRef returns a mutator removing id from field: a single ref becomes
// null, an array loses the element. It skips records that no longer hold id.
func ClearRef(field *schema.Field, id string, stamp func(*record.Record)) storage.Mutator {
	return func(cur record.Record) (record.Record, error) {
		v := cur.Data[field.Name]
		if !holds(v, id) {
			return cur, storage.ErrSkip
		}
		if arr, ok := v.([]any); ok {
			kept := make([]any, 0, len(arr))
			for _, el := range arr {
				if s, _ := el.(string); s != id {
					kept = append(kept, el)
				}
			}
			cur.Data[field.Name] = kept
		} else {
			cur.Data[field.Name] = nil
		}
		stamp(&cur)
		return cur, nil
	}
}

func holds(v any, id string) bool {
	for _, ref := range refIDs(v) {
		if ref == id {
			return true
		}
	}
	return false
}
