// Package record defines the stored record envelope shared by storage, runtime and transport.
package record

import (
	"strconv"
	"time"
)

// Record is one stored instance of an entity.
type Record struct {
	ID        string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time

	// Data maps field names to canonical values (see schema.Field.Coerce).
	Data map[string]any
}

// Deleted reports whether the record is soft-deleted.
func (r Record) Deleted() bool {
	return r.DeletedAt != nil
}

// Clone returns a copy whose Data map (and nested arrays/objects) can be mutated
// without affecting r.
func (r Record) Clone() Record {
	out := r
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		out.DeletedAt = &t
	}
	out.Data = CloneMap(r.Data)
	return out
}

// Flatten renders the record as a single JSON object: system fields first, then data.
// A data key that collides with a system field is emitted as "data.<key>".
func (r Record) Flatten() map[string]any {
	out := make(map[string]any, len(r.Data)+5)
	out["id"] = r.ID
	out["version"] = r.Version
	out["created_at"] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	out["updated_at"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if r.DeletedAt != nil {
		out["deleted_at"] = r.DeletedAt.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range r.Data {
		if _, clash := out[k]; clash {
			out["data."+k] = v
			continue
		}
		out[k] = v
	}
	return out
}

// ETag returns the entity tag for the record's current version.
func (r Record) ETag() string {
	return `"` + strconv.FormatInt(r.Version, 10) + `"`
}

// CloneMap deep-copies maps and slices of a decoded JSON value.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
