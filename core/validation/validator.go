package validation

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/schema"
)

// Op is the kind of write being validated.
type Op int

const (
	OpCreate Op = iota
	OpPatch
	OpReplace
)

// CatalogSource resolves catalogs referenced by enum fields.
type CatalogSource interface {
	ResolveCatalog(name string) (*schema.Catalog, error)
}

// Validator type-checks and constraint-checks payloads.
type Validator struct {
	catalogs CatalogSource
}

// NewValidator creates a validator resolving catalogs from src. A nil src makes every
// catalog-backed value invalid.
func NewValidator(src CatalogSource) *Validator {
	return &Validator{catalogs: src}
}

// CheckWritable rejects payload keys a caller may not set: system fields and
// readonly fields (readonly_field), and keys not in the schema (unknown_field).
// The "version" key is a concurrency token and must be removed by the caller first.
func (v *Validator) CheckWritable(ent *schema.Entity, payload map[string]any) Errors {
	var c collector
	for _, key := range sortedKeys(payload) {
		if schema.SystemFields[key] {
			c.add(CodeReadOnly, key, "system field is read-only")
			continue
		}
		f := ent.Field(key)
		if f == nil {
			c.add(CodeUnknownField, key, fmt.Sprintf("unknown field %q", key))
			continue
		}
		if f.ReadOnly {
			c.add(CodeReadOnly, key, "field is read-only")
		}
	}
	return c.result()
}

// Validate checks data against every field of ent and returns the normalized
// data. On create, defaults fill absent non-ref fields first. For patches, data
// is the merged record, so required is enforced on the resulting state.
func (v *Validator) Validate(ent *schema.Entity, data map[string]any, op Op) (map[string]any, Errors) {
	out := record.CloneMap(data)
	if op == OpCreate {
		applyDefaults(ent, out)
	}

	var c collector
	for _, f := range ent.Fields {
		val, ok := out[f.Name]
		if !ok || val == nil {
			if f.Required {
				c.add(CodeRequired, f.Name, "field is required")
			}
			continue
		}

		norm, err := f.Coerce(val)
		if err != nil {
			c.add(CodeTypeMismatch, f.Name, err.Error())
			continue
		}
		out[f.Name] = norm

		v.checkConstraints(&c, f, norm)
	}
	return out, c.result()
}

func (v *Validator) checkConstraints(c *collector, f *schema.Field, val any) {
	if arr, ok := val.([]any); ok {
		checkLength(c, f, len(arr))
		for _, el := range arr {
			if s, ok := el.(string); ok {
				v.checkString(c, f, s, false)
			}
		}
		return
	}
	if s, ok := val.(string); ok {
		v.checkString(c, f, s, true)
	}
}

func (v *Validator) checkString(c *collector, f *schema.Field, s string, measure bool) {
	if measure && (f.Type == schema.TypeString || f.Type == schema.TypeText) {
		checkLength(c, f, utf8.RuneCountInString(s))
	}
	if !f.Matches(s) {
		c.add(CodePattern, f.Name, fmt.Sprintf("does not match pattern %q", f.Pattern))
	}
	if f.IsEnum() && !v.allowed(f, s) {
		c.add(CodeEnumInvalid, f.Name, fmt.Sprintf("%q is not an allowed value", s))
	}
}

func checkLength(c *collector, f *schema.Field, n int) {
	if f.MaxLen != nil && n > *f.MaxLen {
		c.add(CodeMaxLen, f.Name, fmt.Sprintf("length %d exceeds max_len %d", n, *f.MaxLen))
	}
	if f.MinLen != nil && n < *f.MinLen {
		c.add(CodeMinLen, f.Name, fmt.Sprintf("length %d below min_len %d", n, *f.MinLen))
	}
}

func (v *Validator) allowed(f *schema.Field, s string) bool {
	if len(f.Values) > 0 {
		for _, val := range f.Values {
			if val == s {
				return true
			}
		}
		return false
	}
	if f.Catalog == "" || v.catalogs == nil {
		return false
	}
	cat, err := v.catalogs.ResolveCatalog(f.Catalog)
	if err != nil {
		return false
	}
	return cat.Has(s)
}

// applyDefaults fills absent fields from schema defaults. Refs are never defaulted.
func applyDefaults(ent *schema.Entity, data map[string]any) {
	for _, f := range ent.Fields {
		if f.Default == nil || f.References() {
			continue
		}
		if _, ok := data[f.Name]; ok {
			continue
		}
		data[f.Name] = cloneDefault(f.Default)
	}
}

func cloneDefault(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return record.CloneMap(t)
	case []any:
		return record.CloneMap(map[string]any{"v": t})["v"]
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
