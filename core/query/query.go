package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/validation"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Query is a request compiled against one entity.
type Query struct {
	conds      []cond
	search     string
	searchIn   []*schema.Field
	sort       []sortKey
	nullsFirst bool
	limit      int
	offset     int
}

type cond struct {
	field  *schema.Field
	op     string
	values []any
}

type sortKey struct {
	field *schema.Field
	desc  bool
}

// Compile resolves field names against ent and parses filter values with the
// field types. Unknown fields yield unknown_field; unparsable values or
// operators that do not apply to a type yield invalid_filter.
func Compile(ent *schema.Entity, req *Request) (*Query, validation.Errors) {
	q := &Query{
		nullsFirst: req.NullsFirst,
		limit:      req.Limit,
		offset:     req.Offset,
	}
	var errs validation.Errors

	for _, f := range req.Filters {
		field := lookup(ent, f.Field)
		if field == nil {
			errs = append(errs, validation.FieldError{Code: validation.CodeUnknownField, Field: f.Field, Message: fmt.Sprintf("cannot filter on unknown field %q", f.Field)})
			continue
		}
		if isRange(f.Op) && !ordered(field.ValueType()) {
			errs = append(errs, invalid(f.Field, fmt.Sprintf("operator %s does not apply to %s fields", f.Op, field.ValueType())))
			continue
		}
		c := cond{field: field, op: f.Op}
		for _, raw := range f.Values {
			v, err := field.Parse(raw)
			if err != nil {
				errs = append(errs, invalid(f.Field, fmt.Sprintf("%q: %v", raw, err)))
				break
			}
			c.values = append(c.values, v)
		}
		q.conds = append(q.conds, c)
	}

	keys := req.Sort
	if len(keys) == 0 {
		keys = []SortKey{{Field: "created_at"}, {Field: "id"}}
	}
	for _, k := range keys {
		field := lookup(ent, k.Field)
		if field == nil {
			errs = append(errs, validation.FieldError{Code: validation.CodeUnknownField, Field: k.Field, Message: fmt.Sprintf("cannot sort on unknown field %q", k.Field)})
			continue
		}
		q.sort = append(q.sort, sortKey{field: field, desc: k.Desc})
	}

	if req.Search != "" {
		q.search = Fold(req.Search)
		q.searchIn = ent.SearchFields()
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return q, nil
}

// Match reports whether a live record satisfies every condition and the search.
func (q *Query) Match(r record.Record) bool {
	if r.Deleted() {
		return false
	}
	for _, c := range q.conds {
		if !c.match(Value(r, c.field.Name)) {
			return false
		}
	}
	if q.search != "" && !q.matchSearch(r) {
		return false
	}
	return true
}

func (c cond) match(v any) bool {
	if v == nil {
		return c.op == OpNe
	}
	if arr, ok := v.([]any); ok {
		if c.op == OpNe {
			for _, el := range arr {
				if c.test(el, OpEq) {
					return false
				}
			}
			return true
		}
		for _, el := range arr {
			if el != nil && c.test(el, c.op) {
				return true
			}
		}
		return false
	}
	return c.test(v, c.op)
}

func (c cond) test(v any, op string) bool {
	switch op {
	case OpEq, OpIn:
		for _, want := range c.values {
			if c.equal(v, want) {
				return true
			}
		}
		return false
	case OpNe:
		return !c.equal(v, c.values[0])
	}

	cmp := c.field.Compare(v, c.values[0])
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

// equal is case-insensitive for text types and type-aware for the rest.
func (c cond) equal(v, want any) bool {
	switch c.field.ValueType() {
	case schema.TypeString, schema.TypeText, schema.TypeEnum, schema.TypeRef:
		return strings.EqualFold(schema.Text(v), schema.Text(want))
	}
	return c.field.Compare(v, want) == 0
}

func (q *Query) matchSearch(r record.Record) bool {
	for _, f := range q.searchIn {
		switch v := r.Data[f.Name].(type) {
		case string:
			if strings.Contains(Fold(v), q.search) {
				return true
			}
		case []any:
			for _, el := range v {
				if s, ok := el.(string); ok && strings.Contains(Fold(s), q.search) {
					return true
				}
			}
		}
	}
	return false
}

// Sort orders records by the sort keys. Nulls go last unless nulls=first,
// independent of direction.
func (q *Query) Sort(recs []record.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range q.sort {
			a, b := Value(recs[i], k.field.Name), Value(recs[j], k.field.Name)
			switch {
			case a == nil && b == nil:
				continue
			case a == nil:
				return q.nullsFirst
			case b == nil:
				return !q.nullsFirst
			}
			cmp := k.field.Compare(a, b)
			if cmp == 0 {
				continue
			}
			if k.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// Page returns the requested window. An offset past the end yields an empty page.
func (q *Query) Page(recs []record.Record) []record.Record {
	if q.offset >= len(recs) {
		return []record.Record{}
	}
	end := len(recs)
	if q.limit > 0 && q.offset+q.limit < end {
		end = q.offset + q.limit
	}
	return recs[q.offset:end]
}

// Value returns a record's field value, including system fields.
func Value(r record.Record, name string) any {
	switch name {
	case "id":
		return r.ID
	case "version":
		return r.Version
	case "created_at":
		return r.CreatedAt
	case "updated_at":
		return r.UpdatedAt
	}
	return r.Data[name]
}

// Fold normalizes text for case-insensitive matching.
func Fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

func lookup(ent *schema.Entity, name string) *schema.Field {
	if f := ent.Field(name); f != nil {
		return f
	}
	f, _ := schema.SystemField(name)
	return f
}

func isRange(op string) bool {
	return op == OpGt || op == OpGte || op == OpLt || op == OpLte
}

func ordered(t schema.FieldType) bool {
	switch t {
	case schema.TypeInt, schema.TypeFloat, schema.TypeMoney, schema.TypeDate, schema.TypeDatetime:
		return true
	}
	return false
}
