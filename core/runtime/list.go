package runtime

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/artpar/kalita/core/query"
	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/validation"
)

// Page is one window of a list result.
type Page struct {
	Items []record.Record
	// Total counts every matching record, ignoring limit and offset.
	Total int
}

// List returns live records matching the query parameters.
func (r *Runtime) List(ctx context.Context, name string, params url.Values) (Page, error) {
	p, err := r.resolve(name)
	if err != nil {
		return Page{}, err
	}
	q, err := r.compile(p.ent, params)
	if err != nil {
		return Page{}, err
	}
	matched, err := r.match(ctx, p.ent, q)
	if err != nil {
		return Page{}, err
	}
	q.Sort(matched)
	return Page{Items: q.Page(matched), Total: len(matched)}, nil
}

// Count returns the number of live records matching the filters and search.
func (r *Runtime) Count(ctx context.Context, name string, params url.Values) (int, error) {
	p, err := r.resolve(name)
	if err != nil {
		return 0, err
	}
	q, err := r.compile(p.ent, params)
	if err != nil {
		return 0, err
	}
	matched, err := r.match(ctx, p.ent, q)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (r *Runtime) compile(ent *schema.Entity, params url.Values) (*query.Query, error) {
	req, errs := query.Parse(params, r.Limits().Query)
	if errs != nil {
		return nil, errs
	}
	q, errs := query.Compile(ent, req)
	if errs != nil {
		return nil, errs
	}
	return q, nil
}

func (r *Runtime) match(ctx context.Context, ent *schema.Entity, q *query.Query) ([]record.Record, error) {
	var matched []record.Record
	err := r.store.Scan(ctx, ent.FQN(), func(rec record.Record) bool {
		if q.Match(rec) {
			matched = append(matched, rec)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", ent.FQN(), err)
	}
	return matched, nil
}

// Option is one lookup entry for pickers.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

const (
	lookupDefaultLimit = 10
	lookupMaxLimit     = 100
)

// Lookup returns id/label pairs of live records whose label contains q
// (Unicode-folded), sorted by label. field defaults to the display field.
func (r *Runtime) Lookup(ctx context.Context, name, field, q string, limit int) ([]Option, error) {
	p, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	if field == "" {
		field = p.ent.DisplayField()
	}
	if field != "id" && p.ent.Field(field) == nil {
		return nil, validation.New(validation.CodeUnknownField, "field", fmt.Sprintf("unknown field %q", field))
	}
	switch {
	case limit <= 0:
		limit = lookupDefaultLimit
	case limit > lookupMaxLimit:
		limit = lookupMaxLimit
	}
	needle := query.Fold(strings.TrimSpace(q))

	var opts []Option
	err = r.store.Scan(ctx, p.ent.FQN(), func(rec record.Record) bool {
		if rec.Deleted() {
			return true
		}
		label := rec.ID
		if field != "id" {
			label = schema.Text(rec.Data[field])
		}
		if needle != "" && !strings.Contains(query.Fold(label), needle) {
			return true
		}
		opts = append(opts, Option{ID: rec.ID, Label: label})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.ent.FQN(), err)
	}

	sort.SliceStable(opts, func(i, j int) bool {
		if opts[i].Label != opts[j].Label {
			return opts[i].Label < opts[j].Label
		}
		return opts[i].ID < opts[j].ID
	})
	if len(opts) > limit {
		opts = opts[:limit]
	}
	if opts == nil {
		opts = []Option{}
	}
	return opts, nil
}
