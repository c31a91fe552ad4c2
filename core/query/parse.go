// Package query implements list filtering, free-text search, sorting and pagination.
package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/kalita/core/validation"
)

// Operators accepted as a field__op suffix.
const (
	OpEq  = "eq"
	OpNe  = "ne"
	OpIn  = "in"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
)

var operators = map[string]bool{OpEq: true, OpNe: true, OpIn: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true}

// reserved parameters are never treated as field filters.
var reserved = map[string]bool{
	"q": true, "search": true, "query": true,
	"sort": true, "_sort": true, "nulls": true,
	"limit": true, "_limit": true, "offset": true, "_offset": true,
	"_expand": true, "_depth": true, "full": true,
	"field": true,
}

// Options bounds pagination.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultOptions are the limits used when none are configured.
var DefaultOptions = Options{DefaultLimit: 50, MaxLimit: 1000}

// Filter is one raw field condition.
type Filter struct {
	Field  string
	Op     string
	Values []string
}

// SortKey orders by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// Request is a parsed, schema-independent list request.
type Request struct {
	Filters    []Filter
	Search     string
	Sort       []SortKey
	NullsFirst bool
	Limit      int
	Offset     int
}

// Parse reads list parameters. Filters are taken from every non-reserved key
// in sorted key order; keys starting with "_" are ignored.
func Parse(values url.Values, opts Options) (*Request, validation.Errors) {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultOptions.DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultOptions.MaxLimit
	}

	req := &Request{Limit: opts.DefaultLimit}
	var errs validation.Errors

	for _, key := range []string{"q", "search", "query"} {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			req.Search = v
			break
		}
	}

	if s := first(values, "sort", "_sort"); s != "" {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key := SortKey{Field: part}
			switch part[0] {
			case '-':
				key = SortKey{Field: part[1:], Desc: true}
			case '+':
				key.Field = part[1:]
			}
			req.Sort = append(req.Sort, key)
		}
	}

	switch strings.ToLower(values.Get("nulls")) {
	case "", "last", "delete", "keep":
	case "first":
		req.NullsFirst = true
	default:
		errs = append(errs, invalid("nulls", "nulls must be first or last"))
	}

	if s := first(values, "limit", "_limit"); s != "" {
		n, err := strconv.Atoi(s)
		switch {
		case err != nil || n < 0:
			errs = append(errs, invalid("limit", "limit must be a non-negative integer"))
		case n > 0:
			req.Limit = n
		}
	}
	if req.Limit > opts.MaxLimit {
		req.Limit = opts.MaxLimit
	}

	if s := first(values, "offset", "_offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			errs = append(errs, invalid("offset", "offset must be a non-negative integer"))
		} else {
			req.Offset = n
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if reserved[key] || strings.HasPrefix(key, "_") {
			continue
		}
		for _, raw := range values[key] {
			req.Filters = append(req.Filters, parseFilter(key, raw))
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return req, nil
}

// parseFilter splits field__op and expands list values. An "in:" value prefix
// turns the condition into a set filter.
func parseFilter(key, raw string) Filter {
	f := Filter{Field: key, Op: OpEq}
	if i := strings.LastIndex(key, "__"); i > 0 {
		if op := key[i+2:]; operators[op] {
			f.Field, f.Op = key[:i], op
		}
	}
	if strings.HasPrefix(raw, "in:") {
		raw = strings.TrimPrefix(raw, "in:")
		if f.Op == OpEq {
			f.Op = OpIn
		}
	}
	if f.Op == OpIn {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				f.Values = append(f.Values, v)
			}
		}
		return f
	}
	f.Values = []string{raw}
	return f
}

func first(values url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(values.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func invalid(field, msg string) validation.FieldError {
	return validation.FieldError{Code: validation.CodeInvalidFilter, Field: field, Message: msg}
}
