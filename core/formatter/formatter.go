// Package formatter renders records for terminal output (table, json, yaml).
package formatter

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/artpar/kalita/core/schema"
)

// Formatter converts records to a specific output format.
type Formatter interface {
	// Name returns the formatter name (e.g., "table", "json", "yaml").
	Name() string

	// FormatList formats a list of records. ent may be nil for ad-hoc rows.
	FormatList(w io.Writer, ent *schema.Entity, records []map[string]any, opts FormatOptions) error

	// FormatRecord formats a single record.
	FormatRecord(w io.Writer, ent *schema.Entity, record map[string]any, opts FormatOptions) error

	// FormatError formats an error.
	FormatError(w io.Writer, err error) error
}

// FormatOptions configures formatting behavior.
type FormatOptions struct {
	// Columns selects and orders the fields to include (nil = default set).
	Columns []string

	// NoHeader disables the header row for tables.
	NoHeader bool

	// Compact minimizes whitespace (json).
	Compact bool

	// MaxWidth truncates long table cells (0 = no limit).
	MaxWidth int
}

// Registry manages registered formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	defaultFmt string
}

// NewRegistry creates a registry whose default is "table".
func NewRegistry() *Registry {
	return &Registry{
		formatters: make(map[string]Formatter),
		defaultFmt: "table",
	}
}

// Register adds a formatter to the registry.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}
	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name.
func (r *Registry) Get(name string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formatters[name]
	return f, ok
}

// Lookup returns the named formatter, or the default when name is empty.
func (r *Registry) Lookup(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultFmt
	}
	if f, ok := r.formatters[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown output format %q (available: %v)", name, r.namesLocked())
}

// Names returns the registered formatter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the table, json and yaml formatters.
var DefaultRegistry = NewRegistry()

func init() {
	for _, f := range []Formatter{NewTableFormatter(), NewJSONFormatter(), NewYAMLFormatter()} {
		if err := DefaultRegistry.Register(f); err != nil {
			panic(err)
		}
	}
}

// Columns resolves the output columns: the requested ones, else id, the
// entity's fields in schema order and version, else the sorted keys of the
// first record.
func Columns(ent *schema.Entity, records []map[string]any, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	if ent != nil {
		cols := make([]string, 0, len(ent.Fields)+2)
		cols = append(cols, "id")
		for _, f := range ent.Fields {
			cols = append(cols, f.Name)
		}
		return append(cols, "version")
	}
	if len(records) == 0 {
		return nil
	}
	cols := make([]string, 0, len(records[0]))
	for k := range records[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// project keeps only cols; missing columns are omitted.
func project(record map[string]any, cols []string) map[string]any {
	if len(cols) == 0 {
		return record
	}
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		if v, ok := record[c]; ok {
			out[c] = v
		}
	}
	return out
}

func entityName(ent *schema.Entity) string {
	if ent == nil {
		return ""
	}
	return ent.FQN()
}
