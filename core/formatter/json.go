package formatter

import (
	"encoding/json"
	"io"

	"github.com/artpar/kalita/core/schema"
)

// JSONFormatter formats output as JSON.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Name returns the formatter name.
func (f *JSONFormatter) Name() string {
	return "json"
}

// FormatList writes {"entity","count","data"}. Without requested columns
// records are written whole.
func (f *JSONFormatter) FormatList(w io.Writer, ent *schema.Entity, records []map[string]any, opts FormatOptions) error {
	data := make([]map[string]any, len(records))
	for i, r := range records {
		data[i] = project(r, opts.Columns)
	}
	return f.encode(w, map[string]any{
		"entity": entityName(ent),
		"count":  len(data),
		"data":   data,
	}, opts.Compact)
}

// FormatRecord writes {"entity","data"}.
func (f *JSONFormatter) FormatRecord(w io.Writer, ent *schema.Entity, record map[string]any, opts FormatOptions) error {
	var data any
	if record != nil {
		data = project(record, opts.Columns)
	}
	return f.encode(w, map[string]any{
		"entity": entityName(ent),
		"data":   data,
	}, opts.Compact)
}

// FormatError formats an error as JSON.
func (f *JSONFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, map[string]any{"error": err.Error()}, false)
}

func (f *JSONFormatter) encode(w io.Writer, data any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}
