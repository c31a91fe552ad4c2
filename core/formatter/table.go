package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/artpar/kalita/core/schema"
)

// TableFormatter formats output as aligned text tables.
type TableFormatter struct{}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{}
}

// Name returns the formatter name.
func (f *TableFormatter) Name() string {
	return "table"
}

// FormatList formats a list of records as a table.
func (f *TableFormatter) FormatList(w io.Writer, ent *schema.Entity, records []map[string]any, opts FormatOptions) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	columns := Columns(ent, records, opts.Columns)

	if !opts.NoHeader {
		headers := make([]string, len(columns))
		for i, col := range columns {
			headers[i] = strings.ToUpper(col)
		}
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
	}

	for _, record := range records {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = formatValue(record[col], opts.MaxWidth)
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}

	return tw.Flush()
}

// FormatRecord formats a single record as key-value pairs.
func (f *TableFormatter) FormatRecord(w io.Writer, ent *schema.Entity, record map[string]any, opts FormatOptions) error {
	if record == nil {
		fmt.Fprintln(w, "Record not found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	columns := Columns(ent, []map[string]any{record}, opts.Columns)
	if ent != nil && len(opts.Columns) == 0 {
		columns = append(columns, "created_at", "updated_at")
	}

	for _, col := range columns {
		fmt.Fprintf(tw, "%s:\t%s\n", formatLabel(col), formatValue(record[col], 0))
	}

	return tw.Flush()
}

// FormatError formats an error message.
func (f *TableFormatter) FormatError(w io.Writer, err error) error {
	_, werr := fmt.Fprintf(w, "Error: %s\n", err.Error())
	return werr
}

// formatLabel converts snake_case to Title Case.
func formatLabel(name string) string {
	words := strings.Split(name, "_")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

func formatValue(val any, maxWidth int) string {
	var str string
	switch v := val.(type) {
	case nil:
		return "-"
	case string:
		str = v
	case bool:
		if v {
			str = "yes"
		} else {
			str = "no"
		}
	case int64:
		str = strconv.FormatInt(v, 10)
	case int:
		str = strconv.Itoa(v)
	case float64:
		if v == float64(int64(v)) {
			str = strconv.FormatInt(int64(v), 10)
		} else {
			str = strconv.FormatFloat(v, 'f', -1, 64)
		}
	case json.Number:
		str = v.String()
	case []any:
		parts := make([]string, len(v))
		for i, el := range v {
			parts[i] = formatValue(el, 0)
		}
		str = strings.Join(parts, ",")
	default:
		b, _ := json.Marshal(v)
		str = string(b)
	}

	if maxWidth > 3 && utf8.RuneCountInString(str) > maxWidth {
		str = string([]rune(str)[:maxWidth-3]) + "..."
	}
	return str
}
