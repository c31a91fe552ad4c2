package formatter

import (
	"io"
	"strconv"

	"github.com/artpar/kalita/core/schema"
	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as YAML. Record keys follow the column
// order rather than yaml.v3's sorted map order.
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

// Name returns the formatter name.
func (f *YAMLFormatter) Name() string {
	return "yaml"
}

// FormatList formats a list of records as YAML.
func (f *YAMLFormatter) FormatList(w io.Writer, ent *schema.Entity, records []map[string]any, opts FormatOptions) error {
	cols := Columns(ent, records, opts.Columns)
	data := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range records {
		n, err := orderedNode(r, cols)
		if err != nil {
			return err
		}
		data.Content = append(data.Content, n)
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	appendPair(root, "entity", scalar(entityName(ent)))
	appendPair(root, "count", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(len(records))})
	appendPair(root, "data", data)
	return f.encode(w, root)
}

// FormatRecord formats a single record as YAML.
func (f *YAMLFormatter) FormatRecord(w io.Writer, ent *schema.Entity, record map[string]any, opts FormatOptions) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	appendPair(root, "entity", scalar(entityName(ent)))
	if record == nil {
		appendPair(root, "data", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"})
		return f.encode(w, root)
	}
	n, err := orderedNode(record, Columns(ent, []map[string]any{record}, opts.Columns))
	if err != nil {
		return err
	}
	appendPair(root, "data", n)
	return f.encode(w, root)
}

// FormatError formats an error as YAML.
func (f *YAMLFormatter) FormatError(w io.Writer, err error) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	appendPair(root, "error", scalar(err.Error()))
	return f.encode(w, root)
}

func (f *YAMLFormatter) encode(w io.Writer, n *yaml.Node) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return err
	}
	return enc.Close()
}

// orderedNode renders the cols of record as a mapping, in order. Absent
// columns are skipped.
func orderedNode(record map[string]any, cols []string) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, c := range cols {
		v, ok := record[c]
		if !ok {
			continue
		}
		var val yaml.Node
		if err := val.Encode(v); err != nil {
			return nil, err
		}
		appendPair(n, c, &val)
	}
	return n, nil
}

func appendPair(m *yaml.Node, key string, val *yaml.Node) {
	m.Content = append(m.Content, scalar(key), val)
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
