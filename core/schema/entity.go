package schema

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Entity is a record type within a module.
type Entity struct {
	// Module and Name are taken from the enclosing module file.
	Module string `yaml:"-"`
	Name   string `yaml:"-"`

	Description string `yaml:"description,omitempty"`

	// Display names the field used as a record's human-readable label.
	Display string `yaml:"display,omitempty"`

	// Fields in declaration order.
	Fields Fields `yaml:"fields"`

	// Unique lists additional composite unique groups.
	Unique [][]string `yaml:"unique,omitempty"`

	index  map[string]*Field
	groups [][]string
}

// Fields is an ordered field list decoded from a YAML mapping.
type Fields []*Field

// UnmarshalYAML keeps the mapping order of the fields block.
// A scalar value is shorthand for the field type: `name: string`.
func (fs *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping", node.Line)
	}
	out := make(Fields, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		f := &Field{}
		if val.Kind == yaml.ScalarNode {
			f.Type = FieldType(val.Value)
		} else if err := val.Decode(f); err != nil {
			return fmt.Errorf("field %q: %w", key.Value, err)
		}
		f.Name = key.Value
		out = append(out, f)
	}
	*fs = out
	return nil
}

// FQN returns the fully-qualified name, module.entity.
func (e *Entity) FQN() string {
	return e.Module + "." + e.Name
}

// Field returns the named field, or nil.
func (e *Entity) Field(name string) *Field {
	if e.index != nil {
		return e.index[name]
	}
	for _, f := range e.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// UniqueGroups returns the composite unique groups: unique_group fields first
// (grouped by name, in field order), then the entity-level unique lists.
func (e *Entity) UniqueGroups() [][]string {
	if e.groups != nil {
		return e.groups
	}
	return e.buildGroups()
}

func (e *Entity) buildGroups() [][]string {
	var order []string
	byName := map[string][]string{}
	for _, f := range e.Fields {
		if f.UniqueGroup == "" {
			continue
		}
		if _, ok := byName[f.UniqueGroup]; !ok {
			order = append(order, f.UniqueGroup)
		}
		byName[f.UniqueGroup] = append(byName[f.UniqueGroup], f.Name)
	}
	groups := make([][]string, 0, len(order)+len(e.Unique))
	seen := map[string]bool{}
	add := func(g []string) {
		key := fmt.Sprint(g)
		if len(g) == 0 || seen[key] {
			return
		}
		seen[key] = true
		groups = append(groups, g)
	}
	for _, name := range order {
		add(byName[name])
	}
	for _, g := range e.Unique {
		add(g)
	}
	return groups
}

// DisplayField returns the field used as a record label: the explicit display
// field, else the first of name, title, email, code, else the first string
// field, else "id".
func (e *Entity) DisplayField() string {
	if e.Display != "" && e.Field(e.Display) != nil {
		return e.Display
	}
	for _, name := range []string{"name", "title", "email", "code"} {
		if e.Field(name) != nil {
			return name
		}
	}
	for _, f := range e.Fields {
		if f.Type == TypeString || f.Type == TypeText {
			return f.Name
		}
	}
	return "id"
}

// SearchFields returns the fields used by free-text search: fields marked
// search, else the display field when it is a data field.
func (e *Entity) SearchFields() []*Field {
	var out []*Field
	for _, f := range e.Fields {
		if f.Search {
			out = append(out, f)
		}
	}
	if len(out) > 0 {
		return out
	}
	if f := e.Field(e.DisplayField()); f != nil {
		return []*Field{f}
	}
	return nil
}

// Compile resolves per-field behavior. It must be called before Coerce,
// Parse or Compare are used on the entity's fields.
func (e *Entity) Compile() error {
	e.index = make(map[string]*Field, len(e.Fields))
	for _, f := range e.Fields {
		if err := f.compile(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		e.index[f.Name] = f
	}
	e.groups = e.buildGroups()
	return nil
}

func (f *Field) compile() error {
	if f.Type == TypeArray {
		ek, ok := kinds[f.Elem]
		if !ok {
			return fmt.Errorf("unknown array element type %q", f.Elem)
		}
		f.elem = ek
		f.kind = kind{coerce: func(v any) (any, error) { return coerceArray(ek, v) }, parse: ek.parse, compare: compareText}
	} else {
		k, ok := kinds[f.Type]
		if !ok {
			return fmt.Errorf("unknown type %q", f.Type)
		}
		f.kind = k
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		f.pattern = re
	}
	if f.Default != nil {
		v, err := f.Coerce(f.Default)
		if err != nil {
			return fmt.Errorf("default: %w", err)
		}
		f.Default = v
	}
	return nil
}
