package schema

import (
	"regexp"
)

// Field defines a data field of an entity.
type Field struct {
	// Name is taken from the mapping key in the entity's fields block.
	Name string `yaml:"-"`

	// Type is the field type. See FieldType constants.
	Type FieldType `yaml:"type"`

	// Elem is the element type for array fields.
	Elem FieldType `yaml:"elem,omitempty"`

	// Required fields must be present and non-null after every write.
	Required bool `yaml:"required,omitempty"`

	// ReadOnly fields can only be populated by defaults.
	ReadOnly bool `yaml:"readonly,omitempty"`

	// Unique indicates this field must have unique values among live records.
	Unique bool `yaml:"unique,omitempty"`

	// UniqueGroup joins this field into a composite unique group.
	// Fields sharing a group name are unique together, in field order.
	UniqueGroup string `yaml:"unique_group,omitempty"`

	MaxLen  *int   `yaml:"max_len,omitempty"`
	MinLen  *int   `yaml:"min_len,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`

	// Values lists valid values for enum fields.
	Values []string `yaml:"values,omitempty"`

	// Catalog names an external catalog whose item codes are the valid values.
	Catalog string `yaml:"catalog,omitempty"`

	// To is the target entity of ref fields (short name or module.entity).
	To string `yaml:"to,omitempty"`

	// OnDelete is applied to this field when the referenced record is deleted.
	OnDelete OnDelete `yaml:"on_delete,omitempty"`

	// Default value applied on create when the field is absent.
	Default any `yaml:"default,omitempty"`

	// Search marks the field as a target of free-text list search.
	Search bool `yaml:"search,omitempty"`

	Description string `yaml:"description,omitempty"`

	// Target is the resolved FQN of To. Set by the registry.
	Target string `yaml:"-"`

	kind    kind
	elem    kind
	pattern *regexp.Regexp
}

// FieldType represents the type of a schema field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeText     FieldType = "text"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeMoney    FieldType = "money"
	TypeBool     FieldType = "bool"
	TypeDate     FieldType = "date"
	TypeDatetime FieldType = "datetime"
	TypeJSON     FieldType = "json"
	TypeEnum     FieldType = "enum"
	TypeRef      FieldType = "ref"
	TypeArray    FieldType = "array"
)

// OnDelete is the policy applied to referencing records when a target is deleted.
type OnDelete string

const (
	OnDeleteRestrict OnDelete = "restrict"
	OnDeleteSetNull  OnDelete = "set_null"
)

// Policy returns the effective on-delete policy; restrict when unset.
func (f *Field) Policy() OnDelete {
	if f.OnDelete == "" {
		return OnDeleteRestrict
	}
	return f.OnDelete
}

// IsRef reports whether the field is a single reference.
func (f *Field) IsRef() bool {
	return f.Type == TypeRef
}

// IsRefArray reports whether the field is an array of references.
func (f *Field) IsRefArray() bool {
	return f.Type == TypeArray && f.Elem == TypeRef
}

// References reports whether the field points at other records.
func (f *Field) References() bool {
	return f.IsRef() || f.IsRefArray()
}

// IsEnum reports whether values must come from Values or Catalog.
func (f *Field) IsEnum() bool {
	if f.Type == TypeArray {
		return f.Elem == TypeEnum
	}
	return f.Type == TypeEnum || f.Catalog != "" || len(f.Values) > 0
}

// ValueType returns the scalar type of the field's values (the element type for arrays).
func (f *Field) ValueType() FieldType {
	if f.Type == TypeArray {
		return f.Elem
	}
	return f.Type
}

// IsStringLike reports whether values are stored as strings.
func (f *Field) IsStringLike() bool {
	switch f.ValueType() {
	case TypeString, TypeText, TypeEnum, TypeRef, TypeDate, TypeDatetime:
		return true
	}
	return false
}

// Coerce normalizes v to the field's canonical representation.
// It returns an error when the value's shape does not match the type.
func (f *Field) Coerce(v any) (any, error) {
	if f.Type == TypeArray {
		return coerceArray(f.elem, v)
	}
	return f.kind.coerce(v)
}

// Parse converts a textual value (a query parameter) to the field's scalar representation.
func (f *Field) Parse(s string) (any, error) {
	if f.Type == TypeArray {
		return f.elem.parse(s)
	}
	return f.kind.parse(s)
}

// Compare orders two scalar values of this field (elements, for arrays).
// Nil values are not passed in.
func (f *Field) Compare(a, b any) int {
	if f.Type == TypeArray {
		if _, ok := a.([]any); ok {
			return compareText(a, b)
		}
		return f.elem.compare(a, b)
	}
	return f.kind.compare(a, b)
}

// Matches reports whether s matches the field's pattern.
func (f *Field) Matches(s string) bool {
	if f.pattern == nil {
		return true
	}
	return f.pattern.MatchString(s)
}
