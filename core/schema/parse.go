package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile parses a module definition from a YAML file.
func ParseFile(path string) (Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Module{}, fmt.Errorf("read file %s: %w", path, err)
	}

	mod, err := Parse(data)
	if err != nil {
		return Module{}, fmt.Errorf("%s: %w", path, err)
	}
	return mod, nil
}

// Parse parses a module definition from YAML bytes.
func Parse(data []byte) (Module, error) {
	var mod Module
	if err := yaml.Unmarshal(data, &mod); err != nil {
		return Module{}, fmt.Errorf("parse yaml: %w", err)
	}
	mod.bind()

	if err := Validate(mod); err != nil {
		return Module{}, fmt.Errorf("validate module %q: %w", mod.Name, err)
	}

	return mod, nil
}

// ParseDir parses all module definitions from a directory, including subdirectories.
func ParseDir(dir string) ([]Module, error) {
	var modules []Module

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			subModules, err := ParseDir(path)
			if err != nil {
				return nil, err
			}
			modules = append(modules, subModules...)
			continue
		}

		if !isYAML(entry.Name()) {
			continue
		}

		mod, err := ParseFile(path)
		if err != nil {
			return nil, err
		}

		modules = append(modules, mod)
	}

	return modules, nil
}

// Validate validates a module definition and compiles its entities.
// Cross-entity checks (ref targets, catalogs) belong to the registry lint.
func Validate(mod Module) error {
	var errs []string

	if mod.Name == "" {
		errs = append(errs, "module name is required")
	} else if !isValidIdentifier(mod.Name) {
		errs = append(errs, fmt.Sprintf("module name %q is not a valid identifier", mod.Name))
	}

	if ReservedModules[strings.ToLower(mod.Name)] {
		errs = append(errs, fmt.Sprintf("module name %q is reserved", mod.Name))
	}

	if len(mod.Entities) == 0 {
		errs = append(errs, "module must declare at least one entity")
	}

	for _, name := range mod.EntityNames() {
		ent := mod.Entities[name]
		if ent == nil {
			errs = append(errs, fmt.Sprintf("entity %q is empty", name))
			continue
		}
		errs = append(errs, validateEntity(ent)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validateEntity(ent *Entity) []string {
	var errs []string

	if !isValidIdentifier(ent.Name) {
		errs = append(errs, fmt.Sprintf("entity name %q is not a valid identifier", ent.Name))
	}

	if len(ent.Fields) == 0 {
		errs = append(errs, fmt.Sprintf("entity %q: must have at least one field", ent.Name))
	}

	seen := map[string]bool{}
	for _, f := range ent.Fields {
		if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("entity %q: duplicate field %q", ent.Name, f.Name))
		}
		seen[f.Name] = true

		if err := validateField(f); err != nil {
			errs = append(errs, fmt.Sprintf("entity %q: %v", ent.Name, err))
		}
	}

	if ent.Display != "" && !seen[ent.Display] {
		errs = append(errs, fmt.Sprintf("entity %q: display field %q not in fields", ent.Name, ent.Display))
	}

	// Compile only a structurally valid entity; its errors would repeat the above.
	if len(errs) == 0 {
		if err := ent.Compile(); err != nil {
			errs = append(errs, fmt.Sprintf("entity %q: %v", ent.Name, err))
		}
	}

	return errs
}

// validateField validates a single field definition.
func validateField(f *Field) error {
	if !isValidIdentifier(f.Name) {
		return fmt.Errorf("field name %q is not a valid identifier", f.Name)
	}

	if SystemFields[f.Name] {
		return fmt.Errorf("field %q: name is reserved for system fields", f.Name)
	}

	if !KnownType(f.Type) {
		return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
	}

	if f.Type == TypeArray {
		if f.Elem == TypeArray || !KnownType(f.Elem) {
			return fmt.Errorf("field %q: unknown array element type %q", f.Name, f.Elem)
		}
	}

	if f.ValueType() == TypeEnum && len(f.Values) == 0 && f.Catalog == "" {
		return fmt.Errorf("field %q: enum type requires values or catalog", f.Name)
	}

	if f.MinLen != nil && *f.MinLen < 0 {
		return fmt.Errorf("field %q: min_len must not be negative", f.Name)
	}
	if f.MaxLen != nil && *f.MaxLen < 0 {
		return fmt.Errorf("field %q: max_len must not be negative", f.Name)
	}
	if f.MinLen != nil && f.MaxLen != nil && *f.MinLen > *f.MaxLen {
		return fmt.Errorf("field %q: min_len %d exceeds max_len %d", f.Name, *f.MinLen, *f.MaxLen)
	}

	if f.Default != nil && f.IsEnum() && len(f.Values) > 0 {
		if s, ok := f.Default.(string); ok && !contains(f.Values, s) {
			return fmt.Errorf("field %q: default %q is not a valid enum value", f.Name, s)
		}
	}

	return nil
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// isValidIdentifier checks if a string is a valid identifier.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		if i == 0 {
			if !isLetter(c) && c != '_' {
				return false
			}
		} else {
			if !isLetter(c) && !isDigit(c) && c != '_' {
				return false
			}
		}
	}

	return true
}

func isLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}
