package schema

import "sort"

// Module is one schema file: a named group of entities.
type Module struct {
	// Name is the module segment of entity FQNs (e.g., "fx").
	Name string `yaml:"module"`

	Description string `yaml:"description,omitempty"`

	// Entities keyed by entity name.
	Entities map[string]*Entity `yaml:"entities"`
}

// EntityNames returns the entity names in sorted order.
func (m Module) EntityNames() []string {
	names := make([]string, 0, len(m.Entities))
	for name := range m.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// bind copies the module and entity names into each entity.
func (m Module) bind() {
	for name, ent := range m.Entities {
		if ent == nil {
			continue
		}
		ent.Module = m.Name
		ent.Name = name
	}
}

// ReservedModules cannot be used as module names; they collide with service routes.
var ReservedModules = map[string]bool{
	"meta":         true,
	"admin":        true,
	"docs":         true,
	"openapi.json": true,
}

// SystemFields are managed by the engine and never appear in user payloads.
var SystemFields = map[string]bool{
	"id":         true,
	"version":    true,
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}
