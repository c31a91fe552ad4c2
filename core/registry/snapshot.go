package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/kalita/core/schema"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrSchemaNotFound is returned when a module/entity does not resolve.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrCatalogNotFound is returned when a catalog name does not resolve.
	ErrCatalogNotFound = errors.New("catalog not found")
)

// Ref is an incoming reference: Field of Entity points at another entity.
type Ref struct {
	Entity *schema.Entity
	Field  *schema.Field
}

// Many reports whether the reference is an array of ids.
func (r Ref) Many() bool {
	return r.Field.IsRefArray()
}

// Snapshot is an immutable, fully-resolved view of all schemas and catalogs.
type Snapshot struct {
	entities map[string]*schema.Entity
	fqns     []string
	byFQN    map[string]string
	byName   map[string][]string
	catalogs map[string]*schema.Catalog
	incoming map[string][]Ref
}

// Resolve returns the entity for module and entity names, case-insensitively.
// An empty module resolves entity by name alone when it is unique.
func (s *Snapshot) Resolve(module, entity string) (*schema.Entity, error) {
	name := entity
	if module != "" {
		name = module + "." + entity
	}
	fqn, err := s.NormalizeEntityName(name)
	if err != nil {
		return nil, err
	}
	return s.entities[fqn], nil
}

// NormalizeEntityName maps "module.entity" or a module-less "entity" to the
// canonical FQN. Module-less names must be unique across modules.
func (s *Snapshot) NormalizeEntityName(name string) (string, error) {
	key := fold(name)
	if strings.Contains(key, ".") {
		if fqn, ok := s.byFQN[key]; ok {
			return fqn, nil
		}
		return "", fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
	}
	switch matches := s.byName[key]; len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
	default:
		return "", fmt.Errorf("%w: %s is ambiguous (%s)", ErrSchemaNotFound, name, strings.Join(matches, ", "))
	}
}

// Entity returns an entity by canonical FQN, or nil.
func (s *Snapshot) Entity(fqn string) *schema.Entity {
	return s.entities[fqn]
}

// Entities returns all entities ordered by FQN.
func (s *Snapshot) Entities() []*schema.Entity {
	out := make([]*schema.Entity, len(s.fqns))
	for i, fqn := range s.fqns {
		out[i] = s.entities[fqn]
	}
	return out
}

// ResolveCatalog returns a catalog by name, case-insensitively.
func (s *Snapshot) ResolveCatalog(name string) (*schema.Catalog, error) {
	if c, ok := s.catalogs[fold(name)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, name)
}

// Catalogs returns all catalogs ordered by name.
func (s *Snapshot) Catalogs() []*schema.Catalog {
	out := make([]*schema.Catalog, 0, len(s.catalogs))
	for _, c := range s.catalogs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Referencing returns every field, across all entities, that references fqn.
func (s *Snapshot) Referencing(fqn string) []Ref {
	return s.incoming[fqn]
}

// fold normalizes names for case-insensitive lookup.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}
