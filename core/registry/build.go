package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/kalita/core/schema"
)

// Lint issue codes.
const (
	IssueOnDeleteUnknown         = "on_delete_unknown"
	IssueRequiredConflictsDelete = "required_conflicts_on_delete"
	IssueRefTargetEmpty          = "ref_target_empty"
	IssueRefTargetUnknown        = "ref_target_unknown"
	IssueCatalogUnknown          = "catalog_unknown"
	IssueUniqueGroupUnknownField = "unique_group_unknown_field"
	IssueDuplicateEntity         = "duplicate_entity"
)

// Issue is a cross-entity schema problem found while building a snapshot.
type Issue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("%s.%s: %s: %s", i.Entity, i.Field, i.Code, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Entity, i.Code, i.Message)
}

// LintError rejects a snapshot that has issues.
type LintError struct {
	Issues []Issue
}

func (e *LintError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return fmt.Sprintf("schema lint failed:\n  - %s", strings.Join(parts, "\n  - "))
}

// Build assembles parsed modules and catalogs into a snapshot, resolving ref
// targets and linting cross-entity rules. A snapshot with issues must not be used.
func Build(modules []schema.Module, catalogs []*schema.Catalog) (*Snapshot, []Issue) {
	s := &Snapshot{
		entities: make(map[string]*schema.Entity),
		byFQN:    make(map[string]string),
		byName:   make(map[string][]string),
		catalogs: make(map[string]*schema.Catalog),
		incoming: make(map[string][]Ref),
	}
	var issues []Issue

	for _, mod := range modules {
		for _, name := range mod.EntityNames() {
			ent := mod.Entities[name]
			fqn := ent.FQN()
			key := fold(fqn)
			if _, dup := s.byFQN[key]; dup {
				issues = append(issues, Issue{Entity: fqn, Code: IssueDuplicateEntity, Message: "entity declared more than once"})
				continue
			}
			s.entities[fqn] = ent
			s.byFQN[key] = fqn
			s.byName[fold(ent.Name)] = append(s.byName[fold(ent.Name)], fqn)
			s.fqns = append(s.fqns, fqn)
		}
	}
	sort.Strings(s.fqns)

	for _, c := range catalogs {
		s.catalogs[fold(c.Name)] = c
	}

	for _, fqn := range s.fqns {
		ent := s.entities[fqn]
		issues = append(issues, s.lintEntity(ent)...)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Entity != issues[j].Entity {
			return issues[i].Entity < issues[j].Entity
		}
		return issues[i].Field < issues[j].Field
	})
	return s, issues
}

func (s *Snapshot) lintEntity(ent *schema.Entity) []Issue {
	var issues []Issue
	fqn := ent.FQN()
	add := func(field, code, format string, args ...any) {
		issues = append(issues, Issue{Entity: fqn, Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	for _, f := range ent.Fields {
		if f.Catalog != "" {
			if _, err := s.ResolveCatalog(f.Catalog); err != nil {
				add(f.Name, IssueCatalogUnknown, "catalog %q is not loaded", f.Catalog)
			}
		}

		if !f.References() {
			continue
		}

		switch f.OnDelete {
		case "", schema.OnDeleteRestrict, schema.OnDeleteSetNull:
		default:
			add(f.Name, IssueOnDeleteUnknown, "on_delete %q is not one of restrict, set_null", f.OnDelete)
		}

		if f.IsRef() && f.Required && f.OnDelete == schema.OnDeleteSetNull {
			add(f.Name, IssueRequiredConflictsDelete, "required ref cannot use on_delete set_null")
		}

		if strings.TrimSpace(f.To) == "" {
			add(f.Name, IssueRefTargetEmpty, "ref field has no target")
			continue
		}

		target, ok := s.resolveTarget(ent.Module, f.To)
		if !ok {
			add(f.Name, IssueRefTargetUnknown, "ref target %q does not resolve", f.To)
			continue
		}
		f.Target = target
		s.incoming[target] = append(s.incoming[target], Ref{Entity: ent, Field: f})
	}

	for _, group := range ent.UniqueGroups() {
		for _, name := range group {
			if ent.Field(name) == nil {
				add(name, IssueUniqueGroupUnknownField, "unique group %v names unknown field %q", group, name)
			}
		}
	}

	return issues
}

// resolveTarget resolves a ref target relative to module: an FQN as given,
// else the same module first, else a unique entity name across modules.
func (s *Snapshot) resolveTarget(module, to string) (string, bool) {
	if strings.Contains(to, ".") {
		fqn, ok := s.byFQN[fold(to)]
		return fqn, ok
	}
	if fqn, ok := s.byFQN[fold(module+"."+to)]; ok {
		return fqn, true
	}
	fqn, err := s.NormalizeEntityName(to)
	return fqn, err == nil
}
