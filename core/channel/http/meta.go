package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/schema"
	"github.com/go-chi/chi/v5"
)

type entitySummary struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	Fields int    `json:"fields"`
}

type fieldMeta struct {
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	ElemType        string   `json:"elem_type,omitempty"`
	Required        bool     `json:"required,omitempty"`
	ReadOnly        bool     `json:"readonly,omitempty"`
	Unique          bool     `json:"unique,omitempty"`
	UniqueGroup     string   `json:"unique_group,omitempty"`
	Enum            []string `json:"enum,omitempty"`
	Catalog         string   `json:"catalog,omitempty"`
	Ref             string   `json:"ref,omitempty"`
	RefDisplayField string   `json:"refDisplayField,omitempty"`
	OnDelete        string   `json:"onDelete,omitempty"`
	Default         any      `json:"default,omitempty"`
	MaxLen          *int     `json:"max_len,omitempty"`
	MinLen          *int     `json:"min_len,omitempty"`
	Pattern         string   `json:"pattern,omitempty"`
	Search          bool     `json:"search,omitempty"`
	Description     string   `json:"description,omitempty"`
}

type entityMeta struct {
	Module       string      `json:"module"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	DisplayField string      `json:"displayField"`
	Fields       []fieldMeta `json:"fields"`
	Constraints  constraints `json:"constraints"`
}

type constraints struct {
	Unique [][]string `json:"unique,omitempty"`
}

func describe(snap *registry.Snapshot, ent *schema.Entity) entityMeta {
	out := entityMeta{
		Module:       ent.Module,
		Name:         ent.Name,
		Description:  ent.Description,
		DisplayField: ent.DisplayField(),
		Fields:       make([]fieldMeta, 0, len(ent.Fields)),
		Constraints:  constraints{Unique: ent.UniqueGroups()},
	}
	for _, f := range ent.Fields {
		fm := fieldMeta{
			Name:        f.Name,
			Type:        string(f.Type),
			ElemType:    string(f.Elem),
			Required:    f.Required,
			ReadOnly:    f.ReadOnly,
			Unique:      f.Unique,
			UniqueGroup: f.UniqueGroup,
			Enum:        f.Values,
			Catalog:     f.Catalog,
			Default:     f.Default,
			MaxLen:      f.MaxLen,
			MinLen:      f.MinLen,
			Pattern:     f.Pattern,
			Search:      f.Search,
			Description: f.Description,
		}
		if f.References() {
			fm.Ref = f.Target
			fm.OnDelete = string(f.Policy())
			if target := snap.Entity(f.Target); target != nil {
				fm.RefDisplayField = target.DisplayField()
			}
		}
		out.Fields = append(out.Fields, fm)
	}
	return out
}

func (c *Channel) handleMetaList(w http.ResponseWriter, r *http.Request) {
	ents := c.runtime.Registry().Snapshot().Entities()
	out := make([]entitySummary, len(ents))
	for i, ent := range ents {
		out[i] = entitySummary{Module: ent.Module, Name: ent.Name, Fields: len(ent.Fields)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Channel) handleMetaEntity(w http.ResponseWriter, r *http.Request) {
	snap := c.runtime.Registry().Snapshot()
	ent, err := snap.Resolve(chi.URLParam(r, "module"), chi.URLParam(r, "entity"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(snap, ent))
}

func (c *Channel) handleCatalogs(w http.ResponseWriter, r *http.Request) {
	cats := c.runtime.Registry().Snapshot().Catalogs()
	if cats == nil {
		cats = []*schema.Catalog{}
	}
	writeJSON(w, http.StatusOK, cats)
}

func (c *Channel) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := c.runtime.Registry().Snapshot().ResolveCatalog(chi.URLParam(r, "name"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (c *Channel) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	opts, err := c.runtime.Lookup(r.Context(), entityName(r), q.Get("field"), q.Get("q"), limit)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (c *Channel) handleReload(w http.ResponseWriter, r *http.Request) {
	snap, err := c.cfg.Reloader.Reload()
	if err != nil {
		var lint *registry.LintError
		if errors.As(err, &lint) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "issues": lint.Issues})
			return
		}
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"entities": len(snap.Entities()),
		"catalogs": len(snap.Catalogs()),
	})
}
