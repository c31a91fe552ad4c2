// Package openapi generates an OpenAPI 3.0 document from the live schema snapshot.
// Every entity gets record, list, count, bulk and restore paths plus
// create/update/record component schemas derived from its fields.
package openapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/schema"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Spec represents an OpenAPI 3.0 specification.
type Spec struct {
	OpenAPI    string              `json:"openapi"`
	Info       Info                `json:"info"`
	Servers    []Server            `json:"servers,omitempty"`
	Paths      map[string]PathItem `json:"paths"`
	Components Components          `json:"components"`
	Tags       []Tag               `json:"tags,omitempty"`
}

// Info provides API metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Server represents a server URL.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// PathItem contains operations for a path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Put    *Operation `json:"put,omitempty"`
	Patch  *Operation `json:"patch,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
}

// Operation represents an API operation.
type Operation struct {
	Tags        []string            `json:"tags,omitempty"`
	Summary     string              `json:"summary,omitempty"`
	Description string              `json:"description,omitempty"`
	OperationID string              `json:"operationId,omitempty"`
	Parameters  []Parameter         `json:"parameters,omitempty"`
	RequestBody *RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]Response `json:"responses"`
}

// Parameter represents an API parameter.
type Parameter struct {
	Name        string  `json:"name"`
	In          string  `json:"in"` // path, query, header
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// RequestBody represents a request body.
type RequestBody struct {
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	Content     map[string]MediaType `json:"content"`
}

// Response represents an API response.
type Response struct {
	Description string               `json:"description"`
	Headers     map[string]Header    `json:"headers,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// Header describes a response header.
type Header struct {
	Description string  `json:"description,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// MediaType represents a media type.
type MediaType struct {
	Schema *Schema `json:"schema,omitempty"`
}

// Schema represents a JSON Schema.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Format               string             `json:"format,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	AdditionalProperties any                `json:"additionalProperties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	Ref                  string             `json:"$ref,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	MaxLength            *int               `json:"maxLength,omitempty"`
	Pattern              string             `json:"pattern,omitempty"`
	Default              any                `json:"default,omitempty"`
	ReadOnly             bool               `json:"readOnly,omitempty"`
	Nullable             bool               `json:"nullable,omitempty"`
	OneOf                []*Schema          `json:"oneOf,omitempty"`
}

// Components contains reusable schemas.
type Components struct {
	Schemas map[string]*Schema `json:"schemas,omitempty"`
}

// Tag provides metadata for a group of operations.
type Tag struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

const (
	jsonType  = "application/json"
	errorsRef = "#/components/schemas/Errors"
)

// Generator builds specs from snapshots.
type Generator struct {
	info    Info
	servers []Server
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator() *Generator {
	return &Generator{
		info: Info{
			Title:       "Kalita API",
			Version:     "dev",
			Description: "Record API generated from the loaded schemas",
		},
	}
}

// SetInfo sets the API info.
func (g *Generator) SetInfo(info Info) {
	g.info = info
}

// AddServer adds a server URL.
func (g *Generator) AddServer(url, description string) {
	g.servers = append(g.servers, Server{
		URL:         url,
		Description: description,
	})
}

// Generate creates the specification for every entity in snap.
func (g *Generator) Generate(snap *registry.Snapshot) *Spec {
	spec := &Spec{
		OpenAPI: "3.0.3",
		Info:    g.info,
		Servers: g.servers,
		Paths:   make(map[string]PathItem),
		Components: Components{
			Schemas: map[string]*Schema{
				"Errors": errorsSchema(),
			},
		},
		Tags: make([]Tag, 0),
	}
	if snap == nil {
		return spec
	}

	for _, ent := range snap.Entities() {
		g.generateEntity(spec, ent)
	}
	addMetaPaths(spec)
	return spec
}

func errorsSchema() *Schema {
	return &Schema{
		Type:     "object",
		Required: []string{"errors"},
		Properties: map[string]*Schema{
			"errors": {
				Type: "array",
				Items: &Schema{
					Type:     "object",
					Required: []string{"code"},
					Properties: map[string]*Schema{
						"code":    {Type: "string"},
						"field":   {Type: "string"},
						"message": {Type: "string"},
					},
				},
			},
		},
	}
}

// componentName turns shop.order_line into ShopOrderLine.
func componentName(ent *schema.Entity) string {
	title := cases.Title(language.Und)
	var b strings.Builder
	for _, part := range strings.FieldsFunc(ent.FQN(), func(r rune) bool { return r == '.' || r == '_' || r == '-' }) {
		b.WriteString(title.String(part))
	}
	return b.String()
}

func (g *Generator) generateEntity(spec *Spec, ent *schema.Entity) {
	fqn := ent.FQN()
	title := componentName(ent)
	spec.Tags = append(spec.Tags, Tag{Name: fqn, Description: ent.Description})

	spec.Components.Schemas[title] = recordSchema(ent)
	spec.Components.Schemas[title+"Create"] = writeSchema(ent, true)
	spec.Components.Schemas[title+"Update"] = writeSchema(ent, false)

	e := entityPaths{spec: spec, ent: ent, tag: fqn, title: title, base: "/api/" + ent.Module + "/" + ent.Name}
	e.collection()
	e.count()
	e.bulk()
	e.item()
	e.restore()
}

// recordSchema is the flattened record: system fields, then data fields.
func recordSchema(ent *schema.Entity) *Schema {
	s := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"id":         {Type: "string", ReadOnly: true},
			"version":    {Type: "integer", Format: "int64", ReadOnly: true},
			"created_at": {Type: "string", Format: "date-time", ReadOnly: true},
			"updated_at": {Type: "string", Format: "date-time", ReadOnly: true},
			"deleted_at": {Type: "string", Format: "date-time", ReadOnly: true, Nullable: true},
		},
		Required: []string{"id", "version", "created_at", "updated_at"},
	}
	for _, f := range ent.Fields {
		s.Properties[f.Name] = fieldSchema(f)
	}
	return s
}

// writeSchema omits readonly fields. Create marks required fields without a default.
func writeSchema(ent *schema.Entity, create bool) *Schema {
	s := &Schema{Type: "object", Properties: map[string]*Schema{}}
	if !create {
		s.Properties["version"] = &Schema{Type: "integer", Format: "int64", Description: "Version the change is based on; If-Match may be used instead"}
	}
	for _, f := range ent.Fields {
		if f.ReadOnly {
			continue
		}
		s.Properties[f.Name] = fieldSchema(f)
		if create && f.Required && f.Default == nil {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

func fieldSchema(f *schema.Field) *Schema {
	s := valueSchema(f, f.Type)
	if f.Type == schema.TypeArray {
		s = &Schema{Type: "array", Items: valueSchema(f, f.Elem)}
	}
	s.Description = f.Description
	s.ReadOnly = f.ReadOnly
	s.Nullable = !f.Required
	if f.Default != nil {
		s.Default = f.Default
	}

	var notes []string
	if f.Unique {
		notes = append(notes, "unique")
	}
	if f.UniqueGroup != "" {
		notes = append(notes, "unique together in group "+f.UniqueGroup)
	}
	if f.Catalog != "" {
		notes = append(notes, "code from catalog "+f.Catalog)
	}
	if f.References() {
		notes = append(notes, fmt.Sprintf("id of %s, on delete %s", f.Target, f.Policy()))
	}
	if len(notes) > 0 {
		if s.Description != "" {
			s.Description += ". "
		}
		s.Description += strings.Join(notes, "; ")
	}
	return s
}

func valueSchema(f *schema.Field, t schema.FieldType) *Schema {
	s := &Schema{}
	switch t {
	case schema.TypeString, schema.TypeText:
		s.Type = "string"
		s.MinLength = f.MinLen
		s.MaxLength = f.MaxLen
		s.Pattern = f.Pattern
	case schema.TypeInt:
		s.Type = "integer"
		s.Format = "int64"
	case schema.TypeFloat:
		s.Type = "number"
		s.Format = "double"
	case schema.TypeMoney:
		s.OneOf = []*Schema{{Type: "number"}, {Type: "string", Pattern: `^-?\d+(\.\d+)?$`}}
	case schema.TypeBool:
		s.Type = "boolean"
	case schema.TypeDate:
		s.Type = "string"
		s.Format = "date"
	case schema.TypeDatetime:
		s.Type = "string"
		s.Format = "date-time"
	case schema.TypeEnum:
		s.Type = "string"
		s.Enum = f.Values
	case schema.TypeRef:
		s.Type = "string"
	case schema.TypeJSON:
		s.AdditionalProperties = true
	default:
		s.Type = "string"
	}
	return s
}

type entityPaths struct {
	spec  *Spec
	ent   *schema.Entity
	tag   string
	title string
	base  string
}

func (e entityPaths) ref(suffix string) *Schema {
	return &Schema{Ref: "#/components/schemas/" + e.title + suffix}
}

func (e entityPaths) op(id, summary string) *Operation {
	return &Operation{
		Tags:        []string{e.tag},
		Summary:     summary,
		OperationID: id + e.title,
		Responses:   map[string]Response{},
	}
}

func jsonBody(s *Schema, desc string) *RequestBody {
	return &RequestBody{Required: true, Description: desc, Content: map[string]MediaType{jsonType: {Schema: s}}}
}

func jsonResponse(desc string, s *Schema) Response {
	return Response{Description: desc, Content: map[string]MediaType{jsonType: {Schema: s}}}
}

func errorResponse(desc string) Response {
	return jsonResponse(desc, &Schema{Ref: errorsRef})
}

var (
	idParam      = Parameter{Name: "id", In: "path", Required: true, Description: "Record ID", Schema: &Schema{Type: "string"}}
	ifMatchParam = Parameter{Name: "If-Match", In: "header", Description: "Expected record version as an entity tag", Schema: &Schema{Type: "string"}}
	etagHeader   = map[string]Header{"ETag": {Description: "Record version", Schema: &Schema{Type: "string"}}}
)

func (e entityPaths) listParams() []Parameter {
	params := []Parameter{
		{Name: "q", In: "query", Description: "Free-text search over search fields", Schema: &Schema{Type: "string"}},
		{Name: "sort", In: "query", Description: "Comma-separated fields, prefix - for descending", Schema: &Schema{Type: "string"}},
		{Name: "nulls", In: "query", Description: "Null placement when sorting", Schema: &Schema{Type: "string", Enum: []string{"first", "last"}, Default: "last"}},
		{Name: "limit", In: "query", Schema: &Schema{Type: "integer"}},
		{Name: "offset", In: "query", Schema: &Schema{Type: "integer", Default: 0}},
	}
	for _, f := range e.ent.Fields {
		params = append(params, Parameter{
			Name:        f.Name,
			In:          "query",
			Description: fmt.Sprintf("Filter on %s; operators as %s__gt, __gte, __lt, __lte, __ne, __in", f.Name, f.Name),
			Schema:      &Schema{Type: "string"},
		})
	}
	return params
}

func (e entityPaths) collection() {
	list := e.op("list", "List "+e.tag)
	list.Parameters = e.listParams()
	list.Responses["200"] = Response{
		Description: "Matching live records",
		Headers:     map[string]Header{"X-Total-Count": {Description: "Matches before pagination", Schema: &Schema{Type: "integer"}}},
		Content:     map[string]MediaType{jsonType: {Schema: &Schema{Type: "array", Items: e.ref("")}}},
	}
	list.Responses["400"] = errorResponse("Invalid filter")

	create := e.op("create", "Create "+e.tag)
	create.RequestBody = jsonBody(e.ref("Create"), "Field values")
	create.Responses["201"] = Response{Description: "Created", Headers: etagHeader, Content: map[string]MediaType{jsonType: {Schema: e.ref("")}}}
	create.Responses["400"] = errorResponse("Validation failed")
	create.Responses["409"] = errorResponse("Unique or reference violation")

	e.spec.Paths[e.base] = PathItem{Get: list, Post: create}
}

func (e entityPaths) count() {
	count := e.op("count", "Count "+e.tag)
	count.Parameters = e.listParams()
	count.Responses["200"] = jsonResponse("Match count", &Schema{
		Type:       "object",
		Properties: map[string]*Schema{"total": {Type: "integer"}},
	})
	count.Responses["400"] = errorResponse("Invalid filter")
	e.spec.Paths[e.base+"/_count"] = PathItem{Get: count}
}

func (e entityPaths) bulk() {
	results := &Schema{Type: "array", Items: &Schema{OneOf: []*Schema{e.ref(""), {Ref: errorsRef}}}}
	ids := &Schema{Type: "object", Properties: map[string]*Schema{"ids": {Type: "array", Items: &Schema{Type: "string"}}}}

	create := e.op("bulkCreate", "Create many "+e.tag)
	create.RequestBody = jsonBody(&Schema{Type: "array", Items: e.ref("Create")}, "One payload per record")
	create.Responses["207"] = jsonResponse("Per-item results in input order", results)

	patch := e.op("bulkPatch", "Patch many "+e.tag)
	patch.RequestBody = jsonBody(&Schema{Type: "array", Items: &Schema{
		Type:     "object",
		Required: []string{"id", "patch", "version"},
		Properties: map[string]*Schema{
			"id":      {Type: "string"},
			"version": {Type: "integer"},
			"patch":   e.ref("Update"),
		},
	}}, "One patch per record, each with its own version")
	patch.Responses["207"] = jsonResponse("Per-item results in input order", results)
	e.spec.Paths[e.base+"/_bulk"] = PathItem{Post: create, Patch: patch}

	del := e.op("bulkDelete", "Delete many "+e.tag)
	del.RequestBody = jsonBody(ids, "Record IDs")
	del.Responses["207"] = jsonResponse("Per-item results in input order", &Schema{Type: "array", Items: &Schema{Type: "object"}})
	e.spec.Paths[e.base+"/_bulk_delete"] = PathItem{Post: del}

	restore := e.op("bulkRestore", "Restore many "+e.tag)
	restore.RequestBody = jsonBody(ids, "Record IDs")
	restore.Responses["207"] = jsonResponse("Per-item results in input order", results)
	e.spec.Paths[e.base+"/_bulk_restore"] = PathItem{Post: restore}
}

func (e entityPaths) item() {
	get := e.op("get", "Get "+e.tag)
	get.Parameters = []Parameter{
		idParam,
		{Name: "If-None-Match", In: "header", Schema: &Schema{Type: "string"}},
		{Name: "_expand", In: "query", Description: "Referencing entities to nest under _children, * for all", Schema: &Schema{Type: "string"}},
		{Name: "_depth", In: "query", Description: "Expansion depth", Schema: &Schema{Type: "integer", Default: 1}},
		{Name: "full", In: "query", Description: "Expand every referencing entity to the maximum depth", Schema: &Schema{Type: "string"}},
	}
	get.Responses["200"] = Response{Description: "Record", Headers: etagHeader, Content: map[string]MediaType{jsonType: {Schema: e.ref("")}}}
	get.Responses["304"] = Response{Description: "Not modified"}
	get.Responses["404"] = errorResponse("Record not found or deleted")

	patch := e.op("patch", "Patch "+e.tag)
	patch.Parameters = []Parameter{idParam, ifMatchParam, {Name: "nulls", In: "query", Description: "delete removes fields set to null", Schema: &Schema{Type: "string"}}}
	patch.RequestBody = jsonBody(e.ref("Update"), "Fields to change")
	e.writeResponses(patch)

	put := e.op("replace", "Replace "+e.tag)
	put.Parameters = []Parameter{idParam, ifMatchParam}
	put.RequestBody = jsonBody(e.ref("Update"), "Complete field set")
	e.writeResponses(put)

	del := e.op("delete", "Delete "+e.tag)
	del.Parameters = []Parameter{idParam, ifMatchParam}
	del.Responses["204"] = Response{Description: "Soft-deleted"}
	del.Responses["404"] = errorResponse("Record not found")
	del.Responses["409"] = errorResponse("Referenced by a restrict field, or version conflict")

	e.spec.Paths[e.base+"/{id}"] = PathItem{Get: get, Patch: patch, Put: put, Delete: del}
}

func (e entityPaths) writeResponses(op *Operation) {
	op.Responses["200"] = Response{Description: "Updated", Headers: etagHeader, Content: map[string]MediaType{jsonType: {Schema: e.ref("")}}}
	op.Responses["400"] = errorResponse("Validation failed")
	op.Responses["404"] = errorResponse("Record not found")
	op.Responses["409"] = errorResponse("Version, unique or reference conflict")
}

func (e entityPaths) restore() {
	op := e.op("restore", "Restore "+e.tag)
	op.Parameters = []Parameter{idParam}
	op.Responses["200"] = Response{Description: "Restored", Headers: etagHeader, Content: map[string]MediaType{jsonType: {Schema: e.ref("")}}}
	op.Responses["404"] = errorResponse("Record not found")
	op.Responses["409"] = errorResponse("Unique value taken while deleted")
	e.spec.Paths[e.base+"/{id}/restore"] = PathItem{Post: op}
}

func addMetaPaths(spec *Spec) {
	meta := func(id, summary string) *Operation {
		return &Operation{
			Tags:        []string{"meta"},
			Summary:     summary,
			OperationID: id,
			Responses:   map[string]Response{"200": jsonResponse("OK", &Schema{Type: "object"})},
		}
	}
	spec.Tags = append(spec.Tags, Tag{Name: "meta", Description: "Schema and catalog metadata"})
	spec.Paths["/api/meta"] = PathItem{Get: meta("listEntities", "List entities")}
	spec.Paths["/api/meta/{module}/{entity}"] = PathItem{Get: meta("describeEntity", "Describe an entity")}
	spec.Paths["/api/meta/catalogs"] = PathItem{Get: meta("listCatalogs", "List catalogs")}
	spec.Paths["/api/meta/catalogs/{name}"] = PathItem{Get: meta("getCatalog", "Get a catalog")}
	spec.Paths["/api/meta/lookup/{module}/{entity}"] = PathItem{Get: meta("lookup", "Id and label pairs for pickers")}
}

// ToJSON converts the spec to JSON.
func (spec *Spec) ToJSON() ([]byte, error) {
	return json.MarshalIndent(spec, "", "  ")
}

// ToJSONCompact converts the spec to compact JSON.
func (spec *Spec) ToJSONCompact() ([]byte, error) {
	return json.Marshal(spec)
}
