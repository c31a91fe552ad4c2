package openapi

import (
	"encoding/json"
	"testing"

	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/schema"
	"github.com/rs/zerolog"
)

const testModule = `
module: shop
description: Shop
entities:
  order_line:
    description: One order line
    fields:
      sku:    {type: string, required: true, max_len: 12, pattern: "^[A-Z0-9-]+$"}
      qty:    {type: int, required: true, default: 1}
      price:  money
      status: {type: enum, values: [open, shipped]}
      ref:    {type: string, readonly: true, default: L}
      parent: {type: ref, to: order_line, on_delete: set_null}
      tags:   {type: array, elem: string}
`

func testSnapshot(t *testing.T) *registry.Snapshot {
	t.Helper()
	mod, err := schema.Parse([]byte(testModule))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	snap, issues := registry.Build([]schema.Module{mod}, nil)
	if len(issues) > 0 {
		t.Fatalf("Build issues: %v", issues)
	}
	return snap
}

func TestGenerate_Paths(t *testing.T) {
	spec := NewGenerator().Generate(testSnapshot(t))

	if spec.OpenAPI != "3.0.3" {
		t.Errorf("OpenAPI = %q, want 3.0.3", spec.OpenAPI)
	}

	tests := []struct {
		path    string
		methods []string
	}{
		{"/api/shop/order_line", []string{"get", "post"}},
		{"/api/shop/order_line/_count", []string{"get"}},
		{"/api/shop/order_line/_bulk", []string{"post", "patch"}},
		{"/api/shop/order_line/_bulk_delete", []string{"post"}},
		{"/api/shop/order_line/_bulk_restore", []string{"post"}},
		{"/api/shop/order_line/{id}", []string{"get", "patch", "put", "delete"}},
		{"/api/shop/order_line/{id}/restore", []string{"post"}},
		{"/api/meta", []string{"get"}},
		{"/api/meta/lookup/{module}/{entity}", []string{"get"}},
	}
	for _, tt := range tests {
		item, ok := spec.Paths[tt.path]
		if !ok {
			t.Errorf("missing path %s", tt.path)
			continue
		}
		ops := map[string]*Operation{"get": item.Get, "post": item.Post, "put": item.Put, "patch": item.Patch, "delete": item.Delete}
		for _, m := range tt.methods {
			if ops[m] == nil {
				t.Errorf("%s: missing %s operation", tt.path, m)
			}
		}
	}

	if got := spec.Paths["/api/shop/order_line/{id}"].Delete.Responses["409"].Content["application/json"].Schema.Ref; got != errorsRef {
		t.Errorf("delete 409 schema = %q, want %q", got, errorsRef)
	}
}

func TestGenerate_Schemas(t *testing.T) {
	spec := NewGenerator().Generate(testSnapshot(t))

	rec, ok := spec.Components.Schemas["ShopOrderLine"]
	if !ok {
		t.Fatalf("missing ShopOrderLine schema; have %d schemas", len(spec.Components.Schemas))
	}
	for _, name := range []string{"id", "version", "created_at", "updated_at", "sku", "ref", "parent"} {
		if rec.Properties[name] == nil {
			t.Errorf("record schema missing %q", name)
		}
	}

	sku := rec.Properties["sku"]
	if sku.Type != "string" || sku.MaxLength == nil || *sku.MaxLength != 12 || sku.Pattern == "" {
		t.Errorf("sku schema = %+v", sku)
	}
	if got := rec.Properties["status"].Enum; len(got) != 2 {
		t.Errorf("status enum = %v, want 2 values", got)
	}
	if got := rec.Properties["tags"]; got.Type != "array" || got.Items.Type != "string" {
		t.Errorf("tags schema = %+v", got)
	}
	if got := rec.Properties["price"]; len(got.OneOf) != 2 {
		t.Errorf("money schema oneOf = %d, want 2", len(got.OneOf))
	}

	create := spec.Components.Schemas["ShopOrderLineCreate"]
	if create.Properties["ref"] != nil {
		t.Error("create schema should omit readonly field ref")
	}
	if len(create.Required) != 1 || create.Required[0] != "sku" {
		t.Errorf("create required = %v, want [sku]", create.Required)
	}

	update := spec.Components.Schemas["ShopOrderLineUpdate"]
	if update.Properties["version"] == nil {
		t.Error("update schema should accept version")
	}
	if len(update.Required) != 0 {
		t.Errorf("update required = %v, want none", update.Required)
	}
}

func TestGenerate_NilSnapshot(t *testing.T) {
	spec := NewGenerator().Generate(nil)
	if len(spec.Paths) != 0 {
		t.Errorf("paths = %d, want 0", len(spec.Paths))
	}
	if spec.Components.Schemas["Errors"] == nil {
		t.Error("Errors schema should always be present")
	}
}

func TestSetInfoAndServers(t *testing.T) {
	gen := NewGenerator()
	gen.SetInfo(Info{Title: "Custom", Version: "2.0.0"})
	gen.AddServer("https://api.example.com", "prod")

	spec := gen.Generate(nil)
	if spec.Info.Title != "Custom" || spec.Info.Version != "2.0.0" {
		t.Errorf("info = %+v", spec.Info)
	}
	if len(spec.Servers) != 1 || spec.Servers[0].URL != "https://api.example.com" {
		t.Errorf("servers = %+v", spec.Servers)
	}
}

func TestToJSON(t *testing.T) {
	data, err := NewGenerator().Generate(testSnapshot(t)).ToJSON()
	if err != nil {
		t.Fatalf("ToJSON error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v", decoded["openapi"])
	}
}

func TestService_CachesPerSnapshot(t *testing.T) {
	svc := NewService(NewGenerator(), zerolog.Nop())
	snap := testSnapshot(t)

	first, err := svc.Document(snap)
	if err != nil {
		t.Fatalf("Document error = %v", err)
	}
	second, _ := svc.Document(snap)
	if &first.JSON[0] != &second.JSON[0] {
		t.Error("same snapshot should reuse the cached document")
	}
	if first.ETag == "" || first.ETag[0] != '"' {
		t.Errorf("ETag = %q, want quoted tag", first.ETag)
	}

	other, _ := svc.Document(testSnapshot(t))
	if &other.JSON[0] == &first.JSON[0] {
		t.Error("new snapshot should regenerate")
	}
	if other.ETag != first.ETag {
		t.Errorf("identical schemas should give identical ETags: %q vs %q", other.ETag, first.ETag)
	}

	svc.InvalidateCache()
	again, _ := svc.Document(snap)
	if &again.JSON[0] == &other.JSON[0] {
		t.Error("InvalidateCache should force regeneration")
	}
}
