package validation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/artpar/kalita/core/schema"
)

type catalogs map[string]*schema.Catalog

func (c catalogs) ResolveCatalog(name string) (*schema.Catalog, error) {
	cat, ok := c[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return cat, nil
}

func testEntity(t *testing.T) *schema.Entity {
	t.Helper()
	mod, err := schema.Parse([]byte(`
module: fx
entities:
  rate:
    fields:
      base:   {type: string, required: true, max_len: 3, min_len: 3, pattern: "^[A-Z]{3}$"}
      active: bool
      status: {type: enum, values: [draft, final], default: draft}
      kind:   {type: string, catalog: kinds}
      code:   {type: string, readonly: true, default: X}
      owner:  {type: ref, to: user}
      tags:   {type: array, elem: string, max_len: 2}
      amount: money
      lots:   int
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return mod.Entities["rate"]
}

func testCatalogs(t *testing.T) catalogs {
	t.Helper()
	cat, err := schema.ParseCatalog([]byte("items:\n  - {code: spot}\n  - {code: forward}\n"), "kinds")
	if err != nil {
		t.Fatal(err)
	}
	return catalogs{"kinds": cat}
}

func TestValidate_Create(t *testing.T) {
	ent := testEntity(t)
	v := NewValidator(testCatalogs(t))

	out, errs := v.Validate(ent, map[string]any{
		"base":   "USD",
		"kind":   "spot",
		"amount": json.Number("10.5"),
	}, OpCreate)
	if errs != nil {
		t.Fatalf("Validate returned %v", errs)
	}
	if out["status"] != "draft" {
		t.Errorf("status = %v, want default draft", out["status"])
	}
	if out["code"] != "X" {
		t.Errorf("code = %v, want default X", out["code"])
	}
	if out["amount"] != 10.5 {
		t.Errorf("amount = %#v, want 10.5", out["amount"])
	}
	if _, ok := out["owner"]; ok {
		t.Error("refs must not receive defaults")
	}
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	ent := testEntity(t)
	v := NewValidator(testCatalogs(t))

	_, errs := v.Validate(ent, map[string]any{
		"base":   "usdx",
		"active": "true",
		"status": "archived",
		"kind":   "swap",
		"tags":   []any{"a", "b", "c"},
	}, OpCreate)

	want := []string{CodeMaxLen, CodePattern, CodeTypeMismatch, CodeEnumInvalid}
	for _, code := range want {
		if !errs.Has(code) {
			t.Errorf("errors %v missing %q", errs, code)
		}
	}
	if errs.Conflict() {
		t.Error("validation errors must not be 409-class")
	}

	var enum int
	for _, fe := range errs {
		if fe.Code == CodeEnumInvalid {
			enum++
		}
	}
	if enum != 2 {
		t.Errorf("enum_invalid count = %d, want 2 (status and kind)", enum)
	}
}

func TestValidate_IntOutOfRange(t *testing.T) {
	ent := testEntity(t)
	v := NewValidator(testCatalogs(t))

	for _, lots := range []any{json.Number("1e19"), json.Number("99999999999999999999"), 1e19, -1e19} {
		_, errs := v.Validate(ent, map[string]any{"base": "USD", "lots": lots}, OpCreate)
		if len(errs) != 1 || errs[0].Code != CodeTypeMismatch || errs[0].Field != "lots" {
			t.Errorf("lots %v: errors = %v, want type_mismatch on lots", lots, errs)
		}
	}

	out, errs := v.Validate(ent, map[string]any{"base": "USD", "lots": json.Number("9223372036854775807")}, OpCreate)
	if errs != nil {
		t.Fatalf("Validate returned %v", errs)
	}
	if out["lots"] != int64(9223372036854775807) {
		t.Errorf("lots = %#v, want max int64", out["lots"])
	}
}

func TestValidate_Required(t *testing.T) {
	ent := testEntity(t)
	v := NewValidator(nil)

	_, errs := v.Validate(ent, map[string]any{"base": nil}, OpPatch)
	if len(errs) != 1 || errs[0].Code != CodeRequired || errs[0].Field != "base" {
		t.Errorf("errors = %v, want required on base", errs)
	}
}

func TestValidate_UnknownCatalog(t *testing.T) {
	ent := testEntity(t)
	v := NewValidator(catalogs{})

	_, errs := v.Validate(ent, map[string]any{"base": "USD", "kind": "spot"}, OpCreate)
	if !errs.Has(CodeEnumInvalid) {
		t.Errorf("errors = %v, want enum_invalid", errs)
	}
}

func TestCheckWritable(t *testing.T) {
	ent := testEntity(t)
	v := NewValidator(nil)

	errs := v.CheckWritable(ent, map[string]any{
		"id":    "x",
		"code":  "Y",
		"nope":  1,
		"base":  "USD",
		"owner": "u1",
	})
	if len(errs) != 3 {
		t.Fatalf("errors = %v, want 3", errs)
	}
	if errs[0].Field != "code" || errs[0].Code != CodeReadOnly {
		t.Errorf("errs[0] = %v, want readonly_field on code", errs[0])
	}
	if errs[1].Field != "id" || errs[1].Code != CodeReadOnly {
		t.Errorf("errs[1] = %v, want readonly_field on id", errs[1])
	}
	if errs[2].Field != "nope" || errs[2].Code != CodeUnknownField {
		t.Errorf("errs[2] = %v, want unknown_field on nope", errs[2])
	}
}

func TestErrors_Conflict(t *testing.T) {
	errs := Errors{{Code: CodeRequired, Field: "a"}, {Code: CodeUniqueViolation, Field: "b"}}
	if !errs.Conflict() {
		t.Error("unique_violation should be a conflict")
	}

	var err error = errs
	got, ok := As(err)
	if !ok || len(got) != 2 {
		t.Errorf("As = %v, %v", got, ok)
	}
}
