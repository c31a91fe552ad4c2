package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fxModule = `
module: fx
description: Exchange rates
entities:
  rate:
    display: base
    fields:
      base:   {type: string, required: true, max_len: 3, min_len: 3, pattern: "^[A-Z]{3}$", unique_group: pair}
      quote:  {type: string, required: true, unique_group: pair}
      date:   {type: date, required: true, unique_group: pair}
      value:  money
      status: {type: enum, values: [draft, final], default: draft}
      parent: {type: ref, to: rate, on_delete: set_null}
      tags:   {type: array, elem: ref, to: core.tag, on_delete: set_null}
      weight: {type: int, default: 3}
    unique:
      - [base, quote]
`

func TestParse(t *testing.T) {
	mod, err := Parse([]byte(fxModule))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if mod.Name != "fx" {
		t.Errorf("Name = %q, want %q", mod.Name, "fx")
	}

	ent := mod.Entities["rate"]
	if ent == nil {
		t.Fatal("entity rate missing")
	}
	if ent.FQN() != "fx.rate" {
		t.Errorf("FQN = %q, want %q", ent.FQN(), "fx.rate")
	}

	want := []string{"base", "quote", "date", "value", "status", "parent", "tags", "weight"}
	if len(ent.Fields) != len(want) {
		t.Fatalf("len(Fields) = %d, want %d", len(ent.Fields), len(want))
	}
	for i, f := range ent.Fields {
		if f.Name != want[i] {
			t.Errorf("Fields[%d] = %q, want %q", i, f.Name, want[i])
		}
	}

	if got := ent.Field("value").Type; got != TypeMoney {
		t.Errorf("value type = %q, want %q", got, TypeMoney)
	}
	if got := ent.Field("weight").Default; got != int64(3) {
		t.Errorf("weight default = %#v, want int64(3)", got)
	}
	if got := ent.Field("parent").Policy(); got != OnDeleteSetNull {
		t.Errorf("parent policy = %q, want %q", got, OnDeleteSetNull)
	}
	if !ent.Field("tags").IsRefArray() {
		t.Error("tags should be a ref array")
	}

	groups := ent.UniqueGroups()
	if len(groups) != 2 {
		t.Fatalf("UniqueGroups = %v, want 2 groups", groups)
	}
	if strings.Join(groups[0], ",") != "base,quote,date" {
		t.Errorf("groups[0] = %v, want [base quote date]", groups[0])
	}
	if strings.Join(groups[1], ",") != "base,quote" {
		t.Errorf("groups[1] = %v, want [base quote]", groups[1])
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing module name",
			yaml: "entities:\n  a:\n    fields:\n      x: string\n",
			want: "module name is required",
		},
		{
			name: "reserved module name",
			yaml: "module: meta\nentities:\n  a:\n    fields:\n      x: string\n",
			want: "reserved",
		},
		{
			name: "unknown type",
			yaml: "module: m\nentities:\n  a:\n    fields:\n      x: blob\n",
			want: "unknown type",
		},
		{
			name: "system field",
			yaml: "module: m\nentities:\n  a:\n    fields:\n      version: int\n",
			want: "reserved for system fields",
		},
		{
			name: "enum without values",
			yaml: "module: m\nentities:\n  a:\n    fields:\n      s: enum\n",
			want: "requires values or catalog",
		},
		{
			name: "bad pattern",
			yaml: "module: m\nentities:\n  a:\n    fields:\n      s: {type: string, pattern: \"[\"}\n",
			want: "invalid pattern",
		},
		{
			name: "default type mismatch",
			yaml: "module: m\nentities:\n  a:\n    fields:\n      n: {type: int, default: abc}\n",
			want: "default",
		},
		{
			name: "array without elem",
			yaml: "module: m\nentities:\n  a:\n    fields:\n      xs: array\n",
			want: "array element type",
		},
		{
			name: "min greater than max",
			yaml: "module: m\nentities:\n  a:\n    fields:\n      s: {type: string, min_len: 5, max_len: 2}\n",
			want: "exceeds max_len",
		},
		{
			name: "unknown display",
			yaml: "module: m\nentities:\n  a:\n    display: nope\n    fields:\n      s: string\n",
			want: "display field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "fx.yaml"), fxModule)
	writeFile(t, filepath.Join(sub, "core.yml"), "module: core\nentities:\n  tag:\n    fields:\n      name: string\n")
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	mods, err := ParseDir(dir)
	if err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}
	if len(mods) != 2 {
		t.Fatalf("len(mods) = %d, want 2", len(mods))
	}
}

func TestDisplayField(t *testing.T) {
	tests := []struct {
		name   string
		entity *Entity
		want   string
	}{
		{"explicit", &Entity{Display: "code", Fields: Fields{{Name: "name", Type: TypeString}, {Name: "code", Type: TypeString}}}, "code"},
		{"name first", &Entity{Fields: Fields{{Name: "label", Type: TypeString}, {Name: "title", Type: TypeString}}}, "title"},
		{"first string", &Entity{Fields: Fields{{Name: "n", Type: TypeInt}, {Name: "label", Type: TypeString}}}, "label"},
		{"fallback id", &Entity{Fields: Fields{{Name: "n", Type: TypeInt}}}, "id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entity.DisplayField(); got != tt.want {
				t.Errorf("DisplayField() = %q, want %q", got, tt.want)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
