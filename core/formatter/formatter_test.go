package formatter

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/artpar/kalita/core/schema"
	"gopkg.in/yaml.v3"
)

func testEntity(t *testing.T) *schema.Entity {
	t.Helper()
	mod, err := schema.Parse([]byte(`
module: crm
entities:
  person:
    fields:
      name:  {type: string, required: true}
      email: string
      age:   int
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return mod.Entities["person"]
}

func testRecords() []map[string]any {
	return []map[string]any{
		{"id": "p1", "name": "Alice", "email": "alice@example.com", "age": int64(30), "version": int64(1)},
		{"id": "p2", "name": "Bob", "email": nil, "age": int64(25), "version": int64(3)},
	}
}

// ===========================================
// Registry Tests
// ===========================================

func TestDefaultRegistry(t *testing.T) {
	got := strings.Join(DefaultRegistry.Names(), ",")
	if got != "json,table,yaml" {
		t.Errorf("Names = %s, want json,table,yaml", got)
	}

	f, err := DefaultRegistry.Lookup("")
	if err != nil {
		t.Fatalf("Lookup default error: %v", err)
	}
	if f.Name() != "table" {
		t.Errorf("default = %s, want table", f.Name())
	}

	if _, err := DefaultRegistry.Lookup("csv"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewJSONFormatter()); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register(NewJSONFormatter()); err == nil {
		t.Error("expected duplicate registration error")
	}
	if _, ok := r.Get("json"); !ok {
		t.Error("Get(json) not found")
	}
}

func TestColumns(t *testing.T) {
	ent := testEntity(t)

	tests := []struct {
		name      string
		ent       *schema.Entity
		records   []map[string]any
		requested []string
		want      string
	}{
		{"requested", ent, nil, []string{"name", "id"}, "name,id"},
		{"entity order", ent, nil, nil, "id,name,email,age,version"},
		{"record keys", nil, []map[string]any{{"b": 1, "a": 2}}, nil, "a,b"},
		{"nothing", nil, nil, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(Columns(tt.ent, tt.records, tt.requested), ",")
			if got != tt.want {
				t.Errorf("Columns = %s, want %s", got, tt.want)
			}
		})
	}
}

// ===========================================
// Table Tests
// ===========================================

func TestTableFormatter_FormatList(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTableFormatter().FormatList(&buf, testEntity(t), testRecords(), FormatOptions{}); err != nil {
		t.Fatalf("FormatList error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), buf.String())
	}
	if fields := strings.Fields(lines[0]); strings.Join(fields, " ") != "ID NAME EMAIL AGE VERSION" {
		t.Errorf("header = %q", lines[0])
	}
	if fields := strings.Fields(lines[2]); strings.Join(fields, " ") != "p2 Bob - 25 3" {
		t.Errorf("row = %q", lines[2])
	}
}

func TestTableFormatter_FormatList_Options(t *testing.T) {
	var buf bytes.Buffer
	opts := FormatOptions{Columns: []string{"email"}, NoHeader: true, MaxWidth: 8}
	if err := NewTableFormatter().FormatList(&buf, testEntity(t), testRecords()[:1], opts); err != nil {
		t.Fatalf("FormatList error: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "alice..." {
		t.Errorf("output = %q, want alice...", got)
	}
}

func TestTableFormatter_FormatList_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTableFormatter().FormatList(&buf, nil, nil, FormatOptions{}); err != nil {
		t.Fatalf("FormatList error: %v", err)
	}
	if !strings.Contains(buf.String(), "No records found.") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTableFormatter_FormatRecord(t *testing.T) {
	rec := testRecords()[0]
	rec["created_at"] = "2025-01-01T00:00:00Z"

	var buf bytes.Buffer
	if err := NewTableFormatter().FormatRecord(&buf, testEntity(t), rec, FormatOptions{}); err != nil {
		t.Fatalf("FormatRecord error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Name:", "Alice", "Created At:", "2025-01-01T00:00:00Z", "Updated At:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := NewTableFormatter().FormatRecord(&buf, nil, nil, FormatOptions{}); err != nil {
		t.Fatalf("FormatRecord nil error: %v", err)
	}
	if !strings.Contains(buf.String(), "Record not found.") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		val  any
		want string
	}{
		{nil, "-"},
		{"x", "x"},
		{true, "yes"},
		{false, "no"},
		{int64(7), "7"},
		{3.0, "3"},
		{2.5, "2.5"},
		{json.Number("12.30"), "12.30"},
		{[]any{"a", "b"}, "a,b"},
		{map[string]any{"k": 1}, `{"k":1}`},
	}
	for _, tt := range tests {
		if got := formatValue(tt.val, 0); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.val, got, tt.want)
		}
	}
	if got := formatValue("héllo wörld", 8); got != "héllo..." {
		t.Errorf("truncated = %q, want héllo...", got)
	}
}

func TestFormatLabel(t *testing.T) {
	if got := formatLabel("created_at"); got != "Created At" {
		t.Errorf("formatLabel = %q, want Created At", got)
	}
}

// ===========================================
// JSON Tests
// ===========================================

func TestJSONFormatter_FormatList(t *testing.T) {
	var buf bytes.Buffer
	opts := FormatOptions{Columns: []string{"id", "name"}, Compact: true}
	if err := NewJSONFormatter().FormatList(&buf, testEntity(t), testRecords(), opts); err != nil {
		t.Fatalf("FormatList error: %v", err)
	}

	var out struct {
		Entity string           `json:"entity"`
		Count  int              `json:"count"`
		Data   []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Entity != "crm.person" || out.Count != 2 {
		t.Errorf("entity/count = %s/%d, want crm.person/2", out.Entity, out.Count)
	}
	if len(out.Data[0]) != 2 || out.Data[0]["name"] != "Alice" {
		t.Errorf("data[0] = %v, want id and name only", out.Data[0])
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Error("compact output should be a single line")
	}
}

func TestJSONFormatter_FormatRecord(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONFormatter().FormatRecord(&buf, testEntity(t), nil, FormatOptions{}); err != nil {
		t.Fatalf("FormatRecord error: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v, ok := out["data"]; !ok || v != nil {
		t.Errorf("data = %v, want null", v)
	}

	buf.Reset()
	if err := NewJSONFormatter().FormatRecord(&buf, testEntity(t), testRecords()[0], FormatOptions{}); err != nil {
		t.Fatalf("FormatRecord error: %v", err)
	}
	if !strings.Contains(buf.String(), `"email": "alice@example.com"`) {
		t.Errorf("output = %s", buf.String())
	}
}

func TestJSONFormatter_FormatError(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONFormatter().FormatError(&buf, errors.New("boom")); err != nil {
		t.Fatalf("FormatError error: %v", err)
	}
	if !strings.Contains(buf.String(), `"error": "boom"`) {
		t.Errorf("output = %s", buf.String())
	}
}

// ===========================================
// YAML Tests
// ===========================================

func TestYAMLFormatter_FormatList(t *testing.T) {
	var buf bytes.Buffer
	if err := NewYAMLFormatter().FormatList(&buf, testEntity(t), testRecords(), FormatOptions{}); err != nil {
		t.Fatalf("FormatList error: %v", err)
	}

	var out struct {
		Entity string           `yaml:"entity"`
		Count  int              `yaml:"count"`
		Data   []map[string]any `yaml:"data"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if out.Entity != "crm.person" || out.Count != 2 || len(out.Data) != 2 {
		t.Errorf("decoded = %+v", out)
	}
	if out.Data[1]["age"] != 25 {
		t.Errorf("data[1].age = %v, want 25", out.Data[1]["age"])
	}

	// Keys follow schema order, not alphabetical order.
	text := buf.String()
	if strings.Index(text, "name:") > strings.Index(text, "email:") {
		t.Errorf("name should precede email:\n%s", text)
	}
}

func TestYAMLFormatter_FormatRecord(t *testing.T) {
	var buf bytes.Buffer
	opts := FormatOptions{Columns: []string{"name", "missing"}}
	if err := NewYAMLFormatter().FormatRecord(&buf, testEntity(t), testRecords()[0], opts); err != nil {
		t.Fatalf("FormatRecord error: %v", err)
	}
	want := "entity: crm.person\ndata:\n  name: Alice\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	if err := NewYAMLFormatter().FormatRecord(&buf, nil, nil, FormatOptions{}); err != nil {
		t.Fatalf("FormatRecord nil error: %v", err)
	}
	if !strings.Contains(buf.String(), "data: null") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestYAMLFormatter_FormatError(t *testing.T) {
	var buf bytes.Buffer
	if err := NewYAMLFormatter().FormatError(&buf, errors.New("boom")); err != nil {
		t.Fatalf("FormatError error: %v", err)
	}
	if buf.String() != "error: boom\n" {
		t.Errorf("output = %q", buf.String())
	}
}
