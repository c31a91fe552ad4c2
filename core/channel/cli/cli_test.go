package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/kalita/adapters/clock"
	"github.com/artpar/kalita/adapters/idgen"
	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/runtime"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/storage"
	"github.com/artpar/kalita/core/validation"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const testModule = `
module: crm
entities:
  person:
    fields:
      name:  {type: string, required: true}
      age:   int
      score: money
      tags:  {type: array, elem: string}
      active: {type: bool, default: true}
`

func newTestRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	mod, err := schema.Parse([]byte(testModule))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	snap, issues := registry.Build([]schema.Module{mod}, nil)
	if len(issues) > 0 {
		t.Fatalf("Build issues: %v", issues)
	}
	reg := registry.New(nil, zerolog.Nop())
	reg.Swap(snap)
	return runtime.New(reg, storage.NewMemoryStore(), runtime.Config{
		Clock:  clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).Step(time.Second),
		IDs:    idgen.NewSequential("p"),
		Logger: zerolog.Nop(),
	})
}

// execute runs the records command tree against rt.
func execute(t *testing.T, rt *runtime.Runtime, stdin string, args ...string) (string, error) {
	t.Helper()
	c := New(func(*cobra.Command) (*runtime.Runtime, func() error, error) {
		return rt, func() error { return nil }, nil
	})
	c.interactive = func() bool { return stdin != "" }

	root := &cobra.Command{Use: "kalita", SilenceErrors: true}
	root.AddCommand(c.Command())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"records"}, args...))
	err := root.Execute()
	return out.String(), err
}

func decodeData(t *testing.T, out string) map[string]any {
	t.Helper()
	var doc struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return doc.Data
}

func TestConvertInput(t *testing.T) {
	tests := []struct {
		name  string
		field *schema.Field
		val   string
		want  any
	}{
		{"string", &schema.Field{Type: schema.TypeString}, "42", "42"},
		{"int", &schema.Field{Type: schema.TypeInt}, "42", int64(42)},
		{"float", &schema.Field{Type: schema.TypeFloat}, "2.5", 2.5},
		{"bool", &schema.Field{Type: schema.TypeBool}, "true", true},
		{"null", &schema.Field{Type: schema.TypeString}, "null", nil},
		{"date", &schema.Field{Type: schema.TypeDate}, "2025-01-31", "2025-01-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertInput(tt.val, tt.field)
			if err != nil {
				t.Fatalf("ConvertInput error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ConvertInput(%q) = %#v, want %#v", tt.val, got, tt.want)
			}
		})
	}
}

func TestConvertInput_Arrays(t *testing.T) {
	f := &schema.Field{Type: schema.TypeArray, Elem: schema.TypeInt}

	got, err := ConvertInput("1, 2,3", f)
	if err != nil {
		t.Fatalf("ConvertInput error: %v", err)
	}
	if arr, ok := got.([]any); !ok || len(arr) != 3 || arr[2] != int64(3) {
		t.Errorf("ConvertInput = %#v, want [1 2 3]", got)
	}

	got, err = ConvertInput(`["a","b"]`, &schema.Field{Type: schema.TypeArray, Elem: schema.TypeString})
	if err != nil {
		t.Fatalf("ConvertInput error: %v", err)
	}
	if arr, ok := got.([]any); !ok || len(arr) != 2 || arr[1] != "b" {
		t.Errorf("ConvertInput = %#v, want [a b]", got)
	}

	if _, err := ConvertInput("x,y", f); err == nil {
		t.Error("expected error for non-numeric elements")
	}
}

func TestRecordLifecycle(t *testing.T) {
	rt := newTestRuntime(t)

	out, err := execute(t, rt, "", "create", "crm.person", "--set", "name=Ada", "--set", "age=36", "--set", "tags=math,engines", "-o", "json")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	rec := decodeData(t, out)
	if rec["id"] != "p000001" || rec["name"] != "Ada" || rec["active"] != true {
		t.Fatalf("created = %v", rec)
	}

	out, err = execute(t, rt, "", "get", "CRM.Person", "p000001", "-o", "json")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got := decodeData(t, out)["age"]; got != float64(36) {
		t.Errorf("age = %v, want 36", got)
	}

	if _, err := execute(t, rt, "", "patch", "crm.person", "p000001", "--set", "age=37"); err == nil {
		t.Fatal("patch without version should fail")
	} else if errs, ok := validation.As(err); !ok || errs[0].Code != validation.CodeVersionConflict {
		t.Fatalf("patch error = %v, want version_conflict", err)
	}

	out, err = execute(t, rt, "", "patch", "crm.person", "p000001", "--version", "1", "--set", "age=37", "-o", "json")
	if err != nil {
		t.Fatalf("patch error: %v", err)
	}
	if rec := decodeData(t, out); rec["version"] != float64(2) || rec["age"] != float64(37) {
		t.Errorf("patched = %v", rec)
	}

	if _, err := execute(t, rt, "", "patch", "crm.person", "p000001", "--latest", "--data", `{"score": 12.5}`); err != nil {
		t.Fatalf("patch --latest error: %v", err)
	}

	if _, err := execute(t, rt, "", "delete", "crm.person", "p000001", "--yes"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := execute(t, rt, "", "get", "crm.person", "p000001"); err == nil {
		t.Error("get after delete should fail")
	}

	out, err = execute(t, rt, "", "restore", "crm.person", "p000001", "-o", "yaml", "--columns", "id,version")
	if err != nil {
		t.Fatalf("restore error: %v", err)
	}
	if out != "entity: crm.person\ndata:\n  id: p000001\n  version: 5\n" {
		t.Errorf("restore output = %q", out)
	}
}

func TestListAndCount(t *testing.T) {
	rt := newTestRuntime(t)
	for _, name := range []string{"Ada", "Grace", "Linus"} {
		if _, err := execute(t, rt, "", "create", "crm.person", "--set", "name="+name); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	out, err := execute(t, rt, "", "list", "crm.person", "--sort", "-name", "--limit", "2", "--columns", "name", "--no-header")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if got := strings.Fields(out); strings.Join(got, ",") != "Linus,Grace" {
		t.Errorf("list = %q, want Linus,Grace", out)
	}

	out, err = execute(t, rt, "", "count", "crm.person", "--filter", "name__in=ada,grace")
	if err != nil {
		t.Fatalf("count error: %v", err)
	}
	if strings.TrimSpace(out) != "2" {
		t.Errorf("count = %q, want 2", out)
	}

	out, err = execute(t, rt, "", "count", "crm.person", "-q", "lin")
	if err != nil {
		t.Fatalf("count error: %v", err)
	}
	if strings.TrimSpace(out) != "1" {
		t.Errorf("search count = %q, want 1", out)
	}

	if _, err := execute(t, rt, "", "list", "crm.person", "--filter", "bogus"); err == nil {
		t.Error("expected error for malformed filter")
	}
}

func TestCreate_Errors(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := execute(t, rt, "", "create", "crm.person", "--set", "nope=1", "--set", "age=old")
	errs, ok := validation.As(err)
	if !ok || len(errs) != 2 {
		t.Fatalf("error = %v, want two field errors", err)
	}
	if errs[0].Code != validation.CodeUnknownField || errs[1].Code != validation.CodeTypeMismatch {
		t.Errorf("codes = %s,%s", errs[0].Code, errs[1].Code)
	}

	_, err = execute(t, rt, "", "create", "crm.person", "--no-prompt")
	if errs, ok := validation.As(err); !ok || errs[0].Code != validation.CodeRequired {
		t.Errorf("error = %v, want required", err)
	}

	if _, err := execute(t, rt, "", "create", "crm.unknown"); err == nil {
		t.Error("expected error for unknown entity")
	}

	if _, err := execute(t, rt, "", "create", "crm.person", "--data", "{not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}

	if _, err := execute(t, rt, "", "get", "crm.person", "x", "-o", "csv"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestCreate_DataFileAndPrompt(t *testing.T) {
	rt := newTestRuntime(t)

	path := filepath.Join(t.TempDir(), "person.json")
	if err := os.WriteFile(path, []byte(`{"name":"From File","age":3}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := execute(t, rt, "", "create", "crm.person", "--data", "@"+path, "-o", "json")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if got := decodeData(t, out)["name"]; got != "From File" {
		t.Errorf("name = %v, want From File", got)
	}

	// A terminal session prompts for the missing required name.
	out, err = execute(t, rt, "Prompted\n", "create", "crm.person", "--set", "age=5", "-o", "json")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if got := decodeData(t, out)["name"]; got != "Prompted" {
		t.Errorf("name = %v, want Prompted", got)
	}
}

func TestDelete_Confirm(t *testing.T) {
	rt := newTestRuntime(t)
	if _, err := execute(t, rt, "", "create", "crm.person", "--set", "name=Ada"); err != nil {
		t.Fatalf("create error: %v", err)
	}

	if _, err := execute(t, rt, "n\n", "delete", "crm.person", "p000001"); err == nil {
		t.Fatal("declined delete should return an error")
	}
	if _, err := execute(t, rt, "", "get", "crm.person", "p000001"); err != nil {
		t.Fatalf("record should still exist: %v", err)
	}

	if _, err := execute(t, rt, "", "delete", "crm.person", "p000001", "--version", "9", "--yes"); err == nil {
		t.Error("delete with stale version should fail")
	}
	if _, err := execute(t, rt, "y\n", "delete", "crm.person", "p000001"); err != nil {
		t.Fatalf("confirmed delete error: %v", err)
	}
}

func TestPrompter(t *testing.T) {
	mod, err := schema.Parse([]byte(`
module: t
entities:
  e:
    fields:
      code:   {type: string, required: true, readonly: true, default: X}
      status: {type: enum, values: [open, closed], required: true}
      count:  {type: int, required: true}
      note:   text
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ent := mod.Entities["e"]

	var prompts bytes.Buffer
	p := NewPrompter(strings.NewReader("open\n7\n"), &prompts)
	got, err := p.PromptForFields(ent, map[string]any{"note": "kept"})
	if err != nil {
		t.Fatalf("PromptForFields error: %v", err)
	}
	if got["status"] != "open" || got["count"] != int64(7) || got["note"] != "kept" {
		t.Errorf("result = %v", got)
	}
	if _, asked := got["code"]; asked {
		t.Error("readonly field with default should not be prompted")
	}
	if !strings.Contains(prompts.String(), "Status [open/closed] (required): ") {
		t.Errorf("prompts = %q", prompts.String())
	}

	p = NewPrompter(strings.NewReader("\n"), &bytes.Buffer{})
	if _, err := p.PromptForFields(ent, nil); err == nil {
		t.Error("expected error for empty required answer")
	}
}
