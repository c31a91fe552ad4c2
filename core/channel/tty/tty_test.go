package tty

import (
	"bytes"
	"context"
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
)

const testModule = `
module: crm
entities:
  person:
    fields:
      name: {type: string, required: true}
      age:  int
  note:
    fields:
      title:  string
      person: {type: ref, to: person}
`

func newTestChannel(t *testing.T, input string) (*Channel, *bytes.Buffer) {
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
	rt := runtime.New(reg, storage.NewMemoryStore(), runtime.Config{
		Clock:  clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).Step(time.Second),
		IDs:    idgen.NewSequential(""),
		Logger: zerolog.Nop(),
	})

	var out bytes.Buffer
	c := New(rt, strings.NewReader(input), &out)
	c.SetShowStats(false)
	return c, &out
}

// exec runs one line and returns what it printed.
func exec(t *testing.T, c *Channel, out *bytes.Buffer, line string) (string, error) {
	t.Helper()
	out.Reset()
	err := c.execute(context.Background(), line)
	return out.String(), err
}

func TestNew(t *testing.T) {
	c := New(nil, strings.NewReader(""), &bytes.Buffer{})
	if c.prompt != "kalita> " {
		t.Errorf("prompt = %q, want %q", c.prompt, "kalita> ")
	}
	if !c.showStats {
		t.Error("showStats should be true by default")
	}
	if c.Name() != "tty" {
		t.Errorf("Name() = %q, want tty", c.Name())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    uint64
		expected string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.input); got != tt.expected {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected []string
	}{
		{"simple args", "list crm.person", []string{"list", "crm.person"}},
		{"empty line", "", nil},
		{"quoted string", `create crm.person name="John Doe"`, []string{"create", "crm.person", "name=John Doe"}},
		{"single quotes", "create crm.person name='Jane Doe'", []string{"create", "crm.person", "name=Jane Doe"}},
		{"multiple spaces", "list    crm.person", []string{"list", "crm.person"}},
		{"tabs", "list\tcrm.person", []string{"list", "crm.person"}},
		{"nested quotes in value", `set title="he said 'hello'"`, []string{"set", "title=he said 'hello'"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.line)
			if strings.Join(got, "|") != strings.Join(tt.expected, "|") || len(got) != len(tt.expected) {
				t.Errorf("parseArgs(%q) = %v, want %v", tt.line, got, tt.expected)
			}
		})
	}
}

func TestQuoteArgs_RoundTrip(t *testing.T) {
	args := []string{"crm.person", "name=John Doe", `title=say "hi"`, "age=3"}
	got := parseArgs(quoteArgs(args))
	if strings.Join(got, "|") != strings.Join(args, "|") {
		t.Errorf("round trip = %v, want %v", got, args)
	}
}

func TestParseKeyValues(t *testing.T) {
	c, _ := newTestChannel(t, "")
	ent, err := c.runtime.Entity("crm.person")
	if err != nil {
		t.Fatalf("Entity: %v", err)
	}

	data, err := parseKeyValues(ent, []string{"name=Ada", "age=36"})
	if err != nil {
		t.Fatalf("parseKeyValues error: %v", err)
	}
	if data["name"] != "Ada" || data["age"] != int64(36) {
		t.Errorf("data = %v", data)
	}

	_, err = parseKeyValues(ent, []string{"nope=1", "age=x"})
	errs, ok := validation.As(err)
	if !ok || len(errs) != 2 {
		t.Fatalf("error = %v, want two field errors", err)
	}

	if _, err := parseKeyValues(ent, []string{"name"}); err == nil {
		t.Error("expected error for argument without =")
	}
}

func TestChannel_Execute_Basics(t *testing.T) {
	c, out := newTestChannel(t, "")

	if got, err := exec(t, c, out, "help"); err != nil || !strings.Contains(got, "Available commands:") {
		t.Errorf("help = %q, %v", got, err)
	}
	if got, err := exec(t, c, out, "help crm.person"); err != nil || !strings.Contains(got, "string [required]") {
		t.Errorf("help entity = %q, %v", got, err)
	}
	if got, err := exec(t, c, out, "entities"); err != nil || !strings.Contains(got, "crm.note") || !strings.Contains(got, "crm.person") {
		t.Errorf("entities = %q, %v", got, err)
	}
	if _, err := exec(t, c, out, "frobnicate"); err == nil {
		t.Error("expected error for unknown command")
	}
	if got, _ := exec(t, c, out, "stats"); !strings.Contains(got, "enabled") {
		t.Errorf("stats = %q", got)
	}
	if _, err := exec(t, c, out, "quit"); err != nil || c.running {
		t.Errorf("quit: err=%v running=%v", err, c.running)
	}
}

func TestChannel_Execute_Usage(t *testing.T) {
	c, out := newTestChannel(t, "")
	for _, line := range []string{
		"list", "count", "get crm.person", "expand crm.person", "create crm.person",
		"update crm.person 1", "delete crm.person", "restore crm.person",
		"get crm.unknown 1", "expand crm.person 1 deep",
	} {
		if _, err := exec(t, c, out, line); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}
}

func TestChannel_RecordCommands(t *testing.T) {
	c, out := newTestChannel(t, "")

	got, err := exec(t, c, out, `create crm.person name="Ada Lovelace" age=36`)
	if err != nil || got != "Created crm.person: 000001\n" {
		t.Fatalf("create = %q, %v", got, err)
	}
	if _, err := exec(t, c, out, "crm.person create name=Grace"); err != nil {
		t.Fatalf("entity-first create: %v", err)
	}

	got, err = exec(t, c, out, "list crm.person sort=-name")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if i, j := strings.Index(got, "Grace"), strings.Index(got, "Ada Lovelace"); i < 0 || j < 0 || i > j {
		t.Errorf("list order wrong:\n%s", got)
	}

	if got, _ := exec(t, c, out, "count crm.person name=grace"); got != "1\n" {
		t.Errorf("count = %q, want 1", got)
	}

	got, err = exec(t, c, out, "get crm.person 000001")
	if err != nil || !strings.Contains(got, "Ada Lovelace") {
		t.Errorf("get = %q, %v", got, err)
	}

	got, err = exec(t, c, out, "update crm.person 000001 age=37")
	if err != nil || got != "Updated crm.person: 000001 (version 2)\n" {
		t.Errorf("update = %q, %v", got, err)
	}

	if _, err := exec(t, c, out, "create crm.note title=hello person=000001"); err != nil {
		t.Fatalf("create note: %v", err)
	}
	got, err = exec(t, c, out, "expand crm.person 000001")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if want := "crm.person 000001  Ada Lovelace\n  crm.note 000003  hello\n"; got != want {
		t.Errorf("expand = %q, want %q", got, want)
	}

	// Restrict reference blocks the delete.
	if _, err := exec(t, c, out, "delete crm.person 000001"); err == nil {
		t.Error("delete of referenced record should fail")
	}
	if _, err := exec(t, c, out, "crm.note rm 000003"); err != nil {
		t.Fatalf("delete note: %v", err)
	}
	if got, err := exec(t, c, out, "restore crm.note 000003"); err != nil || !strings.HasPrefix(got, "Restored crm.note: 000003") {
		t.Errorf("restore = %q, %v", got, err)
	}
}

func TestChannel_Run(t *testing.T) {
	c, out := newTestChannel(t, "create crm.person age=1\ncreate crm.person name=Ada\ncount crm.person\nquit\ncount crm.person\n")
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Kalita Interactive Shell", "Error:\n  name: ", "(required)", "Created crm.person: 000001", "kalita> 1\n", "Goodbye!"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "kalita> ") != 4 {
		t.Errorf("expected the shell to stop after quit:\n%s", got)
	}
}
