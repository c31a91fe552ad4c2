package schema

import (
	"path/filepath"
	"testing"
)

func TestParseCatalog(t *testing.T) {
	data := []byte(`
items:
  - {code: EUR, name: Euro, order: 2}
  - {code: USD, name: US Dollar, order: 1}
  - {code: AUD, order: 2}
`)
	c, err := ParseCatalog(data, "Currencies")
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	if c.Name != "currencies" {
		t.Errorf("Name = %q, want %q", c.Name, "currencies")
	}
	order := []string{"USD", "AUD", "EUR"}
	for i, code := range order {
		if c.Items[i].Code != code {
			t.Errorf("Items[%d] = %q, want %q", i, c.Items[i].Code, code)
		}
	}
	if !c.Has("EUR") || c.Has("GBP") {
		t.Error("Has returned wrong membership")
	}
}

func TestParseCatalog_DuplicateCode(t *testing.T) {
	_, err := ParseCatalog([]byte("items:\n  - {code: A}\n  - {code: A}\n"), "x")
	if err == nil {
		t.Fatal("expected duplicate code error")
	}
}

func TestLoadCatalogDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "kinds.yaml"), "items:\n  - {code: spot}\n")
	writeFile(t, filepath.Join(dir, "named.yml"), "name: Other\nitems:\n  - {code: x}\n")

	cats, err := LoadCatalogDir(dir)
	if err != nil {
		t.Fatalf("LoadCatalogDir failed: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("len = %d, want 2", len(cats))
	}

	missing, err := LoadCatalogDir(filepath.Join(dir, "nope"))
	if err != nil || missing != nil {
		t.Errorf("missing dir = %v, %v; want nil, nil", missing, err)
	}
}
