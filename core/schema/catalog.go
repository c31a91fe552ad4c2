package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is a named, ordered list of selectable codes usable in place of enum values.
type Catalog struct {
	Name  string        `yaml:"name" json:"name"`
	Items []CatalogItem `yaml:"items" json:"items"`

	codes map[string]struct{}
}

// CatalogItem is one selectable value.
type CatalogItem struct {
	Code      string `yaml:"code" json:"code"`
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	Order     int    `yaml:"order,omitempty" json:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty" json:"valid_from,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty" json:"valid_to,omitempty"`
}

// Has reports whether code is one of the catalog's item codes.
func (c *Catalog) Has(code string) bool {
	if c.codes != nil {
		_, ok := c.codes[code]
		return ok
	}
	for _, it := range c.Items {
		if it.Code == code {
			return true
		}
	}
	return false
}

// ParseCatalog parses a catalog file. The name defaults to stem when the file has none.
func ParseCatalog(data []byte, stem string) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if c.Name == "" {
		c.Name = stem
	}
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	if c.Name == "" {
		return nil, fmt.Errorf("catalog name is required")
	}

	c.codes = make(map[string]struct{}, len(c.Items))
	for i, it := range c.Items {
		if it.Code == "" {
			return nil, fmt.Errorf("catalog %q: item %d has no code", c.Name, i)
		}
		if _, dup := c.codes[it.Code]; dup {
			return nil, fmt.Errorf("catalog %q: duplicate code %q", c.Name, it.Code)
		}
		c.codes[it.Code] = struct{}{}
	}

	sort.SliceStable(c.Items, func(i, j int) bool {
		if c.Items[i].Order != c.Items[j].Order {
			return c.Items[i].Order < c.Items[j].Order
		}
		return c.Items[i].Code < c.Items[j].Code
	})
	return &c, nil
}

// LoadCatalogDir parses every YAML file under dir. A missing directory yields no catalogs.
func LoadCatalogDir(dir string) ([]*Catalog, error) {
	if dir == "" {
		return nil, nil
	}
	var out []*Catalog
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(d.Name()) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read file %s: %w", path, err)
		}
		stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		c, err := ParseCatalog(data, stem)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, c)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return out, err
}
