package templates

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var catalogTOML string

type category struct {
	Questions []string `toml:"questions"`
}

// Catalog maps a document category to its suggested questions. It is
// read-only after Load.
type Catalog struct {
	categories map[string][]string
}

func Load() (*Catalog, error) {
	return Parse(catalogTOML)
}

func Parse(data string) (*Catalog, error) {
	var raw struct {
		Categories map[string]category `toml:"categories"`
	}
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("decode template catalog failed: %w", err)
	}
	out := make(map[string][]string, len(raw.Categories))
	for name, c := range raw.Categories {
		if len(c.Questions) == 0 {
			continue
		}
		out[name] = append([]string(nil), c.Questions...)
	}
	return &Catalog{categories: out}, nil
}

// All returns a copy of the catalog.
func (c *Catalog) All() map[string][]string {
	out := make(map[string][]string, len(c.categories))
	for name, qs := range c.categories {
		out[name] = append([]string(nil), qs...)
	}
	return out
}

func (c *Catalog) Categories() []string {
	names := make([]string, 0, len(c.categories))
	for name := range c.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Questions(category string) ([]string, bool) {
	qs, ok := c.categories[category]
	if !ok {
		return nil, false
	}
	return append([]string(nil), qs...), true
}
