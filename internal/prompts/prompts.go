// Package prompts picks camera-motion prompts for listing clips.
package prompts

import (
	_ "embed"
	"fmt"
	"math/rand"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed templates.yaml
var defaultCatalogYAML []byte

// Template families.
const (
	FamilyInterior       = "interior"
	FamilyExteriorAerial = "exterior_aerial"
	FamilyExteriorGround = "exterior_ground"
)

// Perspective hints for exterior shots.
const (
	PerspectiveAerial = "aerial"
	PerspectiveGround = "ground"
)

// exteriorCategories are outdoor categories that don't carry an "exterior" prefix.
var exteriorCategories = map[string]bool{
	"pool":       true,
	"backyard":   true,
	"front_yard": true,
	"patio":      true,
	"deck":       true,
	"view":       true,
	"aerial":     true,
}

type Template struct {
	Key  string `yaml:"key"`
	Text string `yaml:"text"`
}

// Catalog holds the motion templates grouped by family, plus per-category overrides.
type Catalog struct {
	Suffix    string                `yaml:"suffix"`
	Families  map[string][]Template `yaml:"families"`
	Overrides map[string][]Template `yaml:"overrides"`
}

// Selection is one chosen template with the safety suffix applied.
type Selection struct {
	Key    string
	Prompt string
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// MustDefault is Default for package-level initialisation.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes a YAML catalog and checks every family has templates.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	for _, family := range []string{FamilyInterior, FamilyExteriorAerial, FamilyExteriorGround} {
		if len(c.Families[family]) == 0 {
			return nil, fmt.Errorf("prompt catalog has no %s templates", family)
		}
	}
	return &c, nil
}

// BaseCategory strips a numeric room suffix: "bedroom-2" -> "bedroom".
func BaseCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if i := strings.LastIndex(category, "-"); i > 0 {
		suffix := category[i+1:]
		if suffix != "" && strings.Trim(suffix, "0123456789") == "" {
			return category[:i]
		}
	}
	return category
}

// FamilyFor maps a category and optional perspective hint to a template family.
func FamilyFor(category, perspective string) string {
	base := BaseCategory(category)
	exterior := strings.HasPrefix(base, "exterior") || exteriorCategories[base]
	if !exterior {
		return FamilyInterior
	}
	if perspective == PerspectiveAerial || strings.Contains(base, "aerial") {
		return FamilyExteriorAerial
	}
	return FamilyExteriorGround
}

// Candidates returns the template pool for a category: its override if one
// exists, otherwise its family.
func (c *Catalog) Candidates(category, perspective string) []Template {
	if pool := c.Overrides[BaseCategory(category)]; len(pool) > 0 {
		return pool
	}
	return c.Families[FamilyFor(category, perspective)]
}

// Select picks a template for the category, avoiding previousKey when the pool
// has more than one template. It has no side effects; callers thread the
// returned key into their next call. A nil rng uses the global source.
func (c *Catalog) Select(category, perspective, previousKey string, rng *rand.Rand) Selection {
	pool := c.Candidates(category, perspective)

	candidates := pool
	if previousKey != "" && len(pool) > 1 {
		filtered := make([]Template, 0, len(pool))
		for _, t := range pool {
			if t.Key != previousKey {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	var idx int
	if rng != nil {
		idx = rng.Intn(len(candidates))
	} else {
		idx = rand.Intn(len(candidates))
	}
	chosen := candidates[idx]

	return Selection{
		Key:    chosen.Key,
		Prompt: c.compose(chosen.Text),
	}
}

func (c *Catalog) compose(text string) string {
	suffix := strings.TrimSpace(c.Suffix)
	if suffix == "" {
		return text
	}
	return strings.TrimSpace(text) + " " + suffix
}
