package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RiskTaxonomy describes the closed set of risk categories the reasoner is
// prompted with, plus per-category guidance and subcategory examples.
type RiskTaxonomy struct {
	Categories []TaxonomyCategory `yaml:"categories"`
}

// TaxonomyCategory is one risk category entry.
type TaxonomyCategory struct {
	Key           string   `yaml:"key"`
	Label         string   `yaml:"label"`
	Guidance      string   `yaml:"guidance"`
	Subcategories []string `yaml:"subcategories"`
}

var taxonomyKeys = map[string]struct{}{
	"aggressiveness":  {},
	"discrimination":  {},
	"misleading":      {},
	"public_nuisance": {},
}

// Validate checks that every category key belongs to the closed enumeration
// and appears at most once.
func (t RiskTaxonomy) Validate() error {
	if len(t.Categories) == 0 {
		return fmt.Errorf("op=config.RiskTaxonomy.Validate: no categories")
	}
	seen := make(map[string]struct{}, len(t.Categories))
	for _, c := range t.Categories {
		if _, ok := taxonomyKeys[c.Key]; !ok {
			return fmt.Errorf("op=config.RiskTaxonomy.Validate: unknown category %q", c.Key)
		}
		if _, dup := seen[c.Key]; dup {
			return fmt.Errorf("op=config.RiskTaxonomy.Validate: duplicate category %q", c.Key)
		}
		seen[c.Key] = struct{}{}
	}
	return nil
}

// LoadTaxonomy reads the taxonomy YAML at path. A missing file falls back to
// the compiled-in default; a present but invalid file is an error.
func LoadTaxonomy(path string) (RiskTaxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	content, err := os.ReadFile(path) // #nosec G304 -- operator-provided config path
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTaxonomy(), nil
		}
		return RiskTaxonomy{}, fmt.Errorf("op=config.LoadTaxonomy: read %s: %w", path, err)
	}
	var tax RiskTaxonomy
	if err := yaml.Unmarshal(content, &tax); err != nil {
		return RiskTaxonomy{}, fmt.Errorf("op=config.LoadTaxonomy: parse %s: %w", path, err)
	}
	if err := tax.Validate(); err != nil {
		return RiskTaxonomy{}, err
	}
	return tax, nil
}

// DefaultTaxonomy is the built-in category set used when no taxonomy file
// is configured.
func DefaultTaxonomy() RiskTaxonomy {
	return RiskTaxonomy{Categories: []TaxonomyCategory{
		{
			Key:           "aggressiveness",
			Label:         "Aggressive or violent expression",
			Guidance:      "Threats, intimidation, glorified violence, hostile language aimed at people or groups.",
			Subcategories: []string{"violence", "threat", "harassment", "hostile_language"},
		},
		{
			Key:           "discrimination",
			Label:         "Discriminatory expression",
			Guidance:      "Slurs, stereotyping, exclusion or demeaning statements about protected attributes.",
			Subcategories: []string{"slur", "stereotype", "exclusion", "hate_symbol"},
		},
		{
			Key:           "misleading",
			Label:         "Misleading or deceptive claims",
			Guidance:      "Unsubstantiated effect claims, fabricated facts, deceptive framing, undisclosed advertising.",
			Subcategories: []string{"false_claim", "exaggeration", "stealth_marketing", "doctored_content"},
		},
		{
			Key:           "public_nuisance",
			Label:         "Public nuisance behavior",
			Guidance:      "Dangerous stunts, trespassing, disturbing public spaces, encouraging rule-breaking.",
			Subcategories: []string{"dangerous_act", "trespass", "disturbance", "illegal_activity"},
		},
	}}
}
