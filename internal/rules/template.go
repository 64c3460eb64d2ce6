package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"propguard/internal/errors"
)

// DefaultTemplateName is the name of the built-in two-step template.
const DefaultTemplateName = "two-step-standard"

// DefaultTemplate returns the built-in two-step challenge: an 8% target in
// phase 1, 5% in phase 2, a 5% daily and 10% overall loss limit throughout,
// and a 50% consistency rule once funded.
func DefaultTemplate() *RuleSet {
	daily := func() *Threshold { return &Threshold{PercentOfStartingBalance: 5} }
	overall := func() *Threshold { return &Threshold{PercentOfStartingBalance: 10} }

	return &RuleSet{
		Name: DefaultTemplateName,
		Firm: "generic",
		Phase1: &PhaseRules{
			ProfitTarget:     &ProfitTarget{Threshold: Threshold{PercentOfStartingBalance: 8}, Required: true},
			DailyLossLimit:   daily(),
			OverallLossLimit: overall(),
			MinTradingDays:   4,
		},
		Phase2: &PhaseRules{
			ProfitTarget:     &ProfitTarget{Threshold: Threshold{PercentOfStartingBalance: 5}, Required: true},
			DailyLossLimit:   daily(),
			OverallLossLimit: overall(),
			MinTradingDays:   4,
		},
		Funded: &PhaseRules{
			DailyLossLimit:   daily(),
			OverallLossLimit: overall(),
			Consistency: &Consistency{
				Enabled:                     true,
				RequiredMultipleOfBestDay:   2,
				RequiredMultipleOfBestTrade: 2,
			},
			SpecialConstraints: &SpecialConstraints{StopLossRequired: true},
		},
	}
}

// LoadTemplate reads a rule template from a YAML or JSON file and validates it.
// Files without a known extension are tried as YAML first, then JSON.
func LoadTemplate(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrTemplateNotFound, "read template %s", path)
		}
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	rs, err := ParseTemplate(data, filepath.Ext(path))
	if err != nil {
		return nil, errors.Wrapf(err, "template %s", path)
	}
	if rs.Name == "" {
		rs.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return rs, nil
}

// ParseTemplate decodes a template body. ext selects the format (".json",
// ".yaml", ".yml"); any other value tries YAML, then JSON.
func ParseTemplate(data []byte, ext string) (*RuleSet, error) {
	rs := &RuleSet{}
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, rs); err != nil {
			return nil, errors.NewConfigError("template", ext, fmt.Sprintf("parse JSON: %v", err))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, rs); err != nil {
			return nil, errors.NewConfigError("template", ext, fmt.Sprintf("parse YAML: %v", err))
		}
	default:
		if err := yaml.Unmarshal(data, rs); err != nil {
			rs = &RuleSet{}
			if jerr := json.Unmarshal(data, rs); jerr != nil {
				return nil, errors.NewConfigError("template", ext, "parse template (tried YAML and JSON)")
			}
		}
	}

	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

// EncodeTemplate renders rs as JSON when ext is ".json" and as YAML otherwise.
func EncodeTemplate(rs *RuleSet, ext string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(ext) {
	case ".json", "json":
		data, err = json.MarshalIndent(rs, "", "  ")
	default:
		data, err = yaml.Marshal(rs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// SaveTemplate writes rs as YAML or JSON depending on the file extension.
func SaveTemplate(path string, rs *RuleSet) error {
	data, err := EncodeTemplate(rs, filepath.Ext(path))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create template directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}

// Catalog indexes rule templates by name.
type Catalog struct {
	templates map[string]*RuleSet
}

// NewCatalog returns a catalog holding the built-in template.
func NewCatalog() *Catalog {
	c := &Catalog{templates: make(map[string]*RuleSet)}
	c.Add(DefaultTemplate())
	return c
}

// LoadTemplateDir loads every *.yaml, *.yml and *.json file in dir into a
// catalog alongside the built-in template. A missing directory yields the
// built-in catalog.
func LoadTemplateDir(dir string) (*Catalog, error) {
	c := NewCatalog()
	if dir == "" {
		return c, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read template directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		rs, err := LoadTemplate(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		c.Add(rs)
	}
	return c, nil
}

// Add registers rs under its name, replacing any template with the same name.
func (c *Catalog) Add(rs *RuleSet) {
	c.templates[rs.Name] = rs
}

// Get returns the template called name.
func (c *Catalog) Get(name string) (*RuleSet, error) {
	rs, ok := c.templates[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrTemplateNotFound, "template %q", name)
	}
	return rs, nil
}

// Names returns the template names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
