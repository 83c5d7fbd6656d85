/*
Package factory turns scheme documents into validated payout schemes.

PURPOSE:
  Producers describe how a show pays out as a document instead of code.
  The factory parses JSON (the API and database form) and YAML (preset
  catalogs) into payout.SchemeInput values the payout service can store.

JSON SCHEMA:
  {
    "name": "House 10%, equal split",
    "description": "Expenses first, 10% to the house, rest split evenly",
    "production_id": "prod-1",
    "is_default": true,
    "rules": {
      "allocation": [
        {"type": "expenses_first"},
        {"type": "percentage", "value": "10", "label": "house"},
        {"type": "remainder", "label": "performers"}
      ],
      "distribution": {"method": "equal"}
    }
  }

YAML CATALOG:
  presets:
    - key: house-ten-equal
      name: House 10%, equal split
      rules:
        allocation:
          - type: expenses_first
          - {type: percentage, value: 10, label: house}
          - type: remainder
        distribution: {method: equal}

  YAML is normalized to JSON before decoding, so both forms share one
  validator (payout.ParseRules).

USAGE:
  f := factory.NewSchemeFactory()
  in, err := f.ParseScheme(body)
  scheme, err := payoutService.CreateScheme(ctx, in)

  presets, err := f.Presets()

SEE ALSO:
  - payout/rules_codec.go: Rules wire form
  - presets.yaml: Built-in catalog
*/
package factory

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/production"
	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var builtinPresets []byte

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// SchemeJSON is the document form of a scheme.
type SchemeJSON struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	ProductionID string          `json:"production_id,omitempty"`
	IsDefault    bool            `json:"is_default,omitempty"`
	Rules        json.RawMessage `json:"rules"`
}

// Preset is a named scheme shipped with the server or loaded from a catalog.
type Preset struct {
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Rules       payout.Rules `json:"rules"`
}

// Input returns a scheme input for the given scope.
func (p Preset) Input(productionID production.ProductionID, isDefault bool) payout.SchemeInput {
	return payout.SchemeInput{
		ProductionID: productionID,
		Name:         p.Name,
		Description:  p.Description,
		Rules:        p.Rules,
		IsDefault:    isDefault,
	}
}

type catalog struct {
	Presets []map[string]any `yaml:"presets"`
}

// =============================================================================
// FACTORY
// =============================================================================

// SchemeFactory parses scheme documents. The optional PresetsFile
// replaces the built-in catalog.
type SchemeFactory struct {
	PresetsFile string
}

func NewSchemeFactory() *SchemeFactory {
	return &SchemeFactory{}
}

// ParseScheme decodes a JSON scheme document.
func (f *SchemeFactory) ParseScheme(data []byte) (payout.SchemeInput, error) {
	var doc SchemeJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return payout.SchemeInput{}, &generic.RulesError{Reason: err.Error()}
	}
	return f.FromJSON(doc)
}

// ParseSchemeYAML decodes a single YAML scheme document.
func (f *SchemeFactory) ParseSchemeYAML(data []byte) (payout.SchemeInput, error) {
	raw, err := yamlToJSON(data)
	if err != nil {
		return payout.SchemeInput{}, err
	}
	return f.ParseScheme(raw)
}

// FromJSON validates a decoded document.
func (f *SchemeFactory) FromJSON(doc SchemeJSON) (payout.SchemeInput, error) {
	if strings.TrimSpace(doc.Name) == "" {
		return payout.SchemeInput{}, &generic.RulesError{Path: "name", Reason: "required"}
	}
	if len(doc.Rules) == 0 {
		return payout.SchemeInput{}, &generic.RulesError{Path: "rules", Reason: "required"}
	}
	rules, err := payout.ParseRules(doc.Rules)
	if err != nil {
		return payout.SchemeInput{}, err
	}
	return payout.SchemeInput{
		ProductionID: production.ProductionID(doc.ProductionID),
		Name:         doc.Name,
		Description:  doc.Description,
		Rules:        rules,
		IsDefault:    doc.IsDefault,
	}, nil
}

// ToJSON is the inverse of FromJSON.
func (f *SchemeFactory) ToJSON(s payout.Scheme) SchemeJSON {
	rules, _ := json.Marshal(s.Rules)
	return SchemeJSON{
		Name:         s.Name,
		Description:  s.Description,
		ProductionID: string(s.ProductionID),
		IsDefault:    s.IsDefault,
		Rules:        rules,
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// Presets returns the preset catalog in file order.
func (f *SchemeFactory) Presets() ([]Preset, error) {
	data := builtinPresets
	if f.PresetsFile != "" {
		b, err := os.ReadFile(f.PresetsFile)
		if err != nil {
			return nil, fmt.Errorf("read presets: %w", err)
		}
		data = b
	}
	return ParsePresets(data)
}

// Preset looks a preset up by key.
func (f *SchemeFactory) Preset(key string) (Preset, error) {
	presets, err := f.Presets()
	if err != nil {
		return Preset{}, err
	}
	for _, p := range presets {
		if p.Key == key {
			return p, nil
		}
	}
	return Preset{}, &generic.NotFoundError{Kind: "preset", ID: key}
}

// ParsePresets decodes a YAML preset catalog. Keys must be unique.
func ParsePresets(data []byte) ([]Preset, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &generic.RulesError{Path: "presets", Reason: err.Error()}
	}

	seen := make(map[string]bool, len(c.Presets))
	presets := make([]Preset, 0, len(c.Presets))
	for i, entry := range c.Presets {
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, &generic.RulesError{Path: fmt.Sprintf("presets[%d]", i), Reason: err.Error()}
		}
		var p Preset
		if err := json.Unmarshal(raw, &p); err != nil {
			var re *generic.RulesError
			if errors.As(err, &re) {
				re.Path = fmt.Sprintf("presets[%d].rules.%s", i, re.Path)
				return nil, re
			}
			return nil, &generic.RulesError{Path: fmt.Sprintf("presets[%d]", i), Reason: err.Error()}
		}
		if p.Key == "" || p.Name == "" {
			return nil, &generic.RulesError{Path: fmt.Sprintf("presets[%d]", i), Reason: "key and name are required"}
		}
		if p.Rules.Distribution == nil {
			return nil, &generic.RulesError{Path: fmt.Sprintf("presets[%d].rules", i), Reason: "required"}
		}
		if seen[p.Key] {
			return nil, &generic.RulesError{Path: fmt.Sprintf("presets[%d].key", i), Reason: fmt.Sprintf("duplicate key %q", p.Key)}
		}
		seen[p.Key] = true
		presets = append(presets, p)
	}
	return presets, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v map[string]any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, &generic.RulesError{Reason: err.Error()}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &generic.RulesError{Reason: err.Error()}
	}
	return b, nil
}
