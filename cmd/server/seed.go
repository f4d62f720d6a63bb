package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/print-mes/internal/domain"
)

type seedYAML struct {
	Lookups []seedLookup `yaml:"lookups"`
}

type seedLookup struct {
	LookupType string         `yaml:"lookup_type"`
	Code       string         `yaml:"code"`
	Label      string         `yaml:"label"`
	SortOrder  int            `yaml:"sort_order"`
	IsActive   *bool          `yaml:"is_active"`
	Attribute  map[string]any `yaml:"attribute"`
}

// loadLookupSeed reads the lookup seed file. A missing file yields no rows.
func loadLookupSeed(path string) ([]domain.Lookup, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return parseLookupSeed(b)
}

func parseLookupSeed(b []byte) ([]domain.Lookup, error) {
	var doc seedYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}
	out := make([]domain.Lookup, 0, len(doc.Lookups))
	for i, it := range doc.Lookups {
		l := domain.Lookup{
			Type:      it.LookupType,
			Code:      it.Code,
			Label:     it.Label,
			SortOrder: it.SortOrder,
			IsActive:  it.IsActive == nil || *it.IsActive,
		}
		if l.Label == "" {
			l.Label = l.Code
		}
		if it.Attribute != nil {
			raw, err := json.Marshal(it.Attribute)
			if err != nil {
				return nil, fmt.Errorf("lookup %d attribute: %w", i, err)
			}
			l.Attribute = raw
		}
		out = append(out, l)
	}
	return out, nil
}
