package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RulesFile is the content of a rules file: optional entity definitions to
// seed and the ordered access rule documents.
type RulesFile struct {
	Entities []any            `yaml:"entities"`
	Rules    []map[string]any `yaml:"rules"`
}

// LoadRulesFile reads a YAML (or JSON) rules file. Keys are kept verbatim,
// unlike viper which lower-cases them, since rule documents name camelCase
// fields and claims.
func LoadRulesFile(path string) (*RulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return &f, nil
}
