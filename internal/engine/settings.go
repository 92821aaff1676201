// Package engine holds the transformation engine configuration. The engine decides
// which synthetic value replaces which column value; this package only loads its
// settings and answers which tables take part in a dump
package engine

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the engine configuration file.
//
//	tables:
//	  - name: users
//	    rules:
//	      email:
//	        email: {}
//	filter:
//	  only:
//	    - public.orders
//	  except:
//	    - audit_log
type Settings struct {
	// Tables lists the transformation rules per table
	Tables []TableSettings `yaml:"tables"`

	// Filter restricts which tables are dumped
	Filter Filter `yaml:"filter"`

	// Globals are values shared by all rules
	Globals map[string]any `yaml:"globals"`
}

// TableSettings holds the rules of one table
type TableSettings struct {
	// Name is "table" or "schema.table"
	Name string `yaml:"name"`

	// Rules maps column names to opaque rule definitions
	Rules map[string]any `yaml:"rules"`
}

// Filter selects tables by name. Names are "table" (any schema) or "schema.table"
type Filter struct {
	// Only, when non-empty, dumps just these tables and the tables they reference
	Only []string `yaml:"only"`

	// Except never dumps these tables
	Except []string `yaml:"except"`
}

// DefaultSettings returns settings with no rules and no filter
func DefaultSettings() *Settings {
	return &Settings{
		Tables:  []TableSettings{},
		Globals: map[string]any{},
	}
}

// LoadSettings reads settings from a YAML file
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings parses a YAML document and validates it
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate validates the settings
func (s *Settings) Validate() error {
	seen := make(map[string]bool, len(s.Tables))
	for i, t := range s.Tables {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("tables[%d].name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("table %s is configured twice", t.Name)
		}
		seen[t.Name] = true
	}

	for _, name := range append(append([]string{}, s.Filter.Only...), s.Filter.Except...) {
		if err := validateTableName(name); err != nil {
			return fmt.Errorf("invalid filter entry: %w", err)
		}
	}

	return nil
}

func validateTableName(name string) error {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("%q must be table or schema.table", name)
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("%q has an empty component", name)
		}
	}
	return nil
}
