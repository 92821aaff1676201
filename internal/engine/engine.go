package engine

import (
	"strings"

	"github.com/tordrt/pgmask/internal/schema"
)

// Engine is the configured transformation engine
type Engine struct {
	settings *Settings
	rules    map[string]map[string]any
}

// New creates an engine from settings; nil means DefaultSettings
func New(settings *Settings) *Engine {
	if settings == nil {
		settings = DefaultSettings()
	}

	rules := make(map[string]map[string]any, len(settings.Tables))
	for _, t := range settings.Tables {
		rules[t.Name] = t.Rules
	}

	return &Engine{settings: settings, rules: rules}
}

// Settings returns the settings the engine was built from
func (e *Engine) Settings() *Settings {
	return e.settings
}

// Rules returns the column rules configured for table, preferring a schema-qualified
// entry over a bare table name
func (e *Engine) Rules(table schema.Table) map[string]any {
	if r, ok := e.rules[table.FullName()]; ok {
		return r
	}
	return e.rules[table.Name]
}

// HasOnlyFilter reports whether the dump is restricted to an explicit table list
func (e *Engine) HasOnlyFilter() bool {
	return len(e.settings.Filter.Only) > 0
}

// Selects reports whether table is named by the only-list. Without an only-list
// every table is selected
func (e *Engine) Selects(table schema.Table) bool {
	if !e.HasOnlyFilter() {
		return true
	}
	return matchesAny(table, e.settings.Filter.Only)
}

// Excludes reports whether table is named by the except-list
func (e *Engine) Excludes(table schema.Table) bool {
	return matchesAny(table, e.settings.Filter.Except)
}

func matchesAny(table schema.Table, names []string) bool {
	for _, name := range names {
		if matches(table, name) {
			return true
		}
	}
	return false
}

func matches(table schema.Table, name string) bool {
	if strings.Contains(name, ".") {
		return name == table.FullName()
	}
	return name == table.Name
}
