package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soulvan/soulvan-backend/internal/domain"
)

// Load reads a YAML rule table and overlays it on the defaults. Kinds absent
// from the file keep their default rule; unknown kinds are rejected.
func Load(path string) (Table, error) {
	table := Defaults()
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}

	var overlay map[string]Rule
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}

	for name, rule := range overlay {
		kind := domain.SubmissionKind(name)
		if !kind.Valid() {
			return nil, fmt.Errorf("rule table: unknown submission kind %q", name)
		}
		table[kind] = rule
	}
	return table, nil
}
