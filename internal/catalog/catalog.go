// Package catalog loads the exercise catalog: which files to verify and the
// rules each solution must satisfy.
package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"excheck/internal/domain/verify"
	"excheck/internal/rules"
)

// Catalog is the set of exercises excheck verifies.
type Catalog struct {
	Exercises []verify.Exercise
}

type catalogFile struct {
	Exercises []exerciseEntry `yaml:"exercises"`
}

type exerciseEntry struct {
	ID    string      `yaml:"id"`
	Title string      `yaml:"title"`
	File  string      `yaml:"file"`
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ID              string   `yaml:"id"`
	AppliesTo       string   `yaml:"applies_to"`
	Scope           string   `yaml:"scope"`
	Required        []string `yaml:"required"`
	Forbidden       []string `yaml:"forbidden"`
	DiagnosticOrder []string `yaml:"diagnostic_order"`
	Condition       string   `yaml:"condition"`
}

// Load reads and validates a catalog from a YAML file. Relative exercise
// file paths are resolved against the catalog's directory.
func Load(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()

	catalog, err := LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for i := range catalog.Exercises {
		if !filepath.IsAbs(catalog.Exercises[i].FilePath) {
			catalog.Exercises[i].FilePath = filepath.Join(baseDir, catalog.Exercises[i].FilePath)
		}
	}

	return catalog, nil
}

// LoadFromReader decodes, defaults and validates a catalog.
func LoadFromReader(r io.Reader) (*Catalog, error) {
	var raw catalogFile
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog YAML: %w", err)
	}

	catalog := &Catalog{
		Exercises: make([]verify.Exercise, 0, len(raw.Exercises)),
	}
	for _, entry := range raw.Exercises {
		exercise, err := entry.toExercise()
		if err != nil {
			return nil, err
		}
		catalog.Exercises = append(catalog.Exercises, exercise)
	}

	if err := catalog.validate(); err != nil {
		return nil, err
	}

	return catalog, nil
}

// Exercise returns the catalog entry with the given id.
func (c *Catalog) Exercise(id string) (verify.Exercise, bool) {
	for _, exercise := range c.Exercises {
		if exercise.ID == id {
			return exercise, true
		}
	}
	return verify.Exercise{}, false
}

func (e exerciseEntry) toExercise() (verify.Exercise, error) {
	if e.ID == "" {
		return verify.Exercise{}, fmt.Errorf("exercise missing id")
	}
	if e.File == "" {
		return verify.Exercise{}, fmt.Errorf("exercise %s: missing file", e.ID)
	}

	exercise := verify.Exercise{
		ID:       e.ID,
		Title:    e.Title,
		FilePath: e.File,
		Rules:    make([]verify.Rule, 0, len(e.Rules)),
	}

	for _, entry := range e.Rules {
		rule, err := entry.toRule(e.ID)
		if err != nil {
			return verify.Exercise{}, err
		}
		exercise.Rules = append(exercise.Rules, rule)
	}

	return exercise, nil
}

func (r ruleEntry) toRule(exerciseID string) (verify.Rule, error) {
	if r.ID == "" {
		return verify.Rule{}, fmt.Errorf("exercise %s: rule missing id", exerciseID)
	}

	scope := verify.RuleScope(r.Scope)
	switch scope {
	case "":
		scope = verify.ScopeUnit
	case verify.ScopeUnit, verify.ScopeFile:
	default:
		return verify.Rule{}, fmt.Errorf("exercise %s: rule %s: unknown scope %q", exerciseID, r.ID, r.Scope)
	}

	if scope == verify.ScopeUnit && r.AppliesTo == "" {
		return verify.Rule{}, fmt.Errorf("exercise %s: rule %s: unit-scoped rule missing applies_to", exerciseID, r.ID)
	}
	// A unit-scoped rule with no markers is still a valid "declaration
	// exists" check; a file-scoped one would check nothing at all.
	if scope == verify.ScopeFile && len(r.Required) == 0 && len(r.Forbidden) == 0 && r.Condition == "" {
		return verify.Rule{}, fmt.Errorf("exercise %s: rule %s: file-scoped rule checks nothing", exerciseID, r.ID)
	}

	if err := rules.CheckCondition(r.Condition); err != nil {
		return verify.Rule{}, fmt.Errorf("exercise %s: rule %s: %w", exerciseID, r.ID, err)
	}

	rule := verify.Rule{
		ID:               r.ID,
		AppliesTo:        r.AppliesTo,
		Scope:            scope,
		RequiredMarkers:  r.Required,
		ForbiddenMarkers: r.Forbidden,
		DiagnosticOrder:  r.DiagnosticOrder,
		Condition:        r.Condition,
	}
	return rule, nil
}

func (c *Catalog) validate() error {
	if len(c.Exercises) == 0 {
		return fmt.Errorf("catalog has no exercises")
	}

	seen := make(map[string]bool, len(c.Exercises))
	for _, exercise := range c.Exercises {
		if seen[exercise.ID] {
			return fmt.Errorf("duplicate exercise id %q", exercise.ID)
		}
		seen[exercise.ID] = true

		ruleIDs := make(map[string]bool, len(exercise.Rules))
		for _, rule := range exercise.Rules {
			if ruleIDs[rule.ID] {
				return fmt.Errorf("exercise %s: duplicate rule id %q", exercise.ID, rule.ID)
			}
			ruleIDs[rule.ID] = true
		}
	}

	return nil
}
