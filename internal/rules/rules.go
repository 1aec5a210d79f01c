// Package rules loads declarative dependency-rule files. A rule file names a
// condition group, its conditions, and the logical dependencies between them;
// it is the file-based inbound interface for rules produced by an external
// detection process.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/quantale/polyarb/internal/domain"
)

// File is the top-level YAML document.
type File struct {
	Group GroupDoc `yaml:"group"`
}

// GroupDoc declares one condition group with its rules.
type GroupDoc struct {
	ID         string         `yaml:"id"`
	Title      string         `yaml:"title"`
	Conditions []ConditionDoc `yaml:"conditions"`
	Rules      []RuleDoc      `yaml:"rules"`
}

// ConditionDoc declares one condition; the index is its position in the list.
type ConditionDoc struct {
	Label   string `yaml:"label"`
	TokenID string `yaml:"token_id"`
}

// RuleDoc declares one dependency. Implication rules use parent/child labels;
// set rules list member labels.
type RuleDoc struct {
	Type       string   `yaml:"type"` // implies | exclusive | exhaustive
	Parent     string   `yaml:"parent"`
	Child      string   `yaml:"child"`
	Conditions []string `yaml:"conditions"`
	Confidence float64  `yaml:"confidence"`
}

// Loaded is the domain form of one parsed rule file.
type Loaded struct {
	Group domain.ConditionGroup
	Rules []domain.DependencyRule
}

// Load reads and parses a single rule file.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("rules: read %s: %w", path, err)
	}
	loaded, err := Parse(data)
	if err != nil {
		return Loaded{}, fmt.Errorf("rules: %s: %w", path, err)
	}
	return loaded, nil
}

// LoadDir loads every *.yaml / *.yml file in dir, sorted by name.
func LoadDir(dir string) ([]Loaded, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("rules: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Loaded, 0, len(names))
	for _, name := range names {
		loaded, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, loaded)
	}
	return out, nil
}

// Parse decodes a YAML rule document into domain types, resolving condition
// labels to indices.
func Parse(data []byte) (Loaded, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Loaded{}, fmt.Errorf("decode yaml: %w", err)
	}
	doc := f.Group
	if doc.ID == "" {
		return Loaded{}, fmt.Errorf("group.id is required")
	}
	if len(doc.Conditions) == 0 {
		return Loaded{}, fmt.Errorf("group %s: at least one condition is required", doc.ID)
	}

	now := time.Now().UTC()
	group := domain.ConditionGroup{
		ID:        doc.ID,
		Title:     doc.Title,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	index := make(map[string]int, len(doc.Conditions))
	for i, c := range doc.Conditions {
		if c.Label == "" {
			return Loaded{}, fmt.Errorf("group %s: condition %d has no label", doc.ID, i)
		}
		if _, dup := index[c.Label]; dup {
			return Loaded{}, fmt.Errorf("group %s: duplicate condition label %q", doc.ID, c.Label)
		}
		index[c.Label] = i
		group.Conditions = append(group.Conditions, domain.Condition{
			Index:   i,
			Label:   c.Label,
			TokenID: c.TokenID,
		})
	}

	rules := make([]domain.DependencyRule, 0, len(doc.Rules))
	for i, rd := range doc.Rules {
		rule, err := toDomainRule(doc.ID, rd, index)
		if err != nil {
			return Loaded{}, fmt.Errorf("group %s: rule %d: %w", doc.ID, i, err)
		}
		rule.CreatedAt = now
		rules = append(rules, rule)
	}

	return Loaded{Group: group, Rules: rules}, nil
}

func toDomainRule(groupID string, rd RuleDoc, index map[string]int) (domain.DependencyRule, error) {
	confidence := rd.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	rule := domain.DependencyRule{
		ID:         uuid.New().String(),
		GroupID:    groupID,
		Confidence: confidence,
		Source:     "file",
	}

	switch strings.ToLower(strings.TrimSpace(rd.Type)) {
	case string(domain.RuleImplies):
		parent, ok := index[rd.Parent]
		if !ok {
			return rule, fmt.Errorf("unknown parent label %q", rd.Parent)
		}
		child, ok := index[rd.Child]
		if !ok {
			return rule, fmt.Errorf("unknown child label %q", rd.Child)
		}
		rule.Type = domain.RuleImplies
		rule.Conditions = []int{parent, child}
	case string(domain.RuleExclusive), string(domain.RuleExhaustive):
		if len(rd.Conditions) < 2 {
			return rule, fmt.Errorf("set rule needs at least 2 conditions, got %d", len(rd.Conditions))
		}
		idxs := make([]int, 0, len(rd.Conditions))
		for _, label := range rd.Conditions {
			idx, ok := index[label]
			if !ok {
				return rule, fmt.Errorf("unknown condition label %q", label)
			}
			idxs = append(idxs, idx)
		}
		rule.Type = domain.RuleType(strings.ToLower(strings.TrimSpace(rd.Type)))
		rule.Conditions = idxs
	default:
		return rule, fmt.Errorf("unknown rule type %q", rd.Type)
	}
	return rule, nil
}

// Validate checks a rule list against a group of n conditions. File intake,
// API intake, and store-loaded rules all pass through it before compilation.
func Validate(n int, list []domain.DependencyRule) error {
	for i, r := range list {
		switch r.Type {
		case domain.RuleImplies:
			if len(r.Conditions) != 2 {
				return fmt.Errorf("rules: rule %d: implies needs 2 conditions", i)
			}
		case domain.RuleExclusive, domain.RuleExhaustive:
			if len(r.Conditions) < 2 {
				return fmt.Errorf("rules: rule %d: set rule needs at least 2 conditions", i)
			}
		default:
			return fmt.Errorf("rules: rule %d: unknown type %q", i, r.Type)
		}
		for _, c := range r.Conditions {
			if c < 0 || c >= n {
				return fmt.Errorf("rules: rule %d: condition index %d out of range [0,%d)", i, c, n)
			}
		}
	}
	return nil
}
