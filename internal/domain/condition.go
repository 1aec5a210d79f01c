// Package domain defines the core types shared across polyarb: conditions,
// dependency rules, projection results, and the store/cache interfaces the
// infrastructure layers implement.
package domain

import "time"

// Condition is one tradable binary outcome indicator inside a group. The
// index is assigned at group build time and is immutable afterwards; it is
// the position of the condition in every price vector for that group.
type Condition struct {
	Index   int
	Label   string
	TokenID string // venue token ID used to look up live prices
}

// ConditionGroup is a set of logically dependent conditions evaluated
// together. Groups are constructed once per market family and reused across
// many projection runs.
type ConditionGroup struct {
	ID         string
	Title      string
	Status     string // active, closed, settled
	Conditions []Condition
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TokenIDs returns the token IDs of the group's conditions in index order.
func (g ConditionGroup) TokenIDs() []string {
	ids := make([]string, len(g.Conditions))
	for i, c := range g.Conditions {
		ids[i] = c.TokenID
	}
	return ids
}

// RuleType enumerates the supported logical dependency declarations.
type RuleType string

const (
	RuleImplies    RuleType = "implies"    // Conditions[1] true implies Conditions[0] true
	RuleExclusive  RuleType = "exclusive"  // exactly one of Conditions is true
	RuleExhaustive RuleType = "exhaustive" // at least one of Conditions is true
)

// DependencyRule is one logical dependency declaration between conditions of
// a group, produced by an external detection process or a rule file. For
// RuleImplies, Conditions holds exactly [parent, child].
type DependencyRule struct {
	ID         string
	GroupID    string
	Type       RuleType
	Conditions []int // condition indices the rule ranges over
	Confidence float64
	Source     string // "file", "api", "gamma"
	CreatedAt  time.Time
}
