// Package rules evaluates declarative rule documents against each event
// before listeners see it, attaching data or emitting consequence events.
// The engine registers as a hub preprocessor and runs its evaluation under
// one lock, so rule-set swaps and evaluation are mutually exclusive.
package rules

import (
	"strconv"
	"strings"

	"github.com/groblegark/pulse/tokens"
)

// Matcher is one comparison operator in a condition leaf.
type Matcher string

const (
	MatcherEquals         Matcher = "eq"
	MatcherNotEquals      Matcher = "ne"
	MatcherGreaterThan    Matcher = "gt"
	MatcherGreaterOrEqual Matcher = "ge"
	MatcherLessThan       Matcher = "lt"
	MatcherLessOrEqual    Matcher = "le"
	MatcherContains       Matcher = "co"
	MatcherNotContains    Matcher = "nc"
	MatcherStartsWith     Matcher = "sw"
	MatcherEndsWith       Matcher = "ew"
	MatcherExists         Matcher = "ex"
	MatcherNotExists      Matcher = "nx"
)

// Condition is a node in a rule's condition tree.
type Condition interface {
	Evaluate(f *tokens.Finder) bool
}

// Group combines child conditions with and/or/not logic.
type Group struct {
	Logic      string
	Conditions []Condition
}

func (g *Group) Evaluate(f *tokens.Finder) bool {
	switch g.Logic {
	case "or":
		for _, c := range g.Conditions {
			if c.Evaluate(f) {
				return true
			}
		}
		return false
	case "not":
		for _, c := range g.Conditions {
			if !c.Evaluate(f) {
				return true
			}
		}
		return false
	default: // and
		for _, c := range g.Conditions {
			if !c.Evaluate(f) {
				return false
			}
		}
		return true
	}
}

// Leaf compares the value at a token path against candidate values. A leaf
// matches when any candidate satisfies the operator, except ne, which
// matches only when no candidate equals the value (or the path is missing).
type Leaf struct {
	Key     string
	Matcher Matcher
	Values  []any
}

func (l *Leaf) Evaluate(f *tokens.Finder) bool {
	actual, exists := f.Get(l.Key)

	switch l.Matcher {
	case MatcherExists:
		return exists
	case MatcherNotExists:
		return !exists
	case MatcherNotEquals:
		// Absence satisfies "not equals".
		if !exists {
			return true
		}
		for _, want := range l.Values {
			if looseEqual(actual, want) {
				return false
			}
		}
		return true
	}

	if !exists {
		return false
	}

	for _, want := range l.Values {
		if matchOne(l.Matcher, actual, want) {
			return true
		}
	}
	return false
}

func matchOne(m Matcher, actual, want any) bool {
	switch m {
	case MatcherEquals:
		return looseEqual(actual, want)
	case MatcherGreaterThan, MatcherGreaterOrEqual, MatcherLessThan, MatcherLessOrEqual:
		a, aok := asNumber(actual)
		b, bok := asNumber(want)
		if !aok || !bok {
			return false
		}
		switch m {
		case MatcherGreaterThan:
			return a > b
		case MatcherGreaterOrEqual:
			return a >= b
		case MatcherLessThan:
			return a < b
		default:
			return a <= b
		}
	case MatcherContains:
		return strings.Contains(fold(actual), fold(want))
	case MatcherNotContains:
		return !strings.Contains(fold(actual), fold(want))
	case MatcherStartsWith:
		return strings.HasPrefix(fold(actual), fold(want))
	case MatcherEndsWith:
		return strings.HasSuffix(fold(actual), fold(want))
	default:
		return false
	}
}

// looseEqual compares case-insensitively for strings and numerically when
// both sides coerce to numbers.
func looseEqual(a, b any) bool {
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.EqualFold(as, bs)
		}
	}
	if an, aok := asNumber(a); aok {
		if bn, bok := asNumber(b); bok {
			return an == bn
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return false
}

// asNumber coerces numbers and numeric strings; anything else fails.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func fold(v any) string {
	return strings.ToLower(tokens.Stringify(v))
}

// Consequence types with in-place semantics; everything else dispatches a
// new consequence event.
const (
	ConsequenceAdd    = "add"
	ConsequenceModify = "mod"
)

// Consequence is one action attached to a matching rule.
type Consequence struct {
	ID     string
	Type   string
	Detail map[string]any
}

// Rule pairs a condition tree with its ordered consequences.
type Rule struct {
	Condition    Condition
	Consequences []Consequence
}
