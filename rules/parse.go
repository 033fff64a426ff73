package rules

import (
	"encoding/json"
	"fmt"
)

// Wire shapes for the rule document JSON.
type document struct {
	Version int        `json:"version"`
	Rules   []ruleJSON `json:"rules"`
}

type ruleJSON struct {
	Condition    conditionJSON     `json:"condition"`
	Consequences []consequenceJSON `json:"consequences"`
}

type conditionJSON struct {
	Type       string          `json:"type"`
	Definition json.RawMessage `json:"definition"`
}

type groupDef struct {
	Logic      string          `json:"logic"`
	Conditions []conditionJSON `json:"conditions"`
}

type matcherDef struct {
	Key     string `json:"key"`
	Matcher string `json:"matcher"`
	Values  []any  `json:"values"`
}

type consequenceJSON struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Detail map[string]any `json:"detail"`
}

// ParseDocument decodes a rule document. A malformed condition anywhere
// fails the whole document; callers keep their previous rule set.
func ParseDocument(raw []byte) ([]Rule, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse rules document: %w", err)
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for i, rj := range doc.Rules {
		cond, err := parseCondition(rj.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		consequences := make([]Consequence, 0, len(rj.Consequences))
		for j, cj := range rj.Consequences {
			if cj.Type == "" {
				return nil, fmt.Errorf("rule %d consequence %d: missing type", i, j)
			}
			consequences = append(consequences, Consequence{ID: cj.ID, Type: cj.Type, Detail: cj.Detail})
		}
		rules = append(rules, Rule{Condition: cond, Consequences: consequences})
	}
	return rules, nil
}

func parseCondition(cj conditionJSON) (Condition, error) {
	switch cj.Type {
	case "group":
		var def groupDef
		if err := json.Unmarshal(cj.Definition, &def); err != nil {
			return nil, fmt.Errorf("group definition: %w", err)
		}
		switch def.Logic {
		case "and", "or", "not":
		default:
			return nil, fmt.Errorf("group logic %q unknown", def.Logic)
		}
		children := make([]Condition, 0, len(def.Conditions))
		for _, child := range def.Conditions {
			c, err := parseCondition(child)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		return &Group{Logic: def.Logic, Conditions: children}, nil

	case "matcher":
		var def matcherDef
		if err := json.Unmarshal(cj.Definition, &def); err != nil {
			return nil, fmt.Errorf("matcher definition: %w", err)
		}
		switch Matcher(def.Matcher) {
		case MatcherEquals, MatcherNotEquals, MatcherGreaterThan, MatcherGreaterOrEqual,
			MatcherLessThan, MatcherLessOrEqual, MatcherContains, MatcherNotContains,
			MatcherStartsWith, MatcherEndsWith, MatcherExists, MatcherNotExists:
		default:
			return nil, fmt.Errorf("matcher %q unknown", def.Matcher)
		}
		return &Leaf{Key: def.Key, Matcher: Matcher(def.Matcher), Values: def.Values}, nil

	default:
		return nil, fmt.Errorf("condition type %q unknown", cj.Type)
	}
}
