// Package rules decides whether a proposed action is covered by an enabled
// auto-approve rule.
package rules

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"actiongate/internal/domain"
	"actiongate/internal/repo"
)

// Operators supported in rule conditions. Anything else makes the rule
// non-matching, never an evaluation abort.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpContains = "contains"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
)

var knownOperators = map[string]bool{
	OpEq: true, OpNeq: true, OpContains: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
}

// KnownOperator reports whether op is part of the condition vocabulary.
func KnownOperator(op string) bool {
	return knownOperators[op]
}

// Evaluator matches proposed actions against stored rules.
type Evaluator struct {
	Repo repo.Repo
}

// Match returns the first enabled rule for actionType whose conditions all
// hold against data, in priority order, or nil when nothing matches. A rule
// with malformed conditions is skipped; a broken rule must never block the
// queue.
func (e Evaluator) Match(ctx context.Context, actionType string, data map[string]any) (*domain.Rule, error) {
	candidates, err := e.Repo.ListRules(ctx, repo.RuleFilters{ActionType: actionType, EnabledOnly: true})
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		conditions, err := DecodeConditions(candidates[i].ConditionsJSON)
		if err != nil || len(conditions) == 0 {
			continue
		}
		if MatchesAll(conditions, data) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// DecodeConditions parses the stored conditions column.
func DecodeConditions(raw string) ([]domain.Condition, error) {
	var conditions []domain.Condition
	if err := json.Unmarshal([]byte(raw), &conditions); err != nil {
		return nil, err
	}
	return conditions, nil
}

// MatchesAll reports whether every condition holds against data (logical
// AND, no OR support).
func MatchesAll(conditions []domain.Condition, data map[string]any) bool {
	for _, c := range conditions {
		if !Holds(c, data) {
			return false
		}
	}
	return true
}

// Holds evaluates one condition against the action payload. A missing field
// or unknown operator fails the condition rather than erroring.
func Holds(c domain.Condition, data map[string]any) bool {
	actual, ok := data[c.Field]
	if !ok {
		return false
	}
	switch c.Operator {
	case OpEq:
		return scalarEqual(actual, c.Value)
	case OpNeq:
		return !scalarEqual(actual, c.Value)
	case OpContains:
		return contains(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, okA := toNumber(actual)
		b, okB := toNumber(c.Value)
		if !okA || !okB {
			return false
		}
		switch c.Operator {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	default:
		return false
	}
}

// scalarEqual compares after normalizing to the small closed set of scalar
// kinds the payload can carry: number, bool, string.
func scalarEqual(a, b any) bool {
	if na, okA := toNumber(a); okA {
		if nb, okB := toNumber(b); okB {
			return na == nb
		}
	}
	if ba, okA := a.(bool); okA {
		if bb, okB := b.(bool); okB {
			return ba == bb
		}
	}
	return toString(a) == toString(b)
}

// contains is substring on strings and membership on arrays.
func contains(actual, value any) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, toString(value))
	case []any:
		for _, item := range v {
			if scalarEqual(item, value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
