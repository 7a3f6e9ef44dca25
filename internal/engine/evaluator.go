package engine

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/davidmoltin/leadflow/internal/models"
)

// Evaluator handles condition evaluation
type Evaluator struct{}

// NewEvaluator creates a new condition evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate combines a list of condition nodes with operator.
// An empty list is true under AND and false under OR.
func (e *Evaluator) Evaluate(
	conditions []models.Condition,
	operator models.LogicalOperator,
	context map[string]interface{},
) (bool, error) {
	switch operator.Normalize() {
	case models.LogicalOr:
		for _, c := range conditions {
			result, err := e.EvaluateNode(c, context)
			if err != nil {
				return false, err
			}
			if result {
				return true, nil
			}
		}
		return false, nil

	default:
		for _, c := range conditions {
			result, err := e.EvaluateNode(c, context)
			if err != nil {
				return false, err
			}
			if !result {
				return false, nil
			}
		}
		return true, nil
	}
}

// EvaluateNode evaluates a single leaf condition or a nested group
func (e *Evaluator) EvaluateNode(condition models.Condition, context map[string]interface{}) (bool, error) {
	if condition.IsGroup() {
		return e.Evaluate(condition.Conditions, models.LogicalOperator(condition.Operator), context)
	}

	fieldValue, _ := lookupPath(condition.Field, context)
	return e.compareValues(fieldValue, condition)
}

// compareValues compares the context value with the condition value
func (e *Evaluator) compareValues(fieldValue interface{}, c models.Condition) (bool, error) {
	switch c.Operator {
	case models.OpEquals:
		return e.equals(fieldValue, c.Value, c.CaseSensitive), nil

	case models.OpNotEquals:
		return !e.equals(fieldValue, c.Value, c.CaseSensitive), nil

	case models.OpContains:
		return e.contains(fieldValue, c.Value, c.CaseSensitive), nil

	case models.OpNotContains:
		return !e.contains(fieldValue, c.Value, c.CaseSensitive), nil

	case models.OpStartsWith:
		a, b := normalizeStrings(fieldValue, c.Value, c.CaseSensitive)
		return fieldValue != nil && strings.HasPrefix(a, b), nil

	case models.OpEndsWith:
		a, b := normalizeStrings(fieldValue, c.Value, c.CaseSensitive)
		return fieldValue != nil && strings.HasSuffix(a, b), nil

	case models.OpGreaterThan:
		a, aOk := toFloat64(fieldValue)
		b, bOk := toFloat64(c.Value)
		return aOk && bOk && a > b, nil

	case models.OpLessThan:
		a, aOk := toFloat64(fieldValue)
		b, bOk := toFloat64(c.Value)
		return aOk && bOk && a < b, nil

	case models.OpIsEmpty:
		return isEmpty(fieldValue), nil

	case models.OpIsNotEmpty:
		return !isEmpty(fieldValue), nil

	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, c.Operator)
	}
}

// equals compares numerically when both sides are numbers, as strings otherwise
func (e *Evaluator) equals(a, b interface{}, caseSensitive bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat64(a); ok {
		if bf, ok := toFloat64(b); ok {
			return af == bf
		}
	}
	as, bs := normalizeStrings(a, b, caseSensitive)
	return as == bs
}

// contains checks substring membership for strings and item membership for lists
func (e *Evaluator) contains(haystack, needle interface{}, caseSensitive bool) bool {
	if haystack == nil {
		return false
	}

	switch h := haystack.(type) {
	case []interface{}:
		for _, item := range h {
			if e.equals(item, needle, caseSensitive) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range h {
			if e.equals(item, needle, caseSensitive) {
				return true
			}
		}
		return false
	default:
		a, b := normalizeStrings(haystack, needle, caseSensitive)
		return strings.Contains(a, b)
	}
}

func normalizeStrings(a, b interface{}, caseSensitive bool) (string, string) {
	as, bs := stringify(a), stringify(b)
	if !caseSensitive {
		return strings.ToLower(as), strings.ToLower(bs)
	}
	return as, bs
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	case []interface{}:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

// lookupPath resolves a field against the context. A literal top-level key
// wins; otherwise the field is walked with dot notation ("lead.status").
func lookupPath(field string, context map[string]interface{}) (interface{}, bool) {
	if field == "" || context == nil {
		return nil, false
	}
	if val, ok := context[field]; ok {
		return val, true
	}

	parts := strings.Split(field, ".")
	var current interface{} = context
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			if j, isJSONB := current.(models.JSONB); isJSONB {
				m = j
			} else {
				return nil, false
			}
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// toFloat64 converts numbers and numeric strings to float64
func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
