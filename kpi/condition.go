/*
condition.go - Condition language for rule programs

PURPOSE:
  Evaluates typed predicates (metric, operator, value) against a data bag
  and folds a list of them with AND/OR. Pure, no I/O.

VALUE TYPES:
  ConditionValue is a closed union selected by the operator:
    Number  - gt, gte, lt, lte (and eq/not_eq/contains on numbers)
    Text    - eq, not_eq, contains, not_contains
    Range   - range (inclusive on both ends)

COMBINATION:
  EvaluateAll starts from the first condition's result. Every later
  condition combines with the accumulated result using ITS OWN logical
  operator:

    [a, b(OR), c(AND)]  =>  (a || b) && c

  An empty list evaluates to false.
*/
package kpi

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OPERATORS
// =============================================================================

type Operator string

const (
	OpEq          Operator = "eq"
	OpNotEq       Operator = "not_eq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpRange       Operator = "range"
)

// operatorAliases maps spelled-out forms used by stored rule programs.
var operatorAliases = map[string]Operator{
	"eq":                    OpEq,
	"equals":                OpEq,
	"not_eq":                OpNotEq,
	"not_equals":            OpNotEq,
	"gt":                    OpGt,
	"greater_than":          OpGt,
	"gte":                   OpGte,
	"greater_than_or_equal": OpGte,
	"lt":                    OpLt,
	"less_than":             OpLt,
	"lte":                   OpLte,
	"less_than_or_equal":    OpLte,
	"contains":              OpContains,
	"not_contains":          OpNotContains,
	"range":                 OpRange,
	"between":               OpRange,
}

func ParseOperator(s string) (Operator, error) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, s)
	}
	return op, nil
}

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ParseLogical treats an empty string as AND.
func ParseLogical(s string) (LogicalOperator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return LogicalAnd, nil
	case "OR":
		return LogicalOr, nil
	}
	return "", fmt.Errorf("%w: unknown logical operator %q", ErrInvalidCondition, s)
}

// =============================================================================
// CONDITION VALUE - closed union
// =============================================================================

type ConditionValue interface {
	conditionValue()
}

type Number float64

type Text string

type Range struct {
	Min float64
	Max float64
}

func (Number) conditionValue() {}
func (Text) conditionValue()   {}
func (Range) conditionValue()  {}

// =============================================================================
// CONDITION
// =============================================================================

// DataBag holds the metric values a condition is evaluated against.
type DataBag map[string]any

type Condition struct {
	Metric   string
	Operator Operator
	Value    ConditionValue
	// Logical governs how this condition joins the result accumulated from
	// the conditions before it. Ignored on the first condition.
	Logical LogicalOperator
}

// Validate checks the operator/value pairing.
func (c Condition) Validate() error {
	if c.Metric == "" {
		return fmt.Errorf("%w: metric is required", ErrInvalidCondition)
	}
	switch c.Operator {
	case OpGt, OpGte, OpLt, OpLte:
		if _, ok := c.Value.(Number); !ok {
			return fmt.Errorf("%w: %s requires a number", ErrInvalidCondition, c.Operator)
		}
	case OpRange:
		r, ok := c.Value.(Range)
		if !ok {
			return fmt.Errorf("%w: range requires two numbers", ErrInvalidCondition)
		}
		if r.Min > r.Max {
			return fmt.Errorf("%w: range lower bound %v exceeds upper bound %v", ErrInvalidCondition, r.Min, r.Max)
		}
	case OpEq, OpNotEq, OpContains, OpNotContains:
		switch c.Value.(type) {
		case Number, Text:
		default:
			return fmt.Errorf("%w: %s requires a number or text", ErrInvalidCondition, c.Operator)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Operator)
	}
	switch c.Logical {
	case "", LogicalAnd, LogicalOr:
	default:
		return fmt.Errorf("%w: unknown logical operator %q", ErrInvalidCondition, c.Logical)
	}
	return nil
}

// BuildCondition turns loosely typed input (JSON, forms) into a Condition,
// choosing the value variant from the operator.
func BuildCondition(metric, operator string, value, secondValue any, logical string) (Condition, error) {
	op, err := ParseOperator(operator)
	if err != nil {
		return Condition{}, err
	}
	lop, err := ParseLogical(logical)
	if err != nil {
		return Condition{}, err
	}

	c := Condition{Metric: metric, Operator: op, Logical: lop}
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		n := toNumber(value)
		if math.IsNaN(n) {
			return Condition{}, fmt.Errorf("%w: %s needs a numeric value, got %v", ErrInvalidCondition, op, value)
		}
		c.Value = Number(n)
	case OpRange:
		lo, hi := toNumber(value), toNumber(secondValue)
		if math.IsNaN(lo) || math.IsNaN(hi) {
			return Condition{}, fmt.Errorf("%w: range needs numeric value and second value", ErrInvalidCondition)
		}
		c.Value = Range{Min: lo, Max: hi}
	default:
		switch v := value.(type) {
		case string:
			c.Value = Text(v)
		default:
			n, ok := numericKind(value)
			if !ok {
				return Condition{}, fmt.Errorf("%w: %s needs a number or text, got %T", ErrInvalidCondition, op, value)
			}
			c.Value = Number(n)
		}
	}
	return c, c.Validate()
}

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluate tests one condition against the bag. Malformed conditions never match.
func Evaluate(c Condition, bag DataBag) bool {
	if c.Validate() != nil {
		return false
	}
	raw := bag[c.Metric]

	switch c.Operator {
	case OpEq:
		return strictEqual(raw, c.Value)
	case OpNotEq:
		return !strictEqual(raw, c.Value)
	case OpGt:
		return toNumber(raw) > float64(c.Value.(Number))
	case OpGte:
		return toNumber(raw) >= float64(c.Value.(Number))
	case OpLt:
		return toNumber(raw) < float64(c.Value.(Number))
	case OpLte:
		return toNumber(raw) <= float64(c.Value.(Number))
	case OpContains:
		return strings.Contains(stringify(raw), valueString(c.Value))
	case OpNotContains:
		return !strings.Contains(stringify(raw), valueString(c.Value))
	case OpRange:
		r := c.Value.(Range)
		n := toNumber(raw)
		return n >= r.Min && n <= r.Max
	}
	return false
}

// EvaluateAll left-folds the conditions. Empty input is false.
func EvaluateAll(conditions []Condition, bag DataBag) bool {
	if len(conditions) == 0 {
		return false
	}
	result := Evaluate(conditions[0], bag)
	for _, c := range conditions[1:] {
		matched := Evaluate(c, bag)
		if c.Logical == LogicalOr {
			result = result || matched
		} else {
			result = result && matched
		}
	}
	return result
}

// =============================================================================
// COERCION HELPERS
// =============================================================================

// numericKind converts values that are numbers in their own right.
// Strings are not numbers here; eq/not_eq never coerce.
func numericKind(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN(), true
		}
		return f, true
	}
	return 0, false
}

// toNumber coerces for ordering comparisons. Anything non-numeric is NaN,
// and every comparison against NaN is false.
func toNumber(v any) float64 {
	if n, ok := numericKind(v); ok {
		return n
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return math.NaN()
}

func strictEqual(raw any, v ConditionValue) bool {
	switch cv := v.(type) {
	case Number:
		n, ok := numericKind(raw)
		return ok && n == float64(cv)
	case Text:
		s, ok := raw.(string)
		return ok && s == string(cv)
	}
	return false
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case decimal.Decimal:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	if n, ok := numericKind(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func valueString(v ConditionValue) string {
	switch cv := v.(type) {
	case Number:
		return strconv.FormatFloat(float64(cv), 'f', -1, 64)
	case Text:
		return string(cv)
	}
	return ""
}
