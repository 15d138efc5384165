package automation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// previewLimit caps payload text carried in notifications.
const previewLimit = 200

// comparison matches `field(.field)* OP literal` over the whole condition.
// Two-character operators come first in the alternation so `<=` is not
// read as `<` followed by `=literal`.
var comparison = regexp.MustCompile(`^\s*(\w+(?:\.\w+)*)\s*(==|!=|<=|>=|<|>)\s*('[^']*'|[^\s'()&|=<>!]+)\s*$`)

// ParsePayload decodes raw as JSON, falling back to the raw string when it
// does not parse.
func ParsePayload(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// EvaluateCondition reports whether data satisfies cond.
//
// An empty condition is always true. A simple comparison such as
// `temperature > 25` or `status == 'on'` is evaluated directly against the
// (possibly nested) payload. Anything else is compiled as a sandboxed
// boolean expression over the payload's top-level fields, with all
// builtins disabled. Malformed conditions evaluate to false.
func EvaluateCondition(cond string, data any) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true
	}

	if m := comparison.FindStringSubmatch(cond); m != nil {
		return compare(data, m[1], m[2], m[3])
	}
	return evalExpression(cond, data)
}

// EvaluateResponseCondition evaluates a response condition. Conditions
// starting with "$." address the payload by path using the comparison
// grammar; any other condition goes through EvaluateCondition.
func EvaluateResponseCondition(cond string, data any) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true
	}
	if !strings.HasPrefix(cond, "$.") {
		return EvaluateCondition(cond, data)
	}

	m := comparison.FindStringSubmatch(strings.TrimPrefix(cond, "$."))
	if m == nil {
		return false
	}
	return compare(data, m[1], m[2], m[3])
}

func compare(data any, path, op, literal string) bool {
	actual, ok := navigate(data, path)
	if !ok {
		return false
	}
	expected := parseLiteral(literal)

	switch op {
	case "==":
		return equal(actual, expected)
	case "!=":
		return !equal(actual, expected)
	}

	a, okA := toFloat(actual)
	b, okB := toFloat(expected)
	if !okA || !okB {
		return false
	}
	switch op {
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	}
	return false
}

// navigate walks dotted path through nested objects. A missing key yields
// nil; a step through a non-object fails.
func navigate(data any, path string) (any, bool) {
	current := data
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current = obj[key]
	}
	return current, true
}

func parseLiteral(s string) any {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	if s == "null" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// equal compares numbers numerically and everything else by type and value.
func equal(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// number reports the value of a numeric type without string coercion.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toFloat coerces numbers and numeric strings to float64.
func toFloat(v any) (float64, bool) {
	if f, ok := number(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

func evalExpression(cond string, data any) bool {
	env, ok := data.(map[string]any)
	if !ok {
		env = map[string]any{}
	}

	program, err := expr.Compile(cond, expr.Env(env), expr.AsBool(), expr.DisableAllBuiltins())
	if err != nil {
		return false
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	result, ok := out.(bool)
	return ok && result
}

// preview renders data as text for notification bodies, cut to
// previewLimit runes.
func preview(data any) string {
	var s string
	switch v := data.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprint(v)
		} else {
			s = string(b)
		}
	}
	return truncate(s, previewLimit)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
