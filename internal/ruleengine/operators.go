package ruleengine

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// applyOperator evaluates a single condition's operator against the
// (possibly absent) resolved field value. Every missing-field outcome
// below is intentional, not a default.
func applyOperator(op Operator, value interface{}, exists bool, want interface{}) (bool, error) {
	switch op {
	case OpEq:
		if !exists {
			return false, nil
		}
		return compareEqual(value, want), nil
	case OpNeq:
		if !exists {
			return true, nil
		}
		return !compareEqual(value, want), nil
	case OpGt, OpGte, OpLt, OpLte:
		if !exists {
			return false, nil
		}
		return compareOrdered(op, value, want)
	case OpBetween:
		if !exists {
			return false, nil
		}
		return compareBetween(value, want)
	case OpIn:
		if !exists {
			return false, nil
		}
		return compareIn(value, want)
	case OpNotIn:
		if !exists {
			return true, nil
		}
		in, err := compareIn(value, want)
		if err != nil {
			return false, err
		}
		return !in, nil
	case OpContains:
		if !exists {
			return false, nil
		}
		return compareContains(value, want)
	case OpContainsAny:
		if !exists {
			return false, nil
		}
		return compareContainsAny(value, want)
	case OpContainsAll:
		if !exists {
			return false, nil
		}
		return compareContainsAll(value, want)
	case OpStartsWith:
		if !exists {
			return false, nil
		}
		s, sok := value.(string)
		w, wok := want.(string)
		return sok && wok && strings.HasPrefix(s, w), nil
	case OpEndsWith:
		if !exists {
			return false, nil
		}
		s, sok := value.(string)
		w, wok := want.(string)
		return sok && wok && strings.HasSuffix(s, w), nil
	case OpRegex:
		if !exists {
			return false, nil
		}
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		pattern, ok := want.(string)
		if !ok {
			return false, fmt.Errorf("regex operator requires a string pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		return re.MatchString(s), nil
	case OpBefore, OpAfter:
		if !exists {
			return false, nil
		}
		return compareTime(op, value, want)
	case OpIsEmpty:
		if !exists {
			return true, nil
		}
		return isEmptyValue(value), nil
	case OpIsNotEmpty:
		if !exists {
			return false, nil
		}
		return !isEmptyValue(value), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// validateOperatorShape is called at compile time: it rejects operator/value
// combinations that can never evaluate meaningfully (e.g. between without a
// 2-element array, an invalid regex pattern).
func validateOperatorShape(op Operator, value interface{}) error {
	switch op {
	case OpBetween:
		arr, ok := value.([]interface{})
		if !ok || len(arr) != 2 {
			return validationErrorf("between requires a 2-element array value")
		}
	case OpIn, OpNotIn, OpContainsAny, OpContainsAll:
		if _, ok := value.([]interface{}); !ok {
			return validationErrorf("%s requires an array value", op)
		}
	case OpRegex:
		pattern, ok := value.(string)
		if !ok {
			return validationErrorf("regex requires a string pattern")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return validationErrorf("invalid regex pattern %q: %v", pattern, err)
		}
	}
	return nil
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

func compareEqual(a, b interface{}) bool {
	an, aok := toFloat(a)
	bn, bok := toFloat(b)
	if aok && bok {
		return an == bn
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareOrdered(op Operator, a, b interface{}) (bool, error) {
	an, aok := toFloat(a)
	bn, bok := toFloat(b)
	if !aok || !bok {
		return compareTime(normalizeOrderedForTime(op), a, b)
	}
	switch op {
	case OpGt:
		return an > bn, nil
	case OpGte:
		return an >= bn, nil
	case OpLt:
		return an < bn, nil
	case OpLte:
		return an <= bn, nil
	}
	return false, fmt.Errorf("unreachable ordered operator %q", op)
}

func normalizeOrderedForTime(op Operator) Operator {
	switch op {
	case OpGt, OpGte:
		return OpAfter
	default:
		return OpBefore
	}
}

func compareBetween(value, want interface{}) (bool, error) {
	arr, ok := want.([]interface{})
	if !ok || len(arr) != 2 {
		return false, fmt.Errorf("between requires a 2-element array value")
	}
	v, vok := toFloat(value)
	lo, lok := toFloat(arr[0])
	hi, hok := toFloat(arr[1])
	if vok && lok && hok {
		return v >= lo && v <= hi, nil
	}
	// Fall back to time comparison for RFC3339 bounds.
	vt, vtok := toTime(value)
	lt, ltok := toTime(arr[0])
	ht, htok := toTime(arr[1])
	if vtok && ltok && htok {
		return !vt.Before(lt) && !vt.After(ht), nil
	}
	return false, nil
}

func compareIn(value, want interface{}) (bool, error) {
	arr, ok := want.([]interface{})
	if !ok {
		return false, fmt.Errorf("in/not_in requires an array value")
	}
	for _, item := range arr {
		if compareEqual(value, item) {
			return true, nil
		}
	}
	return false, nil
}

func compareContains(value, want interface{}) (bool, error) {
	switch v := value.(type) {
	case string:
		w, ok := want.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(v, w), nil
	case []interface{}:
		for _, item := range v {
			if compareEqual(item, want) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

func compareContainsAny(value, want interface{}) (bool, error) {
	arr, ok := value.([]interface{})
	if !ok {
		return false, nil
	}
	wantArr, ok := want.([]interface{})
	if !ok {
		return false, fmt.Errorf("contains_any requires an array value")
	}
	for _, w := range wantArr {
		for _, item := range arr {
			if compareEqual(item, w) {
				return true, nil
			}
		}
	}
	return false, nil
}

func compareContainsAll(value, want interface{}) (bool, error) {
	arr, ok := value.([]interface{})
	if !ok {
		return false, nil
	}
	wantArr, ok := want.([]interface{})
	if !ok {
		return false, fmt.Errorf("contains_all requires an array value")
	}
	for _, w := range wantArr {
		found := false
		for _, item := range arr {
			if compareEqual(item, w) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

func compareTime(op Operator, value, want interface{}) (bool, error) {
	v, vok := toTime(value)
	w, wok := toTime(want)
	if !vok || !wok {
		return false, nil
	}
	switch op {
	case OpBefore:
		return v.Before(w), nil
	case OpAfter:
		return v.After(w), nil
	default:
		return false, fmt.Errorf("unreachable time operator %q", op)
	}
}

// toFloat unifies the numeric domain: every number, whether it arrived as a
// JSON float64, an int, or an int64, is compared as a single decimal value
// so no operator silently truncates.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
