package criteria

import (
	"cmp"
	"log/slog"
	"strings"
	"time"
)

// compare applies op to operands that the conditional test has already
// normalized to matching kinds: strings, float64, int64 (packed versions),
// bool, time.Time, or a []any sequence on the left for membership operators.
func (e *Evaluator) compare(op string, value, param any) bool {
	switch op {
	case OpEq:
		return equal(value, param)
	case OpNe:
		return !equal(value, param)
	case OpGt:
		c, ok := order(value, param)
		return ok && c > 0
	case OpLt:
		c, ok := order(value, param)
		return ok && c < 0
	case OpGte, OpAfter:
		c, ok := order(value, param)
		return ok && c >= 0
	case OpLte, OpBefore:
		c, ok := order(value, param)
		return ok && c <= 0
	case OpContains, OpStartsWith, OpEndsWith:
		return matchString(op, value, param)
	case OpArrayContains, OpArrayNotContains:
		seq, ok := value.([]any)
		if !ok {
			e.logger.Warn("array operator applied to a non-array value",
				slog.String("operator", op),
				slog.Any("value", value),
			)
			return false
		}
		found := contains(seq, param)
		if op == OpArrayContains {
			return found
		}
		return !found
	case OpExists:
		want, ok := param.(bool)
		return ok && exists(value) == want
	default:
		e.logger.Warn("unknown criteria operator", slog.String("operator", op))
		return false
	}
}

func equal(a, b any) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case string, float64, int64, bool:
		return a == b
	default:
		return false
	}
}

// order compares two operands of the same orderable kind.
func order(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return cmp.Compare(x, y), ok
	case int64:
		y, ok := b.(int64)
		return cmp.Compare(x, y), ok
	case string:
		y, ok := b.(string)
		return strings.Compare(x, y), ok
	case time.Time:
		y, ok := b.(time.Time)
		return x.Compare(y), ok
	default:
		return 0, false
	}
}

// matchString runs the substring operators. An empty needle never matches.
func matchString(op string, value, param any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	needle, ok := param.(string)
	if !ok || needle == "" {
		return false
	}
	switch op {
	case OpContains:
		return strings.Contains(s, needle)
	case OpStartsWith:
		return strings.HasPrefix(s, needle)
	default:
		return strings.HasSuffix(s, needle)
	}
}

func contains(seq []any, needle any) bool {
	for _, el := range seq {
		if equal(el, needle) {
			return true
		}
	}
	return false
}
