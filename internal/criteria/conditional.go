package criteria

import (
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/rafaeljc/engage/internal/state"
)

// test applies one condition to a resolved value. The order of the checks
// below is significant; each step either decides the outcome or normalizes the
// operands for the next one.
func (e *Evaluator) test(value any, op string, param Parameter, path Path) bool {
	if op == OpExists {
		want, ok := param.(BoolParam)
		if !ok {
			return false
		}
		return exists(value) == bool(want)
	}

	if answers, ok := value.([]state.AnswerEntry); ok && len(answers) > 0 {
		switch {
		case path.isAnswerValues():
			return e.testAnswerValues(answers, op, param)
		case path.isAnswerIDs():
			return e.testAnswerIDs(answers, op, param)
		}
	}

	if seq, ok := value.([]any); ok && len(seq) > 0 {
		return e.testSequence(seq, op, param)
	}

	switch p := param.(type) {
	case DateTimeParam:
		t, ok := value.(time.Time)
		if !ok {
			return false
		}
		return e.compare(op, t, p.Time())
	case VersionParam:
		v, ok := value.(Version)
		if !ok {
			return false
		}
		return e.compare(op, PackVersion(string(v)), PackVersion(p.Text))
	case InvalidParam:
		e.logger.Warn("invalid criteria parameter",
			slog.String("path", path.String()),
			slog.String("operator", op),
			slog.String("reason", p.Reason),
		)
		return false
	}

	if op == OpBefore || op == OpAfter {
		offset, ok := param.(NumberParam)
		if !ok || value == nil {
			return false
		}
		t, ok := value.(time.Time)
		if !ok {
			return false
		}
		window := e.now().Add(time.Duration(float64(offset) * float64(time.Second)))
		return e.compare(op, t, window)
	}

	operand := scalar(param)
	if kindOf(value) != kindOf(operand) {
		return false
	}

	if s, ok := value.(string); ok {
		return e.compare(op, fold(s), fold(operand.(string)))
	}
	if isStringOperator(op) {
		return false
	}
	return e.compare(op, value, operand)
}

// testAnswerValues compares the free-form values of an answer history.
// $ne must hold for every recorded answer ("none of them equal X"); every other
// operator needs a single matching answer.
func (e *Evaluator) testAnswerValues(answers []state.AnswerEntry, op string, param Parameter) bool {
	scalarPath := Path{Root: RootOther, Segments: []string{""}}
	for _, a := range answers {
		if a.Value == nil {
			continue
		}
		match := e.test(*a.Value, op, param, scalarPath)
		if op == OpNe && !match {
			return false
		}
		if op != OpNe && match {
			return true
		}
	}
	return op == OpNe
}

// testAnswerIDs treats $eq/$ne on choice ids as membership tests.
func (e *Evaluator) testAnswerIDs(answers []state.AnswerEntry, op string, param Parameter) bool {
	switch op {
	case OpEq:
		op = OpArrayContains
	case OpNe:
		op = OpArrayNotContains
	}

	operand := scalar(param)
	if operand == nil {
		return false
	}

	ids := make([]any, 0, len(answers))
	for _, a := range answers {
		if a.ID != "" {
			ids = append(ids, a.ID)
		}
	}
	return e.compare(op, ids, operand)
}

// testSequence handles plain sequences from context bags. The first element
// must have the parameter's kind; after that only membership operators apply.
func (e *Evaluator) testSequence(seq []any, op string, param Parameter) bool {
	operand := scalar(param)
	if operand == nil || kindOf(seq[0]) != kindOf(operand) {
		return false
	}
	if op != OpArrayContains && op != OpArrayNotContains {
		return false
	}
	return e.compare(op, seq, operand)
}

// scalar unwraps a scalar parameter. Tagged and invalid parameters yield nil.
func scalar(param Parameter) any {
	switch p := param.(type) {
	case StringParam:
		return string(p)
	case NumberParam:
		return float64(p)
	case BoolParam:
		return bool(p)
	default:
		return nil
	}
}

func isStringOperator(op string) bool {
	return op == OpContains || op == OpStartsWith || op == OpEndsWith
}

// fold trims and case-folds s. A Caser is stateful, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// exists is true for non-nil values, except empty strings and empty sequences.
func exists(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case []state.AnswerEntry:
		return len(v) > 0
	default:
		return true
	}
}

type kind int

const (
	kindNull kind = iota
	kindString
	kindNumber
	kindBool
	kindTime
	kindVersion
	kindSequence
	kindObject
)

func kindOf(v any) kind {
	switch v.(type) {
	case nil:
		return kindNull
	case string:
		return kindString
	case float64, int64:
		return kindNumber
	case bool:
		return kindBool
	case time.Time:
		return kindTime
	case Version:
		return kindVersion
	case []any, []state.AnswerEntry:
		return kindSequence
	default:
		return kindObject
	}
}
