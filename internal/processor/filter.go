package processor

import (
	"fmt"
	"strconv"
	"strings"

	etlio "ingest-connector/internal/io"

	"github.com/Knetic/govaluate"
)

// expressionEvaluator is the part of govaluate a RecordFilter depends on.
type expressionEvaluator interface {
	Evaluate(map[string]interface{}) (interface{}, error)
	Vars() []string
}

// newExpressionEvaluatorFunc allows overriding expression compilation for testing.
var newExpressionEvaluatorFunc = func(expr string) (expressionEvaluator, error) {
	return govaluate.NewEvaluableExpression(expr)
}

// RecordFilter keeps records for which a boolean expression holds. Expression
// variables are selectors; selectors containing spaces or punctuation are written
// in brackets, e.g. [first name] or [Name/First].
type RecordFilter struct {
	expression string
	evaluator  expressionEvaluator
	vars       []string
}

// NewRecordFilter compiles expr. An empty expression yields a nil filter, which keeps everything.
func NewRecordFilter(expr string) (*RecordFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	ev, err := newExpressionEvaluatorFunc(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression '%s': %w", expr, err)
	}
	return &RecordFilter{expression: expr, evaluator: ev, vars: ev.Vars()}, nil
}

// String returns the source expression.
func (f *RecordFilter) String() string {
	if f == nil {
		return ""
	}
	return f.expression
}

// Match evaluates the filter against rec. Values that parse as numbers or
// booleans are compared as such; absent selectors evaluate to "".
func (f *RecordFilter) Match(rec etlio.Record) (bool, error) {
	if f == nil {
		return true, nil
	}
	params := make(map[string]interface{}, len(f.vars))
	for _, name := range f.vars {
		raw, _ := rec.Lookup(name)
		params[name] = typedValue(strings.TrimSpace(raw))
	}
	result, err := f.evaluator.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("filter evaluation failed: %w", err)
	}
	keep, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter returned non-boolean %T (%v)", result, result)
	}
	return keep, nil
}

func typedValue(raw string) interface{} {
	if raw == "" {
		return raw
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil && (strings.EqualFold(raw, "true") || strings.EqualFold(raw, "false")) {
		return b
	}
	return raw
}
