// Package condition evaluates the restricted boolean/arithmetic subset
// that gate routes and aggregation triggers are configured with: literal
// subscript expressions over the variables the caller supplies (row['x']
// or row.x), combined with comparisons and propositional logic. The
// language is assembled without gval's function-call or full-accessor
// extensions, so an attribute call or an import-like construct fails to
// parse at all rather than being rejected by a runtime blocklist. Bare
// names do parse; they are resolved only at evaluation time, against the
// variables passed to EvalBool or EvalBatchTrigger.
package condition

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/gval"

	"github.com/dshills/corepipe/dag"
)

// language is deliberately narrower than gval.Full(): no Function(),
// Text(), Bitmask(), or DateTime() extensions, so the grammar has no
// rule for a call expression at all.
var language = gval.NewLanguage(
	gval.Base(),
	gval.Arithmetic(),
	gval.PropositionalLogic(),
	gval.Comparator(),
)

// Expr is a parsed, reusable condition.
type Expr struct {
	raw  string
	eval gval.Evaluable
}

// Parse compiles expr against the restricted grammar. A construct the
// grammar has no rule for — function calls, imports, dotted access
// beyond a plain selector — returns dag.ErrInvalidCondition rather than
// a gval-internal error, so callers can treat it like any other
// configuration error.
func Parse(expr string) (*Expr, error) {
	ev, err := language.NewEvaluable(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", dag.ErrInvalidCondition, expr, err)
	}
	return &Expr{raw: expr, eval: ev}, nil
}

// EvalBool evaluates the condition against row (bound to the variable
// name "row"), coercing the result to bool. A condition that does not
// evaluate to a boolean is an authoring error, not a routing outcome.
func (e *Expr) EvalBool(ctx context.Context, row map[string]interface{}) (bool, error) {
	v, err := e.eval(ctx, map[string]interface{}{"row": row})
	if err != nil {
		return false, fmt.Errorf("condition: evaluate %q: %w", e.raw, err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition: %q did not evaluate to a boolean (got %T)", e.raw, v)
	}
	return b, nil
}

// String returns the original expression text.
func (e *Expr) String() string { return e.raw }

// BatchTrigger wraps the subset of an aggregation's trigger condition
// that only ever sees batch_count and batch_age_seconds, never the full
// row contents.
func BatchTrigger(batchCount int, batchAgeSeconds float64) map[string]interface{} {
	return map[string]interface{}{
		"batch_count":       batchCount,
		"batch_age_seconds": batchAgeSeconds,
	}
}

// EvalBatchTrigger evaluates e against the batch-level variables, bound
// both directly (batch_count) and under "row" (row['batch_count']), so
// either spelling of an aggregation trigger condition works.
func (e *Expr) EvalBatchTrigger(ctx context.Context, batchCount int, batchAgeSeconds float64) (bool, error) {
	vars := BatchTrigger(batchCount, batchAgeSeconds)
	vars["row"] = BatchTrigger(batchCount, batchAgeSeconds)
	v, err := e.eval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("condition: evaluate trigger %q: %w", e.raw, err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition: trigger %q did not evaluate to a boolean (got %T)", e.raw, v)
	}
	return b, nil
}
