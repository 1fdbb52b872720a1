package host

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-bexpr"
)

// compiled go-bexpr evaluators keyed by expression
var evaluators sync.Map

// evaluateCondition reports whether attrs satisfy expr. An empty expression
// always matches; invalid expressions and evaluation errors never match.
func evaluateCondition(expr string, attrs map[string]any) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}

	var ev *bexpr.Evaluator
	if cached, ok := evaluators.Load(expr); ok {
		ev = cached.(*bexpr.Evaluator)
	} else {
		compiled, err := bexpr.CreateEvaluator(expr)
		if err != nil {
			return false
		}
		evaluators.Store(expr, compiled)
		ev = compiled
	}

	ok, err := ev.Evaluate(attrs)
	return err == nil && ok
}

// bexprMatch(p.cond, r.attrs)
func bexprMatch(args ...any) (any, error) {
	if len(args) != 2 {
		return false, fmt.Errorf("bexprMatch requires 2 arguments: cond, attrs")
	}
	expr, ok := args[0].(string)
	if !ok {
		return false, fmt.Errorf("bexprMatch: cond must be a string")
	}
	attrs, ok := args[1].(map[string]any)
	if !ok {
		return false, fmt.Errorf("bexprMatch: attrs must be map[string]any")
	}
	return evaluateCondition(expr, attrs), nil
}

// subjectMatch(r.attrs, p.sub) matches the implicit groups of the request.
func subjectMatch(args ...any) (any, error) {
	if len(args) != 2 {
		return false, fmt.Errorf("subjectMatch requires 2 arguments: attrs, sub")
	}
	attrs, ok := args[0].(map[string]any)
	if !ok {
		return false, fmt.Errorf("subjectMatch: attrs must be map[string]any")
	}
	sub, ok := args[1].(string)
	if !ok {
		return false, fmt.Errorf("subjectMatch: sub must be a string")
	}
	subjects, _ := attrs[attrSubjects].([]string)
	for _, s := range subjects {
		if s == sub {
			return true, nil
		}
	}
	return false, nil
}
