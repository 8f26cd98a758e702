package auth

import (
	"strings"
	"sync"

	"github.com/hashicorp/go-bexpr"
)

// bexprCache stores compiled go-bexpr evaluators
// Key: expression string, Value: *bexpr.Evaluator
var bexprCache = &sync.Map{}

// EvaluateBexpr evaluates a go-bexpr expression against the identity document
// {"username": ..., "groups": [...]}.
// Empty expression returns true (no constraint)
func EvaluateBexpr(expr string, identity map[string]any) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}

	var evaluator *bexpr.Evaluator
	if cached, ok := bexprCache.Load(expr); ok {
		evaluator = cached.(*bexpr.Evaluator)
	} else {
		compiled, err := bexpr.CreateEvaluator(expr)
		if err != nil {
			// Invalid expression syntax - deny access
			return false
		}
		bexprCache.Store(expr, compiled)
		evaluator = compiled
	}

	matches, err := evaluator.Evaluate(identity)
	if err != nil {
		// Missing selector etc. - deny access
		return false
	}
	return matches
}

// identityDocument is the datum authorization expressions are evaluated against.
func identityDocument(username string, groups []string) map[string]any {
	return map[string]any{
		"username": username,
		"groups":   groups,
	}
}
