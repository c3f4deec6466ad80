// Package safety declares the SafetyEvaluator collaborator contract
// (spec.md §6). The therapeutic/clinical classification logic itself —
// crisis keyword lists, recommendation generation — is explicitly out of
// scope for this core; callers inject a concrete Evaluator (or Noop,
// below) rather than the core implementing classification itself.
package safety

import "context"

// Verdict is the typed classification result a SafetyEvaluator returns.
type Verdict struct {
	IsCrisis   bool
	Categories []string
	Severity   string
	Resources  []string
}

// Evaluator classifies free text in context. Implementations are
// supplied by the embedding application; the core only depends on this
// interface.
type Evaluator interface {
	Classify(ctx context.Context, text string, context map[string]any) (Verdict, error)
}

// Noop is an Evaluator that never flags anything, for deployments that
// do not wire a real safety classifier.
type Noop struct{}

func (Noop) Classify(ctx context.Context, text string, context map[string]any) (Verdict, error) {
	return Verdict{}, nil
}
