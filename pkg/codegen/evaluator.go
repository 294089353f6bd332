// SPDX-License-Identifier: MPL-2.0

package codegen

import "context"

type (
	// Evaluator produces generated code for one AugmentingCode. It is called
	// sequentially per destination, in request order; implementations may
	// keep state between calls for codes of the same file.
	Evaluator interface {
		Evaluate(ctx context.Context, code AugmentingCode, scope Scope) (GeneratedCode, error)
	}

	// FileEvaluator is an Evaluator that keeps state per file. Forget is
	// called once the last code of a file has been evaluated for destination.
	FileEvaluator interface {
		Evaluator
		Forget(destination, file string)
	}

	// EvaluatorFunc adapts a function to the Evaluator interface.
	EvaluatorFunc func(ctx context.Context, code AugmentingCode, scope Scope) (GeneratedCode, error)

	// Logger is the leveled logger the engine reports progress to.
	// *github.com/charmbracelet/log.Logger satisfies it.
	Logger interface {
		Debug(msg any, keyvals ...any)
		Info(msg any, keyvals ...any)
		Warn(msg any, keyvals ...any)
	}

	nopLogger struct{}
)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, code AugmentingCode, scope Scope) (GeneratedCode, error) {
	return f(ctx, code, scope)
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(any, ...any) {}
func (nopLogger) Info(any, ...any)  {}
func (nopLogger) Warn(any, ...any)  {}
