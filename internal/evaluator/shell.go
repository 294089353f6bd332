// SPDX-License-Identifier: MPL-2.0

// Package evaluator runs directive code in an embedded POSIX shell.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/augment/pkg/codegen"
)

var (
	// ErrCodeFailed is wrapped by errors for code that exits non-zero.
	ErrCodeFailed = errors.New("directive code failed")
	// ErrExternalCommand is returned when external commands are disabled and
	// code tries to run one.
	ErrExternalCommand = errors.New("external commands are disabled")

	shellName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type (
	// Shell evaluates codes with mvdan.cc/sh. Codes of the same file and
	// destination share one interpreter, so functions and variables defined
	// by earlier codes stay visible to later ones.
	Shell struct {
		// Dir is the working directory of the interpreter.
		Dir string
		// Env is the initial environment; nil inherits the process
		// environment.
		Env []string
		// External allows running programs outside the shell builtins.
		External bool
		// Timeout bounds a single code's run; zero disables it.
		Timeout time.Duration

		mu      sync.Mutex
		runners map[runnerKey]*fileRunner
	}

	runnerKey struct {
		destination string
		file        string
	}

	fileRunner struct {
		runner *interp.Runner
		stdout *bytes.Buffer
		stderr *bytes.Buffer
	}

	// CodeError reports a failing code with its captured stderr.
	CodeError struct {
		File     string
		Line     int
		ExitCode int
		Stderr   string
	}
)

// NewShell creates a Shell running in dir.
func NewShell(dir string, external bool, timeout time.Duration) *Shell {
	return &Shell{Dir: dir, External: external, Timeout: timeout}
}

// Evaluate runs code. String and json codes only declare variables and are
// answered with skip. Inline output loses its trailing newline.
func (s *Shell) Evaluate(ctx context.Context, code codegen.AugmentingCode, scope codegen.Scope) (codegen.GeneratedCode, error) {
	switch code.Kind {
	case codegen.KindString, codegen.KindJSON:
		return codegen.Skipped(), nil
	}

	script := Prelude(code, scope) + code.Content + "\n"
	prog, err := syntax.NewParser().Parse(strings.NewReader(script), code.File)
	if err != nil {
		return codegen.GeneratedCode{}, fmt.Errorf("%s:%d: failed to parse code: %w", code.File, code.Line, err)
	}

	fr, err := s.runnerFor(code)
	if err != nil {
		return codegen.GeneratedCode{}, err
	}
	fr.stdout.Reset()
	fr.stderr.Reset()

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if err := fr.runner.Run(ctx, prog); err != nil {
		var exitStatus interp.ExitStatus
		if errors.As(err, &exitStatus) {
			return codegen.GeneratedCode{}, &CodeError{
				File:     code.File,
				Line:     code.Line,
				ExitCode: int(exitStatus),
				Stderr:   strings.TrimSpace(fr.stderr.String()),
			}
		}
		return codegen.GeneratedCode{}, fmt.Errorf("%s:%d: %w", code.File, code.Line, err)
	}

	out := fr.stdout.String()
	if code.Kind == codegen.KindInline {
		out = strings.TrimSuffix(out, "\n")
		out = strings.TrimSuffix(out, "\r")
	}
	return codegen.Text(out), nil
}

var _ codegen.FileEvaluator = (*Shell)(nil)

// Forget drops the interpreter state kept for file.
func (s *Shell) Forget(destination, file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runners, runnerKey{destination: destination, file: file})
}

func (s *Shell) runnerFor(code codegen.AugmentingCode) (*fileRunner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runnerKey{destination: code.Destination, file: code.File}
	if fr, ok := s.runners[key]; ok {
		return fr, nil
	}

	env := s.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(slices.Clone(env),
		"AUGMENT_FILE="+code.File,
		"AUGMENT_DESTINATION="+code.Destination,
	)

	fr := &fileRunner{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, fr.stdout, fr.stderr),
		interp.ExecHandlers(s.execHandler),
	}
	if s.Dir != "" {
		opts = append(opts, interp.Dir(s.Dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create interpreter: %w", err)
	}
	fr.runner = runner

	if s.runners == nil {
		s.runners = make(map[runnerKey]*fileRunner)
	}
	s.runners[key] = fr
	return fr, nil
}

// execHandler refuses external programs unless they are enabled.
func (s *Shell) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if !s.External && len(args) > 0 {
			hc := interp.HandlerCtx(ctx)
			fmt.Fprintf(hc.Stderr, "%s: %v\n", args[0], ErrExternalCommand)
			return interp.NewExitStatus(127)
		}
		return next(ctx, args)
	}
}

// Prelude renders the assignments that expose scope to a code: every
// variable whose name is a valid shell identifier, plus AUGMENT_LINE and
// AUGMENT_INDENT. Non-string values are rendered as JSON.
func Prelude(code codegen.AugmentingCode, scope codegen.Scope) string {
	names := make([]string, 0, len(scope.Variables))
	for name := range scope.Variables {
		if shellName.MatchString(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var sb strings.Builder
	sb.WriteString("AUGMENT_LINE=" + strconv.Itoa(code.Line) + "\n")
	sb.WriteString("AUGMENT_INDENT=" + quote(scope.Indent) + "\n")
	for _, name := range names {
		sb.WriteString(name + "=" + quote(render(scope.Variables[name])) + "\n")
	}
	return sb.String()
}

func render(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// quote wraps s in single quotes for the shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Error implements the error interface for CodeError.
func (e *CodeError) Error() string {
	msg := fmt.Sprintf("%s:%d: code exited with status %d", e.File, e.Line, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns ErrCodeFailed for errors.Is() compatibility.
func (e *CodeError) Unwrap() error { return ErrCodeFailed }
