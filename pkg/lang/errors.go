package lang

import (
	"errors"
	"fmt"
	"strings"
)

// SyntaxError reports source text that could not be parsed.
type SyntaxError struct {
	Line    int
	Col     int
	Message string
	Token   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Message)
	}
	return fmt.Sprintf("%d:%d: %s: %s", e.Line, e.Col, e.Message, e.Token)
}

// IsIncomplete reports whether err is a syntax error caused by input ending
// early, which an interactive reader can fix by reading more lines.
func IsIncomplete(err error) bool {
	var se *SyntaxError
	if !errors.As(err, &se) {
		return false
	}
	return se.Token == "end of input" || se.Message == "unterminated string"
}

// CompileError is raised by the resolution pass before any code runs: a bare
// call to an unknown function or a reference to a name that is never bound.
type CompileError struct {
	Pos     Pos
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Col, e.Message)
}

// Frame describes one call on the interpreter stack.
type Frame struct {
	Namespace string
	Name      string
	Args      []any
	Pos       Pos
}

// UndefinedFunctionError is raised when a namespace has no function with the
// called name and arity. Frames lists the call stack, innermost first.
type UndefinedFunctionError struct {
	Namespace string
	Name      string
	Arity     int
	Frames    []Frame
}

func (e *UndefinedFunctionError) Error() string {
	return fmt.Sprintf("undefined function %s.%s/%d", DisplayNamespace(e.Namespace), e.Name, e.Arity)
}

// RuntimeError is a failure raised while evaluating accepted code.
type RuntimeError struct {
	Pos     Pos
	Message string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Col, e.Message)
}

// ExitError stops a run on purpose, either through the exit builtin or through
// an interrupt. It is not a crash.
type ExitError struct {
	Reason any
}

func (e *ExitError) Error() string {
	if e.Reason == nil {
		return "exit"
	}
	return fmt.Sprintf("exit: %v", e.Reason)
}

// Unwrap exposes an error reason, such as context.DeadlineExceeded.
func (e *ExitError) Unwrap() error {
	err, _ := e.Reason.(error)
	return err
}

// NamespacePrefix is prepended to every namespace identifier the engine keeps
// internally.
const NamespacePrefix = "ns/"

// DisplayNamespace strips the internal prefix from a namespace identifier.
func DisplayNamespace(ns string) string {
	return strings.TrimPrefix(ns, NamespacePrefix)
}

func internalNamespace(ns string) string {
	if strings.HasPrefix(ns, NamespacePrefix) {
		return ns
	}
	return NamespacePrefix + ns
}
