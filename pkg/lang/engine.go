package lang

import (
	"context"
	"fmt"
	"io"

	"github.com/sameehj/fence/pkg/exec"
)

// Version of the language accepted by this package.
const Version = "0.3.0"

// Options tune an Engine.
type Options struct {
	// MaxDepth bounds nested calls. Zero means 2048.
	MaxDepth int
	// MaxRange bounds ranges built at run time the same way a policy bounds
	// range literals. Zero leaves ranges unbounded.
	MaxRange int64
	// Executor runs System.run commands. Nil uses a SafeExecutor with a
	// 64KiB output cap.
	Executor *exec.SafeExecutor
	// NoStdlib leaves out the bundled functions and namespaces.
	NoStdlib bool
}

func (o Options) maxDepth() int {
	if o.MaxDepth <= 0 {
		return defaultMaxDepth
	}
	return o.MaxDepth
}

// Engine holds registered functions and namespaces. Register everything
// before the first Run; after that an Engine is safe for concurrent use.
type Engine struct {
	opts       Options
	locals     map[string]Builtin
	namespaces map[string]map[string]Builtin
}

// NewEngine returns an engine with the standard library installed.
func NewEngine(opts Options) *Engine {
	if opts.Executor == nil {
		opts.Executor = &exec.SafeExecutor{MaxOutput: 64 << 10}
	}
	e := &Engine{
		opts:       opts,
		locals:     make(map[string]Builtin),
		namespaces: make(map[string]map[string]Builtin),
	}
	if !opts.NoStdlib {
		installStdlib(e)
	}
	return e
}

// WithMaxRange returns a copy of the engine sharing its registrations but with
// a different run-time range limit.
func (e *Engine) WithMaxRange(limit int64) *Engine {
	cp := *e
	cp.opts.MaxRange = limit
	return &cp
}

// RegisterLocal installs a function callable by bare name.
func (e *Engine) RegisterLocal(name string, arity int, fn BuiltinFunc) {
	e.locals[name] = Builtin{Name: name, Arity: arity, Fn: fn}
}

// Register installs a function in a namespace. The namespace is given by its
// display name, for example "Math" or "Std.Text".
func (e *Engine) Register(namespace, name string, arity int, fn BuiltinFunc) {
	ns := internalNamespace(namespace)
	funcs, ok := e.namespaces[ns]
	if !ok {
		funcs = make(map[string]Builtin)
		e.namespaces[ns] = funcs
	}
	funcs[name] = Builtin{Name: DisplayNamespace(ns) + "." + name, Arity: arity, Fn: fn}
}

// Namespaces lists registered namespaces by display name.
func (e *Engine) Namespaces() []string {
	out := make([]string, 0, len(e.namespaces))
	for ns := range e.namespaces {
		out = append(out, DisplayNamespace(ns))
	}
	return out
}

// Locals lists functions callable by bare name.
func (e *Engine) Locals() []string {
	out := make([]string, 0, len(e.locals))
	for name := range e.locals {
		out = append(out, name)
	}
	return out
}

func (e *Engine) lookup(ns, name string) (Builtin, bool) {
	funcs, ok := e.namespaces[ns]
	if !ok {
		return Builtin{}, false
	}
	fn, ok := funcs[name]
	return fn, ok
}

// Parse parses source text.
func (e *Engine) Parse(src string) (Node, error) {
	return Parse(src)
}

// NewInterpreter prepares a single run writing output to out. A nil out writes
// to standard output.
func (e *Engine) NewInterpreter(ctx context.Context, out io.Writer) *Interpreter {
	return &Interpreter{
		engine: e,
		ctx:    ctx,
		out:    defaultOut(out),
		root:   newEnv(nil),
	}
}

// Run evaluates tree with bindings in scope. Cancelling ctx interrupts the run
// at its next step; the returned error is then an *ExitError wrapping the
// context's cause.
func (e *Engine) Run(ctx context.Context, tree Node, bindings map[string]any, out io.Writer) (any, map[string]any, error) {
	it := e.NewInterpreter(ctx, out)
	stop := context.AfterFunc(ctx, func() {
		it.Interrupt(context.Cause(ctx))
	})
	defer stop()
	return it.Run(tree, bindings)
}

// Resolve checks, before anything runs, that every bare call names a known
// function with a matching arity and that every variable is bound somewhere.
// Bare names never evaluate to registered functions, so a function value can
// only come from a function literal or a host binding.
func (e *Engine) Resolve(tree Node, bindings map[string]any) error {
	bound := make(map[string]bool, len(bindings))
	for k := range bindings {
		bound[k] = true
	}
	Walk(tree, func(n Node) bool {
		switch n := n.(type) {
		case *Assign:
			bound[n.Name] = true
		case *For:
			bound[n.Var] = true
		case *FuncLit:
			for _, p := range n.Params {
				bound[p] = true
			}
		}
		return true
	})

	var err error
	Walk(tree, func(n Node) bool {
		if err != nil {
			return false
		}
		switch n := n.(type) {
		case *LocalCall:
			fn, ok := e.locals[n.Name]
			if !ok || !fn.accepts(len(n.Args)) {
				err = &CompileError{Pos: n.At, Message: fmt.Sprintf("undefined function %s/%d", n.Name, len(n.Args))}
			}
		case *Ident:
			if !bound[n.Name] {
				err = &CompileError{Pos: n.At, Message: fmt.Sprintf("undefined variable %s", n.Name)}
			}
		}
		return err == nil
	})
	return err
}
