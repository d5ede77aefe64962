package lang

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sync/atomic"
)

const (
	defaultMaxDepth = 2048
	// maxMaterialize caps how many elements a range may expand into when no
	// range limit is configured.
	maxMaterialize = 1 << 20
)

type env struct {
	vars   map[string]any
	parent *env
}

func newEnv(parent *env) *env {
	return &env{vars: make(map[string]any), parent: parent}
}

func (e *env) lookup(name string) (any, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

type interrupt struct {
	reason any
}

// Interpreter runs one program. It is not safe for concurrent use, except for
// Interrupt which may be called from any goroutine.
type Interpreter struct {
	engine *Engine
	ctx    context.Context
	out    io.Writer
	root   *env
	depth  int
	stack  []Frame
	steps  atomic.Uint64

	stopped atomic.Pointer[interrupt]
}

// Interrupt makes the running program stop at its next evaluation step with an
// ExitError carrying reason.
func (it *Interpreter) Interrupt(reason any) {
	it.stopped.CompareAndSwap(nil, &interrupt{reason: reason})
}

// Steps reports how many evaluation steps ran so far.
func (it *Interpreter) Steps() uint64 {
	return it.steps.Load()
}

func (it *Interpreter) check() error {
	it.steps.Add(1)
	if s := it.stopped.Load(); s != nil {
		return &ExitError{Reason: s.reason}
	}
	return nil
}

// Run evaluates tree with the given variables in scope and returns the value of
// the last statement together with the final top-level bindings.
func (it *Interpreter) Run(tree Node, bindings map[string]any) (any, map[string]any, error) {
	if err := it.engine.Resolve(tree, bindings); err != nil {
		return nil, nil, err
	}
	for k, v := range bindings {
		it.root.vars[k] = normalize(v)
	}
	var (
		v   any
		err error
	)
	if block, ok := tree.(*Block); ok {
		v, err = it.block(block, it.root)
	} else {
		v, err = it.eval(tree, it.root)
	}
	if err != nil {
		return nil, nil, err
	}
	final := make(map[string]any, len(it.root.vars))
	for k, val := range it.root.vars {
		final[k] = val
	}
	return v, final, nil
}

func (it *Interpreter) errorf(pos Pos, format string, args ...any) error {
	return &RuntimeError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func (it *Interpreter) block(b *Block, e *env) (any, error) {
	var last any
	for _, stmt := range b.Stmts {
		v, err := it.eval(stmt, e)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

func (it *Interpreter) eval(n Node, e *env) (any, error) {
	if err := it.check(); err != nil {
		return nil, err
	}
	switch n := n.(type) {
	case *IntLit:
		return n.Value, nil
	case *FloatLit:
		return n.Value, nil
	case *StringLit:
		return n.Value, nil
	case *BoolLit:
		return n.Value, nil
	case *NilLit:
		return nil, nil
	case *ListLit:
		items, err := it.evalAll(n.Items, e)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []any{}
		}
		return items, nil
	case *Ident:
		if v, ok := e.lookup(n.Name); ok {
			return v, nil
		}
		return nil, it.errorf(n.At, "%s is unbound", n.Name)
	case *NamespaceRef:
		return Namespace{Name: internalNamespace(n.Canonical())}, nil
	case *Alias:
		return Namespace{Name: internalNamespace(n.Target.Canonical())}, nil
	case *Assign:
		v, err := it.eval(n.Value, e)
		if err != nil {
			return nil, err
		}
		e.vars[n.Name] = v
		return v, nil
	case *Block:
		return it.block(n, e)
	case *Unary:
		return it.unary(n, e)
	case *Binary:
		return it.binary(n, e)
	case *RangeLiteral:
		return it.makeRange(n.At, n.Lo, n.Hi, false)
	case *RangeExpr:
		lo, err := it.eval(n.Lo, e)
		if err != nil {
			return nil, err
		}
		hi, err := it.eval(n.Hi, e)
		if err != nil {
			return nil, err
		}
		l, lok := toInt(lo)
		h, hok := toInt(hi)
		if !lok || !hok {
			return nil, it.errorf(n.At, "range bounds must be integers, got %s..%s", typeName(lo), typeName(hi))
		}
		return it.makeRange(n.At, l, h, true)
	case *Index:
		return it.index(n, e)
	case *If:
		cond, err := it.eval(n.Cond, e)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return it.block(n.Then, e)
		}
		if n.Else != nil {
			return it.eval(n.Else, e)
		}
		return nil, nil
	case *While:
		for {
			cond, err := it.eval(n.Cond, e)
			if err != nil {
				return nil, err
			}
			if !truthy(cond) {
				return nil, nil
			}
			if _, err := it.block(n.Body, e); err != nil {
				return nil, err
			}
		}
	case *For:
		return it.forLoop(n, e)
	case *FuncLit:
		return &Func{Params: n.Params, Body: n.Body, env: e}, nil
	case *LocalCall:
		args, err := it.evalAll(n.Args, e)
		if err != nil {
			return nil, err
		}
		fn, ok := it.engine.locals[n.Name]
		if !ok {
			return nil, &CompileError{Pos: n.At, Message: fmt.Sprintf("undefined function %s/%d", n.Name, len(args))}
		}
		if !fn.accepts(len(args)) {
			return nil, it.errorf(n.At, "%s expects %d arguments, got %d", n.Name, fn.Arity, len(args))
		}
		return it.callBuiltin(n.At, Frame{Name: n.Name, Args: args, Pos: n.At}, fn, args)
	case *RemoteCall:
		args, err := it.evalAll(n.Args, e)
		if err != nil {
			return nil, err
		}
		return it.remote(n, args)
	case *AnonymousCall:
		callee, err := it.eval(n.Callee, e)
		if err != nil {
			return nil, err
		}
		args, err := it.evalAll(n.Args, e)
		if err != nil {
			return nil, err
		}
		return it.invoke(n.At, callee, args)
	case nil:
		return nil, nil
	}
	return nil, it.errorf(n.Position(), "cannot evaluate %T", n)
}

func (it *Interpreter) evalAll(nodes []Node, e *env) ([]any, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	out := make([]any, len(nodes))
	for i, n := range nodes {
		v, err := it.eval(n, e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// makeRange applies the range limit. Literal descending ranges follow the
// policy rule and are not span checked; computed ones are bounded both ways.
func (it *Interpreter) makeRange(pos Pos, lo, hi int64, computed bool) (any, error) {
	if limit := it.engine.opts.MaxRange; limit > 0 {
		r := Range{Lo: lo, Hi: hi}
		if hi >= limit || ((hi > lo || computed) && r.Len()-1 > uint64(limit)) {
			return nil, it.errorf(pos, "range %d..%d exceeds limit %d", lo, hi, limit)
		}
	}
	return Range{Lo: lo, Hi: hi}, nil
}

func (it *Interpreter) forLoop(n *For, e *env) (any, error) {
	iter, err := it.eval(n.Iter, e)
	if err != nil {
		return nil, err
	}
	switch iter := iter.(type) {
	case Range:
		step := int64(1)
		if iter.Lo > iter.Hi {
			step = -1
		}
		for i := iter.Lo; ; i += step {
			if err := it.check(); err != nil {
				return nil, err
			}
			e.vars[n.Var] = i
			if _, err := it.block(n.Body, e); err != nil {
				return nil, err
			}
			if i == iter.Hi {
				return nil, nil
			}
		}
	case []any:
		for _, item := range iter {
			if err := it.check(); err != nil {
				return nil, err
			}
			e.vars[n.Var] = item
			if _, err := it.block(n.Body, e); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case string:
		for _, r := range iter {
			if err := it.check(); err != nil {
				return nil, err
			}
			e.vars[n.Var] = string(r)
			if _, err := it.block(n.Body, e); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return nil, it.errorf(n.At, "cannot iterate over %s", typeName(iter))
}

func (it *Interpreter) index(n *Index, e *env) (any, error) {
	target, err := it.eval(n.Target, e)
	if err != nil {
		return nil, err
	}
	key, err := it.eval(n.Key, e)
	if err != nil {
		return nil, err
	}
	switch t := target.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, it.errorf(n.At, "map key must be a string, got %s", typeName(key))
		}
		return normalize(t[k]), nil
	case []any, string:
		i, ok := toInt(key)
		if !ok {
			return nil, it.errorf(n.At, "index must be an integer, got %s", typeName(key))
		}
		return at(t, i, func() error { return it.errorf(n.At, "index %d out of range", i) })
	}
	return nil, it.errorf(n.At, "cannot index %s", typeName(target))
}

func at(target any, i int64, outOfRange func() error) (any, error) {
	switch t := target.(type) {
	case []any:
		if i < 0 {
			i += int64(len(t))
		}
		if i < 0 || i >= int64(len(t)) {
			return nil, outOfRange()
		}
		return t[i], nil
	case string:
		runes := []rune(t)
		if i < 0 {
			i += int64(len(runes))
		}
		if i < 0 || i >= int64(len(runes)) {
			return nil, outOfRange()
		}
		return string(runes[i]), nil
	}
	return nil, outOfRange()
}

func (it *Interpreter) unary(n *Unary, e *env) (any, error) {
	v, err := it.eval(n.Operand, e)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "!":
		return !truthy(v), nil
	case "-":
		switch v := v.(type) {
		case int64:
			return -v, nil
		case float64:
			return -v, nil
		}
		return nil, it.errorf(n.At, "cannot negate %s", typeName(v))
	}
	return nil, it.errorf(n.At, "unknown operator %s", n.Op)
}

func (it *Interpreter) binary(n *Binary, e *env) (any, error) {
	left, err := it.eval(n.Left, e)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "&&":
		if !truthy(left) {
			return false, nil
		}
		right, err := it.eval(n.Right, e)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case "||":
		if truthy(left) {
			return true, nil
		}
		right, err := it.eval(n.Right, e)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}
	right, err := it.eval(n.Right, e)
	if err != nil {
		return nil, err
	}
	v, err := arith(n.Op, left, right)
	if err != nil {
		return nil, it.errorf(n.At, "%v", err)
	}
	return v, nil
}

func arith(op string, left, right any) (any, error) {
	switch op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	}

	if l, ok := left.(string); ok {
		r, ok := right.(string)
		if !ok {
			if op == "+" {
				return l + ToString(right), nil
			}
			return nil, fmt.Errorf("cannot apply %s to string and %s", op, typeName(right))
		}
		switch op {
		case "+":
			return l + r, nil
		case "<":
			return l < r, nil
		case "<=":
			return l <= r, nil
		case ">":
			return l > r, nil
		case ">=":
			return l >= r, nil
		}
		return nil, fmt.Errorf("cannot apply %s to strings", op)
	}

	if l, ok := left.([]any); ok && op == "+" {
		r, ok := right.([]any)
		if !ok {
			return nil, fmt.Errorf("cannot concatenate list and %s", typeName(right))
		}
		out := make([]any, 0, len(l)+len(r))
		return append(append(out, l...), r...), nil
	}

	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return li / ri, nil
		case "%":
			if ri == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return li % ri, nil
		case "<":
			return li < ri, nil
		case "<=":
			return li <= ri, nil
		case ">":
			return li > ri, nil
		case ">=":
			return li >= ri, nil
		}
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("cannot apply %s to %s and %s", op, typeName(left), typeName(right))
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Mod(lf, rf), nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("unknown operator %s", op)
}

func (it *Interpreter) enter(f Frame) error {
	if it.depth >= it.engine.opts.maxDepth() {
		return it.errorf(f.Pos, "call depth exceeds %d", it.engine.opts.maxDepth())
	}
	it.depth++
	it.stack = append(it.stack, f)
	return nil
}

func (it *Interpreter) leave() {
	it.depth--
	it.stack = it.stack[:len(it.stack)-1]
}

// frames returns the call stack innermost first.
func (it *Interpreter) frames(top Frame) []Frame {
	out := make([]Frame, 0, len(it.stack)+1)
	out = append(out, top)
	for i := len(it.stack) - 1; i >= 0; i-- {
		out = append(out, it.stack[i])
	}
	return out
}

func (it *Interpreter) remote(n *RemoteCall, args []any) (any, error) {
	ns := internalNamespace(n.Namespace.Canonical())
	frame := Frame{Namespace: ns, Name: n.Name, Args: args, Pos: n.At}
	fn, ok := it.engine.lookup(ns, n.Name)
	if !ok || !fn.accepts(len(args)) {
		return nil, &UndefinedFunctionError{Namespace: ns, Name: n.Name, Arity: len(args), Frames: it.frames(frame)}
	}
	return it.callBuiltin(n.At, frame, fn, args)
}

func (it *Interpreter) callBuiltin(pos Pos, frame Frame, fn Builtin, args []any) (any, error) {
	if err := it.enter(frame); err != nil {
		return nil, err
	}
	defer it.leave()
	v, err := fn.Fn(&Call{Context: it.ctx, Out: it.out, Pos: pos, interp: it}, args)
	if err != nil {
		return nil, err
	}
	return normalize(v), nil
}

func (it *Interpreter) invoke(pos Pos, callee any, args []any) (any, error) {
	switch fn := callee.(type) {
	case *Func:
		if len(args) != len(fn.Params) {
			return nil, it.errorf(pos, "function expects %d arguments, got %d", len(fn.Params), len(args))
		}
		if err := it.enter(Frame{Name: "fn", Args: args, Pos: pos}); err != nil {
			return nil, err
		}
		defer it.leave()
		local := newEnv(fn.env)
		for i, p := range fn.Params {
			local.vars[p] = args[i]
		}
		return it.block(fn.Body, local)
	case Builtin:
		if !fn.accepts(len(args)) {
			return nil, it.errorf(pos, "%s expects %d arguments, got %d", fn.Name, fn.Arity, len(args))
		}
		return it.callBuiltin(pos, Frame{Name: fn.Name, Args: args, Pos: pos}, fn, args)
	}
	return nil, it.errorf(pos, "%s is not callable", typeName(callee))
}

func defaultOut(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
