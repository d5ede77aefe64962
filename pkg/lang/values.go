package lang

import (
	"context"
	"fmt"
	"io"
	"math"
	"reflect"
)

// Range is an inclusive integer range. It iterates downward when Lo > Hi.
type Range struct {
	Lo int64
	Hi int64
}

// Len returns the number of integers in the range. The full int64 span does
// not fit in a uint64 and reports math.MaxUint64.
func (r Range) Len() uint64 {
	lo, hi := r.Lo, r.Hi
	if lo > hi {
		lo, hi = hi, lo
	}
	span := uint64(hi) - uint64(lo)
	if span == math.MaxUint64 {
		return span
	}
	return span + 1
}

// Func is a closure created by a function literal.
type Func struct {
	Params []string
	Body   *Block
	env    *env
}

// Namespace is the value of a bare namespace reference such as Math.
type Namespace struct {
	Name string
}

// BuiltinFunc implements a function provided by the host.
type BuiltinFunc func(call *Call, args []any) (any, error)

// Builtin is a host function value. Arity -1 accepts any number of arguments.
type Builtin struct {
	Name  string
	Arity int
	Fn    BuiltinFunc
}

func (b Builtin) accepts(n int) bool {
	return b.Arity < 0 || b.Arity == n
}

// Call is handed to builtins. It carries the run context, the configured
// output and a way to invoke callable arguments.
type Call struct {
	Context context.Context
	Out     io.Writer
	Pos     Pos

	interp *Interpreter
}

// Invoke calls a callable value with args.
func (c *Call) Invoke(fn any, args ...any) (any, error) {
	return c.interp.invoke(c.Pos, fn, args)
}

// Errorf builds a runtime error located at the call site.
func (c *Call) Errorf(format string, args ...any) error {
	return &RuntimeError{Pos: c.Pos, Message: fmt.Sprintf(format, args...)}
}

// MaxRange returns the configured range limit, 0 when unbounded.
func (c *Call) MaxRange() int64 {
	return c.interp.engine.opts.MaxRange
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

// normalize converts host values to the engine's numeric representation.
func normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case float32:
		return float64(v)
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = int64(n)
		}
		return out
	default:
		return v
	}
}

func toInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int64(v), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch a := a.(type) {
	case []any:
		bl, ok := b.([]any)
		if !ok || len(a) != len(bl) {
			return false
		}
		for i := range a {
			if !equal(a[i], bl[i]) {
				return false
			}
		}
		return true
	case Builtin:
		bb, ok := b.(Builtin)
		return ok && a.Name == bb.Name && a.Arity == bb.Arity
	case *Func, string, bool, nil, Range, Namespace:
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case bool:
		return "bool"
	case []any:
		return "list"
	case Range:
		return "range"
	case *Func, Builtin:
		return "function"
	case Namespace:
		return "namespace"
	default:
		return fmt.Sprintf("%T", v)
	}
}
