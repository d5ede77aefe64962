package lang

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

func installStdlib(e *Engine) {
	e.RegisterLocal("add", 2, numeric("+"))
	e.RegisterLocal("sub", 2, numeric("-"))
	e.RegisterLocal("mul", 2, numeric("*"))
	e.RegisterLocal("div", 2, numeric("/"))
	e.RegisterLocal("rem", 2, numeric("%"))
	e.RegisterLocal("abs", 1, mathAbs)
	e.RegisterLocal("min", -1, extreme(-1))
	e.RegisterLocal("max", -1, extreme(1))
	e.RegisterLocal("len", 1, length)
	e.RegisterLocal("str", 1, func(_ *Call, args []any) (any, error) { return ToString(args[0]), nil })
	e.RegisterLocal("inspect", 1, func(_ *Call, args []any) (any, error) { return FormatValue(args[0]), nil })
	e.RegisterLocal("int", 1, toIntBuiltin)
	e.RegisterLocal("float", 1, toFloatBuiltin)
	e.RegisterLocal("print", -1, write(""))
	e.RegisterLocal("puts", -1, write("\n"))
	e.RegisterLocal("exit", -1, func(_ *Call, args []any) (any, error) {
		if len(args) == 0 {
			return nil, &ExitError{}
		}
		return nil, &ExitError{Reason: args[0]}
	})

	e.Register("Math", "abs", 1, mathAbs)
	e.Register("Math", "floor", 1, rounding(math.Floor))
	e.Register("Math", "ceil", 1, rounding(math.Ceil))
	e.Register("Math", "round", 1, rounding(math.Round))
	e.Register("Math", "pow", 2, mathPow)
	e.Register("Math", "max", -1, extreme(1))
	e.Register("Math", "min", -1, extreme(-1))
	e.Register("Math", "pi", 0, func(*Call, []any) (any, error) { return math.Pi, nil })

	e.Register("Text", "upcase", 1, text(strings.ToUpper))
	e.Register("Text", "downcase", 1, text(strings.ToLower))
	e.Register("Text", "trim", 1, text(strings.TrimSpace))
	e.Register("Text", "length", 1, length)
	e.Register("Text", "split", 2, textSplit)
	e.Register("Text", "join", 2, textJoin)
	e.Register("Text", "contains", 2, func(c *Call, args []any) (any, error) {
		s, sub, err := twoStrings(c, args)
		if err != nil {
			return nil, err
		}
		return strings.Contains(s, sub), nil
	})

	e.Register("List", "length", 1, length)
	e.Register("List", "at", 2, listAt)
	e.Register("List", "map", 2, listMap)
	e.Register("List", "filter", 2, listFilter)
	e.Register("List", "reduce", 3, listReduce)
	e.Register("List", "sum", 1, listSum)
	e.Register("List", "sort", 1, listSort)
	e.Register("List", "range", 2, listRange)

	e.Register("IO", "puts", 1, write("\n"))
	e.Register("IO", "write", 1, write(""))

	e.Register("System", "run", -1, systemRun)
	e.Register("System", "env", 1, func(c *Call, args []any) (any, error) {
		name, ok := args[0].(string)
		if !ok {
			return nil, c.Errorf("System.env expects a string, got %s", typeName(args[0]))
		}
		return os.Getenv(name), nil
	})

	e.Register("File", "read", 1, fileRead)
	e.Register("File", "write", 2, fileWrite)

	e.Register("Process", "sleep", 1, processSleep)
}

func numeric(op string) BuiltinFunc {
	return func(c *Call, args []any) (any, error) {
		v, err := arith(op, args[0], args[1])
		if err != nil {
			return nil, c.Errorf("%v", err)
		}
		return v, nil
	}
}

func mathAbs(c *Call, args []any) (any, error) {
	switch v := args[0].(type) {
	case int64:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	case float64:
		return math.Abs(v), nil
	}
	return nil, c.Errorf("abs expects a number, got %s", typeName(args[0]))
}

func rounding(fn func(float64) float64) BuiltinFunc {
	return func(c *Call, args []any) (any, error) {
		f, ok := toFloat(args[0])
		if !ok {
			return nil, c.Errorf("expected a number, got %s", typeName(args[0]))
		}
		r := fn(f)
		if r >= math.MinInt64 && r < math.MaxInt64 {
			return int64(r), nil
		}
		return r, nil
	}
}

func mathPow(c *Call, args []any) (any, error) {
	base, bok := toFloat(args[0])
	exp, eok := toFloat(args[1])
	if !bok || !eok {
		return nil, c.Errorf("pow expects numbers")
	}
	r := math.Pow(base, exp)
	if _, intBase := args[0].(int64); intBase {
		if e, intExp := args[1].(int64); intExp && e >= 0 && math.Abs(r) < 1<<53 {
			return int64(r), nil
		}
	}
	return r, nil
}

func extreme(sign int) BuiltinFunc {
	return func(c *Call, args []any) (any, error) {
		if len(args) == 1 {
			if list, ok := args[0].([]any); ok {
				args = list
			}
		}
		if len(args) == 0 {
			return nil, c.Errorf("expected at least one value")
		}
		best := args[0]
		for _, v := range args[1:] {
			less, err := arith("<", v, best)
			if err != nil {
				return nil, c.Errorf("%v", err)
			}
			if (sign < 0) == less.(bool) && !equal(v, best) {
				best = v
			}
		}
		return best, nil
	}
}

func length(c *Call, args []any) (any, error) {
	switch v := args[0].(type) {
	case string:
		return int64(len([]rune(v))), nil
	case []any:
		return int64(len(v)), nil
	case map[string]any:
		return int64(len(v)), nil
	case Range:
		if n := v.Len(); n <= math.MaxInt64 {
			return int64(n), nil
		}
		return nil, c.Errorf("range %d..%d is too long to measure", v.Lo, v.Hi)
	}
	return nil, c.Errorf("length of %s is undefined", typeName(args[0]))
}

func toIntBuiltin(c *Call, args []any) (any, error) {
	switch v := args[0].(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, c.Errorf("cannot convert %q to int", v)
		}
		return n, nil
	}
	return nil, c.Errorf("cannot convert %s to int", typeName(args[0]))
}

func toFloatBuiltin(c *Call, args []any) (any, error) {
	switch v := args[0].(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, c.Errorf("cannot convert %q to float", v)
		}
		return f, nil
	}
	return nil, c.Errorf("cannot convert %s to float", typeName(args[0]))
}

func write(suffix string) BuiltinFunc {
	return func(c *Call, args []any) (any, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = ToString(a)
		}
		if _, err := fmt.Fprint(c.Out, strings.Join(parts, " ")+suffix); err != nil {
			return nil, c.Errorf("write output: %v", err)
		}
		return nil, nil
	}
}

func text(fn func(string) string) BuiltinFunc {
	return func(c *Call, args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, c.Errorf("expected a string, got %s", typeName(args[0]))
		}
		return fn(s), nil
	}
}

func twoStrings(c *Call, args []any) (string, string, error) {
	a, aok := args[0].(string)
	b, bok := args[1].(string)
	if !aok || !bok {
		return "", "", c.Errorf("expected two strings, got %s and %s", typeName(args[0]), typeName(args[1]))
	}
	return a, b, nil
}

func textSplit(c *Call, args []any) (any, error) {
	s, sep, err := twoStrings(c, args)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func textJoin(c *Call, args []any) (any, error) {
	list, ok := args[0].([]any)
	sep, sok := args[1].(string)
	if !ok || !sok {
		return nil, c.Errorf("join expects a list and a string")
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = ToString(item)
	}
	return strings.Join(parts, sep), nil
}

// iterable turns lists and ranges into a slice, respecting the range limit.
func iterable(c *Call, v any) ([]any, error) {
	switch v := v.(type) {
	case []any:
		return v, nil
	case Range:
		limit := uint64(maxMaterialize)
		if max := c.MaxRange(); max > 0 && uint64(max) < limit {
			limit = uint64(max) + 1
		}
		if v.Len() > limit {
			return nil, c.Errorf("range %d..%d is too large to expand", v.Lo, v.Hi)
		}
		out := make([]any, 0, v.Len())
		step := int64(1)
		if v.Lo > v.Hi {
			step = -1
		}
		for i := v.Lo; ; i += step {
			if len(out)%4096 == 0 {
				if err := c.interp.check(); err != nil {
					return nil, err
				}
			}
			out = append(out, i)
			if i == v.Hi {
				return out, nil
			}
		}
	}
	return nil, c.Errorf("expected a list or range, got %s", typeName(v))
}

func listAt(c *Call, args []any) (any, error) {
	i, ok := toInt(args[1])
	if !ok {
		return nil, c.Errorf("index must be an integer, got %s", typeName(args[1]))
	}
	if _, ok := args[0].([]any); !ok {
		return nil, c.Errorf("List.at expects a list, got %s", typeName(args[0]))
	}
	// Out of range yields nil.
	return at(args[0], i, func() error { return nil })
}

func listMap(c *Call, args []any) (any, error) {
	items, err := iterable(c, args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, item := range items {
		v, err := c.Invoke(args[1], item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func listFilter(c *Call, args []any) (any, error) {
	items, err := iterable(c, args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		keep, err := c.Invoke(args[1], item)
		if err != nil {
			return nil, err
		}
		if truthy(keep) {
			out = append(out, item)
		}
	}
	return out, nil
}

func listReduce(c *Call, args []any) (any, error) {
	items, err := iterable(c, args[0])
	if err != nil {
		return nil, err
	}
	acc := args[1]
	for _, item := range items {
		acc, err = c.Invoke(args[2], acc, item)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func listSum(c *Call, args []any) (any, error) {
	items, err := iterable(c, args[0])
	if err != nil {
		return nil, err
	}
	var total any = int64(0)
	for _, item := range items {
		total, err = arith("+", total, item)
		if err != nil {
			return nil, c.Errorf("%v", err)
		}
	}
	return total, nil
}

func listSort(c *Call, args []any) (any, error) {
	items, err := iterable(c, args[0])
	if err != nil {
		return nil, err
	}
	out := append([]any(nil), items...)
	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		less, err := arith("<", out[i], out[j])
		if err != nil {
			sortErr = err
			return false
		}
		return less.(bool)
	})
	if sortErr != nil {
		return nil, c.Errorf("%v", sortErr)
	}
	return out, nil
}

func listRange(c *Call, args []any) (any, error) {
	lo, lok := toInt(args[0])
	hi, hok := toInt(args[1])
	if !lok || !hok {
		return nil, c.Errorf("List.range expects integers")
	}
	return iterable(c, Range{Lo: lo, Hi: hi})
}

func systemRun(c *Call, args []any) (any, error) {
	if len(args) == 0 {
		return nil, c.Errorf("System.run expects a command")
	}
	strs := make([]string, len(args))
	for i, a := range args {
		s, ok := a.(string)
		if !ok {
			return nil, c.Errorf("System.run arguments must be strings, got %s", typeName(a))
		}
		strs[i] = s
	}
	res, err := c.interp.engine.opts.Executor.RunContext(c.Context, strs[0], strs[1:])
	if err != nil {
		if c.Context.Err() != nil {
			return nil, &ExitError{Reason: c.Context.Err()}
		}
		return nil, c.Errorf("System.run: %v", err)
	}
	if res.Code != 0 {
		return nil, c.Errorf("System.run: %s exited with status %d: %s", strs[0], res.Code, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func fileRead(c *Call, args []any) (any, error) {
	path, ok := args[0].(string)
	if !ok {
		return nil, c.Errorf("File.read expects a path, got %s", typeName(args[0]))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, c.Errorf("File.read: %v", err)
	}
	return string(data), nil
}

func fileWrite(c *Call, args []any) (any, error) {
	path, ok := args[0].(string)
	if !ok {
		return nil, c.Errorf("File.write expects a path, got %s", typeName(args[0]))
	}
	if err := os.WriteFile(path, []byte(ToString(args[1])), 0o644); err != nil {
		return nil, c.Errorf("File.write: %v", err)
	}
	return nil, nil
}

func processSleep(c *Call, args []any) (any, error) {
	ms, ok := toInt(args[0])
	if !ok || ms < 0 {
		return nil, c.Errorf("Process.sleep expects a non-negative number of milliseconds")
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-c.Context.Done():
		return nil, &ExitError{Reason: c.Context.Err()}
	}
}
