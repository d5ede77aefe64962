package lang

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func run(t *testing.T, e *Engine, src string, bindings map[string]any) (any, string, error) {
	t.Helper()
	tree, err := Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	var out bytes.Buffer
	v, _, err := e.Run(context.Background(), tree, bindings, &out)
	return v, out.String(), err
}

func TestRunValues(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	tests := []struct {
		src      string
		bindings map[string]any
		want     string
	}{
		{src: "add(1, 2)", want: "3"},
		{src: "1 + 2 * 3", want: "7"},
		{src: "x * 2", bindings: map[string]any{"x": 21}, want: "42"},
		{src: "Math.pow(2, 10)", want: "1024"},
		{src: `Text.upcase("abc")`, want: `"ABC"`},
		{src: `Text.join(Text.split("a,b,c", ","), "-")`, want: `"a-b-c"`},
		{src: "List.map([1, 2, 3], fn(x) { x * x })", want: "[1, 4, 9]"},
		{src: "List.filter(1..6, fn(x) { x % 2 == 0 })", want: "[2, 4, 6]"},
		{src: "List.reduce([1, 2, 3], 0, fn(acc, x) { add(acc, x) })", want: "6"},
		{src: "List.sum(1..100)", want: "5050"},
		{src: "List.sort([3, 1, 2])", want: "[1, 2, 3]"},
		{src: "List.at([1, 2], 5)", want: "nil"},
		{src: "fn(x) { x + 1 }(41)", want: "42"},
		{src: "alias M = Math\nM.max(3, 9, 4)", want: "9"},
		{src: "min([4, 2, 8])", want: "2"},
		{src: "s = 0\nfor i in 3..1 { s = s * 10 + i }\ns", want: "321"},
		{src: "n = 0\nwhile n < 5 { n = n + 1 }\nn", want: "5"},
		{src: `if len("abc") == 3 { "yes" } else { "no" }`, want: `"yes"`},
		{src: "xs = [10, 20, 30]\nxs[-1]", want: "30"},
		{src: `"n=" + 4`, want: `"n=4"`},
		{src: "int(\"12\") + float(1)", want: "13.0"},
		{src: "Math", want: "Math"},
	}
	for _, tt := range tests {
		v, _, err := run(t, e, tt.src, tt.bindings)
		if err != nil {
			t.Fatalf("%q: %v", tt.src, err)
		}
		if got := FormatValue(v); got != tt.want {
			t.Fatalf("%q = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestRunOutput(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	_, out, err := run(t, e, `puts("a", 1)
print("b")
IO.puts("c")
IO.write(inspect("d"))`, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "a 1\nbc\n\"d\"" {
		t.Fatalf("output = %q", out)
	}
}

func TestRunReturnsFinalBindings(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	tree := MustParse("y = x + 1")
	_, final, err := e.Run(context.Background(), tree, map[string]any{"x": 1}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final["x"] != int64(1) || final["y"] != int64(2) {
		t.Fatalf("bindings = %v", final)
	}
}

func TestResolveRejectsBeforeRunning(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	for _, src := range []string{`puts("side effect")
nope(1)`, `puts("side effect")
y + 1`, "add(1)"} {
		_, out, err := run(t, e, src, nil)
		var ce *CompileError
		if !errors.As(err, &ce) {
			t.Fatalf("%q: expected CompileError, got %v", src, err)
		}
		if out != "" {
			t.Fatalf("%q: output written before rejection: %q", src, out)
		}
	}
}

func TestUndefinedRemoteCarriesFrames(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	_, _, err := run(t, e, "List.map([9], fn(x) { Math.sqrt(x) })", nil)
	var ue *UndefinedFunctionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UndefinedFunctionError, got %v", err)
	}
	if DisplayNamespace(ue.Namespace) != "Math" || ue.Name != "sqrt" || ue.Arity != 1 {
		t.Fatalf("error = %+v", ue)
	}
	if len(ue.Frames) < 2 {
		t.Fatalf("expected nested frames, got %d", len(ue.Frames))
	}
	if got := FormatValue(ue.Frames[0].Args); got != "[9]" {
		t.Fatalf("innermost args = %s", got)
	}
	if !strings.Contains(err.Error(), "Math.sqrt/1") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestRuntimeErrors(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	for _, src := range []string{"div(1, 0)", "[1][3]", `1 + true`, "for x in 5 { x }", "Text.upcase(1)"} {
		_, _, err := run(t, e, src, nil)
		var re *RuntimeError
		if !errors.As(err, &re) {
			t.Fatalf("%q: expected RuntimeError, got %v", src, err)
		}
	}
}

func TestBareNameIsNotAFunction(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	_, _, err := run(t, e, `f = puts
(f)("x")`, nil)
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError for bare builtin name, got %v", err)
	}
}

func TestExit(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	_, _, err := run(t, e, `exit("done")`, nil)
	var ee *ExitError
	if !errors.As(err, &ee) || ee.Reason != "done" {
		t.Fatalf("expected exit with reason, got %v", err)
	}
}

func TestDepthLimit(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{MaxDepth: 50})
	_, _, err := run(t, e, "loop = fn(h) { (h)(h) }\n(loop)(loop)", nil)
	if err == nil || !strings.Contains(err.Error(), "call depth") {
		t.Fatalf("expected depth error, got %v", err)
	}
}

func TestMaxRange(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{MaxRange: 100})
	if _, _, err := run(t, e, "n = 50\nList.sum(1..n)", nil); err != nil {
		t.Fatalf("small dynamic range: %v", err)
	}
	if _, _, err := run(t, e, "n = 1000\n1..n", nil); err == nil {
		t.Fatalf("expected range limit error")
	}
	if _, _, err := run(t, e, "List.range(0, 5000)", nil); err == nil {
		t.Fatalf("expected List.range to respect the limit")
	}
}

func TestRangeLenFullSpan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		r    Range
		want uint64
	}{
		{Range{Lo: 0, Hi: 0}, 1},
		{Range{Lo: 5, Hi: 1}, 5},
		{Range{Lo: -3, Hi: 3}, 7},
		{Range{Lo: math.MaxInt64, Hi: math.MinInt64}, math.MaxUint64},
		{Range{Lo: math.MinInt64, Hi: math.MaxInt64}, math.MaxUint64},
		{Range{Lo: math.MinInt64, Hi: math.MaxInt64 - 1}, math.MaxUint64},
	}
	for _, tt := range tests {
		if got := tt.r.Len(); got != tt.want {
			t.Fatalf("%d..%d: Len = %d, want %d", tt.r.Lo, tt.r.Hi, got, tt.want)
		}
	}
}

func TestHugeDescendingRangeIsRejected(t *testing.T) {
	t.Parallel()

	bounds := map[string]any{"lo": int64(math.MaxInt64), "hi": int64(math.MinInt64)}
	tests := []struct {
		name   string
		engine *Engine
		src    string
		want   string
	}{
		{"bounded sum", NewEngine(Options{MaxRange: 1000}), "List.sum(lo..hi)", "exceeds limit"},
		{"bounded small span", NewEngine(Options{MaxRange: 1000}), "a = 2000\nb = 0\nList.sum(a..b)", "exceeds limit"},
		{"unbounded sum", NewEngine(Options{}), "List.sum(lo..hi)", "too large to expand"},
		{"unbounded length", NewEngine(Options{}), "len(lo..hi)", "too long to measure"},
	}
	for _, tt := range tests {
		start := time.Now()
		_, _, err := run(t, tt.engine, tt.src, bounds)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: expected %q, got %v", tt.name, tt.want, err)
		}
		if time.Since(start) > time.Second {
			t.Fatalf("%s: rejection took %s", tt.name, time.Since(start))
		}
	}

	e := NewEngine(Options{MaxRange: 1000})
	if v, _, err := run(t, e, "a = 10\nb = 1\nList.sum(a..b)", nil); err != nil || FormatValue(v) != "55" {
		t.Fatalf("small descending range = %v, %v", v, err)
	}
}

func TestRangeExpansionStopsWhenInterrupted(t *testing.T) {
	t.Parallel()

	it := NewEngine(Options{}).NewInterpreter(context.Background(), nil)
	it.Interrupt("stop")
	_, err := iterable(&Call{Context: context.Background(), interp: it}, Range{Lo: 0, Hi: 100})
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %v", err)
	}
}

func TestInterruptStopsLoop(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, _, err := e.Run(ctx, MustParse("while true { 1 }"), nil, nil)
		done <- err
	}()
	select {
	case err := <-done:
		var ee *ExitError
		if !errors.As(err, &ee) {
			t.Fatalf("expected ExitError, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation cause, got %v", ee.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop was not interrupted")
	}
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, err := e.Run(ctx, MustParse("Process.sleep(5000)"), nil, nil)
	if err == nil {
		t.Fatalf("expected interruption")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep ignored cancellation")
	}
}

func TestRegisterHostFunctions(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{NoStdlib: true})
	e.RegisterLocal("twice", 1, func(_ *Call, args []any) (any, error) {
		n, _ := toInt(args[0])
		return int(n * 2), nil
	})
	e.Register("Std.Host", "name", 0, func(*Call, []any) (any, error) { return "fence", nil })

	v, _, err := run(t, e, "twice(21)", nil)
	if err != nil || v != int64(42) {
		t.Fatalf("twice = %v, %v", v, err)
	}
	v, _, err = run(t, e, "alias H = Std.Host\nH.name()", nil)
	if err != nil || v != "fence" {
		t.Fatalf("H.name = %v, %v", v, err)
	}
	if _, _, err := run(t, e, "Math.abs(1)", nil); err == nil {
		t.Fatalf("stdlib should be absent")
	}
}
