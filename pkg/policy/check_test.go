package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/sameehj/fence/pkg/lang"
)

func testPolicy() *Policy {
	return New(Spec{
		AllowedLocal: []string{"add", "puts"},
		AllowedRemote: map[string]Rule{
			"Math":    All(),
			"Text":    AllExcept("split"),
			"List":    Only("map", "sum"),
			"Std.*":   Only("safe_*"),
			"Mystery": {Kind: RuleUnknown},
		},
		RangeMax: 1000,
	})
}

func TestCheck(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	cases := []struct {
		src  string
		safe bool
	}{
		{"add(1, 2)", true},
		{"exit()", false},
		{"add(1, exit())", false},
		{"Math.pow(2, 3)", true},
		{"Math.sqrt(9)", true},
		{`System.run("ls")`, false},
		{`Text.upcase("a")`, true},
		{`Text.split("a,b", ",")`, false},
		{`Text.upcase(System.env("HOME"))`, false},
		{"List.sum([1])", true},
		{"List.reduce([1], 0, fn(a, b) { a })", false},
		{"List.map([1], fn(x) { exit() })", false},
		{"Std.Net.safe_get()", true},
		{"Std.Net.get()", false},
		{"Mystery.anything()", false},
		{"0..999", true},
		{"0..2000", false},
		{"x = [1, 0..5000]", false},
		{"(fn(x) { x })(1)", true},
		{"(fn(x) { exit() })(1)", false},
		{"(fn(x) { x })(0..5000)", false},
		{"if true { System.run(\"ls\") }", false},
		{"alias S = System\nS.run(\"ls\")", false},
		{"alias M = Math\nM.pow(1, 2)", true},
		{"alias T = Text\nT.split(\"\", \"\")", false},
	}
	for _, tc := range cases {
		tree, err := lang.Parse(tc.src)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.src, err)
		}
		if got := p.IsSafe(tree); got != tc.safe {
			t.Errorf("IsSafe(%q) = %v, want %v (%v)", tc.src, got, tc.safe, p.Check(tree))
		}
		if IsSafe(tree, p) != p.IsSafe(tree) {
			t.Errorf("function and method forms disagree for %q", tc.src)
		}
	}
}

func TestCheckDefaultDeny(t *testing.T) {
	t.Parallel()

	p := New(Spec{})
	for _, src := range []string{"add(1, 2)", "Math.abs(1)", "0..0"} {
		if p.IsSafe(lang.MustParse(src)) {
			t.Fatalf("empty policy accepted %q", src)
		}
	}
	if !p.IsSafe(lang.MustParse("x = 1 + 2")) {
		t.Fatalf("empty policy should accept code without calls")
	}
}

func TestCheckRendersOffendingCode(t *testing.T) {
	t.Parallel()

	err := testPolicy().Check(lang.MustParse(`x = 1
System.run("ls")`))
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected *Violation, got %v", err)
	}
	if v.Code != `System.run("ls")` {
		t.Fatalf("code = %q", v.Code)
	}
	if v.Line != 2 {
		t.Fatalf("line = %d", v.Line)
	}
	if !strings.Contains(v.Error(), "namespace System is not allowed") {
		t.Fatalf("error = %q", v.Error())
	}
}

func TestReportCollectsAll(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	report := p.Report(lang.MustParse(`exit(System.run("ls"))
y = 0..5000
add(1, 2)`))
	if report.Passed {
		t.Fatalf("report should fail")
	}
	if len(report.Violations) != 3 {
		t.Fatalf("violations = %d: %v", len(report.Violations), report.Err())
	}
	if report.Fingerprint != p.Fingerprint() {
		t.Fatalf("report fingerprint mismatch")
	}
	var v *Violation
	if !errors.As(report.Err(), &v) {
		t.Fatalf("joined error should unwrap to a violation")
	}

	clean := p.Report(lang.MustParse("add(1, 2)"))
	if !clean.Passed || clean.Err() != nil {
		t.Fatalf("clean report = %+v", clean)
	}
}

func TestUnrestrictedAcceptsEverything(t *testing.T) {
	t.Parallel()

	tree := lang.MustParse(`exit(System.run("ls"), Deep.Name.call(0..99999999))`)
	if !Unrestricted().IsSafe(tree) {
		t.Fatalf("unrestricted policy rejected code: %v", Unrestricted().Check(tree))
	}
}

func TestNilPolicyDeniesEverything(t *testing.T) {
	t.Parallel()

	var p *Policy
	if IsSafe(lang.MustParse("add(1, 2)"), p) {
		t.Fatalf("nil policy allowed a local call")
	}
	if p.IsSafe(lang.MustParse("Math.abs(1)")) {
		t.Fatalf("nil policy allowed a remote call")
	}
	if !IsSafe(lang.MustParse("1 + 2"), p) {
		t.Fatalf("nil policy rejected plain arithmetic")
	}
	if r := p.Report(lang.MustParse("add(1, 2)")); r.Passed || len(r.Violations) != 1 {
		t.Fatalf("report = %+v", r)
	}
}

func TestTooDeepTreeIsRejectedWithoutRecursing(t *testing.T) {
	t.Parallel()

	var n lang.Node = &lang.IntLit{Value: 1}
	for i := 0; i < 200000; i++ {
		n = &lang.Binary{Op: "+", Left: n, Right: &lang.IntLit{Value: 1}}
	}
	p := Unrestricted()
	err := p.Check(n)
	var v *Violation
	if !errors.As(err, &v) || !strings.Contains(v.Reason, "nested too deeply") {
		t.Fatalf("expected depth violation, got %v", err)
	}
	if r := p.Report(n); r.Passed {
		t.Fatalf("report passed a tree too deep to check")
	}
}
