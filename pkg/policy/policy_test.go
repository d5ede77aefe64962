package policy

import (
	"testing"
)

func TestMatchPattern(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "anything", true},
		{"to_*", "to_string", true},
		{"to_*", "from_string", false},
		{"add", "add", true},
		{"add", "adder", false},
	}

	for _, tc := range cases {
		if got := matchPattern(tc.pattern, tc.value); got != tc.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tc.pattern, tc.value, got, tc.want)
		}
	}
}

func TestAllowsRange(t *testing.T) {
	t.Parallel()

	p := New(Spec{RangeMax: 1000})
	cases := []struct {
		lo, hi int64
		want   bool
	}{
		{0, 999, true},
		{0, 1000, false},
		{0, 2000, false},
		{-1000, 0, true},
		{-1001, 0, false},
		{500, 10, true},
		{-9223372036854775808, 10, false},
		{10, -9223372036854775808, true},
	}
	for _, tc := range cases {
		if got := p.AllowsRange(tc.lo, tc.hi); got != tc.want {
			t.Errorf("AllowsRange(%d, %d) = %v, want %v", tc.lo, tc.hi, got, tc.want)
		}
	}
	if !Unrestricted().AllowsRange(0, 1<<62) {
		t.Fatalf("unrestricted policy should allow any range")
	}
}

func TestRuleForPatterns(t *testing.T) {
	t.Parallel()

	p := New(Spec{AllowedRemote: map[string]Rule{
		"Std.*":    All(),
		"Std.File": Only("read"),
		"ns/Math":  AllExcept("pow"),
	}})

	if rule, ok := p.RuleFor("Std.Text"); !ok || rule.Kind != RuleAll {
		t.Fatalf("Std.Text should match Std.*: %v %v", rule, ok)
	}
	if rule, ok := p.RuleFor("Std.File"); !ok || rule.Kind != RuleOnly {
		t.Fatalf("exact key should win over pattern: %v", rule)
	}
	if _, ok := p.RuleFor("Math"); !ok {
		t.Fatalf("internal prefix on keys should be dropped")
	}
	if _, ok := p.RuleFor("Std"); ok {
		t.Fatalf("Std.* should not cover Std itself")
	}
	if _, ok := p.RuleFor("System"); ok {
		t.Fatalf("unlisted namespace should have no rule")
	}
}

func TestNewCopiesSpec(t *testing.T) {
	t.Parallel()

	locals := []string{"add"}
	names := []string{"abs"}
	spec := Spec{AllowedLocal: locals, AllowedRemote: map[string]Rule{"Math": {Kind: RuleOnly, Names: names}}}
	p := New(spec)
	fp := p.Fingerprint()

	locals[0] = "exit"
	names[0] = "pow"
	spec.AllowedRemote["System"] = All()

	if p.AllowsLocal("exit") || !p.AllowsLocal("add") {
		t.Fatalf("policy changed after construction")
	}
	if _, ok := p.RuleFor("System"); ok {
		t.Fatalf("policy changed after construction")
	}
	if p.Fingerprint() != fp {
		t.Fatalf("fingerprint changed")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := New(Spec{AllowedLocal: []string{"sub", "add"}, AllowedRemote: map[string]Rule{"Math": AllExcept("pow", "abs")}, RangeMax: 10})
	b := New(Spec{AllowedLocal: []string{"add", "sub"}, AllowedRemote: map[string]Rule{"Math": AllExcept("abs", "pow")}, RangeMax: 10})
	c := New(Spec{AllowedLocal: []string{"add", "sub"}, AllowedRemote: map[string]Rule{"Math": Only("abs", "pow")}, RangeMax: 10})

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("equivalent policies should share a fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("different rules should change the fingerprint")
	}
	if len(a.Fingerprint()) != 32 {
		t.Fatalf("fingerprint = %q", a.Fingerprint())
	}
}
