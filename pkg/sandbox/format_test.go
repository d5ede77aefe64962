package sandbox

import "testing"

func TestFormatUndefined(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ns, name string
		args     []any
		want     string
	}{
		{"ns/Math", "sqrt", []any{int64(9)}, "Math.sqrt/1, called with: [9]"},
		{"Std.Text", "pad", []any{"a", int64(3)}, `Std.Text.pad/2, called with: ["a", 3]`},
		{"ns/IO", "flush", nil, "IO.flush/0, called with: []"},
	}
	for _, tc := range cases {
		if got := FormatUndefined(tc.ns, tc.name, tc.args); got != tc.want {
			t.Errorf("FormatUndefined(%q, %q, %v) = %q, want %q", tc.ns, tc.name, tc.args, got, tc.want)
		}
	}
}

func TestErrorIs(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindTimeout, Detail: "evaluation exceeded 1s"}
	if !isKind(err, ErrTimeout) || isKind(err, ErrOpaque) {
		t.Fatalf("sentinel matching is wrong")
	}
	if (&Error{Kind: KindTimeout}).Is(&Error{Kind: KindTimeout}) {
		t.Fatalf("only sentinels should match by kind")
	}
}

func isKind(err error, sentinel *Error) bool {
	e, ok := err.(*Error)
	return ok && e.Is(sentinel)
}
