package policy

import (
	"errors"
	"fmt"

	"github.com/sameehj/fence/pkg/lang"
)

// Violation is an offending subtree. Code is its source rendering.
type Violation struct {
	Node   lang.Node `json:"-"`
	Line   int       `json:"line"`
	Col    int       `json:"col"`
	Code   string    `json:"code"`
	Reason string    `json:"reason"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%d:%d: %s: %s", v.Line, v.Col, v.Reason, v.Code)
}

// Report summarises every violation found in a tree.
type Report struct {
	Fingerprint string       `json:"fingerprint"`
	Violations  []*Violation `json:"violations"`
	Passed      bool         `json:"passed"`
}

// Err joins all violations, nil when the tree passed.
func (r Report) Err() error {
	if r.Passed {
		return nil
	}
	errs := make([]error, len(r.Violations))
	for i, v := range r.Violations {
		errs[i] = v
	}
	return errors.Join(errs...)
}

// IsSafe reports whether tree only performs operations p grants.
func IsSafe(tree lang.Node, p *Policy) bool {
	return p.Check(tree) == nil
}

// IsSafe reports whether tree passes p.
func (p *Policy) IsSafe(tree lang.Node) bool {
	return p.Check(tree) == nil
}

// denyAll stands in for a nil *Policy.
var denyAll = New(Spec{})

func (p *Policy) orDenyAll() *Policy {
	if p == nil {
		return denyAll
	}
	return p
}

// tooDeep reports trees the recursive walk must not descend into.
func tooDeep(tree lang.Node) *Violation {
	err := lang.CheckDepth(tree)
	if err == nil {
		return nil
	}
	var se *lang.SyntaxError
	v := &Violation{Node: tree, Code: "...", Reason: "tree is nested too deeply to check"}
	if errors.As(err, &se) {
		v.Line, v.Col = se.Line, se.Col
	}
	return v
}

// Check returns the first violation in tree as a *Violation, or nil. A nil
// policy denies everything.
func (p *Policy) Check(tree lang.Node) error {
	p = p.orDenyAll()
	if v := tooDeep(tree); v != nil {
		return v
	}
	var first *Violation
	p.walk(tree, func(v *Violation) bool {
		first = v
		return false
	})
	if first == nil {
		return nil
	}
	return first
}

// Report collects every violation in tree.
func (p *Policy) Report(tree lang.Node) Report {
	p = p.orDenyAll()
	var violations []*Violation
	if v := tooDeep(tree); v != nil {
		violations = append(violations, v)
	} else {
		p.walk(tree, func(v *Violation) bool {
			violations = append(violations, v)
			return true
		})
	}
	return Report{
		Fingerprint: p.fingerprint,
		Violations:  violations,
		Passed:      len(violations) == 0,
	}
}

func violation(n lang.Node, format string, args ...any) *Violation {
	pos := n.Position()
	return &Violation{
		Node:   n,
		Line:   pos.Line,
		Col:    pos.Col,
		Code:   lang.Format(n),
		Reason: fmt.Sprintf(format, args...),
	}
}

// walk visits n and reports violations until emit returns false. It returns
// false once the walk was stopped.
func (p *Policy) walk(n lang.Node, emit func(*Violation) bool) bool {
	switch n := n.(type) {
	case nil:
		return true
	case *lang.LocalCall:
		if !p.AllowsLocal(n.Name) {
			if !emit(violation(n, "local function %s/%d is not allowed", n.Name, len(n.Args))) {
				return false
			}
		}
		return p.walkAll(n.Args, emit)
	case *lang.RemoteCall:
		if v := p.checkRemote(n); v != nil && !emit(v) {
			return false
		}
		return p.walkAll(n.Args, emit)
	case *lang.AnonymousCall:
		// Invoking a value is not a capability; what the callee and the
		// arguments contain still is.
		if !p.walk(n.Callee, emit) {
			return false
		}
		return p.walkAll(n.Args, emit)
	case *lang.RangeLiteral:
		if !p.AllowsRange(n.Lo, n.Hi) {
			return emit(violation(n, "range %d..%d exceeds limit %d", n.Lo, n.Hi, p.rangeMax))
		}
		return true
	default:
		return p.walkAll(n.Children(), emit)
	}
}

func (p *Policy) walkAll(nodes []lang.Node, emit func(*Violation) bool) bool {
	for _, child := range nodes {
		if !p.walk(child, emit) {
			return false
		}
	}
	return true
}

func (p *Policy) checkRemote(n *lang.RemoteCall) *Violation {
	ns := n.Namespace.Canonical()
	rule, ok := p.RuleFor(ns)
	if !ok {
		return violation(n, "namespace %s is not allowed", ns)
	}
	switch rule.Kind {
	case RuleAll:
		return nil
	case RuleAllExcept:
		if rule.names(n.Name) {
			return violation(n, "%s.%s is excluded", ns, n.Name)
		}
		return nil
	case RuleOnly:
		if !rule.names(n.Name) {
			return violation(n, "%s.%s is not in the allowed set", ns, n.Name)
		}
		return nil
	}
	return violation(n, "namespace %s has an unknown rule", ns)
}
