// Package policy decides which operations a program tree may perform before
// it runs.
package policy

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sameehj/fence/pkg/lang"
	"github.com/zeebo/blake3"
)

// Unbounded disables the range literal check when used as Spec.RangeMax.
const Unbounded int64 = -1

// RuleKind selects how a namespace rule treats function names.
type RuleKind int

const (
	RuleUnknown RuleKind = iota
	RuleAll
	RuleAllExcept
	RuleOnly
)

func (k RuleKind) String() string {
	switch k {
	case RuleAll:
		return "all"
	case RuleAllExcept:
		return "except"
	case RuleOnly:
		return "only"
	default:
		return "unknown"
	}
}

// Rule governs the functions of one namespace. Names may use the patterns
// "*" and "prefix*".
type Rule struct {
	Kind  RuleKind
	Names []string
}

// All permits every function of a namespace.
func All() Rule { return Rule{Kind: RuleAll} }

// AllExcept permits every function except names.
func AllExcept(names ...string) Rule {
	return Rule{Kind: RuleAllExcept, Names: append([]string(nil), names...)}
}

// Only permits exactly names.
func Only(names ...string) Rule {
	return Rule{Kind: RuleOnly, Names: append([]string(nil), names...)}
}

func (r Rule) String() string {
	if r.Kind == RuleAll || r.Kind == RuleUnknown {
		return r.Kind.String()
	}
	return r.Kind.String() + "(" + strings.Join(r.Names, ", ") + ")"
}

func (r Rule) names(name string) bool {
	for _, pattern := range r.Names {
		if matchPattern(pattern, name) {
			return true
		}
	}
	return false
}

// Spec is the declarative form of a policy, as written in policy files.
type Spec struct {
	AllowedLocal  []string        `yaml:"allowed_local" json:"allowed_local"`
	AllowedRemote map[string]Rule `yaml:"allowed_remote" json:"allowed_remote"`
	// RangeMax bounds range literals: lo..hi is accepted when hi-lo <= RangeMax
	// and hi < RangeMax. Unbounded (any negative value) disables the check.
	RangeMax int64 `yaml:"range_max" json:"range_max"`
}

type namespacePattern struct {
	prefix string
	rule   Rule
}

// Policy is an immutable capability policy. Anything not granted is denied.
type Policy struct {
	locals      []string
	remote      map[string]Rule
	patterns    []namespacePattern
	rangeMax    int64
	fingerprint string
}

// New builds a Policy from spec. The spec is copied.
func New(spec Spec) *Policy {
	p := &Policy{
		locals:   append([]string(nil), spec.AllowedLocal...),
		remote:   make(map[string]Rule, len(spec.AllowedRemote)),
		rangeMax: spec.RangeMax,
	}
	sort.Strings(p.locals)
	for key, rule := range spec.AllowedRemote {
		key = lang.DisplayNamespace(key)
		rule = Rule{Kind: rule.Kind, Names: append([]string(nil), rule.Names...)}
		sort.Strings(rule.Names)
		switch {
		case key == "*":
			p.patterns = append(p.patterns, namespacePattern{prefix: "", rule: rule})
		case strings.HasSuffix(key, ".*"):
			p.patterns = append(p.patterns, namespacePattern{prefix: strings.TrimSuffix(key, "*"), rule: rule})
		default:
			p.remote[key] = rule
		}
	}
	// Longest prefix first so the most specific pattern wins.
	sort.Slice(p.patterns, func(i, j int) bool {
		return len(p.patterns[i].prefix) > len(p.patterns[j].prefix)
	})
	p.fingerprint = p.computeFingerprint()
	return p
}

// Unrestricted allows every local and remote function and any range.
func Unrestricted() *Policy {
	return New(Spec{
		AllowedLocal:  []string{"*"},
		AllowedRemote: map[string]Rule{"*": All()},
		RangeMax:      Unbounded,
	})
}

// AllowsLocal reports whether a bare call to name is permitted.
func (p *Policy) AllowsLocal(name string) bool {
	for _, pattern := range p.locals {
		if matchPattern(pattern, name) {
			return true
		}
	}
	return false
}

// RuleFor returns the rule for a namespace given by display name.
func (p *Policy) RuleFor(namespace string) (Rule, bool) {
	namespace = lang.DisplayNamespace(namespace)
	if rule, ok := p.remote[namespace]; ok {
		return rule, true
	}
	for _, pat := range p.patterns {
		if strings.HasPrefix(namespace, pat.prefix) {
			return pat.rule, true
		}
	}
	return Rule{}, false
}

// AllowsRange reports whether the range literal lo..hi is within bounds.
func (p *Policy) AllowsRange(lo, hi int64) bool {
	if p.rangeMax < 0 {
		return true
	}
	if hi >= p.rangeMax {
		return false
	}
	if hi <= lo {
		return true
	}
	return uint64(hi)-uint64(lo) <= uint64(p.rangeMax)
}

// RangeMax returns the range bound, negative when unbounded.
func (p *Policy) RangeMax() int64 { return p.rangeMax }

// Spec returns a copy of the declarative form of p.
func (p *Policy) Spec() Spec {
	spec := Spec{
		AllowedLocal:  append([]string(nil), p.locals...),
		AllowedRemote: make(map[string]Rule, len(p.remote)+len(p.patterns)),
		RangeMax:      p.rangeMax,
	}
	for key, rule := range p.remote {
		spec.AllowedRemote[key] = Rule{Kind: rule.Kind, Names: append([]string(nil), rule.Names...)}
	}
	for _, pat := range p.patterns {
		key := pat.prefix + "*"
		spec.AllowedRemote[key] = Rule{Kind: pat.rule.Kind, Names: append([]string(nil), pat.rule.Names...)}
	}
	return spec
}

// Fingerprint is a stable BLAKE3 digest of the policy's contents. Policies
// with the same grants share a fingerprint.
func (p *Policy) Fingerprint() string { return p.fingerprint }

func (p *Policy) computeFingerprint() string {
	spec := p.Spec()
	keys := make([]string, 0, len(spec.AllowedRemote))
	for key := range spec.AllowedRemote {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("local:")
	b.WriteString(strings.Join(spec.AllowedLocal, ","))
	for _, key := range keys {
		fmt.Fprintf(&b, "\nremote:%s=%s", key, spec.AllowedRemote[key])
	}
	b.WriteString("\nrange:" + strconv.FormatInt(normalizeRangeMax(spec.RangeMax), 10))

	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func normalizeRangeMax(v int64) int64 {
	if v < 0 {
		return Unbounded
	}
	return v
}

func matchPattern(pattern, value string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(value, prefix)
	default:
		return pattern == value
	}
}
