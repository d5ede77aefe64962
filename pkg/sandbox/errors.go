package sandbox

import (
	"fmt"
)

// Kind classifies why an evaluation did not produce a value.
type Kind int

const (
	KindSyntax Kind = iota + 1
	KindPermission
	KindUndefinedLocal
	KindUndefinedRemote
	KindTimeout
	KindOpaque
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindPermission:
		return "permission"
	case KindUndefinedLocal:
		return "undefined_local"
	case KindUndefinedRemote:
		return "undefined_remote"
	case KindTimeout:
		return "timeout"
	case KindOpaque:
		return "opaque"
	case KindCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every failed evaluation.
type Error struct {
	Kind Kind
	// ID is the correlation id of the worker, empty when none was spawned.
	ID string
	// Detail is the human readable part: the offending code for permission
	// errors, the formatted call for undefined remote calls.
	Detail string
	Line   int
	Col    int
	// Token is the offending token of a syntax error.
	Token string
	// Payload carries what a worker terminated with: an exit reason or the
	// underlying error.
	Payload any
	Err     error

	sentinel bool
}

// Sentinels for errors.Is.
var (
	ErrSyntax          = &Error{Kind: KindSyntax, sentinel: true}
	ErrPermission      = &Error{Kind: KindPermission, sentinel: true}
	ErrUndefinedLocal  = &Error{Kind: KindUndefinedLocal, sentinel: true}
	ErrUndefinedRemote = &Error{Kind: KindUndefinedRemote, sentinel: true}
	ErrTimeout         = &Error{Kind: KindTimeout, sentinel: true}
	ErrOpaque          = &Error{Kind: KindOpaque, sentinel: true}
	ErrCancelled       = &Error{Kind: KindCancelled, sentinel: true}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindSyntax:
		if e.Token != "" {
			return fmt.Sprintf("syntax error on line %d: %s: %s", e.Line, e.Detail, e.Token)
		}
		return fmt.Sprintf("syntax error on line %d: %s", e.Line, e.Detail)
	case KindPermission:
		return "permission denied: " + e.Detail
	case KindUndefinedLocal:
		return "undefined local: " + e.Detail
	case KindUndefinedRemote:
		return "undefined remote: " + e.Detail
	case KindTimeout:
		return "timeout: " + e.Detail
	case KindCancelled:
		if e.Detail == "" {
			return "cancelled"
		}
		return "cancelled: " + e.Detail
	}
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.sentinel && t.Kind == e.Kind
}
