package lang

import "strings"

// Pos is a 1-based source location.
type Pos struct {
	Line int
	Col  int
}

// Node is an element of a parsed program. Every node reports its position and
// its direct children so that walkers can descend into shapes they do not
// handle explicitly.
type Node interface {
	Position() Pos
	Children() []Node
}

// LocalCall is a call of a bare name: add(1, 2).
type LocalCall struct {
	At   Pos
	Name string
	Args []Node
}

// RemoteCall is a call qualified by a namespace: Math.floor(2.5).
type RemoteCall struct {
	At        Pos
	Namespace *NamespaceRef
	Name      string
	Args      []Node
}

// AnonymousCall invokes a callable value: (f)(1), fn(x) { x }(2).
type AnonymousCall struct {
	At     Pos
	Callee Node
	Args   []Node
}

// RangeLiteral is an inclusive integer range with literal bounds: 0..10.
type RangeLiteral struct {
	At Pos
	Lo int64
	Hi int64
}

// NamespaceRef names a namespace as written. When the name was introduced by
// an alias statement, Target holds the path it stands for.
type NamespaceRef struct {
	At     Pos
	Path   []string
	Target []string
}

// Canonical returns the dotted namespace identifier with aliases folded.
func (n *NamespaceRef) Canonical() string {
	if len(n.Target) > 0 {
		return joinPath(n.Target)
	}
	return joinPath(n.Path)
}

type (
	IntLit struct {
		At    Pos
		Value int64
	}
	FloatLit struct {
		At    Pos
		Value float64
	}
	StringLit struct {
		At    Pos
		Value string
	}
	BoolLit struct {
		At    Pos
		Value bool
	}
	NilLit struct {
		At Pos
	}
	ListLit struct {
		At    Pos
		Items []Node
	}
	Ident struct {
		At   Pos
		Name string
	}
	Unary struct {
		At      Pos
		Op      string
		Operand Node
	}
	Binary struct {
		At    Pos
		Op    string
		Left  Node
		Right Node
	}
	// RangeExpr is a range whose bounds are computed at run time.
	RangeExpr struct {
		At Pos
		Lo Node
		Hi Node
	}
	Index struct {
		At     Pos
		Target Node
		Key    Node
	}
	Assign struct {
		At    Pos
		Name  string
		Value Node
	}
	Alias struct {
		At     Pos
		Name   string
		Target *NamespaceRef
	}
	Block struct {
		At       Pos
		Stmts    []Node
		TopLevel bool
	}
	If struct {
		At   Pos
		Cond Node
		Then *Block
		Else Node
	}
	While struct {
		At   Pos
		Cond Node
		Body *Block
	}
	For struct {
		At   Pos
		Var  string
		Iter Node
		Body *Block
	}
	FuncLit struct {
		At     Pos
		Params []string
		Body   *Block
	}
)

func (n *LocalCall) Position() Pos     { return n.At }
func (n *RemoteCall) Position() Pos    { return n.At }
func (n *AnonymousCall) Position() Pos { return n.At }
func (n *RangeLiteral) Position() Pos  { return n.At }
func (n *NamespaceRef) Position() Pos  { return n.At }
func (n *IntLit) Position() Pos        { return n.At }
func (n *FloatLit) Position() Pos      { return n.At }
func (n *StringLit) Position() Pos     { return n.At }
func (n *BoolLit) Position() Pos       { return n.At }
func (n *NilLit) Position() Pos        { return n.At }
func (n *ListLit) Position() Pos       { return n.At }
func (n *Ident) Position() Pos         { return n.At }
func (n *Unary) Position() Pos         { return n.At }
func (n *Binary) Position() Pos        { return n.At }
func (n *RangeExpr) Position() Pos     { return n.At }
func (n *Index) Position() Pos         { return n.At }
func (n *Assign) Position() Pos        { return n.At }
func (n *Alias) Position() Pos         { return n.At }
func (n *Block) Position() Pos         { return n.At }
func (n *If) Position() Pos            { return n.At }
func (n *While) Position() Pos         { return n.At }
func (n *For) Position() Pos           { return n.At }
func (n *FuncLit) Position() Pos       { return n.At }

func (n *LocalCall) Children() []Node { return n.Args }

func (n *RemoteCall) Children() []Node {
	return append([]Node{n.Namespace}, n.Args...)
}

func (n *AnonymousCall) Children() []Node {
	return append([]Node{n.Callee}, n.Args...)
}

func (n *RangeLiteral) Children() []Node { return nil }
func (n *NamespaceRef) Children() []Node { return nil }
func (n *IntLit) Children() []Node       { return nil }
func (n *FloatLit) Children() []Node     { return nil }
func (n *StringLit) Children() []Node    { return nil }
func (n *BoolLit) Children() []Node      { return nil }
func (n *NilLit) Children() []Node       { return nil }
func (n *ListLit) Children() []Node      { return n.Items }
func (n *Ident) Children() []Node        { return nil }
func (n *Unary) Children() []Node        { return []Node{n.Operand} }
func (n *Binary) Children() []Node       { return []Node{n.Left, n.Right} }
func (n *RangeExpr) Children() []Node    { return []Node{n.Lo, n.Hi} }
func (n *Index) Children() []Node        { return []Node{n.Target, n.Key} }
func (n *Assign) Children() []Node       { return []Node{n.Value} }
func (n *Alias) Children() []Node        { return []Node{n.Target} }
func (n *Block) Children() []Node        { return n.Stmts }
func (n *While) Children() []Node        { return []Node{n.Cond, n.Body} }
func (n *For) Children() []Node          { return []Node{n.Iter, n.Body} }
func (n *FuncLit) Children() []Node      { return []Node{n.Body} }

func (n *If) Children() []Node {
	out := []Node{n.Cond, n.Then}
	if n.Else != nil {
		out = append(out, n.Else)
	}
	return out
}

// Walk calls fn for n and, while fn returns true, for each descendant in
// depth-first order.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, child := range n.Children() {
		Walk(child, fn)
	}
}

func joinPath(path []string) string {
	return strings.Join(path, ".")
}
