package lang

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Format renders a node back to source text. The output parses to an
// equivalent tree.
func Format(n Node) string {
	var b strings.Builder
	pr := &printer{b: &b}
	if block, ok := n.(*Block); ok && block.TopLevel {
		pr.statements(block.Stmts, "\n")
		return b.String()
	}
	pr.node(n)
	return b.String()
}

type printer struct {
	b      *strings.Builder
	indent int
}

var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3, "<": 3, "<=": 3, ">": 3, ">=": 3,
	"..": 4,
	"+":  5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

func nodePrecedence(n Node) int {
	switch n := n.(type) {
	case *Binary:
		return precedence[n.Op]
	case *RangeExpr, *RangeLiteral:
		return precedence[".."]
	case *Unary:
		return 7
	case *Assign:
		return 0
	default:
		return 8
	}
}

func (pr *printer) write(s string) { pr.b.WriteString(s) }

func (pr *printer) operand(n Node, min int) {
	if nodePrecedence(n) < min {
		pr.write("(")
		pr.node(n)
		pr.write(")")
		return
	}
	pr.node(n)
}

func (pr *printer) list(items []Node) {
	for i, item := range items {
		if i > 0 {
			pr.write(", ")
		}
		pr.node(item)
	}
}

func (pr *printer) statements(stmts []Node, sep string) {
	for i, stmt := range stmts {
		if i > 0 {
			pr.write(sep)
		}
		pr.node(stmt)
	}
}

func (pr *printer) block(b *Block) {
	if len(b.Stmts) == 0 {
		pr.write("{}")
		return
	}
	pr.indent++
	pad := strings.Repeat("  ", pr.indent)
	pr.write("{\n" + pad)
	pr.statements(b.Stmts, "\n"+pad)
	pr.indent--
	pr.write("\n" + strings.Repeat("  ", pr.indent) + "}")
}

func (pr *printer) node(n Node) {
	switch n := n.(type) {
	case *LocalCall:
		pr.write(n.Name + "(")
		pr.list(n.Args)
		pr.write(")")
	case *RemoteCall:
		pr.write(strings.Join(n.Namespace.Path, ".") + "." + n.Name + "(")
		pr.list(n.Args)
		pr.write(")")
	case *AnonymousCall:
		switch n.Callee.(type) {
		case *FuncLit, *LocalCall, *RemoteCall, *AnonymousCall, *Index, *ListLit:
			pr.node(n.Callee)
		default:
			pr.write("(")
			pr.node(n.Callee)
			pr.write(")")
		}
		pr.write("(")
		pr.list(n.Args)
		pr.write(")")
	case *RangeLiteral:
		pr.write(strconv.FormatInt(n.Lo, 10) + ".." + strconv.FormatInt(n.Hi, 10))
	case *RangeExpr:
		pr.operand(n.Lo, precedence[".."]+1)
		pr.write("..")
		pr.operand(n.Hi, precedence[".."]+1)
	case *NamespaceRef:
		pr.write(strings.Join(n.Path, "."))
	case *IntLit:
		pr.write(strconv.FormatInt(n.Value, 10))
	case *FloatLit:
		pr.write(formatFloat(n.Value))
	case *StringLit:
		pr.write(strconv.Quote(n.Value))
	case *BoolLit:
		pr.write(strconv.FormatBool(n.Value))
	case *NilLit:
		pr.write("nil")
	case *ListLit:
		pr.write("[")
		pr.list(n.Items)
		pr.write("]")
	case *Ident:
		pr.write(n.Name)
	case *Unary:
		pr.write(n.Op)
		pr.operand(n.Operand, 7)
	case *Binary:
		prec := precedence[n.Op]
		pr.operand(n.Left, prec)
		pr.write(" " + n.Op + " ")
		pr.operand(n.Right, prec+1)
	case *Index:
		pr.operand(n.Target, 8)
		pr.write("[")
		pr.node(n.Key)
		pr.write("]")
	case *Assign:
		pr.write(n.Name + " = ")
		pr.node(n.Value)
	case *Alias:
		pr.write("alias " + n.Name + " = ")
		pr.node(n.Target)
	case *Block:
		pr.block(n)
	case *If:
		pr.write("if ")
		pr.node(n.Cond)
		pr.write(" ")
		pr.block(n.Then)
		if n.Else != nil {
			pr.write(" else ")
			pr.node(n.Else)
		}
	case *While:
		pr.write("while ")
		pr.node(n.Cond)
		pr.write(" ")
		pr.block(n.Body)
	case *For:
		pr.write("for " + n.Var + " in ")
		pr.node(n.Iter)
		pr.write(" ")
		pr.block(n.Body)
	case *FuncLit:
		pr.write("fn(" + strings.Join(n.Params, ", ") + ") ")
		pr.block(n.Body)
	case nil:
		pr.write("nil")
	default:
		pr.write(fmt.Sprintf("<%T>", n))
	}
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

// FormatValue renders a run-time value the way inspect shows it: strings are
// quoted, lists and ranges use literal syntax.
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return formatFloat(v)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + ": " + FormatValue(v[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Range:
		return strconv.FormatInt(v.Lo, 10) + ".." + strconv.FormatInt(v.Hi, 10)
	case *Func:
		return fmt.Sprintf("#fn/%d", len(v.Params))
	case Builtin:
		return fmt.Sprintf("#builtin<%s/%d>", v.Name, v.Arity)
	case Namespace:
		return DisplayNamespace(v.Name)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToString renders a value for output: strings are written as is.
func ToString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return FormatValue(v)
}
