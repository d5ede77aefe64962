package lang

import (
	"fmt"
	"strconv"
)

// Parse turns source text into a program tree. The returned node is always a
// *Block holding the top-level statements.
func Parse(src string) (Node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, aliases: []map[string][]string{{}}}
	tree, err := p.program()
	if err != nil {
		return nil, err
	}
	if err := CheckDepth(tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// MustParse is Parse for trusted, static source. It panics on error.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(fmt.Sprintf("lang: parse %q: %v", src, err))
	}
	return n
}

// maxNesting bounds expression nesting so deeply nested input fails to parse
// instead of exhausting the stack.
const maxNesting = 512

// MaxTreeDepth bounds how deep a program tree may be. Operator chains such as
// 1+1+1 are parsed in a loop, so parser recursion alone does not bound it.
const MaxTreeDepth = 4 * maxNesting

// CheckDepth returns a *SyntaxError if any node of n lies deeper than
// MaxTreeDepth. It uses an explicit stack and is safe on any tree.
func CheckDepth(n Node) error {
	type item struct {
		node   Node
		parent Node
		depth  int
	}
	stack := []item{{node: n, depth: 1}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.node == nil {
			continue
		}
		if top.depth > MaxTreeDepth {
			pos := top.parent.Position()
			return &SyntaxError{Line: pos.Line, Col: pos.Col, Message: "expression nested too deeply"}
		}
		for _, child := range top.node.Children() {
			stack = append(stack, item{node: child, parent: top.node, depth: top.depth + 1})
		}
	}
	return nil
}

type parser struct {
	toks    []token
	pos     int
	depth   int
	aliases []map[string][]string
}

func (p *parser) nest() error {
	p.depth++
	if p.depth > maxNesting {
		return p.errorf(p.cur(), "expression nested too deeply")
	}
	return nil
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) lookahead(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(text string) bool {
	t := p.cur()
	return t.kind == tokOp && t.text == text
}

func (p *parser) isKeyword(text string) bool {
	t := p.cur()
	return t.kind == tokKeyword && t.text == text
}

func (p *parser) skipNewlines() {
	for p.cur().kind == tokNewline {
		p.next()
	}
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Line: t.pos.Line, Col: t.pos.Col, Message: fmt.Sprintf(format, args...), Token: t.String()}
}

func (p *parser) expectOp(text string) (token, error) {
	t := p.cur()
	if t.kind != tokOp || t.text != text {
		return t, p.errorf(t, "expected %q", text)
	}
	return p.next(), nil
}

func (p *parser) pushScope() { p.aliases = append(p.aliases, map[string][]string{}) }
func (p *parser) popScope()  { p.aliases = p.aliases[:len(p.aliases)-1] }

func (p *parser) resolveAlias(name string) ([]string, bool) {
	for i := len(p.aliases) - 1; i >= 0; i-- {
		if target, ok := p.aliases[i][name]; ok {
			return target, true
		}
	}
	return nil, false
}

func (p *parser) program() (Node, error) {
	block := &Block{At: Pos{Line: 1, Col: 1}, TopLevel: true}
	for {
		p.skipSeparators()
		if p.cur().kind == tokEOF {
			return block, nil
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		block.Stmts = append(block.Stmts, stmt)
		if err := p.endStatement(); err != nil {
			return nil, err
		}
	}
}

func (p *parser) skipSeparators() {
	for p.cur().kind == tokNewline || p.isOp(";") {
		p.next()
	}
}

func (p *parser) endStatement() error {
	t := p.cur()
	switch {
	case t.kind == tokNewline, t.kind == tokEOF, p.isOp(";"), p.isOp("}"):
		return nil
	}
	return p.errorf(t, "unexpected token after statement")
}

func (p *parser) block() (*Block, error) {
	open, err := p.expectOp("{")
	if err != nil {
		return nil, err
	}
	p.pushScope()
	defer p.popScope()

	block := &Block{At: open.pos}
	for {
		p.skipSeparators()
		if p.isOp("}") {
			p.next()
			return block, nil
		}
		if p.cur().kind == tokEOF {
			return nil, p.errorf(p.cur(), "expected \"}\"")
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		block.Stmts = append(block.Stmts, stmt)
		if err := p.endStatement(); err != nil {
			return nil, err
		}
	}
}

func (p *parser) statement() (Node, error) {
	t := p.cur()
	if t.kind == tokKeyword && t.text == "alias" {
		return p.alias()
	}
	if t.kind == tokIdent {
		if n := p.lookahead(1); n.kind == tokOp && n.text == "=" {
			p.next()
			p.next()
			p.skipNewlines()
			value, err := p.expr()
			if err != nil {
				return nil, err
			}
			return &Assign{At: t.pos, Name: t.text, Value: value}, nil
		}
	}
	return p.expr()
}

func (p *parser) alias() (Node, error) {
	at := p.next().pos
	name := p.cur()
	if name.kind != tokModule {
		return nil, p.errorf(name, "expected alias name")
	}
	p.next()
	if _, err := p.expectOp("="); err != nil {
		return nil, err
	}
	if p.cur().kind != tokModule {
		return nil, p.errorf(p.cur(), "expected namespace")
	}
	target := p.namespacePath()
	canonical := target.Path
	if len(target.Target) > 0 {
		canonical = target.Target
	}
	p.aliases[len(p.aliases)-1][name.text] = canonical
	return &Alias{At: at, Name: name.text, Target: target}, nil
}

// namespacePath consumes Module ('.' Module)* and folds a leading alias.
func (p *parser) namespacePath() *NamespaceRef {
	first := p.next()
	ref := &NamespaceRef{At: first.pos, Path: []string{first.text}}
	for p.isOp(".") && p.lookahead(1).kind == tokModule {
		p.next()
		ref.Path = append(ref.Path, p.next().text)
	}
	if target, ok := p.resolveAlias(ref.Path[0]); ok {
		ref.Target = append(append([]string{}, target...), ref.Path[1:]...)
	}
	return ref
}

func (p *parser) expr() (Node, error) {
	defer func() { p.depth-- }()
	if err := p.nest(); err != nil {
		return nil, err
	}
	return p.or()
}

func (p *parser) binaryLevel(ops []string, next func() (Node, error)) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		t := p.cur()
		if t.kind != tokOp || !contains(ops, t.text) {
			return left, nil
		}
		p.next()
		p.skipNewlines()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &Binary{At: t.pos, Op: t.text, Left: left, Right: right}
	}
}

func (p *parser) or() (Node, error) {
	return p.binaryLevel([]string{"||"}, p.and)
}

func (p *parser) and() (Node, error) {
	return p.binaryLevel([]string{"&&"}, p.comparison)
}

func (p *parser) comparison() (Node, error) {
	left, err := p.rangeExpr()
	if err != nil {
		return nil, err
	}
	t := p.cur()
	if t.kind == tokOp && contains([]string{"==", "!=", "<", "<=", ">", ">="}, t.text) {
		p.next()
		p.skipNewlines()
		right, err := p.rangeExpr()
		if err != nil {
			return nil, err
		}
		return &Binary{At: t.pos, Op: t.text, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) rangeExpr() (Node, error) {
	lo, err := p.additive()
	if err != nil {
		return nil, err
	}
	if !p.isOp("..") {
		return lo, nil
	}
	p.next()
	p.skipNewlines()
	hi, err := p.additive()
	if err != nil {
		return nil, err
	}
	loLit, loOK := lo.(*IntLit)
	hiLit, hiOK := hi.(*IntLit)
	if loOK && hiOK {
		return &RangeLiteral{At: lo.Position(), Lo: loLit.Value, Hi: hiLit.Value}, nil
	}
	return &RangeExpr{At: lo.Position(), Lo: lo, Hi: hi}, nil
}

func (p *parser) additive() (Node, error) {
	return p.binaryLevel([]string{"+", "-"}, p.multiplicative)
}

func (p *parser) multiplicative() (Node, error) {
	return p.binaryLevel([]string{"*", "/", "%"}, p.unary)
}

func (p *parser) unary() (Node, error) {
	t := p.cur()
	if t.kind == tokOp && (t.text == "-" || t.text == "!") {
		p.next()
		defer func() { p.depth-- }()
		if err := p.nest(); err != nil {
			return nil, err
		}
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*IntLit); ok && t.text == "-" {
			return &IntLit{At: t.pos, Value: -lit.Value}, nil
		}
		if lit, ok := operand.(*FloatLit); ok && t.text == "-" {
			return &FloatLit{At: t.pos, Value: -lit.Value}, nil
		}
		return &Unary{At: t.pos, Op: t.text, Operand: operand}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (Node, error) {
	var (
		n   Node
		err error
	)
	t := p.cur()
	switch {
	case t.kind == tokIdent && p.lookahead(1).kind == tokOp && p.lookahead(1).text == "(":
		p.next()
		args, err := p.args()
		if err != nil {
			return nil, err
		}
		n = &LocalCall{At: t.pos, Name: t.text, Args: args}
	case t.kind == tokModule:
		n, err = p.namespaceOrRemoteCall()
	default:
		n, err = p.primary()
	}
	if err != nil {
		return nil, err
	}

	for {
		t := p.cur()
		switch {
		case t.kind == tokOp && t.text == "(":
			args, err := p.args()
			if err != nil {
				return nil, err
			}
			n = &AnonymousCall{At: t.pos, Callee: n, Args: args}
		case t.kind == tokOp && t.text == "[":
			p.next()
			p.skipNewlines()
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			p.skipNewlines()
			if _, err := p.expectOp("]"); err != nil {
				return nil, err
			}
			n = &Index{At: t.pos, Target: n, Key: key}
		default:
			return n, nil
		}
	}
}

func (p *parser) namespaceOrRemoteCall() (Node, error) {
	ref := p.namespacePath()
	if !p.isOp(".") {
		return ref, nil
	}
	p.next()
	name := p.cur()
	if name.kind != tokIdent {
		return nil, p.errorf(name, "expected function name")
	}
	p.next()
	if !p.isOp("(") {
		return nil, p.errorf(p.cur(), "expected \"(\" after %s.%s", ref.Canonical(), name.text)
	}
	args, err := p.args()
	if err != nil {
		return nil, err
	}
	return &RemoteCall{At: ref.At, Namespace: ref, Name: name.text, Args: args}, nil
}

func (p *parser) args() ([]Node, error) {
	if _, err := p.expectOp("("); err != nil {
		return nil, err
	}
	return p.sequence(")")
}

// sequence parses comma separated expressions up to and including closer.
func (p *parser) sequence(closer string) ([]Node, error) {
	var out []Node
	for {
		p.skipNewlines()
		if p.isOp(closer) {
			p.next()
			return out, nil
		}
		item, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, item)
		p.skipNewlines()
		if p.isOp(",") {
			p.next()
			continue
		}
		if _, err := p.expectOp(closer); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (p *parser) primary() (Node, error) {
	p.skipNewlines()
	t := p.cur()
	switch t.kind {
	case tokInt:
		p.next()
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errorf(t, "integer out of range")
		}
		return &IntLit{At: t.pos, Value: v}, nil
	case tokFloat:
		p.next()
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid number")
		}
		return &FloatLit{At: t.pos, Value: v}, nil
	case tokString:
		p.next()
		return &StringLit{At: t.pos, Value: t.text}, nil
	case tokIdent:
		p.next()
		return &Ident{At: t.pos, Name: t.text}, nil
	case tokKeyword:
		return p.keyword()
	case tokOp:
		switch t.text {
		case "(":
			p.next()
			p.skipNewlines()
			inner, err := p.expr()
			if err != nil {
				return nil, err
			}
			p.skipNewlines()
			if _, err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			p.next()
			items, err := p.sequence("]")
			if err != nil {
				return nil, err
			}
			return &ListLit{At: t.pos, Items: items}, nil
		case "{":
			return p.block()
		}
	}
	return nil, p.errorf(t, "unexpected token")
}

func (p *parser) keyword() (Node, error) {
	t := p.next()
	switch t.text {
	case "true", "false":
		return &BoolLit{At: t.pos, Value: t.text == "true"}, nil
	case "nil":
		return &NilLit{At: t.pos}, nil
	case "fn":
		return p.funcLit(t.pos)
	case "if":
		return p.ifExpr(t.pos)
	case "while":
		cond, err := p.expr()
		if err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		return &While{At: t.pos, Cond: cond, Body: body}, nil
	case "for":
		v := p.cur()
		if v.kind != tokIdent {
			return nil, p.errorf(v, "expected loop variable")
		}
		p.next()
		if !p.isKeyword("in") {
			return nil, p.errorf(p.cur(), "expected \"in\"")
		}
		p.next()
		iter, err := p.expr()
		if err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		return &For{At: t.pos, Var: v.text, Iter: iter, Body: body}, nil
	}
	return nil, p.errorf(t, "unexpected keyword")
}

func (p *parser) funcLit(at Pos) (Node, error) {
	if _, err := p.expectOp("("); err != nil {
		return nil, err
	}
	var params []string
	for {
		p.skipNewlines()
		if p.isOp(")") {
			p.next()
			break
		}
		t := p.cur()
		if t.kind != tokIdent {
			return nil, p.errorf(t, "expected parameter name")
		}
		p.next()
		params = append(params, t.text)
		p.skipNewlines()
		if p.isOp(",") {
			p.next()
			continue
		}
		if _, err := p.expectOp(")"); err != nil {
			return nil, err
		}
		break
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &FuncLit{At: at, Params: params, Body: body}, nil
}

func (p *parser) ifExpr(at Pos) (Node, error) {
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	then, err := p.block()
	if err != nil {
		return nil, err
	}
	node := &If{At: at, Cond: cond, Then: then}
	if !p.isKeyword("else") {
		return node, nil
	}
	p.next()
	if p.isKeyword("if") {
		elseIf, err := p.ifExpr(p.next().pos)
		if err != nil {
			return nil, err
		}
		node.Else = elseIf
		return node, nil
	}
	elseBlock, err := p.block()
	if err != nil {
		return nil, err
	}
	node.Else = elseBlock
	return node, nil
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
