// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pyast

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Parser converts Python source into the typed tree via Tree-sitter.
// Tree-sitter parsers are not thread-safe, so instances are pooled; a single
// Parser is safe for concurrent use.
type Parser struct {
	logger *slog.Logger
	pool   sync.Pool
	init   sync.Once
}

// NewParser creates a pooled Python parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

func (p *Parser) initPool() {
	p.init.Do(func() {
		p.pool.New = func() any {
			parser := sitter.NewParser()
			parser.SetLanguage(python.GetLanguage())
			return parser
		}
	})
}

// Parse parses content and builds the typed module tree. The context bounds
// parse time; a cancelled or expired context surfaces as a parse error.
// Source with syntax errors is rejected the way a strict surface parser
// would reject it.
func (p *Parser) Parse(ctx context.Context, content []byte, path string) (*Module, error) {
	p.initPool()

	parserObj := p.pool.Get()
	parser, ok := parserObj.(*sitter.Parser)
	if !ok {
		return nil, fmt.Errorf("invalid parser type from pool")
	}
	defer p.pool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		count := countErrors(root)
		p.logger.Debug("pyast.parse.syntax_errors", "path", path, "error_count", count)
		return nil, fmt.Errorf("syntax errors in %s (%d error nodes)", path, count)
	}

	b := &builder{src: content}
	return &Module{Body: b.stmts(root)}, nil
}

// countErrors counts ERROR nodes in the CST.
func countErrors(node *sitter.Node) int {
	count := 0
	if node.Type() == "ERROR" || node.IsMissing() {
		count++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		count += countErrors(node.Child(i))
	}
	return count
}

// ---------------------------------------------------------------------------
// CST -> typed tree
// ---------------------------------------------------------------------------

type builder struct {
	src []byte
}

func (b *builder) text(n *sitter.Node) string {
	return string(b.src[n.StartByte():n.EndByte()])
}

func span(n *sitter.Node) Span {
	return Span{
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
}

func hasTokenChild(n *sitter.Node, token string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if !c.IsNamed() && c.Type() == token {
			return true
		}
	}
	return false
}

// stmts converts the statement children of a block-like node, dropping a
// leading string-literal expression statement (docstring).
func (b *builder) stmts(n *sitter.Node) []Stmt {
	if n == nil {
		return nil
	}
	var out []Stmt
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		s := b.stmt(child)
		if s == nil {
			continue
		}
		if len(out) == 0 {
			if es, ok := s.(*ExprStmt); ok {
				if c, ok := es.Value.(*Constant); ok && c.Kind == "str" {
					continue
				}
			}
		}
		out = append(out, s)
	}
	return out
}

func (b *builder) stmt(n *sitter.Node) Stmt {
	switch n.Type() {
	case "expression_statement":
		return b.exprStatement(n)
	case "return_statement":
		r := &Return{Span: span(n)}
		if v := firstExprChild(n); v != nil {
			r.Value = b.expr(v)
		}
		return r
	case "raise_statement":
		r := &Raise{Span: span(n)}
		if v := firstExprChild(n); v != nil {
			r.Exc = b.expr(v)
		}
		if cause := n.ChildByFieldName("cause"); cause != nil {
			r.Cause = b.expr(cause)
		}
		return r
	case "pass_statement":
		return &Pass{Span: span(n)}
	case "break_statement":
		return &Break{Span: span(n)}
	case "continue_statement":
		return &Continue{Span: span(n)}
	case "if_statement":
		return b.ifStatement(n)
	case "while_statement":
		w := &While{Span: span(n)}
		w.Test = b.expr(n.ChildByFieldName("condition"))
		w.Body = b.stmts(n.ChildByFieldName("body"))
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			w.Orelse = b.stmts(alt.ChildByFieldName("body"))
		}
		return w
	case "for_statement":
		f := &For{Span: span(n), Async: hasTokenChild(n, "async")}
		f.Target = b.expr(n.ChildByFieldName("left"))
		f.Iter = b.expr(n.ChildByFieldName("right"))
		f.Body = b.stmts(n.ChildByFieldName("body"))
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			f.Orelse = b.stmts(alt.ChildByFieldName("body"))
		}
		return f
	case "with_statement":
		return b.withStatement(n)
	case "try_statement":
		return b.tryStatement(n)
	case "match_statement":
		return b.matchStatement(n)
	case "import_statement", "import_from_statement", "future_import_statement":
		return &Import{Span: span(n)}
	case "global_statement":
		return &Global{Span: span(n)}
	case "nonlocal_statement":
		return &Nonlocal{Span: span(n)}
	case "delete_statement":
		d := &Delete{Span: span(n)}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			d.Targets = append(d.Targets, b.exprListItems(n.NamedChild(i))...)
		}
		return d
	case "assert_statement":
		a := &Assert{Span: span(n)}
		if n.NamedChildCount() > 0 {
			a.Test = b.expr(n.NamedChild(0))
		}
		if n.NamedChildCount() > 1 {
			a.Msg = b.expr(n.NamedChild(1))
		}
		return a
	case "function_definition":
		return b.functionDef(n)
	case "class_definition":
		c := &ClassDef{Span: span(n)}
		if name := n.ChildByFieldName("name"); name != nil {
			c.Name = b.text(name)
		}
		c.Body = b.stmts(n.ChildByFieldName("body"))
		return c
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			return b.stmt(def)
		}
		return b.opaqueStmt(n)
	default:
		return b.opaqueStmt(n)
	}
}

// exprStatement maps expression_statement, whose single child may be an
// assignment, augmented assignment, or plain expression.
func (b *builder) exprStatement(n *sitter.Node) Stmt {
	if n.NamedChildCount() == 0 {
		return b.opaqueStmt(n)
	}
	inner := n.NamedChild(0)
	switch inner.Type() {
	case "assignment":
		return b.assignment(n, inner)
	case "augmented_assignment":
		op := ""
		if opNode := inner.ChildByFieldName("operator"); opNode != nil {
			op = strings.TrimSuffix(b.text(opNode), "=")
		}
		return &AugAssign{
			Span:   span(n),
			Target: b.expr(inner.ChildByFieldName("left")),
			Op:     op,
			Value:  b.expr(inner.ChildByFieldName("right")),
		}
	default:
		return &ExprStmt{Span: span(n), Value: b.expr(inner)}
	}
}

// assignment handles chained targets (a = b = v) and annotated assignments.
// Annotations are discarded; an annotation-only statement maps to AnnAssign
// with a nil value.
func (b *builder) assignment(stmtNode, n *sitter.Node) Stmt {
	hasAnn := n.ChildByFieldName("type") != nil
	var targets []Expr
	cur := n
	for {
		targets = append(targets, b.expr(cur.ChildByFieldName("left")))
		right := cur.ChildByFieldName("right")
		if right != nil && right.Type() == "assignment" {
			cur = right
			continue
		}
		var value Expr
		if right != nil {
			value = b.expr(right)
		}
		if hasAnn {
			return &AnnAssign{Span: span(stmtNode), Target: targets[0], Value: value}
		}
		if value == nil {
			return &AnnAssign{Span: span(stmtNode), Target: targets[0]}
		}
		return &Assign{Span: span(stmtNode), Targets: targets, Value: value}
	}
}

func (b *builder) ifStatement(n *sitter.Node) Stmt {
	out := &If{Span: span(n)}
	out.Test = b.expr(n.ChildByFieldName("condition"))
	out.Body = b.stmts(n.ChildByFieldName("consequence"))

	// elif chains nest; else attaches to the innermost if.
	cur := out
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "elif_clause":
			next := &If{Span: span(child)}
			next.Test = b.expr(child.ChildByFieldName("condition"))
			next.Body = b.stmts(child.ChildByFieldName("consequence"))
			cur.Orelse = []Stmt{next}
			cur = next
		case "else_clause":
			cur.Orelse = b.stmts(child.ChildByFieldName("body"))
		}
	}
	return out
}

func (b *builder) withStatement(n *sitter.Node) Stmt {
	w := &With{Span: span(n), Async: hasTokenChild(n, "async")}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() != "with_clause" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			item := child.NamedChild(j)
			if item.Type() != "with_item" {
				continue
			}
			value := item.ChildByFieldName("value")
			if value == nil && item.NamedChildCount() > 0 {
				value = item.NamedChild(0)
			}
			if value != nil {
				w.Items = append(w.Items, WithItem{Context: b.expr(unwrapAsPattern(value))})
			}
		}
	}
	w.Body = b.stmts(n.ChildByFieldName("body"))
	return w
}

// unwrapAsPattern strips `expr as name` down to expr.
func unwrapAsPattern(n *sitter.Node) *sitter.Node {
	if n != nil && n.Type() == "as_pattern" && n.NamedChildCount() > 0 {
		return n.NamedChild(0)
	}
	return n
}

func (b *builder) tryStatement(n *sitter.Node) Stmt {
	t := &Try{Span: span(n)}
	t.Body = b.stmts(n.ChildByFieldName("body"))
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "except_clause", "except_group_clause":
			h := ExceptHandler{}
			for j := 0; j < int(child.NamedChildCount()); j++ {
				sub := child.NamedChild(j)
				if sub.Type() == "block" {
					h.Body = b.stmts(sub)
				} else if h.Type == nil {
					h.Type = b.expr(unwrapAsPattern(sub))
				}
			}
			t.Handlers = append(t.Handlers, h)
		case "else_clause":
			t.Orelse = b.stmts(child.ChildByFieldName("body"))
		case "finally_clause":
			// finally_clause has a single block child.
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if child.NamedChild(j).Type() == "block" {
					t.Final = b.stmts(child.NamedChild(j))
				}
			}
		}
	}
	return t
}

func (b *builder) matchStatement(n *sitter.Node) Stmt {
	m := &Match{Span: span(n)}
	if subj := n.ChildByFieldName("subject"); subj != nil {
		m.Subject = b.expr(subj)
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return m
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		clause := body.NamedChild(i)
		if clause.Type() != "case_clause" {
			continue
		}
		mc := MatchCase{}
		var patterns []string
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			sub := clause.NamedChild(j)
			switch sub.Type() {
			case "case_pattern":
				patterns = append(patterns, patternDump(sub, b.src))
			case "if_clause":
				if sub.NamedChildCount() > 0 {
					mc.Guard = b.expr(sub.NamedChild(0))
				}
			case "block":
				mc.Body = b.stmts(sub)
			}
		}
		if cons := clause.ChildByFieldName("consequence"); cons != nil {
			mc.Body = b.stmts(cons)
		}
		mc.Pattern = strings.Join(patterns, ",")
		m.Cases = append(m.Cases, mc)
	}
	return m
}

// patternDump renders a case pattern as a structural descriptor. Patterns
// are matched verbatim across clones: names and literal values inside a
// pattern are part of the match semantics, so they are preserved.
func patternDump(n *sitter.Node, src []byte) string {
	if n.NamedChildCount() == 0 {
		return n.Type() + "(" + string(src[n.StartByte():n.EndByte()]) + ")"
	}
	parts := make([]string, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		parts = append(parts, patternDump(n.NamedChild(i), src))
	}
	return n.Type() + "(" + strings.Join(parts, ",") + ")"
}

func (b *builder) functionDef(n *sitter.Node) Stmt {
	f := &FunctionDef{Span: span(n), Async: hasTokenChild(n, "async")}
	if name := n.ChildByFieldName("name"); name != nil {
		f.Name = b.text(name)
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			switch p.Type() {
			case "identifier":
				f.Params = append(f.Params, Param{Name: b.text(p)})
			case "typed_parameter", "default_parameter", "typed_default_parameter":
				if id := firstIdentifier(p); id != nil {
					f.Params = append(f.Params, Param{Name: b.text(id)})
				}
			case "list_splat_pattern", "dictionary_splat_pattern":
				if id := firstIdentifier(p); id != nil {
					f.Params = append(f.Params, Param{Name: b.text(id)})
				}
			}
		}
	}
	f.Body = b.stmts(n.ChildByFieldName("body"))
	return f
}

func firstIdentifier(n *sitter.Node) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "identifier" {
			return c
		}
	}
	return nil
}

// firstExprChild returns the first named child that is not a block or
// clause node.
func firstExprChild(n *sitter.Node) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "block", "comment", "elif_clause", "else_clause", "except_clause", "finally_clause":
			continue
		}
		return c
	}
	return nil
}

func (b *builder) opaqueStmt(n *sitter.Node) Stmt {
	o := &OpaqueStmt{Span: span(n), Kind: n.Type()}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "block" || c.Type() == "comment" {
			continue
		}
		o.Children = append(o.Children, b.expr(c))
	}
	return o
}

// exprListItems flattens expression_list nodes into their elements.
func (b *builder) exprListItems(n *sitter.Node) []Expr {
	if n.Type() != "expression_list" {
		return []Expr{b.expr(n)}
	}
	var out []Expr
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, b.expr(n.NamedChild(i)))
	}
	return out
}

func (b *builder) expr(n *sitter.Node) Expr {
	if n == nil {
		return &OpaqueExpr{Kind: "missing"}
	}
	switch n.Type() {
	case "identifier":
		return &Name{ID: b.text(n)}
	case "attribute":
		return &Attribute{
			Value: b.expr(n.ChildByFieldName("object")),
			Attr:  fieldText(b, n, "attribute"),
		}
	case "call":
		return b.call(n)
	case "string", "concatenated_string":
		return b.stringExpr(n)
	case "integer":
		return &Constant{Kind: "int", Raw: b.text(n)}
	case "float":
		return &Constant{Kind: "float", Raw: b.text(n)}
	case "true", "false":
		return &Constant{Kind: "bool", Raw: b.text(n)}
	case "none":
		return &Constant{Kind: "none", Raw: "None"}
	case "ellipsis":
		return &Constant{Kind: "ellipsis", Raw: "..."}
	case "binary_operator":
		return &BinOp{
			Left:  b.expr(n.ChildByFieldName("left")),
			Op:    fieldText(b, n, "operator"),
			Right: b.expr(n.ChildByFieldName("right")),
		}
	case "boolean_operator":
		return b.boolOp(n)
	case "not_operator":
		return &UnaryOp{Op: "not", Operand: b.expr(n.ChildByFieldName("argument"))}
	case "unary_operator":
		return &UnaryOp{
			Op:      fieldText(b, n, "operator"),
			Operand: b.expr(n.ChildByFieldName("argument")),
		}
	case "comparison_operator":
		return b.comparison(n)
	case "subscript":
		sub := &Subscript{Value: b.expr(n.ChildByFieldName("value"))}
		var indexes []Expr
		for i := 0; i < int(n.ChildCount()); i++ {
			if n.FieldNameForChild(i) == "subscript" {
				indexes = append(indexes, b.expr(n.Child(i)))
			}
		}
		if len(indexes) == 1 {
			sub.Index = indexes[0]
		} else {
			sub.Index = &Tuple{Elts: indexes}
		}
		return sub
	case "slice":
		return b.slice(n)
	case "tuple", "expression_list", "pattern_list", "tuple_pattern":
		t := &Tuple{}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			t.Elts = append(t.Elts, b.expr(n.NamedChild(i)))
		}
		return t
	case "list", "list_pattern":
		l := &List{}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			l.Elts = append(l.Elts, b.expr(n.NamedChild(i)))
		}
		return l
	case "set":
		s := &Set{}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			s.Elts = append(s.Elts, b.expr(n.NamedChild(i)))
		}
		return s
	case "dictionary":
		d := &Dict{}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "pair" {
				d.Keys = append(d.Keys, b.expr(c.ChildByFieldName("key")))
				d.Values = append(d.Values, b.expr(c.ChildByFieldName("value")))
			} else {
				// dictionary_splat and friends keep their expressions.
				d.Keys = append(d.Keys, &OpaqueExpr{Kind: c.Type()})
				d.Values = append(d.Values, b.expr(firstExprChild(c)))
			}
		}
		return d
	case "lambda":
		return &Lambda{Body: b.expr(n.ChildByFieldName("body"))}
	case "await":
		return &Await{Value: b.expr(firstExprChild(n))}
	case "yield":
		if hasTokenChild(n, "from") {
			return &YieldFrom{Value: b.expr(firstExprChild(n))}
		}
		y := &Yield{}
		if v := firstExprChild(n); v != nil {
			y.Value = b.expr(v)
		}
		return y
	case "conditional_expression":
		// body if test else orelse; named children appear in source order.
		if n.NamedChildCount() == 3 {
			return &IfExp{
				Body:   b.expr(n.NamedChild(0)),
				Test:   b.expr(n.NamedChild(1)),
				Orelse: b.expr(n.NamedChild(2)),
			}
		}
		return b.opaqueExpr(n)
	case "named_expression":
		return &NamedExpr{
			Target: b.expr(n.ChildByFieldName("name")),
			Value:  b.expr(n.ChildByFieldName("value")),
		}
	case "list_splat", "dictionary_splat", "splat_pattern":
		return &Starred{Value: b.expr(firstExprChild(n))}
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			return b.expr(n.NamedChild(0))
		}
		return b.opaqueExpr(n)
	case "as_pattern":
		return b.expr(unwrapAsPattern(n))
	default:
		return b.opaqueExpr(n)
	}
}

func fieldText(b *builder, n *sitter.Node, field string) string {
	if c := n.ChildByFieldName(field); c != nil {
		return b.text(c)
	}
	return ""
}

func (b *builder) call(n *sitter.Node) Expr {
	c := &Call{Func: b.expr(n.ChildByFieldName("function"))}
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return c
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() == "keyword_argument" {
			c.Keywords = append(c.Keywords, Keyword{
				Arg:   fieldText(b, arg, "name"),
				Value: b.expr(arg.ChildByFieldName("value")),
			})
		} else {
			c.Args = append(c.Args, b.expr(arg))
		}
	}
	return c
}

// boolOp flattens nested same-operator chains: a and b and c becomes one
// BoolOp with three values, matching how conditions are split in the CFG.
func (b *builder) boolOp(n *sitter.Node) Expr {
	op := fieldText(b, n, "operator")
	out := &BoolOp{Op: op}
	var collect func(node *sitter.Node)
	collect = func(node *sitter.Node) {
		if node.Type() == "boolean_operator" && fieldText(b, node, "operator") == op {
			collect(node.ChildByFieldName("left"))
			collect(node.ChildByFieldName("right"))
			return
		}
		out.Values = append(out.Values, b.expr(node))
	}
	collect(n.ChildByFieldName("left"))
	collect(n.ChildByFieldName("right"))
	return out
}

func (b *builder) comparison(n *sitter.Node) Expr {
	cmp := &Compare{}
	var operands []Expr
	for i := 0; i < int(n.NamedChildCount()); i++ {
		operands = append(operands, b.expr(n.NamedChild(i)))
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.FieldNameForChild(i) == "operators" {
			cmp.Ops = append(cmp.Ops, n.Child(i).Type())
		}
	}
	if len(operands) == 0 {
		return b.opaqueExpr(n)
	}
	cmp.Left = operands[0]
	cmp.Comparators = operands[1:]
	return cmp
}

// slice assigns named children to lower/upper/step slots by counting the
// ':' tokens that precede them.
func (b *builder) slice(n *sitter.Node) Expr {
	s := &Slice{}
	slot := 0
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if !c.IsNamed() {
			if c.Type() == ":" {
				slot++
			}
			continue
		}
		e := b.expr(c)
		switch slot {
		case 0:
			s.Lower = e
		case 1:
			s.Upper = e
		default:
			s.Step = e
		}
	}
	return s
}

func (b *builder) stringExpr(n *sitter.Node) Expr {
	// f-strings surface their interpolations; plain strings are constants.
	var interps []Expr
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			c := node.NamedChild(i)
			if c.Type() == "interpolation" {
				if e := c.ChildByFieldName("expression"); e != nil {
					interps = append(interps, b.expr(e))
				} else if e := firstExprChild(c); e != nil {
					interps = append(interps, b.expr(e))
				}
				continue
			}
			walk(c)
		}
	}
	walk(n)
	if len(interps) > 0 {
		return &JoinedStr{Values: interps}
	}
	return &Constant{Kind: "str", Raw: b.text(n)}
}

func (b *builder) opaqueExpr(n *sitter.Node) Expr {
	o := &OpaqueExpr{Kind: n.Type()}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		o.Children = append(o.Children, b.expr(c))
	}
	return o
}
