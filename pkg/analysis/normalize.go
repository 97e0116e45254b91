// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package analysis implements the structural core of codeclone: the
// normalizer that erases surface noise from the typed tree, the CFG builder,
// fingerprinting, and block/segment window extraction.
package analysis

import (
	"strings"

	"github.com/kraklabs/codeclone/pkg/pyast"
)

// MetaPrefix namespaces synthetic markers injected by the CFG builder.
// It contains ':' characters, so no identifier parsed from source can
// collide with it.
const MetaPrefix = "__CC_META__::"

// Sentinels substituted for erased surface names.
const (
	varSentinel   = "_VAR_"
	attrSentinel  = "_ATTR_"
	constSentinel = "_CONST_"
)

// commutativeOps are the operators whose operands may be reordered when
// both sides are side-effect-free.
var commutativeOps = map[string]bool{
	"+": true,
	"*": true,
	"|": true,
	"&": true,
	"^": true,
}

// Config controls which normalization rewrites apply. The zero value
// disables everything; DefaultConfig enables the full set used for
// fingerprinting.
type Config struct {
	NormalizeNames      bool
	NormalizeAttributes bool
	NormalizeConstants  bool
	CanonicalOrdering   bool
}

// DefaultConfig returns the normalization applied during analysis runs.
func DefaultConfig() Config {
	return Config{
		NormalizeNames:      true,
		NormalizeAttributes: true,
		NormalizeConstants:  true,
		CanonicalOrdering:   true,
	}
}

// DumpStmts renders a statement list to its canonical normalized form,
// one statement per ';'-separated segment.
func DumpStmts(stmts []pyast.Stmt, cfg Config) string {
	parts := make([]string, 0, len(stmts))
	for _, s := range stmts {
		parts = append(parts, DumpStmt(s, cfg))
	}
	return strings.Join(parts, ";")
}

// DumpStmt renders one statement to its canonical normalized form.
// Structurally equivalent statements produce byte-identical dumps.
func DumpStmt(s pyast.Stmt, cfg Config) string {
	var sb strings.Builder
	dumpStmt(&sb, s, cfg)
	return sb.String()
}

func dumpStmt(sb *strings.Builder, s pyast.Stmt, cfg Config) {
	switch v := s.(type) {
	case *pyast.ExprStmt:
		sb.WriteString("Expr(")
		dumpExpr(sb, v.Value, cfg)
		sb.WriteByte(')')
	case *pyast.Assign:
		dumpAssign(sb, v.Targets, v.Value, cfg)
	case *pyast.AugAssign:
		// x op= y is rewritten as x = x op y before dumping, so the two
		// spellings collapse to one form.
		expanded := &pyast.BinOp{Left: v.Target, Op: v.Op, Right: v.Value}
		dumpAssign(sb, []pyast.Expr{v.Target}, expanded, cfg)
	case *pyast.AnnAssign:
		if v.Value != nil {
			dumpAssign(sb, []pyast.Expr{v.Target}, v.Value, cfg)
			return
		}
		sb.WriteString("AnnDecl(")
		dumpExpr(sb, v.Target, cfg)
		sb.WriteByte(')')
	case *pyast.Return:
		sb.WriteString("Return(")
		dumpOptExpr(sb, v.Value, cfg)
		sb.WriteByte(')')
	case *pyast.Raise:
		sb.WriteString("Raise(")
		dumpOptExpr(sb, v.Exc, cfg)
		if v.Cause != nil {
			sb.WriteString(",from=")
			dumpExpr(sb, v.Cause, cfg)
		}
		sb.WriteByte(')')
	case *pyast.Pass:
		sb.WriteString("Pass")
	case *pyast.Break:
		sb.WriteString("Break")
	case *pyast.Continue:
		sb.WriteString("Continue")
	case *pyast.If:
		sb.WriteString("If(test=")
		dumpExpr(sb, v.Test, cfg)
		sb.WriteString(",body=[")
		sb.WriteString(DumpStmts(v.Body, cfg))
		sb.WriteString("],orelse=[")
		sb.WriteString(DumpStmts(v.Orelse, cfg))
		sb.WriteString("])")
	case *pyast.While:
		sb.WriteString("While(test=")
		dumpExpr(sb, v.Test, cfg)
		sb.WriteString(",body=[")
		sb.WriteString(DumpStmts(v.Body, cfg))
		sb.WriteString("],orelse=[")
		sb.WriteString(DumpStmts(v.Orelse, cfg))
		sb.WriteString("])")
	case *pyast.For:
		if v.Async {
			sb.WriteString("AsyncFor(")
		} else {
			sb.WriteString("For(")
		}
		sb.WriteString("target=")
		dumpExpr(sb, v.Target, cfg)
		sb.WriteString(",iter=")
		dumpExpr(sb, v.Iter, cfg)
		sb.WriteString(",body=[")
		sb.WriteString(DumpStmts(v.Body, cfg))
		sb.WriteString("],orelse=[")
		sb.WriteString(DumpStmts(v.Orelse, cfg))
		sb.WriteString("])")
	case *pyast.With:
		if v.Async {
			sb.WriteString("AsyncWith(")
		} else {
			sb.WriteString("With(")
		}
		sb.WriteString("items=[")
		for i, item := range v.Items {
			if i > 0 {
				sb.WriteByte(',')
			}
			dumpExpr(sb, item.Context, cfg)
		}
		sb.WriteString("],body=[")
		sb.WriteString(DumpStmts(v.Body, cfg))
		sb.WriteString("])")
	case *pyast.Try:
		sb.WriteString("Try(body=[")
		sb.WriteString(DumpStmts(v.Body, cfg))
		sb.WriteString("],handlers=[")
		for i, h := range v.Handlers {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("Handler(type=")
			if h.Type != nil {
				sb.WriteString(RawExprDump(h.Type))
			} else {
				sb.WriteString("BARE")
			}
			sb.WriteString(",body=[")
			sb.WriteString(DumpStmts(h.Body, cfg))
			sb.WriteString("])")
		}
		sb.WriteString("],orelse=[")
		sb.WriteString(DumpStmts(v.Orelse, cfg))
		sb.WriteString("],final=[")
		sb.WriteString(DumpStmts(v.Final, cfg))
		sb.WriteString("])")
	case *pyast.Match:
		sb.WriteString("Match(subject=")
		dumpOptExpr(sb, v.Subject, cfg)
		sb.WriteString(",cases=[")
		for i, c := range v.Cases {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("Case(pattern=")
			sb.WriteString(c.Pattern)
			if c.Guard != nil {
				sb.WriteString(",guard=")
				dumpExpr(sb, c.Guard, cfg)
			}
			sb.WriteString(",body=[")
			sb.WriteString(DumpStmts(c.Body, cfg))
			sb.WriteString("])")
		}
		sb.WriteString("])")
	case *pyast.Import:
		sb.WriteString("Import")
	case *pyast.Global:
		sb.WriteString("Global")
	case *pyast.Nonlocal:
		sb.WriteString("Nonlocal")
	case *pyast.Delete:
		sb.WriteString("Delete([")
		dumpExprList(sb, v.Targets, cfg)
		sb.WriteString("])")
	case *pyast.Assert:
		sb.WriteString("Assert(")
		dumpExpr(sb, v.Test, cfg)
		if v.Msg != nil {
			sb.WriteByte(',')
			dumpExpr(sb, v.Msg, cfg)
		}
		sb.WriteByte(')')
	case *pyast.FunctionDef:
		// Nested defs keep their name (it is a call target for siblings)
		// but erase parameters like any other local binding.
		sb.WriteString("FunctionDef(name=")
		sb.WriteString(v.Name)
		sb.WriteString(",params=")
		sb.WriteString(paramsDump(v.Params, cfg))
		sb.WriteString(",async=")
		sb.WriteString(boolStr(v.Async))
		sb.WriteString(",body=[")
		sb.WriteString(DumpStmts(v.Body, cfg))
		sb.WriteString("])")
	case *pyast.ClassDef:
		sb.WriteString("ClassDef(name=")
		sb.WriteString(v.Name)
		sb.WriteString(",body=[")
		sb.WriteString(DumpStmts(v.Body, cfg))
		sb.WriteString("])")
	case *pyast.OpaqueStmt:
		sb.WriteString("Stmt:")
		sb.WriteString(v.Kind)
		sb.WriteString("([")
		dumpExprList(sb, v.Children, cfg)
		sb.WriteString("])")
	default:
		sb.WriteString("Stmt:unknown")
	}
}

func dumpAssign(sb *strings.Builder, targets []pyast.Expr, value pyast.Expr, cfg Config) {
	sb.WriteString("Assign(targets=[")
	dumpExprList(sb, targets, cfg)
	sb.WriteString("],value=")
	dumpExpr(sb, value, cfg)
	sb.WriteByte(')')
}

func dumpExprList(sb *strings.Builder, exprs []pyast.Expr, cfg Config) {
	for i, e := range exprs {
		if i > 0 {
			sb.WriteByte(',')
		}
		dumpExpr(sb, e, cfg)
	}
}

func dumpOptExpr(sb *strings.Builder, e pyast.Expr, cfg Config) {
	if e == nil {
		sb.WriteString("None")
		return
	}
	dumpExpr(sb, e, cfg)
}

func paramsDump(params []pyast.Param, cfg Config) string {
	if !cfg.NormalizeNames {
		names := make([]string, len(params))
		for i, p := range params {
			names[i] = p.Name
		}
		return "[" + strings.Join(names, ",") + "]"
	}
	return "[" + strings.Repeat(varSentinel+",", len(params)) + "]"
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// DumpExpr renders one expression to its canonical normalized form.
func DumpExpr(e pyast.Expr, cfg Config) string {
	var sb strings.Builder
	dumpExpr(&sb, e, cfg)
	return sb.String()
}

func dumpExpr(sb *strings.Builder, e pyast.Expr, cfg Config) {
	switch v := e.(type) {
	case nil:
		sb.WriteString("None")
	case *pyast.Name:
		sb.WriteString("Name(")
		if !cfg.NormalizeNames || strings.HasPrefix(v.ID, MetaPrefix) {
			sb.WriteString(v.ID)
		} else {
			sb.WriteString(varSentinel)
		}
		sb.WriteByte(')')
	case *pyast.Attribute:
		sb.WriteString("Attr(")
		dumpExpr(sb, v.Value, cfg)
		sb.WriteByte(',')
		if cfg.NormalizeAttributes {
			sb.WriteString(attrSentinel)
		} else {
			sb.WriteString(v.Attr)
		}
		sb.WriteByte(')')
	case *pyast.Constant:
		sb.WriteString("Const(")
		if cfg.NormalizeConstants {
			sb.WriteString(constSentinel)
		} else {
			sb.WriteString(v.Kind)
			sb.WriteByte(':')
			sb.WriteString(v.Raw)
		}
		sb.WriteByte(')')
	case *pyast.Call:
		dumpCall(sb, v, cfg)
	case *pyast.BinOp:
		dumpBinOp(sb, v, cfg)
	case *pyast.BoolOp:
		sb.WriteString("BoolOp(")
		sb.WriteString(v.Op)
		sb.WriteString(",[")
		dumpExprList(sb, v.Values, cfg)
		sb.WriteString("])")
	case *pyast.UnaryOp:
		dumpUnaryOp(sb, v, cfg)
	case *pyast.Compare:
		dumpCompare(sb, v.Left, v.Ops, v.Comparators, cfg)
	case *pyast.Subscript:
		sb.WriteString("Subscript(")
		dumpExpr(sb, v.Value, cfg)
		sb.WriteByte(',')
		dumpExpr(sb, v.Index, cfg)
		sb.WriteByte(')')
	case *pyast.Tuple:
		sb.WriteString("Tuple([")
		dumpExprList(sb, v.Elts, cfg)
		sb.WriteString("])")
	case *pyast.List:
		sb.WriteString("List([")
		dumpExprList(sb, v.Elts, cfg)
		sb.WriteString("])")
	case *pyast.Set:
		sb.WriteString("Set([")
		dumpExprList(sb, v.Elts, cfg)
		sb.WriteString("])")
	case *pyast.Dict:
		sb.WriteString("Dict(keys=[")
		dumpExprList(sb, v.Keys, cfg)
		sb.WriteString("],values=[")
		dumpExprList(sb, v.Values, cfg)
		sb.WriteString("])")
	case *pyast.Lambda:
		sb.WriteString("Lambda(")
		dumpExpr(sb, v.Body, cfg)
		sb.WriteByte(')')
	case *pyast.Await:
		sb.WriteString("Await(")
		dumpExpr(sb, v.Value, cfg)
		sb.WriteByte(')')
	case *pyast.Yield:
		sb.WriteString("Yield(")
		dumpOptExpr(sb, v.Value, cfg)
		sb.WriteByte(')')
	case *pyast.YieldFrom:
		sb.WriteString("YieldFrom(")
		dumpExpr(sb, v.Value, cfg)
		sb.WriteByte(')')
	case *pyast.IfExp:
		sb.WriteString("IfExp(test=")
		dumpExpr(sb, v.Test, cfg)
		sb.WriteString(",body=")
		dumpExpr(sb, v.Body, cfg)
		sb.WriteString(",orelse=")
		dumpExpr(sb, v.Orelse, cfg)
		sb.WriteByte(')')
	case *pyast.Starred:
		sb.WriteString("Starred(")
		dumpExpr(sb, v.Value, cfg)
		sb.WriteByte(')')
	case *pyast.Slice:
		sb.WriteString("Slice(")
		dumpOptExpr(sb, v.Lower, cfg)
		sb.WriteByte(',')
		dumpOptExpr(sb, v.Upper, cfg)
		sb.WriteByte(',')
		dumpOptExpr(sb, v.Step, cfg)
		sb.WriteByte(')')
	case *pyast.NamedExpr:
		sb.WriteString("NamedExpr(")
		dumpExpr(sb, v.Target, cfg)
		sb.WriteByte(',')
		dumpExpr(sb, v.Value, cfg)
		sb.WriteByte(')')
	case *pyast.JoinedStr:
		sb.WriteString("JoinedStr([")
		dumpExprList(sb, v.Values, cfg)
		sb.WriteString("])")
	case *pyast.OpaqueExpr:
		sb.WriteString("Expr:")
		sb.WriteString(v.Kind)
		sb.WriteString("([")
		dumpExprList(sb, v.Children, cfg)
		sb.WriteString("])")
	default:
		sb.WriteString("Expr:unknown")
	}
}

// dumpCall preserves the tail identifier of simple and dotted call targets
// so load_user(...) and delete_user(...) stay distinct shapes.
func dumpCall(sb *strings.Builder, v *pyast.Call, cfg Config) {
	sb.WriteString("Call(func=")
	if tail, ok := callTail(v.Func); ok && cfg.NormalizeNames {
		sb.WriteString("_CALL_")
		sb.WriteString(tail)
		sb.WriteByte('_')
	} else {
		dumpExpr(sb, v.Func, cfg)
	}
	sb.WriteString(",args=[")
	dumpExprList(sb, v.Args, cfg)
	sb.WriteByte(']')
	if len(v.Keywords) > 0 {
		sb.WriteString(",kw=[")
		for i, kw := range v.Keywords {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(kw.Arg)
			sb.WriteByte('=')
			dumpExpr(sb, kw.Value, cfg)
		}
		sb.WriteByte(']')
	}
	sb.WriteByte(')')
}

// callTail returns the final identifier of a simple name or dotted-name
// call target. Anything else (calls on call results, subscripts, ...) does
// not qualify.
func callTail(e pyast.Expr) (string, bool) {
	switch v := e.(type) {
	case *pyast.Name:
		return v.ID, true
	case *pyast.Attribute:
		if isDottedBase(v.Value) {
			return v.Attr, true
		}
	}
	return "", false
}

func isDottedBase(e pyast.Expr) bool {
	switch v := e.(type) {
	case *pyast.Name:
		return true
	case *pyast.Attribute:
		return isDottedBase(v.Value)
	}
	return false
}

// dumpBinOp reorders commutative operands into lexicographic dump order,
// but only when both operands are syntactically side-effect-free.
func dumpBinOp(sb *strings.Builder, v *pyast.BinOp, cfg Config) {
	left := DumpExpr(v.Left, cfg)
	right := DumpExpr(v.Right, cfg)
	if cfg.CanonicalOrdering && commutativeOps[v.Op] &&
		sideEffectFree(v.Left) && sideEffectFree(v.Right) && right < left {
		left, right = right, left
	}
	sb.WriteString("BinOp(left=")
	sb.WriteString(left)
	sb.WriteString(",op=")
	sb.WriteString(v.Op)
	sb.WriteString(",right=")
	sb.WriteString(right)
	sb.WriteByte(')')
}

// sideEffectFree reports whether evaluating e cannot run user code:
// literals, bare names, and attribute chains over those. Calls, indexing,
// and comparisons all inhibit reordering.
func sideEffectFree(e pyast.Expr) bool {
	switch v := e.(type) {
	case *pyast.Name:
		return true
	case *pyast.Constant:
		return true
	case *pyast.Attribute:
		return sideEffectFree(v.Value)
	}
	return false
}

// dumpUnaryOp applies the local logical rewrites
// not (x in y) -> x not in y and not (x is y) -> x is not y.
func dumpUnaryOp(sb *strings.Builder, v *pyast.UnaryOp, cfg Config) {
	if v.Op == "not" {
		if cmp, ok := v.Operand.(*pyast.Compare); ok && len(cmp.Ops) == 1 {
			switch cmp.Ops[0] {
			case "in":
				dumpCompare(sb, cmp.Left, []string{"not in"}, cmp.Comparators, cfg)
				return
			case "is":
				dumpCompare(sb, cmp.Left, []string{"is not"}, cmp.Comparators, cfg)
				return
			}
		}
	}
	sb.WriteString("UnaryOp(")
	sb.WriteString(v.Op)
	sb.WriteByte(',')
	dumpExpr(sb, v.Operand, cfg)
	sb.WriteByte(')')
}

func dumpCompare(sb *strings.Builder, left pyast.Expr, ops []string, comparators []pyast.Expr, cfg Config) {
	sb.WriteString("Compare(left=")
	dumpExpr(sb, left, cfg)
	sb.WriteString(",ops=[")
	sb.WriteString(strings.Join(ops, ","))
	sb.WriteString("],comparators=[")
	dumpExprList(sb, comparators, cfg)
	sb.WriteString("])")
}

// RawExprDump renders an expression structurally while preserving
// identifier and attribute names. Used where names carry matching
// semantics, such as exception handler types.
func RawExprDump(e pyast.Expr) string {
	raw := Config{}
	return DumpExpr(e, raw)
}

// StmtKindName returns a stable kind label for a statement, used by the
// segment report layer to count distinct statement shapes.
func StmtKindName(s pyast.Stmt) string {
	switch v := s.(type) {
	case *pyast.ExprStmt:
		return "expr"
	case *pyast.Assign:
		return "assign"
	case *pyast.AugAssign:
		return "assign"
	case *pyast.AnnAssign:
		return "assign"
	case *pyast.Return:
		return "return"
	case *pyast.Raise:
		return "raise"
	case *pyast.Pass:
		return "pass"
	case *pyast.Break:
		return "break"
	case *pyast.Continue:
		return "continue"
	case *pyast.If:
		return "if"
	case *pyast.While:
		return "while"
	case *pyast.For:
		return "for"
	case *pyast.With:
		return "with"
	case *pyast.Try:
		return "try"
	case *pyast.Match:
		return "match"
	case *pyast.Import:
		return "import"
	case *pyast.Global:
		return "global"
	case *pyast.Nonlocal:
		return "nonlocal"
	case *pyast.Delete:
		return "delete"
	case *pyast.Assert:
		return "assert"
	case *pyast.FunctionDef:
		return "def"
	case *pyast.ClassDef:
		return "class"
	case *pyast.OpaqueStmt:
		return "opaque:" + v.Kind
	}
	return "unknown"
}

// controlFlowKinds are the statement kinds that count as control flow for
// segment boilerplate suppression.
var controlFlowKinds = map[string]bool{
	"if": true, "while": true, "for": true, "with": true, "try": true,
	"match": true, "break": true, "continue": true, "return": true,
	"raise": true,
}

// IsControlFlowStmt reports whether s is a control-flow statement.
func IsControlFlowStmt(s pyast.Stmt) bool {
	return controlFlowKinds[StmtKindName(s)]
}
