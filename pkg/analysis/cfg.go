// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"fmt"

	"github.com/kraklabs/codeclone/pkg/pyast"
)

// loopContext tracks the jump targets of the innermost enclosing loop.
type loopContext struct {
	continueTarget *Block
	breakTarget    *Block
}

// CFGBuilder lowers a function body into a CFG. A builder is single-use.
type CFGBuilder struct {
	cfg       *CFG
	current   *Block
	loopStack []loopContext
}

// BuildCFG constructs the control-flow graph for a function body. A body
// the builder cannot model degrades to a single opaque block holding every
// top-level statement; the unit is still fingerprintable.
func BuildCFG(qualname string, body []pyast.Stmt) *CFG {
	b := &CFGBuilder{}
	graph, err := b.build(qualname, body)
	if err != nil {
		fallback := NewCFG(qualname)
		entry := fallback.Entry()
		entry.Statements = append(entry.Statements, body...)
		entry.AddSuccessor(fallback.Exit().ID)
		return fallback
	}
	return graph
}

func (b *CFGBuilder) build(qualname string, body []pyast.Stmt) (graph *CFG, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cfg build panic: %v", r)
		}
	}()

	b.cfg = NewCFG(qualname)
	b.current = b.cfg.Entry()

	b.visitStatements(body)

	if !b.current.Terminated {
		b.current.AddSuccessor(b.cfg.Exit().ID)
	}
	return b.cfg, nil
}

func (b *CFGBuilder) visitStatements(stmts []pyast.Stmt) {
	for _, s := range stmts {
		if b.current.Terminated {
			break
		}
		b.visit(s)
	}
}

func (b *CFGBuilder) visit(s pyast.Stmt) {
	switch v := s.(type) {
	case *pyast.Return:
		b.terminate(s)
	case *pyast.Raise:
		b.terminate(s)
	case *pyast.ExprStmt:
		// A bare `yield from` delegates the rest of the generator; it
		// terminates its block like a return does.
		if _, ok := v.Value.(*pyast.YieldFrom); ok {
			b.terminate(s)
			return
		}
		b.current.Statements = append(b.current.Statements, s)
	case *pyast.Break:
		b.visitBreak(v)
	case *pyast.Continue:
		b.visitContinue(v)
	case *pyast.If:
		b.visitIf(v)
	case *pyast.While:
		b.visitWhile(v)
	case *pyast.For:
		b.visitFor(v)
	case *pyast.Try:
		b.visitTry(v)
	case *pyast.With:
		b.visitWith(v)
	case *pyast.Match:
		b.visitMatch(v)
	default:
		b.current.Statements = append(b.current.Statements, s)
	}
}

func (b *CFGBuilder) terminate(s pyast.Stmt) {
	b.current.Statements = append(b.current.Statements, s)
	b.current.Terminated = true
	b.current.AddSuccessor(b.cfg.Exit().ID)
}

// metaStmt injects a synthetic marker statement in the reserved namespace.
func metaStmt(value string) pyast.Stmt {
	return &pyast.ExprStmt{Value: &pyast.Name{ID: MetaPrefix + value}}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func (b *CFGBuilder) visitIf(stmt *pyast.If) {
	thenBlock := b.cfg.NewBlock(BlockBody)
	elseBlock := b.cfg.NewBlock(BlockBody)
	afterBlock := b.cfg.NewBlock(BlockMerge)

	b.emitCondition(stmt.Test, thenBlock, elseBlock)

	b.current = thenBlock
	b.visitStatements(stmt.Body)
	if !b.current.Terminated {
		b.current.AddSuccessor(afterBlock.ID)
	}

	b.current = elseBlock
	b.visitStatements(stmt.Orelse)
	if !b.current.Terminated {
		b.current.AddSuccessor(afterBlock.ID)
	}

	b.current = afterBlock
}

func (b *CFGBuilder) visitWhile(stmt *pyast.While) {
	condBlock := b.cfg.NewBlock(BlockLoopHead)
	bodyBlock := b.cfg.NewBlock(BlockBody)
	var elseBlock *Block
	if len(stmt.Orelse) > 0 {
		elseBlock = b.cfg.NewBlock(BlockBody)
	}
	afterBlock := b.cfg.NewBlock(BlockMerge)

	b.current.AddSuccessor(condBlock.ID)

	b.current = condBlock
	falseTarget := afterBlock
	if elseBlock != nil {
		falseTarget = elseBlock
	}
	b.emitCondition(stmt.Test, bodyBlock, falseTarget)

	b.loopStack = append(b.loopStack, loopContext{
		continueTarget: condBlock,
		breakTarget:    afterBlock,
	})
	b.current = bodyBlock
	b.visitStatements(stmt.Body)
	if !b.current.Terminated {
		b.current.AddSuccessor(condBlock.ID)
	}
	b.loopStack = b.loopStack[:len(b.loopStack)-1]

	if elseBlock != nil {
		b.current = elseBlock
		b.visitStatements(stmt.Orelse)
		if !b.current.Terminated {
			b.current.AddSuccessor(afterBlock.ID)
		}
	}

	b.current = afterBlock
}

func (b *CFGBuilder) visitFor(stmt *pyast.For) {
	iterBlock := b.cfg.NewBlock(BlockLoopHead)
	bodyBlock := b.cfg.NewBlock(BlockBody)
	var elseBlock *Block
	if len(stmt.Orelse) > 0 {
		elseBlock = b.cfg.NewBlock(BlockBody)
	}
	afterBlock := b.cfg.NewBlock(BlockMerge)

	b.current.AddSuccessor(iterBlock.ID)

	b.current = iterBlock
	b.current.Statements = append(b.current.Statements, &pyast.ExprStmt{Value: stmt.Iter})
	b.current.AddSuccessor(bodyBlock.ID)
	if elseBlock != nil {
		b.current.AddSuccessor(elseBlock.ID)
	} else {
		b.current.AddSuccessor(afterBlock.ID)
	}

	b.loopStack = append(b.loopStack, loopContext{
		continueTarget: iterBlock,
		breakTarget:    afterBlock,
	})
	b.current = bodyBlock
	b.visitStatements(stmt.Body)
	if !b.current.Terminated {
		b.current.AddSuccessor(iterBlock.ID)
	}
	b.loopStack = b.loopStack[:len(b.loopStack)-1]

	if elseBlock != nil {
		b.current = elseBlock
		b.visitStatements(stmt.Orelse)
		if !b.current.Terminated {
			b.current.AddSuccessor(afterBlock.ID)
		}
	}

	b.current = afterBlock
}

// visitWith lays the body out linearly. The context expressions are
// recorded as statements in the current block so the managed scope stays
// visible in the shape; the body block closes over an implicit cleanup edge
// to the after block. No extra exception edges are synthesized for context
// managers beyond the regular may-raise rule inside try bodies.
func (b *CFGBuilder) visitWith(stmt *pyast.With) {
	bodyBlock := b.cfg.NewBlock(BlockBody)
	afterBlock := b.cfg.NewBlock(BlockMerge)

	for _, item := range stmt.Items {
		b.current.Statements = append(b.current.Statements, &pyast.ExprStmt{Value: item.Context})
	}
	b.current.AddSuccessor(bodyBlock.ID)

	b.current = bodyBlock
	b.visitStatements(stmt.Body)
	if !b.current.Terminated {
		b.current.AddSuccessor(afterBlock.ID)
	}

	b.current = afterBlock
}

func (b *CFGBuilder) visitTry(stmt *pyast.Try) {
	tryEntry := b.cfg.NewBlock(BlockBody)
	b.current.AddSuccessor(tryEntry.ID)
	b.current = tryEntry

	handlerTests := make([]*Block, len(stmt.Handlers))
	handlerBodies := make([]*Block, len(stmt.Handlers))
	for i := range stmt.Handlers {
		handlerTests[i] = b.cfg.NewBlock(BlockHandler)
	}
	for i := range stmt.Handlers {
		handlerBodies[i] = b.cfg.NewBlock(BlockBody)
	}
	var elseBlock *Block
	if len(stmt.Orelse) > 0 {
		elseBlock = b.cfg.NewBlock(BlockBody)
	}
	finalBlock := b.cfg.NewBlock(BlockMerge)

	for i, handler := range stmt.Handlers {
		test := handlerTests[i]
		test.Statements = append(test.Statements, metaStmt(fmt.Sprintf("TRY_HANDLER_INDEX:%d", i)))
		if handler.Type != nil {
			test.Statements = append(test.Statements,
				metaStmt("TRY_HANDLER_TYPE:"+RawExprDump(handler.Type)))
		} else {
			test.Statements = append(test.Statements, metaStmt("TRY_HANDLER_TYPE:BARE"))
		}
		test.AddSuccessor(handlerBodies[i].ID)
		if i+1 < len(handlerTests) {
			test.AddSuccessor(handlerTests[i+1].ID)
		} else {
			test.AddSuccessor(finalBlock.ID)
		}
	}

	// Only statements that may raise get an edge into the handler chain.
	for _, inner := range stmt.Body {
		if b.current.Terminated {
			break
		}
		if len(handlerTests) > 0 && stmtCanRaise(inner) {
			b.current.AddSuccessor(handlerTests[0].ID)
		}
		b.visit(inner)
	}

	if !b.current.Terminated {
		if elseBlock != nil {
			b.current.AddSuccessor(elseBlock.ID)
		} else {
			b.current.AddSuccessor(finalBlock.ID)
		}
	}

	for i, handler := range stmt.Handlers {
		b.current = handlerBodies[i]
		b.visitStatements(handler.Body)
		if !b.current.Terminated {
			b.current.AddSuccessor(finalBlock.ID)
		}
	}

	if elseBlock != nil {
		b.current = elseBlock
		b.visitStatements(stmt.Orelse)
		if !b.current.Terminated {
			b.current.AddSuccessor(finalBlock.ID)
		}
	}

	b.current = finalBlock
	if len(stmt.Final) > 0 {
		b.visitStatements(stmt.Final)
	}
}

func (b *CFGBuilder) visitMatch(stmt *pyast.Match) {
	if stmt.Subject != nil {
		b.current.Statements = append(b.current.Statements, &pyast.ExprStmt{Value: stmt.Subject})
	}

	var previousTest *Block
	afterBlock := b.cfg.NewBlock(BlockMerge)

	for i, c := range stmt.Cases {
		testBlock := b.cfg.NewBlock(BlockHandler)
		bodyBlock := b.cfg.NewBlock(BlockBody)

		if previousTest == nil {
			b.current.AddSuccessor(testBlock.ID)
		} else {
			previousTest.AddSuccessor(testBlock.ID)
		}

		testBlock.Statements = append(testBlock.Statements,
			metaStmt(fmt.Sprintf("MATCH_CASE_INDEX:%d", i)),
			metaStmt("MATCH_PATTERN:"+c.Pattern))
		if c.Guard != nil {
			testBlock.Statements = append(testBlock.Statements, &pyast.ExprStmt{Value: c.Guard})
		}

		testBlock.AddSuccessor(bodyBlock.ID)

		b.current = bodyBlock
		b.visitStatements(c.Body)
		if !b.current.Terminated {
			b.current.AddSuccessor(afterBlock.ID)
		}

		previousTest = testBlock
	}

	if previousTest != nil {
		previousTest.AddSuccessor(afterBlock.ID)
	}

	b.current = afterBlock
}

// emitCondition splits on a condition. Short-circuit and/or chains expand
// into a micro-CFG with one block per operand.
func (b *CFGBuilder) emitCondition(test pyast.Expr, trueBlock, falseBlock *Block) {
	if boolOp, ok := test.(*pyast.BoolOp); ok && (boolOp.Op == "and" || boolOp.Op == "or") {
		b.emitBoolOp(boolOp, trueBlock, falseBlock)
		return
	}

	b.current.Statements = append(b.current.Statements, &pyast.ExprStmt{Value: test})
	b.current.AddSuccessor(trueBlock.ID)
	b.current.AddSuccessor(falseBlock.ID)
}

func (b *CFGBuilder) emitBoolOp(test *pyast.BoolOp, trueBlock, falseBlock *Block) {
	current := b.current
	for i, value := range test.Values {
		current.Statements = append(current.Statements, &pyast.ExprStmt{Value: value})
		isLast := i == len(test.Values)-1

		if test.Op == "and" {
			if isLast {
				current.AddSuccessor(trueBlock.ID)
				current.AddSuccessor(falseBlock.ID)
			} else {
				next := b.cfg.NewBlock(BlockCond)
				current.AddSuccessor(next.ID)
				current.AddSuccessor(falseBlock.ID)
				current = next
			}
		} else {
			if isLast {
				current.AddSuccessor(trueBlock.ID)
				current.AddSuccessor(falseBlock.ID)
			} else {
				next := b.cfg.NewBlock(BlockCond)
				current.AddSuccessor(trueBlock.ID)
				current.AddSuccessor(next.ID)
				current = next
			}
		}
	}
	b.current = current
}

func (b *CFGBuilder) visitBreak(stmt *pyast.Break) {
	b.current.Statements = append(b.current.Statements, stmt)
	b.current.Terminated = true
	if len(b.loopStack) > 0 {
		b.current.AddSuccessor(b.loopStack[len(b.loopStack)-1].breakTarget.ID)
		return
	}
	b.current.AddSuccessor(b.cfg.Exit().ID)
}

func (b *CFGBuilder) visitContinue(stmt *pyast.Continue) {
	b.current.Statements = append(b.current.Statements, stmt)
	b.current.Terminated = true
	if len(b.loopStack) > 0 {
		b.current.AddSuccessor(b.loopStack[len(b.loopStack)-1].continueTarget.ID)
		return
	}
	b.current.AddSuccessor(b.cfg.Exit().ID)
}

// stmtCanRaise reports whether a statement may raise: it is an explicit
// raise, or contains a call, attribute access, subscript, await, or
// yield-from anywhere in its directly held expressions.
func stmtCanRaise(s pyast.Stmt) bool {
	if _, ok := s.(*pyast.Raise); ok {
		return true
	}
	raises := false
	for _, e := range pyast.StmtExprs(s) {
		pyast.WalkExprs(e, func(x pyast.Expr) bool {
			switch x.(type) {
			case *pyast.Call, *pyast.Attribute, *pyast.Subscript, *pyast.Await, *pyast.YieldFrom:
				raises = true
				return false
			}
			return true
		})
		if raises {
			return true
		}
	}
	// Compound statements: their headers can raise too.
	switch v := s.(type) {
	case *pyast.If:
		return exprCanRaise(v.Test) || anyCanRaise(v.Body) || anyCanRaise(v.Orelse)
	case *pyast.While:
		return exprCanRaise(v.Test) || anyCanRaise(v.Body) || anyCanRaise(v.Orelse)
	case *pyast.For:
		return exprCanRaise(v.Iter) || exprCanRaise(v.Target) || anyCanRaise(v.Body) || anyCanRaise(v.Orelse)
	case *pyast.With:
		for _, item := range v.Items {
			if exprCanRaise(item.Context) {
				return true
			}
		}
		return anyCanRaise(v.Body)
	case *pyast.Try:
		return anyCanRaise(v.Body) || anyCanRaise(v.Orelse) || anyCanRaise(v.Final)
	case *pyast.Match:
		if exprCanRaise(v.Subject) {
			return true
		}
		for _, c := range v.Cases {
			if exprCanRaise(c.Guard) || anyCanRaise(c.Body) {
				return true
			}
		}
	}
	return false
}

func anyCanRaise(stmts []pyast.Stmt) bool {
	for _, s := range stmts {
		if stmtCanRaise(s) {
			return true
		}
	}
	return false
}

func exprCanRaise(e pyast.Expr) bool {
	if e == nil {
		return false
	}
	raises := false
	pyast.WalkExprs(e, func(x pyast.Expr) bool {
		switch x.(type) {
		case *pyast.Call, *pyast.Attribute, *pyast.Subscript, *pyast.Await, *pyast.YieldFrom:
			raises = true
			return false
		}
		return true
	})
	return raises
}
