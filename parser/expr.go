// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parser

import (
	"strings"

	"github.com/xrmsql/engine/ast"
)

// parseExpr is the entry point for any scalar expression or predicate.
// Precedence, loosest to tightest: OR, AND, NOT, comparison (which also
// covers LIKE/IN/IS/BETWEEN), additive, multiplicative, unary, primary.
func (p *parser) parseExpr() (ast.Expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("OR") {
		pos := p.cur.Pos
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		pos := p.cur.Pos
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ast.Expr, error) {
	if p.atKeyword("NOT") {
		pos := p.cur.Pos
		p.advance()
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpNot, Expr: e}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]ast.BinaryOp{
	"=": ast.OpEq, "<>": ast.OpNeq, "!=": ast.OpNeq,
	"<": ast.OpLt, "<=": ast.OpLte, ">": ast.OpGt, ">=": ast.OpGte,
}

// parseComparison parses an additive expression and then an optional
// trailing comparison/LIKE/IN/IS/BETWEEN suffix. These never chain (SQL has
// no `a = b = c`), so at most one suffix is consumed.
func (p *parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.cur.Kind == Operator {
		if op, ok := comparisonOps[p.cur.Upper]; ok {
			pos := p.cur.Pos
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: op, Left: left, Right: right}, nil
		}
	}

	negated := false
	if p.atKeyword("NOT") && p.next.Kind == Keyword &&
		(p.next.Upper == "LIKE" || p.next.Upper == "IN" || p.next.Upper == "BETWEEN") {
		p.advance()
		negated = true
	}

	switch {
	case p.atKeyword("LIKE"):
		pos := p.cur.Pos
		p.advance()
		pattern, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		var escape ast.Expr
		if p.atKeyword("ESCAPE") {
			p.advance()
			escape, err = p.parseAdditive()
			if err != nil {
				return nil, err
			}
		}
		return &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpLike, Left: left, Right: pattern, Escape: escape, Negated: negated}, nil

	case p.atKeyword("IN"):
		pos := p.cur.Pos
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		if p.atKeyword("SELECT") || p.atKeyword("WITH") {
			sub, err := p.parseQueryExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpIn, Left: left, InSubquery: sub, Negated: negated}, nil
		}
		var list []ast.Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			list = append(list, e)
			if p.atPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpIn, Left: left, InList: list, Negated: negated}, nil

	case p.atKeyword("BETWEEN"):
		pos := p.cur.Pos
		p.advance()
		lo, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		geLo := &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpGte, Left: left, Right: lo}
		leHi := &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpLte, Left: left, Right: hi}
		combined := ast.Expr(&ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpAnd, Left: geLo, Right: leHi})
		if negated {
			combined = &ast.UnaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpNot, Expr: combined}
		}
		return combined, nil

	case p.atKeyword("IS"):
		pos := p.cur.Pos
		p.advance()
		notNull := false
		if p.atKeyword("NOT") {
			p.advance()
			notNull = true
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		op := ast.OpIsNull
		if notNull {
			op = ast.OpIsNotNull
		}
		return &ast.UnaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: op, Expr: left}, nil
	}

	if negated {
		return nil, p.errorf("expected LIKE, IN or BETWEEN after NOT")
	}
	return left, nil
}

func (p *parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == Operator && (p.cur.Upper == "+" || p.cur.Upper == "-") {
		pos := p.cur.Pos
		op := ast.OpAdd
		if p.cur.Upper == "-" {
			op = ast.OpSub
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == Operator && (p.cur.Upper == "*" || p.cur.Upper == "/" || p.cur.Upper == "%") {
		pos := p.cur.Pos
		var op ast.BinaryOp
		switch p.cur.Upper {
		case "*":
			op = ast.OpMul
		case "/":
			op = ast.OpDiv
		default:
			op = ast.OpMod
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (ast.Expr, error) {
	if p.cur.Kind == Operator && p.cur.Upper == "-" {
		pos := p.cur.Pos
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Positioned: ast.Positioned{Pos: pos}, Op: ast.OpNeg, Expr: e}, nil
	}
	if p.cur.Kind == Operator && p.cur.Upper == "+" {
		p.advance()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	pos := p.cur.Pos
	switch {
	case p.cur.Kind == Number:
		kind := ast.LitInt
		if strings.ContainsAny(p.cur.Text, ".eE") {
			kind = ast.LitDecimal
		}
		lit := &ast.Literal{Positioned: ast.Positioned{Pos: pos}, Kind: kind, Text: p.cur.Text}
		p.advance()
		return lit, nil

	case p.cur.Kind == String:
		lit := &ast.Literal{Positioned: ast.Positioned{Pos: pos}, Kind: ast.LitString, Text: p.cur.Text}
		p.advance()
		return lit, nil

	case p.cur.Kind == Variable:
		name := p.cur.Text
		p.advance()
		return &ast.Variable{Positioned: ast.Positioned{Pos: pos}, Name: name}, nil

	case p.cur.Kind == SystemVar:
		name := p.cur.Text
		p.advance()
		return &ast.SystemFunc{Positioned: ast.Positioned{Pos: pos}, Name: name}, nil

	case p.atKeyword("NULL"):
		p.advance()
		return &ast.Literal{Positioned: ast.Positioned{Pos: pos}, Kind: ast.LitNull}, nil

	case p.atKeyword("TRUE"):
		p.advance()
		return &ast.Literal{Positioned: ast.Positioned{Pos: pos}, Kind: ast.LitBool, Text: "true"}, nil

	case p.atKeyword("FALSE"):
		p.advance()
		return &ast.Literal{Positioned: ast.Positioned{Pos: pos}, Kind: ast.LitBool, Text: "false"}, nil

	case p.atKeyword("CASE"):
		return p.parseCase()

	case p.atKeyword("CAST"):
		return p.parseCast(false)

	case p.atKeyword("CONVERT"):
		return p.parseConvert(false)

	case p.atKeyword("TRY_CONVERT"):
		return p.parseConvert(true)

	case p.atKeyword("EXISTS"):
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		q, err := p.parseQueryExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &ast.SubqueryExpr{Positioned: ast.Positioned{Pos: pos}, Query: q, Exists: true}, nil

	case p.atPunct("("):
		p.advance()
		if p.atKeyword("SELECT") || p.atKeyword("WITH") {
			q, err := p.parseQueryExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &ast.SubqueryExpr{Positioned: ast.Positioned{Pos: pos}, Query: q}, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil

	case p.cur.Kind == Ident || p.cur.Kind == QuotedIdent || p.cur.Kind == Keyword:
		return p.parseColumnOrFuncCall()

	default:
		return nil, p.errorf("unexpected token %q in expression", p.cur.Text)
	}
}

// parseColumnOrFuncCall handles `ident`, `ident.ident`, and `ident(args...)
// [OVER (...)]`. Scalar functions whose names are keywords (IIF, COALESCE,
// NULLIF, LEFT, RIGHT, ...) are valid function names here.
func (p *parser) parseColumnOrFuncCall() (ast.Expr, error) {
	pos := p.cur.Pos
	var name string
	if p.cur.Kind == Keyword {
		// Reached by every keyword parsePrimary does not special-case
		// earlier, keyword-shaped function names (IIF, COALESCE, NULLIF,
		// LEFT, RIGHT, ...) among them.
		name = p.cur.Text
		p.advance()
	} else {
		var err error
		name, err = p.parseIdentifier()
		if err != nil {
			return nil, err
		}
	}
	if p.atPunct(".") {
		p.advance()
		col, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		return &ast.ColumnRef{Positioned: ast.Positioned{Pos: pos}, Table: name, Column: col}, nil
	}
	if p.atPunct("(") {
		return p.parseFuncCallArgs(pos, name)
	}
	return &ast.ColumnRef{Positioned: ast.Positioned{Pos: pos}, Column: name}, nil
}

func (p *parser) parseFuncCallArgs(pos ast.Pos, name string) (ast.Expr, error) {
	p.advance() // (
	distinct := false
	if p.atKeyword("DISTINCT") {
		p.advance()
		distinct = true
	}
	var args []ast.Expr
	if p.cur.Kind == Operator && p.cur.Upper == "*" {
		p.advance()
	} else if !p.atPunct(")") {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, e)
			if p.atPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	var over *ast.OverClause
	if p.atKeyword("OVER") {
		var err error
		over, err = p.parseOverClause()
		if err != nil {
			return nil, err
		}
	}
	return &ast.FuncCall{Positioned: ast.Positioned{Pos: pos}, Name: name, Args: args, Distinct: distinct, Over: over}, nil
}

func (p *parser) parseOverClause() (*ast.OverClause, error) {
	p.advance() // OVER
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	over := &ast.OverClause{}
	if p.atKeyword("PARTITION") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			over.PartitionBy = append(over.PartitionBy, e)
			if p.atPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderByItems()
		if err != nil {
			return nil, err
		}
		over.OrderBy = items
	}
	if p.atKeyword("ROWS") || p.atKeyword("RANGE") {
		frame, err := p.parseWindowFrame()
		if err != nil {
			return nil, err
		}
		over.Frame = frame
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return over, nil
}

func (p *parser) parseWindowFrame() (*ast.WindowFrame, error) {
	frame := &ast.WindowFrame{IsRange: p.atKeyword("RANGE")}
	p.advance() // ROWS|RANGE
	if err := p.expectKeyword("BETWEEN"); err != nil {
		return nil, err
	}
	startBound, startOffset, err := p.parseFrameBound()
	if err != nil {
		return nil, err
	}
	frame.StartBound, frame.StartOffset = startBound, startOffset
	if err := p.expectKeyword("AND"); err != nil {
		return nil, err
	}
	endBound, endOffset, err := p.parseFrameBound()
	if err != nil {
		return nil, err
	}
	frame.EndBound, frame.EndOffset = endBound, endOffset
	return frame, nil
}

func (p *parser) parseFrameBound() (ast.FrameBound, ast.Expr, error) {
	if p.atKeyword("UNBOUNDED") {
		p.advance()
		if p.atKeyword("PRECEDING") {
			p.advance()
			return ast.BoundUnboundedPreceding, nil, nil
		}
		if err := p.expectKeyword("FOLLOWING"); err != nil {
			return 0, nil, err
		}
		return ast.BoundUnboundedFollowing, nil, nil
	}
	if p.atKeyword("CURRENT") {
		p.advance()
		if err := p.expectKeyword("ROW"); err != nil {
			return 0, nil, err
		}
		return ast.BoundCurrentRow, nil, nil
	}
	offset, err := p.parseAdditive()
	if err != nil {
		return 0, nil, err
	}
	if p.atKeyword("PRECEDING") {
		p.advance()
		return ast.BoundPreceding, offset, nil
	}
	if err := p.expectKeyword("FOLLOWING"); err != nil {
		return 0, nil, err
	}
	return ast.BoundFollowing, offset, nil
}

func (p *parser) parseCase() (ast.Expr, error) {
	pos := p.cur.Pos
	p.advance() // CASE
	var operand ast.Expr
	if !p.atKeyword("WHEN") {
		var err error
		operand, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	var whens []ast.WhenClause
	for p.atKeyword("WHEN") {
		p.advance()
		when, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		whens = append(whens, ast.WhenClause{When: when, Then: then})
	}
	if len(whens) == 0 {
		return nil, p.errorf("CASE requires at least one WHEN clause")
	}
	var els ast.Expr
	if p.atKeyword("ELSE") {
		p.advance()
		var err error
		els, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return &ast.CaseExpr{Positioned: ast.Positioned{Pos: pos}, Operand: operand, Whens: whens, Else: els}, nil
}

func (p *parser) parseCast(try bool) (ast.Expr, error) {
	pos := p.cur.Pos
	p.advance() // CAST
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	target, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ast.CastExpr{Positioned: ast.Positioned{Pos: pos}, Try: try, Expr: e, Target: target}, nil
}

func (p *parser) parseConvert(try bool) (ast.Expr, error) {
	pos := p.cur.Pos
	p.advance() // CONVERT|TRY_CONVERT
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	target, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.atPunct(",") { // optional style argument, accepted and ignored
		p.advance()
		if _, err := p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ast.CastExpr{Positioned: ast.Positioned{Pos: pos}, Try: try, Expr: e, Target: target}, nil
}

// parseTypeName parses a type name with an optional length/precision
// parenthetical: VARCHAR(50), DECIMAL(18,2), INT.
func (p *parser) parseTypeName() (string, error) {
	name, err := p.parseIdentifier()
	if err != nil {
		return "", err
	}
	if !p.atPunct("(") {
		return name, nil
	}
	p.advance()
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	first := true
	for !p.atPunct(")") {
		if !first {
			if err := p.expectPunct(","); err != nil {
				return "", err
			}
			b.WriteByte(',')
		}
		first = false
		if p.cur.Kind != Number {
			return "", p.errorf("expected numeric type parameter, got %q", p.cur.Text)
		}
		b.WriteString(p.cur.Text)
		p.advance()
	}
	p.advance() // )
	b.WriteByte(')')
	return b.String(), nil
}
