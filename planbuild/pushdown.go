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

package planbuild

import (
	"strings"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/exprcompile"
	"github.com/xrmsql/engine/xmlgen"
)

// splitAnd flattens a tree of top-level ANDs into its conjuncts.
func splitAnd(e ast.Expr) []ast.Expr {
	if b, ok := e.(*ast.BinaryExpr); ok && b.Op == ast.OpAnd {
		return append(splitAnd(b.Left), splitAnd(b.Right)...)
	}
	return []ast.Expr{e}
}

// rebuildAnd is splitAnd's inverse, used to recombine the conjuncts the
// pushdown split left as a client-side residual.
func rebuildAnd(exprs []ast.Expr) ast.Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &ast.BinaryExpr{Op: ast.OpAnd, Left: out, Right: e}
	}
	return out
}

// literalValue evaluates a literal expression to a QueryValue by
// compiling and immediately invoking it; a compiled literal scalar never
// touches its ctx/row arguments (exprcompile.compileLiteral), so nil
// values are safe here.
func literalValue(lit *ast.Literal) (coretypes.QueryValue, error) {
	s, err := exprcompile.CompileScalar(lit)
	if err != nil {
		return coretypes.QueryValue{}, err
	}
	return s(nil, coretypes.Row{})
}

// bareColumn reports whether e is a ColumnRef this single-table pushdown
// pass can push: unqualified, or qualified with the one table in scope.
func bareColumn(e ast.Expr, alias string) (*ast.ColumnRef, bool) {
	c, ok := e.(*ast.ColumnRef)
	if !ok {
		return nil, false
	}
	if c.Table != "" && c.Table != alias {
		return nil, false
	}
	return c, true
}

var comparisonOps = map[ast.BinaryOp]xmlgen.Operator{
	ast.OpEq:  xmlgen.OpEqual,
	ast.OpNeq: xmlgen.OpNotEqual,
	ast.OpLt:  xmlgen.OpLess,
	ast.OpLte: xmlgen.OpLessEq,
	ast.OpGt:  xmlgen.OpGreater,
	ast.OpGte: xmlgen.OpGreaterEq,
}

// convertCondition attempts to turn one conjunct into a pushable
// xmlgen.Condition, per the pushable predicate shapes spec §4.G lists:
// equality, range, IS NULL, IN literal list, LIKE with %/_ only.
func convertCondition(e ast.Expr, alias string) (xmlgen.Condition, bool, error) {
	switch v := e.(type) {
	case *ast.UnaryExpr:
		if v.Op != ast.OpIsNull && v.Op != ast.OpIsNotNull {
			return xmlgen.Condition{}, false, nil
		}
		col, ok := bareColumn(v.Expr, alias)
		if !ok {
			return xmlgen.Condition{}, false, nil
		}
		op := xmlgen.OpNull
		if v.Op == ast.OpIsNotNull {
			op = xmlgen.OpNotNull
		}
		return xmlgen.Condition{Attribute: col.Column, Operator: op}, true, nil

	case *ast.BinaryExpr:
		switch v.Op {
		case ast.OpLike:
			if v.Escape != nil {
				return xmlgen.Condition{}, false, nil
			}
			col, ok := bareColumn(v.Left, alias)
			if !ok {
				return xmlgen.Condition{}, false, nil
			}
			lit, ok := v.Right.(*ast.Literal)
			if !ok || lit.Kind != ast.LitString || strings.ContainsAny(lit.Text, "[]") {
				return xmlgen.Condition{}, false, nil
			}
			op := xmlgen.OpLike
			if v.Negated {
				op = xmlgen.OpNotLike
			}
			return xmlgen.Condition{Attribute: col.Column, Operator: op, Values: []coretypes.QueryValue{coretypes.NewText(lit.Text)}}, true, nil

		case ast.OpIn:
			if v.InSubquery != nil {
				return xmlgen.Condition{}, false, nil
			}
			col, ok := bareColumn(v.Left, alias)
			if !ok {
				return xmlgen.Condition{}, false, nil
			}
			values := make([]coretypes.QueryValue, 0, len(v.InList))
			for _, item := range v.InList {
				lit, ok := item.(*ast.Literal)
				if !ok {
					return xmlgen.Condition{}, false, nil
				}
				val, err := literalValue(lit)
				if err != nil {
					return xmlgen.Condition{}, false, nil
				}
				values = append(values, val)
			}
			op := xmlgen.OpIn
			if v.Negated {
				op = xmlgen.OpNotIn
			}
			return xmlgen.Condition{Attribute: col.Column, Operator: op, Values: values}, true, nil

		default:
			xop, ok := comparisonOps[v.Op]
			if !ok {
				return xmlgen.Condition{}, false, nil
			}
			col, colOK := bareColumn(v.Left, alias)
			litExpr := v.Right
			if !colOK {
				// allow literal OP column too
				col, colOK = bareColumn(v.Right, alias)
				litExpr = v.Left
			}
			if !colOK {
				return xmlgen.Condition{}, false, nil
			}
			lit, ok := litExpr.(*ast.Literal)
			if !ok {
				return xmlgen.Condition{}, false, nil
			}
			val, err := literalValue(lit)
			if err != nil {
				return xmlgen.Condition{}, false, nil
			}
			return xmlgen.Condition{Attribute: col.Column, Operator: xop, Values: []coretypes.QueryValue{val}}, true, nil
		}
	}
	return xmlgen.Condition{}, false, nil
}

// splitPredicate partitions where into a pushable xmlgen.Filter (nil if
// nothing pushed) and a client-residual ast.Expr (nil if everything
// pushed), per spec §4.B's predicate pushdown split.
func splitPredicate(where ast.Expr, alias string) (*xmlgen.Filter, ast.Expr, error) {
	if where == nil {
		return nil, nil, nil
	}
	conjuncts := splitAnd(where)
	var pushed []xmlgen.Condition
	var residual []ast.Expr
	for _, c := range conjuncts {
		cond, ok, err := convertCondition(c, alias)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			pushed = append(pushed, cond)
		} else {
			residual = append(residual, c)
		}
	}
	var filter *xmlgen.Filter
	if len(pushed) > 0 {
		filter = &xmlgen.Filter{Join: xmlgen.FilterAnd, Conditions: xmlgen.SortConditions(pushed)}
	}
	return filter, rebuildAnd(residual), nil
}
