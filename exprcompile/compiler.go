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

// Package exprcompile lowers ast.Expr scalar expressions and predicates
// into opaque closures (spec §4.C). It never holds onto the AST it
// compiled from: each closure captures only what execution actually
// needs (resolved column names, folded constants, a handle to the
// function dispatch table and a borrowed reference to the session for
// variable lookup), the way the spec's "cyclic adapter" design note (§9)
// forbids plan nodes from holding AST references at all.
package exprcompile

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
)

// Scalar is a compiled scalar expression: Row (plus session, reached
// through ctx) to QueryValue.
type Scalar func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error)

// Predicate is a compiled boolean expression. Comparison predicates are
// tri-valued at the remote store but collapse null to false at the client
// (spec §3 "Compiled predicate").
type Predicate func(ctx *execctx.Context, row coretypes.Row) (bool, error)

// CompileScalar lowers expr into a Scalar closure, resolving column
// references eagerly (by name; Row.Get is case-insensitive) and folding
// literal constants into already-parsed QueryValues so no re-parsing
// happens per row.
func CompileScalar(expr ast.Expr) (Scalar, error) {
	switch e := expr.(type) {
	case *ast.Literal:
		return compileLiteral(e)
	case *ast.ColumnRef:
		return compileColumnRef(e), nil
	case *ast.Variable:
		return compileVariable(e), nil
	case *ast.SystemFunc:
		return compileSystemFunc(e)
	case *ast.UnaryExpr:
		return compileUnary(e)
	case *ast.BinaryExpr:
		return compileBinary(e)
	case *ast.CaseExpr:
		return compileCase(e)
	case *ast.CastExpr:
		return compileCast(e)
	case *ast.FuncCall:
		return compileFuncCall(e)
	case *ast.SubqueryExpr:
		// The plan builder rewrites every subquery (scalar, EXISTS, IN) to
		// a join or semi/anti-join before expression compilation (spec
		// §4.B); reaching one here means a rewrite was missed.
		return nil, errkind.NotSupported.New("scalar subquery reached the expression compiler unrewritten")
	default:
		return nil, errkind.NotSupported.New(fmt.Sprintf("expression variant %T", expr))
	}
}

// CompilePredicate lowers expr (a boolean-valued expression) into a
// Predicate, collapsing null to false per spec §3.
func CompilePredicate(expr ast.Expr) (Predicate, error) {
	s, err := CompileScalar(expr)
	if err != nil {
		return nil, err
	}
	return func(ctx *execctx.Context, row coretypes.Row) (bool, error) {
		v, err := s(ctx, row)
		if err != nil {
			return false, err
		}
		if v.IsNull() {
			return false, nil
		}
		if v.Tag != coretypes.Boolean {
			return false, errkind.TypeMismatch.New(fmt.Sprintf("predicate evaluated to non-boolean tag %s", v.Tag))
		}
		return v.Bool, nil
	}, nil
}

func compileColumnRef(e *ast.ColumnRef) Scalar {
	name := e.Column
	if e.Table != "" {
		// Row columns carry their bare name; the plan builder is
		// responsible for disambiguating same-named columns from
		// different tables before compiling (via Project aliasing), so a
		// qualified reference here still resolves by bare column name.
		name = e.Column
	}
	return func(_ *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		v, ok := row.Get(name)
		if !ok {
			return coretypes.QueryValue{}, errkind.ExecutionFailed.New(fmt.Sprintf("column %q not present in row", e.Column))
		}
		return v, nil
	}
}

func compileVariable(e *ast.Variable) Scalar {
	return func(ctx *execctx.Context, _ coretypes.Row) (coretypes.QueryValue, error) {
		v, ok := ctx.Session().Variable(e.Name)
		if !ok {
			return coretypes.QueryValue{}, errkind.ExecutionFailed.New(fmt.Sprintf("variable %s is not declared", e.Name))
		}
		return v, nil
	}
}

func compileSystemFunc(e *ast.SystemFunc) (Scalar, error) {
	switch e.Name {
	case "@@ERROR":
		return func(ctx *execctx.Context, _ coretypes.Row) (coretypes.QueryValue, error) {
			n, _ := ctx.Session().ErrorState()
			return coretypes.NewInteger(n), nil
		}, nil
	case "ERROR_MESSAGE":
		return func(ctx *execctx.Context, _ coretypes.Row) (coretypes.QueryValue, error) {
			_, msg := ctx.Session().ErrorState()
			return coretypes.NewText(msg), nil
		}, nil
	case "@@FETCH_STATUS":
		// No cursor support beyond what script control flow needs; a
		// script never observing an open cursor always reads -1 (ANSI
		// "cursor not open / fetch failed" default).
		return func(*execctx.Context, coretypes.Row) (coretypes.QueryValue, error) {
			return coretypes.NewInteger(-1), nil
		}, nil
	default:
		return nil, errkind.NotSupported.New(fmt.Sprintf("system function %s", e.Name))
	}
}

func compileLiteral(e *ast.Literal) (Scalar, error) {
	v, err := parseLiteral(e)
	if err != nil {
		return nil, err
	}
	return func(*execctx.Context, coretypes.Row) (coretypes.QueryValue, error) { return v, nil }, nil
}

func parseLiteral(e *ast.Literal) (coretypes.QueryValue, error) {
	switch e.Kind {
	case ast.LitNull:
		return coretypes.NewNull(), nil
	case ast.LitBool:
		return coretypes.NewBoolean(e.Text == "true"), nil
	case ast.LitInt:
		n, err := strconv.ParseInt(e.Text, 10, 64)
		if err != nil {
			return coretypes.QueryValue{}, errkind.TypeMismatch.New(fmt.Sprintf("invalid integer literal %q", e.Text))
		}
		return coretypes.NewInteger(n), nil
	case ast.LitDecimal, ast.LitFloat:
		d, err := decimal.NewFromString(e.Text)
		if err != nil {
			return coretypes.QueryValue{}, errkind.TypeMismatch.New(fmt.Sprintf("invalid numeric literal %q", e.Text))
		}
		return coretypes.NewDecimal(d), nil
	case ast.LitString:
		return coretypes.NewText(e.Text), nil
	case ast.LitDateTime:
		t, err := parseDateTime(e.Text)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewTimestamp(t), nil
	default:
		return coretypes.QueryValue{}, errkind.NotSupported.New("literal kind")
	}
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateTime(text string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errkind.TypeMismatch.New(fmt.Sprintf("invalid datetime literal %q", text))
}

func compileUnary(e *ast.UnaryExpr) (Scalar, error) {
	inner, err := CompileScalar(e.Expr)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case ast.OpNeg:
		return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
			v, err := inner(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			if v.IsNull() {
				return v, nil
			}
			return negate(v)
		}, nil
	case ast.OpNot:
		return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
			v, err := inner(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			if v.IsNull() {
				return v, nil
			}
			if v.Tag != coretypes.Boolean {
				return coretypes.QueryValue{}, errkind.TypeMismatch.New("NOT applied to non-boolean")
			}
			return coretypes.NewBoolean(!v.Bool), nil
		}, nil
	case ast.OpIsNull:
		return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
			v, err := inner(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			return coretypes.NewBoolean(v.IsNull()), nil
		}, nil
	case ast.OpIsNotNull:
		return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
			v, err := inner(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			return coretypes.NewBoolean(!v.IsNull()), nil
		}, nil
	default:
		return nil, errkind.NotSupported.New("unary operator")
	}
}

func negate(v coretypes.QueryValue) (coretypes.QueryValue, error) {
	switch v.Tag {
	case coretypes.Integer:
		return coretypes.NewInteger(-v.Int), nil
	case coretypes.Decimal:
		return coretypes.NewDecimal(v.Dec.Neg()), nil
	case coretypes.Floating:
		return coretypes.NewFloating(-v.Float), nil
	default:
		return coretypes.QueryValue{}, errkind.TypeMismatch.New(fmt.Sprintf("cannot negate %s", v.Tag))
	}
}

func compileCase(e *ast.CaseExpr) (Scalar, error) {
	var operand Scalar
	if e.Operand != nil {
		var err error
		operand, err = CompileScalar(e.Operand)
		if err != nil {
			return nil, err
		}
	}
	type compiledWhen struct {
		when Scalar
		then Scalar
	}
	whens := make([]compiledWhen, len(e.Whens))
	for i, w := range e.Whens {
		whenC, err := CompileScalar(w.When)
		if err != nil {
			return nil, err
		}
		thenC, err := CompileScalar(w.Then)
		if err != nil {
			return nil, err
		}
		whens[i] = compiledWhen{when: whenC, then: thenC}
	}
	var elseC Scalar
	if e.Else != nil {
		var err error
		elseC, err = CompileScalar(e.Else)
		if err != nil {
			return nil, err
		}
	}
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		var operandVal coretypes.QueryValue
		if operand != nil {
			v, err := operand(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			operandVal = v
		}
		for _, w := range whens {
			whenVal, err := w.when(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			var matched bool
			if operand != nil {
				matched, err = valuesEqual(operandVal, whenVal)
				if err != nil {
					return coretypes.QueryValue{}, err
				}
			} else {
				matched = !whenVal.IsNull() && whenVal.Tag == coretypes.Boolean && whenVal.Bool
			}
			if matched {
				return w.then(ctx, row)
			}
		}
		if elseC != nil {
			return elseC(ctx, row)
		}
		return coretypes.NewNull(), nil
	}, nil
}

func compileCast(e *ast.CastExpr) (Scalar, error) {
	inner, err := CompileScalar(e.Expr)
	if err != nil {
		return nil, err
	}
	target := e.Target
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		v, err := inner(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		out, castErr := castValue(v, target)
		if castErr != nil {
			if e.Try {
				return coretypes.NewNull(), nil
			}
			return coretypes.QueryValue{}, castErr
		}
		return out, nil
	}, nil
}
