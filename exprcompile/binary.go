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

package exprcompile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
)

func compileBinary(e *ast.BinaryExpr) (Scalar, error) {
	switch e.Op {
	case ast.OpAnd, ast.OpOr:
		return compileLogical(e)
	case ast.OpLike:
		return compileLike(e)
	case ast.OpIn:
		return compileIn(e)
	}

	left, err := CompileScalar(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := CompileScalar(e.Right)
	if err != nil {
		return nil, err
	}
	op := e.Op
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		lv, err := left(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		rv, err := right(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		if isArithmetic(op) {
			if lv.IsNull() || rv.IsNull() {
				return coretypes.NewNull(), nil
			}
			return evalArithmetic(op, lv, rv)
		}
		// Comparisons: null on either side is false at the client (spec
		// §3); the remote store's own null semantics are never rewritten
		// across that boundary, which is exactly why this collapse only
		// happens here, client-side.
		if lv.IsNull() || rv.IsNull() {
			return coretypes.NewBoolean(false), nil
		}
		return evalComparison(op, lv, rv)
	}, nil
}

func isArithmetic(op ast.BinaryOp) bool {
	switch op {
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		return true
	default:
		return false
	}
}

// rank orders the numeric promotion ladder: integer < decimal < floating.
func rank(tag coretypes.Tag) int {
	switch tag {
	case coretypes.Integer:
		return 1
	case coretypes.Decimal:
		return 2
	case coretypes.Floating:
		return 3
	default:
		return 0
	}
}

func evalArithmetic(op ast.BinaryOp, l, r coretypes.QueryValue) (coretypes.QueryValue, error) {
	if op == ast.OpAdd && l.Tag == coretypes.Text && r.Tag == coretypes.Text {
		return coretypes.NewText(l.Str + r.Str), nil
	}
	if rank(l.Tag) == 0 || rank(r.Tag) == 0 {
		return coretypes.QueryValue{}, errkind.TypeMismatch.New(fmt.Sprintf("cannot apply arithmetic to %s and %s", l.Tag, r.Tag))
	}
	target := rank(l.Tag)
	if rank(r.Tag) > target {
		target = rank(r.Tag)
	}
	switch target {
	case 3:
		lf, rf := asFloat(l), asFloat(r)
		switch op {
		case ast.OpAdd:
			return coretypes.NewFloating(lf + rf), nil
		case ast.OpSub:
			return coretypes.NewFloating(lf - rf), nil
		case ast.OpMul:
			return coretypes.NewFloating(lf * rf), nil
		case ast.OpDiv:
			if rf == 0 {
				return coretypes.QueryValue{}, errkind.ExecutionFailed.New("division by zero")
			}
			return coretypes.NewFloating(lf / rf), nil
		default:
			return coretypes.QueryValue{}, errkind.NotSupported.New("modulo on floating values")
		}
	case 2:
		ld, rd := asDecimal(l), asDecimal(r)
		switch op {
		case ast.OpAdd:
			return coretypes.NewDecimal(ld.Add(rd)), nil
		case ast.OpSub:
			return coretypes.NewDecimal(ld.Sub(rd)), nil
		case ast.OpMul:
			return coretypes.NewDecimal(ld.Mul(rd)), nil
		case ast.OpDiv:
			if rd.IsZero() {
				return coretypes.QueryValue{}, errkind.ExecutionFailed.New("division by zero")
			}
			return coretypes.NewDecimal(ld.Div(rd)), nil
		default:
			if rd.IsZero() {
				return coretypes.QueryValue{}, errkind.ExecutionFailed.New("division by zero")
			}
			return coretypes.NewDecimal(ld.Mod(rd)), nil
		}
	default:
		li, ri := l.Int, r.Int
		switch op {
		case ast.OpAdd:
			return coretypes.NewInteger(li + ri), nil
		case ast.OpSub:
			return coretypes.NewInteger(li - ri), nil
		case ast.OpMul:
			return coretypes.NewInteger(li * ri), nil
		case ast.OpDiv:
			if ri == 0 {
				return coretypes.QueryValue{}, errkind.ExecutionFailed.New("division by zero")
			}
			return coretypes.NewInteger(li / ri), nil
		default:
			if ri == 0 {
				return coretypes.QueryValue{}, errkind.ExecutionFailed.New("division by zero")
			}
			return coretypes.NewInteger(li % ri), nil
		}
	}
}

func asFloat(v coretypes.QueryValue) float64 {
	switch v.Tag {
	case coretypes.Integer:
		return float64(v.Int)
	case coretypes.Decimal:
		f, _ := v.Dec.Float64()
		return f
	case coretypes.Floating:
		return v.Float
	default:
		return 0
	}
}

func asDecimal(v coretypes.QueryValue) decimal.Decimal {
	switch v.Tag {
	case coretypes.Integer:
		return decimal.NewFromInt(v.Int)
	case coretypes.Decimal:
		return v.Dec
	case coretypes.Floating:
		return decimal.NewFromFloat(v.Float)
	default:
		return decimal.Zero
	}
}

func evalComparison(op ast.BinaryOp, l, r coretypes.QueryValue) (coretypes.QueryValue, error) {
	cmp, err := compareValues(l, r)
	if err != nil {
		return coretypes.QueryValue{}, err
	}
	switch op {
	case ast.OpEq:
		return coretypes.NewBoolean(cmp == 0), nil
	case ast.OpNeq:
		return coretypes.NewBoolean(cmp != 0), nil
	case ast.OpLt:
		return coretypes.NewBoolean(cmp < 0), nil
	case ast.OpLte:
		return coretypes.NewBoolean(cmp <= 0), nil
	case ast.OpGt:
		return coretypes.NewBoolean(cmp > 0), nil
	case ast.OpGte:
		return coretypes.NewBoolean(cmp >= 0), nil
	default:
		return coretypes.QueryValue{}, errkind.NotSupported.New("comparison operator")
	}
}

// compareValues returns -1/0/1, promoting numerics and comparing
// timestamps, text, bool and uuid natively. Mismatched non-numeric tags
// are a TypeMismatch.
func compareValues(l, r coretypes.QueryValue) (int, error) {
	if rank(l.Tag) != 0 && rank(r.Tag) != 0 {
		target := rank(l.Tag)
		if rank(r.Tag) > target {
			target = rank(r.Tag)
		}
		if target == 3 {
			lf, rf := asFloat(l), asFloat(r)
			return cmpFloat(lf, rf), nil
		}
		if target == 2 {
			ld, rd := asDecimal(l), asDecimal(r)
			return ld.Cmp(rd), nil
		}
		if l.Int < r.Int {
			return -1, nil
		} else if l.Int > r.Int {
			return 1, nil
		}
		return 0, nil
	}
	if l.Tag != r.Tag {
		return 0, errkind.TypeMismatch.New(fmt.Sprintf("cannot compare %s and %s", l.Tag, r.Tag))
	}
	switch l.Tag {
	case coretypes.Text:
		return strings.Compare(l.Str, r.Str), nil
	case coretypes.Boolean:
		if l.Bool == r.Bool {
			return 0, nil
		}
		if !l.Bool {
			return -1, nil
		}
		return 1, nil
	case coretypes.Timestamp:
		switch {
		case l.Time.Before(r.Time):
			return -1, nil
		case l.Time.After(r.Time):
			return 1, nil
		default:
			return 0, nil
		}
	case coretypes.UUID:
		return strings.Compare(l.UUID.String(), r.UUID.String()), nil
	default:
		return 0, errkind.TypeMismatch.New(fmt.Sprintf("cannot compare %s values", l.Tag))
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// valuesEqual is used by the simple-CASE operand comparison; it applies
// the same promotion rules as `=` but treats two nulls as equal (simple
// CASE, unlike a WHERE predicate, is matching values, not filtering rows).
func valuesEqual(a, b coretypes.QueryValue) (bool, error) {
	if a.IsNull() && b.IsNull() {
		return true, nil
	}
	if a.IsNull() || b.IsNull() {
		return false, nil
	}
	cmp, err := compareValues(a, b)
	if err != nil {
		return false, err
	}
	return cmp == 0, nil
}

func compileLogical(e *ast.BinaryExpr) (Scalar, error) {
	left, err := CompileScalar(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := CompileScalar(e.Right)
	if err != nil {
		return nil, err
	}
	isAnd := e.Op == ast.OpAnd
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		lv, err := left(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		lb := !lv.IsNull() && lv.Tag == coretypes.Boolean && lv.Bool
		// Three-valued short circuit collapsed to two-valued at the
		// client per spec §3 (null already reads as false from any
		// upstream comparison), so a plain short-circuit is sufficient.
		if isAnd && !lb {
			return coretypes.NewBoolean(false), nil
		}
		if !isAnd && lb {
			return coretypes.NewBoolean(true), nil
		}
		rv, err := right(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		rb := !rv.IsNull() && rv.Tag == coretypes.Boolean && rv.Bool
		return coretypes.NewBoolean(rb), nil
	}, nil
}

func compileLike(e *ast.BinaryExpr) (Scalar, error) {
	left, err := CompileScalar(e.Left)
	if err != nil {
		return nil, err
	}
	// A literal pattern (the overwhelming common case) compiles to a
	// fixed regexp once; a computed pattern recompiles per row.
	var escape byte = 0
	if e.Escape != nil {
		lit, ok := e.Escape.(*ast.Literal)
		if ok && lit.Kind == ast.LitString && len(lit.Text) == 1 {
			escape = lit.Text[0]
		}
	}
	negated := e.Negated
	if patLit, ok := e.Right.(*ast.Literal); ok && patLit.Kind == ast.LitString {
		re, err := likeToRegexp(patLit.Text, escape)
		if err != nil {
			return nil, err
		}
		return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
			lv, err := left(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			if lv.IsNull() {
				return coretypes.NewBoolean(false), nil
			}
			if lv.Tag != coretypes.Text {
				return coretypes.QueryValue{}, errkind.TypeMismatch.New("LIKE applied to non-text value")
			}
			match := re.MatchString(lv.Str)
			return coretypes.NewBoolean(match != negated), nil
		}, nil
	}
	right, err := CompileScalar(e.Right)
	if err != nil {
		return nil, err
	}
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		lv, err := left(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		rv, err := right(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		if lv.IsNull() || rv.IsNull() {
			return coretypes.NewBoolean(false), nil
		}
		re, err := likeToRegexp(rv.Str, escape)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		match := re.MatchString(lv.Str)
		return coretypes.NewBoolean(match != negated), nil
	}, nil
}

// likeToRegexp translates a SQL LIKE pattern (% any run, _ any one char,
// with an optional escape character) into an anchored Go regexp.
func likeToRegexp(pattern string, escape byte) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	escaped := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if escape != 0 && c == escape && !escaped {
			escaped = true
			continue
		}
		if escaped {
			b.WriteString(regexp.QuoteMeta(string(c)))
			escaped = false
			continue
		}
		switch c {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte('$')
	re, err := regexp.Compile("(?s)" + b.String())
	if err != nil {
		return nil, errkind.TypeMismatch.New("invalid LIKE pattern")
	}
	return re, nil
}

func compileIn(e *ast.BinaryExpr) (Scalar, error) {
	if e.InSubquery != nil {
		// IN (SELECT ...) is rewritten to a semi/anti-join by the plan
		// builder before compilation (spec §4.B); seeing one here means
		// the rewrite was skipped.
		return nil, errkind.NotSupported.New("IN subquery reached the expression compiler unrewritten")
	}
	left, err := CompileScalar(e.Left)
	if err != nil {
		return nil, err
	}
	list := make([]Scalar, len(e.InList))
	for i, item := range e.InList {
		c, err := CompileScalar(item)
		if err != nil {
			return nil, err
		}
		list[i] = c
	}
	negated := e.Negated
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		lv, err := left(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		if lv.IsNull() {
			return coretypes.NewBoolean(false), nil
		}
		found := false
		for _, item := range list {
			iv, err := item(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			if iv.IsNull() {
				continue
			}
			eq, err := valuesEqual(lv, iv)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			if eq {
				found = true
				break
			}
		}
		return coretypes.NewBoolean(found != negated), nil
	}, nil
}
