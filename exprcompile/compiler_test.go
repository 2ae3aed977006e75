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

package exprcompile_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
)

func lit(kind ast.LiteralKind, text string) ast.Expr {
	return &ast.Literal{Kind: kind, Text: text}
}

func emptyRow() coretypes.Row { return coretypes.NewRow(nil, nil) }

func newTestContext() *execctx.Context {
	return execctx.New(context.Background(), nil, nil, nil)
}

// TestNumericPromotionLadder exercises the integer < decimal ladder
// evalArithmetic walks: mixing an integer with a decimal operand (a bare
// "2.5"-style literal parses as Decimal, not Floating — see parseLiteral)
// must promote the whole expression to decimal rather than truncate it.
func TestNumericPromotionLadder(t *testing.T) {
	expr := &ast.BinaryExpr{
		Op:    ast.OpAdd,
		Left:  lit(ast.LitInt, "2"),
		Right: lit(ast.LitDecimal, "0.5"),
	}
	scalar, err := exprcompile.CompileScalar(expr)
	require.NoError(t, err)
	v, err := scalar(newTestContext(), emptyRow())
	require.NoError(t, err)
	require.Equal(t, coretypes.Decimal, v.Tag)
	require.True(t, v.Dec.Equal(decimal.NewFromFloat(2.5)))
}

// TestCastToFloatPromotesArithmeticToFloating confirms the floating tier
// of the promotion ladder is actually reachable, via CAST AS FLOAT rather
// than a bare literal (no literal kind parses directly to Floating).
func TestCastToFloatPromotesArithmeticToFloating(t *testing.T) {
	expr := &ast.BinaryExpr{
		Op:    ast.OpAdd,
		Left:  &ast.CastExpr{Expr: lit(ast.LitInt, "2"), Target: "FLOAT"},
		Right: lit(ast.LitInt, "1"),
	}
	scalar, err := exprcompile.CompileScalar(expr)
	require.NoError(t, err)
	v, err := scalar(newTestContext(), emptyRow())
	require.NoError(t, err)
	require.Equal(t, coretypes.Floating, v.Tag)
	require.InDelta(t, 3.0, v.Float, 1e-9)
}

// TestDivisionByZeroErrors confirms dividing by a literal zero surfaces
// as an engine error rather than +Inf/NaN leaking out.
func TestDivisionByZeroErrors(t *testing.T) {
	expr := &ast.BinaryExpr{
		Op:    ast.OpDiv,
		Left:  lit(ast.LitInt, "1"),
		Right: lit(ast.LitInt, "0"),
	}
	scalar, err := exprcompile.CompileScalar(expr)
	require.NoError(t, err)
	_, err = scalar(newTestContext(), emptyRow())
	require.Error(t, err)
}

// TestStringConcatenationViaPlus covers the teacher-style special case
// where OpAdd over two Text operands concatenates instead of erroring.
func TestStringConcatenationViaPlus(t *testing.T) {
	expr := &ast.BinaryExpr{
		Op:    ast.OpAdd,
		Left:  lit(ast.LitString, "foo"),
		Right: lit(ast.LitString, "bar"),
	}
	scalar, err := exprcompile.CompileScalar(expr)
	require.NoError(t, err)
	v, err := scalar(newTestContext(), emptyRow())
	require.NoError(t, err)
	require.Equal(t, coretypes.Text, v.Tag)
	require.Equal(t, "foobar", v.Str)
}

func TestCastIntToDecimal(t *testing.T) {
	expr := &ast.CastExpr{Expr: lit(ast.LitInt, "42"), Target: "DECIMAL(18,2)"}
	scalar, err := exprcompile.CompileScalar(expr)
	require.NoError(t, err)
	v, err := scalar(newTestContext(), emptyRow())
	require.NoError(t, err)
	require.Equal(t, coretypes.Decimal, v.Tag)
	require.True(t, v.Dec.Equal(decimal.NewFromInt(42)))
}

// TestTryConvertSwallowsFailure confirms TRY_CONVERT returns null instead
// of propagating a cast error, the one place CAST/CONVERT diverge.
func TestTryConvertSwallowsFailure(t *testing.T) {
	expr := &ast.CastExpr{Try: true, Expr: lit(ast.LitString, "not-a-number"), Target: "INT"}
	scalar, err := exprcompile.CompileScalar(expr)
	require.NoError(t, err)
	v, err := scalar(newTestContext(), emptyRow())
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestPlainConvertPropagatesFailure(t *testing.T) {
	expr := &ast.CastExpr{Try: false, Expr: lit(ast.LitString, "not-a-number"), Target: "INT"}
	scalar, err := exprcompile.CompileScalar(expr)
	require.NoError(t, err)
	_, err = scalar(newTestContext(), emptyRow())
	require.Error(t, err)
}
