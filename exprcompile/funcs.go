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
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
)

// compileFuncCall dispatches a function call to its implementation. IIF,
// COALESCE and NULLIF have no dedicated AST node (the parser folds them
// into FuncCall, spec §4.C) and are special-cased first.
func compileFuncCall(e *ast.FuncCall) (Scalar, error) {
	if e.Over != nil {
		// The plan builder is responsible for pulling every windowed
		// FuncCall out of its owning projection and feeding it to the
		// WindowSpool operator before the remaining (non-windowed)
		// expression tree reaches CompileScalar; one surviving here means
		// that extraction was skipped.
		return nil, errkind.NotSupported.New("windowed function reached the expression compiler without being extracted by the plan builder")
	}

	name := strings.ToUpper(e.Name)
	switch name {
	case "IIF":
		return compileIIF(e)
	case "COALESCE":
		return compileCoalesce(e)
	case "NULLIF":
		return compileNullif(e)
	}

	args := make([]Scalar, len(e.Args))
	for i, a := range e.Args {
		c, err := CompileScalar(a)
		if err != nil {
			return nil, err
		}
		args[i] = c
	}

	fn, ok := scalarFuncs[name]
	if !ok {
		return nil, errkind.NotSupported.New(fmt.Sprintf("scalar function %s", e.Name))
	}
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		vals := make([]coretypes.QueryValue, len(args))
		for i, a := range args {
			v, err := a(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			vals[i] = v
		}
		return fn(vals)
	}, nil
}

func compileIIF(e *ast.FuncCall) (Scalar, error) {
	if len(e.Args) != 3 {
		return nil, errkind.PlanBuildError.New("IIF requires exactly 3 arguments")
	}
	cond, err := CompilePredicate(e.Args[0])
	if err != nil {
		return nil, err
	}
	whenTrue, err := CompileScalar(e.Args[1])
	if err != nil {
		return nil, err
	}
	whenFalse, err := CompileScalar(e.Args[2])
	if err != nil {
		return nil, err
	}
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		ok, err := cond(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		if ok {
			return whenTrue(ctx, row)
		}
		return whenFalse(ctx, row)
	}, nil
}

func compileCoalesce(e *ast.FuncCall) (Scalar, error) {
	if len(e.Args) == 0 {
		return nil, errkind.PlanBuildError.New("COALESCE requires at least one argument")
	}
	args := make([]Scalar, len(e.Args))
	for i, a := range e.Args {
		c, err := CompileScalar(a)
		if err != nil {
			return nil, err
		}
		args[i] = c
	}
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		for _, a := range args {
			v, err := a(ctx, row)
			if err != nil {
				return coretypes.QueryValue{}, err
			}
			if !v.IsNull() {
				return v, nil
			}
		}
		return coretypes.NewNull(), nil
	}, nil
}

func compileNullif(e *ast.FuncCall) (Scalar, error) {
	if len(e.Args) != 2 {
		return nil, errkind.PlanBuildError.New("NULLIF requires exactly 2 arguments")
	}
	a1, err := CompileScalar(e.Args[0])
	if err != nil {
		return nil, err
	}
	a2, err := CompileScalar(e.Args[1])
	if err != nil {
		return nil, err
	}
	return func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		v1, err := a1(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		v2, err := a2(ctx, row)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		eq, err := valuesEqual(v1, v2)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		if eq {
			return coretypes.NewNull(), nil
		}
		return v1, nil
	}, nil
}

// scalarFuncApplier evaluates a function over already-evaluated arguments.
type scalarFuncApplier func(args []coretypes.QueryValue) (coretypes.QueryValue, error)

func arity(name string, args []coretypes.QueryValue, n int) error {
	if len(args) != n {
		return errkind.PlanBuildError.New(fmt.Sprintf("%s expects %d argument(s), got %d", name, n, len(args)))
	}
	return nil
}

func init() {
	scalarFuncs["UPPER"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("UPPER", args, 1); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewText(strings.ToUpper(args[0].Str)), nil
	}
	scalarFuncs["LOWER"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("LOWER", args, 1); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewText(strings.ToLower(args[0].Str)), nil
	}
	scalarFuncs["LEN"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("LEN", args, 1); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewInteger(int64(len(strings.TrimRight(args[0].Str, " ")))), nil
	}
	scalarFuncs["SUBSTRING"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("SUBSTRING", args, 3); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		s := args[0].Str
		start := int(args[1].Int) - 1
		length := int(args[2].Int)
		return coretypes.NewText(substr(s, start, length)), nil
	}
	scalarFuncs["CHARINDEX"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if len(args) < 2 || len(args) > 3 {
			return coretypes.QueryValue{}, errkind.PlanBuildError.New("CHARINDEX expects 2 or 3 arguments")
		}
		if args[0].IsNull() || args[1].IsNull() {
			return coretypes.NewNull(), nil
		}
		start := 0
		if len(args) == 3 {
			start = int(args[2].Int)
			if start > 0 {
				start--
			}
		}
		if start < 0 || start > len(args[1].Str) {
			return coretypes.NewInteger(0), nil
		}
		idx := strings.Index(args[1].Str[start:], args[0].Str)
		if idx < 0 {
			return coretypes.NewInteger(0), nil
		}
		return coretypes.NewInteger(int64(idx + start + 1)), nil
	}
	scalarFuncs["REPLACE"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("REPLACE", args, 3); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewText(strings.ReplaceAll(args[0].Str, args[1].Str, args[2].Str)), nil
	}
	scalarFuncs["TRIM"] = stringUnary("TRIM", strings.TrimSpace)
	scalarFuncs["LTRIM"] = stringUnary("LTRIM", func(s string) string { return strings.TrimLeft(s, " ") })
	scalarFuncs["RTRIM"] = stringUnary("RTRIM", func(s string) string { return strings.TrimRight(s, " ") })
	scalarFuncs["REVERSE"] = stringUnary("REVERSE", reverseString)
	scalarFuncs["STUFF"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("STUFF", args, 4); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		s := args[0].Str
		start := int(args[1].Int) - 1
		length := int(args[2].Int)
		if start < 0 || start > len(s) {
			return coretypes.QueryValue{}, errkind.ExecutionFailed.New("STUFF start position out of range")
		}
		end := start + length
		if end > len(s) {
			end = len(s)
		}
		return coretypes.NewText(s[:start] + args[3].Str + s[end:]), nil
	}
	scalarFuncs["REPLICATE"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("REPLICATE", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		n := int(args[1].Int)
		if n < 0 {
			n = 0
		}
		return coretypes.NewText(strings.Repeat(args[0].Str, n)), nil
	}
	scalarFuncs["PATINDEX"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("PATINDEX", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() || args[1].IsNull() {
			return coretypes.NewNull(), nil
		}
		pattern := strings.Trim(args[0].Str, "%")
		idx := strings.Index(args[1].Str, pattern)
		return coretypes.NewInteger(int64(idx + 1)), nil
	}
	scalarFuncs["CONCAT"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		var b strings.Builder
		for _, a := range args {
			if !a.IsNull() {
				b.WriteString(a.String())
			}
		}
		return coretypes.NewText(b.String()), nil
	}
	scalarFuncs["CONCAT_WS"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if len(args) < 2 {
			return coretypes.QueryValue{}, errkind.PlanBuildError.New("CONCAT_WS expects at least 2 arguments")
		}
		sep := args[0].Str
		var parts []string
		for _, a := range args[1:] {
			if !a.IsNull() {
				parts = append(parts, a.String())
			}
		}
		return coretypes.NewText(strings.Join(parts, sep)), nil
	}
	scalarFuncs["SPACE"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("SPACE", args, 1); err != nil {
			return coretypes.QueryValue{}, err
		}
		n := int(args[0].Int)
		if n < 0 {
			n = 0
		}
		return coretypes.NewText(strings.Repeat(" ", n)), nil
	}
	scalarFuncs["LEFT"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("LEFT", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		n := int(args[1].Int)
		return coretypes.NewText(substr(args[0].Str, 0, n)), nil
	}
	scalarFuncs["RIGHT"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("RIGHT", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		s := args[0].Str
		n := int(args[1].Int)
		if n < 0 {
			n = 0
		}
		if n > len(s) {
			n = len(s)
		}
		return coretypes.NewText(s[len(s)-n:]), nil
	}
	scalarFuncs["FORMAT"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if len(args) < 1 {
			return coretypes.QueryValue{}, errkind.PlanBuildError.New("FORMAT expects at least 1 argument")
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewText(args[0].String()), nil
	}
	scalarFuncs["STRING_AGG"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		// STRING_AGG is an aggregate; a bare reference reaching the
		// scalar dispatch table means the plan builder failed to route
		// it to HashAggregate/StreamAggregate.
		return coretypes.QueryValue{}, errkind.NotSupported.New("STRING_AGG must be planned as an aggregate, not a scalar call")
	}

	scalarFuncs["GETDATE"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		return coretypes.NewTimestamp(time.Now()), nil
	}
	scalarFuncs["SYSUTCDATETIME"] = scalarFuncs["GETDATE"]
	scalarFuncs["DATEADD"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("DATEADD", args, 3); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[2].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewTimestamp(dateAdd(args[0].Str, int(args[1].Int), args[2].Time)), nil
	}
	scalarFuncs["DATEDIFF"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("DATEDIFF", args, 3); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[1].IsNull() || args[2].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewInteger(dateDiff(args[0].Str, args[1].Time, args[2].Time)), nil
	}
	scalarFuncs["DATEPART"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("DATEPART", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[1].IsNull() {
			return coretypes.NewNull(), nil
		}
		n, err := datePart(args[0].Str, args[1].Time)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewInteger(n), nil
	}
	scalarFuncs["DATENAME"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("DATENAME", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[1].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewText(dateName(args[0].Str, args[1].Time)), nil
	}
	scalarFuncs["DAY"] = dateComponent(func(t time.Time) int64 { return int64(t.Day()) })
	scalarFuncs["MONTH"] = dateComponent(func(t time.Time) int64 { return int64(t.Month()) })
	scalarFuncs["YEAR"] = dateComponent(func(t time.Time) int64 { return int64(t.Year()) })
	scalarFuncs["EOMONTH"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("EOMONTH", args, 1); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		t := args[0].Time
		firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return coretypes.NewTimestamp(firstOfNext.AddDate(0, 0, -1)), nil
	}
	scalarFuncs["DATEFROMPARTS"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("DATEFROMPARTS", args, 3); err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewTimestamp(time.Date(int(args[0].Int), time.Month(args[1].Int), int(args[2].Int), 0, 0, 0, 0, time.UTC)), nil
	}
	scalarFuncs["DATETIMEFROMPARTS"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("DATETIMEFROMPARTS", args, 7); err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewTimestamp(time.Date(
			int(args[0].Int), time.Month(args[1].Int), int(args[2].Int),
			int(args[3].Int), int(args[4].Int), int(args[5].Int), int(args[6].Int)*1e6,
			time.UTC)), nil
	}
	scalarFuncs["TIMEFROMPARTS"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("TIMEFROMPARTS", args, 5); err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewTimestamp(time.Date(1, 1, 1, int(args[0].Int), int(args[1].Int), int(args[2].Int), int(args[3].Int)*1e6, time.UTC)), nil
	}

	scalarFuncs["ABS"] = mathUnary("ABS", math.Abs)
	scalarFuncs["CEILING"] = mathUnary("CEILING", math.Ceil)
	scalarFuncs["FLOOR"] = mathUnary("FLOOR", math.Floor)
	scalarFuncs["SQRT"] = mathUnary("SQRT", math.Sqrt)
	scalarFuncs["EXP"] = mathUnary("EXP", math.Exp)
	scalarFuncs["SIN"] = mathUnary("SIN", math.Sin)
	scalarFuncs["COS"] = mathUnary("COS", math.Cos)
	scalarFuncs["TAN"] = mathUnary("TAN", math.Tan)
	scalarFuncs["ASIN"] = mathUnary("ASIN", math.Asin)
	scalarFuncs["ACOS"] = mathUnary("ACOS", math.Acos)
	scalarFuncs["ATAN"] = mathUnary("ATAN", math.Atan)
	scalarFuncs["DEGREES"] = mathUnary("DEGREES", func(x float64) float64 { return x * 180 / math.Pi })
	scalarFuncs["RADIANS"] = mathUnary("RADIANS", func(x float64) float64 { return x * math.Pi / 180 })
	scalarFuncs["SQUARE"] = mathUnary("SQUARE", func(x float64) float64 { return x * x })
	scalarFuncs["SIGN"] = mathUnary("SIGN", func(x float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		default:
			return 0
		}
	})
	scalarFuncs["LOG"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if len(args) < 1 || len(args) > 2 {
			return coretypes.QueryValue{}, errkind.PlanBuildError.New("LOG expects 1 or 2 arguments")
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		x := asFloat(args[0])
		if len(args) == 2 {
			base := asFloat(args[1])
			return coretypes.NewFloating(math.Log(x) / math.Log(base)), nil
		}
		return coretypes.NewFloating(math.Log(x)), nil
	}
	scalarFuncs["LOG10"] = mathUnary("LOG10", math.Log10)
	scalarFuncs["POWER"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("POWER", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewFloating(math.Pow(asFloat(args[0]), asFloat(args[1]))), nil
	}
	scalarFuncs["ATAN2"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("ATAN2", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewFloating(math.Atan2(asFloat(args[0]), asFloat(args[1]))), nil
	}
	scalarFuncs["ROUND"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if len(args) < 1 || len(args) > 2 {
			return coretypes.QueryValue{}, errkind.PlanBuildError.New("ROUND expects 1 or 2 arguments")
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		places := int32(0)
		if len(args) == 2 {
			places = int32(args[1].Int)
		}
		d := asDecimal(args[0])
		return coretypes.NewDecimal(d.Round(places)), nil
	}
	scalarFuncs["RAND"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		return coretypes.NewFloating(rand.Float64()), nil
	}
	scalarFuncs["PI"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		return coretypes.NewFloating(math.Pi), nil
	}

	scalarFuncs["JSON_VALUE"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("JSON_VALUE", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		v, found, err := jsonPathLookup(args[0].Str, args[1].Str)
		if err != nil || !found {
			return coretypes.NewNull(), nil
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			return coretypes.NewNull(), nil // JSON_VALUE rejects objects/arrays
		default:
			return coretypes.NewText(fmt.Sprintf("%v", v)), nil
		}
	}
	scalarFuncs["JSON_QUERY"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("JSON_QUERY", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		v, found, err := jsonPathLookup(args[0].Str, args[1].Str)
		if err != nil || !found {
			return coretypes.NewNull(), nil
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			encoded, err := json.Marshal(v)
			if err != nil {
				return coretypes.NewNull(), nil
			}
			return coretypes.NewText(string(encoded)), nil
		default:
			return coretypes.NewNull(), nil
		}
	}
	scalarFuncs["JSON_PATH_EXISTS"] = func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity("JSON_PATH_EXISTS", args, 2); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewInteger(0), nil
		}
		_, found, err := jsonPathLookup(args[0].Str, args[1].Str)
		if err != nil {
			return coretypes.NewInteger(0), nil
		}
		if found {
			return coretypes.NewInteger(1), nil
		}
		return coretypes.NewInteger(0), nil
	}
}

var scalarFuncs = map[string]scalarFuncApplier{}

// specialFormFuncs names the function-call syntax the compiler dispatches
// before consulting scalarFuncs (no dedicated AST node, spec §4.C).
var specialFormFuncs = []string{"IIF", "COALESCE", "NULLIF"}

// FunctionNames returns the upper-cased name of every scalar function the
// compiler recognizes, special forms included. Used by the intellisense
// package to offer function-call completions (spec §4.I); has no effect
// on compilation.
func FunctionNames() []string {
	names := make([]string, 0, len(scalarFuncs)+len(specialFormFuncs))
	names = append(names, specialFormFuncs...)
	for name := range scalarFuncs {
		names = append(names, name)
	}
	return names
}

func stringUnary(name string, f func(string) string) scalarFuncApplier {
	return func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity(name, args, 1); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewText(f(args[0].Str)), nil
	}
}

func mathUnary(name string, f func(float64) float64) scalarFuncApplier {
	return func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if err := arity(name, args, 1); err != nil {
			return coretypes.QueryValue{}, err
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewFloating(f(asFloat(args[0]))), nil
	}
}

func dateComponent(f func(time.Time) int64) scalarFuncApplier {
	return func(args []coretypes.QueryValue) (coretypes.QueryValue, error) {
		if len(args) != 1 {
			return coretypes.QueryValue{}, errkind.PlanBuildError.New("date component function expects 1 argument")
		}
		if args[0].IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewInteger(f(args[0].Time)), nil
	}
}

func substr(s string, start, length int) string {
	if start < 0 {
		start = 0
	}
	if start >= len(s) {
		return ""
	}
	end := start + length
	if length < 0 || end > len(s) {
		end = len(s)
	}
	if end < start {
		end = start
	}
	return s[start:end]
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func dateAdd(unit string, n int, t time.Time) time.Time {
	switch strings.ToLower(unit) {
	case "year", "yy", "yyyy":
		return t.AddDate(n, 0, 0)
	case "month", "mm", "m":
		return t.AddDate(0, n, 0)
	case "day", "dd", "d":
		return t.AddDate(0, 0, n)
	case "week", "wk", "ww":
		return t.AddDate(0, 0, 7*n)
	case "hour", "hh":
		return t.Add(time.Duration(n) * time.Hour)
	case "minute", "mi", "n":
		return t.Add(time.Duration(n) * time.Minute)
	case "second", "ss", "s":
		return t.Add(time.Duration(n) * time.Second)
	default:
		return t
	}
}

func dateDiff(unit string, start, end time.Time) int64 {
	d := end.Sub(start)
	switch strings.ToLower(unit) {
	case "year", "yy", "yyyy":
		return int64(end.Year() - start.Year())
	case "month", "mm", "m":
		return int64((end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month()))
	case "day", "dd", "d":
		return int64(d.Hours() / 24)
	case "week", "wk", "ww":
		return int64(d.Hours() / 24 / 7)
	case "hour", "hh":
		return int64(d.Hours())
	case "minute", "mi", "n":
		return int64(d.Minutes())
	case "second", "ss", "s":
		return int64(d.Seconds())
	default:
		return 0
	}
}

func datePart(unit string, t time.Time) (int64, error) {
	switch strings.ToLower(unit) {
	case "year", "yy", "yyyy":
		return int64(t.Year()), nil
	case "month", "mm", "m":
		return int64(t.Month()), nil
	case "day", "dd", "d":
		return int64(t.Day()), nil
	case "hour", "hh":
		return int64(t.Hour()), nil
	case "minute", "mi", "n":
		return int64(t.Minute()), nil
	case "second", "ss", "s":
		return int64(t.Second()), nil
	case "weekday", "dw":
		return int64(t.Weekday()) + 1, nil
	default:
		return 0, errkind.NotSupported.New(fmt.Sprintf("DATEPART unit %s", unit))
	}
}

func dateName(unit string, t time.Time) string {
	switch strings.ToLower(unit) {
	case "month", "mm", "m":
		return t.Month().String()
	case "weekday", "dw":
		return t.Weekday().String()
	default:
		return strconv.FormatInt(0, 10)
	}
}

// jsonPathLookup resolves a dotted/bracketed JSON path ($.a.b[0]) against
// raw JSON text. Only the subset SQL Server's lax mode supports is
// implemented: no third-party JSONPath library appears anywhere in the
// example pack, so this stays a small hand-rolled walker rather than
// importing one for three call sites.
func jsonPathLookup(raw, path string) (interface{}, bool, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, err
	}
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, "lax ")
	path = strings.TrimPrefix(path, "strict ")
	cur := doc
	for _, seg := range splitJSONPath(path) {
		if seg == "" {
			continue
		}
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := cur.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false, nil
			}
			cur = arr[idx]
			continue
		}
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false, nil
		}
		v, ok := obj[seg]
		if !ok {
			return nil, false, nil
		}
		cur = v
	}
	return cur, true, nil
}

func splitJSONPath(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	return strings.Split(path, ".")
}
