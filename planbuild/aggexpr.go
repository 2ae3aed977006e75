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
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/exprcompile"
	"github.com/xrmsql/engine/plan"
)

var aggFuncNames = map[string]plan.AggFuncKind{
	"SUM":         plan.AggSum,
	"COUNT":       plan.AggCount,
	"MIN":         plan.AggMin,
	"MAX":         plan.AggMax,
	"STRING_AGG":  plan.AggStringAgg,
}

// isAggregateCall reports whether e is a (non-windowed) aggregate
// function invocation.
func isAggregateCall(e *ast.FuncCall) bool {
	if e.Over != nil {
		return false
	}
	_, ok := aggFuncNames[strings.ToUpper(e.Name)]
	return ok || strings.EqualFold(e.Name, "AVG")
}

// containsAggregate reports whether stmt's SELECT list, HAVING or ORDER BY
// references a non-windowed aggregate, or it has a GROUP BY — either of
// which routes it through aggregate planning (spec §4.B).
func containsAggregate(stmt *ast.SelectStmt) bool {
	if len(stmt.GroupBy) > 0 {
		return true
	}
	found := false
	walk := func(expr ast.Expr) {
		walkExpr(expr, func(e ast.Expr) {
			if fc, ok := e.(*ast.FuncCall); ok && isAggregateCall(fc) {
				found = true
			}
		})
	}
	for _, c := range stmt.Columns {
		walk(c.Expr)
	}
	walk(stmt.Having)
	for _, o := range stmt.OrderBy {
		walk(o.Expr)
	}
	return found
}

// containsCountDistinct reports a COUNT(DISTINCT ...), which disqualifies
// the aggregate-partitioning rewrite entirely (spec §4.B, §4.F: partial
// counts of distinct sets cannot be merged).
func containsCountDistinct(stmt *ast.SelectStmt) bool {
	found := false
	walk := func(expr ast.Expr) {
		walkExpr(expr, func(e ast.Expr) {
			if fc, ok := e.(*ast.FuncCall); ok && strings.EqualFold(fc.Name, "COUNT") && fc.Distinct {
				found = true
			}
		})
	}
	for _, c := range stmt.Columns {
		walk(c.Expr)
	}
	walk(stmt.Having)
	return found
}

// walkExpr calls visit on every expression node reachable from expr
// (expr included), without rewriting anything.
func walkExpr(expr ast.Expr, visit func(ast.Expr)) {
	if expr == nil {
		return
	}
	visit(expr)
	switch e := expr.(type) {
	case *ast.UnaryExpr:
		walkExpr(e.Expr, visit)
	case *ast.BinaryExpr:
		walkExpr(e.Left, visit)
		walkExpr(e.Right, visit)
		walkExpr(e.Escape, visit)
		for _, v := range e.InList {
			walkExpr(v, visit)
		}
	case *ast.CaseExpr:
		walkExpr(e.Operand, visit)
		walkExpr(e.Else, visit)
		for _, w := range e.Whens {
			walkExpr(w.When, visit)
			walkExpr(w.Then, visit)
		}
	case *ast.CastExpr:
		walkExpr(e.Expr, visit)
	case *ast.FuncCall:
		for _, a := range e.Args {
			walkExpr(a, visit)
		}
	}
}

// aggregatePlan is one SELECT-list entry's worth of bookkeeping for
// HashAggregate/StreamAggregate/MergeAggregate construction: the
// compiled AggregateExpr plus, for AVG, the synthesized companion SUM
// and COUNT aliases a trailing Project divides back together.
type aggregatePlan struct {
	aggs       []plan.AggregateExpr
	avgAliases map[string][2]string // output alias -> {sum alias, count alias}
}

// buildAggregateExpr compiles one aggregate FuncCall into a
// plan.AggregateExpr (or, for AVG, into a SUM+COUNT pair folded back
// together by the caller). alias is the output column name.
func (ap *aggregatePlan) add(fc *ast.FuncCall, alias string, scopes []tableScope) error {
	name := strings.ToUpper(fc.Name)
	if name == "AVG" {
		if len(fc.Args) != 1 {
			return errkind.PlanBuildError.New("AVG takes exactly one argument")
		}
		argExpr, err := qualifyExpr(fc.Args[0], scopes)
		if err != nil {
			return err
		}
		arg, err := exprcompile.CompileScalar(argExpr)
		if err != nil {
			return err
		}
		sumAlias := alias + "$sum"
		countAlias := alias + "$count"
		ap.aggs = append(ap.aggs,
			plan.AggregateExpr{Func: plan.AggSum, Arg: arg, Alias: sumAlias},
			plan.AggregateExpr{Func: plan.AggCount, Arg: arg, Alias: countAlias},
		)
		if ap.avgAliases == nil {
			ap.avgAliases = map[string][2]string{}
		}
		ap.avgAliases[alias] = [2]string{sumAlias, countAlias}
		return nil
	}
	if name == "COUNT" && fc.Distinct {
		var arg exprcompile.Scalar
		if len(fc.Args) == 1 {
			argExpr, err := qualifyExpr(fc.Args[0], scopes)
			if err != nil {
				return err
			}
			a, err := exprcompile.CompileScalar(argExpr)
			if err != nil {
				return err
			}
			arg = a
		}
		ap.aggs = append(ap.aggs, plan.AggregateExpr{Func: plan.AggCountDistinct, Arg: arg, Alias: alias})
		return nil
	}
	kind, ok := aggFuncNames[name]
	if !ok {
		return errkind.NotSupported.New("aggregate function " + fc.Name)
	}
	var arg exprcompile.Scalar
	var sep exprcompile.Scalar
	if len(fc.Args) >= 1 && !(name == "COUNT" && isCountStar(fc)) {
		argExpr, err := qualifyExpr(fc.Args[0], scopes)
		if err != nil {
			return err
		}
		a, err := exprcompile.CompileScalar(argExpr)
		if err != nil {
			return err
		}
		arg = a
	}
	if name == "STRING_AGG" && len(fc.Args) == 2 {
		sepExpr, err := qualifyExpr(fc.Args[1], scopes)
		if err != nil {
			return err
		}
		s, err := exprcompile.CompileScalar(sepExpr)
		if err != nil {
			return err
		}
		sep = s
	}
	ap.aggs = append(ap.aggs, plan.AggregateExpr{Func: kind, Arg: arg, Alias: alias, Sep: sep})
	return nil
}

// isCountStar reports whether fc is COUNT(*) or the argument-less COUNT()
// form, which carries no scalar operand to compile.
func isCountStar(fc *ast.FuncCall) bool {
	if len(fc.Args) == 0 {
		return true
	}
	lit, ok := fc.Args[0].(*ast.Literal)
	return ok && lit.Kind == ast.LitInt && lit.Text == "1"
}
