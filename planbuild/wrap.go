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
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
	"github.com/xrmsql/engine/plan"
)

// wrapSelectClauses applies every clause a SELECT can carry beyond its
// FROM: WHERE, then either GROUP BY/aggregates or (for a non-aggregating
// SELECT) window functions, then HAVING, the SELECT list itself, DISTINCT,
// ORDER BY, then TOP/OFFSET-FETCH (spec §4.B, §4.C, §4.D). It is the shared tail
// every buildSelect routing branch funnels into once its own source node
// and scopes are ready.
func (bc *buildContext) wrapSelectClauses(sel *ast.SelectStmt, node plan.Node, scopes []tableScope) (plan.Node, error) {
	node, scopes, where, err := bc.rewriteSubqueryPredicates(sel.Where, node, scopes)
	if err != nil {
		return nil, err
	}
	if where != nil {
		qualified, err := qualifyExpr(where, scopes)
		if err != nil {
			return nil, err
		}
		pred, err := exprcompile.CompilePredicate(qualified)
		if err != nil {
			return nil, err
		}
		node = plan.NewClientFilter(node, pred)
	}

	aggregating := len(sel.GroupBy) > 0 || containsAggregate(sel)
	var precomputed []string
	having := sel.Having

	switch {
	case aggregating:
		var err error
		node, scopes, precomputed, having, err = bc.buildAggregation(sel, node, scopes)
		if err != nil {
			return nil, err
		}
	case hasWindowFuncs(sel):
		var err error
		node, scopes, precomputed, err = bc.buildWindowSpool(sel, node, scopes)
		if err != nil {
			return nil, err
		}
	}

	return bc.finishSelect(sel, node, scopes, precomputed, having)
}

// finishSelect runs the tail every SELECT routing branch shares once its
// grouping/windowing stage (if any) is settled: HAVING, the SELECT-list
// projection, DISTINCT, then ORDER BY/TOP/OFFSET-FETCH. The adaptive
// aggregate partitioning path (spec §4.F) builds its own MergeAggregate
// in place of wrapSelectClauses' buildAggregation call but still needs
// this same tail, so it is shared rather than duplicated.
func (bc *buildContext) finishSelect(sel *ast.SelectStmt, node plan.Node, scopes []tableScope, precomputed []string, having ast.Expr) (plan.Node, error) {
	if having != nil {
		qualified, err := qualifyExpr(having, scopes)
		if err != nil {
			return nil, err
		}
		pred, err := exprcompile.CompilePredicate(qualified)
		if err != nil {
			return nil, err
		}
		node = plan.NewClientFilter(node, pred)
	}

	node, schema, err := bc.buildProjection(sel, node, scopes, precomputed)
	if err != nil {
		return nil, err
	}
	scopes = []tableScope{newScope("", schema.Names())}

	if sel.Distinct {
		node = plan.NewDistinct(node)
	}

	return bc.applyOrderTopFetch(sel, node, scopes)
}

// applyOrderTopFetch applies ORDER BY, TOP and OFFSET-FETCH against an
// already-projected node, shared by the default SELECT path and the
// adaptive aggregate path (spec §4.B, §4.D).
func (bc *buildContext) applyOrderTopFetch(sel *ast.SelectStmt, node plan.Node, scopes []tableScope) (plan.Node, error) {
	if len(sel.OrderBy) > 0 {
		keys := make([]plan.SortKey, len(sel.OrderBy))
		for i, o := range sel.OrderBy {
			qualified, err := qualifyExpr(o.Expr, scopes)
			if err != nil {
				return nil, err
			}
			ce, err := exprcompile.CompileScalar(qualified)
			if err != nil {
				return nil, err
			}
			keys[i] = plan.SortKey{Expr: ce, Desc: o.Desc}
			if qc, ok := qualified.(*ast.ColumnRef); ok {
				keys[i].Column = qc.Column
			}
		}
		node = plan.NewSort(node, keys)
	}

	if sel.Top != nil {
		n, err := evalConstInt(sel.Top.Count)
		if err != nil {
			return nil, err
		}
		node = plan.NewTop(node, n)
	}

	if sel.Offset != nil || sel.Fetch != nil {
		offset := 0
		if sel.Offset != nil {
			v, err := evalConstInt(sel.Offset)
			if err != nil {
				return nil, err
			}
			offset = v
		}
		fetch := -1
		if sel.Fetch != nil {
			v, err := evalConstInt(sel.Fetch)
			if err != nil {
				return nil, err
			}
			fetch = v
		}
		node = plan.NewOffsetFetch(node, offset, fetch)
	}

	return node, nil
}

// evalConstInt compiles and immediately evaluates a literal integer
// expression, the same trick pushdown.go's literalValue uses for pushed
// filter values (TOP count, OFFSET/FETCH row counts never reference a
// row).
func evalConstInt(e ast.Expr) (int, error) {
	s, err := exprcompile.CompileScalar(e)
	if err != nil {
		return 0, err
	}
	v, err := s(nil, coretypes.Row{})
	if err != nil {
		return 0, err
	}
	return int(v.Int), nil
}

// buildAggregation plans GROUP BY/aggregate functions (spec §4.B, §4.D,
// §4.F): every non-windowed aggregate call in the SELECT list or HAVING
// becomes one plan.AggregateExpr, folded through HashAggregate and then a
// recombination Project that divides AVG's SUM/COUNT pair back together
// (returning NULL rather than exprcompile's divide-by-zero error when a
// group's COUNT is zero, since COUNT is never itself null).
//
// Only a SELECT-list item that is itself a bare aggregate call is
// planned; an aggregate nested inside a larger expression (`SUM(x)*2`) is
// rejected instead of partially planned (documented simplification,
// DESIGN.md). HAVING may reference a SELECT-list alias directly or embed
// its own aggregate call; the latter is given a synthesized internal
// alias and recombined identically.
func (bc *buildContext) buildAggregation(sel *ast.SelectStmt, node plan.Node, scopes []tableScope) (plan.Node, []tableScope, []string, ast.Expr, error) {
	inputSchema := node.Schema()
	ap := &aggregatePlan{}
	precomputed := make([]string, len(sel.Columns))

	for i, item := range sel.Columns {
		if item.Star {
			return nil, nil, nil, nil, errkind.NotSupported.New("* in an aggregate SELECT")
		}
		if fc, ok := item.Expr.(*ast.FuncCall); ok && isAggregateCall(fc) {
			alias := item.Alias
			if alias == "" {
				alias = fmt.Sprintf("col%d", i+1)
			}
			if err := ap.add(fc, alias, scopes); err != nil {
				return nil, nil, nil, nil, err
			}
			precomputed[i] = alias
			continue
		}
		if containsAggregate(&ast.SelectStmt{Columns: []ast.SelectItem{item}}) {
			return nil, nil, nil, nil, errkind.NotSupported.New("aggregate nested inside a larger SELECT-list expression")
		}
	}

	havingAliasOf := map[*ast.FuncCall]string{}
	n := 0
	walkExpr(sel.Having, func(e ast.Expr) {
		if fc, ok := e.(*ast.FuncCall); ok && isAggregateCall(fc) {
			n++
			havingAliasOf[fc] = fmt.Sprintf("$having%d", n)
		}
	})
	for fc, alias := range havingAliasOf {
		if err := ap.add(fc, alias, scopes); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	having := rewriteHavingAggregates(sel.Having, havingAliasOf)

	keyCols := make([]string, len(sel.GroupBy))
	keyExprs := make([]exprcompile.Scalar, len(sel.GroupBy))
	for i, g := range sel.GroupBy {
		if _, ok := isBareColumn(g); !ok {
			return nil, nil, nil, nil, errkind.NotSupported.New("GROUP BY term must be a bare column")
		}
		qualified, err := qualifyExpr(g, scopes)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		qc := qualified.(*ast.ColumnRef)
		ce, err := exprcompile.CompileScalar(qualified)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		keyCols[i] = qc.Column
		keyExprs[i] = ce
	}

	rawSchema := make(coretypes.Schema, 0, len(keyCols)+len(ap.aggs))
	for _, k := range keyCols {
		rawSchema = append(rawSchema, columnDescriptorByName(inputSchema, k))
	}
	for _, a := range ap.aggs {
		rawSchema = append(rawSchema, coretypes.ColumnDescriptor{Name: a.Alias, Tag: aggResultTag(a.Func)})
	}

	var aggregated plan.Node
	if len(keyCols) > 0 && plan.SortedOn(node, keyCols) {
		aggregated = plan.NewStreamAggregate(node, keyExprs, keyCols, ap.aggs, rawSchema)
	} else {
		aggregated = plan.NewHashAggregate(node, keyExprs, keyCols, ap.aggs, rawSchema)
	}

	exprs := make([]exprcompile.Scalar, 0, len(keyCols)+len(ap.aggs))
	schema := make(coretypes.Schema, 0, cap(exprs))
	finalNames := make([]string, 0, cap(exprs))
	for _, k := range keyCols {
		exprs = append(exprs, columnPassthrough(k))
		schema = append(schema, columnDescriptorByName(inputSchema, k))
		finalNames = append(finalNames, k)
	}

	emitted := map[string]bool{}
	emitAlias := func(alias string) {
		if emitted[alias] {
			return
		}
		emitted[alias] = true
		if pair, ok := ap.avgAliases[alias]; ok {
			exprs = append(exprs, avgRecombine(pair[0], pair[1]))
			schema = append(schema, coretypes.ColumnDescriptor{Name: alias, Tag: coretypes.Decimal})
		} else {
			exprs = append(exprs, columnPassthrough(alias))
			schema = append(schema, columnDescriptorByName(rawSchema, alias))
		}
		finalNames = append(finalNames, alias)
	}
	for _, alias := range precomputed {
		if alias != "" {
			emitAlias(alias)
		}
	}
	for _, alias := range havingAliasOf {
		emitAlias(alias)
	}

	recombined := plan.NewProject(aggregated, exprs, schema)

	combined := newScope("", finalNames)
	newScopes := make([]tableScope, 0, len(scopes)+1)
	for _, s := range scopes {
		newScopes = append(newScopes, tableScope{alias: s.alias, columns: combined.columns})
	}
	newScopes = append(newScopes, combined)

	return recombined, newScopes, precomputed, having, nil
}

// rewriteHavingAggregates deep-copies having, replacing each FuncCall key
// of aliasOf with a reference to the synthesized alias column buildAggregation
// already arranged to compute.
func rewriteHavingAggregates(expr ast.Expr, aliasOf map[*ast.FuncCall]string) ast.Expr {
	if expr == nil {
		return nil
	}
	if fc, ok := expr.(*ast.FuncCall); ok {
		if alias, ok := aliasOf[fc]; ok {
			return &ast.ColumnRef{Column: alias}
		}
		return expr
	}
	switch e := expr.(type) {
	case *ast.UnaryExpr:
		cp := *e
		cp.Expr = rewriteHavingAggregates(e.Expr, aliasOf)
		return &cp
	case *ast.BinaryExpr:
		cp := *e
		cp.Left = rewriteHavingAggregates(e.Left, aliasOf)
		cp.Right = rewriteHavingAggregates(e.Right, aliasOf)
		cp.Escape = rewriteHavingAggregates(e.Escape, aliasOf)
		if e.InList != nil {
			cp.InList = make([]ast.Expr, len(e.InList))
			for i, v := range e.InList {
				cp.InList[i] = rewriteHavingAggregates(v, aliasOf)
			}
		}
		return &cp
	case *ast.CaseExpr:
		cp := *e
		cp.Operand = rewriteHavingAggregates(e.Operand, aliasOf)
		cp.Else = rewriteHavingAggregates(e.Else, aliasOf)
		cp.Whens = make([]ast.WhenClause, len(e.Whens))
		for i, w := range e.Whens {
			cp.Whens[i] = ast.WhenClause{When: rewriteHavingAggregates(w.When, aliasOf), Then: rewriteHavingAggregates(w.Then, aliasOf)}
		}
		return &cp
	case *ast.CastExpr:
		cp := *e
		cp.Expr = rewriteHavingAggregates(e.Expr, aliasOf)
		return &cp
	default:
		return expr
	}
}

// avgRecombine divides a SUM/COUNT pair back into an average, the
// companion-column scheme spec §4.F and xmlgen's own AVG handling both
// use. It never goes through exprcompile.CompileScalar: COUNT is a valid
// non-null zero for an empty group, which the general division operator
// would wrongly reject as execution failure rather than fold to NULL.
func avgRecombine(sumAlias, countAlias string) exprcompile.Scalar {
	return func(_ *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		countVal, _ := row.Get(countAlias)
		if countVal.Int == 0 {
			return coretypes.NewNull(), nil
		}
		sumVal, _ := row.Get(sumAlias)
		if sumVal.IsNull() {
			return coretypes.NewNull(), nil
		}
		return coretypes.NewDecimal(sumVal.Dec.Div(decimal.NewFromInt(countVal.Int))), nil
	}
}

func aggResultTag(kind plan.AggFuncKind) coretypes.Tag {
	switch kind {
	case plan.AggCount, plan.AggCountDistinct:
		return coretypes.Integer
	case plan.AggStringAgg:
		return coretypes.Text
	default:
		return coretypes.Decimal
	}
}

func columnDescriptorByName(schema coretypes.Schema, name string) coretypes.ColumnDescriptor {
	for _, c := range schema {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return coretypes.ColumnDescriptor{Name: name, Tag: coretypes.Text}
}

func columnOwnedByAlias(scopes []tableScope, alias, column string) bool {
	for _, s := range scopes {
		if strings.EqualFold(s.alias, alias) {
			_, ok := s.columns[strings.ToLower(column)]
			return ok
		}
	}
	return false
}

// hasWindowFuncs reports whether sel's SELECT list invokes any OVER(...)
// window function (spec §4.C, §4.D).
func hasWindowFuncs(sel *ast.SelectStmt) bool {
	for _, item := range sel.Columns {
		if fc, ok := item.Expr.(*ast.FuncCall); ok && fc.Over != nil {
			return true
		}
	}
	return false
}

var windowFuncNames = map[string]plan.WindowFuncKind{
	"RANK":         plan.WinRank,
	"DENSE_RANK":   plan.WinDenseRank,
	"CUME_DIST":    plan.WinCumeDist,
	"PERCENT_RANK": plan.WinPercentRank,
	"NTILE":        plan.WinNtile,
	"ROW_NUMBER":   plan.WinRowNumber,
	"LAG":          plan.WinLag,
	"LEAD":         plan.WinLead,
	"FIRST_VALUE":  plan.WinFirstValue,
	"LAST_VALUE":   plan.WinLastValue,
}

// buildWindowSpool wraps node in a WindowSpool computing one column per
// OVER(...) SELECT-list item (spec §4.C, §4.D). Window functions and
// aggregate GROUP BY planning never appear in the same SELECT in the
// scripts this engine targets, so the two paths are mutually exclusive
// (isAggregateCall already excludes any FuncCall carrying an OVER
// clause).
func (bc *buildContext) buildWindowSpool(sel *ast.SelectStmt, node plan.Node, scopes []tableScope) (plan.Node, []tableScope, []string, error) {
	precomputed := make([]string, len(sel.Columns))
	var windows []plan.WindowExpr
	for i, item := range sel.Columns {
		fc, ok := item.Expr.(*ast.FuncCall)
		if !ok || fc.Over == nil {
			continue
		}
		alias := item.Alias
		if alias == "" {
			alias = fmt.Sprintf("col%d", i+1)
		}
		we, err := bc.buildWindowExpr(fc, alias, scopes)
		if err != nil {
			return nil, nil, nil, err
		}
		windows = append(windows, we)
		precomputed[i] = alias
	}
	if len(windows) == 0 {
		return node, scopes, precomputed, nil
	}

	schema := append(coretypes.Schema{}, node.Schema()...)
	for _, w := range windows {
		schema = append(schema, coretypes.ColumnDescriptor{Name: w.Alias, Tag: windowResultTag(w)})
	}
	spooled := plan.NewWindowSpool(node, windows, schema)

	names := make([]string, len(windows))
	for i, w := range windows {
		names[i] = w.Alias
	}
	newScopes := append(append([]tableScope{}, scopes...), newScope("", names))
	return spooled, newScopes, precomputed, nil
}

func windowResultTag(w plan.WindowExpr) coretypes.Tag {
	if w.AggFunc != nil {
		return aggResultTag(w.AggFunc.Func)
	}
	switch w.Kind {
	case plan.WinCumeDist, plan.WinPercentRank:
		return coretypes.Floating
	case plan.WinRank, plan.WinDenseRank, plan.WinNtile, plan.WinRowNumber:
		return coretypes.Integer
	default:
		return coretypes.Text
	}
}

// buildWindowExpr compiles one OVER(...) FuncCall into a plan.WindowExpr.
// SUM/COUNT/MIN/MAX OVER(...) reuse AggFuncKind through WindowExpr.AggFunc
// rather than duplicating accumulators (spec §4.C); AVG OVER(...) is
// rejected rather than silently decomposed, since a running-frame
// SUM/COUNT split would need per-row recombination WindowSpool has no
// hook for (documented simplification, DESIGN.md).
func (bc *buildContext) buildWindowExpr(fc *ast.FuncCall, alias string, scopes []tableScope) (plan.WindowExpr, error) {
	we := plan.WindowExpr{Alias: alias}
	for _, p := range fc.Over.PartitionBy {
		qualified, err := qualifyExpr(p, scopes)
		if err != nil {
			return we, err
		}
		ce, err := exprcompile.CompileScalar(qualified)
		if err != nil {
			return we, err
		}
		we.PartitionBy = append(we.PartitionBy, ce)
	}
	for _, o := range fc.Over.OrderBy {
		qualified, err := qualifyExpr(o.Expr, scopes)
		if err != nil {
			return we, err
		}
		ce, err := exprcompile.CompileScalar(qualified)
		if err != nil {
			return we, err
		}
		we.OrderBy = append(we.OrderBy, plan.SortKey{Expr: ce, Desc: o.Desc})
	}

	name := strings.ToUpper(fc.Name)
	if name == "AVG" {
		return we, errkind.NotSupported.New("AVG() OVER(...) is not supported")
	}
	if kind, ok := aggFuncNames[name]; ok {
		ap := &aggregatePlan{}
		if err := ap.add(fc, alias, scopes); err != nil {
			return we, err
		}
		agg := ap.aggs[len(ap.aggs)-1]
		_ = kind
		we.AggFunc = &agg
		return we, nil
	}

	kind, ok := windowFuncNames[name]
	if !ok {
		return we, errkind.NotSupported.New("window function " + fc.Name)
	}
	we.Kind = kind
	switch kind {
	case plan.WinLag, plan.WinLead:
		we.Offset = 1
		if len(fc.Args) >= 1 {
			argExpr, err := qualifyExpr(fc.Args[0], scopes)
			if err != nil {
				return we, err
			}
			ce, err := exprcompile.CompileScalar(argExpr)
			if err != nil {
				return we, err
			}
			we.Arg = ce
		}
		if len(fc.Args) >= 2 {
			if lit, ok := fc.Args[1].(*ast.Literal); ok {
				if n, err := strconv.Atoi(lit.Text); err == nil {
					we.Offset = n
				}
			}
		}
	case plan.WinFirstValue, plan.WinLastValue:
		if len(fc.Args) >= 1 {
			argExpr, err := qualifyExpr(fc.Args[0], scopes)
			if err != nil {
				return we, err
			}
			ce, err := exprcompile.CompileScalar(argExpr)
			if err != nil {
				return we, err
			}
			we.Arg = ce
		}
	case plan.WinNtile:
		if len(fc.Args) == 1 {
			if lit, ok := fc.Args[0].(*ast.Literal); ok {
				if n, err := strconv.Atoi(lit.Text); err == nil {
					we.Offset = n
				}
			}
		}
	}
	return we, nil
}

// buildProjection evaluates the SELECT list against node, the shared
// final step of every routing branch. precomputed[i], when non-empty,
// names a column buildAggregation or buildWindowSpool already computed
// for item i; buildProjection then only needs to pass it through rather
// than recompile the original aggregate/window FuncCall, which
// exprcompile has no notion of.
func (bc *buildContext) buildProjection(sel *ast.SelectStmt, node plan.Node, scopes []tableScope, precomputed []string) (plan.Node, coretypes.Schema, error) {
	nodeSchema := node.Schema()
	exprs := make([]exprcompile.Scalar, 0, len(sel.Columns))
	schema := make(coretypes.Schema, 0, len(sel.Columns))

	for i, item := range sel.Columns {
		if item.Star {
			for _, c := range nodeSchema {
				if item.StarTable != "" && !columnOwnedByAlias(scopes, item.StarTable, c.Name) {
					continue
				}
				exprs = append(exprs, columnPassthrough(c.Name))
				schema = append(schema, c)
			}
			continue
		}

		if i < len(precomputed) && precomputed[i] != "" {
			alias := precomputed[i]
			exprs = append(exprs, columnPassthrough(alias))
			schema = append(schema, columnDescriptorByName(nodeSchema, alias))
			continue
		}

		qualified, err := qualifyExpr(item.Expr, scopes)
		if err != nil {
			return nil, nil, err
		}
		ce, err := exprcompile.CompileScalar(qualified)
		if err != nil {
			return nil, nil, err
		}
		alias := item.Alias
		tag := coretypes.Text
		if col, ok := isBareColumn(item.Expr); ok {
			if alias == "" {
				alias = col.Column
			}
			if resolved, err := resolveColumn(scopes, col.Table, col.Column); err == nil {
				tag = columnDescriptorByName(nodeSchema, resolved).Tag
			}
		}
		if alias == "" {
			alias = fmt.Sprintf("col%d", i+1)
		}
		exprs = append(exprs, ce)
		schema = append(schema, coretypes.ColumnDescriptor{Name: alias, Tag: tag})
	}

	return plan.NewProject(node, exprs, schema), schema, nil
}
