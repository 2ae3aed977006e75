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
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
	"github.com/xrmsql/engine/plan"
)

// rewriteSubqueryPredicates turns every subquery-shaped conjunct of a
// WHERE clause into a join around node, per spec §4.B: IN (SELECT ...)
// becomes a semi-join, NOT IN an anti-join (null-aware), EXISTS a
// semi-join, NOT EXISTS an anti-join, and a scalar subquery inside any
// other conjunct becomes a left outer join over an AssertSingleRow.
// Conjuncts with no subquery come back as the residual expression for
// the ordinary ClientFilter path. scopes may grow when a scalar
// subquery's synthetic output column joins the visible row.
func (bc *buildContext) rewriteSubqueryPredicates(where ast.Expr, node plan.Node, scopes []tableScope) (plan.Node, []tableScope, ast.Expr, error) {
	if where == nil {
		return node, scopes, nil, nil
	}
	var residual []ast.Expr
	for _, c := range splitAnd(where) {
		switch e := c.(type) {
		case *ast.BinaryExpr:
			if e.Op == ast.OpIn && e.InSubquery != nil {
				joined, err := bc.rewriteInSubquery(e, node, scopes)
				if err != nil {
					return nil, nil, nil, err
				}
				node = joined
				continue
			}
		case *ast.SubqueryExpr:
			if e.Exists {
				joined, err := bc.rewriteExists(e, false, node, scopes)
				if err != nil {
					return nil, nil, nil, err
				}
				node = joined
				continue
			}
		case *ast.UnaryExpr:
			if e.Op == ast.OpNot {
				if se, ok := e.Expr.(*ast.SubqueryExpr); ok && se.Exists {
					joined, err := bc.rewriteExists(se, true, node, scopes)
					if err != nil {
						return nil, nil, nil, err
					}
					node = joined
					continue
				}
			}
		}
		if containsScalarSubquery(c) {
			lifted, joined, grown, err := bc.liftScalarSubqueries(c, node, scopes)
			if err != nil {
				return nil, nil, nil, err
			}
			node, scopes = joined, grown
			residual = append(residual, lifted)
			continue
		}
		residual = append(residual, c)
	}
	return node, scopes, rebuildAnd(residual), nil
}

// rewriteInSubquery builds `left IN (subquery)` as a semi-join of node
// against the subquery's single output column, or `NOT IN` as a
// null-aware anti-join: a null on either side of the comparison keeps
// the outer row out of the result, matching T-SQL's three-valued NOT IN.
func (bc *buildContext) rewriteInSubquery(be *ast.BinaryExpr, node plan.Node, scopes []tableScope) (plan.Node, error) {
	sub, err := bc.buildQueryExpr(be.InSubquery)
	if err != nil {
		return nil, err
	}
	if len(sub.Schema()) != 1 {
		return nil, errkind.PlanBuildError.New("IN subquery must return exactly one column")
	}
	synth := bc.bld.nextSynthetic("in")
	projected := renameOnlyColumn(sub, synth)

	qLeft, err := qualifyExpr(be.Left, scopes)
	if err != nil {
		return nil, err
	}
	synthRef := &ast.ColumnRef{Column: synth}
	var predExpr ast.Expr = &ast.BinaryExpr{Op: ast.OpEq, Left: qLeft, Right: synthRef}
	kind := plan.JoinSemi
	if be.Negated {
		kind = plan.JoinAnti
		predExpr = &ast.BinaryExpr{
			Op:   ast.OpOr,
			Left: predExpr,
			Right: &ast.BinaryExpr{
				Op:    ast.OpOr,
				Left:  &ast.UnaryExpr{Op: ast.OpIsNull, Expr: qLeft},
				Right: &ast.UnaryExpr{Op: ast.OpIsNull, Expr: synthRef},
			},
		}
	}
	pred, err := exprcompile.CompilePredicate(predExpr)
	if err != nil {
		return nil, err
	}
	return plan.NewNestedLoopJoin(node, projected, kind, pred), nil
}

// rewriteExists builds EXISTS as a semi-join and NOT EXISTS as an
// anti-join. A correlated subquery is decorrelated first: each WHERE
// conjunct referencing the outer scope moves out of the subquery and
// into the join predicate, with the inner columns it touches added to
// the subquery's projection under synthetic names.
func (bc *buildContext) rewriteExists(se *ast.SubqueryExpr, negated bool, node plan.Node, scopes []tableScope) (plan.Node, error) {
	kind := plan.JoinSemi
	if negated {
		kind = plan.JoinAnti
	}
	sel, ok := se.Query.(*ast.SelectStmt)
	if !ok {
		sub, err := bc.buildQueryExpr(se.Query)
		if err != nil {
			return nil, err
		}
		return plan.NewNestedLoopJoin(node, sub, kind, alwaysTrue), nil
	}

	innerAliases := tableAliases(sel.From)
	var local, corr []ast.Expr
	if sel.Where != nil {
		for _, c := range splitAnd(sel.Where) {
			if bc.referencesOuter(c, scopes, innerAliases, sel.From) {
				corr = append(corr, c)
			} else {
				local = append(local, c)
			}
		}
	}
	if len(corr) == 0 {
		sub, err := bc.buildSelect(sel)
		if err != nil {
			return nil, err
		}
		return plan.NewNestedLoopJoin(node, sub, kind, alwaysTrue), nil
	}

	inner := *sel
	inner.Where = rebuildAnd(local)
	synthByInner := map[string]string{}
	var extraItems []ast.SelectItem
	rewritten := make([]ast.Expr, len(corr))
	for i, c := range corr {
		rc, err := bc.rewriteCorrelatedConjunct(c, scopes, innerAliases, sel.From, synthByInner, &extraItems)
		if err != nil {
			return nil, err
		}
		rewritten[i] = rc
	}
	inner.Columns = append(append([]ast.SelectItem{}, sel.Columns...), extraItems...)

	sub, err := bc.buildSelect(&inner)
	if err != nil {
		return nil, err
	}
	pred, err := exprcompile.CompilePredicate(rebuildAnd(rewritten))
	if err != nil {
		return nil, err
	}
	return plan.NewNestedLoopJoin(node, sub, kind, pred), nil
}

// liftScalarSubqueries replaces every scalar SubqueryExpr inside c with a
// synthetic column reference, joining node to each subquery's
// AssertSingleRow-guarded output via a left outer join so a zero-row
// subquery reads as null, per T-SQL scalar-subquery semantics. The
// rewritten conjunct stays client-side; the grown scope list lets the
// caller's qualification pass resolve the synthetic columns.
func (bc *buildContext) liftScalarSubqueries(c ast.Expr, node plan.Node, scopes []tableScope) (ast.Expr, plan.Node, []tableScope, error) {
	var buildErr error
	lifted := replaceExpr(c, func(e ast.Expr) (ast.Expr, bool) {
		se, ok := e.(*ast.SubqueryExpr)
		if !ok || se.Exists || buildErr != nil {
			return nil, false
		}
		sub, err := bc.buildQueryExpr(se.Query)
		if err != nil {
			buildErr = err
			return nil, false
		}
		if len(sub.Schema()) != 1 {
			buildErr = errkind.PlanBuildError.New("scalar subquery must return exactly one column")
			return nil, false
		}
		synth := bc.bld.nextSynthetic("sq")
		guarded := plan.NewAssertSingleRow(renameOnlyColumn(sub, synth))
		node = plan.NewNestedLoopJoin(node, guarded, plan.JoinLeftOuter, alwaysTrue)
		scopes = append(scopes, newScope("", []string{synth}))
		return &ast.ColumnRef{Column: synth}, true
	})
	if buildErr != nil {
		return nil, nil, nil, buildErr
	}
	return lifted, node, scopes, nil
}

// rewriteCorrelatedConjunct rewrites one correlated conjunct for use as
// a join predicate over the combined outer+subquery row: outer column
// references resolve through the outer scopes, inner references are
// replaced by synthetic names and recorded as extra projection items on
// the subquery.
func (bc *buildContext) rewriteCorrelatedConjunct(c ast.Expr, scopes []tableScope, innerAliases map[string]bool, innerFrom []ast.TableSource, synthByInner map[string]string, extraItems *[]ast.SelectItem) (ast.Expr, error) {
	var rwErr error
	out := replaceExpr(c, func(e ast.Expr) (ast.Expr, bool) {
		cr, ok := e.(*ast.ColumnRef)
		if !ok || rwErr != nil {
			return nil, false
		}
		if bc.isInnerRef(cr, innerAliases, innerFrom, scopes) {
			key := strings.ToLower(cr.Table + "." + cr.Column)
			synth, seen := synthByInner[key]
			if !seen {
				synth = bc.bld.nextSynthetic("corr")
				synthByInner[key] = synth
				cp := *cr
				*extraItems = append(*extraItems, ast.SelectItem{Expr: &cp, Alias: synth})
			}
			return &ast.ColumnRef{Column: synth}, true
		}
		resolved, err := resolveColumn(scopes, cr.Table, cr.Column)
		if err != nil {
			rwErr = err
			return nil, false
		}
		return &ast.ColumnRef{Column: resolved}, true
	})
	if rwErr != nil {
		return nil, rwErr
	}
	return out, nil
}

// isInnerRef decides whether a column reference inside a correlated
// subquery's WHERE belongs to the subquery's own tables. Qualified
// references follow their alias, with the inner alias shadowing an
// outer one of the same name. Unqualified references resolve
// innermost-first: the schema cache decides whether the subquery's
// entity declares the attribute, falling back to the outer scopes.
func (bc *buildContext) isInnerRef(cr *ast.ColumnRef, innerAliases map[string]bool, innerFrom []ast.TableSource, outer []tableScope) bool {
	if cr.Table != "" {
		return innerAliases[strings.ToLower(cr.Table)]
	}
	if bc.innerDeclaresColumn(innerFrom, cr.Column) {
		return true
	}
	_, err := resolveColumn(outer, "", cr.Column)
	return err != nil
}

func (bc *buildContext) innerDeclaresColumn(sources []ast.TableSource, column string) bool {
	found := false
	walkTableSources(sources, func(nt *ast.NamedTable) {
		if found || nt.Schema != "" {
			return
		}
		if _, isCTE := bc.ctes[strings.ToLower(nt.Name)]; isCTE {
			return
		}
		entity, err := bc.bld.cache.Entity(nt.Name)
		if err != nil {
			return
		}
		if _, ok := entity.Attributes[strings.ToLower(column)]; ok {
			found = true
		}
	})
	return found
}

// referencesOuter reports whether a conjunct mentions any column owned
// by the outer scopes, making it a correlation predicate.
func (bc *buildContext) referencesOuter(c ast.Expr, outer []tableScope, innerAliases map[string]bool, innerFrom []ast.TableSource) bool {
	correlated := false
	walkExpr(c, func(e ast.Expr) {
		cr, ok := e.(*ast.ColumnRef)
		if !ok || correlated {
			return
		}
		if cr.Table != "" {
			if innerAliases[strings.ToLower(cr.Table)] {
				return
			}
			for _, s := range outer {
				if strings.EqualFold(s.alias, cr.Table) {
					correlated = true
					return
				}
			}
			return
		}
		if !bc.isInnerRef(cr, innerAliases, innerFrom, outer) {
			if _, err := resolveColumn(outer, "", cr.Column); err == nil {
				correlated = true
			}
		}
	})
	return correlated
}

// renameOnlyColumn projects a single-column node's output under a fresh
// name so a subquery join's right side can never collide with an outer
// column of the same name.
func renameOnlyColumn(sub plan.Node, synth string) plan.Node {
	col := sub.Schema()[0]
	read := func(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		if row.Len() == 0 {
			return coretypes.NewNull(), nil
		}
		return row.At(0), nil
	}
	schema := coretypes.Schema{{Name: synth, Tag: col.Tag, Source: col.Source}}
	return plan.NewProject(sub, []exprcompile.Scalar{read}, schema)
}

func alwaysTrue(*execctx.Context, coretypes.Row) (bool, error) { return true, nil }

// tableAliases collects the alias (or bare name) of every table source,
// recursing through joins.
func tableAliases(sources []ast.TableSource) map[string]bool {
	out := map[string]bool{}
	walkTableSourcesAll(sources, func(ts ast.TableSource) {
		switch t := ts.(type) {
		case *ast.NamedTable:
			if t.Alias != "" {
				out[strings.ToLower(t.Alias)] = true
			} else {
				out[strings.ToLower(t.Name)] = true
			}
		case *ast.DerivedTable:
			out[strings.ToLower(t.Alias)] = true
		case *ast.TableValuedFunction:
			if t.Alias != "" {
				out[strings.ToLower(t.Alias)] = true
			} else {
				out[strings.ToLower(t.Name)] = true
			}
		}
	})
	return out
}

func walkTableSources(sources []ast.TableSource, visit func(*ast.NamedTable)) {
	walkTableSourcesAll(sources, func(ts ast.TableSource) {
		if nt, ok := ts.(*ast.NamedTable); ok {
			visit(nt)
		}
	})
}

func walkTableSourcesAll(sources []ast.TableSource, visit func(ast.TableSource)) {
	for _, s := range sources {
		visit(s)
		if jt, ok := s.(*ast.JoinTable); ok {
			walkTableSourcesAll([]ast.TableSource{jt.Left, jt.Right}, visit)
		}
	}
}

func containsScalarSubquery(e ast.Expr) bool {
	found := false
	walkExpr(e, func(n ast.Expr) {
		if se, ok := n.(*ast.SubqueryExpr); ok && !se.Exists {
			found = true
		}
	})
	return found
}

// replaceExpr deep-copies e, calling repl on every subexpression; when
// repl returns a replacement the subtree below it is left alone.
func replaceExpr(e ast.Expr, repl func(ast.Expr) (ast.Expr, bool)) ast.Expr {
	if e == nil {
		return nil
	}
	if replaced, ok := repl(e); ok {
		return replaced
	}
	switch v := e.(type) {
	case *ast.UnaryExpr:
		cp := *v
		cp.Expr = replaceExpr(v.Expr, repl)
		return &cp
	case *ast.BinaryExpr:
		cp := *v
		cp.Left = replaceExpr(v.Left, repl)
		cp.Right = replaceExpr(v.Right, repl)
		cp.Escape = replaceExpr(v.Escape, repl)
		if v.InList != nil {
			cp.InList = make([]ast.Expr, len(v.InList))
			for i, item := range v.InList {
				cp.InList[i] = replaceExpr(item, repl)
			}
		}
		return &cp
	case *ast.CaseExpr:
		cp := *v
		cp.Operand = replaceExpr(v.Operand, repl)
		cp.Else = replaceExpr(v.Else, repl)
		cp.Whens = make([]ast.WhenClause, len(v.Whens))
		for i, w := range v.Whens {
			cp.Whens[i] = ast.WhenClause{When: replaceExpr(w.When, repl), Then: replaceExpr(w.Then, repl)}
		}
		return &cp
	case *ast.CastExpr:
		cp := *v
		cp.Expr = replaceExpr(v.Expr, repl)
		return &cp
	case *ast.FuncCall:
		cp := *v
		cp.Args = make([]ast.Expr, len(v.Args))
		for i, a := range v.Args {
			cp.Args[i] = replaceExpr(a, repl)
		}
		return &cp
	default:
		return e
	}
}

// collectCorrelatedColumnNames adds the outer columns a correlated
// subquery's predicates reference, so the pushed attribute list fetches
// them even though the ordinary column collector never descends into a
// subquery. Only table-qualified references can be identified as outer
// from the subquery's side; the attribute-order subset filter discards
// any name the outer entity doesn't actually declare.
func collectCorrelatedColumnNames(expr ast.Expr, into map[string]bool) {
	walkExpr(expr, func(n ast.Expr) {
		switch e := n.(type) {
		case *ast.SubqueryExpr:
			collectOuterRefs(e.Query, into)
		case *ast.BinaryExpr:
			if e.InSubquery != nil {
				collectOuterRefs(e.InSubquery, into)
			}
		}
	})
}

func collectOuterRefs(q ast.QueryExpr, into map[string]bool) {
	switch v := q.(type) {
	case *ast.BinaryQueryExpr:
		collectOuterRefs(v.Left, into)
		collectOuterRefs(v.Right, into)
	case *ast.SelectStmt:
		own := tableAliases(v.From)
		walkExpr(v.Where, func(n ast.Expr) {
			if cr, ok := n.(*ast.ColumnRef); ok && cr.Table != "" && !own[strings.ToLower(cr.Table)] {
				into[cr.Column] = true
			}
		})
		collectCorrelatedColumnNames(v.Where, into)
	}
}
