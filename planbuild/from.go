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
	"github.com/xrmsql/engine/xmlgen"
)

// alwaysTruePredicate is the CROSS JOIN (and no-ON comma join) predicate:
// every left/right combination matches.
func alwaysTruePredicate(*execctx.Context, coretypes.Row) (bool, error) { return true, nil }

// buildFrom builds the joined FROM clause of a SELECT with more than one
// source, or any single source that isn't the rich single-table pushdown
// path buildDefaultSelect handles itself. A bare comma list folds left to
// right as CROSS JOINs, matching T-SQL's comma-join semantics.
func (bc *buildContext) buildFrom(sources []ast.TableSource) (plan.Node, []tableScope, error) {
	if len(sources) == 0 {
		return dualNode(), nil, nil
	}
	node, scopes, err := bc.buildTableSource(sources[0])
	if err != nil {
		return nil, nil, err
	}
	for _, src := range sources[1:] {
		rightNode, rightScopes, err := bc.buildTableSource(src)
		if err != nil {
			return nil, nil, err
		}
		node = plan.NewNestedLoopJoin(node, rightNode, plan.JoinInner, alwaysTruePredicate)
		scopes = append(scopes, rightScopes...)
	}
	return node, scopes, nil
}

// buildTableSource builds one FROM-clause entry: a CTE reference, a base
// entity scan, a derived table, a table-valued function, or a join.
func (bc *buildContext) buildTableSource(ts ast.TableSource) (plan.Node, []tableScope, error) {
	switch t := ts.(type) {
	case *ast.NamedTable:
		return bc.buildNamedTableSource(t)
	case *ast.DerivedTable:
		node, err := bc.buildQueryExpr(t.Query)
		if err != nil {
			return nil, nil, err
		}
		alias := t.Alias
		if alias == "" {
			return nil, nil, errkind.PlanBuildError.New("derived table requires an alias")
		}
		return node, []tableScope{newScope(alias, node.Schema().Names())}, nil
	case *ast.TableValuedFunction:
		return bc.buildTableValuedFunction(t)
	case *ast.JoinTable:
		return bc.buildJoin(t)
	default:
		return nil, nil, errkind.NotSupported.New("table source shape")
	}
}

// buildNamedTableSource resolves a CTE or a remote entity into a scan
// plus the scope its alias exposes. Remote entities are fetched in full
// (spec §4.G's all-attributes form) here; the richer per-column, per-
// predicate pushdown only applies to the single-table fast path in
// buildDefaultSelect, since a joined scan's predicate generally spans
// more than one source and can't be pushed into either leg alone
// (documented simplification, DESIGN.md).
func (bc *buildContext) buildNamedTableSource(nt *ast.NamedTable) (plan.Node, []tableScope, error) {
	if strings.HasPrefix(nt.Name, "#") {
		name := strings.ToLower(nt.Name)
		schema, ok := bc.temps[name]
		if !ok {
			return nil, nil, errkind.PlanBuildError.New("temp table " + nt.Name + " has not been created in this script")
		}
		alias := nt.Alias
		if alias == "" {
			alias = name
		}
		return plan.NewTempTableScan(name, schema), []tableScope{newScope(alias, schema.Names())}, nil
	}
	if nt.Schema == "" {
		if q, ok := bc.ctes[strings.ToLower(nt.Name)]; ok {
			node, err := bc.buildQueryExpr(q)
			if err != nil {
				return nil, nil, err
			}
			alias := nt.Alias
			if alias == "" {
				alias = nt.Name
			}
			return node, []tableScope{newScope(alias, node.Schema().Names())}, nil
		}
	}
	entity, err := bc.bld.cache.Entity(nt.Name)
	if err != nil {
		return nil, nil, errkind.PlanBuildError.New("unknown table " + nt.Name + ": " + err.Error())
	}
	schema := entity.Schema(entity.AttributeOrder)
	q := xmlgen.Query{Entity: entity.LogicalName, AllAttributes: true}
	xmlText, _, _, err := xmlgen.Generate(q, bc.bld.cache)
	if err != nil {
		return nil, nil, errkind.PlanBuildError.New(err.Error())
	}
	scan := plan.NewFetchScan(bc.bld.store, schema, xmlText, bc.opts.maxRowsOrZero(), false)
	alias := nt.Alias
	if alias == "" {
		alias = entity.LogicalName
	}
	return scan, []tableScope{newScope(alias, schema.Names())}, nil
}

// buildTableValuedFunction supports OPENJSON and STRING_SPLIT, the two
// table-valued functions spec §4.D names. Their arguments are compiled
// uncorrelated (no outer scope is in play): neither function is ever
// driven by a sibling FROM-clause column in the scripts this engine
// targets (documented simplification, DESIGN.md).
func (bc *buildContext) buildTableValuedFunction(tvf *ast.TableValuedFunction) (plan.Node, []tableScope, error) {
	var node plan.Node
	switch strings.ToUpper(tvf.Name) {
	case "OPENJSON":
		if len(tvf.Args) == 0 {
			return nil, nil, errkind.PlanBuildError.New("OPENJSON requires at least one argument")
		}
		jsonExpr, err := exprcompile.CompileScalar(tvf.Args[0])
		if err != nil {
			return nil, nil, err
		}
		var path exprcompile.Scalar
		if len(tvf.Args) > 1 {
			path, err = exprcompile.CompileScalar(tvf.Args[1])
			if err != nil {
				return nil, nil, err
			}
		}
		node = plan.NewOpenJson(jsonExpr, path)
	case "STRING_SPLIT":
		if len(tvf.Args) < 2 {
			return nil, nil, errkind.PlanBuildError.New("STRING_SPLIT requires two arguments")
		}
		text, err := exprcompile.CompileScalar(tvf.Args[0])
		if err != nil {
			return nil, nil, err
		}
		sep, err := exprcompile.CompileScalar(tvf.Args[1])
		if err != nil {
			return nil, nil, err
		}
		node = plan.NewStringSplit(text, sep)
	default:
		return nil, nil, errkind.NotSupported.New("table-valued function " + tvf.Name)
	}
	alias := tvf.Alias
	if alias == "" {
		alias = strings.ToLower(tvf.Name)
	}
	return node, []tableScope{newScope(alias, node.Schema().Names())}, nil
}

// buildJoin builds one JOIN. When the ON clause is a single equality
// between a bare column on each side it chooses MergeJoin for an INNER
// join whose inputs are both sorted on their key columns, else HashJoin
// when the right side's estimate is unknown or at least smallInnerRows,
// else NestedLoopJoin; any other ON clause gets a NestedLoopJoin (spec
// §4.B). RIGHT OUTER is rewritten to a LEFT OUTER
// with sides swapped, re-projected back to the original column order;
// FULL OUTER is built as a LEFT OUTER unioned with the unmatched rows of
// an anti-join run the other direction.
func (bc *buildContext) buildJoin(j *ast.JoinTable) (plan.Node, []tableScope, error) {
	left, leftScopes, err := bc.buildTableSource(j.Left)
	if err != nil {
		return nil, nil, err
	}
	right, rightScopes, err := bc.buildTableSource(j.Right)
	if err != nil {
		return nil, nil, err
	}
	scopes := append(append([]tableScope{}, leftScopes...), rightScopes...)

	if j.Kind == ast.CrossJoin || j.On == nil {
		return plan.NewNestedLoopJoin(left, right, plan.JoinInner, alwaysTruePredicate), scopes, nil
	}

	qualifiedOn, err := qualifyExpr(j.On, scopes)
	if err != nil {
		return nil, nil, err
	}

	switch j.Kind {
	case ast.InnerJoin:
		node, err := bc.buildEquiOrLoopJoin(left, right, leftScopes, rightScopes, qualifiedOn, plan.JoinInner)
		return node, scopes, err
	case ast.LeftOuterJoin:
		node, err := bc.buildEquiOrLoopJoin(left, right, leftScopes, rightScopes, qualifiedOn, plan.JoinLeftOuter)
		return node, scopes, err
	case ast.RightOuterJoin:
		swappedScopes := append(append([]tableScope{}, rightScopes...), leftScopes...)
		swapped, err := qualifyExpr(j.On, swappedScopes)
		if err != nil {
			return nil, nil, err
		}
		joined, err := bc.buildEquiOrLoopJoin(right, left, rightScopes, leftScopes, swapped, plan.JoinLeftOuter)
		if err != nil {
			return nil, nil, err
		}
		return reorderColumns(joined, left.Schema(), right.Schema()), scopes, nil
	case ast.FullOuterJoin:
		leftOuter, err := bc.buildEquiOrLoopJoin(left, right, leftScopes, rightScopes, qualifiedOn, plan.JoinLeftOuter)
		if err != nil {
			return nil, nil, err
		}
		swappedScopes := append(append([]tableScope{}, rightScopes...), leftScopes...)
		swapped, err := qualifyExpr(j.On, swappedScopes)
		if err != nil {
			return nil, nil, err
		}
		swappedPred, err := exprcompile.CompilePredicate(swapped)
		if err != nil {
			return nil, nil, err
		}
		rightAnti := plan.NewNestedLoopJoin(right, left, plan.JoinAnti, swappedPred)
		fullSchema := append(append(coretypes.Schema{}, left.Schema()...), right.Schema()...)
		padded := plan.NewProject(rightAnti, padLeftThenProject(left.Schema(), right.Schema()), fullSchema)
		return plan.NewConcatenate([]plan.Node{leftOuter, padded}), scopes, nil
	default:
		return nil, nil, errkind.NotSupported.New("join kind")
	}
}

// padLeftThenProject builds the column list for the anti-join half of a
// FULL OUTER JOIN: NULLs for every column left would have contributed,
// followed by right's own columns unchanged, matching the [left...,
// right...] schema order Concatenate's sibling branch (the LEFT OUTER
// join) already produces.
func padLeftThenProject(leftSchema, rightSchema coretypes.Schema) []exprcompile.Scalar {
	out := make([]exprcompile.Scalar, 0, len(leftSchema)+len(rightSchema))
	for range leftSchema {
		out = append(out, nullScalar)
	}
	for _, c := range rightSchema {
		name := c.Name
		out = append(out, columnPassthrough(name))
	}
	return out
}

func nullScalar(*execctx.Context, coretypes.Row) (coretypes.QueryValue, error) {
	return coretypes.NewNull(), nil
}

func columnPassthrough(name string) exprcompile.Scalar {
	return func(_ *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
		v, _ := row.Get(name)
		return v, nil
	}
}

// reorderColumns wraps a join built with its sides swapped (RIGHT OUTER
// reusing LEFT OUTER) back into the original left-then-right column
// order the SELECT list's scope resolution expects.
func reorderColumns(joined plan.Node, leftSchema, rightSchema coretypes.Schema) plan.Node {
	full := append(append(coretypes.Schema{}, leftSchema...), rightSchema...)
	exprs := make([]exprcompile.Scalar, len(full))
	for i, c := range full {
		exprs[i] = columnPassthrough(c.Name)
	}
	return plan.NewProject(joined, exprs, full)
}

// buildEquiOrLoopJoin inspects a qualified ON expression for a single
// top-level equality between one bare column from each side; anything
// else falls back to a row-by-row NestedLoopJoin.
// smallInnerRows is the estimate below which driving the inner side with
// a nested loop beats building a hash table (spec §4.B "inner side small").
const smallInnerRows = 1000

func (bc *buildContext) buildEquiOrLoopJoin(left, right plan.Node, leftScopes, rightScopes []tableScope, on ast.Expr, kind plan.JoinKind) (plan.Node, error) {
	if leftKey, rightKey, ok := equiJoinKeys(on, leftScopes, rightScopes); ok {
		leftExpr, errL := exprcompile.CompileScalar(leftKey)
		rightExpr, errR := exprcompile.CompileScalar(rightKey)
		if errL == nil && errR == nil {
			if kind == plan.JoinInner {
				lc, okL := isBareColumn(leftKey)
				rc, okR := isBareColumn(rightKey)
				if okL && okR && plan.SortedOn(left, []string{lc.Column}) && plan.SortedOn(right, []string{rc.Column}) {
					return plan.NewMergeJoin(left, right, leftExpr, rightExpr), nil
				}
			}
			if est := right.EstimatedRows(); est < 0 || est >= smallInnerRows {
				return plan.NewHashJoin(left, right, kind, leftExpr, rightExpr, nil), nil
			}
		}
	}
	pred, err := exprcompile.CompilePredicate(on)
	if err != nil {
		return nil, err
	}
	return plan.NewNestedLoopJoin(left, right, kind, pred), nil
}

// equiJoinKeys recognizes `left.col = right.col` (in either order) as an
// equi-join key pair, each expression qualified to refer only to columns
// from one side.
func equiJoinKeys(on ast.Expr, leftScopes, rightScopes []tableScope) (ast.Expr, ast.Expr, bool) {
	b, ok := on.(*ast.BinaryExpr)
	if !ok || b.Op != ast.OpEq {
		return nil, nil, false
	}
	if columnsWithinScopes(b.Left, leftScopes) && columnsWithinScopes(b.Right, rightScopes) {
		return b.Left, b.Right, true
	}
	if columnsWithinScopes(b.Right, leftScopes) && columnsWithinScopes(b.Left, rightScopes) {
		return b.Right, b.Left, true
	}
	return nil, nil, false
}

func columnsWithinScopes(e ast.Expr, scopes []tableScope) bool {
	within := true
	walkExpr(e, func(n ast.Expr) {
		col, ok := n.(*ast.ColumnRef)
		if !ok {
			return
		}
		found := false
		for _, s := range scopes {
			if _, ok := s.columns[strings.ToLower(col.Column)]; ok {
				found = true
				break
			}
		}
		if !found {
			within = false
		}
	})
	return within
}
