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
	"strings"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/exprcompile"
	"github.com/xrmsql/engine/plan"
	"github.com/xrmsql/engine/remoteaccess"
	"github.com/xrmsql/engine/xmlgen"
)

// buildInsert plans INSERT INTO table (cols) VALUES (...), ... or INSERT
// INTO table (cols) SELECT ... (spec §4.B, §4.H). A literal VALUES list
// is evaluated to rows up front (constants only, the same trick
// pushdown.go's literalValue uses) and handed to DmlExecute through a
// MetadataScan; a SELECT source is planned normally and its projected
// columns paired with the target column list by position.
func (bc *buildContext) buildInsert(s *ast.InsertStmt) (plan.Node, error) {
	if strings.HasPrefix(s.Table.Name, "#") {
		return bc.buildTempTableInsert(s)
	}
	entity, err := bc.bld.cache.Entity(s.Table.Name)
	if err != nil {
		return nil, errkind.PlanBuildError.New("unknown table " + s.Table.Name + ": " + err.Error())
	}

	var source plan.Node
	var sourceCols []string
	switch {
	case s.Source != nil:
		node, err := bc.buildQueryExpr(s.Source)
		if err != nil {
			return nil, err
		}
		source = node
		sourceCols = node.Schema().Names()
	case len(s.Values) > 0:
		node, names, err := bc.buildValuesSource(s.Values)
		if err != nil {
			return nil, err
		}
		source = node
		sourceCols = names
	default:
		return nil, errkind.PlanBuildError.New("INSERT requires VALUES or a SELECT source")
	}

	targetCols := s.Columns
	if len(targetCols) == 0 {
		if len(sourceCols) > len(entity.AttributeOrder) {
			return nil, errkind.PlanBuildError.New("INSERT has more source columns than the entity declares")
		}
		targetCols = entity.AttributeOrder[:len(sourceCols)]
	}
	if len(targetCols) != len(sourceCols) {
		return nil, errkind.PlanBuildError.New("INSERT column count does not match its source")
	}

	setExprs := make(map[string]exprcompile.Scalar, len(targetCols))
	for i, col := range targetCols {
		setExprs[col] = columnPassthrough(sourceCols[i])
	}

	// INSERT carries no WHERE clause to guard; hasWhere is forced true
	// so CheckUnrestricted's unrestricted-write check, which only
	// applies to UPDATE/DELETE/MERGE, never fires here.
	return plan.NewDmlExecute(source, bc.bld.store, entity.LogicalName, remoteaccess.DmlInsert, remoteaccess.Operation("INSERT"), setExprs, true, bc.opts.guardOptions()), nil
}

// buildTempTableInsert appends rows into a session-scoped temp table
// declared earlier in the same script. The source's columns are paired
// with the target list by position and renamed through a Project so the
// stored rows carry the temp table's own column names.
func (bc *buildContext) buildTempTableInsert(s *ast.InsertStmt) (plan.Node, error) {
	name := strings.ToLower(s.Table.Name)
	declared, ok := bc.temps[name]
	if !ok {
		return nil, errkind.PlanBuildError.New("temp table " + s.Table.Name + " has not been created in this script")
	}

	var source plan.Node
	var sourceCols []string
	switch {
	case s.Source != nil:
		node, err := bc.buildQueryExpr(s.Source)
		if err != nil {
			return nil, err
		}
		source = node
		sourceCols = node.Schema().Names()
	case len(s.Values) > 0:
		node, names, err := bc.buildValuesSource(s.Values)
		if err != nil {
			return nil, err
		}
		source = node
		sourceCols = names
	default:
		return nil, errkind.PlanBuildError.New("INSERT requires VALUES or a SELECT source")
	}

	targetCols := s.Columns
	if len(targetCols) == 0 {
		if len(sourceCols) > len(declared) {
			return nil, errkind.PlanBuildError.New("INSERT has more source columns than the temp table declares")
		}
		targetCols = declared.Names()[:len(sourceCols)]
	}
	if len(targetCols) != len(sourceCols) {
		return nil, errkind.PlanBuildError.New("INSERT column count does not match its source")
	}

	exprs := make([]exprcompile.Scalar, len(targetCols))
	schema := make(coretypes.Schema, len(targetCols))
	for i, col := range targetCols {
		exprs[i] = columnPassthrough(sourceCols[i])
		schema[i] = columnDescriptorByName(declared, col)
	}
	renamed := plan.NewProject(source, exprs, schema)
	return plan.NewTempTableInsert(name, renamed), nil
}

// buildValuesSource evaluates a literal VALUES row list into a fixed
// in-memory row set (named v0, v1, ... by position), served through a
// MetadataScan; like buildInsert's SELECT-sourced branch, it is
// ultimately just a Node DmlExecute reads rows from.
func (bc *buildContext) buildValuesSource(rows [][]ast.Expr) (plan.Node, []string, error) {
	width := len(rows[0])
	names := make([]string, width)
	for i := range names {
		names[i] = fmt.Sprintf("v%d", i)
	}
	schema := make(coretypes.Schema, width)
	out := make([]coretypes.Row, len(rows))
	for r, tuple := range rows {
		if len(tuple) != width {
			return nil, nil, errkind.PlanBuildError.New("INSERT VALUES rows must all have the same column count")
		}
		values := make([]coretypes.QueryValue, width)
		for i, e := range tuple {
			ce, err := exprcompile.CompileScalar(e)
			if err != nil {
				return nil, nil, err
			}
			v, err := ce(nil, coretypes.Row{})
			if err != nil {
				return nil, nil, err
			}
			values[i] = v
			if r == 0 {
				schema[i] = coretypes.ColumnDescriptor{Name: names[i], Tag: v.Tag}
			}
		}
		out[r] = coretypes.NewRow(names, values)
	}
	return plan.NewMetadataScan("$values", schema, out), names, nil
}

// buildUpdate plans UPDATE table SET ... WHERE ... (spec §4.B, §4.H): a
// FetchScan projects the primary key plus every attribute the SET
// expressions or WHERE reference, the residual (client-only) predicate
// from splitPredicate filters it, and a trailing Project drops every
// scanned column the SET expressions don't need before the row reaches
// DmlExecute — keeping the written payload to exactly what the remote
// store needs (primary key plus the columns actually assigned).
func (bc *buildContext) buildUpdate(s *ast.UpdateStmt) (plan.Node, error) {
	entity, err := bc.bld.cache.Entity(s.Table.Name)
	if err != nil {
		return nil, errkind.PlanBuildError.New("unknown table " + s.Table.Name + ": " + err.Error())
	}
	alias := s.Table.Alias
	if alias == "" {
		alias = entity.LogicalName
	}

	keepAfterFilter := map[string]bool{entity.PrimaryKey: true}
	for _, a := range s.Set {
		collectColumnNames(a.Value, keepAfterFilter)
	}

	scanNeeded := map[string]bool{}
	for k := range keepAfterFilter {
		scanNeeded[k] = true
	}
	collectColumnNames(s.Where, scanNeeded)
	scanCols := attributeOrderSubset(entity.AttributeOrder, scanNeeded)
	schema := entity.Schema(scanCols)

	filter, residual, err := splitPredicate(s.Where, alias)
	if err != nil {
		return nil, err
	}
	q := xmlgen.Query{Entity: entity.LogicalName, Attributes: scanCols, Filter: filter}
	xmlText, _, _, err := xmlgen.Generate(q, bc.bld.cache)
	if err != nil {
		return nil, errkind.PlanBuildError.New(err.Error())
	}
	scan := plan.NewFetchScan(bc.bld.store, schema, xmlText, bc.opts.maxRowsOrZero(), false)
	scopes := []tableScope{newScope(alias, schema.Names())}

	var node plan.Node = scan
	if residual != nil {
		qualified, err := qualifyExpr(residual, scopes)
		if err != nil {
			return nil, err
		}
		pred, err := exprcompile.CompilePredicate(qualified)
		if err != nil {
			return nil, err
		}
		node = plan.NewClientFilter(node, pred)
	}

	finalCols := attributeOrderSubset(entity.AttributeOrder, keepAfterFilter)
	finalSchema := entity.Schema(finalCols)
	exprs := make([]exprcompile.Scalar, len(finalCols))
	for i, c := range finalCols {
		exprs[i] = columnPassthrough(c)
	}
	node = plan.NewProject(node, exprs, finalSchema)
	node = plan.NewPrefetchScan(node)

	setExprs := make(map[string]exprcompile.Scalar, len(s.Set))
	for _, a := range s.Set {
		qualified, err := qualifyExpr(a.Value, scopes)
		if err != nil {
			return nil, err
		}
		ce, err := exprcompile.CompileScalar(qualified)
		if err != nil {
			return nil, err
		}
		setExprs[a.Column] = ce
	}

	return plan.NewDmlExecute(node, bc.bld.store, entity.LogicalName, remoteaccess.DmlUpdate, remoteaccess.OpUpdate, setExprs, s.Where != nil, bc.opts.guardOptions()), nil
}

// buildDelete plans DELETE FROM table WHERE ... (spec §4.B, §4.H): same
// scan/residual-filter shape as buildUpdate, projected down to just the
// primary key since a delete writes no attribute values.
func (bc *buildContext) buildDelete(s *ast.DeleteStmt) (plan.Node, error) {
	entity, err := bc.bld.cache.Entity(s.Table.Name)
	if err != nil {
		return nil, errkind.PlanBuildError.New("unknown table " + s.Table.Name + ": " + err.Error())
	}
	alias := s.Table.Alias
	if alias == "" {
		alias = entity.LogicalName
	}

	scanNeeded := map[string]bool{entity.PrimaryKey: true}
	collectColumnNames(s.Where, scanNeeded)
	scanCols := attributeOrderSubset(entity.AttributeOrder, scanNeeded)
	schema := entity.Schema(scanCols)

	filter, residual, err := splitPredicate(s.Where, alias)
	if err != nil {
		return nil, err
	}
	q := xmlgen.Query{Entity: entity.LogicalName, Attributes: scanCols, Filter: filter}
	xmlText, _, _, err := xmlgen.Generate(q, bc.bld.cache)
	if err != nil {
		return nil, errkind.PlanBuildError.New(err.Error())
	}
	scan := plan.NewFetchScan(bc.bld.store, schema, xmlText, bc.opts.maxRowsOrZero(), false)
	scopes := []tableScope{newScope(alias, schema.Names())}

	var node plan.Node = scan
	if residual != nil {
		qualified, err := qualifyExpr(residual, scopes)
		if err != nil {
			return nil, err
		}
		pred, err := exprcompile.CompilePredicate(qualified)
		if err != nil {
			return nil, err
		}
		node = plan.NewClientFilter(node, pred)
	}

	pkSchema := entity.Schema([]string{entity.PrimaryKey})
	node = plan.NewProject(node, []exprcompile.Scalar{columnPassthrough(entity.PrimaryKey)}, pkSchema)
	node = plan.NewPrefetchScan(node)

	return plan.NewDmlExecute(node, bc.bld.store, entity.LogicalName, remoteaccess.DmlDelete, remoteaccess.OpDelete, nil, s.Where != nil, bc.opts.guardOptions()), nil
}

// buildMerge plans a MERGE statement (spec §4.B): only a single WHEN NOT
// MATCHED THEN INSERT action is supported, rewritten to an anti-join of
// the USING source against the target (rows with no matching target
// row) feeding a DmlExecute insert. Any WHEN MATCHED action — UPDATE or
// DELETE — is rejected at plan time with a clear message, per spec §8's
// "MERGE WHEN MATCHED is rejected" scenario.
func (bc *buildContext) buildMerge(s *ast.MergeStmt) (plan.Node, error) {
	for _, a := range s.Actions {
		if a.Kind != ast.NotMatchedInsert {
			return nil, errkind.NotSupported.New("MERGE WHEN MATCHED is not supported; only WHEN NOT MATCHED THEN INSERT is")
		}
	}
	if len(s.Actions) != 1 {
		return nil, errkind.NotSupported.New("MERGE supports exactly one WHEN NOT MATCHED THEN INSERT action")
	}
	action := s.Actions[0]

	entity, err := bc.bld.cache.Entity(s.Target.Name)
	if err != nil {
		return nil, errkind.PlanBuildError.New("unknown table " + s.Target.Name + ": " + err.Error())
	}

	targetNode, targetScopes, err := bc.buildNamedTableSource(&s.Target)
	if err != nil {
		return nil, err
	}
	sourceNode, sourceScopes, err := bc.buildTableSource(s.Source)
	if err != nil {
		return nil, err
	}

	allScopes := append(append([]tableScope{}, sourceScopes...), targetScopes...)
	qualifiedOn, err := qualifyExpr(s.On, allScopes)
	if err != nil {
		return nil, err
	}
	onPred, err := exprcompile.CompilePredicate(qualifiedOn)
	if err != nil {
		return nil, err
	}
	unmatched := plan.NewNestedLoopJoin(sourceNode, targetNode, plan.JoinAnti, onPred)

	targetCols := action.Columns
	if len(targetCols) == 0 {
		targetCols = entity.AttributeOrder
	}
	if len(targetCols) != len(action.Values) {
		return nil, errkind.PlanBuildError.New("MERGE INSERT column count does not match its VALUES")
	}
	setExprs := make(map[string]exprcompile.Scalar, len(targetCols))
	for i, col := range targetCols {
		qualified, err := qualifyExpr(action.Values[i], sourceScopes)
		if err != nil {
			return nil, err
		}
		ce, err := exprcompile.CompileScalar(qualified)
		if err != nil {
			return nil, err
		}
		setExprs[col] = ce
	}

	return plan.NewDmlExecute(unmatched, bc.bld.store, entity.LogicalName, remoteaccess.DmlInsert, remoteaccess.Operation("MERGE"), setExprs, true, bc.opts.guardOptions()), nil
}
