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
)

// tableScope names one FROM-clause entry's alias and the bare column
// names it contributes, used to resolve and (when more than one source
// is in play) qualify ast.ColumnRef nodes before they reach
// exprcompile.CompileScalar, which resolves by bare name only (spec §3
// "the plan builder, not the compiler, disambiguates same-named columns
// across join sides").
type tableScope struct {
	alias   string
	columns map[string]string // lowercased bare name -> original-case name
}

func newScope(alias string, columns []string) tableScope {
	m := make(map[string]string, len(columns))
	for _, c := range columns {
		m[strings.ToLower(c)] = c
	}
	return tableScope{alias: alias, columns: m}
}

// resolveColumn finds which scope owns an (optionally qualified) column
// reference and returns the row column name exprcompile should look up.
// coretypes.Row is a flat name/value list with no per-table namespace, so
// a qualified reference only disambiguates which scope's attribute
// definition applies — it always resolves to the bare attribute name,
// the name the row actually carries. An unqualified reference that
// matches more than one scope resolves to the first match in scope
// order — ambiguous unqualified references across joined tables are
// accepted rather than rejected, a documented simplification
// (DESIGN.md), and so is the same collision for two joined sources that
// happen to share a bare column name.
func resolveColumn(scopes []tableScope, table, column string) (string, error) {
	if table != "" {
		for _, s := range scopes {
			if strings.EqualFold(s.alias, table) {
				if orig, ok := s.columns[strings.ToLower(column)]; ok {
					return orig, nil
				}
				return "", errkind.PlanBuildError.New("column " + table + "." + column + " not found")
			}
		}
		return "", errkind.PlanBuildError.New("unknown table alias " + table)
	}
	for _, s := range scopes {
		if orig, ok := s.columns[strings.ToLower(column)]; ok {
			return orig, nil
		}
	}
	return "", errkind.PlanBuildError.New("column " + column + " not found in scope")
}

// qualifyExpr deep-copies expr, rewriting every ColumnRef's Column to the
// row-level name resolveColumn picks for it. Subqueries are left
// untouched: the plan builder rewrites every subquery to a join before
// any expression containing it is compiled (spec §4.B), so by the time
// qualifyExpr runs a SubqueryExpr node should never remain in an Expr
// tree headed for exprcompile.
func qualifyExpr(expr ast.Expr, scopes []tableScope) (ast.Expr, error) {
	if expr == nil {
		return nil, nil
	}
	switch e := expr.(type) {
	case *ast.Literal, *ast.Variable, *ast.SystemFunc:
		return expr, nil
	case *ast.ColumnRef:
		name, err := resolveColumn(scopes, e.Table, e.Column)
		if err != nil {
			return nil, err
		}
		cp := *e
		cp.Table = ""
		cp.Column = name
		return &cp, nil
	case *ast.UnaryExpr:
		inner, err := qualifyExpr(e.Expr, scopes)
		if err != nil {
			return nil, err
		}
		cp := *e
		cp.Expr = inner
		return &cp, nil
	case *ast.BinaryExpr:
		cp := *e
		var err error
		if cp.Left, err = qualifyExpr(e.Left, scopes); err != nil {
			return nil, err
		}
		if cp.Right, err = qualifyExpr(e.Right, scopes); err != nil {
			return nil, err
		}
		if cp.Escape, err = qualifyExpr(e.Escape, scopes); err != nil {
			return nil, err
		}
		if e.InList != nil {
			cp.InList = make([]ast.Expr, len(e.InList))
			for i, v := range e.InList {
				if cp.InList[i], err = qualifyExpr(v, scopes); err != nil {
					return nil, err
				}
			}
		}
		return &cp, nil
	case *ast.CaseExpr:
		cp := *e
		var err error
		if cp.Operand, err = qualifyExpr(e.Operand, scopes); err != nil {
			return nil, err
		}
		if cp.Else, err = qualifyExpr(e.Else, scopes); err != nil {
			return nil, err
		}
		cp.Whens = make([]ast.WhenClause, len(e.Whens))
		for i, w := range e.Whens {
			when, err := qualifyExpr(w.When, scopes)
			if err != nil {
				return nil, err
			}
			then, err := qualifyExpr(w.Then, scopes)
			if err != nil {
				return nil, err
			}
			cp.Whens[i] = ast.WhenClause{When: when, Then: then}
		}
		return &cp, nil
	case *ast.CastExpr:
		cp := *e
		var err error
		if cp.Expr, err = qualifyExpr(e.Expr, scopes); err != nil {
			return nil, err
		}
		return &cp, nil
	case *ast.FuncCall:
		cp := *e
		cp.Args = make([]ast.Expr, len(e.Args))
		for i, a := range e.Args {
			arg, err := qualifyExpr(a, scopes)
			if err != nil {
				return nil, err
			}
			cp.Args[i] = arg
		}
		return &cp, nil
	default:
		// SubqueryExpr and anything else passes through unrewritten; the
		// subquery rewrite pass runs before qualification ever sees one.
		return expr, nil
	}
}

// collectColumnNames gathers every bare ColumnRef name reached by expr,
// used to prune a FetchScan's requested attribute list to what the
// pushed-down subtree actually needs (spec §4.G "Project of bare
// columns").
func collectColumnNames(expr ast.Expr, into map[string]bool) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *ast.ColumnRef:
		into[e.Column] = true
	case *ast.UnaryExpr:
		collectColumnNames(e.Expr, into)
	case *ast.BinaryExpr:
		collectColumnNames(e.Left, into)
		collectColumnNames(e.Right, into)
		collectColumnNames(e.Escape, into)
		for _, v := range e.InList {
			collectColumnNames(v, into)
		}
	case *ast.CaseExpr:
		collectColumnNames(e.Operand, into)
		collectColumnNames(e.Else, into)
		for _, w := range e.Whens {
			collectColumnNames(w.When, into)
			collectColumnNames(w.Then, into)
		}
	case *ast.CastExpr:
		collectColumnNames(e.Expr, into)
	case *ast.FuncCall:
		for _, a := range e.Args {
			collectColumnNames(a, into)
		}
		if e.Over != nil {
			for _, p := range e.Over.PartitionBy {
				collectColumnNames(p, into)
			}
			for _, o := range e.Over.OrderBy {
				collectColumnNames(o.Expr, into)
			}
		}
	}
}

// isBareColumn reports whether expr is a plain column reference, the
// shape spec §4.G requires for a pushable Project/Sort/GROUP BY term.
func isBareColumn(expr ast.Expr) (*ast.ColumnRef, bool) {
	c, ok := expr.(*ast.ColumnRef)
	return c, ok
}

var clientOnlyFuncs = map[string]bool{
	"JSON_VALUE":      true,
	"JSON_QUERY":      true,
	"JSON_PATH_EXISTS": true,
}

// containsClientOnlyFunc reports whether expr invokes a function that can
// never be evaluated by the remote store, disqualifying the statement
// from the tabular pass-through fast path (spec §4.B step 2).
func containsClientOnlyFunc(expr ast.Expr) bool {
	found := false
	var walk func(ast.Expr)
	walk = func(e ast.Expr) {
		if e == nil || found {
			return
		}
		switch v := e.(type) {
		case *ast.UnaryExpr:
			walk(v.Expr)
		case *ast.BinaryExpr:
			walk(v.Left)
			walk(v.Right)
			walk(v.Escape)
			for _, x := range v.InList {
				walk(x)
			}
		case *ast.CaseExpr:
			walk(v.Operand)
			walk(v.Else)
			for _, w := range v.Whens {
				walk(w.When)
				walk(w.Then)
			}
		case *ast.CastExpr:
			walk(v.Expr)
		case *ast.FuncCall:
			if clientOnlyFuncs[strings.ToUpper(v.Name)] {
				found = true
				return
			}
			for _, a := range v.Args {
				walk(a)
			}
		}
	}
	walk(expr)
	return found
}
