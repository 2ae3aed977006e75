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
	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/exprcompile"
	"github.com/xrmsql/engine/plan"
)

// buildDeclare plans DECLARE @a type [= expr], ... (spec §4.B, §4.G). Each
// initializer is compiled against the dual scope: variables and literals
// only, a bare DECLARE initializer never references a table column.
func (bc *buildContext) buildDeclare(stmt *ast.DeclareStmt) (plan.Node, error) {
	names := []string{stmt.Variable}
	var initExpr ast.Expr = stmt.Initial
	if initExpr == nil {
		initExpr = &ast.Literal{Kind: ast.LitNull}
	}
	ce, err := exprcompile.CompileScalar(initExpr)
	if err != nil {
		return nil, err
	}
	return plan.NewDeclareVariables(names, []exprcompile.Scalar{ce}), nil
}

// buildSet plans SET @a = expr (spec §4.B, §4.G).
func (bc *buildContext) buildSet(stmt *ast.SetStmt) (plan.Node, error) {
	ce, err := exprcompile.CompileScalar(stmt.Value)
	if err != nil {
		return nil, err
	}
	return plan.NewAssignVariable(stmt.Variable, ce), nil
}

// buildIf plans IF cond ... [ELSE ...] (spec §4.B, §4.G).
func (bc *buildContext) buildIf(stmt *ast.IfStmt) (plan.Node, error) {
	cond, err := exprcompile.CompilePredicate(stmt.Cond)
	if err != nil {
		return nil, err
	}
	then, err := bc.buildStatements(stmt.Then)
	if err != nil {
		return nil, err
	}
	var els plan.Node
	if len(stmt.Else) > 0 {
		els, err = bc.buildStatements(stmt.Else)
		if err != nil {
			return nil, err
		}
	}
	return plan.NewConditional(cond, then, els), nil
}

// buildWhile plans WHILE cond ... (spec §4.B, §4.G).
func (bc *buildContext) buildWhile(stmt *ast.WhileStmt) (plan.Node, error) {
	cond, err := exprcompile.CompilePredicate(stmt.Cond)
	if err != nil {
		return nil, err
	}
	body, err := bc.buildStatements(stmt.Body)
	if err != nil {
		return nil, err
	}
	return plan.NewWhile(cond, body), nil
}

// buildTryCatch plans BEGIN TRY ... END TRY BEGIN CATCH ... END CATCH
// (spec §4.B, §4.G): an errkind error raised inside Try populates
// @@ERROR/ERROR_MESSAGE() and diverts into Catch rather than aborting the
// script.
func (bc *buildContext) buildTryCatch(stmt *ast.TryCatchStmt) (plan.Node, error) {
	try, err := bc.buildStatements(stmt.Try)
	if err != nil {
		return nil, err
	}
	catch, err := bc.buildStatements(stmt.Catch)
	if err != nil {
		return nil, err
	}
	return plan.NewTryCatch(try, catch), nil
}
