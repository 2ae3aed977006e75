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

package parser

import "github.com/xrmsql/engine/ast"

func (p *parser) parseNamedTableWithAlias() (ast.NamedTable, error) {
	pos := p.cur.Pos
	schema, name, err := p.parseQualifiedName()
	if err != nil {
		return ast.NamedTable{}, err
	}
	alias, err := p.parseOptionalAlias()
	if err != nil {
		return ast.NamedTable{}, err
	}
	return ast.NamedTable{Positioned: ast.Positioned{Pos: pos}, Schema: schema, Name: name, Alias: alias}, nil
}

func (p *parser) parseInsert() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // INSERT
	if p.atKeyword("INTO") {
		p.advance()
	}
	table, err := p.parseNamedTableWithAlias()
	if err != nil {
		return nil, err
	}
	var cols []string
	if p.atPunct("(") {
		p.advance()
		for {
			c, err := p.parseIdentifier()
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
			if p.atPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	stmt := &ast.InsertStmt{Positioned: ast.Positioned{Pos: pos}, Table: table, Columns: cols}
	if p.atKeyword("VALUES") {
		p.advance()
		rows, err := p.parseValuesRows()
		if err != nil {
			return nil, err
		}
		stmt.Values = rows
	} else {
		src, err := p.parseQueryExpr()
		if err != nil {
			return nil, err
		}
		stmt.Source = src
	}
	return stmt, nil
}

func (p *parser) parseValuesRows() ([][]ast.Expr, error) {
	var rows [][]ast.Expr
	for {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		row, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return rows, nil
}

func (p *parser) parseAssignmentList() ([]ast.Assignment, error) {
	var assigns []ast.Assignment
	for {
		col, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		if err := p.expectOperator("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, ast.Assignment{Column: col, Value: val})
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return assigns, nil
}

func (p *parser) expectOperator(op string) error {
	if !p.atOperator(op) {
		return p.errorf("expected %q, got %q", op, p.cur.Text)
	}
	p.advance()
	return nil
}

func (p *parser) parseUpdate() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // UPDATE
	table, err := p.parseNamedTableWithAlias()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	assigns, err := p.parseAssignmentList()
	if err != nil {
		return nil, err
	}
	stmt := &ast.UpdateStmt{Positioned: ast.Positioned{Pos: pos}, Table: table, Set: assigns}
	if p.atKeyword("FROM") {
		p.advance()
		from, err := p.parseTableSourceList()
		if err != nil {
			return nil, err
		}
		stmt.From = from
	}
	if p.atKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

func (p *parser) parseDelete() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // DELETE
	if p.atKeyword("FROM") {
		p.advance()
	}
	table, err := p.parseNamedTableWithAlias()
	if err != nil {
		return nil, err
	}
	stmt := &ast.DeleteStmt{Positioned: ast.Positioned{Pos: pos}, Table: table}
	if p.atKeyword("FROM") {
		p.advance()
		from, err := p.parseTableSourceList()
		if err != nil {
			return nil, err
		}
		stmt.From = from
	}
	if p.atKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// parseMerge supports only WHEN NOT MATCHED THEN INSERT; WHEN MATCHED
// variants parse successfully (spec §4.B wants a clear plan-time rejection,
// not a parse failure) so the plan builder can produce the documented
// "not supported" error naming WHEN MATCHED.
func (p *parser) parseMerge() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // MERGE
	if p.atKeyword("INTO") {
		p.advance()
	}
	target, err := p.parseNamedTableWithAlias()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("USING"); err != nil {
		return nil, err
	}
	source, err := p.parseTableSourcePrimary()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	on, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	stmt := &ast.MergeStmt{Positioned: ast.Positioned{Pos: pos}, Target: target, Source: source, On: on}
	for p.atKeyword("WHEN") {
		p.advance()
		if p.atKeyword("NOT") {
			p.advance()
			if err := p.expectKeyword("MATCHED"); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("THEN"); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("INSERT"); err != nil {
				return nil, err
			}
			var cols []string
			if p.atPunct("(") {
				p.advance()
				for {
					c, err := p.parseIdentifier()
					if err != nil {
						return nil, err
					}
					cols = append(cols, c)
					if p.atPunct(",") {
						p.advance()
						continue
					}
					break
				}
				if err := p.expectPunct(")"); err != nil {
					return nil, err
				}
			}
			if err := p.expectKeyword("VALUES"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			values, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			stmt.Actions = append(stmt.Actions, ast.MergeAction{Kind: ast.NotMatchedInsert, Columns: cols, Values: values})
			continue
		}
		if err := p.expectKeyword("MATCHED"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		switch {
		case p.atKeyword("UPDATE"):
			p.advance()
			if err := p.expectKeyword("SET"); err != nil {
				return nil, err
			}
			assigns, err := p.parseAssignmentList()
			if err != nil {
				return nil, err
			}
			stmt.Actions = append(stmt.Actions, ast.MergeAction{Kind: ast.MatchedUpdate, Set: assigns})
		case p.atKeyword("DELETE"):
			p.advance()
			stmt.Actions = append(stmt.Actions, ast.MergeAction{Kind: ast.MatchedDelete})
		default:
			return nil, p.errorf("expected UPDATE or DELETE after WHEN MATCHED THEN, got %q", p.cur.Text)
		}
	}
	return stmt, nil
}

func (p *parser) parseDeclare() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // DECLARE
	if p.cur.Kind != Variable {
		return nil, p.errorf("expected variable name after DECLARE, got %q", p.cur.Text)
	}
	varName := p.cur.Text
	p.advance()
	typeName, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	stmt := &ast.DeclareStmt{Positioned: ast.Positioned{Pos: pos}, Variable: varName, Type: typeName}
	if p.atOperator("=") {
		p.advance()
		initial, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Initial = initial
	}
	return stmt, nil
}

// parseSet handles `SET @var = expr`. Session pragmas such as `SET NOCOUNT
// ON` carry no observable effect in this engine (no row-count messages are
// emitted to a client here; that belongs to the collaborator that renders
// results), so they are consumed and turned into a no-op SetStmt rather
// than rejected, keeping scripts written for a real client parseable.
func (p *parser) parseSet() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // SET
	if p.cur.Kind == Variable {
		varName := p.cur.Text
		p.advance()
		if err := p.expectOperator("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ast.SetStmt{Positioned: ast.Positioned{Pos: pos}, Variable: varName, Value: val}, nil
	}
	for !p.atEndOfStatement() {
		p.advance()
	}
	return &ast.SetStmt{Positioned: ast.Positioned{Pos: pos}}, nil
}

// parseStatementOrBlock parses either a single statement or a BEGIN...END
// block, returning the flattened statement list either way.
func (p *parser) parseStatementOrBlock() ([]ast.Statement, error) {
	if p.atKeyword("BEGIN") {
		p.advance()
		stmts, err := p.parseStatements(map[string]bool{"END": true})
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("END"); err != nil {
			return nil, err
		}
		return stmts, nil
	}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return []ast.Statement{stmt}, nil
}

func (p *parser) parseIf() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // IF
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseStatementOrBlock()
	if err != nil {
		return nil, err
	}
	stmt := &ast.IfStmt{Positioned: ast.Positioned{Pos: pos}, Cond: cond, Then: then}
	if p.atKeyword("ELSE") {
		p.advance()
		els, err := p.parseStatementOrBlock()
		if err != nil {
			return nil, err
		}
		stmt.Else = els
	}
	return stmt, nil
}

func (p *parser) parseWhile() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // WHILE
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseStatementOrBlock()
	if err != nil {
		return nil, err
	}
	return &ast.WhileStmt{Positioned: ast.Positioned{Pos: pos}, Cond: cond, Body: body}, nil
}

// parseBeginBlockOrTry handles both a plain BEGIN...END block and a
// BEGIN TRY...END TRY BEGIN CATCH...END CATCH pair.
func (p *parser) parseBeginBlockOrTry() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // BEGIN
	if p.atKeyword("TRY") {
		p.advance()
		tryStmts, err := p.parseStatements(map[string]bool{"END": true})
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("END"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("TRY"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BEGIN"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("CATCH"); err != nil {
			return nil, err
		}
		catchStmts, err := p.parseStatements(map[string]bool{"END": true})
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("END"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("CATCH"); err != nil {
			return nil, err
		}
		return &ast.TryCatchStmt{Positioned: ast.Positioned{Pos: pos}, Try: tryStmts, Catch: catchStmts}, nil
	}
	stmts, err := p.parseStatements(map[string]bool{"END": true})
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return &ast.BlockStmt{Positioned: ast.Positioned{Pos: pos}, Body: stmts}, nil
}
