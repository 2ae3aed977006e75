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

// Package parser implements the T-SQL parser front end (spec §4.A). No
// mature third-party T-SQL grammar exists anywhere in the reference pack
// this engine was grounded on, so per spec's own rationale this is a
// hand-written recursive-descent parser; Parse is its only exported entry
// point for the §4.A contract ("expose only this one function"). Tokenize
// (tokenize.go) is a second, narrower entry point that exists solely for
// the intellisense package's §4.I contract, which needs raw lexical
// tokens independent of a full, possibly-failing parse.
package parser

import (
	"fmt"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/errkind"
)

// ParseError is the structured error the parser raises; line/column locate
// the offending token.
type ParseError struct {
	Message string
	Line    int
	Column  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// Cause reports an errkind.ParseError, so errkind.KindOf classifies a
// *ParseError as a parse error.
func (e *ParseError) Cause() error { return errkind.ParseError.New(e.Message) }

// Parse tokenizes and parses a T-SQL script into a syntax tree. It fails
// with a *ParseError (whose Cause is an errkind.ParseError) when the script
// cannot be parsed. Parsing is deterministic and pure: it has no side effects and
// consults no schema.
func Parse(scriptText string) (*ast.Script, error) {
	p := &parser{lex: newLexer(scriptText)}
	p.advance()
	p.advance()
	p.advance()
	stmts, err := p.parseStatements(nil)
	if err != nil {
		return nil, err
	}
	if p.cur.Kind != EOF {
		return nil, p.errorf("unexpected trailing input %q", p.cur.Text)
	}
	return &ast.Script{Statements: stmts}, nil
}

// parser is a three-token-lookahead recursive-descent parser. The third
// token (next2) exists solely so `table.*` can be told apart from
// `table.column` without backtracking.
type parser struct {
	lex              *lexer
	cur, next, next2 Token
}

func (p *parser) advance() {
	p.cur = p.next
	p.next = p.next2
	p.next2 = p.lex.Next()
}

func (p *parser) errorf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return &ParseError{Message: msg, Line: p.cur.Pos.Line, Column: p.cur.Pos.Column}
}

func (p *parser) atKeyword(kw string) bool {
	return p.cur.Kind == Keyword && p.cur.Upper == kw
}

func (p *parser) atKeywordAt(tok Token, kw string) bool {
	return tok.Kind == Keyword && tok.Upper == kw
}

func (p *parser) atOperator(op string) bool {
	return p.cur.Kind == Operator && p.cur.Upper == op
}

func (p *parser) atPunct(s string) bool {
	return p.cur.Kind == Punct && p.cur.Text == s
}

func (p *parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return p.errorf("expected %s, got %q", kw, p.cur.Text)
	}
	p.advance()
	return nil
}

func (p *parser) expectPunct(s string) error {
	if !p.atPunct(s) {
		return p.errorf("expected %q, got %q", s, p.cur.Text)
	}
	p.advance()
	return nil
}

// parseIdentifier accepts a plain, bracketed or double-quoted identifier.
func (p *parser) parseIdentifier() (string, error) {
	switch p.cur.Kind {
	case Ident, QuotedIdent:
		name := p.cur.Text
		p.advance()
		return name, nil
	default:
		return "", p.errorf("expected identifier, got %q", p.cur.Text)
	}
}

// parseQualifiedName parses `[schema.]name`, returning ("", name) when
// unqualified.
func (p *parser) parseQualifiedName() (string, string, error) {
	first, err := p.parseIdentifier()
	if err != nil {
		return "", "", err
	}
	if p.atPunct(".") {
		p.advance()
		second, err := p.parseIdentifier()
		if err != nil {
			return "", "", err
		}
		return first, second, nil
	}
	return "", first, nil
}

// parseStatements parses statements until EOF or, when terminators is
// non-nil, until the current token is one of them (used inside
// BEGIN...END, IF/ELSE bodies, TRY/CATCH bodies).
func (p *parser) parseStatements(terminators map[string]bool) ([]ast.Statement, error) {
	var stmts []ast.Statement
	for {
		for p.atPunct(";") {
			p.advance()
		}
		if p.cur.Kind == EOF {
			return stmts, nil
		}
		if terminators != nil && p.cur.Kind == Keyword && terminators[p.cur.Upper] {
			return stmts, nil
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

func (p *parser) parseStatement() (ast.Statement, error) {
	pos := p.cur.Pos
	switch {
	case p.atKeyword("SELECT") || p.atKeyword("WITH"):
		q, err := p.parseQueryExpr()
		if err != nil {
			return nil, err
		}
		return &ast.SelectAsStmt{Positioned: ast.Positioned{Pos: pos}, Query: q}, nil
	case p.atKeyword("INSERT"):
		return p.parseInsert()
	case p.atKeyword("UPDATE"):
		return p.parseUpdate()
	case p.atKeyword("DELETE"):
		return p.parseDelete()
	case p.atKeyword("MERGE"):
		return p.parseMerge()
	case p.atKeyword("DECLARE"):
		return p.parseDeclare()
	case p.atKeyword("SET"):
		return p.parseSet()
	case p.atKeyword("IF"):
		return p.parseIf()
	case p.atKeyword("WHILE"):
		return p.parseWhile()
	case p.atKeyword("BEGIN"):
		return p.parseBeginBlockOrTry()
	case p.atKeyword("EXECUTE") || p.atKeyword("EXEC"):
		return p.parseExecute()
	case p.atKeyword("REVERT"):
		p.advance()
		return &ast.RevertStmt{Positioned: ast.Positioned{Pos: pos}}, nil
	case p.atKeyword("DROP"):
		return p.parseDropTempTable()
	case p.atKeyword("CREATE"):
		return p.parseCreateTempTable()
	default:
		return nil, p.errorf("unexpected token %q at start of statement", p.cur.Text)
	}
}

func (p *parser) parseCreateTempTable() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // CREATE
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var cols []ast.ColumnDef
	for {
		colName, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		typeName, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		cols = append(cols, ast.ColumnDef{Name: colName, Type: typeName})
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ast.CreateTempTableStmt{Positioned: ast.Positioned{Pos: pos}, Name: name, Columns: cols}, nil
}

func (p *parser) parseDropTempTable() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // DROP
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	return &ast.DropTempTableStmt{Positioned: ast.Positioned{Pos: pos}, Name: name}, nil
}

func (p *parser) parseExecute() (ast.Statement, error) {
	pos := p.cur.Pos
	p.advance() // EXECUTE|EXEC
	if p.atKeyword("AS") {
		p.advance()
		loginOrUser, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		return &ast.ExecuteAsStmt{Positioned: ast.Positioned{Pos: pos}, LoginOrUser: loginOrUser}, nil
	}
	var target string
	if p.cur.Kind == String {
		target = p.cur.Text
		p.advance()
	} else {
		name, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		target = name
	}
	var args []ast.Expr
	for !p.atEndOfStatement() {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return &ast.ExecuteStmt{Positioned: ast.Positioned{Pos: pos}, ProcedureOrString: target, Args: args}, nil
}

func (p *parser) atEndOfStatement() bool {
	return p.cur.Kind == EOF || p.atPunct(";") || p.atKeyword("END")
}
