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

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xrmsql/engine/ast"
)

// lexer tokenizes a T-SQL script. It never fails: unrecognized bytes are
// surfaced to the parser as single-character Punct tokens, which the
// parser then rejects with a positioned ParseError.
type lexer struct {
	src        string
	offset     int
	line, col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) pos() ast.Pos {
	return ast.Pos{Line: l.line, Column: l.col, Offset: l.offset}
}

func (l *lexer) peekByte() byte {
	if l.offset >= len(l.src) {
		return 0
	}
	return l.src[l.offset]
}

func (l *lexer) advance() byte {
	b := l.src[l.offset]
	l.offset++
	if b == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return b
}

func (l *lexer) eof() bool { return l.offset >= len(l.src) }

func (l *lexer) skipTrivia() {
	for !l.eof() {
		b := l.peekByte()
		switch {
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			l.advance()
		case b == '-' && l.offset+1 < len(l.src) && l.src[l.offset+1] == '-':
			for !l.eof() && l.peekByte() != '\n' {
				l.advance()
			}
		case b == '/' && l.offset+1 < len(l.src) && l.src[l.offset+1] == '*':
			l.advance()
			l.advance()
			for !l.eof() {
				if l.peekByte() == '*' && l.offset+1 < len(l.src) && l.src[l.offset+1] == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return
		}
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '#' || unicode.IsLetter(r)
}

func isIdentCont(r rune) bool {
	return r == '_' || r == '#' || r == '@' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Next returns the next token. Callers get EOF forever once the input is
// exhausted.
func (l *lexer) Next() Token {
	l.skipTrivia()
	start := l.pos()
	if l.eof() {
		return Token{Kind: EOF, Pos: start}
	}

	b := l.peekByte()
	var tok Token
	switch {
	case b == '@':
		tok = l.lexVariable(start)
	case b == '\'':
		tok = l.lexString(start)
	case b == '[':
		tok = l.lexBracketedIdent(start)
	case b == '"':
		tok = l.lexQuotedIdent(start)
	case b >= '0' && b <= '9':
		tok = l.lexNumber(start)
	case isIdentStartByte(b):
		tok = l.lexIdentOrKeyword(start)
	default:
		tok = l.lexOperatorOrPunct(start)
	}
	// End is the raw source-text end offset, which the returned Token's
	// (possibly unescaped or unbracketed) Text doesn't reliably reproduce
	// — intellisense tokenization (spec §4.I) needs the true span to
	// highlight the editor's actual text, not the decoded value.
	tok.End = l.offset
	return tok
}

func isIdentStartByte(b byte) bool {
	if b < utf8.RuneSelf {
		return isIdentStart(rune(b))
	}
	return true
}

func (l *lexer) lexVariable(start ast.Pos) Token {
	l.advance() // @
	system := false
	if l.peekByte() == '@' {
		l.advance()
		system = true
	}
	begin := l.offset
	for !l.eof() && isIdentContByte(l.peekByte()) {
		l.advance()
	}
	name := l.src[begin:l.offset]
	kind := Variable
	if system {
		kind = SystemVar
		name = "@@" + name
	} else {
		name = "@" + name
	}
	return Token{Kind: kind, Text: name, Upper: strings.ToUpper(name), Pos: start}
}

func isIdentContByte(b byte) bool {
	if b < utf8.RuneSelf {
		return isIdentCont(rune(b))
	}
	return true
}

func (l *lexer) lexString(start ast.Pos) Token {
	l.advance() // opening '
	var sb strings.Builder
	for !l.eof() {
		if l.peekByte() == '\'' {
			l.advance()
			if l.peekByte() == '\'' { // escaped quote ''
				sb.WriteByte('\'')
				l.advance()
				continue
			}
			break
		}
		sb.WriteByte(l.advance())
	}
	return Token{Kind: String, Text: sb.String(), Pos: start}
}

func (l *lexer) lexBracketedIdent(start ast.Pos) Token {
	l.advance() // [
	begin := l.offset
	for !l.eof() && l.peekByte() != ']' {
		l.advance()
	}
	name := l.src[begin:l.offset]
	if !l.eof() {
		l.advance() // ]
	}
	return Token{Kind: QuotedIdent, Text: name, Pos: start}
}

func (l *lexer) lexQuotedIdent(start ast.Pos) Token {
	l.advance() // "
	begin := l.offset
	for !l.eof() && l.peekByte() != '"' {
		l.advance()
	}
	name := l.src[begin:l.offset]
	if !l.eof() {
		l.advance()
	}
	return Token{Kind: QuotedIdent, Text: name, Pos: start}
}

func (l *lexer) lexNumber(start ast.Pos) Token {
	begin := l.offset
	for !l.eof() && l.peekByte() >= '0' && l.peekByte() <= '9' {
		l.advance()
	}
	if l.peekByte() == '.' {
		l.advance()
		for !l.eof() && l.peekByte() >= '0' && l.peekByte() <= '9' {
			l.advance()
		}
	}
	if l.peekByte() == 'e' || l.peekByte() == 'E' {
		l.advance()
		if l.peekByte() == '+' || l.peekByte() == '-' {
			l.advance()
		}
		for !l.eof() && l.peekByte() >= '0' && l.peekByte() <= '9' {
			l.advance()
		}
	}
	return Token{Kind: Number, Text: l.src[begin:l.offset], Pos: start}
}

func (l *lexer) lexIdentOrKeyword(start ast.Pos) Token {
	begin := l.offset
	for !l.eof() && isIdentContByte(l.peekByte()) {
		l.advance()
	}
	text := l.src[begin:l.offset]
	upper := strings.ToUpper(text)
	kind := Ident
	if isKeyword(upper) {
		kind = Keyword
	}
	return Token{Kind: kind, Text: text, Upper: upper, Pos: start}
}

var multiCharOps = []string{"<=", ">=", "<>", "!=", "+=", "-="}

func (l *lexer) lexOperatorOrPunct(start ast.Pos) Token {
	rest := l.src[l.offset:]
	for _, op := range multiCharOps {
		if strings.HasPrefix(rest, op) {
			for range op {
				l.advance()
			}
			return Token{Kind: Operator, Text: op, Upper: op, Pos: start}
		}
	}
	b := l.advance()
	text := string(b)
	switch b {
	case '+', '-', '*', '/', '%', '=', '<', '>':
		return Token{Kind: Operator, Text: text, Upper: text, Pos: start}
	default:
		return Token{Kind: Punct, Text: text, Upper: text, Pos: start}
	}
}
