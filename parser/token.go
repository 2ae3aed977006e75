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

// Kind identifies a lexical token category.
type Kind int

const (
	EOF Kind = iota
	Ident
	QuotedIdent // [bracketed] or "quoted" identifier
	Variable    // @name
	SystemVar   // @@name
	Number
	String
	Keyword
	Operator
	Punct
	Comment
)

// Token is one lexical unit with its source position.
type Token struct {
	Kind Kind
	Text string
	// Upper is the upper-cased Text for keywords/operators, cached so the
	// parser doesn't re-fold on every comparison.
	Upper string
	Pos   ast.Pos
	// End is the byte offset one past the token's last source byte. Unset
	// (zero) only for a Token built by hand in a test; every Token the
	// lexer returns has it.
	End int
}

var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"HAVING": true, "ORDER": true, "TOP": true, "PERCENT": true, "TIES": true,
	"WITH": true, "AS": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "FULL": true, "OUTER": true, "CROSS": true, "ON": true,
	"UNION": true, "ALL": true, "INTERSECT": true, "EXCEPT": true,
	"DISTINCT": true, "OFFSET": true, "FETCH": true, "NEXT": true, "ROWS": true,
	"ROW": true, "ONLY": true, "OVER": true, "PARTITION": true, "RANGE": true,
	"BETWEEN": true, "UNBOUNDED": true, "PRECEDING": true, "FOLLOWING": true,
	"CURRENT": true, "INSERT": true, "INTO": true, "VALUES": true,
	"UPDATE": true, "SET": true, "DELETE": true, "MERGE": true, "USING": true,
	"MATCHED": true, "NOT": true, "THEN": true, "WHEN": true, "DECLARE": true,
	"IF": true, "ELSE": true, "WHILE": true, "BEGIN": true, "END": true,
	"TRY": true, "CATCH": true, "EXECUTE": true, "EXEC": true, "REVERT": true,
	"AND": true, "OR": true, "IN": true, "LIKE": true, "ESCAPE": true,
	"IS": true, "NULL": true, "TRUE": true, "FALSE": true, "CASE": true,
	"CAST": true, "CONVERT": true, "TRY_CONVERT": true,
	"IIF": true, "COALESCE": true, "NULLIF": true, "TABLE": true,
	"TEMP": true, "DROP": true, "CREATE": true, "EXISTS": true, "ASC": true, "DESC": true,
}

func init() {
	delete(keywords, "WHEN_")
}

func isKeyword(upper string) bool { return keywords[upper] }

// Keywords returns every reserved word the lexer recognizes, in no
// particular order; it has no effect on parsing.
func Keywords() []string {
	names := make([]string, 0, len(keywords))
	for k := range keywords {
		names = append(names, k)
	}
	return names
}
