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

// Tokenize runs the lexer to exhaustion and returns every token it
// produced, including the trailing EOF token. Unlike Parse, it never
// fails: the lexer has no error path of its own (unrecognized bytes
// become single-character Punct tokens), so this is safe to call on
// text that a caller is still typing and that may never parse, which is
// exactly the intellisense package's use case (spec §4.I).
func Tokenize(scriptText string) []Token {
	lex := newLexer(scriptText)
	var toks []Token
	for {
		t := lex.Next()
		toks = append(toks, t)
		if t.Kind == EOF {
			return toks
		}
	}
}
