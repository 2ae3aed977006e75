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

// parseQueryExpr parses a SELECT, optionally preceded by a WITH clause and
// combined with UNION/UNION ALL/INTERSECT/EXCEPT. CTEs attach to the
// leftmost SelectStmt of the resulting tree: the plan builder resolves CTE
// references against whichever statement runs first (spec §4.B collects
// set-operation branches recursively starting from there).
func (p *parser) parseQueryExpr() (ast.QueryExpr, error) {
	var ctes []ast.CTE
	if p.atKeyword("WITH") {
		p.advance()
		for {
			name, err := p.parseIdentifier()
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
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			q, err := p.parseQueryExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			ctes = append(ctes, ast.CTE{Name: name, Columns: cols, Query: q})
			if p.atPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}

	query, err := p.parseSetOpChain()
	if err != nil {
		return nil, err
	}
	if len(ctes) > 0 {
		attachCTEs(query, ctes)
	}
	return query, nil
}

// attachCTEs threads the WITH clause onto the leftmost SelectStmt reachable
// from query, descending through BinaryQueryExpr.Left.
func attachCTEs(query ast.QueryExpr, ctes []ast.CTE) {
	for {
		switch q := query.(type) {
		case *ast.SelectStmt:
			q.CTEs = append(ctes, q.CTEs...)
			return
		case *ast.BinaryQueryExpr:
			query = q.Left
		default:
			return
		}
	}
}

func (p *parser) parseSetOpChain() (ast.QueryExpr, error) {
	left, err := p.parseQueryPrimary()
	if err != nil {
		return nil, err
	}
	for {
		pos := p.cur.Pos
		var op ast.SetOp
		switch {
		case p.atKeyword("UNION"):
			p.advance()
			op = ast.Union
			if p.atKeyword("ALL") {
				p.advance()
				op = ast.UnionAll
			}
		case p.atKeyword("INTERSECT"):
			p.advance()
			op = ast.Intersect
		case p.atKeyword("EXCEPT"):
			p.advance()
			op = ast.Except
		default:
			return left, nil
		}
		right, err := p.parseQueryPrimary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryQueryExpr{Positioned: ast.Positioned{Pos: pos}, Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseQueryPrimary() (ast.QueryExpr, error) {
	if p.atPunct("(") {
		p.advance()
		q, err := p.parseQueryExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return q, nil
	}
	return p.parseSelectStmt()
}

func (p *parser) parseSelectStmt() (*ast.SelectStmt, error) {
	pos := p.cur.Pos
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := &ast.SelectStmt{Positioned: ast.Positioned{Pos: pos}}

	if p.atKeyword("DISTINCT") {
		p.advance()
		sel.Distinct = true
	} else if p.atKeyword("ALL") {
		p.advance()
	}

	if p.atKeyword("TOP") {
		top, err := p.parseTopClause()
		if err != nil {
			return nil, err
		}
		sel.Top = top
	}

	items, err := p.parseSelectItemList()
	if err != nil {
		return nil, err
	}
	sel.Columns = items

	if p.atKeyword("FROM") {
		p.advance()
		from, err := p.parseTableSourceList()
		if err != nil {
			return nil, err
		}
		sel.From = from
	}

	if p.atKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = where
	}

	if p.atKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		exprs, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		sel.GroupBy = exprs
	}

	if p.atKeyword("HAVING") {
		p.advance()
		having, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Having = having
	}

	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderByItems()
		if err != nil {
			return nil, err
		}
		sel.OrderBy = items
	}

	if p.atKeyword("OFFSET") {
		p.advance()
		offset, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Offset = offset
		if p.atKeyword("ROW") || p.atKeyword("ROWS") {
			p.advance()
		}
		if p.atKeyword("FETCH") {
			p.advance()
			if err := p.expectKeyword("NEXT"); err != nil {
				return nil, err
			}
			fetch, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.Fetch = fetch
			if p.atKeyword("ROW") || p.atKeyword("ROWS") {
				p.advance()
			}
			if err := p.expectKeyword("ONLY"); err != nil {
				return nil, err
			}
		}
	}

	return sel, nil
}

func (p *parser) parseTopClause() (*ast.TopClause, error) {
	p.advance() // TOP
	parenthesized := p.atPunct("(")
	if parenthesized {
		p.advance()
	}
	count, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if parenthesized {
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	top := &ast.TopClause{Count: count}
	if p.atKeyword("PERCENT") {
		p.advance()
		top.Percent = true
	}
	if p.atKeyword("WITH") {
		p.advance()
		if err := p.expectKeyword("TIES"); err != nil {
			return nil, err
		}
		top.WithTies = true
	}
	return top, nil
}

func (p *parser) parseExprList() ([]ast.Expr, error) {
	var exprs []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return exprs, nil
}

func (p *parser) parseOrderByItems() ([]ast.OrderItem, error) {
	var items []ast.OrderItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := ast.OrderItem{Expr: e}
		if p.atKeyword("DESC") {
			p.advance()
			item.Desc = true
		} else if p.atKeyword("ASC") {
			p.advance()
		}
		items = append(items, item)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

// parseSelectItemList handles `*`, `table.*`, and `expr [[AS] alias]`.
func (p *parser) parseSelectItemList() ([]ast.SelectItem, error) {
	var items []ast.SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *parser) parseSelectItem() (ast.SelectItem, error) {
	pos := p.cur.Pos
	if p.cur.Kind == Operator && p.cur.Upper == "*" {
		p.advance()
		return ast.SelectItem{Positioned: ast.Positioned{Pos: pos}, Star: true}, nil
	}
	if (p.cur.Kind == Ident || p.cur.Kind == QuotedIdent) && p.next.Kind == Punct && p.next.Text == "." &&
		p.next2.Kind == Operator && p.next2.Upper == "*" {
		table := p.cur.Text
		p.advance() // ident
		p.advance() // .
		p.advance() // *
		return ast.SelectItem{Positioned: ast.Positioned{Pos: pos}, Star: true, StarTable: table}, nil
	}
	expr, err := p.parseExpr()
	if err != nil {
		return ast.SelectItem{}, err
	}
	item := ast.SelectItem{Positioned: ast.Positioned{Pos: pos}, Expr: expr}
	if p.atKeyword("AS") {
		p.advance()
		alias, err := p.parseIdentifier()
		if err != nil {
			return ast.SelectItem{}, err
		}
		item.Alias = alias
	} else if p.cur.Kind == Ident || p.cur.Kind == QuotedIdent {
		alias, err := p.parseIdentifier()
		if err != nil {
			return ast.SelectItem{}, err
		}
		item.Alias = alias
	}
	return item, nil
}

// parseTableSourceList parses the comma-separated FROM list; entries are
// implicit cross joins, matching T-SQL semantics.
func (p *parser) parseTableSourceList() ([]ast.TableSource, error) {
	var sources []ast.TableSource
	for {
		src, err := p.parseTableSourceWithJoins()
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return sources, nil
}

func (p *parser) parseTableSourceWithJoins() (ast.TableSource, error) {
	left, err := p.parseTableSourcePrimary()
	if err != nil {
		return nil, err
	}
	for {
		pos := p.cur.Pos
		kind, ok, err := p.peekJoinKind()
		if err != nil {
			return nil, err
		}
		if !ok {
			return left, nil
		}
		right, err := p.parseTableSourcePrimary()
		if err != nil {
			return nil, err
		}
		var on ast.Expr
		if kind != ast.CrossJoin {
			if err := p.expectKeyword("ON"); err != nil {
				return nil, err
			}
			on, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		left = &ast.JoinTable{Positioned: ast.Positioned{Pos: pos}, Kind: kind, Left: left, Right: right, On: on}
	}
}

// peekJoinKind consumes the join keyword sequence (INNER/LEFT/RIGHT/FULL
// [OUTER] JOIN, or CROSS JOIN, or bare JOIN) if present and returns its
// kind; it leaves the cursor unmoved and returns ok=false otherwise.
func (p *parser) peekJoinKind() (ast.JoinKind, bool, error) {
	switch {
	case p.atKeyword("JOIN"):
		p.advance()
		return ast.InnerJoin, true, nil
	case p.atKeyword("INNER"):
		p.advance()
		if err := p.expectKeyword("JOIN"); err != nil {
			return 0, false, err
		}
		return ast.InnerJoin, true, nil
	case p.atKeyword("LEFT"):
		p.advance()
		if p.atKeyword("OUTER") {
			p.advance()
		}
		if err := p.expectKeyword("JOIN"); err != nil {
			return 0, false, err
		}
		return ast.LeftOuterJoin, true, nil
	case p.atKeyword("RIGHT"):
		p.advance()
		if p.atKeyword("OUTER") {
			p.advance()
		}
		if err := p.expectKeyword("JOIN"); err != nil {
			return 0, false, err
		}
		return ast.RightOuterJoin, true, nil
	case p.atKeyword("FULL"):
		p.advance()
		if p.atKeyword("OUTER") {
			p.advance()
		}
		if err := p.expectKeyword("JOIN"); err != nil {
			return 0, false, err
		}
		return ast.FullOuterJoin, true, nil
	case p.atKeyword("CROSS"):
		p.advance()
		if err := p.expectKeyword("JOIN"); err != nil {
			return 0, false, err
		}
		return ast.CrossJoin, true, nil
	default:
		return 0, false, nil
	}
}

func (p *parser) parseTableSourcePrimary() (ast.TableSource, error) {
	pos := p.cur.Pos
	if p.atPunct("(") {
		p.advance()
		q, err := p.parseQueryExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		alias, err := p.parseOptionalAlias()
		if err != nil {
			return nil, err
		}
		return &ast.DerivedTable{Positioned: ast.Positioned{Pos: pos}, Query: q, Alias: alias}, nil
	}

	schema, name, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	if p.atPunct("(") {
		p.advance()
		var args []ast.Expr
		if !p.atPunct(")") {
			args, err = p.parseExprList()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		alias, err := p.parseOptionalAlias()
		if err != nil {
			return nil, err
		}
		return &ast.TableValuedFunction{Positioned: ast.Positioned{Pos: pos}, Name: name, Args: args, Alias: alias}, nil
	}
	alias, err := p.parseOptionalAlias()
	if err != nil {
		return nil, err
	}
	return &ast.NamedTable{Positioned: ast.Positioned{Pos: pos}, Schema: schema, Name: name, Alias: alias}, nil
}

func (p *parser) parseOptionalAlias() (string, error) {
	if p.atKeyword("AS") {
		p.advance()
		return p.parseIdentifier()
	}
	if p.cur.Kind == Ident || p.cur.Kind == QuotedIdent {
		return p.parseIdentifier()
	}
	return "", nil
}
