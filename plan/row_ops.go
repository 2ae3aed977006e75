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

package plan

import (
	"sort"
	"strings"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
)

// ClientFilter applies a residual predicate the remote store could not be
// pushed (spec §4.B "client residual predicates") row by row.
type ClientFilter struct {
	child Node
	pred  exprcompile.Predicate
}

func NewClientFilter(child Node, pred exprcompile.Predicate) *ClientFilter {
	return &ClientFilter{child: child, pred: pred}
}

func (f *ClientFilter) Schema() coretypes.Schema { return f.child.Schema() }
func (f *ClientFilter) Children() []Node         { return []Node{f.child} }

func (f *ClientFilter) RowIter(ctx *execctx.Context) (RowIter, error) {
	iter, err := f.child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &clientFilterIter{filter: f, child: iter}, nil
}

type clientFilterIter struct {
	filter *ClientFilter
	child  RowIter
}

func (it *clientFilterIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return coretypes.Row{}, err
		}
		row, err := it.child.Next(ctx)
		if err != nil {
			return coretypes.Row{}, err
		}
		ok, err := it.filter.pred(ctx, row)
		if err != nil {
			return coretypes.Row{}, err
		}
		if ok {
			return row, nil
		}
	}
}

func (it *clientFilterIter) Close(ctx *execctx.Context) error { return it.child.Close(ctx) }

// Project evaluates a list of output expressions against each child row,
// producing one renamed column per expression.
type Project struct {
	child   Node
	exprs   []exprcompile.Scalar
	schema  coretypes.Schema
}

func NewProject(child Node, exprs []exprcompile.Scalar, schema coretypes.Schema) *Project {
	return &Project{child: child, exprs: exprs, schema: schema}
}

func (p *Project) Schema() coretypes.Schema { return p.schema }
func (p *Project) Children() []Node         { return []Node{p.child} }

func (p *Project) RowIter(ctx *execctx.Context) (RowIter, error) {
	iter, err := p.child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &projectIter{project: p, child: iter}, nil
}

type projectIter struct {
	project *Project
	child   RowIter
}

func (it *projectIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	if err := ctx.CheckCancelled(); err != nil {
		return coretypes.Row{}, err
	}
	row, err := it.child.Next(ctx)
	if err != nil {
		return coretypes.Row{}, err
	}
	names := it.project.schema.Names()
	values := make([]coretypes.QueryValue, len(it.project.exprs))
	for i, e := range it.project.exprs {
		v, err := e(ctx, row)
		if err != nil {
			return coretypes.Row{}, err
		}
		values[i] = v
	}
	return coretypes.NewRow(names, values), nil
}

func (it *projectIter) Close(ctx *execctx.Context) error { return it.child.Close(ctx) }

// SortKey is one ORDER BY term. Column carries the bare row-column name
// when the key is a plain column reference, letting the plan builder
// recognize an already-sorted input (merge join, stream aggregate); it
// is empty for computed sort keys.
type SortKey struct {
	Expr   exprcompile.Scalar
	Desc   bool
	Column string
}

// Sort materializes its child and orders it client-side. The plan builder
// emits it for every ORDER BY, bare-column keys included; ORDER BY is not
// pushed to the remote store.
type Sort struct {
	child Node
	keys  []SortKey
}

func NewSort(child Node, keys []SortKey) *Sort {
	return &Sort{child: child, keys: keys}
}

func (s *Sort) Schema() coretypes.Schema { return s.child.Schema() }
func (s *Sort) Children() []Node         { return []Node{s.child} }

func (s *Sort) RowIter(ctx *execctx.Context) (RowIter, error) {
	rows, err := materialize(ctx, s.child)
	if err != nil {
		return nil, err
	}
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		for _, k := range s.keys {
			vi, err := k.Expr(ctx, rows[i])
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := k.Expr(ctx, rows[j])
			if err != nil {
				sortErr = err
				return false
			}
			cmp := compareSortable(vi, vj)
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return newSliceIter(s.child.Schema(), rows), nil
}

// compareSortable orders null above every non-null value, so nulls come
// last in an ascending sort and first in a descending one.
func compareSortable(a, b coretypes.QueryValue) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return 1
	}
	if b.IsNull() {
		return -1
	}
	return compareKeys(a, b)
}

// Top yields at most N rows from its child, short-circuiting without
// draining the remainder.
type Top struct {
	child Node
	n     int
}

func NewTop(child Node, n int) *Top {
	return &Top{child: child, n: n}
}

func (t *Top) Schema() coretypes.Schema { return t.child.Schema() }
func (t *Top) Children() []Node         { return []Node{t.child} }

func (t *Top) RowIter(ctx *execctx.Context) (RowIter, error) {
	iter, err := t.child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &topIter{top: t, child: iter}, nil
}

type topIter struct {
	top   *Top
	child RowIter
	n     int
}

func (it *topIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	if it.n >= it.top.n {
		return coretypes.Row{}, EOF
	}
	row, err := it.child.Next(ctx)
	if err != nil {
		return coretypes.Row{}, err
	}
	it.n++
	return row, nil
}

func (it *topIter) Close(ctx *execctx.Context) error { return it.child.Close(ctx) }

// OffsetFetch implements OFFSET n ROWS FETCH NEXT m ROWS ONLY client-side,
// placed after the Sort when the query has an ORDER BY and directly over
// the child's arrival order otherwise; the remote store's own paging
// cookie is not used to express the offset.
type OffsetFetch struct {
	child  Node
	offset int
	fetch  int // -1 means unbounded
}

func NewOffsetFetch(child Node, offset, fetch int) *OffsetFetch {
	return &OffsetFetch{child: child, offset: offset, fetch: fetch}
}

func (o *OffsetFetch) Schema() coretypes.Schema { return o.child.Schema() }
func (o *OffsetFetch) Children() []Node         { return []Node{o.child} }

func (o *OffsetFetch) RowIter(ctx *execctx.Context) (RowIter, error) {
	iter, err := o.child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	for i := 0; i < o.offset; i++ {
		if _, err := iter.Next(ctx); err != nil {
			if err == EOF {
				return newSliceIter(o.child.Schema(), nil), nil
			}
			return nil, err
		}
	}
	return &offsetFetchIter{offsetFetch: o, child: iter}, nil
}

type offsetFetchIter struct {
	offsetFetch *OffsetFetch
	child       RowIter
	n           int
}

func (it *offsetFetchIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	if it.offsetFetch.fetch >= 0 && it.n >= it.offsetFetch.fetch {
		return coretypes.Row{}, EOF
	}
	row, err := it.child.Next(ctx)
	if err != nil {
		return coretypes.Row{}, err
	}
	it.n++
	return row, nil
}

func (it *offsetFetchIter) Close(ctx *execctx.Context) error { return it.child.Close(ctx) }

// Distinct suppresses duplicate rows, keyed on the full row's rendered
// value (spec §4.D); it materializes a seen-set but streams output as it
// consumes its child, rather than buffering the whole result set.
type Distinct struct {
	child Node
}

func NewDistinct(child Node) *Distinct {
	return &Distinct{child: child}
}

func (d *Distinct) Schema() coretypes.Schema { return d.child.Schema() }
func (d *Distinct) Children() []Node         { return []Node{d.child} }

func (d *Distinct) RowIter(ctx *execctx.Context) (RowIter, error) {
	iter, err := d.child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &distinctIter{child: iter, seen: map[string]struct{}{}}, nil
}

type distinctIter struct {
	child RowIter
	seen  map[string]struct{}
}

func (it *distinctIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return coretypes.Row{}, err
		}
		row, err := it.child.Next(ctx)
		if err != nil {
			return coretypes.Row{}, err
		}
		key := rowKey(row)
		if _, dup := it.seen[key]; dup {
			continue
		}
		it.seen[key] = struct{}{}
		return row, nil
	}
}

func (it *distinctIter) Close(ctx *execctx.Context) error { return it.child.Close(ctx) }

func rowKey(row coretypes.Row) string {
	var b strings.Builder
	for i := 0; i < row.Len(); i++ {
		b.WriteString(row.At(i).String())
		b.WriteByte(0)
	}
	return b.String()
}

// Concatenate appends the rows of N children in order, implementing
// UNION ALL directly and backing UNION/INTERSECT/EXCEPT once wrapped in
// Distinct or a set-difference operator above it (spec §4.B).
type Concatenate struct {
	children []Node
	schema   coretypes.Schema
}

func NewConcatenate(children []Node) *Concatenate {
	var schema coretypes.Schema
	if len(children) > 0 {
		schema = children[0].Schema()
	}
	return &Concatenate{children: children, schema: schema}
}

func (c *Concatenate) Schema() coretypes.Schema { return c.schema }
func (c *Concatenate) Children() []Node         { return c.children }

func (c *Concatenate) RowIter(ctx *execctx.Context) (RowIter, error) {
	return &concatenateIter{concat: c}, nil
}

type concatenateIter struct {
	concat *Concatenate
	idx    int
	cur    RowIter
}

func (it *concatenateIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return coretypes.Row{}, err
		}
		if it.cur == nil {
			if it.idx >= len(it.concat.children) {
				return coretypes.Row{}, EOF
			}
			iter, err := it.concat.children[it.idx].RowIter(ctx)
			if err != nil {
				return coretypes.Row{}, err
			}
			it.cur = iter
		}
		row, err := it.cur.Next(ctx)
		if err == EOF {
			it.cur.Close(ctx)
			it.cur = nil
			it.idx++
			continue
		}
		if err != nil {
			return coretypes.Row{}, err
		}
		return row, nil
	}
}

func (it *concatenateIter) Close(ctx *execctx.Context) error {
	if it.cur != nil {
		return it.cur.Close(ctx)
	}
	return nil
}

// SetDifference backs EXCEPT/INTERSECT: it materializes the right side
// into a seen-set once, then streams the left side filtered by presence
// (intersect=true keeps matches, intersect=false drops them).
type SetDifference struct {
	left, right Node
	intersect   bool
}

func NewSetDifference(left, right Node, intersect bool) *SetDifference {
	return &SetDifference{left: left, right: right, intersect: intersect}
}

func (s *SetDifference) Schema() coretypes.Schema { return s.left.Schema() }
func (s *SetDifference) Children() []Node         { return []Node{s.left, s.right} }

func (s *SetDifference) RowIter(ctx *execctx.Context) (RowIter, error) {
	rightRows, err := materialize(ctx, s.right)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, r := range rightRows {
		seen[rowKey(r)] = struct{}{}
	}
	leftIter, err := s.left.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &setDifferenceIter{diff: s, left: leftIter, seen: seen}, nil
}

type setDifferenceIter struct {
	diff *SetDifference
	left RowIter
	seen map[string]struct{}
}

func (it *setDifferenceIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return coretypes.Row{}, err
		}
		row, err := it.left.Next(ctx)
		if err != nil {
			return coretypes.Row{}, err
		}
		_, present := it.seen[rowKey(row)]
		if present == it.diff.intersect {
			return row, nil
		}
	}
}

func (it *setDifferenceIter) Close(ctx *execctx.Context) error { return it.left.Close(ctx) }

// AssertSingleRow passes through at most one row from its child, failing
// once a second row appears. The plan builder places one over the scan
// side of a scalar-subquery join; zero child rows pass through as zero
// rows and the enclosing left outer join pads the missing side with
// nulls.
type AssertSingleRow struct {
	child Node
}

func NewAssertSingleRow(child Node) *AssertSingleRow { return &AssertSingleRow{child: child} }

func (a *AssertSingleRow) Schema() coretypes.Schema { return a.child.Schema() }
func (a *AssertSingleRow) Children() []Node         { return []Node{a.child} }

func (a *AssertSingleRow) RowIter(ctx *execctx.Context) (RowIter, error) {
	child, err := a.child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &assertSingleRowIter{child: child}, nil
}

type assertSingleRowIter struct {
	child   RowIter
	yielded bool
}

func (it *assertSingleRowIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	row, err := it.child.Next(ctx)
	if err != nil {
		return coretypes.Row{}, err
	}
	if it.yielded {
		return coretypes.Row{}, errkind.ExecutionFailed.New("scalar subquery returned more than one row")
	}
	it.yielded = true
	return row, nil
}

func (it *assertSingleRowIter) Close(ctx *execctx.Context) error { return it.child.Close(ctx) }

// SortedOn reports whether n's output is known to arrive ordered
// ascending on columns as its leading sort keys, which is what MergeJoin
// and StreamAggregate require of their inputs. Only a client-side Sort
// advertises its ordering; remote scans make no cross-page ordering
// promise beyond the store's own, which the plan builder never relies
// on.
func SortedOn(n Node, columns []string) bool {
	s, ok := n.(*Sort)
	if !ok || len(columns) == 0 || len(s.keys) < len(columns) {
		return false
	}
	for i, col := range columns {
		k := s.keys[i]
		if k.Desc || k.Column == "" || !strings.EqualFold(k.Column, col) {
			return false
		}
	}
	return true
}
