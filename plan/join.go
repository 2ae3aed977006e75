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
	"cmp"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
)

// JoinKind distinguishes INNER from the OUTER variants; semi/anti joins
// (the IN/EXISTS subquery rewrites of spec §4.B) are their own kinds so
// the probe loop can suppress or invert emission without a separate
// operator family.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeftOuter
	JoinSemi
	JoinAnti
)

// combineRows concatenates left and right; a right-side column whose name
// the left row already carries is dropped, so the left value wins.
func combineRows(left, right coretypes.Row) coretypes.Row {
	names := append([]string{}, left.ColumnNames()...)
	values := make([]coretypes.QueryValue, 0, left.Len()+right.Len())
	for i := 0; i < left.Len(); i++ {
		values = append(values, left.At(i))
	}
	for i, n := range right.ColumnNames() {
		if _, dup := left.Get(n); dup {
			continue
		}
		names = append(names, n)
		values = append(values, right.At(i))
	}
	return coretypes.NewRow(names, values)
}

func nullPaddedRight(schema coretypes.Schema) coretypes.Row {
	names := make([]string, len(schema))
	values := make([]coretypes.QueryValue, len(schema))
	for i, c := range schema {
		names[i] = c.Name
		values[i] = coretypes.NewNull()
	}
	return coretypes.NewRow(names, values)
}

// NestedLoopJoin evaluates its predicate row-by-row against a
// materialized right side; the plan builder's default when no
// equi-join key can drive a hash or merge strategy (spec §4.B).
type NestedLoopJoin struct {
	left, right Node
	kind        JoinKind
	pred        exprcompile.Predicate
	schema      coretypes.Schema
}

func NewNestedLoopJoin(left, right Node, kind JoinKind, pred exprcompile.Predicate) *NestedLoopJoin {
	return &NestedLoopJoin{left: left, right: right, kind: kind, pred: pred, schema: joinSchema(left, right, kind)}
}

func joinSchema(left, right Node, kind JoinKind) coretypes.Schema {
	if kind == JoinSemi || kind == JoinAnti {
		return left.Schema()
	}
	return append(append(coretypes.Schema{}, left.Schema()...), right.Schema()...)
}

func (j *NestedLoopJoin) Schema() coretypes.Schema { return j.schema }
func (j *NestedLoopJoin) Children() []Node         { return []Node{j.left, j.right} }

func (j *NestedLoopJoin) RowIter(ctx *execctx.Context) (RowIter, error) {
	rightRows, err := materialize(ctx, j.right)
	if err != nil {
		return nil, err
	}
	leftIter, err := j.left.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &nestedLoopJoinIter{join: j, leftIter: leftIter, rightRows: rightRows}, nil
}

type nestedLoopJoinIter struct {
	join        *NestedLoopJoin
	leftIter    RowIter
	rightRows   []coretypes.Row
	curLeft     coretypes.Row
	haveLeft    bool
	rightPos    int
	leftMatched bool
}

func (it *nestedLoopJoinIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return coretypes.Row{}, err
		}
		if !it.haveLeft {
			row, err := it.leftIter.Next(ctx)
			if err == EOF {
				return coretypes.Row{}, EOF
			}
			if err != nil {
				return coretypes.Row{}, err
			}
			it.curLeft = row
			it.haveLeft = true
			it.rightPos = 0
			it.leftMatched = false
		}
		for it.rightPos < len(it.rightRows) {
			right := it.rightRows[it.rightPos]
			it.rightPos++
			combined := combineRows(it.curLeft, right)
			ok, err := it.join.pred(ctx, combined)
			if err != nil {
				return coretypes.Row{}, err
			}
			if !ok {
				continue
			}
			it.leftMatched = true
			switch it.join.kind {
			case JoinSemi:
				it.haveLeft = false
				it.rightPos = len(it.rightRows)
				return it.curLeft, nil
			case JoinAnti:
				continue
			default:
				return combined, nil
			}
		}
		// Right side exhausted for this left row.
		exhausted := it.curLeft
		matched := it.leftMatched
		it.haveLeft = false
		switch it.join.kind {
		case JoinLeftOuter:
			if !matched {
				return combineRows(exhausted, nullPaddedRight(it.join.right.Schema())), nil
			}
		case JoinAnti:
			if !matched {
				return exhausted, nil
			}
		}
	}
}

func (it *nestedLoopJoinIter) Close(ctx *execctx.Context) error { return it.leftIter.Close(ctx) }

func materialize(ctx *execctx.Context, n Node) ([]coretypes.Row, error) {
	iter, err := n.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	defer iter.Close(ctx)
	var rows []coretypes.Row
	for {
		row, err := iter.Next(ctx)
		if err == EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// HashJoin builds an in-memory hash table keyed by the right side's
// equi-join key, used whenever the plan builder identifies an equality
// predicate (spec §4.B); it falls back through the same probe/emit shape
// as NestedLoopJoin but avoids the right-side rescan per left row.
type HashJoin struct {
	left, right    Node
	kind           JoinKind
	leftKey        exprcompile.Scalar
	rightKey       exprcompile.Scalar
	residual       exprcompile.Predicate
	schema         coretypes.Schema
}

func NewHashJoin(left, right Node, kind JoinKind, leftKey, rightKey exprcompile.Scalar, residual exprcompile.Predicate) *HashJoin {
	return &HashJoin{left: left, right: right, kind: kind, leftKey: leftKey, rightKey: rightKey, residual: residual, schema: joinSchema(left, right, kind)}
}

func (j *HashJoin) Schema() coretypes.Schema { return j.schema }
func (j *HashJoin) Children() []Node         { return []Node{j.left, j.right} }

func (j *HashJoin) RowIter(ctx *execctx.Context) (RowIter, error) {
	rightRows, err := materialize(ctx, j.right)
	if err != nil {
		return nil, err
	}
	buckets := map[string][]coretypes.Row{}
	for _, r := range rightRows {
		kv, err := j.rightKey(ctx, r)
		if err != nil {
			return nil, err
		}
		if kv.IsNull() {
			continue
		}
		k := kv.String()
		buckets[k] = append(buckets[k], r)
	}
	leftIter, err := j.left.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &hashJoinIter{join: j, leftIter: leftIter, buckets: buckets}, nil
}

type hashJoinIter struct {
	join     *HashJoin
	leftIter RowIter
	buckets  map[string][]coretypes.Row
	bucket   []coretypes.Row
	bpos     int
	curLeft  coretypes.Row
	haveLeft bool
	matched  bool
}

func (it *hashJoinIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return coretypes.Row{}, err
		}
		if !it.haveLeft {
			row, err := it.leftIter.Next(ctx)
			if err == EOF {
				return coretypes.Row{}, EOF
			}
			if err != nil {
				return coretypes.Row{}, err
			}
			it.curLeft = row
			it.haveLeft = true
			it.matched = false
			kv, err := it.join.leftKey(ctx, row)
			if err != nil {
				return coretypes.Row{}, err
			}
			if kv.IsNull() {
				it.bucket = nil
			} else {
				it.bucket = it.buckets[kv.String()]
			}
			it.bpos = 0
		}
		for it.bpos < len(it.bucket) {
			right := it.bucket[it.bpos]
			it.bpos++
			combined := combineRows(it.curLeft, right)
			if it.join.residual != nil {
				ok, err := it.join.residual(ctx, combined)
				if err != nil {
					return coretypes.Row{}, err
				}
				if !ok {
					continue
				}
			}
			it.matched = true
			switch it.join.kind {
			case JoinSemi:
				it.haveLeft = false
				it.bpos = len(it.bucket)
				return it.curLeft, nil
			case JoinAnti:
				continue
			default:
				return combined, nil
			}
		}
		exhausted, matched := it.curLeft, it.matched
		it.haveLeft = false
		switch it.join.kind {
		case JoinLeftOuter:
			if !matched {
				return combineRows(exhausted, nullPaddedRight(it.join.right.Schema())), nil
			}
		case JoinAnti:
			if !matched {
				return exhausted, nil
			}
		}
	}
}

func (it *hashJoinIter) Close(ctx *execctx.Context) error { return it.leftIter.Close(ctx) }

// MergeJoin consumes both sides in key order and walks them in lockstep;
// the plan builder only selects it when both inputs are already sorted on
// the join key (e.g. two FetchScans ordered by the remote store), since
// this operator performs no sorting of its own.
type MergeJoin struct {
	left, right Node
	leftKey     exprcompile.Scalar
	rightKey    exprcompile.Scalar
	schema      coretypes.Schema
}

func NewMergeJoin(left, right Node, leftKey, rightKey exprcompile.Scalar) *MergeJoin {
	return &MergeJoin{left: left, right: right, leftKey: leftKey, rightKey: rightKey, schema: joinSchema(left, right, JoinInner)}
}

func (j *MergeJoin) Schema() coretypes.Schema { return j.schema }
func (j *MergeJoin) Children() []Node         { return []Node{j.left, j.right} }

func (j *MergeJoin) RowIter(ctx *execctx.Context) (RowIter, error) {
	leftRows, err := materialize(ctx, j.left)
	if err != nil {
		return nil, err
	}
	rightRows, err := materialize(ctx, j.right)
	if err != nil {
		return nil, err
	}
	var out []coretypes.Row
	li, ri := 0, 0
	for li < len(leftRows) && ri < len(rightRows) {
		lk, err := j.leftKey(ctx, leftRows[li])
		if err != nil {
			return nil, err
		}
		rk, err := j.rightKey(ctx, rightRows[ri])
		if err != nil {
			return nil, err
		}
		cmp := compareKeys(lk, rk)
		switch {
		case cmp < 0:
			li++
		case cmp > 0:
			ri++
		default:
			// Scan the full run of matching keys on both sides.
			lEnd := li
			for lEnd < len(leftRows) {
				k, err := j.leftKey(ctx, leftRows[lEnd])
				if err != nil {
					return nil, err
				}
				if compareKeys(k, lk) != 0 {
					break
				}
				lEnd++
			}
			rEnd := ri
			for rEnd < len(rightRows) {
				k, err := j.rightKey(ctx, rightRows[rEnd])
				if err != nil {
					return nil, err
				}
				if compareKeys(k, rk) != 0 {
					break
				}
				rEnd++
			}
			for a := li; a < lEnd; a++ {
				for b := ri; b < rEnd; b++ {
					out = append(out, combineRows(leftRows[a], rightRows[b]))
				}
			}
			li, ri = lEnd, rEnd
		}
	}
	return newSliceIter(j.schema, out), nil
}

func compareKeys(a, b coretypes.QueryValue) int {
	switch {
	case a.Tag == coretypes.Integer && b.Tag == coretypes.Integer:
		return cmp.Compare(a.Int, b.Int)
	case a.Tag == coretypes.Floating && b.Tag == coretypes.Floating:
		return cmp.Compare(a.Float, b.Float)
	case a.Tag == coretypes.Decimal && b.Tag == coretypes.Decimal:
		return a.Dec.Cmp(b.Dec)
	}
	as, bs := a.String(), b.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
