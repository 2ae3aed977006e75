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

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
)

// WindowFuncKind enumerates the window functions WindowSpool computes.
// Aggregate functions used with OVER (SUM, COUNT, MIN, MAX) reuse
// AggFuncKind through WindowExpr.AggFunc instead of duplicating accumulators.
type WindowFuncKind int

const (
	WinRank WindowFuncKind = iota
	WinDenseRank
	WinCumeDist
	WinPercentRank
	WinNtile
	WinRowNumber
	WinLag
	WinLead
	WinFirstValue
	WinLastValue
)

// WindowExpr is one OVER(...) column WindowSpool materializes.
type WindowExpr struct {
	Alias       string
	Kind        WindowFuncKind
	Arg         exprcompile.Scalar // LAG/LEAD/FIRST_VALUE/LAST_VALUE operand
	Offset      int                // LAG/LEAD distance, NTILE bucket count
	PartitionBy []exprcompile.Scalar
	OrderBy     []SortKey
	// AggFunc is set instead of Kind for SUM/COUNT/MIN/MAX OVER(...);
	// WindowSpool runs it over the running frame when OrderBy is set, over
	// the whole partition otherwise.
	AggFunc *AggregateExpr
}

// WindowSpool buffers its child by partition and emits each input row
// augmented with one column per WindowExpr (spec §4.D, §4.C "OVER
// windows ... compiled to references into the window node's
// per-partition buffers"). It always materializes: window functions need
// random access within a partition that a pull iterator alone can't give
// cheaply.
type WindowSpool struct {
	child   Node
	windows []WindowExpr
	schema  coretypes.Schema
}

func NewWindowSpool(child Node, windows []WindowExpr, schema coretypes.Schema) *WindowSpool {
	return &WindowSpool{child: child, windows: windows, schema: schema}
}

func (w *WindowSpool) Schema() coretypes.Schema { return w.schema }
func (w *WindowSpool) Children() []Node         { return []Node{w.child} }

func (w *WindowSpool) RowIter(ctx *execctx.Context) (RowIter, error) {
	rows, err := materialize(ctx, w.child)
	if err != nil {
		return nil, err
	}
	extra := make([][]coretypes.QueryValue, len(rows))
	for i := range extra {
		extra[i] = make([]coretypes.QueryValue, len(w.windows))
	}
	for wi, win := range w.windows {
		if err := computeWindow(ctx, rows, extra, wi, win); err != nil {
			return nil, err
		}
	}
	names := w.child.Schema().Names()
	for _, win := range w.windows {
		names = append(names, win.Alias)
	}
	out := make([]coretypes.Row, len(rows))
	for i, row := range rows {
		values := make([]coretypes.QueryValue, row.Len(), row.Len()+len(w.windows))
		for c := 0; c < row.Len(); c++ {
			values[c] = row.At(c)
		}
		values = append(values, extra[i]...)
		out[i] = coretypes.NewRow(names, values)
	}
	return newSliceIter(w.schema, out), nil
}

func computeWindow(ctx *execctx.Context, rows []coretypes.Row, extra [][]coretypes.QueryValue, wi int, win WindowExpr) error {
	partitions, err := partitionIndices(ctx, rows, win.PartitionBy)
	if err != nil {
		return err
	}
	for _, idxs := range partitions {
		sortPartition(ctx, rows, idxs, win.OrderBy)
		if win.AggFunc != nil {
			if err := computeWindowAgg(ctx, rows, idxs, extra, wi, *win.AggFunc, len(win.OrderBy) > 0); err != nil {
				return err
			}
			continue
		}
		switch win.Kind {
		case WinRowNumber:
			for pos, idx := range idxs {
				extra[idx][wi] = coretypes.NewInteger(int64(pos + 1))
			}
		case WinRank, WinDenseRank:
			rank, dense := 1, 1
			for pos, idx := range idxs {
				if pos > 0 && compareRowsByKeys(ctx, rows[idxs[pos-1]], rows[idx], win.OrderBy) != 0 {
					rank = pos + 1
					dense++
				}
				if win.Kind == WinRank {
					extra[idx][wi] = coretypes.NewInteger(int64(rank))
				} else {
					extra[idx][wi] = coretypes.NewInteger(int64(dense))
				}
			}
		case WinCumeDist:
			n := len(idxs)
			for pos, idx := range idxs {
				tieEnd := pos
				for tieEnd+1 < n && compareRowsByKeys(ctx, rows[idxs[tieEnd+1]], rows[idx], win.OrderBy) == 0 {
					tieEnd++
				}
				extra[idx][wi] = coretypes.NewFloating(float64(tieEnd+1) / float64(n))
			}
		case WinPercentRank:
			n := len(idxs)
			rank := 1
			for pos, idx := range idxs {
				if pos > 0 && compareRowsByKeys(ctx, rows[idxs[pos-1]], rows[idx], win.OrderBy) != 0 {
					rank = pos + 1
				}
				if n <= 1 {
					extra[idx][wi] = coretypes.NewFloating(0)
				} else {
					extra[idx][wi] = coretypes.NewFloating(float64(rank-1) / float64(n-1))
				}
			}
		case WinNtile:
			n := len(idxs)
			buckets := win.Offset
			if buckets < 1 {
				buckets = 1
			}
			base, rem := n/buckets, n%buckets
			bucket, filled := 1, 0
			size := base
			if rem > 0 {
				size++
			}
			for pos, idx := range idxs {
				if pos >= filled+size {
					filled += size
					bucket++
					rem--
					size = base
					if rem > 0 {
						size++
					}
				}
				extra[idx][wi] = coretypes.NewInteger(int64(bucket))
			}
		case WinLag, WinLead:
			delta := win.Offset
			if delta == 0 {
				delta = 1
			}
			if win.Kind == WinLag {
				delta = -delta
			}
			for pos, idx := range idxs {
				src := pos + delta
				if src < 0 || src >= len(idxs) {
					extra[idx][wi] = coretypes.NewNull()
					continue
				}
				v, err := win.Arg(ctx, rows[idxs[src]])
				if err != nil {
					return err
				}
				extra[idx][wi] = v
			}
		case WinFirstValue, WinLastValue:
			if len(idxs) == 0 {
				continue
			}
			src := idxs[0]
			if win.Kind == WinLastValue {
				src = idxs[len(idxs)-1]
			}
			v, err := win.Arg(ctx, rows[src])
			if err != nil {
				return err
			}
			for _, idx := range idxs {
				extra[idx][wi] = v
			}
		}
	}
	return nil
}

func computeWindowAgg(ctx *execctx.Context, rows []coretypes.Row, idxs []int, extra [][]coretypes.QueryValue, wi int, agg AggregateExpr, running bool) error {
	// Running frame: UNBOUNDED PRECEDING to CURRENT ROW when ORDER BY is
	// present (the common running-total case), the whole partition
	// otherwise.
	st := newAggState(agg)
	for _, idx := range idxs {
		if err := accumulateInto(ctx, st, agg, rows[idx]); err != nil {
			return err
		}
		if running {
			extra[idx][wi] = st.result()
		}
	}
	if !running {
		total := st.result()
		for _, idx := range idxs {
			extra[idx][wi] = total
		}
	}
	return nil
}

func partitionIndices(ctx *execctx.Context, rows []coretypes.Row, keys []exprcompile.Scalar) (map[string][]int, error) {
	partitions := map[string][]int{}
	for i, row := range rows {
		var k string
		for _, key := range keys {
			v, err := key(ctx, row)
			if err != nil {
				return nil, err
			}
			k += v.String() + "\x00"
		}
		partitions[k] = append(partitions[k], i)
	}
	return partitions, nil
}

func sortPartition(ctx *execctx.Context, rows []coretypes.Row, idxs []int, keys []SortKey) {
	sort.SliceStable(idxs, func(a, b int) bool {
		return compareRowsByKeys(ctx, rows[idxs[a]], rows[idxs[b]], keys) < 0
	})
}

func compareRowsByKeys(ctx *execctx.Context, a, b coretypes.Row, keys []SortKey) int {
	for _, k := range keys {
		va, _ := k.Expr(ctx, a)
		vb, _ := k.Expr(ctx, b)
		cmp := compareSortable(va, vb)
		if k.Desc {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}
