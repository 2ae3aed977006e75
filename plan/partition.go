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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/poolutil"
	"github.com/xrmsql/engine/remoteaccess"
)

// maxAdaptiveDepth bounds the aggregate partitioner's recursive bisection
// (spec §4.F): 15 levels gives roughly 32,000 finest subranges, ample
// headroom for any realistic date range.
const maxAdaptiveDepth = 15

// timeRange is one [Start, End) bisection candidate.
type timeRange struct {
	start, end time.Time
	depth      int
}

func (r timeRange) mid() time.Time {
	return r.start.Add(r.end.Sub(r.start) / 2)
}

func (r timeRange) splittable() bool {
	return r.depth < maxAdaptiveDepth && r.end.After(r.start.Add(time.Second))
}

// RenderAggregateQuery produces the XML aggregate query document for one
// [start, end) bisection of the adaptive scan's timestamp column.
type RenderAggregateQuery func(start, end time.Time) string

// AdaptiveAggregateScan runs one aggregate query against the remote
// store and, on hitting the store's aggregate record cap, recursively
// bisects the timestamp range until every leaf either succeeds or the
// depth bound is reached (spec §4.F). Every leaf's partial rows are
// yielded directly; nothing upstream of this node needs to know a split
// happened, since the enclosing MergeAggregate combines partials the
// same way regardless of how many leaves contributed them.
type AdaptiveAggregateScan struct {
	store  remoteaccess.RemoteStore
	render RenderAggregateQuery
	schema coretypes.Schema
	root   timeRange
	maxRows int
}

func NewAdaptiveAggregateScan(store remoteaccess.RemoteStore, render RenderAggregateQuery, schema coretypes.Schema, start, end time.Time, maxRows int) *AdaptiveAggregateScan {
	return &AdaptiveAggregateScan{store: store, render: render, schema: schema, root: timeRange{start: start, end: end}, maxRows: maxRows}
}

func (a *AdaptiveAggregateScan) Schema() coretypes.Schema { return a.schema }
func (a *AdaptiveAggregateScan) Children() []Node         { return nil }

func (a *AdaptiveAggregateScan) RowIter(ctx *execctx.Context) (RowIter, error) {
	return &adaptiveAggregateIter{scan: a, pending: []timeRange{a.root}}, nil
}

type adaptiveAggregateIter struct {
	scan    *AdaptiveAggregateScan
	pending []timeRange
	cur     []coretypes.Row
	pos     int
}

func (it *adaptiveAggregateIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	for {
		if it.pos < len(it.cur) {
			row := it.cur[it.pos]
			it.pos++
			return row, nil
		}
		it.cur = nil
		it.pos = 0
		if len(it.pending) == 0 {
			return coretypes.Row{}, EOF
		}
		if err := ctx.CheckCancelled(); err != nil {
			return coretypes.Row{}, err
		}
		r := it.pending[0]
		it.pending = it.pending[1:]

		rows, err := it.resolveLeaf(ctx, r)
		if err != nil {
			if errkind.AggregateLimitExceeded.Is(err) && r.splittable() {
				mid := r.mid()
				left := timeRange{start: r.start, end: mid, depth: r.depth + 1}
				right := timeRange{start: mid, end: r.end, depth: r.depth + 1}
				it.pending = append([]timeRange{left, right}, it.pending...)
				continue
			}
			return coretypes.Row{}, err
		}
		it.cur = rows
	}
}

// resolveLeaf executes one bisection's aggregate query fully: aggregate
// results are a handful of grouped rows, never the underlying entity
// volume, so materializing a leaf costs nothing the streaming invariant
// cares about (spec §4.F "every ancestor retains no row buffers after
// yielding" speaks to the tree as a whole, not to a single leaf result).
func (it *adaptiveAggregateIter) resolveLeaf(ctx *execctx.Context, r timeRange) ([]coretypes.Row, error) {
	xmlQuery := it.scan.render(r.start, r.end)
	scan := NewFetchScan(it.scan.store, it.scan.schema, xmlQuery, it.scan.maxRows, false)
	iter, err := scan.RowIter(ctx)
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

func (it *adaptiveAggregateIter) Close(ctx *execctx.Context) error { return nil }

// ParallelPartition fans a set of independent child subplans out across
// the remote-access pool (spec §5), running up to PoolCapacity of them
// concurrently. Each child is materialized in full; no row is yielded
// until every child has finished, and rows then come out in child order.
// The first child error cancels the others and is returned. Used both
// for multi-entity UNION-style scans and as the outer shell around an
// AdaptiveAggregateScan tree's top-level split.
type ParallelPartition struct {
	children []Node
	slots    *poolutil.Slots
}

func NewParallelPartition(children []Node, slots *poolutil.Slots) *ParallelPartition {
	return &ParallelPartition{children: children, slots: slots}
}

func (p *ParallelPartition) Schema() coretypes.Schema { return childSchema(p) }
func (p *ParallelPartition) Children() []Node         { return p.children }

func (p *ParallelPartition) RowIter(ctx *execctx.Context) (RowIter, error) {
	results := make([][]coretypes.Row, len(p.children))
	g, gctx := errgroup.WithContext(ctx.Context)
	runCtx := ctx.WithContext(gctx)
	for i, child := range p.children {
		i, child := i, child
		g.Go(func() error {
			if err := p.slots.Acquire(runCtx.Context); err != nil {
				return err
			}
			defer p.slots.Release()
			rows, err := materialize(runCtx, child)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var all []coretypes.Row
	for _, rows := range results {
		all = append(all, rows...)
	}
	schema := childSchema(p)
	return newSliceIter(schema, all), nil
}
