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
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
)

// AggFuncKind enumerates the aggregate functions HashAggregate,
// StreamAggregate and MergeAggregate implement. AVG carries no dedicated
// accumulator: the plan builder decomposes it into companion SUM and
// COUNT columns (mirroring the companion-COUNT injection xmlgen performs
// when AVG is pushed to the remote store, spec §4.G) and a trailing
// Project divides them back into a single average column.
type AggFuncKind int

const (
	AggSum AggFuncKind = iota
	AggCount
	AggCountDistinct
	AggMin
	AggMax
	AggStringAgg
)

// AggregateExpr is one aggregate column computed by a Hash/Stream/Merge
// aggregate: Func applied to Arg (nil Arg for COUNT(*)), producing a
// column named Alias.
type AggregateExpr struct {
	Func  AggFuncKind
	Arg   exprcompile.Scalar
	Alias string
	// Sep is STRING_AGG's separator expression, evaluated once against
	// the first row of the group.
	Sep exprcompile.Scalar
}

// aggState accumulates one AggregateExpr's value across a group. Values
// are fed in via the concrete accumulate methods dispatched by
// accumulateInto/mergeInto below, not through this interface: each
// aggregate kind needs a different argument shape (a single value for
// SUM, a value-or-absence for COUNT, a pre-evaluated separator for
// STRING_AGG), so a single generic update(row) would just end up
// re-deriving the same type switch inside each implementation.
type aggState interface {
	result() coretypes.QueryValue
}

func newAggState(e AggregateExpr) aggState {
	switch e.Func {
	case AggSum:
		return &sumState{}
	case AggCount:
		return &countState{}
	case AggCountDistinct:
		return &countDistinctState{seen: map[string]struct{}{}}
	case AggMin:
		return &extremeState{arg: e.Arg, min: true}
	case AggMax:
		return &extremeState{arg: e.Arg, min: false}
	case AggStringAgg:
		return &stringAggState{sep: e.Sep}
	default:
		return &countState{}
	}
}

type sumState struct {
	sum decimal.Decimal
	any bool
}

func (s *sumState) accumulate(v coretypes.QueryValue) {
	if v.IsNull() {
		return
	}
	s.any = true
	switch v.Tag {
	case coretypes.Integer:
		s.sum = s.sum.Add(decimal.NewFromInt(v.Int))
	case coretypes.Floating:
		s.sum = s.sum.Add(decimal.NewFromFloat(v.Float))
	case coretypes.Money:
		s.sum = s.sum.Add(v.Amount.Raw)
	default:
		s.sum = s.sum.Add(v.Dec)
	}
}

func (s *sumState) result() coretypes.QueryValue {
	if !s.any {
		return coretypes.NewNull()
	}
	return coretypes.NewDecimal(s.sum)
}

type countState struct {
	n int64
}

func (s *countState) accumulate(v coretypes.QueryValue, hasArg bool) {
	if !hasArg || !v.IsNull() {
		s.n++
	}
}
func (s *countState) result() coretypes.QueryValue { return coretypes.NewInteger(s.n) }

type countDistinctState struct {
	seen map[string]struct{}
}

func (s *countDistinctState) accumulate(v coretypes.QueryValue) {
	if v.IsNull() {
		return
	}
	s.seen[v.String()] = struct{}{}
}
func (s *countDistinctState) result() coretypes.QueryValue {
	return coretypes.NewInteger(int64(len(s.seen)))
}

type extremeState struct {
	arg   exprcompile.Scalar
	min   bool
	cur   coretypes.QueryValue
	any   bool
}

func (s *extremeState) update(ctx *execctx.Context, row coretypes.Row) error {
	v, err := s.arg(ctx, row)
	if err != nil {
		return err
	}
	s.accumulate(v)
	return nil
}

func (s *extremeState) accumulate(v coretypes.QueryValue) {
	if v.IsNull() {
		return
	}
	if !s.any {
		s.cur = v
		s.any = true
		return
	}
	better := compareKeys(v, s.cur) < 0
	if !s.min {
		better = compareKeys(v, s.cur) > 0
	}
	if better {
		s.cur = v
	}
}

func (s *extremeState) result() coretypes.QueryValue {
	if !s.any {
		return coretypes.NewNull()
	}
	return s.cur
}

type stringAggState struct {
	sep   exprcompile.Scalar
	parts []string
	sepVal string
	any   bool
}

func (s *stringAggState) update(ctx *execctx.Context, row coretypes.Row) error {
	if !s.any && s.sep != nil {
		v, err := s.sep(ctx, row)
		if err != nil {
			return err
		}
		s.sepVal = v.String()
	}
	return nil
}

func (s *stringAggState) accumulate(v coretypes.QueryValue) {
	if v.IsNull() {
		return
	}
	s.parts = append(s.parts, v.String())
	s.any = true
}

func (s *stringAggState) result() coretypes.QueryValue {
	if len(s.parts) == 0 {
		return coretypes.NewNull()
	}
	return coretypes.NewText(strings.Join(s.parts, s.sepVal))
}

// group holds one HashAggregate bucket: the key row (for output) plus
// one aggState per AggregateExpr.
type group struct {
	keyRow coretypes.Row
	states []aggState
}

// HashAggregate groups an unsorted child by a set of key expressions,
// materializing the child fully before emitting (spec §4.D); the plan
// builder's default grouping strategy.
type HashAggregate struct {
	child   Node
	keys    []exprcompile.Scalar
	keyCols []string
	aggs    []AggregateExpr
	schema  coretypes.Schema
}

func NewHashAggregate(child Node, keys []exprcompile.Scalar, keyCols []string, aggs []AggregateExpr, schema coretypes.Schema) *HashAggregate {
	return &HashAggregate{child: child, keys: keys, keyCols: keyCols, aggs: aggs, schema: schema}
}

func (h *HashAggregate) Schema() coretypes.Schema { return h.schema }
func (h *HashAggregate) Children() []Node         { return []Node{h.child} }

func (h *HashAggregate) RowIter(ctx *execctx.Context) (RowIter, error) {
	iter, err := h.child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	defer iter.Close(ctx)

	order := make([]string, 0)
	groups := map[string]*group{}
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return nil, err
		}
		row, err := iter.Next(ctx)
		if err == EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		keyVals := make([]coretypes.QueryValue, len(h.keys))
		var keyStr strings.Builder
		for i, k := range h.keys {
			v, err := k(ctx, row)
			if err != nil {
				return nil, err
			}
			keyVals[i] = v
			keyStr.WriteString(v.String())
			keyStr.WriteByte(0)
		}
		gk := keyStr.String()
		g, ok := groups[gk]
		if !ok {
			g = &group{keyRow: coretypes.NewRow(h.keyCols, keyVals), states: make([]aggState, len(h.aggs))}
			for i, a := range h.aggs {
				g.states[i] = newAggState(a)
			}
			groups[gk] = g
			order = append(order, gk)
		}
		for i, a := range h.aggs {
			if err := accumulateInto(ctx, g.states[i], a, row); err != nil {
				return nil, err
			}
		}
	}
	if len(order) == 0 && len(h.keys) == 0 {
		// No GROUP BY at all over zero rows still produces one row of
		// aggregate defaults (COUNT(*) = 0, SUM = NULL, ...).
		g := &group{keyRow: coretypes.NewRow(nil, nil), states: make([]aggState, len(h.aggs))}
		for i, a := range h.aggs {
			g.states[i] = newAggState(a)
		}
		order = append(order, "")
		groups[""] = g
	}
	rows := make([]coretypes.Row, len(order))
	for i, gk := range order {
		rows[i] = buildAggregateRow(groups[gk], h.aggs)
	}
	return newSliceIter(h.schema, rows), nil
}

func accumulateInto(ctx *execctx.Context, st aggState, a AggregateExpr, row coretypes.Row) error {
	switch s := st.(type) {
	case *sumState:
		if a.Arg == nil {
			return nil
		}
		v, err := a.Arg(ctx, row)
		if err != nil {
			return err
		}
		s.accumulate(v)
	case *countState:
		if a.Arg == nil {
			s.accumulate(coretypes.QueryValue{}, false)
			return nil
		}
		v, err := a.Arg(ctx, row)
		if err != nil {
			return err
		}
		s.accumulate(v, true)
	case *countDistinctState:
		if a.Arg == nil {
			return nil
		}
		v, err := a.Arg(ctx, row)
		if err != nil {
			return err
		}
		s.accumulate(v)
	case *extremeState:
		return s.update(ctx, row)
	case *stringAggState:
		if err := s.update(ctx, row); err != nil {
			return err
		}
		if a.Arg == nil {
			return nil
		}
		v, err := a.Arg(ctx, row)
		if err != nil {
			return err
		}
		s.accumulate(v)
	}
	return nil
}

func buildAggregateRow(g *group, aggs []AggregateExpr) coretypes.Row {
	row := g.keyRow
	for i, a := range aggs {
		row = row.With(a.Alias, g.states[i].result())
	}
	return row
}

// StreamAggregate groups an already key-sorted child in a single
// forward pass without materializing every group at once; the plan
// builder selects it only when its child is provably sorted on the same
// key (spec §4.D), typically the output of a MergeJoin or an ORDER BY
// pushed to the remote store.
type StreamAggregate struct {
	child   Node
	keys    []exprcompile.Scalar
	keyCols []string
	aggs    []AggregateExpr
	schema  coretypes.Schema
}

func NewStreamAggregate(child Node, keys []exprcompile.Scalar, keyCols []string, aggs []AggregateExpr, schema coretypes.Schema) *StreamAggregate {
	return &StreamAggregate{child: child, keys: keys, keyCols: keyCols, aggs: aggs, schema: schema}
}

func (s *StreamAggregate) Schema() coretypes.Schema { return s.schema }
func (s *StreamAggregate) Children() []Node         { return []Node{s.child} }

func (s *StreamAggregate) RowIter(ctx *execctx.Context) (RowIter, error) {
	iter, err := s.child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &streamAggregateIter{agg: s, child: iter}, nil
}

type streamAggregateIter struct {
	agg      *StreamAggregate
	child    RowIter
	pending  coretypes.Row
	havePend bool
	done     bool
}

func (it *streamAggregateIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	if it.done {
		return coretypes.Row{}, EOF
	}
	var g *group
	var curKey string
	if it.havePend {
		g, curKey = it.startGroup(ctx, it.pending)
		it.havePend = false
	}
	for {
		row, err := it.child.Next(ctx)
		if err == EOF {
			it.done = true
			if g == nil {
				return coretypes.Row{}, EOF
			}
			return buildAggregateRow(g, it.agg.aggs), nil
		}
		if err != nil {
			return coretypes.Row{}, err
		}
		keyStr, err := it.keyOf(ctx, row)
		if err != nil {
			return coretypes.Row{}, err
		}
		if g == nil {
			g, curKey = it.newGroup(ctx, row, keyStr)
			if err := it.accumulate(ctx, g, row); err != nil {
				return coretypes.Row{}, err
			}
			continue
		}
		if keyStr != curKey {
			it.pending = row
			it.havePend = true
			return buildAggregateRow(g, it.agg.aggs), nil
		}
		if err := it.accumulate(ctx, g, row); err != nil {
			return coretypes.Row{}, err
		}
	}
}

func (it *streamAggregateIter) keyOf(ctx *execctx.Context, row coretypes.Row) (string, error) {
	var b strings.Builder
	for _, k := range it.agg.keys {
		v, err := k(ctx, row)
		if err != nil {
			return "", err
		}
		b.WriteString(v.String())
		b.WriteByte(0)
	}
	return b.String(), nil
}

func (it *streamAggregateIter) newGroup(ctx *execctx.Context, row coretypes.Row, keyStr string) (*group, string) {
	keyVals := make([]coretypes.QueryValue, len(it.agg.keys))
	for i, k := range it.agg.keys {
		v, _ := k(ctx, row)
		keyVals[i] = v
	}
	g := &group{keyRow: coretypes.NewRow(it.agg.keyCols, keyVals), states: make([]aggState, len(it.agg.aggs))}
	for i, a := range it.agg.aggs {
		g.states[i] = newAggState(a)
	}
	return g, keyStr
}

func (it *streamAggregateIter) startGroup(ctx *execctx.Context, row coretypes.Row) (*group, string) {
	keyStr, _ := it.keyOf(ctx, row)
	g, k := it.newGroup(ctx, row, keyStr)
	it.accumulate(ctx, g, row)
	return g, k
}

func (it *streamAggregateIter) accumulate(ctx *execctx.Context, g *group, row coretypes.Row) error {
	for i, a := range it.agg.aggs {
		if err := accumulateInto(ctx, g.states[i], a, row); err != nil {
			return err
		}
	}
	return nil
}

func (it *streamAggregateIter) Close(ctx *execctx.Context) error { return it.child.Close(ctx) }

// MergeAggregate re-aggregates the partial per-group results produced by
// several children (the fan-out of a ParallelPartition or an
// AdaptiveAggregateScan, spec §4.F): it runs the same grouping logic as
// HashAggregate but over the union of all children's rows, combining
// partial SUM/COUNT/MIN/MAX/STRING_AGG accumulators instead of raw
// values. AVG is never merged directly; its companion SUM and COUNT
// columns are merged independently and divided by a trailing Project.
type MergeAggregate struct {
	children []Node
	keys     []exprcompile.Scalar
	keyCols  []string
	aggs     []AggregateExpr
	schema   coretypes.Schema
}

func NewMergeAggregate(children []Node, keys []exprcompile.Scalar, keyCols []string, aggs []AggregateExpr, schema coretypes.Schema) *MergeAggregate {
	return &MergeAggregate{children: children, keys: keys, keyCols: keyCols, aggs: aggs, schema: schema}
}

func (m *MergeAggregate) Schema() coretypes.Schema { return m.schema }
func (m *MergeAggregate) Children() []Node         { return m.children }

func (m *MergeAggregate) RowIter(ctx *execctx.Context) (RowIter, error) {
	order := make([]string, 0)
	groups := map[string]*group{}
	for _, child := range m.children {
		iter, err := child.RowIter(ctx)
		if err != nil {
			return nil, err
		}
		for {
			if err := ctx.CheckCancelled(); err != nil {
				iter.Close(ctx)
				return nil, err
			}
			row, err := iter.Next(ctx)
			if err == EOF {
				break
			}
			if err != nil {
				iter.Close(ctx)
				return nil, err
			}
			keyVals := make([]coretypes.QueryValue, len(m.keys))
			var keyStr strings.Builder
			for i, k := range m.keys {
				v, err := k(ctx, row)
				if err != nil {
					iter.Close(ctx)
					return nil, err
				}
				keyVals[i] = v
				keyStr.WriteString(v.String())
				keyStr.WriteByte(0)
			}
			gk := keyStr.String()
			g, ok := groups[gk]
			if !ok {
				g = &group{keyRow: coretypes.NewRow(m.keyCols, keyVals), states: make([]aggState, len(m.aggs))}
				for i, a := range m.aggs {
					g.states[i] = newAggState(a)
				}
				groups[gk] = g
				order = append(order, gk)
			}
			for i, a := range m.aggs {
				if err := mergeInto(g.states[i], a, row); err != nil {
					iter.Close(ctx)
					return nil, err
				}
			}
		}
		iter.Close(ctx)
	}
	rows := make([]coretypes.Row, len(order))
	for i, gk := range order {
		rows[i] = buildAggregateRow(groups[gk], m.aggs)
	}
	return newSliceIter(m.schema, rows), nil
}

// mergeInto folds one child's already-partially-aggregated column value
// into a combining accumulator: SUM-of-sums, COUNT-of-counts,
// MIN-of-mins, MAX-of-maxes, concatenation for STRING_AGG partials.
func mergeInto(st aggState, a AggregateExpr, row coretypes.Row) error {
	partial, ok := row.Get(a.Alias)
	if !ok {
		return nil
	}
	switch s := st.(type) {
	case *sumState:
		s.accumulate(partial)
	case *countState:
		if !partial.IsNull() {
			s.n += partial.Int
		}
	case *extremeState:
		s.accumulate(partial)
	case *stringAggState:
		if !partial.IsNull() {
			s.parts = append(s.parts, partial.Str)
			s.any = true
		}
	}
	return nil
}
