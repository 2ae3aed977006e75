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

package plan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
	"github.com/xrmsql/engine/plan"
)

// fixedRowsNode is a minimal in-memory Node, standing in for whatever
// upstream scan or project actually produced the rows WindowSpool
// partitions, so these tests can exercise WindowSpool in isolation.
type fixedRowsNode struct {
	schema coretypes.Schema
	rows   []coretypes.Row
}

func (f *fixedRowsNode) Schema() coretypes.Schema { return f.schema }
func (f *fixedRowsNode) Children() []plan.Node    { return nil }
func (f *fixedRowsNode) Describe() string         { return "fixedRowsNode" }
func (f *fixedRowsNode) EstimatedRows() int64     { return int64(len(f.rows)) }
func (f *fixedRowsNode) RowIter(ctx *execctx.Context) (plan.RowIter, error) {
	return &fixedRowsIter{rows: f.rows}, nil
}

type fixedRowsIter struct {
	rows []coretypes.Row
	pos  int
}

func (it *fixedRowsIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	if it.pos >= len(it.rows) {
		return coretypes.Row{}, plan.EOF
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

func (it *fixedRowsIter) Close(ctx *execctx.Context) error { return nil }

func valueColumn(ctx *execctx.Context, row coretypes.Row) (coretypes.QueryValue, error) {
	v, _ := row.Get("v")
	return v, nil
}

func buildWindowRows(t *testing.T, values []int64, kind plan.WindowFuncKind) []coretypes.Row {
	t.Helper()
	schema := coretypes.Schema{{Name: "v", Tag: coretypes.Integer}}
	rows := make([]coretypes.Row, len(values))
	for i, v := range values {
		rows[i] = coretypes.NewRow([]string{"v"}, []coretypes.QueryValue{coretypes.NewInteger(v)})
	}
	child := &fixedRowsNode{schema: schema, rows: rows}
	outSchema := append(append(coretypes.Schema{}, schema...), coretypes.ColumnDescriptor{Name: "w", Tag: coretypes.Floating})
	win := plan.WindowExpr{
		Alias:   "w",
		Kind:    kind,
		OrderBy: []plan.SortKey{{Expr: exprcompile.Scalar(valueColumn), Desc: true}},
	}
	spool := plan.NewWindowSpool(child, []plan.WindowExpr{win}, outSchema)
	ctx := execctx.New(context.Background(), nil, nil, nil)
	iter, err := spool.RowIter(ctx)
	require.NoError(t, err)
	var out []coretypes.Row
	for {
		row, err := iter.Next(ctx)
		if err == plan.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, row)
	}
	return out
}

func TestWindowSpoolRankAndDenseRankOnTies(t *testing.T) {
	rows := buildWindowRows(t, []int64{100, 90, 90, 80}, plan.WinRank)
	var ranks []int64
	for _, r := range rows {
		v, _ := r.Get("w")
		ranks = append(ranks, v.Int)
	}
	require.Equal(t, []int64{1, 2, 2, 4}, ranks)

	denseRows := buildWindowRows(t, []int64{100, 90, 90, 80}, plan.WinDenseRank)
	var denseRanks []int64
	for _, r := range denseRows {
		v, _ := r.Get("w")
		denseRanks = append(denseRanks, v.Int)
	}
	require.Equal(t, []int64{1, 2, 2, 3}, denseRanks)
}

func TestWindowSpoolCumeDistAndPercentRankOnTies(t *testing.T) {
	// Ordered descending by the Desc:true key above, so present the
	// values already in the [3,2,2,1] order spec §8 scenario 5 expects
	// after a descending ORDER BY on [1,2,2,3].
	rows := buildWindowRows(t, []int64{3, 2, 2, 1}, plan.WinCumeDist)
	var cume []float64
	for _, r := range rows {
		v, _ := r.Get("w")
		cume = append(cume, v.Float)
	}
	require.InDeltaSlice(t, []float64{0.25, 0.75, 0.75, 1.0}, cume, 1e-9)

	prRows := buildWindowRows(t, []int64{3, 2, 2, 1}, plan.WinPercentRank)
	var pr []float64
	for _, r := range prRows {
		v, _ := r.Get("w")
		pr = append(pr, v.Float)
	}
	require.InDeltaSlice(t, []float64{0.0, 1.0 / 3, 1.0 / 3, 1.0}, pr, 1e-9)
}

func TestWindowSpoolNtileGivesEarlierBucketsTheExtraRow(t *testing.T) {
	// buildWindowRows doesn't set Offset (the bucket count), so NTILE is
	// exercised directly here with its own WindowExpr instead.
	schema := coretypes.Schema{{Name: "v", Tag: coretypes.Integer}}
	values := []int64{5, 4, 3, 2, 1}
	in := make([]coretypes.Row, len(values))
	for i, v := range values {
		in[i] = coretypes.NewRow([]string{"v"}, []coretypes.QueryValue{coretypes.NewInteger(v)})
	}
	child := &fixedRowsNode{schema: schema, rows: in}
	outSchema := append(append(coretypes.Schema{}, schema...), coretypes.ColumnDescriptor{Name: "w", Tag: coretypes.Integer})
	win := plan.WindowExpr{
		Alias:   "w",
		Kind:    plan.WinNtile,
		Offset:  3,
		OrderBy: []plan.SortKey{{Expr: exprcompile.Scalar(valueColumn), Desc: true}},
	}
	spool := plan.NewWindowSpool(child, []plan.WindowExpr{win}, outSchema)
	ctx := execctx.New(context.Background(), nil, nil, nil)
	iter, err := spool.RowIter(ctx)
	require.NoError(t, err)
	var buckets []int64
	for {
		row, err := iter.Next(ctx)
		if err == plan.EOF {
			break
		}
		require.NoError(t, err)
		v, _ := row.Get("w")
		buckets = append(buckets, v.Int)
	}
	// 5 rows into 3 buckets: sizes [2,2,1], earlier buckets take the slack.
	require.Equal(t, []int64{1, 1, 2, 2, 3}, buckets)
}
