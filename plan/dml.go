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
	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
	"github.com/xrmsql/engine/remoteaccess"
)

// DmlExecute batches rows produced by its source child and submits them
// to the remote store (spec §4.B, §4.H). INSERT sources rows directly
// from constants or a SELECT; UPDATE/DELETE source from a FetchScan
// projecting the primary key and every attribute the SET clause or
// pushed-down WHERE needs, already filtered by a ClientFilter for the
// residual predicate.
//
// DmlExecute is a terminal node: its RowIter always yields exactly one
// row describing the outcome (rows affected), never the written data.
type DmlExecute struct {
	source      Node
	store       remoteaccess.RemoteStore
	entity      string
	op          remoteaccess.DmlOperation
	setExprs    map[string]exprcompile.Scalar
	guardOpts   remoteaccess.GuardOptions
	hasWhere    bool
	guardOp     remoteaccess.Operation
	schema      coretypes.Schema
}

// NewDmlExecute builds a DML batch executor. setExprs computes the
// column values to write per source row (for INSERT, every target
// column; for UPDATE, only the SET-clause columns — unassigned columns
// pass through from the source row untouched).
func NewDmlExecute(source Node, store remoteaccess.RemoteStore, entity string, op remoteaccess.DmlOperation, guardOp remoteaccess.Operation, setExprs map[string]exprcompile.Scalar, hasWhere bool, guardOpts remoteaccess.GuardOptions) *DmlExecute {
	return &DmlExecute{
		source:    source,
		store:     store,
		entity:    entity,
		op:        op,
		setExprs:  setExprs,
		guardOpts: guardOpts,
		hasWhere:  hasWhere,
		guardOp:   guardOp,
		schema: coretypes.Schema{
			{Name: "RowsAffected", Tag: coretypes.Integer},
		},
	}
}

func (d *DmlExecute) Schema() coretypes.Schema { return d.schema }
func (d *DmlExecute) Children() []Node         { return []Node{d.source} }

func (d *DmlExecute) RowIter(ctx *execctx.Context) (RowIter, error) {
	if err := remoteaccess.CheckUnrestricted(d.guardOp, d.hasWhere, d.guardOpts); err != nil {
		return nil, err
	}
	iter, err := d.source.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	defer iter.Close(ctx)

	const batchSize = 100
	var batch []coretypes.Row
	submitted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := d.store.SubmitDml(ctx, d.entity, d.op, batch)
		submitted += n
		batch = batch[:0]
		if err != nil {
			return translateFailure(err)
		}
		return nil
	}

	for {
		if err := ctx.CheckCancelled(); err != nil {
			return nil, err
		}
		if !remoteaccess.RowCapRemaining(d.guardOpts, submitted) {
			if err := flush(); err != nil {
				return nil, err
			}
			return nil, errkind.DmlRowCapExceeded.New(*d.guardOpts.DmlRowCap)
		}
		row, err := iter.Next(ctx)
		if err == EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out := row
		for col, expr := range d.setExprs {
			v, err := expr(ctx, row)
			if err != nil {
				return nil, err
			}
			out = out.With(col, v)
		}
		batch = append(batch, out)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	resultRow := coretypes.NewRow([]string{"RowsAffected"}, []coretypes.QueryValue{coretypes.NewInteger(int64(submitted))})
	return newSliceIter(d.schema, []coretypes.Row{resultRow}), nil
}
