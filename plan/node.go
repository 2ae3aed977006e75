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

// Package plan holds every operator the plan builder can produce (spec
// §4.D): scans, joins, aggregates, the adaptive aggregate partitioner,
// row-wise operators, window spooling, DML execution and script control
// flow. Every operator is a Node; a Node never holds a reference to the
// ast it was built from (spec §9), only to compiled exprcompile closures
// and resolved child Nodes.
package plan

import (
	"io"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/execctx"
)

// Node is one operator in a plan tree, mirroring the teacher's sql.Node /
// RowIter split: Schema is static and cheap, RowIter opens a fresh pull
// iterator bound to one execution context.
type Node interface {
	Schema() coretypes.Schema
	Children() []Node
	RowIter(ctx *execctx.Context) (RowIter, error)
	// Describe renders one line identifying this node and its
	// parameters, used by EXPLAIN (spec §3, §6) to build an indented
	// plan tree alongside Children.
	Describe() string
	// EstimatedRows gives EXPLAIN a best-effort row count, or -1 when
	// this node has no basis for one (spec §3 "estimated_rows ... a
	// best-effort hint, never a guarantee").
	EstimatedRows() int64
}

// RowIter is a pull iterator over a Node's output rows. Next returns
// io.EOF (not wrapped) once exhausted, matching the teacher's sql.RowIter
// contract so Script and subquery-rewritten joins can drive any Node the
// same way.
type RowIter interface {
	Next(ctx *execctx.Context) (coretypes.Row, error)
	Close(ctx *execctx.Context) error
}

// EOF is returned by RowIter.Next once a node is exhausted.
var EOF = io.EOF

// drainClose closes iter without reading any further rows, used by
// operators that must fully consume a child before producing their own
// first row (aggregates, sorts) and want a single helper for the common
// "close on error too" path.
func drainClose(ctx *execctx.Context, iter RowIter) error {
	return iter.Close(ctx)
}

// sliceIter replays an in-memory row slice; materializing operators such
// as HashAggregate and Sort hand one of these out once their upstream
// child is fully consumed (Distinct and Top stream instead).
type sliceIter struct {
	schema coretypes.Schema
	rows   []coretypes.Row
	pos    int
}

func newSliceIter(schema coretypes.Schema, rows []coretypes.Row) *sliceIter {
	return &sliceIter{schema: schema, rows: rows}
}

func (s *sliceIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	if err := ctx.CheckCancelled(); err != nil {
		return coretypes.Row{}, err
	}
	if s.pos >= len(s.rows) {
		return coretypes.Row{}, EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sliceIter) Close(*execctx.Context) error { return nil }

// childSchema is a small helper for operators with exactly one child.
func childSchema(n Node) coretypes.Schema {
	children := n.Children()
	if len(children) == 0 {
		return nil
	}
	return children[0].Schema()
}
