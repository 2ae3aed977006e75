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
	"fmt"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/remoteaccess"
)

// FetchScan pages an XML query document through the remote store (spec
// §4.D, §4.G). It never retries an aggregate-cap failure itself: that
// recovery belongs entirely to the parent AdaptiveAggregateScan, which is
// the only operator permitted to catch errkind.AggregateLimitExceeded.
type FetchScan struct {
	store        remoteaccess.RemoteStore
	schema       coretypes.Schema
	xmlQuery     string
	maxRows      int
	includeCount bool
}

// NewFetchScan builds a scan over one already-rendered XML query document.
// maxRows of 0 means no cap beyond the store's own.
func NewFetchScan(store remoteaccess.RemoteStore, schema coretypes.Schema, xmlQuery string, maxRows int, includeCount bool) *FetchScan {
	return &FetchScan{store: store, schema: schema, xmlQuery: xmlQuery, maxRows: maxRows, includeCount: includeCount}
}

func (f *FetchScan) Schema() coretypes.Schema { return f.schema }
func (f *FetchScan) Children() []Node         { return nil }

// XMLQuery returns the rendered XML query document this scan pages
// through, used by the engine's Transpile entry point (spec §6) to expose
// the plan builder's pushdown output without executing it.
func (f *FetchScan) XMLQuery() string { return f.xmlQuery }

func (f *FetchScan) RowIter(ctx *execctx.Context) (RowIter, error) {
	return &fetchScanIter{scan: f}, nil
}

type fetchScanIter struct {
	scan         *FetchScan
	buf          []coretypes.Row
	pos          int
	cookie       string
	more         bool
	started      bool
	lastCount    *int64
}

func (it *fetchScanIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	for {
		if it.pos < len(it.buf) {
			row := it.buf[it.pos]
			it.pos++
			return row, nil
		}
		if it.started && !it.more {
			return coretypes.Row{}, EOF
		}
		if err := ctx.CheckCancelled(); err != nil {
			return coretypes.Row{}, err
		}
		page, err := it.scan.store.ExecuteXMLQuery(ctx, it.scan.xmlQuery, it.scan.maxRows, it.cookie, it.scan.includeCount)
		if err != nil {
			if remoteaccess.IsAggregateCap(err) {
				return coretypes.Row{}, errkind.AggregateLimitExceeded.New(err.Error())
			}
			return coretypes.Row{}, translateFailure(err)
		}
		it.started = true
		it.buf = page.Rows
		it.pos = 0
		it.cookie = page.PagingCookie
		it.more = page.More
		it.lastCount = page.Total
		if len(it.buf) == 0 && !it.more {
			return coretypes.Row{}, EOF
		}
	}
}

func (it *fetchScanIter) Close(*execctx.Context) error { return nil }

// translateFailure maps a remoteaccess.Failure to the matching errkind so
// everything above the scan layer only ever sees the engine's own error
// taxonomy (spec §7).
func translateFailure(err error) error {
	f, ok := err.(*remoteaccess.Failure)
	if !ok {
		return errkind.ExecutionFailed.New(err.Error())
	}
	switch f.Kind {
	case remoteaccess.Throttled:
		return errkind.Throttled.New(f.Message)
	case remoteaccess.TransientRemote:
		return errkind.TransientRemote.New(f.Message)
	case remoteaccess.Unauthorized:
		return errkind.Unauthorized.New(f.Message)
	case remoteaccess.NotFound:
		return errkind.ExecutionFailed.New(f.Message)
	case remoteaccess.BadQuery:
		return errkind.BadQuery.New(f.Message)
	case remoteaccess.AggregateCap:
		return errkind.AggregateLimitExceeded.New(f.Message)
	case remoteaccess.Cancelled:
		return errkind.Cancelled.New()
	default:
		return errkind.ExecutionFailed.New(f.Message)
	}
}

// TabularScan wraps the tabular SQL pass-through endpoint (spec §2, §4.H):
// a verbatim T-SQL string the planner determined is compatible, handed
// straight to the remote store rather than decomposed into an XML query.
type TabularScan struct {
	store   remoteaccess.RemoteStore
	schema  coretypes.Schema
	sqlText string
}

func NewTabularScan(store remoteaccess.RemoteStore, schema coretypes.Schema, sqlText string) *TabularScan {
	return &TabularScan{store: store, schema: schema, sqlText: sqlText}
}

func (t *TabularScan) Schema() coretypes.Schema { return t.schema }
func (t *TabularScan) Children() []Node         { return nil }

func (t *TabularScan) RowIter(ctx *execctx.Context) (RowIter, error) {
	seq, err := t.store.ExecuteTabular(ctx, t.sqlText)
	if err != nil {
		return nil, translateFailure(err)
	}
	return &tabularScanIter{seq: seq}, nil
}

type tabularScanIter struct {
	seq remoteaccess.RowSequence
}

func (it *tabularScanIter) Next(ctx *execctx.Context) (coretypes.Row, error) {
	row, err := it.seq.Next(ctx)
	if err != nil {
		if err == EOF {
			return coretypes.Row{}, EOF
		}
		return coretypes.Row{}, translateFailure(err)
	}
	return row, nil
}

func (it *tabularScanIter) Close(*execctx.Context) error { return it.seq.Close() }

// MetadataScan serves one of the engine's virtual system tables (spec
// §4.B "metadata virtual tables") from a fixed, in-memory row set
// supplied by the catalog at plan-build time, never from the remote
// store.
type MetadataScan struct {
	schema coretypes.Schema
	rows   []coretypes.Row
	name   string
}

func NewMetadataScan(name string, schema coretypes.Schema, rows []coretypes.Row) *MetadataScan {
	return &MetadataScan{name: name, schema: schema, rows: rows}
}

func (m *MetadataScan) Schema() coretypes.Schema { return m.schema }
func (m *MetadataScan) Children() []Node         { return nil }
func (m *MetadataScan) String() string           { return fmt.Sprintf("MetadataScan(%s)", m.name) }

func (m *MetadataScan) RowIter(ctx *execctx.Context) (RowIter, error) {
	return newSliceIter(m.schema, m.rows), nil
}

// PrefetchScan eagerly materializes its child before yielding a single
// row, isolating a downstream DML write from feedback against the very
// rows it is writing (spec §4.D), the same hazard the teacher guards
// against in its own update-in-place planning.
type PrefetchScan struct {
	child Node
}

func NewPrefetchScan(child Node) *PrefetchScan {
	return &PrefetchScan{child: child}
}

func (p *PrefetchScan) Schema() coretypes.Schema { return p.child.Schema() }
func (p *PrefetchScan) Children() []Node         { return []Node{p.child} }

func (p *PrefetchScan) RowIter(ctx *execctx.Context) (RowIter, error) {
	iter, err := p.child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	defer iter.Close(ctx)
	var rows []coretypes.Row
	for {
		row, err := iter.Next(ctx)
		if err == EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return newSliceIter(p.child.Schema(), rows), nil
}
