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

// Package remoteaccess declares the capability interface the engine
// consumes to run requests against the remote record store (spec §4.H).
// Nothing in this package implements the interface: authentication,
// connection pooling, throttling and retry-with-backoff belong to an
// external collaborator. The engine only ever holds a RemoteStore value
// handed to it at Engine construction time.
package remoteaccess

import (
	"strings"
	"time"

	"github.com/xrmsql/engine/coretypes"
)

// FailureKind enumerates the failure modes execute_xml_query and
// execute_tabular can return, per spec §4.H.
type FailureKind int

const (
	FailureNone FailureKind = iota
	Throttled
	TransientRemote
	Unauthorized
	NotFound
	BadQuery
	AggregateCap
	Cancelled
)

// Failure is the structured error a RemoteStore call returns instead of an
// undifferentiated error, so callers can branch on Kind without string
// matching (the aggregate-cap detector is the one place that still
// consults Message, per spec §4.F's documented substring markers).
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string { return f.Message }

// Page is one page of results from an XML query, including the paging
// cookie needed to fetch the next one.
type Page struct {
	Columns      []string
	Rows         []coretypes.Row
	More         bool
	PagingCookie string
	// Total is populated only when the request asked for include_count.
	Total *int64
}

// RemoteStore is the capability interface the engine consumes. An external
// collaborator supplies the implementation (transport, auth, pooling,
// retry); the engine never constructs one itself.
type RemoteStore interface {
	// ExecuteXMLQuery runs one XML query document (spec §4.G) against the
	// remote store. maxRows of 0 means "no cap beyond the store's own".
	ExecuteXMLQuery(ctx Context, xmlText string, maxRows int, pagingCookie string, includeCount bool) (Page, error)

	// ExecuteTabular runs a verbatim SQL string against the tabular
	// pass-through endpoint.
	ExecuteTabular(ctx Context, sqlText string) (RowSequence, error)

	// TotalRecordCount is a stale-by-design planning estimate, never
	// consulted on the hot path of execution.
	TotalRecordCount(ctx Context, entityLogicalName string) (int64, error)

	// MinMaxTimestamp resolves the timestamp range AdaptiveAggregateScan
	// bisects over. Guaranteed not to hit the aggregate cap (spec §4.H).
	MinMaxTimestamp(ctx Context, entityLogicalName, columnName string) (min, max *time.Time, err error)

	// PoolCapacity is the maximum number of concurrent in-flight requests
	// the engine may issue; ParallelPartition never exceeds it.
	PoolCapacity() int

	// SubmitDml writes one batch of rows against entityLogicalName.
	// DmlExecute is the only caller; it has already applied the safety
	// guard and row cap (spec §4.H) before any row reaches here. Returns
	// the number of rows actually submitted before a failure, if any.
	SubmitDml(ctx Context, entityLogicalName string, op DmlOperation, rows []coretypes.Row) (submitted int, err error)
}

// DmlOperation identifies the write kind DmlExecute submits. Only WHEN
// NOT MATCHED THEN INSERT is ever planned for a MERGE (spec §4.B), so a
// merge submits as DmlInsert like a plain INSERT.
type DmlOperation int

const (
	DmlInsert DmlOperation = iota
	DmlUpdate
	DmlDelete
)

func (op DmlOperation) String() string {
	switch op {
	case DmlInsert:
		return "insert"
	case DmlUpdate:
		return "update"
	case DmlDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Context is the minimal subset of execctx.Context a RemoteStore
// implementation needs: cancellation only. Declared locally (rather than
// importing execctx) so this package has no dependency on the execution
// runtime, matching spec §1's "contract only" framing for this layer.
type Context interface {
	Done() <-chan struct{}
}

// RowSequence is a pull iterator over tabular-endpoint rows, mirroring the
// shape of a plan node's execute() result so TabularScan can wrap one
// directly.
type RowSequence interface {
	Next(ctx Context) (coretypes.Row, error)
	Close() error
}

// IsAggregateCap reports whether err is an aggregate-cap failure, matching
// both the structured kind and the documented substring markers (spec
// §4.F) for stores that only ever surface BadQuery with message text.
func IsAggregateCap(err error) bool {
	f, ok := err.(*Failure)
	if !ok {
		return false
	}
	if f.Kind == AggregateCap {
		return true
	}
	for _, marker := range aggregateCapMarkers {
		if strings.Contains(f.Message, marker) {
			return true
		}
	}
	return false
}

var aggregateCapMarkers = []string{
	"AggregateQueryRecordLimit",
	"aggregate operation exceeded",
	"maximum record limit of 50000",
}
