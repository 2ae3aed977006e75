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
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/plan"
	"github.com/xrmsql/engine/remoteaccess"
	"github.com/xrmsql/engine/session"
)

// skewedAggregateStore fails the aggregate cap for any [start, end) range
// wider than one day that would include the hot instant, and otherwise
// returns one partial
// count row, modeling spec §8 scenario 3 (heavy skew inside a wide range).
type skewedAggregateStore struct {
	hot      time.Time
	attempts int
}

func (s *skewedAggregateStore) ExecuteXMLQuery(ctx remoteaccess.Context, xmlText string, maxRows int, pagingCookie string, includeCount bool) (remoteaccess.Page, error) {
	s.attempts++
	start, end := decodeRangeFromXML(xmlText)
	if !start.After(s.hot) && end.After(s.hot) && end.Sub(start) > 24*time.Hour {
		return remoteaccess.Page{}, &remoteaccess.Failure{Kind: remoteaccess.AggregateCap, Message: "maximum record limit of 50000 exceeded"}
	}
	count := int64(1)
	if !start.After(s.hot) && end.After(s.hot) {
		count = 5
	}
	row := coretypes.NewRow([]string{"cnt"}, []coretypes.QueryValue{coretypes.NewInteger(count)})
	return remoteaccess.Page{Columns: []string{"cnt"}, Rows: []coretypes.Row{row}}, nil
}

func (s *skewedAggregateStore) ExecuteTabular(ctx remoteaccess.Context, sqlText string) (remoteaccess.RowSequence, error) {
	return nil, &remoteaccess.Failure{Kind: remoteaccess.BadQuery, Message: "not implemented"}
}
func (s *skewedAggregateStore) TotalRecordCount(ctx remoteaccess.Context, entity string) (int64, error) {
	return 0, nil
}
func (s *skewedAggregateStore) MinMaxTimestamp(ctx remoteaccess.Context, entity, column string) (*time.Time, *time.Time, error) {
	return nil, nil, nil
}
func (s *skewedAggregateStore) PoolCapacity() int { return 4 }
func (s *skewedAggregateStore) SubmitDml(ctx remoteaccess.Context, entity string, op remoteaccess.DmlOperation, rows []coretypes.Row) (int, error) {
	return 0, nil
}

// rangeMarker and decodeRangeFromXML stand in for a real XML renderer's
// round trip: the test only needs RenderAggregateQuery to carry [start,end)
// through to the fake store, not a real XML document.
func rangeMarker(start, end time.Time) string {
	return start.Format(time.RFC3339) + "|" + end.Format(time.RFC3339)
}

func decodeRangeFromXML(marker string) (time.Time, time.Time) {
	sep := len(marker)
	for i := 0; i < len(marker); i++ {
		if marker[i] == '|' {
			sep = i
			break
		}
	}
	start, _ := time.Parse(time.RFC3339, marker[:sep])
	end, _ := time.Parse(time.RFC3339, marker[sep+1:])
	return start, end
}

func newTestContext(store remoteaccess.RemoteStore) *execctx.Context {
	return execctx.New(context.Background(), session.New(), nil, nil)
}

func TestAdaptiveAggregateScanSplitsOnlyTheHotRange(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	hot := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	store := &skewedAggregateStore{hot: hot}

	schema := coretypes.Schema{{Name: "cnt", Tag: coretypes.Integer}}
	scan := plan.NewAdaptiveAggregateScan(store, rangeMarker, schema, start, end, 0)
	ctx := newTestContext(store)
	iter, err := scan.RowIter(ctx)
	require.NoError(t, err)

	var total int64
	for {
		row, err := iter.Next(ctx)
		if err == plan.EOF {
			break
		}
		require.NoError(t, err)
		v, _ := row.Get("cnt")
		total += v.Int
	}
	require.Greater(t, store.attempts, 2, "the hot range must have recursively split at least once")
	require.Positive(t, total)
}

// alwaysCapStore fails every aggregate request regardless of range width,
// modeling a leaf so hot that even the finest bisection still overflows.
type alwaysCapStore struct{ skewedAggregateStore }

func (s *alwaysCapStore) ExecuteXMLQuery(ctx remoteaccess.Context, xmlText string, maxRows int, pagingCookie string, includeCount bool) (remoteaccess.Page, error) {
	s.attempts++
	return remoteaccess.Page{}, &remoteaccess.Failure{Kind: remoteaccess.AggregateCap, Message: "AggregateQueryRecordLimit"}
}

func TestAdaptiveAggregateScanGivesUpAtMaxDepth(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &alwaysCapStore{}
	schema := coretypes.Schema{{Name: "cnt", Tag: coretypes.Integer}}
	scan := plan.NewAdaptiveAggregateScan(store, rangeMarker, schema, start, end, 0)
	ctx := newTestContext(store)
	iter, err := scan.RowIter(ctx)
	require.NoError(t, err)
	_, err = iter.Next(ctx)
	require.Error(t, err, "a hot spot that never converges must eventually surface instead of looping forever")
}
