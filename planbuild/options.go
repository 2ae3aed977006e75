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

// Package planbuild walks a parsed ast.Script bottom-up into a plan.Node
// tree (spec §4.B), the way the teacher's analyzer turns a sql.Node parse
// tree into a resolved, optimized sql.Node tree ready for rowexec.
package planbuild

import (
	"time"

	"github.com/xrmsql/engine/remoteaccess"
	"github.com/xrmsql/engine/session"
)

// Options carries exactly the "Plan options" field list of spec §3, plus
// the safety-guard fields spec §4.H reads off the same caller-supplied
// options value.
type Options struct {
	MaxRows              *int
	PageSize              int
	PagingCookie          string
	IncludeCount          bool
	UseTabularEndpoint    bool
	OriginalSQL           string
	EstimatedRecordCount  *int64
	MinTimestamp          *time.Time
	MaxTimestamp          *time.Time
	// TimestampColumn names the attribute AdaptiveAggregateScan bisects
	// on. Not part of spec §3's Plan options list verbatim, but required
	// infrastructure for it: remoteaccess.MinMaxTimestamp and the render
	// closure both need a column name, and the spec names no other
	// source for one (see DESIGN.md).
	TimestampColumn       string
	PoolCapacity          int
	DmlRowCap             *int
	Session               *session.Session

	BlockUnrestrictedDelete bool
	BlockUnrestrictedUpdate bool
	ConfirmUnrestricted     bool
}

func (o Options) guardOptions() remoteaccess.GuardOptions {
	return remoteaccess.GuardOptions{
		BlockUnrestrictedDelete: o.BlockUnrestrictedDelete,
		BlockUnrestrictedUpdate: o.BlockUnrestrictedUpdate,
		ConfirmUnrestricted:     o.ConfirmUnrestricted,
		DmlRowCap:               o.DmlRowCap,
	}
}

func (o Options) maxRowsOrZero() int {
	if o.MaxRows == nil {
		return 0
	}
	return *o.MaxRows
}

// aggregateScanCap is the remote store's per-request aggregate record
// limit (spec glossary "Aggregate cap"); estimates above it route through
// the adaptive partitioner. At or under it the aggregate is computed
// client-side by a HashAggregate over a plain FetchScan; no aggregate
// query is sent to the remote store.
const aggregateScanCap = 50000

// adaptivePartitionTarget is the per-partition row budget the plan builder
// aims for once partitioning is triggered (spec §4.B "ceil(estimated /
// 40,000) partitions").
const adaptivePartitionTarget = 40000
