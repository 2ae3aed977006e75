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

package remoteaccess

import (
	"fmt"

	"github.com/xrmsql/engine/errkind"
)

// GuardOptions carries the safety-guard-relevant subset of plan options
// (spec §4.H). ConfirmUnrestricted mirrors the caller's explicit
// confirmation that an UPDATE/DELETE/MERGE with no effective WHERE clause
// is intentional.
type GuardOptions struct {
	BlockUnrestrictedDelete bool
	BlockUnrestrictedUpdate bool
	ConfirmUnrestricted     bool
	DmlRowCap               *int
}

// Operation names the DML kind the guard is checking, used only in error
// messages.
type Operation string

const (
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	OpMerge  Operation = "MERGE"
)

// CheckUnrestricted runs the three-step safety check of spec §4.H.1-2
// before an UPDATE/DELETE/MERGE lacking a WHERE clause anywhere in its
// effective scan scope is allowed to reach the remote store. hasWhere is
// computed by the plan builder from the statement's pushed-down and
// client-residual predicates combined; it is false only when no predicate
// exists at all.
func CheckUnrestricted(op Operation, hasWhere bool, opts GuardOptions) error {
	if hasWhere {
		return nil
	}
	blocked := (op == OpUpdate && opts.BlockUnrestrictedUpdate) ||
		(op == OpDelete && opts.BlockUnrestrictedDelete) ||
		(op == OpMerge && (opts.BlockUnrestrictedUpdate || opts.BlockUnrestrictedDelete))
	if blocked {
		return errkind.DmlBlocked.New(fmt.Sprintf("unrestricted %s blocked by block_unrestricted_* option", op))
	}
	if !opts.ConfirmUnrestricted {
		return errkind.DmlBlocked.New(fmt.Sprintf("unrestricted %s requires explicit confirmation", op))
	}
	return nil
}

// RowCapRemaining reports whether submitting one more row would exceed
// DmlRowCap, given the count already submitted. A nil cap means no limit.
func RowCapRemaining(opts GuardOptions, submitted int) bool {
	if opts.DmlRowCap == nil {
		return true
	}
	return submitted < *opts.DmlRowCap
}
