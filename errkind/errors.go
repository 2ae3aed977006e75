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

// Package errkind declares every error kind the engine can surface, keyed to
// the dotted code namespace callers see on the wire (Query.ParseError, ...).
package errkind

import "gopkg.in/src-d/go-errors.v1"

// Only AggregateLimitExceeded, Throttled and TransientRemote are ever
// caught and recovered by an operator (as opposed to the caller);
// everything else always propagates to the statement entry point.
var (
	// ParseError is raised by the parser front end; unrecoverable.
	ParseError = errors.NewKind("parse error: %s")
	// PlanBuildError is raised by the plan builder for validation failures
	// and constructs it refuses to route.
	PlanBuildError = errors.NewKind("cannot build plan: %s")
	// NotSupported is raised by the compiler, plan builder or an operator
	// for a construct this engine deliberately does not implement.
	NotSupported = errors.NewKind("not supported: %s")
	// TypeMismatch is raised by the expression compiler or an operator when
	// an operand's QueryValue tag cannot participate in the operation.
	TypeMismatch = errors.NewKind("type mismatch: %s")
	// AggregateLimitExceeded is raised by FetchScan when the remote store's
	// aggregate record cap is hit; AdaptiveAggregateScan is the only
	// operator that catches and recovers from it.
	AggregateLimitExceeded = errors.NewKind("aggregate query exceeded the remote store's record limit: %s")
	// DmlBlocked is raised by the safety guard before an unrestricted
	// UPDATE/DELETE/MERGE reaches the remote store.
	DmlBlocked = errors.NewKind("statement blocked by safety guard: %s")
	// DmlRowCapExceeded is raised by DmlExecute when dml_row_cap is reached
	// mid-batch; rows already submitted remain submitted.
	DmlRowCapExceeded = errors.NewKind("dml row cap of %d exceeded")
	// Throttled is raised by the remote access layer; the pool retries it
	// locally and it should rarely escape to the caller.
	Throttled = errors.NewKind("remote store throttled the request: %s")
	// TransientRemote is raised by the remote access layer for retryable
	// failures other than throttling.
	TransientRemote = errors.NewKind("transient remote failure: %s")
	// Unauthorized is raised by the remote access layer; unrecoverable.
	Unauthorized = errors.NewKind("unauthorized: %s")
	// BadQuery is raised by the remote access layer when the store rejects
	// a well-formed request (e.g. tabular endpoint feature gap).
	BadQuery = errors.NewKind("remote store rejected the query: %s")
	// Cancelled is raised at any suspension point after the execution
	// context's cancellation signal has been observed. Always rethrown.
	Cancelled = errors.NewKind("execution cancelled")
	// ExecutionFailed is the catch-all for operator-internal failures that
	// do not fit a more specific kind.
	ExecutionFailed = errors.NewKind("execution failed: %s")
)

// Code returns the dotted wire code (Query.<Kind>) for a known kind, or
// "Query.ExecutionFailed" if k is nil or unrecognized.
func Code(k *errors.Kind) string {
	name, ok := names[k]
	if !ok {
		return "Query.ExecutionFailed"
	}
	return "Query." + name
}

var names = map[*errors.Kind]string{
	ParseError:             "ParseError",
	PlanBuildError:         "PlanBuildError",
	NotSupported:           "NotSupported",
	TypeMismatch:           "TypeMismatch",
	AggregateLimitExceeded: "AggregateLimitExceeded",
	DmlBlocked:             "DmlBlocked",
	DmlRowCapExceeded:      "DmlRowCapExceeded",
	Throttled:              "Throttled",
	TransientRemote:        "TransientRemote",
	Unauthorized:           "Unauthorized",
	BadQuery:               "BadQuery",
	Cancelled:              "Cancelled",
	ExecutionFailed:        "ExecutionFailed",
}

// KindOf walks err (and any github.com/pkg/errors-wrapped cause chain) and
// returns the first errkind.Kind that matches, or nil if none does.
func KindOf(err error) *errors.Kind {
	for k := range names {
		if k.Is(err) {
			return k
		}
	}
	type causer interface{ Cause() error }
	if c, ok := err.(causer); ok {
		return KindOf(c.Cause())
	}
	return nil
}
