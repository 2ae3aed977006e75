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

// Package engine wires the parser, plan builder and execution runtime
// behind the four statement entry points spec §6 promises external
// collaborators: Execute, ExecuteStreaming, Explain and Transpile. It is
// the engine's only public seam; a CLI, TUI, RPC daemon or editor
// extension is expected to hold one Engine and never reach into parser,
// planbuild or plan directly (spec §1 "everything else ... is an
// external collaborator").
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/parser"
	"github.com/xrmsql/engine/plan"
	"github.com/xrmsql/engine/planbuild"
	"github.com/xrmsql/engine/remoteaccess"
	"github.com/xrmsql/engine/session"
)

// Engine binds one RemoteStore and one process-wide schema Cache to the
// parse/build/execute pipeline. It holds no per-batch state itself; every
// statement batch gets its own session.Session and execctx.Context.
type Engine struct {
	store  remoteaccess.RemoteStore
	cache  *session.Cache
	tracer opentracing.Tracer
	log    logrus.FieldLogger
}

// New builds an Engine over store and cache. tracer and log may be nil; a
// no-op tracer and the standard logrus logger are substituted, matching
// execctx.New's own defaulting.
func New(store remoteaccess.RemoteStore, cache *session.Cache, tracer opentracing.Tracer, log logrus.FieldLogger) *Engine {
	return &Engine{store: store, cache: cache, tracer: tracer, log: log}
}

// StatementError is the structured error wire format of spec §6: every
// error an entry point returns carries a dotted code, a human-readable
// message and, when the failure originated in the parser, a source
// position.
type StatementError struct {
	Kind    string
	Code    string
	Message string
	Line    int
	Column  int
	Target  string
}

func (e *StatementError) Error() string { return e.Message }

func toStatementError(err error) *StatementError {
	if err == nil {
		return nil
	}
	k := errkind.KindOf(err)
	code := errkind.Code(k)
	se := &StatementError{Message: err.Error(), Code: code, Kind: strings.TrimPrefix(code, "Query.")}
	if pe, ok := err.(*parser.ParseError); ok {
		se.Line, se.Column = pe.Line, pe.Column
	}
	return se
}

// QueryResult is the collected-rows shape of spec §6's execute().
type QueryResult struct {
	Columns         []string
	Rows            []coretypes.Row
	More            bool
	PagingCookie    string
	ExecutedXML     string
	GeneratedPlan   string
	ElapsedMS       int64
}

// RowBatch is one chunk of execute_streaming's lazy sequence: a header-
// only batch fires first with Columns populated and Rows nil, every
// subsequent batch carries Rows only (spec §6 "each batch carries a
// columns header the first time, rows thereafter").
type RowBatch struct {
	Columns []string
	Rows    []coretypes.Row
}

// buildPlan parses sql and runs the plan builder, returning the root node
// alongside the session it will execute against. Shared by every entry
// point below.
func (e *Engine) buildPlan(sql string, opts planbuild.Options) (plan.Node, *session.Session, error) {
	script, err := parser.Parse(sql)
	if err != nil {
		return nil, nil, err
	}
	sess := opts.Session
	if sess == nil {
		sess = session.New()
	}
	opts.Session = sess
	opts.OriginalSQL = sql
	node, err := planbuild.New(e.store, e.cache).Build(script, opts)
	if err != nil {
		return nil, nil, err
	}
	return node, sess, nil
}

func (e *Engine) rootContext(parent context.Context, sess *session.Session) *execctx.Context {
	if parent == nil {
		parent = context.Background()
	}
	return execctx.New(parent, sess, e.tracer, e.log)
}

// Execute runs sql to completion and collects every row, per spec §6.
func (e *Engine) Execute(ctx context.Context, sql string, opts planbuild.Options) (*QueryResult, error) {
	start := time.Now()
	node, sess, err := e.buildPlan(sql, opts)
	if err != nil {
		return nil, toStatementError(err)
	}
	ectx := e.rootContext(ctx, sess)
	iter, err := node.RowIter(ectx)
	if err != nil {
		return nil, toStatementError(err)
	}
	var rows []coretypes.Row
	for {
		row, err := iter.Next(ectx)
		if err == plan.EOF {
			break
		}
		if err != nil {
			_ = iter.Close(ectx)
			return nil, toStatementError(err)
		}
		rows = append(rows, row)
	}
	if err := iter.Close(ectx); err != nil {
		return nil, toStatementError(err)
	}
	xmlText, _ := plan.FirstFetchScanXML(node)
	return &QueryResult{
		Columns:       node.Schema().Names(),
		Rows:          rows,
		ExecutedXML:   xmlText,
		GeneratedPlan: plan.Explain(node),
		ElapsedMS:     time.Since(start).Milliseconds(),
	}, nil
}

// streamBatchSize is the row count per RowBatch; it mirrors DmlExecute's
// own default batch size (the batchSize constant in plan/dml.go) so pull pressure from a
// streaming consumer and from DML submission stay in the same order of
// magnitude.
const streamBatchSize = 100

// ExecuteStreaming runs sql and returns batches of rows as they become
// available, cancellation-aware (spec §6). The returned channel is closed
// after the final batch or after an error is sent on errCh.
func (e *Engine) ExecuteStreaming(ctx context.Context, sql string, opts planbuild.Options) (<-chan RowBatch, <-chan error) {
	out := make(chan RowBatch, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		node, sess, err := e.buildPlan(sql, opts)
		if err != nil {
			errCh <- toStatementError(err)
			return
		}
		ectx := e.rootContext(ctx, sess)
		iter, err := node.RowIter(ectx)
		if err != nil {
			errCh <- toStatementError(err)
			return
		}
		defer iter.Close(ectx)
		select {
		case out <- RowBatch{Columns: node.Schema().Names()}:
		case <-ectx.Done():
			errCh <- toStatementError(errkind.Cancelled.New())
			return
		}
		var batch []coretypes.Row
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			select {
			case out <- RowBatch{Rows: batch}:
				batch = nil
				return true
			case <-ectx.Done():
				errCh <- toStatementError(errkind.Cancelled.New())
				return false
			}
		}
		for {
			if err := ectx.CheckCancelled(); err != nil {
				errCh <- toStatementError(err)
				return
			}
			row, err := iter.Next(ectx)
			if err == plan.EOF {
				flush()
				return
			}
			if err != nil {
				errCh <- toStatementError(err)
				return
			}
			batch = append(batch, row)
			if len(batch) >= streamBatchSize {
				if !flush() {
					return
				}
			}
		}
	}()
	return out, errCh
}

// PlanDescription is explain()'s structured plan tree (spec §6).
type PlanDescription = plan.ExplainNode

// Explain builds the plan for sql without executing it and returns its
// structured description tree, per spec §6 "no side effects".
func (e *Engine) Explain(sql string, opts planbuild.Options) (*PlanDescription, error) {
	node, _, err := e.buildPlan(sql, opts)
	if err != nil {
		return nil, toStatementError(err)
	}
	tree := plan.ExplainTree(node)
	return &tree, nil
}

// Transpile builds the plan for sql and returns the XML query document
// generated for its default pushed-down scan subtree, without executing
// it (spec §6). Returns an empty string if no subtree was pushed down
// (e.g. a pure client-side script, or a plan routed through the tabular
// endpoint instead).
func (e *Engine) Transpile(sql string, opts planbuild.Options) (string, error) {
	node, _, err := e.buildPlan(sql, opts)
	if err != nil {
		return "", toStatementError(err)
	}
	xmlText, _ := plan.FirstFetchScanXML(node)
	return xmlText, nil
}
