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

// Package execctx carries the single cancellation signal, the pool
// capability and the per-batch session through every plan node's execute
// call, the way the teacher's sql.Context threads a context.Context,
// tracer and session through Node.RowIter.
package execctx

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/session"
)

// Context is the execution-time companion to planbuild.Options: it threads
// cancellation, tracing and the batch session through every operator's
// execute call. Every suspension point (remote request, pool acquire,
// channel op) must select on Done alongside its own work.
type Context struct {
	context.Context
	tracer  opentracing.Tracer
	log     logrus.FieldLogger
	session *session.Session
}

// New builds a root Context for one statement batch.
func New(parent context.Context, sess *session.Session, tracer opentracing.Tracer, log logrus.FieldLogger) *Context {
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Context{Context: parent, tracer: tracer, log: log, session: sess}
}

// Session returns the batch-scoped mutable state.
func (c *Context) Session() *session.Session { return c.session }

// Log returns the structured logger, pre-fielded by callers as needed via
// WithField/WithFields.
func (c *Context) Log() logrus.FieldLogger { return c.log }

// WithContext returns a shallow copy of c with its context.Context swapped,
// mirroring the teacher's sql.Context.WithContext — used after deriving a
// child context (e.g. context.WithCancel for a ParallelPartition fan-out).
func (c *Context) WithContext(ctx context.Context) *Context {
	clone := *c
	clone.Context = ctx
	return &clone
}

// WithFields returns a shallow copy of c whose logger has the given fields
// attached, used by operators to scope log lines to (node, partition,
// depth) without threading extra parameters through execute.
func (c *Context) WithFields(fields logrus.Fields) *Context {
	clone := *c
	clone.log = c.log.WithFields(fields)
	return &clone
}

// Span opens a tracing span for opName and returns it alongside a Context
// carrying the span's derived context.Context, mirroring sql.Context.Span.
// Callers must call span.Finish() (typically via defer).
func (c *Context) Span(opName string) (opentracing.Span, *Context) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(c.Context, c.tracer, opName)
	return span, c.WithContext(ctx)
}

// CheckCancelled returns errkind.Cancelled.New() if the cancellation signal
// has been observed, nil otherwise. Every operator must call this between
// rows (spec §5) and propagate a non-nil result upward without producing
// further rows.
func (c *Context) CheckCancelled() error {
	select {
	case <-c.Done():
		return errkind.Cancelled.New()
	default:
		return nil
	}
}
