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
)

var scriptSchema = coretypes.Schema{{Name: "RowsAffected", Tag: coretypes.Integer}}

// runToCompletion drains a Node fully, used by every control-flow node
// that only cares whether a sub-statement succeeded, not its row output
// (spec §4.B "Script shape": each sub-plan is re-entered recursively, and
// the only thing the script itself returns is the final statement's
// result set or an affected-row count).
func runToCompletion(ctx *execctx.Context, n Node) error {
	iter, err := n.RowIter(ctx)
	if err != nil {
		return err
	}
	defer iter.Close(ctx)
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return err
		}
		_, err := iter.Next(ctx)
		if err == EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Script owns an ordered list of per-statement plans (spec §4.B). Only
// the last statement's rows are surfaced to the caller; every earlier
// statement runs to completion first. A TryCatch inside the list governs
// its own error recovery; an uncaught error here always aborts the
// remaining statements.
type Script struct {
	stmts []Node
}

func NewScript(stmts []Node) *Script {
	return &Script{stmts: stmts}
}

func (s *Script) Schema() coretypes.Schema {
	if len(s.stmts) == 0 {
		return scriptSchema
	}
	return s.stmts[len(s.stmts)-1].Schema()
}

func (s *Script) Children() []Node { return s.stmts }

func (s *Script) RowIter(ctx *execctx.Context) (RowIter, error) {
	for i, stmt := range s.stmts {
		if i == len(s.stmts)-1 {
			return stmt.RowIter(ctx)
		}
		if err := runToCompletion(ctx, stmt); err != nil {
			return nil, err
		}
	}
	return newSliceIter(scriptSchema, nil), nil
}

// Conditional implements IF/ELSE: cond is evaluated against a single
// dummy row (scripts don't have an ambient row), selecting Then or Else.
type Conditional struct {
	cond exprcompile.Predicate
	then Node
	els  Node
}

func NewConditional(cond exprcompile.Predicate, then, els Node) *Conditional {
	return &Conditional{cond: cond, then: then, els: els}
}

func (c *Conditional) Schema() coretypes.Schema { return scriptSchema }
func (c *Conditional) Children() []Node {
	if c.els == nil {
		return []Node{c.then}
	}
	return []Node{c.then, c.els}
}

func (c *Conditional) RowIter(ctx *execctx.Context) (RowIter, error) {
	ok, err := c.cond(ctx, coretypes.Row{})
	if err != nil {
		return nil, err
	}
	if ok {
		return c.then.RowIter(ctx)
	}
	if c.els != nil {
		return c.els.RowIter(ctx)
	}
	return newSliceIter(scriptSchema, nil), nil
}

// While implements WHILE, re-evaluating cond before each iteration of
// body and running each iteration to completion.
type While struct {
	cond exprcompile.Predicate
	body Node
}

func NewWhile(cond exprcompile.Predicate, body Node) *While {
	return &While{cond: cond, body: body}
}

func (w *While) Schema() coretypes.Schema { return scriptSchema }
func (w *While) Children() []Node         { return []Node{w.body} }

func (w *While) RowIter(ctx *execctx.Context) (RowIter, error) {
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return nil, err
		}
		ok, err := w.cond(ctx, coretypes.Row{})
		if err != nil {
			return nil, err
		}
		if !ok {
			return newSliceIter(scriptSchema, nil), nil
		}
		if err := runToCompletion(ctx, w.body); err != nil {
			return nil, err
		}
	}
}

// TryCatch runs Try to completion; any errkind error raises the session's
// @@ERROR/ERROR_MESSAGE state (spec §4.C system functions) and diverts
// control to Catch instead of propagating. A Cancelled error is never
// caught, matching spec §4.D's recovery boundary (only
// AggregateLimitExceeded, Throttled and TransientRemote are ever
// recovered internally, and those are recovered lower in the tree, not
// here — TryCatch's scope is user-script-visible errors).
type TryCatch struct {
	try   Node
	catch Node
}

func NewTryCatch(try, catch Node) *TryCatch {
	return &TryCatch{try: try, catch: catch}
}

func (t *TryCatch) Schema() coretypes.Schema { return scriptSchema }
func (t *TryCatch) Children() []Node         { return []Node{t.try, t.catch} }

func (t *TryCatch) RowIter(ctx *execctx.Context) (RowIter, error) {
	err := runToCompletion(ctx, t.try)
	if err == nil {
		ctx.Session().ClearError()
		return newSliceIter(scriptSchema, nil), nil
	}
	if errkind.Cancelled.Is(err) {
		return nil, err
	}
	kind := errkind.KindOf(err)
	ctx.Session().SetError(1, errkind.Code(kind)+": "+err.Error())
	return t.catch.RowIter(ctx)
}

// DeclareVariables implements DECLARE @a type [= expr], ...: it evaluates
// each initializer (NULL if omitted) and binds it in the session before
// yielding an empty result.
type DeclareVariables struct {
	names []string
	inits []exprcompile.Scalar
}

func NewDeclareVariables(names []string, inits []exprcompile.Scalar) *DeclareVariables {
	return &DeclareVariables{names: names, inits: inits}
}

func (d *DeclareVariables) Schema() coretypes.Schema { return scriptSchema }
func (d *DeclareVariables) Children() []Node         { return nil }

func (d *DeclareVariables) RowIter(ctx *execctx.Context) (RowIter, error) {
	for i, name := range d.names {
		v, err := d.inits[i](ctx, coretypes.Row{})
		if err != nil {
			return nil, err
		}
		ctx.Session().SetVariable(name, v)
	}
	return newSliceIter(scriptSchema, nil), nil
}

// AssignVariable implements SET @a = expr (or SET @a = (SELECT ...),
// taking the first row's first column when Source is non-nil).
type AssignVariable struct {
	name   string
	expr   exprcompile.Scalar
	source Node
}

func NewAssignVariable(name string, expr exprcompile.Scalar) *AssignVariable {
	return &AssignVariable{name: name, expr: expr}
}

func NewAssignVariableFromQuery(name string, source Node) *AssignVariable {
	return &AssignVariable{name: name, source: source}
}

func (a *AssignVariable) Schema() coretypes.Schema { return scriptSchema }
func (a *AssignVariable) Children() []Node {
	if a.source != nil {
		return []Node{a.source}
	}
	return nil
}

func (a *AssignVariable) RowIter(ctx *execctx.Context) (RowIter, error) {
	if a.source != nil {
		iter, err := a.source.RowIter(ctx)
		if err != nil {
			return nil, err
		}
		defer iter.Close(ctx)
		row, err := iter.Next(ctx)
		if err == EOF {
			ctx.Session().SetVariable(a.name, coretypes.NewNull())
			return newSliceIter(scriptSchema, nil), nil
		}
		if err != nil {
			return nil, err
		}
		var v coretypes.QueryValue
		if row.Len() > 0 {
			v = row.At(0)
		} else {
			v = coretypes.NewNull()
		}
		ctx.Session().SetVariable(a.name, v)
		return newSliceIter(scriptSchema, nil), nil
	}
	v, err := a.expr(ctx, coretypes.Row{})
	if err != nil {
		return nil, err
	}
	ctx.Session().SetVariable(a.name, v)
	return newSliceIter(scriptSchema, nil), nil
}
