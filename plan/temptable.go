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
	"github.com/xrmsql/engine/execctx"
)

// CreateTempTable implements CREATE TABLE #name (...), registering an
// empty session-scoped temp table under name. Columns carries the
// declared schema so a later TempTableScan of the same name knows what
// shape to present even before any row has been inserted.
type CreateTempTable struct {
	name    string
	columns coretypes.Schema
}

func NewCreateTempTable(name string, columns coretypes.Schema) *CreateTempTable {
	return &CreateTempTable{name: name, columns: columns}
}

func (c *CreateTempTable) Schema() coretypes.Schema { return scriptSchema }
func (c *CreateTempTable) Children() []Node         { return nil }

func (c *CreateTempTable) RowIter(ctx *execctx.Context) (RowIter, error) {
	ctx.Session().CreateTempTable(c.name)
	return newSliceIter(scriptSchema, nil), nil
}

// DropTempTable implements DROP TABLE #name.
type DropTempTable struct {
	name string
}

func NewDropTempTable(name string) *DropTempTable {
	return &DropTempTable{name: name}
}

func (d *DropTempTable) Schema() coretypes.Schema { return scriptSchema }
func (d *DropTempTable) Children() []Node         { return nil }

func (d *DropTempTable) RowIter(ctx *execctx.Context) (RowIter, error) {
	ctx.Session().DropTempTable(d.name)
	return newSliceIter(scriptSchema, nil), nil
}

// TempTableScan reads back the rows of a session-scoped temp table,
// filling the role a FetchScan plays for a remote entity (spec §4.B:
// a temp table is a local materialization INSERT ... SELECT can target
// and a later statement in the same script can scan).
type TempTableScan struct {
	name   string
	schema coretypes.Schema
}

func NewTempTableScan(name string, schema coretypes.Schema) *TempTableScan {
	return &TempTableScan{name: name, schema: schema}
}

func (t *TempTableScan) Schema() coretypes.Schema { return t.schema }
func (t *TempTableScan) Children() []Node         { return nil }

func (t *TempTableScan) RowIter(ctx *execctx.Context) (RowIter, error) {
	rows, _ := ctx.Session().TempRows(t.name)
	return newSliceIter(t.schema, rows), nil
}

// TempTableInsert appends its source's rows into an existing temp table,
// yielding a rows-affected count like DmlExecute does for remote writes.
type TempTableInsert struct {
	name   string
	source Node
}

func NewTempTableInsert(name string, source Node) *TempTableInsert {
	return &TempTableInsert{name: name, source: source}
}

func (t *TempTableInsert) Schema() coretypes.Schema { return scriptSchema }
func (t *TempTableInsert) Children() []Node         { return []Node{t.source} }

func (t *TempTableInsert) RowIter(ctx *execctx.Context) (RowIter, error) {
	iter, err := t.source.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	defer iter.Close(ctx)
	var rows []coretypes.Row
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return nil, err
		}
		row, err := iter.Next(ctx)
		if err == EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	ctx.Session().AppendTempRows(t.name, rows)
	resultRow := coretypes.NewRow([]string{"RowsAffected"}, []coretypes.QueryValue{coretypes.NewInteger(int64(len(rows)))})
	return newSliceIter(scriptSchema, []coretypes.Row{resultRow}), nil
}
