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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/exprcompile"
)

var openJsonSchema = coretypes.Schema{
	{Name: "key", Tag: coretypes.Text},
	{Name: "value", Tag: coretypes.Text},
	{Name: "type", Tag: coretypes.Integer},
}

// OpenJson is the OPENJSON(json[, path]) table-valued function: it
// yields one row per top-level member of the (optionally path-selected)
// JSON value, typed per spec §4.D's {0=null,1=string,2=number,3=boolean,
// 4=array,5=object} encoding.
type OpenJson struct {
	jsonExpr exprcompile.Scalar
	path     exprcompile.Scalar // nil means root
}

func NewOpenJson(jsonExpr, path exprcompile.Scalar) *OpenJson {
	return &OpenJson{jsonExpr: jsonExpr, path: path}
}

func (o *OpenJson) Schema() coretypes.Schema { return openJsonSchema }
func (o *OpenJson) Children() []Node         { return nil }

func (o *OpenJson) RowIter(ctx *execctx.Context) (RowIter, error) {
	raw, err := o.jsonExpr(ctx, coretypes.Row{})
	if err != nil {
		return nil, err
	}
	if raw.IsNull() {
		return newSliceIter(openJsonSchema, nil), nil
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(raw.Str), &doc); err != nil {
		return nil, errkind.ExecutionFailed.New(fmt.Sprintf("OPENJSON: invalid JSON: %s", err))
	}
	if o.path != nil {
		p, err := o.path(ctx, coretypes.Row{})
		if err != nil {
			return nil, err
		}
		if !p.IsNull() {
			doc, err = navigateJSONPath(doc, p.Str)
			if err != nil {
				return nil, errkind.ExecutionFailed.New(err.Error())
			}
		}
	}
	var rows []coretypes.Row
	switch v := doc.(type) {
	case map[string]interface{}:
		for k, val := range v {
			rows = append(rows, jsonMemberRow(k, val))
		}
	case []interface{}:
		for i, val := range v {
			rows = append(rows, jsonMemberRow(fmt.Sprintf("%d", i), val))
		}
	default:
		return nil, errkind.ExecutionFailed.New("OPENJSON: root value is neither an object nor an array")
	}
	return newSliceIter(openJsonSchema, rows), nil
}

func navigateJSONPath(doc interface{}, path string) (interface{}, error) {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return doc, nil
	}
	cur := doc
	for _, seg := range strings.Split(strings.ReplaceAll(strings.ReplaceAll(path, "[", "."), "]", ""), ".") {
		if seg == "" {
			continue
		}
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path segment %q has no object to select from", seg)
		}
		v, ok := obj[seg]
		if !ok {
			return nil, fmt.Errorf("path segment %q not found", seg)
		}
		cur = v
	}
	return cur, nil
}

func jsonMemberRow(key string, val interface{}) coretypes.Row {
	var typ int64
	var rendered string
	switch v := val.(type) {
	case nil:
		typ = 0
	case string:
		typ = 1
		rendered = v
	case float64:
		typ = 2
		rendered = fmt.Sprintf("%v", v)
	case bool:
		typ = 3
		rendered = fmt.Sprintf("%t", v)
	case []interface{}:
		typ = 4
		encoded, _ := json.Marshal(v)
		rendered = string(encoded)
	case map[string]interface{}:
		typ = 5
		encoded, _ := json.Marshal(v)
		rendered = string(encoded)
	}
	return coretypes.NewRow(
		[]string{"key", "value", "type"},
		[]coretypes.QueryValue{coretypes.NewText(key), coretypes.NewText(rendered), coretypes.NewInteger(typ)},
	)
}

var stringSplitSchema = coretypes.Schema{{Name: "value", Tag: coretypes.Text}}

// StringSplit is the STRING_SPLIT(text, separator) table-valued
// function: one row per separator-delimited substring.
type StringSplit struct {
	text exprcompile.Scalar
	sep  exprcompile.Scalar
}

func NewStringSplit(text, sep exprcompile.Scalar) *StringSplit {
	return &StringSplit{text: text, sep: sep}
}

func (s *StringSplit) Schema() coretypes.Schema { return stringSplitSchema }
func (s *StringSplit) Children() []Node         { return nil }

func (s *StringSplit) RowIter(ctx *execctx.Context) (RowIter, error) {
	tv, err := s.text(ctx, coretypes.Row{})
	if err != nil {
		return nil, err
	}
	if tv.IsNull() {
		return newSliceIter(stringSplitSchema, nil), nil
	}
	sv, err := s.sep(ctx, coretypes.Row{})
	if err != nil {
		return nil, err
	}
	sep := ","
	if !sv.IsNull() && sv.Str != "" {
		sep = sv.Str
	}
	parts := strings.Split(tv.Str, sep)
	rows := make([]coretypes.Row, len(parts))
	for i, p := range parts {
		rows[i] = coretypes.NewRow([]string{"value"}, []coretypes.QueryValue{coretypes.NewText(p)})
	}
	return newSliceIter(stringSplitSchema, rows), nil
}

// ExecuteMessage, ExecuteAs and Revert are reserved per spec §9's
// "conservative behavior" decision for impersonation: the source
// language's implementation stubs EXECUTE AS with a synthesized GUID
// when no pre-resolved caller id is supplied, which this engine
// deliberately does not reproduce (spec §9 REDESIGN note).

// ExecuteMessage represents EXECUTE <message>(...); there is no resolved
// message-execution contract in this engine, so it always fails.
type ExecuteMessage struct {
	name string
}

func NewExecuteMessage(name string) *ExecuteMessage { return &ExecuteMessage{name: name} }

func (e *ExecuteMessage) Schema() coretypes.Schema { return scriptSchema }
func (e *ExecuteMessage) Children() []Node         { return nil }

func (e *ExecuteMessage) RowIter(*execctx.Context) (RowIter, error) {
	return nil, errkind.NotSupported.New(fmt.Sprintf("EXECUTE %s has no resolved message contract", e.name))
}

// ExecuteAs implements EXECUTE AS USER = '...' / LOGIN = '...' only when
// a caller-supplied resolver has already mapped the principal name to a
// uuid; PreResolvedID is nil otherwise, and RowIter fails.
type ExecuteAs struct {
	principal     string
	preResolvedID *uuid.UUID
}

func NewExecuteAs(principal string, preResolvedID *uuid.UUID) *ExecuteAs {
	return &ExecuteAs{principal: principal, preResolvedID: preResolvedID}
}

func (e *ExecuteAs) Schema() coretypes.Schema { return scriptSchema }
func (e *ExecuteAs) Children() []Node         { return nil }

func (e *ExecuteAs) RowIter(ctx *execctx.Context) (RowIter, error) {
	if e.preResolvedID == nil {
		return nil, errkind.NotSupported.New(fmt.Sprintf("EXECUTE AS %s requires a pre-resolved impersonation id", e.principal))
	}
	ctx.Session().Impersonate(*e.preResolvedID)
	return newSliceIter(scriptSchema, nil), nil
}

// Revert implements REVERT, clearing any impersonation set by ExecuteAs.
type Revert struct{}

func NewRevert() *Revert { return &Revert{} }

func (r *Revert) Schema() coretypes.Schema { return scriptSchema }
func (r *Revert) Children() []Node         { return nil }

func (r *Revert) RowIter(ctx *execctx.Context) (RowIter, error) {
	ctx.Session().Revert()
	return newSliceIter(scriptSchema, nil), nil
}
