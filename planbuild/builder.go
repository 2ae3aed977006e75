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

package planbuild

import (
	"fmt"
	"strings"
	"time"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/plan"
	"github.com/xrmsql/engine/remoteaccess"
	"github.com/xrmsql/engine/session"
)

// Builder turns a parsed ast.Script into a plan.Node tree, holding the two
// things every routing decision needs: the remote store capability (to
// size pools and estimate record counts) and the process-wide schema
// cache (to resolve entity attributes).
type Builder struct {
	store remoteaccess.RemoteStore
	cache *session.Cache
	// seq numbers the synthetic columns the subquery rewrite introduces;
	// the `$` prefix keeps them out of any entity's attribute namespace.
	seq int
}

func (b *Builder) nextSynthetic(prefix string) string {
	b.seq++
	return fmt.Sprintf("$%s%d", prefix, b.seq)
}

func New(store remoteaccess.RemoteStore, cache *session.Cache) *Builder {
	return &Builder{store: store, cache: cache}
}

// buildContext threads the immutable Builder handles plus the per-script
// CTE scope through every recursive build call. It is never mutated in
// place; buildContext carries only the knowledge needed at each nesting
// level, the way the spec (§9) asks plan nodes to hold no AST reference
// at all once built.
type buildContext struct {
	bld  *Builder
	opts Options
	ctes map[string]ast.QueryExpr
	// temps maps a lowercased #name to the schema its CREATE TABLE
	// declared earlier in the same script, so a later scan or INSERT of
	// the temp table knows its shape at plan time. Shared (not copied)
	// across withCTEs so declarations are visible script-wide.
	temps map[string]coretypes.Schema
}

func (bc *buildContext) withCTEs(entries []ast.CTE) *buildContext {
	if len(entries) == 0 {
		return bc
	}
	merged := make(map[string]ast.QueryExpr, len(bc.ctes)+len(entries))
	for k, v := range bc.ctes {
		merged[k] = v
	}
	for _, c := range entries {
		merged[strings.ToLower(c.Name)] = c.Query
	}
	return &buildContext{bld: bc.bld, opts: bc.opts, ctes: merged, temps: bc.temps}
}

// Build turns script into one plan.Node: a bare plan.Node if the script
// is a single statement, a plan.Script otherwise (spec §4.B "Script
// shape").
func (b *Builder) Build(script *ast.Script, opts Options) (plan.Node, error) {
	bc := &buildContext{bld: b, opts: opts, ctes: map[string]ast.QueryExpr{}, temps: map[string]coretypes.Schema{}}
	return bc.buildStatements(script.Statements)
}

func (bc *buildContext) buildStatements(stmts []ast.Statement) (plan.Node, error) {
	nodes := make([]plan.Node, 0, len(stmts))
	for _, s := range stmts {
		n, err := bc.buildStatement(s)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	switch len(nodes) {
	case 0:
		return plan.NewScript(nil), nil
	case 1:
		return nodes[0], nil
	default:
		return plan.NewScript(nodes), nil
	}
}

// dualNode is the FROM-less SELECT source: one row with no columns, so a
// bare `SELECT 1` or `SELECT @@ERROR` has something to project over.
func dualNode() plan.Node {
	return plan.NewMetadataScan("$dual", nil, []coretypes.Row{coretypes.NewRow(nil, nil)})
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 1
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	if q < 1 {
		q = 1
	}
	return q
}

// uniformSplit divides [start, end) into n equal-width buckets, the
// adaptive partitioner's initial uniform distribution (spec §4.B).
func uniformSplit(start, end time.Time, n int64) [][2]time.Time {
	if n < 1 {
		n = 1
	}
	total := end.Sub(start)
	step := total / time.Duration(n)
	out := make([][2]time.Time, 0, n)
	cur := start
	for i := int64(0); i < n; i++ {
		next := cur.Add(step)
		if i == n-1 {
			next = end
		}
		out = append(out, [2]time.Time{cur, next})
		cur = next
	}
	return out
}

// typeNameToTag maps a DECLARE/temp-table column type name to the
// coretypes.Tag it compiles to; unrecognized type names default to Text,
// matching how a schema-less remote value would round-trip.
func typeNameToTag(typeName string) coretypes.Tag {
	switch strings.ToLower(baseTypeWord(typeName)) {
	case "bit":
		return coretypes.Boolean
	case "int", "bigint", "smallint", "tinyint":
		return coretypes.Integer
	case "decimal", "numeric":
		return coretypes.Decimal
	case "money", "smallmoney":
		return coretypes.Money
	case "float", "real":
		return coretypes.Floating
	case "datetime", "datetime2", "date", "smalldatetime", "time":
		return coretypes.Timestamp
	case "uniqueidentifier":
		return coretypes.UUID
	case "varbinary", "binary", "image":
		return coretypes.Binary
	default:
		return coretypes.Text
	}
}

// attributeOrderSubset filters order down to the names present in
// needed, preserving order's declared ordering, then appends any
// needed name order doesn't list (a typo or a computed column) verbatim
// so the remote store's own error surfaces rather than a silently
// dropped attribute.
func attributeOrderSubset(order []string, needed map[string]bool) []string {
	cols := make([]string, 0, len(needed))
	seen := make(map[string]bool, len(needed))
	for _, a := range order {
		if needed[a] {
			cols = append(cols, a)
			seen[a] = true
		}
	}
	for a := range needed {
		if !seen[a] {
			cols = append(cols, a)
		}
	}
	return cols
}

func baseTypeWord(typeName string) string {
	if i := strings.IndexByte(typeName, '('); i >= 0 {
		return typeName[:i]
	}
	return typeName
}
