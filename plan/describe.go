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
	"fmt"
	"strings"
)

// This file gathers every node's Describe and EstimatedRows methods in
// one place rather than scattering them alongside each type's RowIter,
// since EXPLAIN (spec §6) is the only caller and the text for most nodes
// is a one-liner naming its parameters.

const unknownRows int64 = -1

func childEstimate(n Node) int64 {
	children := n.Children()
	if len(children) == 0 {
		return unknownRows
	}
	return children[0].EstimatedRows()
}

func (f *FetchScan) Describe() string {
	if f.includeCount {
		return "FetchScan (with count)"
	}
	return "FetchScan"
}
func (f *FetchScan) EstimatedRows() int64 { return unknownRows }

func (t *TabularScan) Describe() string     { return fmt.Sprintf("TabularScan: %s", t.sqlText) }
func (t *TabularScan) EstimatedRows() int64 { return unknownRows }

func (m *MetadataScan) Describe() string     { return fmt.Sprintf("MetadataScan(%s)", m.name) }
func (m *MetadataScan) EstimatedRows() int64 { return int64(len(m.rows)) }

func (p *PrefetchScan) Describe() string     { return "PrefetchScan" }
func (p *PrefetchScan) EstimatedRows() int64 { return childEstimate(p) }

func joinKindLabel(k JoinKind) string {
	switch k {
	case JoinLeftOuter:
		return "LEFT OUTER"
	case JoinSemi:
		return "SEMI"
	case JoinAnti:
		return "ANTI"
	default:
		return "INNER"
	}
}

func (j *NestedLoopJoin) Describe() string {
	return fmt.Sprintf("NestedLoopJoin (%s)", joinKindLabel(j.kind))
}
func (j *NestedLoopJoin) EstimatedRows() int64 { return unknownRows }

func (j *HashJoin) Describe() string {
	return fmt.Sprintf("HashJoin (%s)", joinKindLabel(j.kind))
}
func (j *HashJoin) EstimatedRows() int64 { return unknownRows }

func (j *MergeJoin) Describe() string     { return "MergeJoin (INNER)" }
func (j *MergeJoin) EstimatedRows() int64 { return unknownRows }

func aggKindLabel(k AggFuncKind) string {
	switch k {
	case AggSum:
		return "SUM"
	case AggCount:
		return "COUNT"
	case AggCountDistinct:
		return "COUNT(DISTINCT)"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggStringAgg:
		return "STRING_AGG"
	default:
		return "AGG"
	}
}

func describeAggs(aggs []AggregateExpr) string {
	s := ""
	for i, a := range aggs {
		if i > 0 {
			s += ", "
		}
		s += aggKindLabel(a.Func) + " AS " + a.Alias
	}
	return s
}

func (h *HashAggregate) Describe() string {
	return fmt.Sprintf("HashAggregate (group by %d key(s)): %s", len(h.keys), describeAggs(h.aggs))
}
func (h *HashAggregate) EstimatedRows() int64 { return unknownRows }

func (s *StreamAggregate) Describe() string {
	return fmt.Sprintf("StreamAggregate (group by %d key(s)): %s", len(s.keys), describeAggs(s.aggs))
}
func (s *StreamAggregate) EstimatedRows() int64 { return unknownRows }

func (m *MergeAggregate) Describe() string {
	return fmt.Sprintf("MergeAggregate (%d children, group by %d key(s)): %s", len(m.children), len(m.keys), describeAggs(m.aggs))
}
func (m *MergeAggregate) EstimatedRows() int64 { return unknownRows }

func (w *WindowSpool) Describe() string {
	return fmt.Sprintf("WindowSpool (%d window expr(s))", len(w.windows))
}
func (w *WindowSpool) EstimatedRows() int64 { return childEstimate(w) }

func (f *ClientFilter) Describe() string     { return "ClientFilter" }
func (f *ClientFilter) EstimatedRows() int64 { return unknownRows }

func (a *AssertSingleRow) Describe() string     { return "AssertSingleRow" }
func (a *AssertSingleRow) EstimatedRows() int64 { return 1 }

func (p *Project) Describe() string     { return fmt.Sprintf("Project (%d column(s))", len(p.exprs)) }
func (p *Project) EstimatedRows() int64 { return childEstimate(p) }

func (s *Sort) Describe() string     { return fmt.Sprintf("Sort (%d key(s))", len(s.keys)) }
func (s *Sort) EstimatedRows() int64 { return childEstimate(s) }

func (t *Top) Describe() string { return fmt.Sprintf("Top %d", t.n) }
func (t *Top) EstimatedRows() int64 {
	child := childEstimate(t)
	if child == unknownRows || child > int64(t.n) {
		return int64(t.n)
	}
	return child
}

func (o *OffsetFetch) Describe() string {
	if o.fetch < 0 {
		return fmt.Sprintf("OffsetFetch (offset %d)", o.offset)
	}
	return fmt.Sprintf("OffsetFetch (offset %d, fetch %d)", o.offset, o.fetch)
}
func (o *OffsetFetch) EstimatedRows() int64 {
	if o.fetch < 0 {
		return unknownRows
	}
	return int64(o.fetch)
}

func (d *Distinct) Describe() string     { return "Distinct" }
func (d *Distinct) EstimatedRows() int64 { return childEstimate(d) }

func (c *Concatenate) Describe() string { return fmt.Sprintf("Concatenate (%d child(ren))", len(c.children)) }
func (c *Concatenate) EstimatedRows() int64 {
	var total int64
	for _, ch := range c.children {
		r := ch.EstimatedRows()
		if r == unknownRows {
			return unknownRows
		}
		total += r
	}
	return total
}

func (s *SetDifference) Describe() string {
	if s.intersect {
		return "SetDifference (INTERSECT)"
	}
	return "SetDifference (EXCEPT)"
}
func (s *SetDifference) EstimatedRows() int64 { return unknownRows }

func (d *DmlExecute) Describe() string     { return fmt.Sprintf("DmlExecute (%s %s)", d.op, d.entity) }
func (d *DmlExecute) EstimatedRows() int64 { return 1 }

func (s *Script) Describe() string     { return fmt.Sprintf("Script (%d statement(s))", len(s.stmts)) }
func (s *Script) EstimatedRows() int64 { return childEstimate(s) }

func (c *Conditional) Describe() string     { return "Conditional (IF/ELSE)" }
func (c *Conditional) EstimatedRows() int64 { return unknownRows }

func (w *While) Describe() string     { return "While" }
func (w *While) EstimatedRows() int64 { return unknownRows }

func (t *TryCatch) Describe() string     { return "TryCatch" }
func (t *TryCatch) EstimatedRows() int64 { return unknownRows }

func (d *DeclareVariables) Describe() string {
	return fmt.Sprintf("DeclareVariables (%d variable(s))", len(d.names))
}
func (d *DeclareVariables) EstimatedRows() int64 { return 0 }

func (a *AssignVariable) Describe() string     { return fmt.Sprintf("AssignVariable (@%s)", a.name) }
func (a *AssignVariable) EstimatedRows() int64 { return 0 }

func (c *CreateTempTable) Describe() string     { return fmt.Sprintf("CreateTempTable (#%s)", c.name) }
func (c *CreateTempTable) EstimatedRows() int64 { return 0 }

func (d *DropTempTable) Describe() string     { return fmt.Sprintf("DropTempTable (#%s)", d.name) }
func (d *DropTempTable) EstimatedRows() int64 { return 0 }

func (t *TempTableScan) Describe() string     { return fmt.Sprintf("TempTableScan (#%s)", t.name) }
func (t *TempTableScan) EstimatedRows() int64 { return unknownRows }

func (t *TempTableInsert) Describe() string     { return fmt.Sprintf("TempTableInsert (#%s)", t.name) }
func (t *TempTableInsert) EstimatedRows() int64 { return 1 }

func (o *OpenJson) Describe() string     { return "OpenJson" }
func (o *OpenJson) EstimatedRows() int64 { return unknownRows }

func (s *StringSplit) Describe() string     { return "StringSplit" }
func (s *StringSplit) EstimatedRows() int64 { return unknownRows }

func (e *ExecuteMessage) Describe() string     { return fmt.Sprintf("ExecuteMessage (%s)", e.name) }
func (e *ExecuteMessage) EstimatedRows() int64 { return 0 }

func (e *ExecuteAs) Describe() string     { return fmt.Sprintf("ExecuteAs (%s)", e.principal) }
func (e *ExecuteAs) EstimatedRows() int64 { return 0 }

func (r *Revert) Describe() string     { return "Revert" }
func (r *Revert) EstimatedRows() int64 { return 0 }

func (a *AdaptiveAggregateScan) Describe() string     { return "AdaptiveAggregateScan" }
func (a *AdaptiveAggregateScan) EstimatedRows() int64 { return unknownRows }

func (p *ParallelPartition) Describe() string {
	return fmt.Sprintf("ParallelPartition (%d child(ren))", len(p.children))
}
func (p *ParallelPartition) EstimatedRows() int64 {
	var total int64
	for _, ch := range p.children {
		r := ch.EstimatedRows()
		if r == unknownRows {
			return unknownRows
		}
		total += r
	}
	return total
}

// Explain renders the full plan tree as indented text, one line per
// node, each annotated with its best-effort row estimate (spec §6
// "explain ... a plan description tree"). This is the only place a Node
// tree is turned into text outside of the store-bound Describe per-node
// strings above.
func Explain(n Node) string {
	var b strings.Builder
	explainNode(&b, n, 0)
	return b.String()
}

// ExplainTree renders n as the structured {node_type, description,
// estimated_rows, children} tree spec §6 promises from explain(), a
// machine-readable sibling of the indented text Explain produces above.
type ExplainNode struct {
	NodeType      string
	Description   string
	EstimatedRows int64
	Children      []ExplainNode
}

func ExplainTree(n Node) ExplainNode {
	children := make([]ExplainNode, 0, len(n.Children()))
	for _, c := range n.Children() {
		children = append(children, ExplainTree(c))
	}
	return ExplainNode{
		NodeType:      fmt.Sprintf("%T", n),
		Description:   n.Describe(),
		EstimatedRows: n.EstimatedRows(),
		Children:      children,
	}
}

// FirstFetchScanXML walks n depth-first looking for the first FetchScan,
// returning the XML query document it would execute. Used by the engine's
// Transpile entry point (spec §6), which asks only for "the plan builder
// output for the default scan subtree, no execution" — the first pushed-
// down scan a plan produces is that subtree.
func FirstFetchScanXML(n Node) (string, bool) {
	if f, ok := n.(*FetchScan); ok {
		return f.XMLQuery(), true
	}
	for _, c := range n.Children() {
		if xml, ok := FirstFetchScanXML(c); ok {
			return xml, true
		}
	}
	return "", false
}

func explainNode(b *strings.Builder, n Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Describe())
	if rows := n.EstimatedRows(); rows != unknownRows {
		fmt.Fprintf(b, " (est. rows: %d)", rows)
	}
	b.WriteString("\n")
	for _, c := range n.Children() {
		explainNode(b, c, depth+1)
	}
}
