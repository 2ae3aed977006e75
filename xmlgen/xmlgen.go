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

// Package xmlgen renders the plan builder's pushed-down subtree
// description into the XML query document the remote store's XML query
// protocol expects (spec §4.G). It never sees the original ast.Expr tree:
// the plan builder has already reduced a pushable subtree to the Query IR
// declared below, the same separation the expression compiler draws
// between ast.Expr and a compiled closure (spec §9's "cyclic adapter"
// note applies here too).
package xmlgen

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/session"
)

// Operator enumerates the condition operators the XML query protocol
// accepts; these are exactly the predicate shapes §4.G lists as
// convertible (equality, range, IS NULL, IN literal list, LIKE with
// %/_ only, BETWEEN).
type Operator string

const (
	OpEqual      Operator = "eq"
	OpNotEqual   Operator = "ne"
	OpGreater    Operator = "gt"
	OpGreaterEq  Operator = "ge"
	OpLess       Operator = "lt"
	OpLessEq     Operator = "le"
	OpLike       Operator = "like"
	OpNotLike    Operator = "not-like"
	OpNull       Operator = "null"
	OpNotNull    Operator = "not-null"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not-in"
	OpBetween    Operator = "between"
	OpNotBetween Operator = "not-between"
)

// FilterJoin is the boolean combinator of a Filter's conditions and
// nested filters.
type FilterJoin string

const (
	FilterAnd FilterJoin = "and"
	FilterOr  FilterJoin = "or"
)

// Condition is one leaf predicate, already restricted to a pushable shape
// by the plan builder's predicate-pushdown split (spec §4.B).
type Condition struct {
	Attribute string
	Operator  Operator
	Values    []coretypes.QueryValue
}

// Filter is a (possibly nested) boolean combination of Conditions,
// mirroring the XML query protocol's <filter type="and|or"> grouping.
type Filter struct {
	Join       FilterJoin
	Conditions []Condition
	Nested     []Filter
}

// LinkType distinguishes an inner (matching rows only) link from an
// outer (preserve unmatched left rows) one.
type LinkType string

const (
	LinkInner LinkType = "inner"
	LinkOuter LinkType = "outer"
)

// LinkEntity is one simple remote-store-supported join leg (spec §4.B
// "simple joins where the remote store supports them"; anything fancier
// stays a client-side join the plan builder wraps around FetchScan).
type LinkEntity struct {
	Entity     string
	Alias      string
	FromAttr   string
	ToAttr     string
	Type       LinkType
	Attributes []string
	Filter     *Filter
}

// OrderBy is one bare-column sort term (spec §4.G "Sort on bare columns").
type OrderBy struct {
	Attribute  string
	Descending bool
}

// AggFunc enumerates the aggregate functions the XML query protocol's
// aggregate request shape supports, reshaped from a HashAggregate by the
// plan builder (spec §4.G "HashAggregate (reshaped as an XML aggregate
// request)").
type AggFunc string

const (
	AggCount       AggFunc = "count"
	AggCountColumn AggFunc = "countcolumn"
	AggSum         AggFunc = "sum"
	AggAvg         AggFunc = "avg"
	AggMin         AggFunc = "min"
	AggMax         AggFunc = "max"
)

// AggregateAttr is one aggregated output column. Attribute is empty for
// COUNT(*). A companion COUNT is injected automatically for every AVG by
// Generate, per spec §4.G's "bit-exact requirement".
type AggregateAttr struct {
	Attribute string
	Alias     string
	Func      AggFunc
}

// Query is the plan builder's description of one pushed-down subtree:
// everything Generate needs to render a document, with nothing left
// implicit. The plan builder is the only producer of a Query value.
type Query struct {
	Entity        string
	Attributes    []string
	AllAttributes bool
	Distinct      bool
	TopCount      int // 0 means no TOP
	PageSize      int // 0 means no explicit page size
	PageNumber    int // 0 means unset; the remote store defaults to 1
	PagingCookie  string
	Filter        *Filter
	Orders        []OrderBy
	Links         []LinkEntity
	Aggregate     bool
	GroupBy       []string
	AggregateCols []AggregateAttr
}

// VirtualColumnMap records columns synthesized at the client that must be
// post-expanded into result rows (spec §4.G contract): keyed by the
// synthesized column name, valued by the source attribute it augments.
type VirtualColumnMap map[string]string

// Generate renders q into an XML query document, consulting cache only to
// decide which projected attributes need a synthesized display-value
// companion column (lookups, option sets, money) — the virtual columns
// the contract's return value names.
func Generate(q Query, cache *session.Cache) (xmlText string, virtualColumns VirtualColumnMap, entity string, err error) {
	if q.Entity == "" {
		return "", nil, "", fmt.Errorf("xmlgen: Query.Entity must be set")
	}
	virtualColumns = VirtualColumnMap{}

	var buf bytes.Buffer
	buf.WriteString("<fetch")
	if q.Distinct {
		buf.WriteString(` distinct="true"`)
	}
	if q.TopCount > 0 {
		fmt.Fprintf(&buf, ` top="%d"`, q.TopCount)
	}
	if q.PageSize > 0 {
		fmt.Fprintf(&buf, ` page="%d"`, pageNumberOrDefault(q.PageNumber))
		fmt.Fprintf(&buf, ` count="%d"`, q.PageSize)
	}
	if q.PagingCookie != "" {
		// Injected verbatim, without structural change, per spec §4.G.
		buf.WriteString(` paging-cookie="`)
		buf.WriteString(escapeAttr(q.PagingCookie))
		buf.WriteString(`"`)
	}
	if q.Aggregate {
		buf.WriteString(` aggregate="true"`)
	}
	buf.WriteString(">")

	fmt.Fprintf(&buf, `<entity name="%s">`, escapeAttr(q.Entity))

	if err := writeAttributes(&buf, q, cache, virtualColumns); err != nil {
		return "", nil, "", err
	}

	for _, o := range q.Orders {
		fmt.Fprintf(&buf, `<order attribute="%s"`, escapeAttr(o.Attribute))
		if o.Descending {
			buf.WriteString(` descending="true"`)
		}
		buf.WriteString("/>")
	}

	if q.Filter != nil {
		if err := writeFilter(&buf, *q.Filter); err != nil {
			return "", nil, "", err
		}
	}

	for _, l := range q.Links {
		if err := writeLink(&buf, l); err != nil {
			return "", nil, "", err
		}
	}

	buf.WriteString("</entity></fetch>")

	return buf.String(), virtualColumns, q.Entity, nil
}

func pageNumberOrDefault(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func writeAttributes(buf *bytes.Buffer, q Query, cache *session.Cache, virtualColumns VirtualColumnMap) error {
	if q.Aggregate {
		for _, g := range q.GroupBy {
			fmt.Fprintf(buf, `<attribute name="%s" groupby="true" alias="%s"/>`, escapeAttr(g), escapeAttr(g))
		}
		for _, a := range q.AggregateCols {
			if a.Func == AggCount && a.Attribute == "" {
				fmt.Fprintf(buf, `<attribute name="%s" aggregate="count" alias="%s"/>`, escapeAttr(q.primaryAttrOrEntity()), escapeAttr(a.Alias))
				continue
			}
			fmt.Fprintf(buf, `<attribute name="%s" aggregate="%s" alias="%s"/>`, escapeAttr(a.Attribute), escapeAttr(string(a.Func)), escapeAttr(a.Alias))
			if a.Func == AggAvg {
				// Companion COUNT adjacent to AVG so MergeAggregate can
				// faithfully recombine partials (spec §4.G bit-exact
				// requirement, §4.F AVG merge rule).
				companionAlias := a.Alias + "_count"
				fmt.Fprintf(buf, `<attribute name="%s" aggregate="count" alias="%s"/>`, escapeAttr(a.Attribute), escapeAttr(companionAlias))
			}
		}
		return nil
	}
	if q.AllAttributes {
		buf.WriteString(`<all-attributes/>`)
		return nil
	}
	entity, _ := cache.Entity(q.Entity)
	for _, a := range q.Attributes {
		fmt.Fprintf(buf, `<attribute name="%s"/>`, escapeAttr(a))
		if desc, ok := entity.Attributes[strings.ToLower(a)]; ok {
			switch desc.Tag {
			case coretypes.LookupRef, coretypes.OptionSet, coretypes.Money:
				virtualColumns[a+"name"] = a
			}
		}
	}
	return nil
}

// primaryAttrOrEntity returns the conventional primary-key attribute name
// (the entity name followed by "id") for a COUNT(*) aggregate attribute,
// since the XML query protocol requires a concrete
// attribute name even for a row-count aggregate.
func (q Query) primaryAttrOrEntity() string {
	return q.Entity + "id"
}

func writeFilter(buf *bytes.Buffer, f Filter) error {
	join := f.Join
	if join == "" {
		join = FilterAnd
	}
	fmt.Fprintf(buf, `<filter type="%s">`, join)
	for _, c := range f.Conditions {
		if err := writeCondition(buf, c); err != nil {
			return err
		}
	}
	for _, nested := range f.Nested {
		if err := writeFilter(buf, nested); err != nil {
			return err
		}
	}
	buf.WriteString("</filter>")
	return nil
}

func writeCondition(buf *bytes.Buffer, c Condition) error {
	fmt.Fprintf(buf, `<condition attribute="%s" operator="%s"`, escapeAttr(c.Attribute), c.Operator)
	switch c.Operator {
	case OpNull, OpNotNull:
		buf.WriteString("/>")
		return nil
	case OpIn, OpNotIn:
		buf.WriteString(">")
		for _, v := range c.Values {
			s, err := formatValue(v)
			if err != nil {
				return err
			}
			fmt.Fprintf(buf, `<value>%s</value>`, escapeText(s))
		}
		buf.WriteString("</condition>")
		return nil
	case OpBetween, OpNotBetween:
		if len(c.Values) != 2 {
			return fmt.Errorf("xmlgen: %s requires exactly two values, got %d", c.Operator, len(c.Values))
		}
		buf.WriteString(">")
		for _, v := range c.Values {
			s, err := formatValue(v)
			if err != nil {
				return err
			}
			fmt.Fprintf(buf, `<value>%s</value>`, escapeText(s))
		}
		buf.WriteString("</condition>")
		return nil
	default:
		if len(c.Values) != 1 {
			return fmt.Errorf("xmlgen: operator %s requires exactly one value, got %d", c.Operator, len(c.Values))
		}
		s, err := formatValue(c.Values[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(buf, ` value="%s"/>`, escapeAttr(s))
		return nil
	}
}

func writeLink(buf *bytes.Buffer, l LinkEntity) error {
	linkType := l.Type
	if linkType == "" {
		linkType = LinkInner
	}
	fmt.Fprintf(buf, `<link-entity name="%s" from="%s" to="%s" link-type="%s"`,
		escapeAttr(l.Entity), escapeAttr(l.ToAttr), escapeAttr(l.FromAttr), linkType)
	if l.Alias != "" {
		fmt.Fprintf(buf, ` alias="%s"`, escapeAttr(l.Alias))
	}
	buf.WriteString(">")
	for _, a := range l.Attributes {
		fmt.Fprintf(buf, `<attribute name="%s"/>`, escapeAttr(a))
	}
	if l.Filter != nil {
		if err := writeFilter(buf, *l.Filter); err != nil {
			return err
		}
	}
	buf.WriteString("</link-entity>")
	return nil
}

// formatValue renders one QueryValue as the XML query protocol's literal
// text, per spec §4.G's bit-exact requirement for timestamps
// (yyyy-MM-ddTHH:mm:ss.fffZ, UTC).
func formatValue(v coretypes.QueryValue) (string, error) {
	switch v.Tag {
	case coretypes.Null:
		return "", nil
	case coretypes.Boolean:
		if v.Bool {
			return "1", nil
		}
		return "0", nil
	case coretypes.Integer:
		return strconv.FormatInt(v.Int, 10), nil
	case coretypes.Decimal:
		return v.Dec.String(), nil
	case coretypes.Floating:
		return strconv.FormatFloat(v.Float, 'f', -1, 64), nil
	case coretypes.Text:
		return v.Str, nil
	case coretypes.Timestamp:
		return v.Time.UTC().Format("2006-01-02T15:04:05.000Z"), nil
	case coretypes.UUID:
		return v.UUID.String(), nil
	case coretypes.Money:
		return v.Amount.Raw.String(), nil
	case coretypes.OptionSet:
		return strconv.FormatInt(v.Option.Code, 10), nil
	case coretypes.LookupRef:
		return v.Lookup.ID.String(), nil
	default:
		return "", fmt.Errorf("xmlgen: cannot format QueryValue tag %s as a literal", v.Tag)
	}
}

// FormatTimestamp exposes the bit-exact ISO-8601 UTC format for callers
// that build [start, end) condition pairs directly rather than through a
// Query; nothing in this module calls it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	// xml.EscapeText already escapes '"' via &#34; so the result is safe
	// to place inside a double-quoted attribute value.
	return buf.String()
}

func escapeText(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// SortConditions orders a filter's conditions by attribute name; the plan
// builder's pushdown uses it so generated XML does not depend on its
// internal predicate-walk order.
func SortConditions(conds []Condition) []Condition {
	out := append([]Condition{}, conds...)
	sort.Slice(out, func(i, j int) bool { return out[i].Attribute < out[j].Attribute })
	return out
}
