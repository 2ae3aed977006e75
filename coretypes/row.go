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

package coretypes

import "strings"

// Row is an ordered, case-insensitively-keyed mapping from column name to
// QueryValue. Column order is the order established by the nearest
// upstream projection or scan. Rows are cheap to clone and are passed by
// value between producer and consumer.
type Row struct {
	names  []string
	lookup map[string]int
	values []QueryValue
}

// NewRow builds a Row from parallel names/values slices. names must be
// unique once case-folded; NewRow panics otherwise, since that would
// violate the column-uniqueness invariant.
func NewRow(names []string, values []QueryValue) Row {
	if len(names) != len(values) {
		panic("coretypes: NewRow: names and values length mismatch")
	}
	lookup := make(map[string]int, len(names))
	for i, n := range names {
		key := strings.ToLower(n)
		if _, dup := lookup[key]; dup {
			panic("coretypes: NewRow: duplicate column name " + n)
		}
		lookup[key] = i
	}
	return Row{names: names, lookup: lookup, values: values}
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.values) }

// ColumnNames returns the column names in row order. The returned slice
// must not be mutated by the caller.
func (r Row) ColumnNames() []string { return r.names }

// At returns the value at a zero-based position.
func (r Row) At(i int) QueryValue { return r.values[i] }

// Get performs a case-insensitive lookup by column name.
func (r Row) Get(name string) (QueryValue, bool) {
	i, ok := r.lookup[strings.ToLower(name)]
	if !ok {
		return QueryValue{}, false
	}
	return r.values[i], true
}

// MustGet is Get, panicking if the column is absent. Used once the plan
// builder/compiler has already resolved column references, so absence
// indicates an engine bug rather than user error.
func (r Row) MustGet(name string) QueryValue {
	v, ok := r.Get(name)
	if !ok {
		panic("coretypes: row has no column " + name)
	}
	return v
}

// Clone returns a Row with its own copy of r's values, safe to mutate via
// With without aliasing the original; the column names and name lookup,
// which With never modifies, stay shared.
func (r Row) Clone() Row {
	values := make([]QueryValue, len(r.values))
	copy(values, r.values)
	return Row{names: r.names, lookup: r.lookup, values: values}
}

// With returns a new Row with name set to value, appending a new column if
// name is not already present (case-insensitively) or overwriting in place
// if it is. The receiver is left unmodified.
func (r Row) With(name string, value QueryValue) Row {
	key := strings.ToLower(name)
	if i, ok := r.lookup[key]; ok {
		values := make([]QueryValue, len(r.values))
		copy(values, r.values)
		values[i] = value
		return Row{names: r.names, lookup: r.lookup, values: values}
	}
	names := append(append([]string{}, r.names...), name)
	values := append(append([]QueryValue{}, r.values...), value)
	return NewRow(names, values)
}

// Project returns a new Row containing only the named columns, in the
// given order, renamed to the paired alias when non-empty.
func (r Row) Project(cols []string, aliases []string) Row {
	names := make([]string, len(cols))
	values := make([]QueryValue, len(cols))
	for i, c := range cols {
		v, _ := r.Get(c)
		values[i] = v
		if i < len(aliases) && aliases[i] != "" {
			names[i] = aliases[i]
		} else {
			names[i] = c
		}
	}
	return NewRow(names, values)
}
