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

// ColumnDescriptor describes one column produced by a plan node, used for
// EXPLAIN, result-set headers and display-string propagation.
type ColumnDescriptor struct {
	Name string
	Tag  Tag
	// Source is the upstream entity/alias this column was projected from,
	// empty for computed columns.
	Source string
}

// Schema is the ordered column list of a plan node's output.
type Schema []ColumnDescriptor

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}
