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

package driverutil

import (
	"database/sql/driver"
	"io"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/engine"
)

// Rows adapts one ExecuteStreaming cursor to driver.Rows: cols arrives on
// the header batch, and Next pulls fresh rows off out as the caller drains
// whatever the previous batch already buffered. Modeled on the teacher's
// driver.Rows, minus its vitess-typed conversion (coretypes.QueryValue
// already carries its own tag, so Next converts straight off that).
type Rows struct {
	cols    []string
	out     <-chan engine.RowBatch
	errCh   <-chan error
	pending []coretypes.Row
	pos     int
}

func (r *Rows) Columns() []string { return r.cols }

// Close drains any outstanding batch so the producing goroutine isn't left
// blocked sending on out after the caller walks away early.
func (r *Rows) Close() error {
	for range r.out {
	}
	return nil
}

func (r *Rows) Next(dest []driver.Value) error {
	for r.pos >= len(r.pending) {
		batch, ok := <-r.out
		if !ok {
			if err := <-r.errCh; err != nil {
				return err
			}
			return io.EOF
		}
		r.pending = batch.Rows
		r.pos = 0
	}
	row := r.pending[r.pos]
	r.pos++
	for i, name := range r.cols {
		v, ok := row.Get(name)
		if !ok {
			dest[i] = nil
			continue
		}
		dest[i] = convertValue(v)
	}
	return nil
}
