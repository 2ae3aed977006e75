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

// Package driverutil exposes an Engine as a stdlib database/sql/driver, in
// the shape of the teacher's driver package: a Driver wraps one Engine,
// OpenConnector hands back a Connector an external caller feeds to
// sql.OpenDB, and each Connect builds a fresh Conn bound to its own
// Session. This is the seam an external CLI/TUI could drive the engine
// through (SPEC_FULL.md "external collaborator surface"); it owns no
// authentication, pooling, or transport, all of which remain external per
// spec §1.
package driverutil

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/xrmsql/engine/engine"
	"github.com/xrmsql/engine/planbuild"
	"github.com/xrmsql/engine/session"
)

// Driver adapts one Engine to database/sql/driver.Driver. The dsn passed
// to Open/OpenConnector is unused (the engine has no catalog or
// server-name concept of its own to select between). This package
// registers no driver name with database/sql, so sql.Open reaches a
// Driver only once a caller has registered one itself.
type Driver struct {
	Engine *engine.Engine
}

// New returns a Driver bound to eng.
func New(eng *engine.Engine) *Driver { return &Driver{Engine: eng} }

// Open returns a new connection directly, bypassing the Connector step.
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	if d.Engine == nil {
		return nil, fmt.Errorf("driverutil: nil Engine")
	}
	return &Conn{engine: d.Engine, session: session.New()}, nil
}

// OpenConnector returns a driver.Connector bound to d, for use with
// sql.OpenDB. Mirrors the teacher's Driver.OpenConnector.
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	if d.Engine == nil {
		return nil, fmt.Errorf("driverutil: nil Engine")
	}
	return &Connector{driver: d}, nil
}

// Connector binds sql.OpenDB's lazy-connect protocol to a Driver; each
// Connect call gets its own Session.
type Connector struct {
	driver *Driver
}

func (c *Connector) Connect(context.Context) (driver.Conn, error) {
	return &Conn{engine: c.driver.Engine, session: session.New()}, nil
}

func (c *Connector) Driver() driver.Driver { return c.driver }

// Conn is one logical connection to an Engine: one Session, reused across
// every statement prepared on it, matching spec §3 "one session per
// batch" scoped to the lifetime of this Conn rather than one statement.
type Conn struct {
	engine  *engine.Engine
	session *session.Session
}

// Prepare returns a Stmt bound to query text; the query isn't parsed or
// planned until it is actually executed, since the plan depends on the
// planbuild.Options a caller may still attach via QueryContext/ExecContext
// (paging cookie, max rows, the tabular-endpoint flag).
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

// Close releases nothing: the Engine and its RemoteStore outlive any one
// Conn, and the Session is garbage once this Conn is no longer referenced.
func (c *Conn) Close() error { return nil }

// Begin returns a no-op transaction: the engine has no transaction manager
// (spec §1 Non-goals "no transaction manager").
func (c *Conn) Begin() (driver.Tx, error) { return noopTx{}, nil }

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

// Stmt is one prepared statement bound to its Conn's session.
type Stmt struct {
	conn  *Conn
	query string
}

func (s *Stmt) Close() error  { return nil }
func (s *Stmt) NumInput() int { return -1 }

func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

func namedValues(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

func (s *Stmt) opts() planbuild.Options {
	return planbuild.Options{Session: s.conn.session}
}

// ExecContext runs a DML/script statement and discards its row data,
// reporting only rows-affected via the collected QueryResult's row count
// (the engine has no separate affected-row counter from DmlExecute's
// per-row outcomes today, so this is the caller-visible row count, not a
// guaranteed write count under partial DML failure — see QueryResult.Rows
// and spec §7 "DML failures ... surface as a partial-success result").
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	res, err := s.conn.engine.Execute(ctx, s.query, s.opts())
	if err != nil {
		return nil, err
	}
	return execResult{rows: int64(len(res.Rows))}, nil
}

// QueryContext runs sql and streams its rows back through a Rows cursor
// fed by Engine.ExecuteStreaming, so a driver consumer never needs to wait
// for the whole result set the way Exec's collected QueryResult does.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	out, errCh := s.conn.engine.ExecuteStreaming(ctx, s.query, s.opts())
	first, ok := <-out
	if !ok {
		if err := <-errCh; err != nil {
			return nil, err
		}
		return &Rows{}, nil
	}
	return &Rows{cols: first.Columns, out: out, errCh: errCh}, nil
}

type execResult struct{ rows int64 }

func (execResult) LastInsertId() (int64, error) {
	return 0, fmt.Errorf("driverutil: no auto-increment identity")
}
func (r execResult) RowsAffected() (int64, error) { return r.rows, nil }
