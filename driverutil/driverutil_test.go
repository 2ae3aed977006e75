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

package driverutil_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/driverutil"
	"github.com/xrmsql/engine/engine"
	"github.com/xrmsql/engine/remoteaccess"
	"github.com/xrmsql/engine/session"
)

// fixedAccountStore answers any ExecuteXMLQuery with two canned account
// rows; every other RemoteStore method is a minimal stub, since nothing
// exercised here reaches them.
type fixedAccountStore struct{}

func (fixedAccountStore) ExecuteXMLQuery(ctx remoteaccess.Context, xmlText string, maxRows int, pagingCookie string, includeCount bool) (remoteaccess.Page, error) {
	rows := []coretypes.Row{
		coretypes.NewRow([]string{"name"}, []coretypes.QueryValue{coretypes.NewText("Contoso")}),
		coretypes.NewRow([]string{"name"}, []coretypes.QueryValue{coretypes.NewText("Fabrikam")}),
	}
	return remoteaccess.Page{Columns: []string{"name"}, Rows: rows}, nil
}

func (fixedAccountStore) ExecuteTabular(ctx remoteaccess.Context, sqlText string) (remoteaccess.RowSequence, error) {
	return nil, &remoteaccess.Failure{Kind: remoteaccess.BadQuery, Message: "not implemented"}
}

func (fixedAccountStore) TotalRecordCount(ctx remoteaccess.Context, entity string) (int64, error) {
	return 2, nil
}

func (fixedAccountStore) MinMaxTimestamp(ctx remoteaccess.Context, entity, column string) (*time.Time, *time.Time, error) {
	return nil, nil, nil
}

func (fixedAccountStore) PoolCapacity() int { return 4 }

func (fixedAccountStore) SubmitDml(ctx remoteaccess.Context, entity string, op remoteaccess.DmlOperation, rows []coretypes.Row) (int, error) {
	return len(rows), nil
}

func newTestCache() *session.Cache {
	cache := session.NewCache(func(name string) (session.EntityDescriptor, error) {
		return session.EntityDescriptor{}, nil
	})
	cache.Preload(session.EntityDescriptor{
		LogicalName:    "account",
		PrimaryKey:     "accountid",
		AttributeOrder: []string{"accountid", "name"},
		Attributes: map[string]session.AttributeDescriptor{
			"accountid": {LogicalName: "accountid", Tag: coretypes.UUID, IsPrimaryKey: true},
			"name":      {LogicalName: "name", Tag: coretypes.Text},
		},
	})
	return cache
}

func TestDriverQueryStreamsRowsThroughDatabaseSQL(t *testing.T) {
	eng := engine.New(fixedAccountStore{}, newTestCache(), nil, nil)
	drv := driverutil.New(eng)
	conn, err := drv.OpenConnector("")
	require.NoError(t, err)
	db := sql.OpenDB(conn)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query("SELECT name FROM account")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"Contoso", "Fabrikam"}, names)
}

func TestDriverExecReportsRowsAffected(t *testing.T) {
	eng := engine.New(fixedAccountStore{}, newTestCache(), nil, nil)
	drv := driverutil.New(eng)
	conn, err := drv.OpenConnector("")
	require.NoError(t, err)
	db := sql.OpenDB(conn)
	t.Cleanup(func() { _ = db.Close() })

	res, err := db.Exec("SELECT name FROM account")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
