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

package parser_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/ast"
	"github.com/xrmsql/engine/parser"
)

func TestParseAcceptsCoreConstructs(t *testing.T) {
	scripts := []string{
		`SELECT TOP 10 name, statecode FROM account WHERE statecode = 0 ORDER BY name DESC`,
		`WITH active AS (SELECT accountid FROM account WHERE statecode = 0)
		 SELECT a.name FROM account a INNER JOIN active ON a.accountid = active.accountid`,
		`SELECT name FROM account UNION ALL SELECT name FROM account`,
		`SELECT name FROM account INTERSECT SELECT name FROM account`,
		`SELECT name FROM account ORDER BY name OFFSET 10 ROWS FETCH NEXT 5 ROWS ONLY`,
		`SELECT name, ROW_NUMBER() OVER (PARTITION BY statecode ORDER BY name) AS rn FROM account`,
		`SELECT SUM(statecode) OVER (ORDER BY createdon ROWS BETWEEN 2 PRECEDING AND CURRENT ROW) AS s FROM account`,
		`SELECT value FROM STRING_SPLIT('a,b,c', ',')`,
		`SELECT name FROM account WHERE accountid IN (SELECT parentaccountid FROM contact)`,
		`SELECT name FROM account a WHERE EXISTS (SELECT 1 FROM contact c WHERE c.parentaccountid = a.accountid)`,
		`INSERT INTO account (name, statecode) VALUES ('x', 0)`,
		`UPDATE account SET name = 'y' WHERE statecode = 1`,
		`DELETE FROM account WHERE statecode = 1`,
		`MERGE INTO account USING src ON account.accountid = src.id WHEN NOT MATCHED THEN INSERT (name) VALUES (src.name);`,
		`DECLARE @n INT = 0; WHILE @n < 3 BEGIN SET @n = @n + 1 END`,
		`IF @@ERROR <> 0 SELECT 'bad' ELSE SELECT 'good'`,
		`BEGIN TRY SELECT 1 END TRY BEGIN CATCH SELECT ERROR_MESSAGE() END CATCH`,
		`SELECT CASE WHEN statecode = 0 THEN 'active' ELSE 'inactive' END AS label FROM account`,
		`SELECT CAST(statecode AS NVARCHAR(10)) FROM account`,
	}
	for _, s := range scripts {
		script, err := parser.Parse(s)
		require.NoErrorf(t, err, "script: %s", s)
		require.NotEmpty(t, script.Statements, "script: %s", s)
	}
}

func TestParseErrorCarriesLineAndColumn(t *testing.T) {
	_, err := parser.Parse("SELECT name\nFROM WHERE x")
	require.Error(t, err)
	pe, ok := err.(*parser.ParseError)
	require.True(t, ok)
	require.Equal(t, 2, pe.Line)
	require.Positive(t, pe.Column)
}

func TestParseIsDeterministic(t *testing.T) {
	const s = `SELECT name FROM account WHERE statecode = 0 ORDER BY name`
	first, err := parser.Parse(s)
	require.NoError(t, err)
	second, err := parser.Parse(s)
	require.NoError(t, err)
	require.Equal(t, len(first.Statements), len(second.Statements))
	sel1 := first.Statements[0].(*ast.SelectAsStmt).Query.(*ast.SelectStmt)
	sel2 := second.Statements[0].(*ast.SelectAsStmt).Query.(*ast.SelectStmt)
	require.Equal(t, len(sel1.Columns), len(sel2.Columns))
	require.Equal(t, sel1.Columns[0].Expr.(*ast.ColumnRef).Column, sel2.Columns[0].Expr.(*ast.ColumnRef).Column)
}

func TestParseInSubqueryShape(t *testing.T) {
	script, err := parser.Parse(`SELECT name FROM account WHERE accountid NOT IN (SELECT parentaccountid FROM contact)`)
	require.NoError(t, err)
	sel := script.Statements[0].(*ast.SelectAsStmt).Query.(*ast.SelectStmt)
	be, ok := sel.Where.(*ast.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, ast.OpIn, be.Op)
	require.True(t, be.Negated)
	require.NotNil(t, be.InSubquery)
	require.Nil(t, be.InList)
}
