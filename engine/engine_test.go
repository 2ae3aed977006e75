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

package engine_test

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/engine"
	"github.com/xrmsql/engine/planbuild"
	"github.com/xrmsql/engine/remoteaccess"
	"github.com/xrmsql/engine/session"
)

// fakeStore serves canned rows per entity from the XML documents the
// plan builder generates, answering aggregate requests with a fixed
// per-request count so the partition tests can predict totals. It never
// interprets filters: the tests arrange their data so remote-side
// filtering is irrelevant to the assertion being made.
type fakeStore struct {
	mu          sync.Mutex
	tables      map[string][]coretypes.Row
	aggCount    int64
	pageDelay   time.Duration
	endless     bool
	xmlRequests []string
	dmlRows     int
}

var (
	entityRe  = regexp.MustCompile(`<entity name="([^"]+)">`)
	aggAttrRe = regexp.MustCompile(`<attribute name="[^"]*" aggregate="([a-z]+)" alias="([^"]+)"/>`)
)

func (s *fakeStore) ExecuteXMLQuery(ctx remoteaccess.Context, xmlText string, maxRows int, cookie string, includeCount bool) (remoteaccess.Page, error) {
	s.mu.Lock()
	s.xmlRequests = append(s.xmlRequests, xmlText)
	s.mu.Unlock()
	if s.pageDelay > 0 {
		select {
		case <-time.After(s.pageDelay):
		case <-ctx.Done():
			return remoteaccess.Page{}, &remoteaccess.Failure{Kind: remoteaccess.Cancelled, Message: "request cancelled"}
		}
	}
	if s.endless {
		row := coretypes.NewRow([]string{"name"}, []coretypes.QueryValue{coretypes.NewText("page-filler")})
		return remoteaccess.Page{Columns: []string{"name"}, Rows: []coretypes.Row{row}, More: true, PagingCookie: "next"}, nil
	}
	if strings.Contains(xmlText, `aggregate="true"`) {
		var names []string
		var values []coretypes.QueryValue
		for _, m := range aggAttrRe.FindAllStringSubmatch(xmlText, -1) {
			names = append(names, m[2])
			values = append(values, coretypes.NewInteger(s.aggCount))
		}
		row := coretypes.NewRow(names, values)
		return remoteaccess.Page{Columns: names, Rows: []coretypes.Row{row}}, nil
	}
	m := entityRe.FindStringSubmatch(xmlText)
	if m == nil {
		return remoteaccess.Page{}, &remoteaccess.Failure{Kind: remoteaccess.BadQuery, Message: "no entity in query"}
	}
	return remoteaccess.Page{Rows: s.tables[m[1]]}, nil
}

func (s *fakeStore) ExecuteTabular(ctx remoteaccess.Context, sqlText string) (remoteaccess.RowSequence, error) {
	return nil, &remoteaccess.Failure{Kind: remoteaccess.BadQuery, Message: "tabular endpoint disabled in this store"}
}

func (s *fakeStore) TotalRecordCount(ctx remoteaccess.Context, entity string) (int64, error) {
	return int64(len(s.tables[entity])), nil
}

func (s *fakeStore) MinMaxTimestamp(ctx remoteaccess.Context, entity, column string) (*time.Time, *time.Time, error) {
	return nil, nil, nil
}

func (s *fakeStore) PoolCapacity() int { return 4 }

func (s *fakeStore) SubmitDml(ctx remoteaccess.Context, entity string, op remoteaccess.DmlOperation, rows []coretypes.Row) (int, error) {
	s.mu.Lock()
	s.dmlRows += len(rows)
	s.mu.Unlock()
	return len(rows), nil
}

func testCache() *session.Cache {
	return session.NewCache(func(name string) (session.EntityDescriptor, error) {
		entity := func(pk string, attrs ...[2]interface{}) session.EntityDescriptor {
			e := session.EntityDescriptor{
				LogicalName: strings.ToLower(name),
				PrimaryKey:  pk,
				Attributes:  map[string]session.AttributeDescriptor{},
			}
			for _, a := range attrs {
				col := a[0].(string)
				e.Attributes[col] = session.AttributeDescriptor{LogicalName: col, Tag: a[1].(coretypes.Tag)}
				e.AttributeOrder = append(e.AttributeOrder, col)
			}
			return e
		}
		switch strings.ToLower(name) {
		case "account":
			return entity("accountid",
				[2]interface{}{"accountid", coretypes.UUID},
				[2]interface{}{"name", coretypes.Text},
				[2]interface{}{"statecode", coretypes.Integer},
				[2]interface{}{"createdon", coretypes.Timestamp},
			), nil
		case "contact":
			return entity("contactid",
				[2]interface{}{"contactid", coretypes.UUID},
				[2]interface{}{"parentaccountid", coretypes.UUID},
				[2]interface{}{"statecode", coretypes.Integer},
				[2]interface{}{"createdon", coretypes.Timestamp},
			), nil
		case "src":
			return entity("srcid",
				[2]interface{}{"srcid", coretypes.UUID},
				[2]interface{}{"id", coretypes.UUID},
				[2]interface{}{"name", coretypes.Text},
			), nil
		case "t1", "t2":
			return entity("a", [2]interface{}{"a", coretypes.Integer}), nil
		default:
			return session.EntityDescriptor{}, &remoteaccess.Failure{Kind: remoteaccess.NotFound, Message: "no such entity " + name}
		}
	})
}

func accountRow(id uuid.UUID, name string, state int64) coretypes.Row {
	return coretypes.NewRow(
		[]string{"accountid", "name", "statecode", "createdon"},
		[]coretypes.QueryValue{
			coretypes.NewUUID(id),
			coretypes.NewText(name),
			coretypes.NewInteger(state),
			coretypes.NewTimestamp(time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)),
		},
	)
}

func contactRow(id uuid.UUID, parent coretypes.QueryValue, state int64) coretypes.Row {
	return coretypes.NewRow(
		[]string{"contactid", "parentaccountid", "statecode", "createdon"},
		[]coretypes.QueryValue{
			coretypes.NewUUID(id),
			parent,
			coretypes.NewInteger(state),
			coretypes.NewTimestamp(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)),
		},
	)
}

func intRow(col string, v int64) coretypes.Row {
	return coretypes.NewRow([]string{col}, []coretypes.QueryValue{coretypes.NewInteger(v)})
}

func newTestEngine(store *fakeStore) *engine.Engine {
	return engine.New(store, testCache(), nil, nil)
}

func flattenPlan(n *engine.PlanDescription) []string {
	out := []string{n.Description}
	var walk func(engine.PlanDescription)
	walk = func(c engine.PlanDescription) {
		out = append(out, c.Description)
		for _, cc := range c.Children {
			walk(cc)
		}
	}
	for _, c := range n.Children {
		walk(c)
	}
	return out
}

func planContains(descriptions []string, substr string) bool {
	for _, d := range descriptions {
		if strings.Contains(d, substr) {
			return true
		}
	}
	return false
}

func estimate(n int64) *int64 { return &n }

func TestCountUnderCapStaysUnpartitioned(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"account": {
			accountRow(uuid.New(), "northwind", 0),
			accountRow(uuid.New(), "contoso", 0),
			accountRow(uuid.New(), "fabrikam", 1),
		},
	}}
	e := newTestEngine(store)
	opts := planbuild.Options{EstimatedRecordCount: estimate(30000)}

	desc, err := e.Explain(`SELECT COUNT(*) AS cnt FROM account`, opts)
	require.NoError(t, err)
	flat := flattenPlan(desc)
	require.False(t, planContains(flat, "ParallelPartition"), "an estimate under the aggregate cap must not trigger partitioning")

	res, err := e.Execute(context.Background(), `SELECT COUNT(*) AS cnt FROM account`, opts)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, int64(3), res.Rows[0].MustGet("cnt").Int)
}

func TestCountOverCapPartitionsUniformly(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{}, aggCount: 40000}
	e := newTestEngine(store)
	minTS := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTS := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := planbuild.Options{
		EstimatedRecordCount: estimate(200000),
		MinTimestamp:         &minTS,
		MaxTimestamp:         &maxTS,
		TimestampColumn:      "createdon",
		PoolCapacity:         4,
	}
	sql := `SELECT COUNT(*) AS cnt FROM account`

	desc, err := e.Explain(sql, opts)
	require.NoError(t, err)
	flat := flattenPlan(desc)
	require.True(t, planContains(flat, "MergeAggregate"))
	require.True(t, planContains(flat, "ParallelPartition"))
	scans := 0
	for _, d := range flat {
		if strings.Contains(d, "AdaptiveAggregateScan") {
			scans++
		}
	}
	require.Equal(t, 5, scans, "ceil(200000/40000) partitions")

	res, err := e.Execute(context.Background(), sql, opts)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, int64(200000), res.Rows[0].MustGet("cnt").Int)
}

func TestMergeWhenMatchedRejectedAtPlanTime(t *testing.T) {
	e := newTestEngine(&fakeStore{tables: map[string][]coretypes.Row{}})
	_, err := e.Execute(context.Background(),
		`MERGE INTO account USING src ON account.accountid = src.id WHEN MATCHED THEN UPDATE SET name = src.name;`,
		planbuild.Options{})
	require.Error(t, err)
	se, ok := err.(*engine.StatementError)
	require.True(t, ok)
	require.Equal(t, "Query.NotSupported", se.Code)
	require.Contains(t, se.Message, "WHEN MATCHED")
}

func TestDeleteWithoutWhereIsBlocked(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"account": {accountRow(uuid.New(), "northwind", 0)},
	}}
	e := newTestEngine(store)
	_, err := e.Execute(context.Background(), `DELETE FROM account;`,
		planbuild.Options{BlockUnrestrictedDelete: true})
	require.Error(t, err)
	se, ok := err.(*engine.StatementError)
	require.True(t, ok)
	require.Equal(t, "Query.DmlBlocked", se.Code)
	require.Zero(t, store.dmlRows, "no rows may reach the store once the guard blocks")
}

func TestInSubqueryPlansSemiJoin(t *testing.T) {
	parent := uuid.New()
	orphan := uuid.New()
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"account": {
			accountRow(parent, "has-contacts", 0),
			accountRow(orphan, "no-contacts", 0),
		},
		"contact": {
			contactRow(uuid.New(), coretypes.NewUUID(parent), 0),
		},
	}}
	e := newTestEngine(store)
	sql := `SELECT name FROM account WHERE accountid IN (SELECT parentaccountid FROM contact WHERE statecode = 0)`

	desc, err := e.Explain(sql, planbuild.Options{})
	require.NoError(t, err)
	require.True(t, planContains(flattenPlan(desc), "NestedLoopJoin (SEMI)"),
		"IN (SELECT ...) must plan as a semi-join, not a correlated client filter")

	res, err := e.Execute(context.Background(), sql, planbuild.Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "has-contacts", res.Rows[0].MustGet("name").Str)
}

func TestNotInSubqueryIsNullAware(t *testing.T) {
	parent := uuid.New()
	orphan := uuid.New()
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"account": {
			accountRow(parent, "has-contacts", 0),
			accountRow(orphan, "no-contacts", 0),
		},
		"contact": {
			contactRow(uuid.New(), coretypes.NewUUID(parent), 0),
			contactRow(uuid.New(), coretypes.NewNull(), 0),
		},
	}}
	e := newTestEngine(store)
	res, err := e.Execute(context.Background(),
		`SELECT name FROM account WHERE accountid NOT IN (SELECT parentaccountid FROM contact)`,
		planbuild.Options{})
	require.NoError(t, err)
	require.Empty(t, res.Rows, "a null in the NOT IN set means no outer row can pass")
}

func TestExistsCorrelatedDecorrelatesToSemiJoin(t *testing.T) {
	parent := uuid.New()
	orphan := uuid.New()
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"account": {
			accountRow(parent, "has-contacts", 0),
			accountRow(orphan, "no-contacts", 0),
		},
		"contact": {
			contactRow(uuid.New(), coretypes.NewUUID(parent), 0),
		},
	}}
	e := newTestEngine(store)
	sql := `SELECT name FROM account a WHERE EXISTS (SELECT 1 FROM contact c WHERE c.parentaccountid = a.accountid)`

	desc, err := e.Explain(sql, planbuild.Options{})
	require.NoError(t, err)
	require.True(t, planContains(flattenPlan(desc), "NestedLoopJoin (SEMI)"))

	res, err := e.Execute(context.Background(), sql, planbuild.Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "has-contacts", res.Rows[0].MustGet("name").Str)
}

func TestNotExistsPlansAntiJoin(t *testing.T) {
	parent := uuid.New()
	orphan := uuid.New()
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"account": {
			accountRow(parent, "has-contacts", 0),
			accountRow(orphan, "no-contacts", 0),
		},
		"contact": {
			contactRow(uuid.New(), coretypes.NewUUID(parent), 0),
		},
	}}
	e := newTestEngine(store)
	res, err := e.Execute(context.Background(),
		`SELECT name FROM account a WHERE NOT EXISTS (SELECT 1 FROM contact c WHERE c.parentaccountid = a.accountid)`,
		planbuild.Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "no-contacts", res.Rows[0].MustGet("name").Str)
}

func TestScalarSubqueryComparison(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"account": {
			accountRow(uuid.New(), "active", 0),
			accountRow(uuid.New(), "inactive", 1),
		},
		"contact": {
			contactRow(uuid.New(), coretypes.NewNull(), 1),
		},
	}}
	e := newTestEngine(store)
	res, err := e.Execute(context.Background(),
		`SELECT name FROM account WHERE statecode = (SELECT MAX(statecode) FROM contact)`,
		planbuild.Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "inactive", res.Rows[0].MustGet("name").Str)
}

func TestUnionAllConcatenatesWithoutDistinct(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"t1": {intRow("a", 1), intRow("a", 2)},
		"t2": {intRow("a", 2), intRow("a", 3)},
	}}
	e := newTestEngine(store)
	sql := `SELECT a FROM t1 UNION ALL SELECT a FROM t2`

	desc, err := e.Explain(sql, planbuild.Options{})
	require.NoError(t, err)
	flat := flattenPlan(desc)
	require.True(t, planContains(flat, "Concatenate"))
	require.False(t, planContains(flat, "Distinct"), "UNION ALL must not deduplicate")

	res, err := e.Execute(context.Background(), sql, planbuild.Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 4, "row count equals the sum of both branches")

	dedup, err := e.Execute(context.Background(), `SELECT a FROM t1 UNION SELECT a FROM t2`, planbuild.Options{})
	require.NoError(t, err)
	require.Len(t, dedup.Rows, 3, "plain UNION deduplicates across branches")
}

func TestCancellationMidScan(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{}, endless: true, pageDelay: 5 * time.Millisecond}
	e := newTestEngine(store)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, `SELECT name FROM account`, planbuild.Options{})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		se, ok := err.(*engine.StatementError)
		require.True(t, ok)
		require.Equal(t, "Query.Cancelled", se.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation was not observed")
	}
}

func TestExplainHasNoSideEffects(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{}}
	e := newTestEngine(store)
	_, err := e.Explain(`SELECT name FROM account WHERE statecode = 0`, planbuild.Options{})
	require.NoError(t, err)
	require.Empty(t, store.xmlRequests, "explain must not touch the remote store")
	require.Zero(t, store.dmlRows)
}

func TestTranspileReturnsPushdownXML(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{}}
	e := newTestEngine(store)
	xml, err := e.Transpile(`SELECT name FROM account WHERE statecode = 0`, planbuild.Options{})
	require.NoError(t, err)
	require.Contains(t, xml, `<entity name="account">`)
	require.Contains(t, xml, `<condition attribute="statecode" operator="eq"`)
	require.Empty(t, store.xmlRequests, "transpile must not execute")
}

func TestParseErrorCarriesPosition(t *testing.T) {
	e := newTestEngine(&fakeStore{tables: map[string][]coretypes.Row{}})
	_, err := e.Execute(context.Background(), `SELECT FROM WHERE`, planbuild.Options{})
	require.Error(t, err)
	se, ok := err.(*engine.StatementError)
	require.True(t, ok)
	require.Equal(t, "Query.ParseError", se.Code)
	require.Positive(t, se.Line)
}

func TestScriptVariablesFlowBetweenStatements(t *testing.T) {
	e := newTestEngine(&fakeStore{tables: map[string][]coretypes.Row{}})
	res, err := e.Execute(context.Background(), `
		DECLARE @n INT;
		SET @n = 41;
		SET @n = @n + 1;
		SELECT @n AS answer;
	`, planbuild.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Rows)
	last := res.Rows[len(res.Rows)-1]
	require.Equal(t, int64(42), last.MustGet("answer").Int)
}

func TestPlanIsDeterministic(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{}}
	e := newTestEngine(store)
	sql := `SELECT name FROM account WHERE accountid IN (SELECT parentaccountid FROM contact WHERE statecode = 0) ORDER BY name`

	first, err := e.Explain(sql, planbuild.Options{})
	require.NoError(t, err)
	second, err := e.Explain(sql, planbuild.Options{})
	require.NoError(t, err)
	require.Equal(t, flattenPlan(first), flattenPlan(second))

	xml1, err := e.Transpile(sql, planbuild.Options{})
	require.NoError(t, err)
	xml2, err := e.Transpile(sql, planbuild.Options{})
	require.NoError(t, err)
	require.Equal(t, xml1, xml2)
}

func TestTempTableLifecycleWithinScript(t *testing.T) {
	e := newTestEngine(&fakeStore{tables: map[string][]coretypes.Row{}})
	res, err := e.Execute(context.Background(), `
		CREATE TABLE #tmp (v INT);
		INSERT INTO #tmp (v) VALUES (1), (2), (3);
		SELECT v FROM #tmp WHERE v > 1;
	`, planbuild.Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, int64(2), res.Rows[0].MustGet("v").Int)
	require.Equal(t, int64(3), res.Rows[1].MustGet("v").Int)
}

func TestTempTableScanBeforeCreateFails(t *testing.T) {
	e := newTestEngine(&fakeStore{tables: map[string][]coretypes.Row{}})
	_, err := e.Execute(context.Background(), `SELECT v FROM #nope`, planbuild.Options{})
	require.Error(t, err)
	se, ok := err.(*engine.StatementError)
	require.True(t, ok)
	require.Equal(t, "Query.PlanBuildError", se.Code)
}

func TestMergeJoinChosenForSortedInputs(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"t1": {intRow("a", 2), intRow("a", 1)},
		"t2": {intRow("a", 3), intRow("a", 2)},
	}}
	e := newTestEngine(store)
	sql := `SELECT d1.a AS x FROM (SELECT a FROM t1 ORDER BY a) d1 INNER JOIN (SELECT a FROM t2 ORDER BY a) d2 ON d1.a = d2.a`

	desc, err := e.Explain(sql, planbuild.Options{})
	require.NoError(t, err)
	require.True(t, planContains(flattenPlan(desc), "MergeJoin"),
		"two inputs sorted on the equi-join key must take the merge strategy")

	res, err := e.Execute(context.Background(), sql, planbuild.Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, int64(2), res.Rows[0].MustGet("x").Int)
}

func TestStreamAggregateChosenForSortedInput(t *testing.T) {
	store := &fakeStore{tables: map[string][]coretypes.Row{
		"t1": {intRow("a", 2), intRow("a", 1), intRow("a", 2)},
	}}
	e := newTestEngine(store)
	sql := `SELECT a, COUNT(*) AS c FROM (SELECT a FROM t1 ORDER BY a) d GROUP BY a`

	desc, err := e.Explain(sql, planbuild.Options{})
	require.NoError(t, err)
	require.True(t, planContains(flattenPlan(desc), "StreamAggregate"))

	res, err := e.Execute(context.Background(), sql, planbuild.Options{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	counts := map[int64]int64{}
	for _, r := range res.Rows {
		counts[r.MustGet("a").Int] = r.MustGet("c").Int
	}
	require.Equal(t, int64(1), counts[1])
	require.Equal(t, int64(2), counts[2])
}
