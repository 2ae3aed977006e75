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

package xmlgen_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/session"
	"github.com/xrmsql/engine/xmlgen"
)

func emptyCache() *session.Cache {
	return session.NewCache(func(name string) (session.EntityDescriptor, error) {
		return session.EntityDescriptor{LogicalName: name, Attributes: map[string]session.AttributeDescriptor{}}, nil
	})
}

func TestGenerateTimestampLiteralIsISO8601UTC(t *testing.T) {
	// A non-UTC input must come out as the bit-exact UTC form of spec
	// §4.G, yyyy-MM-ddTHH:mm:ss.fffZ.
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2023, 6, 15, 19, 30, 45, 123_000_000, loc)
	q := xmlgen.Query{
		Entity:     "account",
		Attributes: []string{"accountid"},
		Filter: &xmlgen.Filter{
			Conditions: []xmlgen.Condition{
				{Attribute: "createdon", Operator: xmlgen.OpGreaterEq, Values: []coretypes.QueryValue{coretypes.NewTimestamp(ts)}},
			},
		},
	}
	xmlText, _, entity, err := xmlgen.Generate(q, emptyCache())
	require.NoError(t, err)
	require.Equal(t, "account", entity)
	require.Contains(t, xmlText, "2023-06-16T00:30:45.123Z")
}

func TestGenerateEscapesIdentifiers(t *testing.T) {
	q := xmlgen.Query{
		Entity:     `acc"<>ount`,
		Attributes: []string{"name"},
	}
	xmlText, _, _, err := xmlgen.Generate(q, emptyCache())
	require.NoError(t, err)
	require.NotContains(t, xmlText, `name="acc"<>ount"`)
	require.Contains(t, xmlText, "&lt;")
	require.Contains(t, xmlText, "&gt;")
}

func TestGeneratePagingInputsInjectedVerbatim(t *testing.T) {
	cookie := "<cookie page='1' last-id='{ABC}' />"
	q := xmlgen.Query{
		Entity:       "account",
		Attributes:   []string{"accountid"},
		PageSize:     500,
		PageNumber:   3,
		PagingCookie: cookie,
	}
	xmlText, _, _, err := xmlgen.Generate(q, emptyCache())
	require.NoError(t, err)
	require.Contains(t, xmlText, `page="3"`)
	require.Contains(t, xmlText, `count="500"`)
	// The cookie value is escaped for attribute placement but not
	// structurally altered: unescaping must give back the exact cookie.
	start := strings.Index(xmlText, `paging-cookie="`)
	require.GreaterOrEqual(t, start, 0)
	rest := xmlText[start+len(`paging-cookie="`):]
	end := strings.Index(rest, `"`)
	require.GreaterOrEqual(t, end, 0)
	unescaped := strings.NewReplacer("&lt;", "<", "&gt;", ">", "&#39;", "'", "&#34;", `"`, "&amp;", "&").Replace(rest[:end])
	require.Equal(t, cookie, unescaped)
}

func TestGenerateAvgGetsCompanionCount(t *testing.T) {
	q := xmlgen.Query{
		Entity:    "account",
		Aggregate: true,
		AggregateCols: []xmlgen.AggregateAttr{
			{Attribute: "revenue", Alias: "avg_rev", Func: xmlgen.AggAvg},
		},
	}
	xmlText, _, _, err := xmlgen.Generate(q, emptyCache())
	require.NoError(t, err)
	require.Contains(t, xmlText, `aggregate="avg" alias="avg_rev"`)
	require.Contains(t, xmlText, `aggregate="count" alias="avg_rev_count"`,
		"every AVG must carry an adjacent companion COUNT for faithful merging")
}

func TestGenerateAggregateCountStar(t *testing.T) {
	q := xmlgen.Query{
		Entity:    "account",
		Aggregate: true,
		GroupBy:   []string{"statecode"},
		AggregateCols: []xmlgen.AggregateAttr{
			{Alias: "cnt", Func: xmlgen.AggCount},
		},
	}
	xmlText, _, _, err := xmlgen.Generate(q, emptyCache())
	require.NoError(t, err)
	require.Contains(t, xmlText, `aggregate="true"`)
	require.Contains(t, xmlText, `groupby="true"`)
	require.Contains(t, xmlText, `aggregate="count" alias="cnt"`)
}

func TestGenerateRequiresEntity(t *testing.T) {
	_, _, _, err := xmlgen.Generate(xmlgen.Query{}, emptyCache())
	require.Error(t, err)
}
