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

package intellisense_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/intellisense"
	"github.com/xrmsql/engine/session"
)

func newTestCache() *session.Cache {
	cache := session.NewCache(func(name string) (session.EntityDescriptor, error) {
		return session.EntityDescriptor{}, nil
	})
	cache.Preload(session.EntityDescriptor{
		LogicalName:    "account",
		PrimaryKey:     "accountid",
		AttributeOrder: []string{"accountid", "name", "revenue"},
		Attributes: map[string]session.AttributeDescriptor{
			"accountid": {LogicalName: "accountid", Tag: coretypes.UUID, IsPrimaryKey: true},
			"name":      {LogicalName: "name", Tag: coretypes.Text},
			"revenue":   {LogicalName: "revenue", Tag: coretypes.Money},
		},
	})
	return cache
}

func TestTokenizeNeverFails(t *testing.T) {
	toks := intellisense.Tokenize("SELECT * FROM account WHERE ")
	require.NotEmpty(t, toks)
	require.Equal(t, intellisense.TokenEOF, toks[len(toks)-1].Kind)
}

func TestDiagnosticsReportsParseError(t *testing.T) {
	diags := intellisense.Diagnostics("SELECT FROM WHERE", nil)
	require.NotEmpty(t, diags)
	require.Equal(t, intellisense.SeverityError, diags[0].Severity)
}

func TestDiagnosticsEmptyOnValidScript(t *testing.T) {
	diags := intellisense.Diagnostics("SELECT name FROM account", nil)
	require.Empty(t, diags)
}

func TestCompletionsOfferEntitiesAfterFrom(t *testing.T) {
	cache := newTestCache()
	sql := "SELECT * FROM "
	out := intellisense.Completions(context.Background(), sql, len(sql), cache, 0)
	require.Contains(t, labels(out), "account")
	for _, c := range out {
		require.Equal(t, intellisense.CompletionEntity, c.Kind)
	}
}

func TestCompletionsOfferColumnsAfterDot(t *testing.T) {
	cache := newTestCache()
	sql := "SELECT a. FROM account a WHERE a.name = 'x'"
	cursor := len("SELECT a.")
	out := intellisense.Completions(context.Background(), sql, cursor, cache, 0)
	require.Contains(t, labels(out), "revenue")
}

func TestCompletionsOfferOnlyKeywordsAtStatementStart(t *testing.T) {
	out := intellisense.Completions(context.Background(), "SELECT 1; ", len("SELECT 1; "), nil, 0)
	require.NotEmpty(t, out)
	for _, c := range out {
		require.Equal(t, intellisense.CompletionKeyword, c.Kind)
	}
}

func labels(cs []intellisense.Completion) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Label
	}
	return out
}
