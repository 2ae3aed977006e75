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

package coretypes_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/coretypes"
)

func TestRowGetCaseInsensitive(t *testing.T) {
	r := coretypes.NewRow([]string{"AccountId", "Name"}, []coretypes.QueryValue{
		coretypes.NewInteger(1),
		coretypes.NewText("Contoso"),
	})

	v, ok := r.Get("accountid")
	require.True(t, ok)
	require.Equal(t, int64(1), v.Int)

	_, ok = r.Get("missing")
	require.False(t, ok)
}

func TestRowWithAppendsOrOverwrites(t *testing.T) {
	r := coretypes.NewRow([]string{"a"}, []coretypes.QueryValue{coretypes.NewInteger(1)})

	r2 := r.With("b", coretypes.NewInteger(2))
	require.Equal(t, 2, r2.Len())
	require.Equal(t, 1, r.Len(), "With must not mutate the receiver")

	r3 := r2.With("a", coretypes.NewInteger(99))
	v, _ := r3.Get("a")
	require.Equal(t, int64(99), v.Int)
	require.Equal(t, 2, r3.Len())
}

func TestRowProjectRenames(t *testing.T) {
	r := coretypes.NewRow([]string{"a", "b"}, []coretypes.QueryValue{
		coretypes.NewInteger(1), coretypes.NewInteger(2),
	})
	p := r.Project([]string{"b", "a"}, []string{"bb", ""})
	require.Equal(t, []string{"bb", "a"}, p.ColumnNames())
	v, _ := p.Get("bb")
	require.Equal(t, int64(2), v.Int)
}

func TestQueryValueStringPrefersDisplay(t *testing.T) {
	v := coretypes.NewLookupRef("account", [16]byte{}, "Contoso Ltd")
	require.Equal(t, "Contoso Ltd", v.String())

	null := coretypes.NewNull()
	require.True(t, null.IsNull())
	require.Equal(t, "NULL", null.String())
}
