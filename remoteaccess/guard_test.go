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

package remoteaccess_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/remoteaccess"
)

func TestCheckUnrestricted_HasWhereAlwaysAllowed(t *testing.T) {
	err := remoteaccess.CheckUnrestricted(remoteaccess.OpDelete, true, remoteaccess.GuardOptions{
		BlockUnrestrictedDelete: true,
	})
	require.NoError(t, err)
}

func TestCheckUnrestricted_BlockedWhenFlagSet(t *testing.T) {
	err := remoteaccess.CheckUnrestricted(remoteaccess.OpDelete, false, remoteaccess.GuardOptions{
		BlockUnrestrictedDelete: true,
		ConfirmUnrestricted:     true,
	})
	require.Error(t, err)
}

func TestCheckUnrestricted_RequiresConfirmation(t *testing.T) {
	err := remoteaccess.CheckUnrestricted(remoteaccess.OpUpdate, false, remoteaccess.GuardOptions{})
	require.Error(t, err)

	err = remoteaccess.CheckUnrestricted(remoteaccess.OpUpdate, false, remoteaccess.GuardOptions{ConfirmUnrestricted: true})
	require.NoError(t, err)
}

func TestRowCapRemaining(t *testing.T) {
	cap5 := 5
	opts := remoteaccess.GuardOptions{DmlRowCap: &cap5}
	require.True(t, remoteaccess.RowCapRemaining(opts, 4))
	require.False(t, remoteaccess.RowCapRemaining(opts, 5))
	require.True(t, remoteaccess.RowCapRemaining(remoteaccess.GuardOptions{}, 1000000))
}

func TestIsAggregateCap(t *testing.T) {
	require.True(t, remoteaccess.IsAggregateCap(&remoteaccess.Failure{Kind: remoteaccess.AggregateCap}))
	require.True(t, remoteaccess.IsAggregateCap(&remoteaccess.Failure{Kind: remoteaccess.BadQuery, Message: "error: maximum record limit of 50000 exceeded"}))
	require.False(t, remoteaccess.IsAggregateCap(&remoteaccess.Failure{Kind: remoteaccess.BadQuery, Message: "syntax error"}))
}
