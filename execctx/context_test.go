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

package execctx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/errkind"
	"github.com/xrmsql/engine/execctx"
	"github.com/xrmsql/engine/session"
)

func TestCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ec := execctx.New(ctx, session.New(), nil, nil)

	require.NoError(t, ec.CheckCancelled())
	cancel()
	err := ec.CheckCancelled()
	require.True(t, errkind.Cancelled.Is(err))
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	ec := execctx.New(context.Background(), session.New(), nil, nil)
	child := ec.WithFields(map[string]interface{}{"node": "FetchScan"})
	require.NotSame(t, ec, child)
}
