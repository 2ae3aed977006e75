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

package poolutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/poolutil"
)

func TestSlotsBoundsConcurrency(t *testing.T) {
	s := poolutil.NewSlots(2)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx))
	require.NoError(t, s.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, s.Acquire(ctx))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked while only 2 slots exist")
	case <-time.After(20 * time.Millisecond):
	}

	s.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire should have unblocked after release")
	}
	s.Release()
	s.Release()
}

func TestSlotsAcquireRespectsCancellation(t *testing.T) {
	s := poolutil.NewSlots(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
