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

package errkind_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/xrmsql/engine/errkind"
)

func TestCode(t *testing.T) {
	require.Equal(t, "Query.AggregateLimitExceeded", errkind.Code(errkind.AggregateLimitExceeded))
	require.Equal(t, "Query.ParseError", errkind.Code(errkind.ParseError))
	require.Equal(t, "Query.ExecutionFailed", errkind.Code(nil))
}

func TestKindOf(t *testing.T) {
	err := errkind.DmlBlocked.New("no WHERE clause")
	require.Equal(t, errkind.DmlBlocked, errkind.KindOf(err))

	wrapped := errors.Wrap(errkind.AggregateLimitExceeded.New("maximum record limit of 50000"), "fetch scan")
	require.Equal(t, errkind.AggregateLimitExceeded, errkind.KindOf(wrapped))

	require.Nil(t, errkind.KindOf(errors.New("unrelated")))
}
