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

package driverutil

import (
	"github.com/xrmsql/engine/coretypes"
)

// convertValue widens a QueryValue to one of the types database/sql
// accepts from a driver.Rows.Next: int64, float64, bool, []byte, string,
// time.Time, or nil. Modeled on the teacher's driver.convertRowValue,
// simplified because QueryValue already carries its own tag instead of a
// vitess wire type the teacher has to consult first.
func convertValue(v coretypes.QueryValue) interface{} {
	switch v.Tag {
	case coretypes.Null:
		return nil
	case coretypes.Boolean:
		return v.Bool
	case coretypes.Integer:
		return v.Int
	case coretypes.Decimal:
		return v.Dec.String()
	case coretypes.Floating:
		return v.Float
	case coretypes.Text:
		return v.Str
	case coretypes.Timestamp:
		return v.Time
	case coretypes.UUID:
		return v.UUID.String()
	case coretypes.Binary:
		return v.Bytes
	case coretypes.LookupRef:
		if v.Display != "" {
			return v.Display
		}
		return v.Lookup.ID.String()
	case coretypes.OptionSet:
		if v.Display != "" {
			return v.Display
		}
		return v.Option.Label
	case coretypes.Money:
		if v.Display != "" {
			return v.Display
		}
		return v.Amount.Raw.String()
	default:
		return nil
	}
}
