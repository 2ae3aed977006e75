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

package exprcompile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xrmsql/engine/coretypes"
	"github.com/xrmsql/engine/errkind"
)

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(s))
}

// baseTypeName strips a parenthesized length/precision suffix, e.g.
// "VARCHAR(50)" -> "VARCHAR", "DECIMAL(18,2)" -> "DECIMAL".
func baseTypeName(target string) string {
	if i := strings.IndexByte(target, '('); i >= 0 {
		return strings.ToUpper(strings.TrimSpace(target[:i]))
	}
	return strings.ToUpper(strings.TrimSpace(target))
}

// castValue converts v to the type named by target (as produced by the
// parser's type-name grammar), per the CAST/CONVERT semantics of spec
// §4.C. Null casts to null regardless of target.
func castValue(v coretypes.QueryValue, target string) (coretypes.QueryValue, error) {
	if v.IsNull() {
		return coretypes.NewNull(), nil
	}
	base := baseTypeName(target)
	switch base {
	case "VARCHAR", "NVARCHAR", "CHAR", "NCHAR", "TEXT":
		return coretypes.NewText(v.String()), nil
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT":
		n, err := castToInt(v)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewInteger(n), nil
	case "BIT", "BOOLEAN", "BOOL":
		b, err := castToBool(v)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewBoolean(b), nil
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		d, err := castToDecimal(v)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewDecimal(d), nil
	case "FLOAT", "REAL":
		f, err := castToFloat(v)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewFloating(f), nil
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME":
		t, err := castToTimestamp(v)
		if err != nil {
			return coretypes.QueryValue{}, err
		}
		return coretypes.NewTimestamp(t), nil
	case "UNIQUEIDENTIFIER":
		if v.Tag == coretypes.UUID {
			return v, nil
		}
		if v.Tag == coretypes.Text {
			id, err := parseUUID(v.Str)
			if err != nil {
				return coretypes.QueryValue{}, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %q to UNIQUEIDENTIFIER", v.Str))
			}
			return coretypes.NewUUID(id), nil
		}
		return coretypes.QueryValue{}, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %s to UNIQUEIDENTIFIER", v.Tag))
	default:
		return coretypes.QueryValue{}, errkind.NotSupported.New(fmt.Sprintf("cast target type %s", target))
	}
}

func castToInt(v coretypes.QueryValue) (int64, error) {
	switch v.Tag {
	case coretypes.Integer:
		return v.Int, nil
	case coretypes.Decimal:
		return v.Dec.IntPart(), nil
	case coretypes.Floating:
		return int64(v.Float), nil
	case coretypes.Boolean:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case coretypes.Text:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %q to an integer", v.Str))
		}
		return n, nil
	default:
		return 0, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %s to an integer", v.Tag))
	}
}

func castToBool(v coretypes.QueryValue) (bool, error) {
	switch v.Tag {
	case coretypes.Boolean:
		return v.Bool, nil
	case coretypes.Integer:
		return v.Int != 0, nil
	case coretypes.Text:
		switch strings.ToLower(strings.TrimSpace(v.Str)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		default:
			return false, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %q to BIT", v.Str))
		}
	default:
		return false, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %s to BIT", v.Tag))
	}
}

func castToDecimal(v coretypes.QueryValue) (decimal.Decimal, error) {
	switch v.Tag {
	case coretypes.Decimal:
		return v.Dec, nil
	case coretypes.Money:
		return v.Amount.Raw, nil
	case coretypes.Integer:
		return decimal.NewFromInt(v.Int), nil
	case coretypes.Floating:
		return decimal.NewFromFloat(v.Float), nil
	case coretypes.Text:
		d, err := decimal.NewFromString(strings.TrimSpace(v.Str))
		if err != nil {
			return decimal.Zero, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %q to a decimal", v.Str))
		}
		return d, nil
	default:
		return decimal.Zero, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %s to a decimal", v.Tag))
	}
}

func castToFloat(v coretypes.QueryValue) (float64, error) {
	switch v.Tag {
	case coretypes.Floating:
		return v.Float, nil
	case coretypes.Integer:
		return float64(v.Int), nil
	case coretypes.Decimal:
		f, _ := v.Dec.Float64()
		return f, nil
	case coretypes.Text:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %q to a float", v.Str))
		}
		return f, nil
	default:
		return 0, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %s to a float", v.Tag))
	}
}

func castToTimestamp(v coretypes.QueryValue) (time.Time, error) {
	switch v.Tag {
	case coretypes.Timestamp:
		return v.Time, nil
	case coretypes.Text:
		t, err := parseDateTime(v.Str)
		if err != nil {
			return time.Time{}, err
		}
		return t, nil
	default:
		return time.Time{}, errkind.TypeMismatch.New(fmt.Sprintf("cannot cast %s to a timestamp", v.Tag))
	}
}
