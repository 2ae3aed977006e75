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

// Package coretypes holds the data model shared by every layer of the
// engine: the tagged QueryValue union, Row, Schema and related column
// metadata. Nothing in this package depends on the parser, the plan tree or
// the remote store.
package coretypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tag identifies which variant of QueryValue is populated. Null is a
// distinct tag, never a sentinel zero value of another tag.
type Tag int

const (
	Null Tag = iota
	Boolean
	Integer
	Decimal
	Floating
	Text
	Timestamp
	UUID
	Binary
	LookupRef
	OptionSet
	Money
)

func (t Tag) String() string {
	switch t {
	case Null:
		return "null"
	case Boolean:
		return "boolean"
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Floating:
		return "floating"
	case Text:
		return "text"
	case Timestamp:
		return "timestamp"
	case UUID:
		return "uuid"
	case Binary:
		return "binary"
	case LookupRef:
		return "lookup-reference"
	case OptionSet:
		return "optionset"
	case Money:
		return "money"
	default:
		return "unknown"
	}
}

// LookupValue is the payload of a LookupRef QueryValue: a reference to
// another entity's row, as returned by the remote store for a lookup
// attribute.
type LookupValue struct {
	EntityName    string
	ID            uuid.UUID
	FormattedText string
}

// OptionSetValue is the payload of an OptionSet QueryValue.
type OptionSetValue struct {
	Code  int64
	Label string
}

// MoneyValue is the payload of a Money QueryValue: the raw decimal amount
// plus the remote store's locale-formatted display string, when supplied.
type MoneyValue struct {
	Raw       decimal.Decimal
	Formatted string
}

// QueryValue is a tagged union over every scalar value the engine moves
// through a Row. Exactly one of the typed fields is meaningful, selected by
// Tag; callers must switch on Tag rather than probe fields directly.
//
// Display carries the remote store's server-formatted string for the value
// when one was supplied (e.g. a lookup's display name, a money amount's
// localized text); it is empty when the value was computed client-side.
type QueryValue struct {
	Tag     Tag
	Bool    bool
	Int     int64
	Dec     decimal.Decimal
	Float   float64
	Str     string
	Time    time.Time
	UUID    uuid.UUID
	Bytes   []byte
	Lookup  LookupValue
	Option  OptionSetValue
	Amount  MoneyValue
	Display string
}

func NewNull() QueryValue                 { return QueryValue{Tag: Null} }
func NewBoolean(v bool) QueryValue        { return QueryValue{Tag: Boolean, Bool: v} }
func NewInteger(v int64) QueryValue       { return QueryValue{Tag: Integer, Int: v} }
func NewDecimal(v decimal.Decimal) QueryValue { return QueryValue{Tag: Decimal, Dec: v} }
func NewFloating(v float64) QueryValue    { return QueryValue{Tag: Floating, Float: v} }
func NewText(v string) QueryValue         { return QueryValue{Tag: Text, Str: v} }
func NewTimestamp(v time.Time) QueryValue { return QueryValue{Tag: Timestamp, Time: v.UTC()} }
func NewUUID(v uuid.UUID) QueryValue      { return QueryValue{Tag: UUID, UUID: v} }
func NewBinary(v []byte) QueryValue       { return QueryValue{Tag: Binary, Bytes: v} }

func NewLookupRef(entity string, id uuid.UUID, formatted string) QueryValue {
	return QueryValue{Tag: LookupRef, Lookup: LookupValue{EntityName: entity, ID: id, FormattedText: formatted}}
}

func NewOptionSet(code int64, label string) QueryValue {
	return QueryValue{Tag: OptionSet, Option: OptionSetValue{Code: code, Label: label}}
}

func NewMoney(raw decimal.Decimal, formatted string) QueryValue {
	return QueryValue{Tag: Money, Amount: MoneyValue{Raw: raw, Formatted: formatted}}
}

// IsNull reports whether v holds the null tag.
func (v QueryValue) IsNull() bool { return v.Tag == Null }

// String renders v for diagnostics (EXPLAIN, logging). It prefers the
// server-formatted Display string when present.
func (v QueryValue) String() string {
	if v.Display != "" {
		return v.Display
	}
	switch v.Tag {
	case Null:
		return "NULL"
	case Boolean:
		return fmt.Sprintf("%t", v.Bool)
	case Integer:
		return fmt.Sprintf("%d", v.Int)
	case Decimal:
		return v.Dec.String()
	case Floating:
		return fmt.Sprintf("%g", v.Float)
	case Text:
		return v.Str
	case Timestamp:
		return v.Time.Format("2006-01-02T15:04:05.000Z")
	case UUID:
		return v.UUID.String()
	case Binary:
		return fmt.Sprintf("0x%x", v.Bytes)
	case LookupRef:
		if v.Lookup.FormattedText != "" {
			return v.Lookup.FormattedText
		}
		return v.Lookup.ID.String()
	case OptionSet:
		return v.Option.Label
	case Money:
		if v.Amount.Formatted != "" {
			return v.Amount.Formatted
		}
		return v.Amount.Raw.String()
	default:
		return ""
	}
}
