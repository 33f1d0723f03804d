// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"bytes"
	"strings"
)

type Direction uint8

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

type NullsOrder uint8

const (
	NullsFirst NullsOrder = iota
	NullsLast
)

func (n NullsOrder) String() string {
	if n == NullsLast {
		return "NULLS LAST"
	}
	return "NULLS FIRST"
}

// DefaultNullsOrder is the placement a dialect uses when the statement does not name one.
// PostgreSQL sorts nulls as if larger than every value.
func DefaultNullsOrder(dir Direction) NullsOrder {
	if dir == Desc {
		return NullsFirst
	}
	return NullsLast
}

// Compare orders two values for a sort key.
//
// Null placement follows nulls only and is not flipped by dir.
// Strings compare by their upper case form when caseSensitive is false.
// The result is -1, 0 or 1.
func Compare(a, b Value, dir Direction, nulls NullsOrder, caseSensitive bool) (int, error) {
	if a.IsNull() && b.IsNull() {
		return 0, nil
	}
	if a.IsNull() {
		if nulls == NullsFirst {
			return -1, nil
		}
		return 1, nil
	}
	if b.IsNull() {
		if nulls == NullsFirst {
			return 1, nil
		}
		return -1, nil
	}
	var ret int
	if !caseSensitive && a.Kind == KindString && b.Kind == KindString {
		ret = strings.Compare(strings.ToUpper(a.Str), strings.ToUpper(b.Str))
	} else {
		var err error
		ret, err = NaturalCompare(a, b)
		if err != nil {
			return 0, err
		}
	}
	if dir == Desc {
		ret = -ret
	}
	return sign(ret), nil
}

// NaturalCompare orders two non null values of compatible kinds.
// Numeric kinds compare with each other by value.
func NaturalCompare(a, b Value) (int, error) {
	if a.Kind == KindUnknown {
		return 0, &NotComparableError{Value: a}
	}
	if b.Kind == KindUnknown {
		return 0, &NotComparableError{Value: b}
	}
	if a.IsNumeric() && b.IsNumeric() {
		return compareNumeric(a, b)
	}
	if a.Kind != b.Kind {
		if isText(a) && isText(b) {
			return sign(bytes.Compare(textBytes(a), textBytes(b))), nil
		}
		return 0, &NotComparableError{Value: b, Other: a}
	}
	switch a.Kind {
	case KindBool:
		switch {
		case a.Bool == b.Bool:
			return 0, nil
		case !a.Bool:
			return -1, nil
		default:
			return 1, nil
		}
	case KindString:
		return sign(strings.Compare(a.Str, b.Str)), nil
	case KindBytes:
		return sign(bytes.Compare(a.Bytes, b.Bytes)), nil
	case KindTime:
		return a.Time.Compare(b.Time), nil
	default:
		panic("usp")
	}
}

func compareNumeric(a, b Value) (int, error) {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		switch {
		case a.I64 < b.I64:
			return -1, nil
		case a.I64 > b.I64:
			return 1, nil
		}
		return 0, nil
	case a.Kind == KindFloat || b.Kind == KindFloat:
		af, err := a.ToFloat()
		if err != nil {
			return 0, err
		}
		bf, err := b.ToFloat()
		if err != nil {
			return 0, err
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	default:
		ad, err := a.ToDecimal()
		if err != nil {
			return 0, err
		}
		bd, err := b.ToDecimal()
		if err != nil {
			return 0, err
		}
		return ad.Cmp(bd), nil
	}
}

func isText(v Value) bool {
	return v.Kind == KindString || v.Kind == KindBytes
}

func textBytes(v Value) []byte {
	if v.Kind == KindString {
		return []byte(v.Str)
	}
	return v.Bytes
}

func sign(i int) int {
	switch {
	case i < 0:
		return -1
	case i > 0:
		return 1
	}
	return 0
}
